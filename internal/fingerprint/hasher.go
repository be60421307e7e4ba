package fingerprint

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// pair couples an anchor peak with one of its fan-out targets.
type pair struct {
	anchor Peak
	target Peak
}

// fanOutPairs pairs each anchor peak with up to FanValue subsequent peaks
// whose frame delta lies within [MinDelta, MaxDelta]. Peaks must already
// be sorted by frame. The delta bound rejects pairs too far apart to be
// acoustically related and caps the combinatorial blow-up; the fan-out
// gives ~FanValue fingerprints per peak, so losing a few peaks to noise
// still leaves many matching hashes.
func fanOutPairs(peaks []Peak, cfg Config) []pair {
	cfg = cfg.withDefaults()

	var pairs []pair
	for i := range peaks {
		taken := 0
		for j := i + 1; j < len(peaks) && taken < cfg.FanValue; j++ {
			delta := peaks[j].Frame - peaks[i].Frame
			if delta > cfg.MaxDelta {
				break // peaks are frame-sorted, later ones only get farther
			}
			taken++
			if delta < cfg.MinDelta {
				continue
			}
			pairs = append(pairs, pair{anchor: peaks[i], target: peaks[j]})
		}
	}
	return pairs
}

// hashPair hashes the (anchorBin, targetBin, frameDelta) triple with
// xxhash. Non-cryptographic but collision-resistant enough: false
// collisions scatter across alignment deltas and are outvoted by the true
// alignment during matching.
func hashPair(p pair) uint64 {
	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.anchor.Bin))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p.target.Bin))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(p.target.Frame-p.anchor.Frame))
	return xxhash.Sum64(buf[:])
}
