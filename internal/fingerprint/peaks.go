package fingerprint

import "sort"

// Peak is a spectral local maximum at (Bin, Frame).
type Peak struct {
	Frame int     // STFT frame index (time)
	Bin   int     // frequency bin index
	MagDB float64 // magnitude in dB relative to the buffer peak
}

// ExtractPeaks finds cells that exceed the amplitude threshold and are the
// strict maximum within a square neighborhood of NeighborhoodSize cells
// per side. Peaks are returned in (frame, bin) order.
func ExtractPeaks(spec [][]float64, cfg Config) []Peak {
	cfg = cfg.withDefaults()

	if len(spec) == 0 || len(spec[0]) == 0 {
		return nil
	}

	threshold := cfg.FloorDB
	if cfg.ThresholdMode == ThresholdAdaptive {
		threshold = percentile(spec, cfg.Percentile)
	}

	nFrames := len(spec)
	nBins := len(spec[0])
	radius := cfg.NeighborhoodSize / 2
	if radius < 1 {
		radius = 1
	}

	var peaks []Peak
	for t := 0; t < nFrames; t++ {
		for b := 0; b < nBins; b++ {
			v := spec[t][b]
			if v < threshold {
				continue
			}
			if isStrictMax(spec, t, b, radius) {
				peaks = append(peaks, Peak{Frame: t, Bin: b, MagDB: v})
			}
		}
	}

	sort.Slice(peaks, func(i, j int) bool {
		if peaks[i].Frame == peaks[j].Frame {
			return peaks[i].Bin < peaks[j].Bin
		}
		return peaks[i].Frame < peaks[j].Frame
	})

	return peaks
}

// isStrictMax reports whether spec[t][b] strictly exceeds every other cell
// within Chebyshev distance radius. Ties lose, so a plateau of equal
// values produces no peak, which keeps silence and constant tones from
// flooding the index.
func isStrictMax(spec [][]float64, t, b, radius int) bool {
	v := spec[t][b]
	for dt := -radius; dt <= radius; dt++ {
		ti := t + dt
		if ti < 0 || ti >= len(spec) {
			continue
		}
		for db := -radius; db <= radius; db++ {
			bi := b + db
			if bi < 0 || bi >= len(spec[ti]) {
				continue
			}
			if dt == 0 && db == 0 {
				continue
			}
			if spec[ti][bi] >= v {
				return false
			}
		}
	}
	return true
}

// percentile returns the p-th percentile of all spectrogram values using
// nearest-rank on the sorted distribution.
func percentile(spec [][]float64, p float64) float64 {
	n := 0
	for _, row := range spec {
		n += len(row)
	}
	values := make([]float64, 0, n)
	for _, row := range spec {
		values = append(values, row...)
	}
	sort.Float64s(values)

	idx := int(p / 100 * float64(len(values)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}
