// Package match scores query fingerprints against the reference catalog
// index using offset-alignment voting.
package match

import (
	"context"
	"sync/atomic"

	"github.com/aircheck-labs/aircheck-cli/internal/model"
)

// Posting is one reference occurrence of a fingerprint hash.
type Posting struct {
	TrackID string
	Offset  int32 // anchor frame offset within the reference track
}

// Index resolves query hashes to reference postings. Implementations must
// support concurrent readers; the reference set changes only when a
// track's audio is re-fingerprinted.
type Index interface {
	// Lookup returns the postings for each hash that has any. A lookup
	// failure (storage unavailable) must be returned as an error, never
	// as an empty result, so callers can distinguish it from no-match.
	Lookup(ctx context.Context, hashes []uint64) (map[uint64][]Posting, error)

	// TrackSizes returns the total reference fingerprint count for each
	// requested track. Used for tie-breaking between equal-vote
	// candidates.
	TrackSizes(ctx context.Context, trackIDs []string) (map[string]int, error)
}

// indexSnapshot is one immutable generation of the in-memory index.
type indexSnapshot struct {
	postings map[uint64][]Posting
	sizes    map[string]int
}

// MemoryIndex is an in-memory Index. Reads take no locks: the whole index
// is an atomically-swapped immutable snapshot, rebuilt copy-on-write when
// a track's fingerprints are replaced.
type MemoryIndex struct {
	current atomic.Pointer[indexSnapshot]
}

// NewMemoryIndex returns an empty index.
func NewMemoryIndex() *MemoryIndex {
	ix := &MemoryIndex{}
	ix.current.Store(&indexSnapshot{
		postings: map[uint64][]Posting{},
		sizes:    map[string]int{},
	})
	return ix
}

// ReplaceAll swaps in a snapshot built from the full reference set.
func (ix *MemoryIndex) ReplaceAll(fps []model.Fingerprint) {
	snap := &indexSnapshot{
		postings: make(map[uint64][]Posting, len(fps)),
		sizes:    map[string]int{},
	}
	addAll(snap, fps)
	ix.current.Store(snap)
}

// ReplaceTrack rebuilds the index with trackID's postings replaced by fps.
// Passing an empty fps removes the track. Concurrent readers keep the old
// snapshot until the swap; there is never a partial catalog visible.
func (ix *MemoryIndex) ReplaceTrack(trackID string, fps []model.Fingerprint) {
	old := ix.current.Load()
	snap := &indexSnapshot{
		postings: make(map[uint64][]Posting, len(old.postings)),
		sizes:    make(map[string]int, len(old.sizes)),
	}
	for hash, posts := range old.postings {
		kept := make([]Posting, 0, len(posts))
		for _, p := range posts {
			if p.TrackID != trackID {
				kept = append(kept, p)
			}
		}
		if len(kept) > 0 {
			snap.postings[hash] = kept
		}
	}
	for id, n := range old.sizes {
		if id != trackID {
			snap.sizes[id] = n
		}
	}
	addAll(snap, fps)
	ix.current.Store(snap)
}

func addAll(snap *indexSnapshot, fps []model.Fingerprint) {
	for _, fp := range fps {
		snap.postings[fp.Hash] = append(snap.postings[fp.Hash], Posting{
			TrackID: fp.TrackID,
			Offset:  fp.TimeOffset,
		})
		snap.sizes[fp.TrackID]++
	}
}

// Lookup implements Index.
func (ix *MemoryIndex) Lookup(_ context.Context, hashes []uint64) (map[uint64][]Posting, error) {
	snap := ix.current.Load()
	out := make(map[uint64][]Posting)
	for _, h := range hashes {
		if posts, ok := snap.postings[h]; ok {
			out[h] = posts
		}
	}
	return out, nil
}

// TrackSizes implements Index.
func (ix *MemoryIndex) TrackSizes(_ context.Context, trackIDs []string) (map[string]int, error) {
	snap := ix.current.Load()
	out := make(map[string]int, len(trackIDs))
	for _, id := range trackIDs {
		out[id] = snap.sizes[id]
	}
	return out, nil
}
