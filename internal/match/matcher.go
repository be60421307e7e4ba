package match

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/aircheck-labs/aircheck-cli/internal/model"
)

// ErrNoMatch means the query aligned with no reference track above the
// vote floor. It is a valid outcome, not a failure: the orchestrator
// routes it to the external fallback.
var ErrNoMatch = eris.New("match: no match")

// ErrIndexUnavailable means the reference index could not be consulted at
// all. Distinguished from ErrNoMatch so callers fall back instead of
// concluding the track is unknown.
var ErrIndexUnavailable = eris.New("match: index unavailable")

// Config holds the matcher's scoring parameters.
type Config struct {
	// MinVotes is the aligned-vote floor below which a candidate is
	// rejected outright.
	MinVotes int
}

// Result is a successful local identification.
type Result struct {
	TrackID    string
	Confidence float64 // 0-100
	Delta      int32   // winning alignment offset (reference - query frames)
	Votes      int
}

// Matcher scores query fingerprints against an Index.
type Matcher struct {
	index    Index
	minVotes int
}

// New returns a Matcher over index.
func New(index Index, cfg Config) *Matcher {
	minVotes := cfg.MinVotes
	if minVotes <= 0 {
		minVotes = 5
	}
	return &Matcher{index: index, minVotes: minVotes}
}

// Match returns the best-aligned reference track for the query.
//
// Every query hash hit votes for (track, delta) where delta is the
// reference offset minus the query offset. A genuine match concentrates
// votes on a single delta because the real alignment recurs across many
// fan-out pairs, while false hash collisions scatter. The best bin must
// clear the vote floor; below it the result is ErrNoMatch rather than a
// low-confidence guess.
func (m *Matcher) Match(ctx context.Context, query []model.Fingerprint) (*Result, error) {
	if len(query) == 0 {
		return nil, ErrNoMatch
	}

	hashes := make([]uint64, len(query))
	for i, fp := range query {
		hashes[i] = fp.Hash
	}

	hits, err := m.index.Lookup(ctx, hashes)
	if err != nil {
		return nil, eris.Wrap(ErrIndexUnavailable, err.Error())
	}

	// votes[trackID][delta] = aligned pair count
	votes := map[string]map[int32]int{}
	for _, fp := range query {
		for _, post := range hits[fp.Hash] {
			delta := post.Offset - fp.TimeOffset
			byDelta := votes[post.TrackID]
			if byDelta == nil {
				byDelta = map[int32]int{}
				votes[post.TrackID] = byDelta
			}
			byDelta[delta]++
		}
	}

	var top []candidate
	best := 0
	for trackID, byDelta := range votes {
		for delta, n := range byDelta {
			switch {
			case n > best:
				best = n
				top = top[:0]
				top = append(top, candidate{trackID, delta, n})
			case n == best:
				top = append(top, candidate{trackID, delta, n})
			}
		}
	}

	if best < m.minVotes || len(top) == 0 {
		return nil, ErrNoMatch
	}

	winner := top[0]
	if len(top) > 1 {
		// Map iteration order must never pick the winner: order the tie
		// set so a residual cardinality tie resolves the same way every
		// run.
		sort.Slice(top, func(i, j int) bool {
			if top[i].trackID != top[j].trackID {
				return top[i].trackID < top[j].trackID
			}
			return top[i].delta < top[j].delta
		})
		winner, err = m.breakTie(ctx, top, len(query))
		if err != nil {
			return nil, err
		}
	}

	confidence := float64(winner.votes) / float64(len(query)) * 100
	if confidence > 100 {
		confidence = 100
	}

	return &Result{
		TrackID:    winner.trackID,
		Confidence: confidence,
		Delta:      winner.delta,
		Votes:      winner.votes,
	}, nil
}

type candidate struct {
	trackID string
	delta   int32
	votes   int
}

// breakTie prefers the track whose reference fingerprint cardinality is
// closest to the query's size: over-represented catalog entries rack up
// spurious collisions, so the closer cardinality is the likelier genuine
// match.
func (m *Matcher) breakTie(ctx context.Context, top []candidate, querySize int) (candidate, error) {
	ids := make([]string, 0, len(top))
	for _, c := range top {
		ids = append(ids, c.trackID)
	}
	sizes, err := m.index.TrackSizes(ctx, ids)
	if err != nil {
		return top[0], eris.Wrap(ErrIndexUnavailable, err.Error())
	}

	winner := top[0]
	bestGap := gap(sizes[winner.trackID], querySize)
	for _, c := range top[1:] {
		if g := gap(sizes[c.trackID], querySize); g < bestGap {
			winner = c
			bestGap = g
		}
	}
	return winner, nil
}

func gap(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
