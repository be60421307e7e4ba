package match

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aircheck-labs/aircheck-cli/internal/fingerprint"
	"github.com/aircheck-labs/aircheck-cli/internal/model"
)

func matchTestGenerator() (*fingerprint.Generator, fingerprint.Config) {
	cfg := fingerprint.DefaultConfig()
	cfg.WindowSize = 512
	return fingerprint.NewGenerator(cfg), cfg
}

// synthAudio builds a deterministic tonal signal for the given seed.
func synthAudio(seed int64, sampleRate int, seconds float64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	freqs := make([]float64, 6)
	for i := range freqs {
		freqs[i] = 200 + rng.Float64()*3000
	}

	n := int(seconds * float64(sampleRate))
	segLen := n / len(freqs)
	out := make([]float64, 0, n)
	for _, f := range freqs {
		for i := 0; i < segLen; i++ {
			env := 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(segLen-1))
			out = append(out, env*math.Sin(2*math.Pi*f*float64(i)/float64(sampleRate))+0.001*rng.Float64())
		}
	}
	return out
}

func tagTrack(fps []model.Fingerprint, trackID string) []model.Fingerprint {
	out := make([]model.Fingerprint, len(fps))
	for i, fp := range fps {
		fp.TrackID = trackID
		out[i] = fp
	}
	return out
}

func TestMatch_SubSegmentFindsReference(t *testing.T) {
	gen, cfg := matchTestGenerator()
	sampleRate := 8000

	reference := synthAudio(11, sampleRate, 6.0)
	ix := NewMemoryIndex()
	ix.ReplaceAll(tagTrack(gen.Generate(reference, sampleRate), "track-1"))

	// Slice at a hop-aligned offset so sub-segment frames line up with
	// reference frames exactly.
	hop := cfg.WindowSize / 2
	start := (2 * sampleRate / hop) * hop
	segment := reference[start : start+2*sampleRate]

	m := New(ix, Config{MinVotes: 5})
	res, err := m.Match(context.Background(), gen.Generate(segment, sampleRate))
	require.NoError(t, err)

	assert.Equal(t, "track-1", res.TrackID)
	assert.Greater(t, res.Votes, 5)
	assert.Greater(t, res.Confidence, 0.0)
}

func TestMatch_UnrelatedAudioNoMatch(t *testing.T) {
	gen, _ := matchTestGenerator()
	sampleRate := 8000

	reference := synthAudio(21, sampleRate, 4.0)
	ix := NewMemoryIndex()
	ix.ReplaceAll(tagTrack(gen.Generate(reference, sampleRate), "track-1"))

	m := New(ix, Config{MinVotes: 5})

	// Several unrelated signals; all should miss.
	for seed := int64(100); seed < 110; seed++ {
		query := gen.Generate(synthAudio(seed, sampleRate, 3.0), sampleRate)
		_, err := m.Match(context.Background(), query)
		assert.ErrorIs(t, err, ErrNoMatch, "seed %d unexpectedly matched", seed)
	}
}

func TestMatch_EmptyQuery(t *testing.T) {
	m := New(NewMemoryIndex(), Config{})
	_, err := m.Match(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoMatch)
}

type failingIndex struct{}

func (failingIndex) Lookup(context.Context, []uint64) (map[uint64][]Posting, error) {
	return nil, eris.New("storage down")
}

func (failingIndex) TrackSizes(context.Context, []string) (map[string]int, error) {
	return nil, eris.New("storage down")
}

func TestMatch_IndexFailureDistinguishable(t *testing.T) {
	m := New(failingIndex{}, Config{})
	_, err := m.Match(context.Background(), []model.Fingerprint{{Hash: 1}})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIndexUnavailable))
	assert.False(t, errors.Is(err, ErrNoMatch))
}

func TestMatch_TieBreakPrefersCloserCardinality(t *testing.T) {
	ix := NewMemoryIndex()

	// Two tracks both align perfectly with the query (same votes at a
	// single delta each). small has cardinality near the query's; big is
	// padded with unrelated postings.
	query := make([]model.Fingerprint, 10)
	var small, big []model.Fingerprint
	for i := range query {
		h := uint64(1000 + i)
		query[i] = model.Fingerprint{Hash: h, TimeOffset: int32(i)}
		small = append(small, model.Fingerprint{Hash: h, TrackID: "small", TimeOffset: int32(i + 7)})
		big = append(big, model.Fingerprint{Hash: h, TrackID: "big", TimeOffset: int32(i + 3)})
	}
	for i := 0; i < 500; i++ {
		big = append(big, model.Fingerprint{Hash: uint64(90000 + i), TrackID: "big", TimeOffset: int32(i)})
	}

	ix.ReplaceAll(append(small, big...))

	m := New(ix, Config{MinVotes: 5})
	res, err := m.Match(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, "small", res.TrackID)
	assert.Equal(t, 10, res.Votes)
}

func TestMatch_TieBreakDeterministicOnEqualCardinality(t *testing.T) {
	ix := NewMemoryIndex()

	// Three tracks align with the query identically: same votes, same
	// delta, same cardinality. The winner must not depend on map
	// iteration order.
	query := make([]model.Fingerprint, 10)
	var fps []model.Fingerprint
	for i := range query {
		h := uint64(2000 + i)
		query[i] = model.Fingerprint{Hash: h, TimeOffset: int32(i)}
		for _, id := range []string{"track-c", "track-b", "track-a"} {
			fps = append(fps, model.Fingerprint{Hash: h, TrackID: id, TimeOffset: int32(i + 4)})
		}
	}
	ix.ReplaceAll(fps)

	m := New(ix, Config{MinVotes: 5})
	for run := 0; run < 25; run++ {
		res, err := m.Match(context.Background(), query)
		require.NoError(t, err)
		assert.Equal(t, "track-a", res.TrackID, "run %d", run)
		assert.Equal(t, 10, res.Votes)
	}
}

func TestMemoryIndex_ReplaceTrack(t *testing.T) {
	ix := NewMemoryIndex()
	ix.ReplaceAll([]model.Fingerprint{
		{Hash: 1, TrackID: "a", TimeOffset: 0},
		{Hash: 2, TrackID: "a", TimeOffset: 1},
		{Hash: 1, TrackID: "b", TimeOffset: 5},
	})

	ix.ReplaceTrack("a", []model.Fingerprint{{Hash: 9, TrackID: "a", TimeOffset: 3}})

	hits, err := ix.Lookup(context.Background(), []uint64{1, 2, 9})
	require.NoError(t, err)

	assert.Len(t, hits[1], 1) // only b's posting survives
	assert.Equal(t, "b", hits[1][0].TrackID)
	assert.Empty(t, hits[2])
	assert.Len(t, hits[9], 1)

	sizes, err := ix.TrackSizes(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 1, sizes["a"])
	assert.Equal(t, 1, sizes["b"])
}
