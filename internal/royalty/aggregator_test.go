package royalty

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aircheck-labs/aircheck-cli/internal/ledger"
	"github.com/aircheck-labs/aircheck-cli/internal/model"
	"github.com/aircheck-labs/aircheck-cli/internal/notify"
)

type settleCall struct {
	token   string
	play    model.PlayLog
	royalty decimal.Decimal
}

type groupAction struct {
	trackID, stationID, reason string
}

// fakeAggStore is an in-memory aggregation store. Settled and consumed
// groups are removed from the claimable set, matching the real store's
// processed flag.
type fakeAggStore struct {
	groups []model.MatchGroup

	settleErr error

	settles  []settleCall
	consumes []groupAction
	releases []groupAction
	failures []model.FailedPlayLog
}

func (f *fakeAggStore) ClaimMatches(_ context.Context, _ string) ([]model.MatchGroup, error) {
	out := f.groups
	f.groups = nil
	return out, nil
}

func (f *fakeAggStore) ReleaseGroup(_ context.Context, _, trackID, stationID, reason string) error {
	f.releases = append(f.releases, groupAction{trackID, stationID, reason})
	return nil
}

func (f *fakeAggStore) ConsumeGroup(_ context.Context, _, trackID, stationID, reason string) error {
	f.consumes = append(f.consumes, groupAction{trackID, stationID, reason})
	return nil
}

func (f *fakeAggStore) SettleGroup(_ context.Context, token string, play model.PlayLog, royalty decimal.Decimal, _, _ string) (*model.PlayLog, error) {
	if f.settleErr != nil {
		return nil, f.settleErr
	}
	f.settles = append(f.settles, settleCall{token, play, royalty})
	play.ID = "pl-" + play.TrackID
	play.Royalty = royalty.StringFixed(2)
	return &play, nil
}

func (f *fakeAggStore) CreateFailedPlayLog(_ context.Context, fl model.FailedPlayLog) error {
	f.failures = append(f.failures, fl)
	return nil
}

func (f *fakeAggStore) GetTrack(_ context.Context, id string) (*model.Track, error) {
	return &model.Track{ID: id, Title: "Title of " + id, RightsHolderAcctID: "acct-rh-" + id}, nil
}

func (f *fakeAggStore) GetStation(_ context.Context, id string) (*model.Station, error) {
	return &model.Station{ID: id, LedgerAcctID: "acct-st-" + id}, nil
}

type recordingNotifier struct {
	events     []notify.PlaySettledEvent
	failEvents []notify.SettlementFailedEvent
}

func (r *recordingNotifier) PlaySettled(_ context.Context, ev notify.PlaySettledEvent) {
	r.events = append(r.events, ev)
}

func (r *recordingNotifier) SettlementFailed(_ context.Context, ev notify.SettlementFailedEvent) {
	r.failEvents = append(r.failEvents, ev)
}

func groupOf(trackID, stationID string, confidences []float64, spanSecs int64) model.MatchGroup {
	base := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	g := model.MatchGroup{TrackID: trackID, StationID: stationID}
	n := len(confidences)
	for i, conf := range confidences {
		at := base
		if n > 1 {
			at = base.Add(time.Duration(int64(i) * spanSecs / int64(n-1) * int64(time.Second)))
		}
		g.Matches = append(g.Matches, model.RawMatch{
			ID: trackID + "-m", TrackID: trackID, StationID: stationID,
			MatchedAt: at, Confidence: conf,
		})
	}
	return g
}

func mustRate(t *testing.T) Rate {
	t.Helper()
	r, err := ParseRate("0.005", RoundBank)
	require.NoError(t, err)
	return r
}

func TestRun_SettlesValidGroup(t *testing.T) {
	fs := &fakeAggStore{groups: []model.MatchGroup{
		groupOf("track-a", "station-1", []float64{80, 90, 94, 88}, 35),
	}}
	rec := &recordingNotifier{}
	agg := New(fs, mustRate(t), Config{MinMatches: 3, MinPlaySeconds: 30}, rec)

	summary, err := agg.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Groups)
	assert.Equal(t, 1, summary.Settled)
	assert.Equal(t, "0.18", summary.TotalRoyalty.StringFixed(2))

	require.Len(t, fs.settles, 1)
	call := fs.settles[0]
	assert.Equal(t, "0.18", call.royalty.StringFixed(2))
	assert.Equal(t, int64(35), call.play.DurationSecs)
	assert.InDelta(t, 88.0, call.play.AvgConfidence, 0.01)

	require.Len(t, rec.events, 1)
	assert.Equal(t, "0.18", rec.events[0].Royalty)
	assert.Empty(t, rec.failEvents)
	assert.Empty(t, fs.failures)
}

func TestRun_InsufficientEvidenceConsumed(t *testing.T) {
	fs := &fakeAggStore{groups: []model.MatchGroup{
		groupOf("track-a", "station-1", []float64{80, 90}, 10),
	}}
	agg := New(fs, mustRate(t), Config{MinMatches: 3, MinPlaySeconds: 30}, nil)

	summary, err := agg.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Consumed)
	assert.Zero(t, summary.Settled)
	assert.Empty(t, fs.settles)

	require.Len(t, fs.consumes, 1)
	assert.Equal(t, "insufficient evidence", fs.consumes[0].reason)

	require.Len(t, fs.failures, 1)
	assert.False(t, fs.failures[0].WillRetry)
}

func TestRun_ShortSpanConsumedDespiteEnoughMatches(t *testing.T) {
	fs := &fakeAggStore{groups: []model.MatchGroup{
		groupOf("track-a", "station-1", []float64{80, 85, 90, 95}, 10),
	}}
	agg := New(fs, mustRate(t), Config{MinMatches: 3, MinPlaySeconds: 30}, nil)

	summary, err := agg.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Consumed)
	assert.Empty(t, fs.settles)
}

func TestRun_InsufficientFundsReleasedForRetry(t *testing.T) {
	fs := &fakeAggStore{
		groups: []model.MatchGroup{
			groupOf("track-a", "station-1", []float64{80, 90, 94, 88}, 35),
		},
		settleErr: ledger.ErrInsufficientFunds,
	}
	rec := &recordingNotifier{}
	agg := New(fs, mustRate(t), Config{MinMatches: 3, MinPlaySeconds: 30}, rec)

	summary, err := agg.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, summary.Settled)
	assert.Equal(t, 1, summary.Released)
	assert.Empty(t, fs.consumes, "retryable failures must not consume the group")

	require.Len(t, fs.failures, 1)
	assert.True(t, fs.failures[0].WillRetry)

	assert.Empty(t, rec.events)
	require.Len(t, rec.failEvents, 1, "station operator is told about the held-up royalty")
	ev := rec.failEvents[0]
	assert.Equal(t, "track-a", ev.TrackID)
	assert.Equal(t, "Title of track-a", ev.TrackTitle)
	assert.Equal(t, "station-1", ev.StationID)
	assert.Contains(t, ev.Reason, "insufficient funds")
	assert.True(t, ev.WillRetry)
}

func TestRun_MissingAccountConsumedPermanently(t *testing.T) {
	fs := &fakeAggStore{
		groups: []model.MatchGroup{
			groupOf("track-a", "station-1", []float64{80, 90, 94, 88}, 35),
		},
		settleErr: ledger.ErrAccountMissing,
	}
	rec := &recordingNotifier{}
	agg := New(fs, mustRate(t), Config{MinMatches: 3, MinPlaySeconds: 30}, rec)

	summary, err := agg.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, summary.Settled)
	assert.Equal(t, 1, summary.Consumed)
	assert.Empty(t, fs.releases)

	require.Len(t, fs.failures, 1)
	assert.False(t, fs.failures[0].WillRetry)

	require.Len(t, rec.failEvents, 1)
	assert.False(t, rec.failEvents[0].WillRetry)
}

func TestRun_SecondPassFindsNothing(t *testing.T) {
	fs := &fakeAggStore{groups: []model.MatchGroup{
		groupOf("track-a", "station-1", []float64{80, 90, 94, 88}, 35),
	}}
	agg := New(fs, mustRate(t), Config{MinMatches: 3, MinPlaySeconds: 30}, nil)

	first, err := agg.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, first.Settled)

	second, err := agg.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Groups)
	assert.Zero(t, second.Settled)
	assert.Len(t, fs.settles, 1, "a settled group is never settled again")
}

func TestDryRun_EvaluatesWithoutSettling(t *testing.T) {
	fs := &fakeAggStore{groups: []model.MatchGroup{
		groupOf("track-a", "station-1", []float64{80, 90, 94, 88}, 35),
		groupOf("track-b", "station-1", []float64{70, 75}, 10),
	}}
	agg := New(fs, mustRate(t), Config{MinMatches: 3, MinPlaySeconds: 30}, nil)

	summary, err := agg.DryRun(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Groups)
	assert.Equal(t, 1, summary.Settled)
	assert.Equal(t, "0.18", summary.TotalRoyalty.StringFixed(2))

	assert.Empty(t, fs.settles, "dry run must not settle")
	assert.Empty(t, fs.consumes, "dry run must not consume")
	assert.Empty(t, fs.failures)
	assert.Len(t, fs.releases, 2, "dry run releases every claimed group")
	for _, rel := range fs.releases {
		assert.Equal(t, "dry run", rel.reason)
	}
}
