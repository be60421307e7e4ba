package royalty

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aircheck-labs/aircheck-cli/internal/ledger"
	"github.com/aircheck-labs/aircheck-cli/internal/model"
	"github.com/aircheck-labs/aircheck-cli/internal/notify"
)

// Store is the persistence surface the aggregator needs.
type Store interface {
	ClaimMatches(ctx context.Context, token string) ([]model.MatchGroup, error)
	ReleaseGroup(ctx context.Context, token, trackID, stationID, reason string) error
	ConsumeGroup(ctx context.Context, token, trackID, stationID, reason string) error
	SettleGroup(ctx context.Context, token string, play model.PlayLog, royalty decimal.Decimal, stationAcct, rightsAcct string) (*model.PlayLog, error)
	CreateFailedPlayLog(ctx context.Context, f model.FailedPlayLog) error
	GetTrack(ctx context.Context, id string) (*model.Track, error)
	GetStation(ctx context.Context, id string) (*model.Station, error)
}

// Config tunes group validation.
type Config struct {
	// MinMatches is the fewest raw matches a group needs to count as a
	// real play.
	MinMatches int
	// MinPlaySeconds is the shortest span a group may cover.
	MinPlaySeconds int64
}

// Summary reports one aggregation pass.
type Summary struct {
	Groups       int
	Settled      int
	Consumed     int
	Released     int
	TotalRoyalty decimal.Decimal
}

// Aggregator claims raw matches and settles them into play logs.
type Aggregator struct {
	store    Store
	rate     Rate
	cfg      Config
	notifier notify.Notifier
}

// New creates an Aggregator. notifier may be nil.
func New(store Store, rate Rate, cfg Config, notifier notify.Notifier) *Aggregator {
	if cfg.MinMatches <= 0 {
		cfg.MinMatches = 3
	}
	if cfg.MinPlaySeconds <= 0 {
		cfg.MinPlaySeconds = 30
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Aggregator{store: store, rate: rate, cfg: cfg, notifier: notifier}
}

// Run executes one aggregation pass: claim every eligible group, settle
// the valid ones, consume the noise, release the retryable failures. A
// group-level failure never aborts the pass.
func (a *Aggregator) Run(ctx context.Context) (*Summary, error) {
	return a.run(ctx, false)
}

// DryRun evaluates every claimable group without settling. Claims are
// taken so the evaluation sees a stable set, then every group is released
// untouched.
func (a *Aggregator) DryRun(ctx context.Context) (*Summary, error) {
	return a.run(ctx, true)
}

func (a *Aggregator) run(ctx context.Context, dry bool) (*Summary, error) {
	token := uuid.New().String()

	groups, err := a.store.ClaimMatches(ctx, token)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Groups: len(groups), TotalRoyalty: decimal.Zero}
	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return summary, eris.Wrap(err, "royalty: aggregation interrupted")
		}
		a.handleGroup(ctx, token, group, dry, summary)
	}

	zap.L().Info("aggregation pass finished",
		zap.Bool("dry_run", dry),
		zap.Int("groups", summary.Groups),
		zap.Int("settled", summary.Settled),
		zap.Int("consumed", summary.Consumed),
		zap.Int("released", summary.Released),
		zap.String("total_royalty", summary.TotalRoyalty.StringFixed(2)),
	)
	return summary, nil
}

func (a *Aggregator) handleGroup(ctx context.Context, token string, group model.MatchGroup, dry bool, summary *Summary) {
	log := zap.L().With(
		zap.String("track_id", group.TrackID),
		zap.String("station_id", group.StationID),
		zap.Int("matches", len(group.Matches)),
	)

	start, stop := group.Span()
	duration := int64(stop.Sub(start).Seconds())

	if len(group.Matches) < a.cfg.MinMatches || duration < a.cfg.MinPlaySeconds {
		if dry {
			a.release(ctx, token, group, "dry run", summary)
			log.Info("dry run: group would be consumed as insufficient evidence")
			return
		}
		a.consume(ctx, token, group, "insufficient evidence", summary)
		a.recordFailure(ctx, group, "insufficient evidence", false)
		return
	}

	amount := a.rate.Amount(duration)

	if dry {
		summary.Settled++
		summary.TotalRoyalty = summary.TotalRoyalty.Add(amount)
		if err := a.store.ReleaseGroup(ctx, token, group.TrackID, group.StationID, "dry run"); err != nil {
			zap.L().Error("release group failed", zap.String("track_id", group.TrackID), zap.Error(err))
		}
		log.Info("dry run: group would settle",
			zap.Int64("duration_secs", duration),
			zap.String("royalty", amount.StringFixed(2)),
		)
		return
	}

	track, err := a.store.GetTrack(ctx, group.TrackID)
	if err != nil {
		a.releaseFailed(ctx, token, group, "track lookup failed: "+err.Error(), true, summary)
		return
	}
	station, err := a.store.GetStation(ctx, group.StationID)
	if err != nil {
		a.releaseFailed(ctx, token, group, "station lookup failed: "+err.Error(), true, summary)
		return
	}

	play := model.PlayLog{
		TrackID:       group.TrackID,
		StationID:     group.StationID,
		Source:        model.PlaySourceRadio,
		StartTime:     start,
		StopTime:      stop,
		DurationSecs:  duration,
		AvgConfidence: group.AvgConfidence(),
	}

	settled, err := a.store.SettleGroup(ctx, token, play, amount, station.LedgerAcctID, track.RightsHolderAcctID)
	if err != nil {
		retry := ledger.Retryable(err)
		if retry {
			a.releaseFailed(ctx, token, group, err.Error(), true, summary)
		} else {
			a.consume(ctx, token, group, err.Error(), summary)
			a.recordFailure(ctx, group, err.Error(), false)
		}
		log.Warn("settlement failed", zap.Bool("will_retry", retry), zap.Error(err))
		a.notifier.SettlementFailed(ctx, notify.SettlementFailedEvent{
			TrackID:    group.TrackID,
			TrackTitle: track.Title,
			StationID:  group.StationID,
			Reason:     err.Error(),
			WillRetry:  retry,
		})
		return
	}

	summary.Settled++
	summary.TotalRoyalty = summary.TotalRoyalty.Add(amount)
	log.Info("group settled",
		zap.String("play_log_id", settled.ID),
		zap.Int64("duration_secs", duration),
		zap.String("royalty", amount.StringFixed(2)),
	)

	a.notifier.PlaySettled(ctx, notify.PlaySettledEvent{
		PlayLogID:    settled.ID,
		TrackID:      settled.TrackID,
		StationID:    settled.StationID,
		Royalty:      amount.StringFixed(2),
		DurationSecs: duration,
	})
}

func (a *Aggregator) consume(ctx context.Context, token string, group model.MatchGroup, reason string, summary *Summary) {
	if err := a.store.ConsumeGroup(ctx, token, group.TrackID, group.StationID, reason); err != nil {
		zap.L().Error("consume group failed", zap.String("track_id", group.TrackID), zap.Error(err))
		return
	}
	summary.Consumed++
}

func (a *Aggregator) release(ctx context.Context, token string, group model.MatchGroup, reason string, summary *Summary) {
	if err := a.store.ReleaseGroup(ctx, token, group.TrackID, group.StationID, reason); err != nil {
		zap.L().Error("release group failed", zap.String("track_id", group.TrackID), zap.Error(err))
		return
	}
	summary.Released++
}

func (a *Aggregator) releaseFailed(ctx context.Context, token string, group model.MatchGroup, reason string, willRetry bool, summary *Summary) {
	a.release(ctx, token, group, reason, summary)
	a.recordFailure(ctx, group, reason, willRetry)
}

func (a *Aggregator) recordFailure(ctx context.Context, group model.MatchGroup, reason string, willRetry bool) {
	err := a.store.CreateFailedPlayLog(ctx, model.FailedPlayLog{
		TrackID:   group.TrackID,
		StationID: group.StationID,
		Reason:    reason,
		WillRetry: willRetry,
	})
	if err != nil {
		zap.L().Error("record failed play log", zap.String("track_id", group.TrackID), zap.Error(err))
	}
}
