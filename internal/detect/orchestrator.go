package detect

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aircheck-labs/aircheck-cli/internal/fingerprint"
	"github.com/aircheck-labs/aircheck-cli/internal/match"
	"github.com/aircheck-labs/aircheck-cli/internal/model"
	"github.com/aircheck-labs/aircheck-cli/internal/resilience"
)

// Store is the persistence surface the orchestrator needs.
type Store interface {
	TrackFinder
	CreateDetection(ctx context.Context, d model.AudioDetection) (*model.AudioDetection, error)
	UpdateDetection(ctx context.Context, d *model.AudioDetection) error
	CreateRawMatch(ctx context.Context, m model.RawMatch) (*model.RawMatch, error)
}

// Config tunes the detection orchestrator.
type Config struct {
	// LocalConfidenceThreshold is the confidence at which a local match
	// stands on its own without external confirmation.
	LocalConfidenceThreshold float64
	MaxRetries               int
	Workers                  int
}

// Orchestrator runs a snippet through local matching and, when the local
// answer is absent or weak, through the external recognition service.
type Orchestrator struct {
	store    Store
	gen      *fingerprint.Generator
	matcher  *match.Matcher
	external Client
	cfg      Config
}

// New creates an Orchestrator. external may be nil, in which case weak
// local matches are rejected instead of escalated.
func New(store Store, gen *fingerprint.Generator, matcher *match.Matcher, external Client, cfg Config) *Orchestrator {
	if cfg.LocalConfidenceThreshold <= 0 {
		cfg.LocalConfidenceThreshold = 70
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	return &Orchestrator{store: store, gen: gen, matcher: matcher, external: external, cfg: cfg}
}

// Process identifies one snippet end to end. It always records an
// AudioDetection row; the returned detection carries the terminal (or
// retry) status. A nil error with a failed status means the snippet was
// handled but not identified.
func (o *Orchestrator) Process(ctx context.Context, snippet model.Snippet) (*model.AudioDetection, error) {
	det, err := o.store.CreateDetection(ctx, model.AudioDetection{
		StationID:  snippet.StationID,
		Status:     model.StatusPending,
		SessionID:  snippet.SessionID,
		CapturedAt: snippet.CapturedAt,
	})
	if err != nil {
		return nil, err
	}

	if err := o.setStatus(ctx, det, model.StatusProcessing); err != nil {
		return nil, err
	}
	return o.attempt(ctx, det, snippet)
}

// Retry re-runs identification for a detection previously left in retry
// status.
func (o *Orchestrator) Retry(ctx context.Context, det *model.AudioDetection, snippet model.Snippet) (*model.AudioDetection, error) {
	if det.Status != model.StatusRetry {
		return nil, eris.Errorf("detect: cannot retry detection in status %s", det.Status)
	}
	if err := o.setStatus(ctx, det, model.StatusProcessing); err != nil {
		return nil, err
	}
	return o.attempt(ctx, det, snippet)
}

func (o *Orchestrator) attempt(ctx context.Context, det *model.AudioDetection, snippet model.Snippet) (*model.AudioDetection, error) {
	fps := o.gen.Generate(snippet.Samples, snippet.SampleRate)

	var local *match.Result
	if len(fps) > 0 {
		res, err := o.matcher.Match(ctx, fps)
		switch {
		case err == nil:
			local = res
		case errors.Is(err, match.ErrNoMatch):
			// keep going, the external service may still know it
		case errors.Is(err, match.ErrIndexUnavailable):
			zap.L().Warn("local index unavailable, deferring to external service",
				zap.String("detection_id", det.ID), zap.Error(err))
		default:
			return nil, err
		}
	}

	if local != nil && local.Confidence >= o.cfg.LocalConfidenceThreshold {
		return o.complete(ctx, det, snippet, local.TrackID, model.SourceLocal, local.Confidence, nil)
	}

	if o.external == nil {
		return o.fail(ctx, det, "no confident local match and no external service configured")
	}

	ext, err := o.external.Identify(ctx, snippet)
	switch {
	case err == nil:
		return o.completeExternal(ctx, det, snippet, local, ext)
	case errors.Is(err, ErrNoExternalMatch):
		if local != nil {
			// Weak local answer and the external catalog disagrees.
			return o.fail(ctx, det, "local match below threshold, external found nothing")
		}
		return o.fail(ctx, det, "no match")
	case resilience.IsTransient(err):
		return o.deferRetry(ctx, det, err)
	default:
		return o.fail(ctx, det, err.Error())
	}
}

func (o *Orchestrator) completeExternal(ctx context.Context, det *model.AudioDetection, snippet model.Snippet, local *match.Result, ext *ExternalResult) (*model.AudioDetection, error) {
	track, err := ResolveTrack(ctx, o.store, ext)
	if err != nil {
		return nil, err
	}

	det.ISRC = ext.ISRC
	det.ISWC = ext.ISWC
	det.ExternalPayload = ext.Raw

	if track == nil {
		// Recognized upstream but absent from the catalog. Record the
		// identification without a raw match; nothing can be settled.
		return o.complete(ctx, det, snippet, "", model.SourceExternal, ext.Confidence, ext)
	}

	// A weak local vote that agrees with the external answer is the
	// strongest signal we have.
	if local != nil && local.TrackID == track.ID {
		conf := local.Confidence
		if ext.Confidence > conf {
			conf = ext.Confidence
		}
		return o.complete(ctx, det, snippet, track.ID, model.SourceHybrid, conf, ext)
	}
	return o.complete(ctx, det, snippet, track.ID, model.SourceExternal, ext.Confidence, ext)
}

func (o *Orchestrator) complete(ctx context.Context, det *model.AudioDetection, snippet model.Snippet, trackID string, source model.DetectionSource, confidence float64, ext *ExternalResult) (*model.AudioDetection, error) {
	det.TrackID = trackID
	det.Source = source
	det.Confidence = confidence

	if err := o.setStatus(ctx, det, model.StatusCompleted); err != nil {
		return nil, err
	}

	if trackID != "" {
		if _, err := o.store.CreateRawMatch(ctx, model.RawMatch{
			TrackID:    trackID,
			StationID:  snippet.StationID,
			MatchedAt:  snippet.CapturedAt,
			Confidence: confidence,
		}); err != nil {
			return nil, err
		}
	}

	zap.L().Info("snippet identified",
		zap.String("detection_id", det.ID),
		zap.String("track_id", trackID),
		zap.String("source", string(source)),
		zap.Float64("confidence", confidence),
	)
	return det, nil
}

func (o *Orchestrator) fail(ctx context.Context, det *model.AudioDetection, reason string) (*model.AudioDetection, error) {
	det.FailureReason = reason
	if err := o.setStatus(ctx, det, model.StatusFailed); err != nil {
		return nil, err
	}
	zap.L().Info("snippet not identified",
		zap.String("detection_id", det.ID),
		zap.String("reason", reason),
	)
	return det, nil
}

// deferRetry parks the detection for a later pass, or fails it when the
// retry budget is spent.
func (o *Orchestrator) deferRetry(ctx context.Context, det *model.AudioDetection, cause error) (*model.AudioDetection, error) {
	det.RetryCount++
	if det.RetryCount >= o.cfg.MaxRetries {
		return o.fail(ctx, det, "retries exhausted: "+cause.Error())
	}

	det.FailureReason = cause.Error()
	if err := o.setStatus(ctx, det, model.StatusRetry); err != nil {
		return nil, err
	}
	zap.L().Warn("external identification deferred",
		zap.String("detection_id", det.ID),
		zap.Int("retry_count", det.RetryCount),
		zap.Error(cause),
	)
	return det, nil
}

func (o *Orchestrator) setStatus(ctx context.Context, det *model.AudioDetection, next model.DetectionStatus) error {
	status, err := det.Status.Transition(next)
	if err != nil {
		return err
	}
	det.Status = status
	return o.store.UpdateDetection(ctx, det)
}

// ProcessBatch identifies snippets concurrently with a bounded worker
// pool. Failure of one snippet does not abort the rest; the first
// infrastructure error is returned after all workers finish.
func (o *Orchestrator) ProcessBatch(ctx context.Context, snippets []model.Snippet) ([]*model.AudioDetection, error) {
	results := make([]*model.AudioDetection, len(snippets))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	for i, snippet := range snippets {
		g.Go(func() error {
			det, err := o.Process(ctx, snippet)
			if err != nil {
				zap.L().Error("snippet processing failed",
					zap.String("station_id", snippet.StationID),
					zap.String("session_id", snippet.SessionID),
					zap.Error(err),
				)
				return err
			}
			results[i] = det
			return nil
		})
	}
	err := g.Wait()
	return results, err
}
