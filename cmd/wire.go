package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/aircheck-labs/aircheck-cli/internal/config"
	"github.com/aircheck-labs/aircheck-cli/internal/detect"
	"github.com/aircheck-labs/aircheck-cli/internal/fingerprint"
	"github.com/aircheck-labs/aircheck-cli/internal/match"
	"github.com/aircheck-labs/aircheck-cli/internal/notify"
	"github.com/aircheck-labs/aircheck-cli/internal/royalty"
	"github.com/aircheck-labs/aircheck-cli/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	if cfg.Store.DatabaseURL == "" {
		return nil, eris.New("database URL is required (AIRCHECK_STORE_DATABASE_URL)")
	}
	return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
}

func fingerprintConfig(c config.FingerprintConfig) fingerprint.Config {
	fc := fingerprint.DefaultConfig()
	if c.WindowSize > 0 {
		fc.WindowSize = c.WindowSize
	}
	if c.OverlapRatio > 0 {
		fc.OverlapRatio = c.OverlapRatio
	}
	if c.NeighborhoodSize > 0 {
		fc.NeighborhoodSize = c.NeighborhoodSize
	}
	if c.ThresholdMode != "" {
		fc.ThresholdMode = fingerprint.ThresholdMode(c.ThresholdMode)
	}
	if c.FloorDB != 0 {
		fc.FloorDB = c.FloorDB
	}
	if c.Percentile > 0 {
		fc.Percentile = c.Percentile
	}
	if c.FanValue > 0 {
		fc.FanValue = c.FanValue
	}
	if c.MinDelta > 0 {
		fc.MinDelta = c.MinDelta
	}
	if c.MaxDelta > 0 {
		fc.MaxDelta = c.MaxDelta
	}
	return fc
}

// initIndex builds the fingerprint index the matcher queries. With an
// index cache path configured, the SQLite cache is rebuilt from the store
// and used; otherwise the full index is held in memory.
func initIndex(ctx context.Context, st store.Store) (match.Index, func() error, error) {
	fps, err := st.LoadAllFingerprints(ctx)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Store.IndexCachePath != "" {
		ix, err := match.NewSQLiteIndex(cfg.Store.IndexCachePath)
		if err != nil {
			return nil, nil, err
		}
		if err := ix.Rebuild(ctx, fps); err != nil {
			ix.Close()
			return nil, nil, err
		}
		zap.L().Info("sqlite index cache rebuilt",
			zap.String("path", cfg.Store.IndexCachePath),
			zap.Int("fingerprints", len(fps)),
		)
		return ix, ix.Close, nil
	}

	ix := match.NewMemoryIndex()
	ix.ReplaceAll(fps)
	zap.L().Info("in-memory index loaded", zap.Int("fingerprints", len(fps)))
	return ix, func() error { return nil }, nil
}

func initOrchestrator(ctx context.Context, st store.Store) (*detect.Orchestrator, func() error, error) {
	index, closeIndex, err := initIndex(ctx, st)
	if err != nil {
		return nil, nil, err
	}

	gen := fingerprint.NewGenerator(fingerprintConfig(cfg.Fingerprint))
	matcher := match.New(index, match.Config{MinVotes: cfg.Match.MinVotes})

	var external detect.Client
	if cfg.External.BaseURL != "" {
		external = detect.NewHTTPClient(detect.HTTPClientOptions{
			BaseURL:        cfg.External.BaseURL,
			APIKey:         cfg.External.APIKey,
			Timeout:        time.Duration(cfg.External.TimeoutSecs) * time.Second,
			MaxAttempts:    cfg.External.MaxAttempts,
			RequestsPerSec: cfg.External.RequestsPerSec,
		})
	} else {
		zap.L().Warn("no external service configured, weak local matches will be rejected")
	}

	o := detect.New(st, gen, matcher, external, detect.Config{
		LocalConfidenceThreshold: cfg.Detect.LocalConfidenceThreshold,
		MaxRetries:               cfg.Detect.MaxRetries,
		Workers:                  cfg.Detect.Workers,
	})
	return o, closeIndex, nil
}

func initAggregator(st store.Store) (*royalty.Aggregator, error) {
	rate, err := royalty.ParseRate(cfg.Royalty.RatePerSecond, royalty.RoundingMode(cfg.Royalty.Rounding))
	if err != nil {
		return nil, err
	}

	var notifier notify.Notifier = notify.Noop{}
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.Notify.WebhookURL)
	}

	return royalty.New(st, rate, royalty.Config{
		MinMatches:     cfg.Royalty.MinMatches,
		MinPlaySeconds: int64(cfg.Royalty.MinPlaySeconds),
	}, notifier), nil
}
