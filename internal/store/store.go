// Package store defines the persistence interface for the identification
// and attribution pipeline and its Postgres implementation.
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/aircheck-labs/aircheck-cli/internal/model"
)

// Store is the persistence boundary for the pipeline.
type Store interface {
	// Catalog
	CreateTrack(ctx context.Context, t model.Track) (*model.Track, error)
	GetTrack(ctx context.Context, id string) (*model.Track, error)
	GetTrackByISRC(ctx context.Context, isrc string) (*model.Track, error)
	// FindTrackByTitleArtist matches against pre-normalized title/artist
	// keys (see NormKey).
	FindTrackByTitleArtist(ctx context.Context, titleNorm, artistNorm string) (*model.Track, error)
	// ReplaceFingerprints atomically swaps a track's fingerprint set and
	// bumps its fingerprint version. No partial catalog is ever visible.
	ReplaceFingerprints(ctx context.Context, trackID string, fps []model.Fingerprint) error
	LoadAllFingerprints(ctx context.Context) ([]model.Fingerprint, error)

	// Stations and accounts
	CreateStation(ctx context.Context, s model.Station) (*model.Station, error)
	GetStation(ctx context.Context, id string) (*model.Station, error)
	CreateAccount(ctx context.Context, acct model.LedgerAccount) error
	GetAccountBalance(ctx context.Context, id string) (decimal.Decimal, error)

	// Identification
	CreateDetection(ctx context.Context, d model.AudioDetection) (*model.AudioDetection, error)
	UpdateDetection(ctx context.Context, d *model.AudioDetection) error
	CreateRawMatch(ctx context.Context, m model.RawMatch) (*model.RawMatch, error)

	// Aggregation. ClaimMatches stamps every claimable row with token in
	// one conditional UPDATE and returns the claimed rows grouped by
	// (track, station); rows claimed by a concurrent worker are skipped.
	ClaimMatches(ctx context.Context, token string) ([]model.MatchGroup, error)
	// ReleaseGroup returns a claimed group to the unprocessed pool for a
	// later pass, recording why.
	ReleaseGroup(ctx context.Context, token, trackID, stationID, reason string) error
	// ConsumeGroup marks a claimed group processed without a PlayLog
	// (validation rejection or permanent failure).
	ConsumeGroup(ctx context.Context, token, trackID, stationID, reason string) error
	// SettleGroup performs the atomic settlement: ledger transfer,
	// PlayLog insert, and marking the group processed, all in one
	// transaction.
	SettleGroup(ctx context.Context, token string, play model.PlayLog, royalty decimal.Decimal, stationAcct, rightsAcct string) (*model.PlayLog, error)
	CreateFailedPlayLog(ctx context.Context, f model.FailedPlayLog) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
