package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/aircheck-labs/aircheck-cli/internal/db"
	"github.com/aircheck-labs/aircheck-cli/internal/ledger"
	"github.com/aircheck-labs/aircheck-cli/internal/model"
)

// claimStaleAfter is how long a claim may sit before another aggregation
// worker may steal it (crashed worker recovery).
const claimStaleAfter = 10 * time.Minute

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS tracks (
	id                       TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	title                    TEXT NOT NULL,
	artist                   TEXT NOT NULL,
	album                    TEXT,
	isrc                     TEXT,
	iswc                     TEXT,
	title_norm               TEXT NOT NULL,
	artist_norm              TEXT NOT NULL,
	rights_holder_account_id TEXT NOT NULL,
	fingerprint_version      INTEGER NOT NULL DEFAULT 0,
	created_at               TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tracks_isrc ON tracks(isrc) WHERE isrc IS NOT NULL AND isrc <> '';
CREATE INDEX IF NOT EXISTS idx_tracks_title_artist ON tracks(title_norm, artist_norm);

CREATE TABLE IF NOT EXISTS stations (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name              TEXT NOT NULL,
	operator_contact  TEXT,
	ledger_account_id TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS fingerprints (
	track_id    TEXT NOT NULL REFERENCES tracks(id),
	hash        BIGINT NOT NULL,
	time_offset INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fingerprints_hash ON fingerprints(hash);
CREATE INDEX IF NOT EXISTS idx_fingerprints_track ON fingerprints(track_id);

CREATE TABLE IF NOT EXISTS ledger_accounts (
	id         TEXT PRIMARY KEY,
	owner_type TEXT NOT NULL,
	balance    NUMERIC(14,2) NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	account_id TEXT NOT NULL REFERENCES ledger_accounts(id),
	amount     NUMERIC(14,2) NOT NULL,
	memo       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_ledger_entries_account ON ledger_entries(account_id);

CREATE TABLE IF NOT EXISTS raw_matches (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	track_id       TEXT NOT NULL REFERENCES tracks(id),
	station_id     TEXT NOT NULL REFERENCES stations(id),
	matched_at     TIMESTAMPTZ NOT NULL,
	confidence     NUMERIC(5,2) NOT NULL,
	processed      BOOLEAN NOT NULL DEFAULT false,
	claim_token    TEXT,
	claimed_at     TIMESTAMPTZ,
	failure_reason TEXT
);

CREATE INDEX IF NOT EXISTS idx_raw_matches_unprocessed ON raw_matches(processed, claim_token);
CREATE INDEX IF NOT EXISTS idx_raw_matches_group ON raw_matches(track_id, station_id);

CREATE TABLE IF NOT EXISTS audio_detections (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	station_id       TEXT NOT NULL REFERENCES stations(id),
	track_id         TEXT REFERENCES tracks(id),
	source           TEXT,
	status           TEXT NOT NULL DEFAULT 'pending',
	confidence       NUMERIC(5,2) NOT NULL DEFAULT 0,
	isrc             TEXT,
	iswc             TEXT,
	external_payload JSONB,
	failure_reason   TEXT,
	retry_count      INTEGER NOT NULL DEFAULT 0,
	session_id       TEXT,
	captured_at      TIMESTAMPTZ NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audio_detections_status ON audio_detections(status);
CREATE INDEX IF NOT EXISTS idx_audio_detections_station ON audio_detections(station_id);

CREATE TABLE IF NOT EXISTS play_logs (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	track_id       TEXT NOT NULL REFERENCES tracks(id),
	station_id     TEXT NOT NULL REFERENCES stations(id),
	source         TEXT NOT NULL,
	start_time     TIMESTAMPTZ NOT NULL,
	stop_time      TIMESTAMPTZ NOT NULL,
	duration_secs  BIGINT NOT NULL,
	royalty        NUMERIC(12,2) NOT NULL,
	avg_confidence NUMERIC(5,2) NOT NULL,
	claimed        BOOLEAN NOT NULL DEFAULT false,
	flagged        BOOLEAN NOT NULL DEFAULT false,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_play_logs_track ON play_logs(track_id);
CREATE INDEX IF NOT EXISTS idx_play_logs_station ON play_logs(station_id);

CREATE TABLE IF NOT EXISTS failed_play_logs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	track_id   TEXT NOT NULL,
	station_id TEXT NOT NULL,
	reason     TEXT NOT NULL,
	will_retry BOOLEAN NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Migrate applies the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping verifies connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// --- Catalog ---

func (s *PostgresStore) CreateTrack(ctx context.Context, t model.Track) (*model.Track, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO tracks (id, title, artist, album, isrc, iswc, title_norm, artist_norm, rights_holder_account_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.Title, t.Artist, t.Album, t.ISRC, t.ISWC,
		NormKey(t.Title), NormKey(t.Artist), t.RightsHolderAcctID, t.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert track")
	}
	return &t, nil
}

func (s *PostgresStore) GetTrack(ctx context.Context, id string) (*model.Track, error) {
	return s.scanTrack(s.pool.QueryRow(ctx,
		`SELECT id, title, artist, album, isrc, iswc, rights_holder_account_id, fingerprint_version, created_at
		 FROM tracks WHERE id = $1`, id))
}

func (s *PostgresStore) GetTrackByISRC(ctx context.Context, isrc string) (*model.Track, error) {
	t, err := s.scanTrack(s.pool.QueryRow(ctx,
		`SELECT id, title, artist, album, isrc, iswc, rights_holder_account_id, fingerprint_version, created_at
		 FROM tracks WHERE isrc = $1`, isrc))
	if err != nil && eris.Cause(err) == pgx.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (s *PostgresStore) FindTrackByTitleArtist(ctx context.Context, titleNorm, artistNorm string) (*model.Track, error) {
	t, err := s.scanTrack(s.pool.QueryRow(ctx,
		`SELECT id, title, artist, album, isrc, iswc, rights_holder_account_id, fingerprint_version, created_at
		 FROM tracks WHERE title_norm = $1 AND artist_norm = $2 LIMIT 1`, titleNorm, artistNorm))
	if err != nil && eris.Cause(err) == pgx.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (s *PostgresStore) scanTrack(row pgx.Row) (*model.Track, error) {
	var t model.Track
	var album, isrc, iswc *string
	err := row.Scan(&t.ID, &t.Title, &t.Artist, &album, &isrc, &iswc,
		&t.RightsHolderAcctID, &t.FingerprintVersion, &t.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan track")
	}
	t.Album = deref(album)
	t.ISRC = deref(isrc)
	t.ISWC = deref(iswc)
	return &t, nil
}

// ReplaceFingerprints swaps a track's fingerprint set in one transaction:
// delete prior records, COPY the new set, bump the version. A concurrent
// index load sees either the full old set or the full new one.
func (s *PostgresStore) ReplaceFingerprints(ctx context.Context, trackID string, fps []model.Fingerprint) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: replace fingerprints begin")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM fingerprints WHERE track_id = $1`, trackID); err != nil {
		return eris.Wrap(err, "postgres: delete fingerprints")
	}

	rows := make([][]any, len(fps))
	for i, fp := range fps {
		rows[i] = []any{trackID, int64(fp.Hash), fp.TimeOffset}
	}
	if _, err := db.CopyFromTx(ctx, tx, "fingerprints", []string{"track_id", "hash", "time_offset"}, rows); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE tracks SET fingerprint_version = fingerprint_version + 1 WHERE id = $1`, trackID); err != nil {
		return eris.Wrap(err, "postgres: bump fingerprint version")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: replace fingerprints commit")
}

func (s *PostgresStore) LoadAllFingerprints(ctx context.Context) ([]model.Fingerprint, error) {
	rows, err := s.pool.Query(ctx, `SELECT track_id, hash, time_offset FROM fingerprints`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load fingerprints")
	}
	defer rows.Close()

	var fps []model.Fingerprint
	for rows.Next() {
		var fp model.Fingerprint
		var hash int64
		if err := rows.Scan(&fp.TrackID, &hash, &fp.TimeOffset); err != nil {
			return nil, eris.Wrap(err, "postgres: scan fingerprint")
		}
		fp.Hash = uint64(hash)
		fps = append(fps, fp)
	}
	return fps, eris.Wrap(rows.Err(), "postgres: iterate fingerprints")
}

// --- Stations and accounts ---

func (s *PostgresStore) CreateStation(ctx context.Context, st model.Station) (*model.Station, error) {
	if st.ID == "" {
		st.ID = uuid.New().String()
	}
	st.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO stations (id, name, operator_contact, ledger_account_id, created_at) VALUES ($1, $2, $3, $4, $5)`,
		st.ID, st.Name, st.OperatorContact, st.LedgerAcctID, st.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert station")
	}
	return &st, nil
}

func (s *PostgresStore) GetStation(ctx context.Context, id string) (*model.Station, error) {
	var st model.Station
	var contact *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, operator_contact, ledger_account_id, created_at FROM stations WHERE id = $1`, id,
	).Scan(&st.ID, &st.Name, &contact, &st.LedgerAcctID, &st.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get station")
	}
	st.OperatorContact = deref(contact)
	return &st, nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, acct model.LedgerAccount) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_accounts (id, owner_type, balance) VALUES ($1, $2, $3)`,
		acct.ID, string(acct.OwnerType), acct.Balance,
	)
	return eris.Wrap(err, "postgres: insert account")
}

func (s *PostgresStore) GetAccountBalance(ctx context.Context, id string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.pool.QueryRow(ctx,
		`SELECT balance FROM ledger_accounts WHERE id = $1`, id,
	).Scan(&balance)
	if err != nil {
		return decimal.Zero, eris.Wrap(err, "postgres: get balance")
	}
	return balance, nil
}

// --- Identification ---

func (s *PostgresStore) CreateDetection(ctx context.Context, d model.AudioDetection) (*model.AudioDetection, error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO audio_detections
		 (id, station_id, track_id, source, status, confidence, isrc, iswc, external_payload, failure_reason, retry_count, session_id, captured_at, created_at, updated_at)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		d.ID, d.StationID, d.TrackID, string(d.Source), string(d.Status), d.Confidence,
		d.ISRC, d.ISWC, d.ExternalPayload, d.FailureReason, d.RetryCount, d.SessionID,
		d.CapturedAt, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert detection")
	}
	return &d, nil
}

func (s *PostgresStore) UpdateDetection(ctx context.Context, d *model.AudioDetection) error {
	d.UpdatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`UPDATE audio_detections
		 SET track_id = NULLIF($1, ''), source = NULLIF($2, ''), status = $3, confidence = $4,
		     isrc = $5, iswc = $6, external_payload = $7, failure_reason = $8, retry_count = $9, updated_at = $10
		 WHERE id = $11`,
		d.TrackID, string(d.Source), string(d.Status), d.Confidence,
		d.ISRC, d.ISWC, d.ExternalPayload, d.FailureReason, d.RetryCount, d.UpdatedAt, d.ID,
	)
	return eris.Wrap(err, "postgres: update detection")
}

func (s *PostgresStore) CreateRawMatch(ctx context.Context, m model.RawMatch) (*model.RawMatch, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO raw_matches (id, track_id, station_id, matched_at, confidence) VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.TrackID, m.StationID, m.MatchedAt, m.Confidence,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert raw match")
	}
	return &m, nil
}

// --- Aggregation ---

// ClaimMatches claims every claimable row in one conditional UPDATE and
// returns the claimed rows grouped by (track, station). Rows already
// claimed by a live worker are skipped; stale claims are stolen.
func (s *PostgresStore) ClaimMatches(ctx context.Context, token string) ([]model.MatchGroup, error) {
	cutoff := time.Now().UTC().Add(-claimStaleAfter)

	rows, err := s.pool.Query(ctx,
		`UPDATE raw_matches
		 SET claim_token = $1, claimed_at = now()
		 WHERE processed = false AND (claim_token IS NULL OR claimed_at < $2)
		 RETURNING id, track_id, station_id, matched_at, confidence`,
		token, cutoff,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: claim matches")
	}
	defer rows.Close()

	grouped := map[[2]string]*model.MatchGroup{}
	var order [][2]string
	for rows.Next() {
		var m model.RawMatch
		if err := rows.Scan(&m.ID, &m.TrackID, &m.StationID, &m.MatchedAt, &m.Confidence); err != nil {
			return nil, eris.Wrap(err, "postgres: scan claimed match")
		}
		key := [2]string{m.TrackID, m.StationID}
		g, ok := grouped[key]
		if !ok {
			g = &model.MatchGroup{TrackID: m.TrackID, StationID: m.StationID}
			grouped[key] = g
			order = append(order, key)
		}
		g.Matches = append(g.Matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate claimed matches")
	}

	groups := make([]model.MatchGroup, 0, len(order))
	for _, key := range order {
		groups = append(groups, *grouped[key])
	}
	return groups, nil
}

func (s *PostgresStore) ReleaseGroup(ctx context.Context, token, trackID, stationID, reason string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE raw_matches
		 SET claim_token = NULL, claimed_at = NULL, failure_reason = $1
		 WHERE claim_token = $2 AND track_id = $3 AND station_id = $4`,
		reason, token, trackID, stationID,
	)
	return eris.Wrap(err, "postgres: release group")
}

func (s *PostgresStore) ConsumeGroup(ctx context.Context, token, trackID, stationID, reason string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE raw_matches
		 SET processed = true, claim_token = NULL, claimed_at = NULL, failure_reason = $1
		 WHERE claim_token = $2 AND track_id = $3 AND station_id = $4`,
		reason, token, trackID, stationID,
	)
	return eris.Wrap(err, "postgres: consume group")
}

// SettleGroup performs the settlement transaction: debit the station,
// credit the rights holder, insert the PlayLog, and mark the claimed rows
// processed. Any failure rolls back every mutation; the zero-rows guard on
// the final UPDATE rejects a duplicate settlement attempt on a group
// whose claim was lost.
func (s *PostgresStore) SettleGroup(ctx context.Context, token string, play model.PlayLog, royalty decimal.Decimal, stationAcct, rightsAcct string) (*model.PlayLog, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: settle begin")
	}
	defer tx.Rollback(ctx)

	memo := "airplay royalty: track " + play.TrackID + " on station " + play.StationID
	if err := ledger.Transfer(ctx, tx, stationAcct, rightsAcct, royalty, memo); err != nil {
		return nil, err
	}

	if play.ID == "" {
		play.ID = uuid.New().String()
	}
	play.Royalty = royalty.StringFixed(2)
	play.CreatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx,
		`INSERT INTO play_logs (id, track_id, station_id, source, start_time, stop_time, duration_secs, royalty, avg_confidence, claimed, flagged, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		play.ID, play.TrackID, play.StationID, string(play.Source),
		play.StartTime, play.StopTime, play.DurationSecs, royalty,
		play.AvgConfidence, play.Claimed, play.Flagged, play.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert play log")
	}

	tag, err := tx.Exec(ctx,
		`UPDATE raw_matches
		 SET processed = true, claim_token = NULL, claimed_at = NULL
		 WHERE claim_token = $1 AND track_id = $2 AND station_id = $3 AND processed = false`,
		token, play.TrackID, play.StationID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: mark group processed")
	}
	if tag.RowsAffected() == 0 {
		return nil, eris.New("postgres: settle conflict: group no longer claimed by this worker")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: settle commit")
	}
	return &play, nil
}

func (s *PostgresStore) CreateFailedPlayLog(ctx context.Context, f model.FailedPlayLog) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	f.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO failed_play_logs (id, track_id, station_id, reason, will_retry, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		f.ID, f.TrackID, f.StationID, f.Reason, f.WillRetry, f.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert failed play log")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
