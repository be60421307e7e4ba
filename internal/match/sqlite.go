package match

import (
	"context"
	"database/sql"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/aircheck-labs/aircheck-cli/internal/model"
)

// SQLiteIndex is a local, persistent fingerprint index cache. The identify
// worker reads it without touching Postgres, and restarts warm. The
// reference set is read-many/write-rare: rebuilds happen inside one
// transaction, so concurrent readers see either the old or the new
// catalog, never a partial one.
type SQLiteIndex struct {
	db *sql.DB
}

const sqliteIndexSchema = `
CREATE TABLE IF NOT EXISTS postings (
	hash        INTEGER NOT NULL,
	track_id    TEXT NOT NULL,
	time_offset INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_postings_hash ON postings(hash);
CREATE INDEX IF NOT EXISTS idx_postings_track ON postings(track_id);

CREATE TABLE IF NOT EXISTS track_sizes (
	track_id TEXT PRIMARY KEY,
	n        INTEGER NOT NULL
);
`

// NewSQLiteIndex opens (creating if needed) the index cache at path.
func NewSQLiteIndex(path string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "match: open sqlite index")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "match: exec %s", pragma)
		}
	}
	if _, err := db.Exec(sqliteIndexSchema); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "match: create index schema")
	}
	return &SQLiteIndex{db: db}, nil
}

// Close releases the underlying database handle.
func (ix *SQLiteIndex) Close() error {
	return ix.db.Close()
}

// Rebuild replaces the entire cached reference set in one transaction.
func (ix *SQLiteIndex) Rebuild(ctx context.Context, fps []model.Fingerprint) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "match: rebuild begin")
	}
	defer tx.Rollback()

	for _, stmt := range []string{`DELETE FROM postings`, `DELETE FROM track_sizes`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return eris.Wrap(err, "match: rebuild clear")
		}
	}

	if err := insertPostings(ctx, tx, fps); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(), "match: rebuild commit")
}

// ReplaceTrack atomically replaces one track's cached postings.
func (ix *SQLiteIndex) ReplaceTrack(ctx context.Context, trackID string, fps []model.Fingerprint) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "match: replace begin")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM postings WHERE track_id = ?`, trackID); err != nil {
		return eris.Wrapf(err, "match: clear postings for %s", trackID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM track_sizes WHERE track_id = ?`, trackID); err != nil {
		return eris.Wrapf(err, "match: clear size for %s", trackID)
	}

	if err := insertPostings(ctx, tx, fps); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(), "match: replace commit")
}

func insertPostings(ctx context.Context, tx *sql.Tx, fps []model.Fingerprint) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO postings (hash, track_id, time_offset) VALUES (?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "match: prepare insert")
	}
	defer stmt.Close()

	sizes := map[string]int{}
	for _, fp := range fps {
		if _, err := stmt.ExecContext(ctx, int64(fp.Hash), fp.TrackID, fp.TimeOffset); err != nil {
			return eris.Wrap(err, "match: insert posting")
		}
		sizes[fp.TrackID]++
	}

	for trackID, n := range sizes {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO track_sizes (track_id, n) VALUES (?, ?)
			 ON CONFLICT (track_id) DO UPDATE SET n = track_sizes.n + excluded.n`,
			trackID, n,
		)
		if err != nil {
			return eris.Wrapf(err, "match: upsert size for %s", trackID)
		}
	}
	return nil
}

// lookupChunk keeps IN(...) parameter lists under SQLite's variable limit.
const lookupChunk = 500

// Lookup implements Index.
func (ix *SQLiteIndex) Lookup(ctx context.Context, hashes []uint64) (map[uint64][]Posting, error) {
	out := make(map[uint64][]Posting)

	for start := 0; start < len(hashes); start += lookupChunk {
		end := start + lookupChunk
		if end > len(hashes) {
			end = len(hashes)
		}
		chunk := hashes[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, len(chunk))
		for i, h := range chunk {
			args[i] = int64(h)
		}

		rows, err := ix.db.QueryContext(ctx,
			`SELECT hash, track_id, time_offset FROM postings WHERE hash IN (`+placeholders+`)`,
			args...,
		)
		if err != nil {
			return nil, eris.Wrap(err, "match: lookup postings")
		}

		for rows.Next() {
			var hash int64
			var p Posting
			if err := rows.Scan(&hash, &p.TrackID, &p.Offset); err != nil {
				rows.Close()
				return nil, eris.Wrap(err, "match: scan posting")
			}
			out[uint64(hash)] = append(out[uint64(hash)], p)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "match: iterate postings")
		}
		rows.Close()
	}

	return out, nil
}

// TrackSizes implements Index.
func (ix *SQLiteIndex) TrackSizes(ctx context.Context, trackIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(trackIDs))
	for _, id := range trackIDs {
		var n int
		err := ix.db.QueryRowContext(ctx, `SELECT n FROM track_sizes WHERE track_id = ?`, id).Scan(&n)
		if err == sql.ErrNoRows {
			out[id] = 0
			continue
		}
		if err != nil {
			return nil, eris.Wrapf(err, "match: size for %s", id)
		}
		out[id] = n
	}
	return out, nil
}
