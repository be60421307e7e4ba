package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aircheck-labs/aircheck-cli/internal/ledger"
	"github.com/aircheck-labs/aircheck-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_CreateTrack_AssignsID(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO tracks`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	track, err := s.CreateTrack(context.Background(), model.Track{
		Title:              "Midnight Signal",
		Artist:             "The Carriers",
		RightsHolderAcctID: "acct-rh-1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, track.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetTrack_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM tracks WHERE id = \$1`).
		WithArgs("missing-id").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetTrack(context.Background(), "missing-id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan track")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetTrackByISRC_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM tracks WHERE isrc = \$1`).
		WithArgs("USRC19999999").
		WillReturnError(pgx.ErrNoRows)

	track, err := s.GetTrackByISRC(context.Background(), "USRC19999999")
	require.NoError(t, err)
	assert.Nil(t, track)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindTrackByTitleArtist_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM tracks WHERE title_norm = \$1 AND artist_norm = \$2`).
		WithArgs("unknown song", "unknown artist").
		WillReturnError(pgx.ErrNoRows)

	track, err := s.FindTrackByTitleArtist(context.Background(), "unknown song", "unknown artist")
	require.NoError(t, err)
	assert.Nil(t, track)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimMatches_GroupsByTrackAndStation(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	base := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`UPDATE raw_matches`).
		WithArgs("token-1", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "track_id", "station_id", "matched_at", "confidence"}).
			AddRow("m1", "track-a", "station-1", base, 80.0).
			AddRow("m2", "track-a", "station-1", base.Add(10*time.Second), 90.0).
			AddRow("m3", "track-b", "station-1", base.Add(5*time.Minute), 85.0))

	groups, err := s.ClaimMatches(context.Background(), "token-1")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "track-a", groups[0].TrackID)
	assert.Len(t, groups[0].Matches, 2)
	assert.Equal(t, "track-b", groups[1].TrackID)
	assert.Len(t, groups[1].Matches, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimMatches_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`UPDATE raw_matches`).
		WithArgs("token-1", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "track_id", "station_id", "matched_at", "confidence"}))

	groups, err := s.ClaimMatches(context.Background(), "token-1")
	require.NoError(t, err)
	assert.Empty(t, groups)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SettleGroup_CommitsAllWrites(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	amount := decimal.RequireFromString("0.18")

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE ledger_accounts SET balance = balance - \$1 WHERE id = \$2 AND balance >= \$1`).
		WithArgs(amount, "acct-station").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE ledger_accounts SET balance = balance \+ \$1 WHERE id = \$2`).
		WithArgs(amount, "acct-rights").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO ledger_entries`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec(`INSERT INTO play_logs`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE raw_matches`).
		WithArgs("token-1", "track-a", "station-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))
	mock.ExpectCommit()

	play := model.PlayLog{
		TrackID:       "track-a",
		StationID:     "station-1",
		Source:        model.PlaySourceRadio,
		StartTime:     time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC),
		StopTime:      time.Date(2026, 3, 1, 14, 0, 35, 0, time.UTC),
		DurationSecs:  35,
		AvgConfidence: 88,
	}
	settled, err := s.SettleGroup(context.Background(), "token-1", play, amount, "acct-station", "acct-rights")
	require.NoError(t, err)
	assert.Equal(t, "0.18", settled.Royalty)
	assert.NotEmpty(t, settled.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SettleGroup_InsufficientFundsRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	amount := decimal.RequireFromString("0.18")

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE ledger_accounts SET balance = balance - \$1 WHERE id = \$2 AND balance >= \$1`).
		WithArgs(amount, "acct-station").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("acct-station").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	play := model.PlayLog{TrackID: "track-a", StationID: "station-1", Source: model.PlaySourceRadio}
	settled, err := s.SettleGroup(context.Background(), "token-1", play, amount, "acct-station", "acct-rights")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrInsufficientFunds))
	assert.Nil(t, settled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SettleGroup_LostClaimRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	amount := decimal.RequireFromString("0.10")

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE ledger_accounts SET balance = balance - \$1`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE ledger_accounts SET balance = balance \+ \$1`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO ledger_entries`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec(`INSERT INTO play_logs`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE raw_matches`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	play := model.PlayLog{TrackID: "track-a", StationID: "station-1", Source: model.PlaySourceRadio}
	_, err := s.SettleGroup(context.Background(), "stolen-token", play, amount, "acct-station", "acct-rights")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no longer claimed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ConsumeGroup(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE raw_matches`).
		WithArgs("insufficient evidence", "token-1", "track-a", "station-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	err := s.ConsumeGroup(context.Background(), "token-1", "track-a", "station-1", "insufficient evidence")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReleaseGroup(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE raw_matches`).
		WithArgs("insufficient funds", "token-1", "track-a", "station-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	err := s.ReleaseGroup(context.Background(), "token-1", "track-a", "station-1", "insufficient funds")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAccountBalance(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT balance FROM ledger_accounts WHERE id = \$1`).
		WithArgs("acct-1").
		WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(decimal.RequireFromString("125.50")))

	balance, err := s.GetAccountBalance(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "125.50", balance.StringFixed(2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNormKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Señorita  (Remix)", "senorita remix"},
		{"  The Carriers ", "the carriers"},
		{"AC/DC", "ac dc"},
		{"Déjà Vu", "deja vu"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormKey(tt.in), "input %q", tt.in)
	}
}
