// Package ledger implements the atomic fund transfer primitive. Every
// balance mutation in the system goes through Transfer inside a caller-owned
// transaction; there is deliberately no API for writing a balance directly.
package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// ErrInsufficientFunds means the debit account's balance would go
// negative. Retryable: the station may be topped up before the next
// aggregation pass.
var ErrInsufficientFunds = eris.New("ledger: insufficient funds")

// ErrAccountMissing means a referenced ledger account does not exist.
// Permanent for the group that hit it.
var ErrAccountMissing = eris.New("ledger: account missing")

// Transfer debits amount from fromID and credits it to toID inside tx,
// recording a journal entry for each leg. The balance check and debit are
// one conditional UPDATE, so concurrent transfers against the same account
// serialize on the row without a prior read.
func Transfer(ctx context.Context, tx pgx.Tx, fromID, toID string, amount decimal.Decimal, memo string) error {
	if amount.IsNegative() {
		return eris.Errorf("ledger: negative transfer amount %s", amount)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE ledger_accounts SET balance = balance - $1 WHERE id = $2 AND balance >= $1`,
		amount, fromID,
	)
	if err != nil {
		return eris.Wrap(err, "ledger: debit")
	}
	if tag.RowsAffected() == 0 {
		// Zero rows is either a missing account or a failed balance
		// check; the distinction decides retryability.
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM ledger_accounts WHERE id = $1)`, fromID,
		).Scan(&exists); err != nil {
			return eris.Wrap(err, "ledger: check debit account")
		}
		if !exists {
			return eris.Wrapf(ErrAccountMissing, "debit account %s", fromID)
		}
		return eris.Wrapf(ErrInsufficientFunds, "account %s, amount %s", fromID, amount)
	}

	tag, err = tx.Exec(ctx,
		`UPDATE ledger_accounts SET balance = balance + $1 WHERE id = $2`,
		amount, toID,
	)
	if err != nil {
		return eris.Wrap(err, "ledger: credit")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrAccountMissing, "credit account %s", toID)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO ledger_entries (account_id, amount, memo) VALUES ($1, $2, $3), ($4, $5, $6)`,
		fromID, amount.Neg(), memo,
		toID, amount, memo,
	)
	if err != nil {
		return eris.Wrap(err, "ledger: journal")
	}

	return nil
}

// Retryable reports whether a settlement failure rooted in err should keep
// the group claimable for a later pass.
func Retryable(err error) bool {
	if errors.Is(err, ErrInsufficientFunds) {
		return true
	}
	if errors.Is(err, ErrAccountMissing) {
		return false
	}
	// Unknown settlement errors (lock timeouts, connection loss) are
	// treated as retryable; the claim step prevents double settlement.
	return true
}
