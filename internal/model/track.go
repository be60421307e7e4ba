// Package model holds the domain types shared across the identification
// and attribution pipeline.
package model

import "time"

// Track is a reference catalog entry.
type Track struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	Artist             string    `json:"artist"`
	Album              string    `json:"album,omitempty"`
	ISRC               string    `json:"isrc,omitempty"`
	ISWC               string    `json:"iswc,omitempty"`
	RightsHolderAcctID string    `json:"rights_holder_account_id"`
	// FingerprintVersion increments each time the track's audio is
	// re-fingerprinted; postings from older versions are discarded.
	FingerprintVersion int       `json:"fingerprint_version"`
	CreatedAt          time.Time `json:"created_at"`
}

// Station is a monitored broadcast feed.
type Station struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	OperatorContact string    `json:"operator_contact,omitempty"`
	LedgerAcctID    string    `json:"ledger_account_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// Fingerprint is a single (hash, time-offset) record. Immutable once
// created; owned by its catalog track.
type Fingerprint struct {
	Hash       uint64 `json:"hash"`
	TrackID    string `json:"track_id"`
	TimeOffset int32  `json:"time_offset"` // STFT frame index of the anchor peak
}

// AccountOwner identifies what kind of party owns a ledger account.
type AccountOwner string

const (
	AccountOwnerStation      AccountOwner = "station"
	AccountOwnerRightsHolder AccountOwner = "rights_holder"
)

// LedgerAccount carries a fixed-point balance. Balances are only ever
// mutated through the store's atomic transfer, never read-then-written.
type LedgerAccount struct {
	ID        string       `json:"id"`
	OwnerType AccountOwner `json:"owner_type"`
	// Balance is the canonical decimal string representation; arithmetic
	// happens in the database or via shopspring/decimal, never float64.
	Balance string `json:"balance"`
}
