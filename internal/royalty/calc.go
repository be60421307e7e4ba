// Package royalty turns claimed raw matches into settled play logs. The
// aggregator groups matches per track and station, validates that the group
// is real airplay rather than noise, computes the payout, and settles it
// through the ledger in a single transaction per group.
package royalty

import (
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// RoundingMode selects how a computed royalty is quantized to cents.
type RoundingMode string

const (
	// RoundBank rounds half to even, so systematic half-cent bias cannot
	// accumulate across many settlements.
	RoundBank RoundingMode = "bank"
	// RoundHalfUp is conventional commercial rounding.
	RoundHalfUp RoundingMode = "half-up"
)

// Rate holds the per-second payout rate and rounding policy.
type Rate struct {
	PerSecond decimal.Decimal
	Rounding  RoundingMode
}

// ParseRate validates a configured rate string.
func ParseRate(perSecond string, rounding RoundingMode) (Rate, error) {
	d, err := decimal.NewFromString(perSecond)
	if err != nil {
		return Rate{}, eris.Wrapf(err, "royalty: invalid rate %q", perSecond)
	}
	if d.IsNegative() {
		return Rate{}, eris.Errorf("royalty: negative rate %s", d)
	}
	switch rounding {
	case RoundBank, RoundHalfUp:
	case "":
		rounding = RoundBank
	default:
		return Rate{}, eris.Errorf("royalty: unknown rounding mode %q", rounding)
	}
	return Rate{PerSecond: d, Rounding: rounding}, nil
}

// Amount computes the payout for a play of the given duration, quantized
// to two decimal places.
func (r Rate) Amount(durationSecs int64) decimal.Decimal {
	raw := r.PerSecond.Mul(decimal.NewFromInt(durationSecs))
	if r.Rounding == RoundHalfUp {
		return raw.Round(2)
	}
	return raw.RoundBank(2)
}
