package royalty

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRate_Invalid(t *testing.T) {
	_, err := ParseRate("not-a-number", RoundBank)
	require.Error(t, err)

	_, err = ParseRate("-0.01", RoundBank)
	require.Error(t, err)

	_, err = ParseRate("0.005", "ceiling")
	require.Error(t, err)
}

func TestParseRate_DefaultsToBank(t *testing.T) {
	r, err := ParseRate("0.005", "")
	require.NoError(t, err)
	assert.Equal(t, RoundBank, r.Rounding)
}

func TestRate_Amount(t *testing.T) {
	bank, err := ParseRate("0.005", RoundBank)
	require.NoError(t, err)
	halfUp, err := ParseRate("0.005", RoundHalfUp)
	require.NoError(t, err)

	// 35s at 0.005/s is 0.175; both modes land on 0.18 (8 is even).
	assert.Equal(t, "0.18", bank.Amount(35).StringFixed(2))
	assert.Equal(t, "0.18", halfUp.Amount(35).StringFixed(2))

	// 5s is 0.025: banker's rounding goes down to the even cent,
	// half-up goes up.
	assert.Equal(t, "0.02", bank.Amount(5).StringFixed(2))
	assert.Equal(t, "0.03", halfUp.Amount(5).StringFixed(2))

	// Exact amounts are untouched.
	assert.Equal(t, "0.15", bank.Amount(30).StringFixed(2))
	assert.Equal(t, "0.00", bank.Amount(0).StringFixed(2))
}
