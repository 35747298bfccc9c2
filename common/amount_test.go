package common

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func mustRate(t *testing.T, s string) decimal.Decimal {
	rate, err := ParseRate(s)
	assert.NoError(t, err)
	return rate
}

func TestParseRate(t *testing.T) {
	_, err := ParseRate("0.001")
	assert.NoError(t, err)

	_, err = ParseRate("0")
	assert.ErrorIs(t, err, ErrRateNotPositive)

	_, err = ParseRate("-1")
	assert.ErrorIs(t, err, ErrRateNotPositive)

	_, err = ParseRate("0.000000001") // 9 fractional digits
	assert.ErrorIs(t, err, ErrRateTooPrecise)

	_, err = ParseRate("abc")
	assert.Error(t, err)
}

func TestTokensToSatoshi(t *testing.T) {
	// 100 tokens at 0.001 coin/token = 0.1 coin = 10,000,000 satoshi
	rate := mustRate(t, "0.001")
	assert.Equal(t, int64(10_000_000), TokensToSatoshi(100, 0, rate))

	// same rate, token with 2 decimals: 100.00 token units = 1 token
	assert.Equal(t, int64(100_000), TokensToSatoshi(100, 2, rate))
}

func TestTokensToSatoshiTruncates(t *testing.T) {
	// 1 unit of a 4-decimal token at rate 0.00000001 coin/token:
	// 0.0001 * 0.00000001 = 1e-12 coin, below 8 decimals => truncated to 0
	rate := mustRate(t, "0.00000001")
	assert.Equal(t, int64(0), TokensToSatoshi(1, 4, rate))

	// 3 tokens at 0.0000000333...-like composite: 7 units of a 1-decimal
	// token at rate 0.03: 0.7 * 0.03 = 0.021 coin exactly.
	rate = mustRate(t, "0.03")
	assert.Equal(t, int64(2_100_000), TokensToSatoshi(7, 1, rate))
}

func TestSatoshiToTokens(t *testing.T) {
	// 0.1 coin at 0.001 coin/token = 100 tokens
	rate := mustRate(t, "0.001")
	assert.Equal(t, uint64(100), SatoshiToTokens(10_000_000, 0, rate))

	// 1 satoshi at rate 0.001 = 0.00001 token, truncated to 0 whole units
	assert.Equal(t, uint64(0), SatoshiToTokens(1, 0, rate))

	// with 8 token decimals nothing is lost: 1 sat = 1000 token units
	assert.Equal(t, uint64(1000), SatoshiToTokens(1, 8, rate))
}

func TestFormatSatoshi(t *testing.T) {
	assert.Equal(t, "0.1", FormatSatoshi(10_000_000))
	assert.Equal(t, "1", FormatSatoshi(100_000_000))
}
