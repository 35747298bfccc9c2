/*
This file contains the amount arithmetic shared by both exchange directions.

Token amounts travel as uint64 units in the token's smallest denomination.
Coin amounts travel as int64 satoshi. The exchange rate is a decimal
(coin per whole token), pre-normalized to at most 8 fractional digits.
All conversions truncate, never round: the bridge keeps the remainder.
*/
package common

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// CoinDecimals is the fractional precision of the coin ledger (satoshi).
	CoinDecimals = 8
)

var (
	ErrRateNotPositive = errors.New("exchange rate must be > 0")
	ErrRateTooPrecise  = errors.New("exchange rate has more than 8 fractional digits")

	satoshiPerCoin = decimal.New(1, CoinDecimals)
)

// ParseRate parses and validates the configured exchange rate string.
// It rejects zero, negative and over-precise rates up front so that the
// matcher never has to revalidate per transaction.
func ParseRate(s string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("malformed exchange rate %q: %w", s, err)
	}
	if !rate.IsPositive() {
		return decimal.Zero, ErrRateNotPositive
	}
	if rate.Exponent() < -CoinDecimals {
		return decimal.Zero, ErrRateTooPrecise
	}
	return rate, nil
}

// TokensToSatoshi converts a token-unit amount to satoshi at the given rate.
// tokenDecimals is the token currency's own fractional precision.
// Anything beyond 8 coin decimals is truncated.
func TokensToSatoshi(tokenUnits uint64, tokenDecimals int32, rate decimal.Decimal) int64 {
	tokens := decimal.New(int64(tokenUnits), -tokenDecimals)
	coin := tokens.Mul(rate).Truncate(CoinDecimals)
	return coin.Mul(satoshiPerCoin).IntPart()
}

// SatoshiToTokens converts a satoshi amount to token units at the given rate,
// truncating beyond the token's own precision.
func SatoshiToTokens(satoshi int64, tokenDecimals int32, rate decimal.Decimal) uint64 {
	coin := decimal.New(satoshi, -CoinDecimals)
	tokens := coin.Div(rate).Truncate(tokenDecimals)
	return uint64(tokens.Shift(tokenDecimals).IntPart())
}

// FormatSatoshi renders a satoshi amount as a coin decimal string, for logs.
func FormatSatoshi(satoshi int64) string {
	return decimal.New(satoshi, -CoinDecimals).String()
}
