package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MicroUSD is a currency amount in millionths of a US dollar.
// All budget and ledger arithmetic happens in this integer domain so that
// concurrent summation never drifts the way floating point would.
type MicroUSD int64

// microsPerDollar is the fixed-point scale (10^6, matching NUMERIC(10,6)).
const microsPerDollar = 1_000_000

// ParseUSD parses a decimal dollar string such as "50.00" or "0.0125".
// Precision beyond six decimal places is rejected rather than rounded.
func ParseUSD(s string) (MicroUSD, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return FromDecimal(d)
}

// FromDecimal converts an exact decimal amount to MicroUSD.
func FromDecimal(d decimal.Decimal) (MicroUSD, error) {
	micros := d.Shift(6)
	if !micros.IsInteger() {
		return 0, fmt.Errorf("amount %s has sub-microdollar precision", d)
	}
	return MicroUSD(micros.IntPart()), nil
}

// Decimal returns the exact decimal dollar value.
func (m MicroUSD) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -6)
}

// String formats the amount as dollars, e.g. "50.00" → "$50.00".
func (m MicroUSD) String() string {
	return "$" + m.Decimal().StringFixed(2)
}

// MulTokens returns the cost of n tokens priced at dollars-per-million-tokens.
// The price itself is expressed in MicroUSD per 1M tokens, so the result is
// exact integer arithmetic: n * price / 1M.
func (m MicroUSD) MulTokens(n int64) MicroUSD {
	return MicroUSD(int64(m) * n / microsPerDollar)
}
