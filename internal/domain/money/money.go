// Package money provides an exact, currency-tagged decimal amount with four
// fractional digits of precision. Amounts are backed by arbitrary-precision
// decimals and are never represented as binary floating point, so additions
// and round-trips through text are exact.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits every amount carries.
const Scale = 4

// Common errors
var (
	ErrInvalidFormat    = errors.New("invalid amount format")
	ErrNegativeAmount   = errors.New("amount cannot be negative")
	ErrCurrencyMismatch = errors.New("currency mismatch")
	ErrMissingCurrency  = errors.New("currency is required")
	ErrDivisionByZero   = errors.New("division by zero")
)

// amountPattern accepts an optional integer part followed by an optional
// fractional part of 1 to 4 digits. No sign, no grouping separators.
var amountPattern = regexp.MustCompile(`^(\d+(\.\d{1,4})?|\.\d{1,4})$`)

// Money is an immutable amount in a single currency. The zero value is not
// usable; construct values via Parse, FromMinorUnits or Zero. Every operation
// returns a new value.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// Parse builds a Money from its text form, e.g. "1250.50". The text may carry
// at most four fractional digits; shorter fractions are right-padded. A
// leading minus sign is rejected with ErrNegativeAmount, any other deviation
// with ErrInvalidFormat.
func Parse(text, currency string) (Money, error) {
	if currency == "" {
		return Money{}, ErrMissingCurrency
	}
	if len(text) > 0 && text[0] == '-' {
		return Money{}, ErrNegativeAmount
	}
	if !amountPattern.MatchString(text) {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidFormat, text)
	}

	d, err := decimal.NewFromString(text)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidFormat, text)
	}

	return Money{amount: d, currency: currency}, nil
}

// FromMinorUnits builds a Money from an integer magnitude already scaled by
// 10^4, so FromMinorUnits(10500, "USD") is 1.0500 USD and FromMinorUnits(1,
// "USD") is 0.0001 USD.
func FromMinorUnits(units int64, currency string) (Money, error) {
	if currency == "" {
		return Money{}, ErrMissingCurrency
	}
	if units < 0 {
		return Money{}, ErrNegativeAmount
	}
	return Money{amount: decimal.New(units, -Scale), currency: currency}, nil
}

// Zero returns the additive identity for the given currency.
func Zero(currency string) Money {
	return Money{amount: decimal.Zero, currency: currency}
}

// Currency returns the ISO-style currency code.
func (m Money) Currency() string {
	return m.currency
}

// IsZero reports whether the magnitude is exactly zero.
func (m Money) IsZero() bool {
	return m.amount.IsZero()
}

// Add returns m + other. Both values must share a currency.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

// Subtract returns m - other. A result below zero is rejected with
// ErrNegativeAmount since amounts are non-negative by invariant.
func (m Money) Subtract(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	result := m.amount.Sub(other.amount)
	if result.IsNegative() {
		return Money{}, ErrNegativeAmount
	}
	return Money{amount: result, currency: m.currency}, nil
}

// Multiply returns m scaled by an integer factor.
func (m Money) Multiply(factor int64) (Money, error) {
	if factor < 0 {
		return Money{}, ErrNegativeAmount
	}
	return Money{amount: m.amount.Mul(decimal.NewFromInt(factor)), currency: m.currency}, nil
}

// Divide returns m divided by an integer divisor, rounded half-up at the 4th
// fractional digit. The rounding rule is fixed so results are reproducible
// across runs and platforms.
func (m Money) Divide(divisor int64) (Money, error) {
	if divisor == 0 {
		return Money{}, ErrDivisionByZero
	}
	if divisor < 0 {
		return Money{}, ErrNegativeAmount
	}
	return Money{amount: m.amount.DivRound(decimal.NewFromInt(divisor), Scale), currency: m.currency}, nil
}

// LessThan reports whether m < other. Both values must share a currency.
func (m Money) LessThan(other Money) (bool, error) {
	if err := m.sameCurrency(other); err != nil {
		return false, err
	}
	return m.amount.LessThan(other.amount), nil
}

// GreaterThan reports whether m > other. Both values must share a currency.
func (m Money) GreaterThan(other Money) (bool, error) {
	if err := m.sameCurrency(other); err != nil {
		return false, err
	}
	return m.amount.GreaterThan(other.amount), nil
}

// Equal reports whether m and other have the same magnitude. Both values must
// share a currency.
func (m Money) Equal(other Money) (bool, error) {
	if err := m.sameCurrency(other); err != nil {
		return false, err
	}
	return m.amount.Equal(other.amount), nil
}

// String renders the canonical text form with exactly four fractional digits.
// This form is used for storage and round-trips exactly through Parse.
func (m Money) String() string {
	return m.amount.StringFixed(Scale)
}

// DisplayString renders the amount rounded to two fractional digits. It is for
// presentation only and must never feed back into arithmetic or storage.
func (m Money) DisplayString() string {
	return m.amount.StringFixed(2)
}

type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// MarshalJSON encodes the amount as {"amount":"<4dp text>","currency":"<code>"}.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.String(), Currency: m.currency})
}

// UnmarshalJSON decodes the structural form produced by MarshalJSON. The
// amount text is validated with the same rules as Parse.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidFormat, err)
	}
	parsed, err := Parse(raw.Amount, raw.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m Money) sameCurrency(other Money) error {
	if m.currency != other.currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.currency, other.currency)
	}
	return nil
}
