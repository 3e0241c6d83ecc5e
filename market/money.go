/*
money.go - Integer minor-unit amounts

PURPOSE:
  Prices and transaction amounts are carried as int64 minor units (cents)
  from the catalog to the payment provider. Decimal major-unit strings
  ("19.99") only exist at the API edge and are converted here with
  shopspring/decimal so no float rounding ever reaches a stored amount.

SEE ALSO:
  - types.go: Book.Price and Transaction.Amount
  - api/dto.go: Major-unit rendering in responses
*/
package market

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount is returned for unparseable or negative prices.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrTooPrecise is returned when a price has more decimals than the currency allows.
	ErrTooPrecise = errors.New("amount has more precision than the currency minor unit")
)

// maxMinor keeps amounts exactly representable as a JSON number.
var maxMinor = decimal.NewFromInt(1 << 53)

// Money is an amount in the currency's smallest unit.
type Money struct {
	Amount   int64
	Currency string
}

// NewMoney builds a Money from minor units. The currency code is lower-cased.
func NewMoney(minor int64, currency string) Money {
	return Money{Amount: minor, Currency: strings.ToLower(currency)}
}

// ParseMoney converts a major-unit string such as "19.99" into minor units.
func ParseMoney(major, currency string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(major))
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, major)
	}
	return FromMajor(d, currency)
}

// FromMajor converts a decimal major-unit value into minor units.
func FromMajor(d decimal.Decimal, currency string) (Money, error) {
	if d.IsNegative() {
		return Money{}, fmt.Errorf("%w: negative", ErrInvalidAmount)
	}
	places := currencyDecimals(currency)
	minor := d.Shift(places)
	if !minor.IsInteger() {
		return Money{}, fmt.Errorf("%w: %s", ErrTooPrecise, d.String())
	}
	if minor.GreaterThan(maxMinor) {
		return Money{}, fmt.Errorf("%w: out of range", ErrInvalidAmount)
	}
	return NewMoney(minor.IntPart(), currency), nil
}

// Major returns the amount in major units.
func (m Money) Major() decimal.Decimal {
	return decimal.New(m.Amount, -int32(currencyDecimals(m.Currency)))
}

// FormatMajor renders the amount with exactly the currency's decimals ("19.99").
func (m Money) FormatMajor() string {
	return m.Major().StringFixed(currencyDecimals(m.Currency))
}

// Float64 is the major-unit amount for JSON responses.
func (m Money) Float64() float64 {
	f, _ := m.Major().Float64()
	return f
}

func (m Money) String() string {
	return m.FormatMajor() + " " + strings.ToUpper(m.Currency)
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// currencyDecimals is the minor-unit exponent for ISO 4217 codes in use.
func currencyDecimals(currency string) int32 {
	switch strings.ToLower(currency) {
	case "jpy", "krw", "vnd", "clp", "isk", "ugx":
		return 0
	case "bhd", "kwd", "omr", "jod", "tnd":
		return 3
	default:
		return 2
	}
}
