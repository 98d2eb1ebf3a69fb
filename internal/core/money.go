package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MaxCents is the largest accepted single amount, 100 billion units. Sums of
// up to ~900k such amounts still fit in int64.
const MaxCents int64 = 1e13

var (
	hundred   = decimal.NewFromInt(100)
	maxAmount = decimal.New(MaxCents, -2)
)

// ParseDecimalToCents converts a positive decimal string to cents.
//
// Both dot (12.34) and comma (12,34) separators are accepted and the third
// fractional digit is rounded half-up. Signs, exponents, zero and values that
// would overflow are rejected with ErrInvalidAmount.
//
//	ParseDecimalToCents("12,34")  -> 1234
//	ParseDecimalToCents("12.345") -> 1235
//	ParseDecimalToCents("12.344") -> 1234
func ParseDecimalToCents(s string) (int64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" {
		return 0, ErrInvalidAmount
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return 0, ErrInvalidAmount
		}
	}
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if d.GreaterThan(maxAmount) {
		return 0, ErrInvalidAmount
	}
	cents := d.Mul(hundred).Round(0).IntPart()
	if cents <= 0 {
		return 0, ErrInvalidAmount
	}
	return cents, nil
}

// ParseMoney is ParseDecimalToCents wrapped in a Money.
func ParseMoney(s string) (Money, error) {
	cents, err := ParseDecimalToCents(s)
	if err != nil {
		return Money{}, err
	}
	return Money{Cents: cents}, nil
}

func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }
func (m Money) Sub(o Money) Money { return Money{Cents: m.Cents - o.Cents} }
func (m Money) IsZero() bool      { return m.Cents == 0 }

// Decimal returns the amount in currency units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// Float is for charting only; arithmetic stays in cents.
func (m Money) Float() float64 {
	return m.Decimal().InexactFloat64()
}

// String renders the amount with two decimals, e.g. "12.30".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// MarshalJSON encodes the amount as a JSON number with two decimals.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts a JSON number or string. Zero and negative values are
// allowed here; input validation is up to Validate. Magnitudes above the
// amount ceiling are rejected.
func (m *Money) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*m = Money{}
		return nil
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", "."))
	if err != nil || d.Abs().GreaterThan(maxAmount) {
		return ErrInvalidAmount
	}
	*m = Money{Cents: d.Mul(hundred).Round(0).IntPart()}
	return nil
}
