// Package fixedpoint implements the 8-digit decimal arithmetic used for every
// price, amount, balance and commission value in the exchange.
//
// Values are backed by shopspring/decimal and always normalised to Scale
// fractional digits. Products and differences are truncated toward zero, which
// matches how the ledger has always settled the last digit of a commission.
// Binary floating point is never used.
package fixedpoint

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits carried by every Value.
const Scale = 8

// MaxIntegerDigits bounds the integer part of a parsed Value. Storage columns
// are NUMERIC(28,8).
const MaxIntegerDigits = 20

// ErrOutOfRange is returned by Parse for inputs that cannot be stored.
var ErrOutOfRange = errors.New("decimal out of range")

var maxMagnitude = decimal.New(1, MaxIntegerDigits)

// Value is a non-float decimal with exactly Scale fractional digits.
// The zero value is 0.00000000 and is ready to use.
type Value struct {
	d decimal.Decimal
}

// Zero is 0.00000000.
var Zero = Value{}

// Parse converts a plain decimal string into a Value. Inputs with more than
// Scale fractional digits are rejected rather than silently truncated.
// Exponent notation and integer parts longer than MaxIntegerDigits return
// ErrOutOfRange.
func Parse(s string) (Value, error) {
	if strings.ContainsAny(s, "eE") {
		return Zero, fmt.Errorf("invalid decimal %q: exponent notation: %w", s, ErrOutOfRange)
	}
	if len(s) > MaxIntegerDigits+Scale+64 {
		return Zero, fmt.Errorf("invalid decimal %q: %w", s[:16]+"...", ErrOutOfRange)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	if d.Abs().GreaterThanOrEqual(maxMagnitude) {
		return Zero, fmt.Errorf("invalid decimal %q: more than %d integer digits: %w", s, MaxIntegerDigits, ErrOutOfRange)
	}
	if d.Exponent() < -Scale && !d.Equal(d.Truncate(Scale)) {
		return Zero, fmt.Errorf("invalid decimal %q: more than %d fractional digits", s, Scale)
	}
	return Value{d: d.Truncate(Scale)}, nil
}

// MustParse is like Parse but panics on error. Intended for constants and tests.
func MustParse(s string) Value {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FromInt returns n as a Value.
func FromInt(n int64) Value {
	return Value{d: decimal.NewFromInt(n)}
}

// Add returns v + o. Sums of Scale-digit values never need truncation.
func (v Value) Add(o Value) Value {
	return Value{d: v.d.Add(o.d)}
}

// Sub returns v - o truncated to Scale digits.
func (v Value) Sub(o Value) Value {
	return Value{d: v.d.Sub(o.d).Truncate(Scale)}
}

// Mul returns v * o truncated toward zero to Scale digits.
func (v Value) Mul(o Value) Value {
	return Value{d: v.d.Mul(o.d).Truncate(Scale)}
}

// Cmp compares v and o: -1 if v < o, 0 if equal, +1 if v > o.
func (v Value) Cmp(o Value) int {
	return v.d.Cmp(o.d)
}

// Equal reports whether v == o numerically ("1.5" equals "1.50000000").
func (v Value) Equal(o Value) bool {
	return v.d.Equal(o.d)
}

// LessThan reports whether v < o.
func (v Value) LessThan(o Value) bool {
	return v.d.LessThan(o.d)
}

// IsPositive reports whether v > 0.
func (v Value) IsPositive() bool {
	return v.d.IsPositive()
}

// IsNegative reports whether v < 0.
func (v Value) IsNegative() bool {
	return v.d.IsNegative()
}

// IsZero reports whether v == 0.
func (v Value) IsZero() bool {
	return v.d.IsZero()
}

// String renders v with exactly Scale fractional digits, e.g. "45500.00000000".
func (v Value) String() string {
	return v.d.StringFixed(Scale)
}

// Decimal exposes the underlying decimal for callers that need to format it.
func (v Value) Decimal() decimal.Decimal {
	return v.d
}

// MarshalJSON encodes v as a quoted fixed-scale string so that clients never
// round-trip money through a float.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

// UnmarshalJSON accepts both quoted strings and bare JSON numbers.
func (v *Value) UnmarshalJSON(b []byte) error {
	var s string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	} else {
		s = string(b)
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Value implements driver.Valuer; NUMERIC columns receive the fixed-scale text form.
func (v Value) Value() (driver.Value, error) {
	return v.String(), nil
}

// Scan implements sql.Scanner for NUMERIC columns selected as text.
func (v *Value) Scan(src any) error {
	switch s := src.(type) {
	case string:
		parsed, err := Parse(s)
		if err != nil {
			return err
		}
		*v = parsed
		return nil
	case []byte:
		parsed, err := Parse(string(s))
		if err != nil {
			return err
		}
		*v = parsed
		return nil
	case nil:
		*v = Zero
		return nil
	default:
		return fmt.Errorf("cannot scan %T into fixedpoint.Value", src)
	}
}
