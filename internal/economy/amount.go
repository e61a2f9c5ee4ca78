package economy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cockroachdb/apd/v3"
)

// DefaultUnits is the number of subdivisions balances are floored to.
const DefaultUnits = 100

// ErrInsufficientFunds is returned when a debit would take a balance
// below zero.
var ErrInsufficientFunds = errors.New("insufficient funds")

// decimalCtx carries every computation. 34 digits is decimal128.
var decimalCtx = apd.BaseContext.WithPrecision(34)

// Amount is an immutable exact decimal. The zero value is 0.
type Amount struct {
	d *apd.Decimal
}

// ParseAmount reads a decimal string. The empty string is 0.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, nil
	}
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.Form != apd.Finite {
		return Amount{}, fmt.Errorf("parse amount %q: not a finite number", s)
	}
	return Amount{d: d}, nil
}

// MustAmount is ParseAmount for literals; it panics on bad input.
func MustAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromInt returns n as an amount.
func FromInt(n int64) Amount {
	return Amount{d: apd.New(n, 0)}
}

func (a Amount) dec() *apd.Decimal {
	if a.d == nil {
		return apd.New(0, 0)
	}
	return a.d
}

type binaryOp func(d, x, y *apd.Decimal) (apd.Condition, error)

func apply(op binaryOp, x, y Amount) Amount {
	out := new(apd.Decimal)
	if _, err := op(out, x.dec(), y.dec()); err != nil {
		// Only division by zero or overflow past 34 digits land here.
		panic(fmt.Sprintf("amount arithmetic: %v", err))
	}
	return Amount{d: out}
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount { return apply(decimalCtx.Add, a, b) }

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount { return apply(decimalCtx.Sub, a, b) }

// Mul returns a × b.
func (a Amount) Mul(b Amount) Amount { return apply(decimalCtx.Mul, a, b) }

// Quo returns a / b. Panics if b is zero.
func (a Amount) Quo(b Amount) Amount { return apply(decimalCtx.Quo, a, b) }

// Cmp compares a and b like strings.Compare.
func (a Amount) Cmp(b Amount) int { return a.dec().Cmp(b.dec()) }

// Sign returns -1, 0 or 1.
func (a Amount) Sign() int { return a.dec().Sign() }

// IsZero reports whether a is 0.
func (a Amount) IsZero() bool { return a.dec().IsZero() }

// Floor rounds a down to a multiple of 1/units.
func (a Amount) Floor(units int64) Amount {
	if units <= 0 {
		units = DefaultUnits
	}
	u := FromInt(units)
	scaled := a.Mul(u)
	floored := new(apd.Decimal)
	if _, err := decimalCtx.Floor(floored, scaled.dec()); err != nil {
		panic(fmt.Sprintf("amount floor: %v", err))
	}
	return Amount{d: floored}.Quo(u)
}

// String is the canonical form: no exponent, no trailing zeros. Equal
// amounts always print the same.
func (a Amount) String() string {
	reduced := new(apd.Decimal)
	reduced.Reduce(a.dec())
	return reduced.Text('f')
}

// Fixed prints a with exactly places digits after the point, rounding
// toward zero.
func (a Amount) Fixed(places int32) string {
	out := new(apd.Decimal)
	c := decimalCtx.WithPrecision(decimalCtx.Precision)
	c.Rounding = apd.RoundDown
	if _, err := c.Quantize(out, a.dec(), -places); err != nil {
		return a.String()
	}
	return out.Text('f')
}

// MarshalText implements encoding.TextMarshaler.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Amount) UnmarshalText(b []byte) error {
	parsed, err := ParseAmount(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
