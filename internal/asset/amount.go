package asset

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// MaxBits is the width of the amount range. Amounts never exceed 2^128-1.
const MaxBits = 128

var (
	// ErrInvalidAmount is returned when an amount string is not a base-10 unsigned integer.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrOverflow indicates a result above the 128-bit range.
	ErrOverflow = errors.New("amount overflow")
	// ErrUnderflow indicates a subtraction that would go below zero.
	ErrUnderflow = errors.New("amount underflow")
)

// Amount is a non-negative integer quantity of an asset in its smallest unit.
// The zero value is zero.
type Amount struct {
	v uint256.Int
}

// Zero returns the zero amount.
func Zero() Amount { return Amount{} }

// NewAmount builds an amount from a uint64.
func NewAmount(n uint64) Amount {
	var a Amount
	a.v.SetUint64(n)
	return a
}

// ParseAmount parses a base-10 string such as "1000".
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
	}
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if b.BitLen() > MaxBits {
		return Amount{}, fmt.Errorf("%w: %s", ErrOverflow, s)
	}
	u, _ := uint256.FromBig(b)
	return Amount{v: *u}, nil
}

// MustParseAmount is ParseAmount that panics on error. Intended for constants and tests.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool { return a.v.IsZero() }

// Cmp compares a and b and returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int { return a.v.Cmp(&b.v) }

// Equal reports whether a == b.
func (a Amount) Equal(b Amount) bool { return a.v.Eq(&b.v) }

// LessThan reports whether a < b.
func (a Amount) LessThan(b Amount) bool { return a.v.Lt(&b.v) }

// Add returns a+b, or ErrOverflow when the sum leaves the 128-bit range.
func (a Amount) Add(b Amount) (Amount, error) {
	var out Amount
	if _, overflow := out.v.AddOverflow(&a.v, &b.v); overflow || out.v.BitLen() > MaxBits {
		return Amount{}, ErrOverflow
	}
	return out, nil
}

// Sub returns a-b, or ErrUnderflow when b > a.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a.v.Lt(&b.v) {
		return Amount{}, ErrUnderflow
	}
	var out Amount
	out.v.Sub(&a.v, &b.v)
	return out, nil
}

// Uint64 returns the amount truncated to 64 bits and whether it fit.
func (a Amount) Uint64() (uint64, bool) {
	return a.v.Uint64(), a.v.IsUint64()
}

// String renders the amount in base 10.
func (a Amount) String() string { return a.v.ToBig().String() }

// MarshalText implements encoding.TextMarshaler.
func (a Amount) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalJSON encodes the amount as a JSON string so clients without
// arbitrary precision numbers keep every digit.
func (a Amount) MarshalJSON() ([]byte, error) { return json.Marshal(a.String()) }

// UnmarshalJSON accepts either a JSON string or a bare JSON integer.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		s = string(data)
	}
	return a.UnmarshalText([]byte(s))
}
