package asset

import (
	"encoding/json"

	"github.com/holiman/uint256"
)

// Sum aggregates amounts across accounts. Each amount fits in 128 bits but
// their sum may not, so a Sum keeps the full 256-bit width.
type Sum struct {
	v uint256.Int
}

// Add accumulates a into the sum.
func (s *Sum) Add(a Amount) {
	s.v.Add(&s.v, &a.v)
}

// IsZero reports whether nothing non-zero was added.
func (s Sum) IsZero() bool { return s.v.IsZero() }

// Uint64 returns the sum truncated to 64 bits and whether it fit.
func (s Sum) Uint64() (uint64, bool) {
	return s.v.Uint64(), s.v.IsUint64()
}

// Amount returns the sum as an Amount, or ErrOverflow when it leaves the
// 128-bit range.
func (s Sum) Amount() (Amount, error) {
	if s.v.BitLen() > MaxBits {
		return Amount{}, ErrOverflow
	}
	return Amount{v: s.v}, nil
}

// String renders the sum in base 10.
func (s Sum) String() string { return s.v.ToBig().String() }

// MarshalJSON encodes the sum as a JSON string, like Amount.
func (s Sum) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }
