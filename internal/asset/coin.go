package asset

import "strings"

// Coin is an amount of a single denomination attached to a request.
type Coin struct {
	Denom  string `json:"denom"`
	Amount Amount `json:"amount"`
}

// NewCoin builds a coin from a uint64 amount.
func NewCoin(denom string, amount uint64) Coin {
	return Coin{Denom: denom, Amount: NewAmount(amount)}
}

// String renders the coin as "<amount><denom>", e.g. "1000tsy".
func (c Coin) String() string {
	return c.Amount.String() + c.Denom
}

// Coins is the unordered collection of funds attached to a request.
type Coins []Coin

// IsEmpty reports whether no coin is attached. A zero-amount coin still counts.
func (cs Coins) IsEmpty() bool { return len(cs) == 0 }

// AmountOf returns the amount of the first coin whose denomination equals denom,
// or zero when none matches.
func (cs Coins) AmountOf(denom string) Amount {
	for _, c := range cs {
		if c.Denom == denom {
			return c.Amount
		}
	}
	return Zero()
}

// String renders coins comma separated.
func (cs Coins) String() string {
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, ",")
}
