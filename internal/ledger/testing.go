package ledger

import (
	"github.com/congo-pay/custody_ledger/internal/account"
	"github.com/congo-pay/custody_ledger/internal/asset"
)

// SeedBalance is a test helper that sets the balance of an account directly
// when using the in-memory store. It bypasses deposit accounting.
func SeedBalance(s Store, addr account.Address, amount asset.Amount) {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.balances[addr] = amount
	}
}
