package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/custody_ledger/internal/account"
	"github.com/congo-pay/custody_ledger/internal/asset"
)

type inMemoryStore struct {
	mu            sync.RWMutex
	config        *Config
	balances      map[account.Address]asset.Amount
	disbursements map[uuid.UUID]Disbursement
	pending       []uuid.UUID
}

// NewInMemory creates a concurrency-safe in-memory store useful for unit
// tests and local development. Updates are fully serialized.
func NewInMemory() Store {
	return &inMemoryStore{
		balances:      make(map[account.Address]asset.Amount),
		disbursements: make(map[uuid.UUID]Disbursement),
	}
}

func (s *inMemoryStore) Config(_ context.Context) (Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.config == nil {
		return Config{}, ErrNotInitialized
	}
	return *s.config, nil
}

func (s *inMemoryStore) InitConfig(_ context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config != nil {
		return ErrAlreadyInitialized
	}
	s.config = &cfg
	return nil
}

func (s *inMemoryStore) Balance(_ context.Context, addr account.Address) (asset.Amount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	amount, ok := s.balances[addr]
	if !ok {
		return asset.Amount{}, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	return amount, nil
}

func (s *inMemoryStore) Balances(_ context.Context, after account.Address, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	addrs := make([]account.Address, 0, len(s.balances))
	for addr := range s.balances {
		if addr > after {
			addrs = append(addrs, addr)
		}
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	if limit > 0 && len(addrs) > limit {
		addrs = addrs[:limit]
	}

	entries := make([]Entry, 0, len(addrs))
	for _, addr := range addrs {
		entries = append(entries, Entry{Address: addr, Amount: s.balances[addr]})
	}
	return entries, nil
}

func (s *inMemoryStore) Update(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &inMemoryTx{store: s, writes: make(map[account.Address]asset.Amount)}
	if err := fn(tx); err != nil {
		return err
	}

	// Stored keys must not alias caller memory such as request buffers.
	for addr, amount := range tx.writes {
		s.balances[cloneAddress(addr)] = amount
	}
	for _, d := range tx.outbox {
		d.Recipient = cloneAddress(d.Recipient)
		s.disbursements[d.ID] = d
		s.pending = append(s.pending, d.ID)
	}
	return nil
}

func (s *inMemoryStore) PendingDisbursements(_ context.Context, limit int) ([]Disbursement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.pending
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]Disbursement, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.disbursements[id])
	}
	return out, nil
}

func (s *inMemoryStore) MarkDisbursed(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, pendingID := range s.pending {
		if pendingID != id {
			continue
		}
		d := s.disbursements[id]
		sentAt := at.UTC()
		d.SentAt = &sentAt
		s.disbursements[id] = d
		s.pending = append(s.pending[:i:i], s.pending[i+1:]...)
		return nil
	}
	return fmt.Errorf("%w: disbursement %s not pending", ErrNotFound, id)
}

// inMemoryTx stages writes until the update function returns. The store lock
// is held for the whole update, so Lock is a no-op.
type inMemoryTx struct {
	store  *inMemoryStore
	writes map[account.Address]asset.Amount
	outbox []Disbursement
}

func (tx *inMemoryTx) Lock(_ context.Context, _ ...account.Address) error { return nil }

func (tx *inMemoryTx) Balance(_ context.Context, addr account.Address) (asset.Amount, bool, error) {
	if amount, ok := tx.writes[addr]; ok {
		return amount, true, nil
	}
	amount, ok := tx.store.balances[addr]
	return amount, ok, nil
}

func (tx *inMemoryTx) SetBalance(_ context.Context, addr account.Address, amount asset.Amount) error {
	tx.writes[addr] = amount
	return nil
}

func (tx *inMemoryTx) AddDisbursement(_ context.Context, d Disbursement) error {
	tx.outbox = append(tx.outbox, d)
	return nil
}

func cloneAddress(a account.Address) account.Address {
	return account.Address(strings.Clone(string(a)))
}
