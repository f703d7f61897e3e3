package ledger

import (
	"context"
	"errors"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/custody_ledger/internal/asset"
)

func newRedisStore(t *testing.T, opts ...RedisOption) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return NewRedisStore(client, opts...), mr
}

func TestRedisStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, _ := newRedisStore(t, WithRedisMaxRetries(100))
		return s
	})
}

func TestRedisStore_KeyLayout(t *testing.T) {
	s, mr := newRedisStore(t, WithRedisPrefix("custody:test"))
	svc := newTestService(t, s)
	ctx := context.Background()
	a := codec.MustGenerate()

	if _, err := svc.Deposit(ctx, a, tsy(12)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := svc.Withdraw(ctx, a, nil, amt(2)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	if got := mr.HGet("custody:test:balances", a.String()); got != "10" {
		t.Fatalf("expected decimal balance 10 in hash, got %q", got)
	}
	if !mr.Exists("custody:test:config") {
		t.Fatal("config key missing")
	}
	members, err := mr.ZMembers("custody:test:disbursements:pending")
	if err != nil || len(members) != 1 {
		t.Fatalf("expected one pending disbursement, got %v (%v)", members, err)
	}
}

func TestRedisStore_ConflictExhaustsRetries(t *testing.T) {
	s, mr := newRedisStore(t, WithRedisMaxRetries(2))
	ctx := context.Background()
	a := codec.MustGenerate()
	other := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer other.Close()

	err := s.Update(ctx, func(tx Tx) error {
		if _, _, err := tx.Balance(ctx, a); err != nil {
			return err
		}
		// A write from outside the transaction invalidates the WATCH.
		if err := other.HSet(ctx, s.balancesKey(), "tsy_other", "1").Err(); err != nil {
			return err
		}
		return tx.SetBalance(ctx, a, asset.NewAmount(5))
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := s.Balance(ctx, a); !errors.Is(err, ErrNotFound) {
		t.Fatalf("conflicting update must not commit, got %v", err)
	}
}
