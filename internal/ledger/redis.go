package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/custody_ledger/internal/account"
	"github.com/congo-pay/custody_ledger/internal/asset"
)

const (
	defaultRedisPrefix     = "custody:v1"
	defaultRedisMaxRetries = 8
)

// ErrConflict is returned when an optimistic Redis update keeps losing races.
var ErrConflict = errors.New("concurrent update conflict")

// RedisStore keeps the ledger in Redis:
//
//	<prefix>:config                 JSON Config (SETNX)
//	<prefix>:balances               hash address -> decimal amount
//	<prefix>:disbursements          hash id -> JSON Disbursement
//	<prefix>:disbursements:pending  sorted set id scored by creation time
//
// Updates WATCH the balances hash and commit through MULTI/EXEC, retrying when
// another writer got there first.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	maxRetries int
}

// RedisOption customizes a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix namespaces all keys.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithRedisMaxRetries bounds optimistic retries per update.
func WithRedisMaxRetries(n int) RedisOption {
	return func(s *RedisStore) { s.maxRetries = n }
}

// NewRedisStore builds a Redis-backed store.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: defaultRedisPrefix, maxRetries: defaultRedisMaxRetries}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) configKey() string        { return s.prefix + ":config" }
func (s *RedisStore) balancesKey() string      { return s.prefix + ":balances" }
func (s *RedisStore) disbursementsKey() string { return s.prefix + ":disbursements" }
func (s *RedisStore) pendingKey() string       { return s.prefix + ":disbursements:pending" }

func (s *RedisStore) Config(ctx context.Context) (Config, error) {
	raw, err := s.client.Get(ctx, s.configKey()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Config{}, ErrNotInitialized
		}
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func (s *RedisStore) InitConfig(ctx context.Context, cfg Config) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.configKey(), payload, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyInitialized
	}
	return nil
}

func (s *RedisStore) Balance(ctx context.Context, addr account.Address) (asset.Amount, error) {
	raw, err := s.client.HGet(ctx, s.balancesKey(), string(addr)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return asset.Amount{}, fmt.Errorf("%w: %s", ErrNotFound, addr)
		}
		return asset.Amount{}, err
	}
	return asset.ParseAmount(raw)
}

// Balances loads the whole hash and sorts it client-side.
func (s *RedisStore) Balances(ctx context.Context, after account.Address, limit int) ([]Entry, error) {
	all, err := s.client.HGetAll(ctx, s.balancesKey()).Result()
	if err != nil {
		return nil, err
	}

	addrs := make([]string, 0, len(all))
	for addr := range all {
		if addr > string(after) {
			addrs = append(addrs, addr)
		}
	}
	sort.Strings(addrs)
	if limit > 0 && len(addrs) > limit {
		addrs = addrs[:limit]
	}

	entries := make([]Entry, 0, len(addrs))
	for _, addr := range addrs {
		amount, err := asset.ParseAmount(all[addr])
		if err != nil {
			return nil, fmt.Errorf("balance of %s: %w", addr, err)
		}
		entries = append(entries, Entry{Address: account.Address(addr), Amount: amount})
	}
	return entries, nil
}

func (s *RedisStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
			tx := &redisTx{store: s, rtx: rtx, writes: make(map[account.Address]asset.Amount)}
			if err := fn(tx); err != nil {
				return err
			}
			return tx.commit(ctx)
		}, s.balancesKey())
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w after %d attempts", ErrConflict, s.maxRetries)
}

func (s *RedisStore) PendingDisbursements(ctx context.Context, limit int) ([]Disbursement, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRange(ctx, s.pendingKey(), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	raws, err := s.client.HMGet(ctx, s.disbursementsKey(), ids...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Disbursement, 0, len(raws))
	for i, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("disbursement %s missing from outbox", ids[i])
		}
		var d Disbursement
		if err := json.Unmarshal([]byte(str), &d); err != nil {
			return nil, fmt.Errorf("decode disbursement %s: %w", ids[i], err)
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *RedisStore) MarkDisbursed(ctx context.Context, id uuid.UUID, at time.Time) error {
	key := id.String()
	removed, err := s.client.ZRem(ctx, s.pendingKey(), key).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return fmt.Errorf("%w: disbursement %s not pending", ErrNotFound, id)
	}

	raw, err := s.client.HGet(ctx, s.disbursementsKey(), key).Bytes()
	if err != nil {
		return err
	}
	var d Disbursement
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("decode disbursement %s: %w", id, err)
	}
	sentAt := at.UTC()
	d.SentAt = &sentAt
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.disbursementsKey(), key, payload).Err()
}

type redisTx struct {
	store  *RedisStore
	rtx    *redis.Tx
	writes map[account.Address]asset.Amount
	outbox []Disbursement
}

// Lock is a no-op: the whole balances hash is watched.
func (t *redisTx) Lock(_ context.Context, _ ...account.Address) error { return nil }

func (t *redisTx) Balance(ctx context.Context, addr account.Address) (asset.Amount, bool, error) {
	if amount, ok := t.writes[addr]; ok {
		return amount, true, nil
	}
	raw, err := t.rtx.HGet(ctx, t.store.balancesKey(), string(addr)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return asset.Amount{}, false, nil
		}
		return asset.Amount{}, false, err
	}
	amount, err := asset.ParseAmount(raw)
	if err != nil {
		return asset.Amount{}, false, err
	}
	return amount, true, nil
}

func (t *redisTx) SetBalance(_ context.Context, addr account.Address, amount asset.Amount) error {
	t.writes[addr] = amount
	return nil
}

func (t *redisTx) AddDisbursement(_ context.Context, d Disbursement) error {
	t.outbox = append(t.outbox, d)
	return nil
}

func (t *redisTx) commit(ctx context.Context) error {
	if len(t.writes) == 0 && len(t.outbox) == 0 {
		return nil
	}

	outbox := make([][]byte, 0, len(t.outbox))
	for _, d := range t.outbox {
		payload, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("encode disbursement %s: %w", d.ID, err)
		}
		outbox = append(outbox, payload)
	}

	_, err := t.rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for addr, amount := range t.writes {
			pipe.HSet(ctx, t.store.balancesKey(), string(addr), amount.String())
		}
		for i, d := range t.outbox {
			pipe.HSet(ctx, t.store.disbursementsKey(), d.ID.String(), outbox[i])
			pipe.ZAdd(ctx, t.store.pendingKey(), redis.Z{
				Score:  float64(d.CreatedAt.UnixNano()),
				Member: d.ID.String(),
			})
		}
		return nil
	})
	return err
}
