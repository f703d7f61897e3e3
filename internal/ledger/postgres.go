package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/custody_ledger/internal/account"
	"github.com/congo-pay/custody_ledger/internal/asset"
)

// PostgresStore persists balances and the disbursement outbox in PostgreSQL.
// Amounts are NUMERIC(39,0) and travel as decimal text.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store. Call Migrate before use.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Config loads the singleton configuration row.
func (l *PostgresStore) Config(ctx context.Context) (Config, error) {
	var cfg Config
	err := l.db.QueryRow(ctx, `SELECT allowed_asset, version, created_at FROM ledger_config WHERE id = 1`).
		Scan(&cfg.AllowedAsset, &cfg.Version, &cfg.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Config{}, ErrNotInitialized
		}
		return Config{}, err
	}
	cfg.CreatedAt = cfg.CreatedAt.UTC()
	return cfg, nil
}

// InitConfig inserts the configuration row unless one exists.
func (l *PostgresStore) InitConfig(ctx context.Context, cfg Config) error {
	cmd, err := l.db.Exec(ctx, `INSERT INTO ledger_config (id, allowed_asset, version, created_at)
        VALUES (1, $1, $2, $3) ON CONFLICT (id) DO NOTHING`, cfg.AllowedAsset, cfg.Version, cfg.CreatedAt.UTC())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAlreadyInitialized
	}
	return nil
}

// Balance returns the stored amount for addr.
func (l *PostgresStore) Balance(ctx context.Context, addr account.Address) (asset.Amount, error) {
	var raw string
	if err := l.db.QueryRow(ctx, `SELECT amount::text FROM balances WHERE address = $1`, string(addr)).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return asset.Amount{}, fmt.Errorf("%w: %s", ErrNotFound, addr)
		}
		return asset.Amount{}, err
	}
	return asset.ParseAmount(raw)
}

// Balances scans balances in address order.
func (l *PostgresStore) Balances(ctx context.Context, after account.Address, limit int) ([]Entry, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := l.db.Query(ctx, `SELECT address, amount::text FROM balances
        WHERE address > $1 ORDER BY address LIMIT $2`, string(after), lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var addr, raw string
		if err := rows.Scan(&addr, &raw); err != nil {
			return nil, err
		}
		amount, err := asset.ParseAmount(raw)
		if err != nil {
			return nil, fmt.Errorf("balance of %s: %w", addr, err)
		}
		entries = append(entries, Entry{Address: account.Address(addr), Amount: amount})
	}
	return entries, rows.Err()
}

// Update runs fn inside a database transaction.
func (l *PostgresStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(&postgresTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// PendingDisbursements lists undelivered instructions, oldest first.
func (l *PostgresStore) PendingDisbursements(ctx context.Context, limit int) ([]Disbursement, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := l.db.Query(ctx, `SELECT id, recipient, asset, amount::text, created_at
        FROM disbursements WHERE sent_at IS NULL ORDER BY created_at, id LIMIT $1`, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Disbursement
	for rows.Next() {
		var (
			d         Disbursement
			recipient string
			raw       string
		)
		if err := rows.Scan(&d.ID, &recipient, &d.Asset, &raw, &d.CreatedAt); err != nil {
			return nil, err
		}
		if d.Amount, err = asset.ParseAmount(raw); err != nil {
			return nil, fmt.Errorf("disbursement %s: %w", d.ID, err)
		}
		d.Recipient = account.Address(recipient)
		d.CreatedAt = d.CreatedAt.UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkDisbursed flags a pending instruction as delivered.
func (l *PostgresStore) MarkDisbursed(ctx context.Context, id uuid.UUID, at time.Time) error {
	cmd, err := l.db.Exec(ctx, `UPDATE disbursements SET sent_at = $2 WHERE id = $1 AND sent_at IS NULL`, id, at.UTC())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: disbursement %s not pending", ErrNotFound, id)
	}
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

// Lock takes transaction-scoped advisory locks in sorted order, so two
// transfers between the same pair of accounts cannot deadlock. Advisory locks
// also cover addresses that have no row yet.
func (t *postgresTx) Lock(ctx context.Context, addrs ...account.Address) error {
	keys := make([]string, 0, len(addrs))
	seen := make(map[account.Address]struct{}, len(addrs))
	for _, a := range addrs {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		keys = append(keys, string(a))
	}
	sort.Strings(keys)

	for _, key := range keys {
		if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
	}
	return nil
}

func (t *postgresTx) Balance(ctx context.Context, addr account.Address) (asset.Amount, bool, error) {
	var raw string
	err := t.tx.QueryRow(ctx, `SELECT amount::text FROM balances WHERE address = $1 FOR UPDATE`, string(addr)).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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

func (t *postgresTx) SetBalance(ctx context.Context, addr account.Address, amount asset.Amount) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO balances (address, amount, updated_at) VALUES ($1, $2::numeric, NOW())
        ON CONFLICT (address) DO UPDATE SET amount = EXCLUDED.amount, updated_at = EXCLUDED.updated_at`,
		string(addr), amount.String())
	return err
}

func (t *postgresTx) AddDisbursement(ctx context.Context, d Disbursement) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO disbursements (id, recipient, asset, amount, created_at)
        VALUES ($1, $2, $3, $4::numeric, $5)`, d.ID, string(d.Recipient), d.Asset, d.Amount.String(), d.CreatedAt.UTC())
	return err
}
