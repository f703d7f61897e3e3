package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type migration struct {
	version int
	name    string
	sql     string
}

// Balances use the "C" collation so range scans order addresses bytewise,
// matching the other backends.
var migrations = []migration{
	{
		version: 1,
		name:    "create_ledger_config",
		sql: `
CREATE TABLE IF NOT EXISTS ledger_config (
    id            SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
    allowed_asset TEXT NOT NULL,
    version       TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
	},
	{
		version: 2,
		name:    "create_balances",
		sql: `
CREATE TABLE IF NOT EXISTS balances (
    address    TEXT COLLATE "C" PRIMARY KEY,
    amount     NUMERIC(39, 0) NOT NULL CHECK (amount >= 0),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
	},
	{
		version: 3,
		name:    "create_disbursements",
		sql: `
CREATE TABLE IF NOT EXISTS disbursements (
    id         UUID PRIMARY KEY,
    recipient  TEXT NOT NULL,
    asset      TEXT NOT NULL,
    amount     NUMERIC(39, 0) NOT NULL CHECK (amount > 0),
    created_at TIMESTAMPTZ NOT NULL,
    sent_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_disbursements_pending
    ON disbursements (created_at, id) WHERE sent_at IS NULL;`,
	},
}

// Migrate applies pending schema migrations in order, each in its own transaction.
func (l *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := l.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
        version    INT PRIMARY KEY,
        name       TEXT NOT NULL,
        applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    )`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		if err := l.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %d %s: %w", m.version, m.name, err)
		}
	}
	return nil
}

func (l *PostgresStore) applyMigration(ctx context.Context, m migration) error {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	// Serializes concurrent migrators.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended('schema_migrations', 0))`); err != nil {
		return err
	}

	var applied bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, m.version).Scan(&applied); err != nil {
		return err
	}
	if applied {
		return nil
	}

	if _, err := tx.Exec(ctx, m.sql); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.version, m.name); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
