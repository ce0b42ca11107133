package postgres

import (
	"context"
	"database/sql"
)

// schema is the minimal DDL the store needs. Versioned migrations are owned
// by the deployment, this only covers local runs and tests.
const schema = `
CREATE TABLE IF NOT EXISTS daily_aggregates (
	id                UUID PRIMARY KEY,
	date              DATE NOT NULL,
	opening_balance   NUMERIC NOT NULL,
	total_debits      NUMERIC NOT NULL CHECK (total_debits >= 0),
	total_credits     NUMERIC NOT NULL CHECK (total_credits >= 0),
	closing_balance   NUMERIC NOT NULL,
	transaction_count INTEGER NOT NULL CHECK (transaction_count >= 0),
	updated_at        TIMESTAMPTZ NOT NULL,
	version           BIGINT NOT NULL,
	CONSTRAINT daily_aggregates_date_key UNIQUE (date)
);

CREATE TABLE IF NOT EXISTS applied_ledger_events (
	event_id   UUID PRIMARY KEY,
	date       DATE NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL
);
`

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
