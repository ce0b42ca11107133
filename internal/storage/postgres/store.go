package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/date"
	interfaces "github.com/sheikh-saqib/ledger-consolidation-service/internal/interfaces" // interface AggregateStore
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/models"
)

const aggregateColumns = `id, date, opening_balance, total_debits, total_credits, closing_balance, transaction_count, updated_at, version`

type PostgresAggregateStore struct {
	db *sql.DB
}

func NewPostgresAggregateStore(db *sql.DB) *PostgresAggregateStore {
	return &PostgresAggregateStore{
		db: db,
	}
}

// Open connects to dsn and checks the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

func (p *PostgresAggregateStore) Begin(ctx context.Context) (interfaces.UnitOfWork, error) {
	dbTx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &postgresUnitOfWork{tx: dbTx}, nil
}

func (p *PostgresAggregateStore) ListRange(ctx context.Context, from, to date.Date) ([]models.DailyAggregate, error) {
	const query = `SELECT ` + aggregateColumns + ` FROM daily_aggregates
	WHERE date BETWEEN $1 AND $2 ORDER BY date`

	rows, err := p.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var aggregates []models.DailyAggregate
	for rows.Next() {
		var agg models.DailyAggregate
		if err := scanAggregate(rows, &agg); err != nil {
			return nil, err
		}
		aggregates = append(aggregates, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return aggregates, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAggregate(row scanner, agg *models.DailyAggregate) error {
	return row.Scan(
		&agg.ID,
		&agg.Date,
		&agg.OpeningBalance,
		&agg.TotalDebits,
		&agg.TotalCredits,
		&agg.ClosingBalance,
		&agg.TransactionCount,
		&agg.UpdatedAt,
		&agg.Version,
	)
}

type appliedEvent struct {
	id uuid.UUID
	on date.Date
}

type postgresUnitOfWork struct {
	tx      *sql.Tx
	inserts []*models.DailyAggregate
	updates []*models.DailyAggregate
	applied []appliedEvent
	done    bool
}

func (u *postgresUnitOfWork) getOne(ctx context.Context, query string, args ...any) (*models.DailyAggregate, error) {
	var agg models.DailyAggregate
	err := scanAggregate(u.tx.QueryRowContext(ctx, query, args...), &agg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (u *postgresUnitOfWork) GetByDate(ctx context.Context, on date.Date) (*models.DailyAggregate, error) {
	const query = `SELECT ` + aggregateColumns + ` FROM daily_aggregates WHERE date = $1`
	return u.getOne(ctx, query, on)
}

func (u *postgresUnitOfWork) GetLatest(ctx context.Context) (*models.DailyAggregate, error) {
	const query = `SELECT ` + aggregateColumns + ` FROM daily_aggregates ORDER BY date DESC LIMIT 1`
	return u.getOne(ctx, query)
}

func (u *postgresUnitOfWork) HasApplied(ctx context.Context, eventID uuid.UUID) (bool, error) {
	const query = `SELECT 1 FROM applied_ledger_events WHERE event_id = $1 LIMIT 1`

	var exists int
	err := u.tx.QueryRowContext(ctx, query, eventID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (u *postgresUnitOfWork) Insert(agg *models.DailyAggregate) { u.inserts = append(u.inserts, agg) }

func (u *postgresUnitOfWork) Update(agg *models.DailyAggregate) { u.updates = append(u.updates, agg) }

func (u *postgresUnitOfWork) MarkApplied(eventID uuid.UUID, on date.Date) {
	u.applied = append(u.applied, appliedEvent{id: eventID, on: on})
}

// Commit runs the staged statements in the transaction. Any statement that
// touches no row rolls the whole transaction back and reports zero rows.
func (u *postgresUnitOfWork) Commit(ctx context.Context) (rows int64, err error) {
	if u.done {
		return 0, errors.New("unit of work already finished")
	}
	u.done = true

	defer func() {
		if err != nil || rows == 0 {
			_ = u.tx.Rollback()
		}
	}()

	const insertQuery = `INSERT INTO daily_aggregates (` + aggregateColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,1)
	ON CONFLICT (date) DO NOTHING`

	const updateQuery = `UPDATE daily_aggregates SET
		opening_balance = $3, total_debits = $4, total_credits = $5, closing_balance = $6,
		transaction_count = $7, updated_at = $8, version = version + 1
	WHERE id = $1 AND version = $2`

	const appliedQuery = `INSERT INTO applied_ledger_events (event_id, date, applied_at)
	VALUES ($1,$2,now())
	ON CONFLICT (event_id) DO NOTHING`

	var total int64
	exec := func(query string, args ...any) (bool, error) {
		res, err := u.tx.ExecContext(ctx, query, args...)
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		total += n
		return n > 0, nil
	}

	for _, agg := range u.inserts {
		ok, err := exec(insertQuery, agg.ID, agg.Date, agg.OpeningBalance, agg.TotalDebits, agg.TotalCredits,
			agg.ClosingBalance, agg.TransactionCount, agg.UpdatedAt)
		if err != nil || !ok {
			return 0, conflictOrErr("insert aggregate", err)
		}
	}
	for _, agg := range u.updates {
		ok, err := exec(updateQuery, agg.ID, agg.Version, agg.OpeningBalance, agg.TotalDebits, agg.TotalCredits,
			agg.ClosingBalance, agg.TransactionCount, agg.UpdatedAt)
		if err != nil || !ok {
			return 0, conflictOrErr("update aggregate", err)
		}
	}
	for _, ev := range u.applied {
		ok, err := exec(appliedQuery, ev.id, ev.on)
		if err != nil || !ok {
			return 0, conflictOrErr("mark applied", err)
		}
	}

	if err := u.tx.Commit(); err != nil {
		return 0, conflictOrErr("commit", err)
	}
	for _, agg := range u.inserts {
		agg.Version = 1
	}
	for _, agg := range u.updates {
		agg.Version++
	}
	return total, nil
}

func (u *postgresUnitOfWork) Rollback() error {
	err := u.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// conflictOrErr folds concurrency failures into the zero-rows result and
// wraps everything else. A nil err means the statement matched no row.
func conflictOrErr(op string, err error) error {
	if err == nil || isConflict(err) {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "23505", // unique_violation
		"40001", // serialization_failure
		"40P01": // deadlock_detected
		return true
	}
	return false
}

var _ interfaces.AggregateStore = (*PostgresAggregateStore)(nil)
