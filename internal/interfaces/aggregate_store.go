package interfaces

import (
	"context"

	"github.com/google/uuid"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/date"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/models"
)

type AggregateStore interface {
	// Begin opens a unit of work. Reads see committed state; writes are
	// staged and only reach storage on Commit.
	Begin(ctx context.Context) (UnitOfWork, error)
	// ListRange returns the aggregates between from and to inclusive, ordered by date.
	ListRange(ctx context.Context, from, to date.Date) ([]models.DailyAggregate, error)
}

type UnitOfWork interface {
	GetByDate(ctx context.Context, on date.Date) (*models.DailyAggregate, error)
	// GetLatest returns the aggregate with the greatest date, or nil when the store is empty.
	GetLatest(ctx context.Context) (*models.DailyAggregate, error)
	HasApplied(ctx context.Context, eventID uuid.UUID) (bool, error)

	Insert(agg *models.DailyAggregate)
	// Update stages a write guarded by agg.Version as read.
	Update(agg *models.DailyAggregate)
	MarkApplied(eventID uuid.UUID, on date.Date)

	// Commit writes everything staged atomically and returns the rows
	// affected. Zero means a guard failed (version moved, date already
	// taken, event already applied) and nothing was written.
	Commit(ctx context.Context) (int64, error)
	// Rollback discards staged writes. Safe to call after Commit.
	Rollback() error
}
