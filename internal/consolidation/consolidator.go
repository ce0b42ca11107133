package consolidation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sheikh-saqib/ledger-consolidation-service/internal/date"
	interfaces "github.com/sheikh-saqib/ledger-consolidation-service/internal/interfaces"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/models"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/models/events"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/pkg/logger"
	"github.com/shopspring/decimal"
)

const opApply = "consolidation.apply"

const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = 100 * time.Millisecond
)

type Options struct {
	// MaxAttempts bounds the lookup-apply-commit cycles per event, first try included.
	MaxAttempts int
	// Backoff is multiplied by the attempt number between conflicting attempts.
	Backoff time.Duration
	Hooks   Hooks
}

// Consolidator folds ledger entry events into daily aggregates.
// It holds no locks: concurrent writers to the same day are resolved by the
// store's version check and a bounded retry.
type Consolidator struct {
	store       interfaces.AggregateStore
	log         *logger.Logger
	maxAttempts int
	backoff     time.Duration
	hooks       Hooks
}

func NewConsolidator(store interfaces.AggregateStore, log *logger.Logger, opts Options) *Consolidator {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Hooks == nil {
		opts.Hooks = noopHooks{}
	}
	return &Consolidator{
		store:       store,
		log:         log.With("service", "Consolidator"),
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		hooks:       opts.Hooks,
	}
}

// Apply adds evt to the aggregate of its day, creating the aggregate if needed.
// Applying an event whose ID was already applied is a no-op.
//
// Returned errors wrap ErrValidation, ErrInfrastructure or ErrExhaustedRetries.
func (c *Consolidator) Apply(ctx context.Context, evt events.LedgerEntryCreated) error {
	start := time.Now()
	err := c.apply(ctx, evt)
	c.hooks.ObserveOperation(opApply, Status(err), time.Since(start))
	return err
}

func (c *Consolidator) apply(ctx context.Context, evt events.LedgerEntryCreated) error {
	if err := evt.Validate(); err != nil {
		return validationError(fmt.Sprintf("event %s", evt.ID), err)
	}
	log := c.log.With("event_id", evt.ID, "date", evt.Date.String(), "kind", evt.Kind.String())

	var lastConflict error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err := c.applyOnce(ctx, evt.Entry(), log)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			log.Error("apply failed", "attempt", attempt, "error", err)
			return err
		}
		lastConflict = err
		c.hooks.IncConflict(opApply)
		if attempt == c.maxAttempts {
			break
		}

		delay := time.Duration(attempt) * c.backoff
		log.Warn("concurrency conflict, retrying", "attempt", attempt, "backoff", delay)
		c.hooks.IncRetry(opApply)
		if err := sleep(ctx, delay); err != nil {
			return infrastructureError("retry backoff", err)
		}
	}

	log.Error("giving up after concurrency conflicts", "attempts", c.maxAttempts)
	return fmt.Errorf("event %s after %d attempts: %w: %w", evt.ID, c.maxAttempts, ErrExhaustedRetries, lastConflict)
}

func (c *Consolidator) applyOnce(ctx context.Context, entry models.LedgerEntry, log *logger.Logger) error {
	uow, err := c.store.Begin(ctx)
	if err != nil {
		return infrastructureError("begin", err)
	}
	defer func() { _ = uow.Rollback() }()

	applied, err := uow.HasApplied(ctx, entry.ID)
	if err != nil {
		return infrastructureError("check applied", err)
	}
	if applied {
		log.Info("entry already applied, skipping duplicate delivery")
		return nil
	}

	agg, err := uow.GetByDate(ctx, entry.Date)
	if err != nil {
		return infrastructureError("get aggregate", err)
	}

	if agg == nil {
		latest, err := uow.GetLatest(ctx)
		if err != nil {
			return infrastructureError("get latest aggregate", err)
		}
		opening := decimal.Zero
		if latest != nil {
			opening = latest.ClosingBalance
		}
		agg = models.NewDailyAggregate(entry.Date, opening)
		if err := agg.Apply(entry); err != nil {
			return validationError("apply entry", err)
		}
		uow.Insert(agg)
	} else {
		if err := agg.Apply(entry); err != nil {
			return validationError("apply entry", err)
		}
		uow.Update(agg)
	}
	uow.MarkApplied(entry.ID, entry.Date)

	rows, err := uow.Commit(ctx)
	if err != nil {
		return infrastructureError("commit", err)
	}
	if rows == 0 {
		return fmt.Errorf("aggregate %s version %d: %w", entry.Date, agg.Version, ErrConflict)
	}

	log.Info("aggregate updated",
		"aggregate_id", agg.ID,
		"closing_balance", agg.ClosingBalance.String(),
		"transaction_count", agg.TransactionCount,
		"version", agg.Version,
	)
	return nil
}

// Aggregates returns the consolidated days between from and to inclusive.
func (c *Consolidator) Aggregates(ctx context.Context, from, to date.Date) ([]models.DailyAggregate, error) {
	if to.Before(from) {
		return nil, validationError("aggregates", fmt.Errorf("range end %s before start %s", to, from))
	}
	aggs, err := c.store.ListRange(ctx, from, to)
	if err != nil {
		return nil, infrastructureError("list aggregates", err)
	}
	return aggs, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
