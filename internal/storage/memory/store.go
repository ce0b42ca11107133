package memory

import (
	"context" // request-scoped cancellation for the store contract
	"errors"
	"sort"
	"sync" // guards the maps below

	"github.com/google/uuid"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/date"
	interfaces "github.com/sheikh-saqib/ledger-consolidation-service/internal/interfaces" // interface AggregateStore
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/models"                // domain models: DailyAggregate
)

var errFinished = errors.New("unit of work already finished")

// MemoryAggregateStore is an in-memory implementation of interfaces.AggregateStore.
// The date key gives one aggregate per day and Version is compared on every
// update, the same guards the postgres store relies on.
type MemoryAggregateStore struct {
	mu         sync.Mutex                          // protects both maps
	aggregates map[date.Date]models.DailyAggregate // one row per calendar day
	applied    map[uuid.UUID]date.Date             // event id -> day it was applied to
}

// NewMemoryAggregateStore creates and returns an empty MemoryAggregateStore.
func NewMemoryAggregateStore() *MemoryAggregateStore {
	return &MemoryAggregateStore{
		aggregates: make(map[date.Date]models.DailyAggregate),
		applied:    make(map[uuid.UUID]date.Date),
	}
}

func (m *MemoryAggregateStore) Begin(ctx context.Context) (interfaces.UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memoryUnitOfWork{store: m}, nil
}

// ListRange returns copies so callers can't modify internal state.
func (m *MemoryAggregateStore) ListRange(ctx context.Context, from, to date.Date) ([]models.DailyAggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []models.DailyAggregate
	for on, agg := range m.aggregates {
		if on.Before(from) || on.After(to) {
			continue
		}
		result = append(result, agg)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date.Before(result[j].Date) })
	return result, nil
}

// Len reports how many aggregates are stored.
func (m *MemoryAggregateStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.aggregates)
}

type memoryUnitOfWork struct {
	store   *MemoryAggregateStore
	inserts []*models.DailyAggregate
	updates []*models.DailyAggregate
	applied map[uuid.UUID]date.Date
	done    bool
}

func (u *memoryUnitOfWork) GetByDate(ctx context.Context, on date.Date) (*models.DailyAggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u.store.mu.Lock()
	defer u.store.mu.Unlock()

	agg, ok := u.store.aggregates[on]
	if !ok {
		return nil, nil
	}
	return &agg, nil // copy: mutations stay private until Commit
}

func (u *memoryUnitOfWork) GetLatest(ctx context.Context) (*models.DailyAggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u.store.mu.Lock()
	defer u.store.mu.Unlock()

	var latest *models.DailyAggregate
	for _, agg := range u.store.aggregates {
		if latest == nil || agg.Date.After(latest.Date) {
			agg := agg
			latest = &agg
		}
	}
	return latest, nil
}

func (u *memoryUnitOfWork) HasApplied(ctx context.Context, eventID uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	u.store.mu.Lock()
	defer u.store.mu.Unlock()

	_, exists := u.store.applied[eventID]
	return exists, nil
}

func (u *memoryUnitOfWork) Insert(agg *models.DailyAggregate) { u.inserts = append(u.inserts, agg) }

func (u *memoryUnitOfWork) Update(agg *models.DailyAggregate) { u.updates = append(u.updates, agg) }

func (u *memoryUnitOfWork) MarkApplied(eventID uuid.UUID, on date.Date) {
	if u.applied == nil {
		u.applied = make(map[uuid.UUID]date.Date)
	}
	u.applied[eventID] = on
}

func (u *memoryUnitOfWork) Commit(ctx context.Context) (int64, error) {
	if u.done {
		return 0, errFinished
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	u.done = true

	m := u.store
	m.mu.Lock()         // every guard is checked and applied under one lock
	defer m.mu.Unlock() // so a commit is all or nothing

	for _, agg := range u.inserts {
		if _, taken := m.aggregates[agg.Date]; taken {
			return 0, nil
		}
	}
	for _, agg := range u.updates {
		stored, ok := m.aggregates[agg.Date]
		if !ok || stored.ID != agg.ID || stored.Version != agg.Version {
			return 0, nil
		}
	}
	for id := range u.applied {
		if _, exists := m.applied[id]; exists {
			return 0, nil
		}
	}

	var rows int64
	for _, agg := range u.inserts {
		agg.Version = 1
		m.aggregates[agg.Date] = *agg
		rows++
	}
	for _, agg := range u.updates {
		agg.Version++
		m.aggregates[agg.Date] = *agg
		rows++
	}
	for id, on := range u.applied {
		m.applied[id] = on
		rows++
	}
	return rows, nil
}

func (u *memoryUnitOfWork) Rollback() error {
	u.done = true
	u.inserts, u.updates, u.applied = nil, nil, nil
	return nil
}

// Compile-time check: ensure MemoryAggregateStore implements AggregateStore interface
var _ interfaces.AggregateStore = (*MemoryAggregateStore)(nil)
