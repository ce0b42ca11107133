package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/date"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/models"
	"github.com/shopspring/decimal"
)

// TopicLedgerEntryCreated is the queue shared by the entry API (producer) and the consolidation consumer.
const TopicLedgerEntryCreated = "ledger-entry-created"

// LedgerEntryCreated is published once the write side has stored a new entry.
type LedgerEntryCreated struct {
	ID          uuid.UUID        `json:"id"`
	Date        date.Date        `json:"date"`
	Amount      decimal.Decimal  `json:"amount"`
	Kind        models.EntryKind `json:"kind"`
	Description string           `json:"description"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// Validate checks the envelope can be applied. It never looks at stored state.
func (e LedgerEntryCreated) Validate() error {
	var errs []error
	if e.ID == uuid.Nil {
		errs = append(errs, errors.New("id is required"))
	}
	if e.Date.IsZero() {
		errs = append(errs, errors.New("date is required"))
	}
	if !e.Amount.IsPositive() {
		errs = append(errs, fmt.Errorf("amount %s: %w", e.Amount, models.ErrNonPositiveAmount))
	}
	if !e.Kind.Valid() {
		errs = append(errs, fmt.Errorf("unknown kind %d", int(e.Kind)))
	}
	return errors.Join(errs...)
}

// Entry returns the ledger entry carried by the event.
func (e LedgerEntryCreated) Entry() models.LedgerEntry {
	return models.LedgerEntry{
		ID:        e.ID,
		Date:      e.Date,
		Amount:    e.Amount,
		Kind:      e.Kind,
		CreatedAt: e.CreatedAt,
	}
}

// MessageKey keeps every entry of one day on the same partition.
func (e LedgerEntryCreated) MessageKey() string { return e.Date.String() }
