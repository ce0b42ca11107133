package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/date"
	"github.com/shopspring/decimal"
)

// ErrNonPositiveAmount is returned when a debit or credit amount is zero or negative.
var ErrNonPositiveAmount = errors.New("amount must be positive")

// DailyAggregate is the running consolidation of every ledger entry of one calendar day.
//
// ClosingBalance always equals OpeningBalance + TotalCredits - TotalDebits.
// TotalDebits, TotalCredits and TransactionCount never go below zero.
type DailyAggregate struct {
	ID               uuid.UUID
	Date             date.Date
	OpeningBalance   decimal.Decimal
	TotalDebits      decimal.Decimal
	TotalCredits     decimal.Decimal
	ClosingBalance   decimal.Decimal
	TransactionCount int
	UpdatedAt        time.Time

	// Version is the optimistic concurrency token. Zero means never stored.
	Version int64
}

// NewDailyAggregate creates an empty aggregate for day on, carrying openingBalance in.
func NewDailyAggregate(on date.Date, openingBalance decimal.Decimal) *DailyAggregate {
	a := &DailyAggregate{
		ID:             uuid.New(),
		Date:           on,
		OpeningBalance: openingBalance,
		TotalDebits:    decimal.Zero,
		TotalCredits:   decimal.Zero,
		UpdatedAt:      time.Now().UTC(),
	}
	a.recompute()
	return a
}

func (a *DailyAggregate) AddDebit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("debit %s: %w", amount, ErrNonPositiveAmount)
	}
	a.TotalDebits = a.TotalDebits.Add(amount)
	a.TransactionCount++
	a.touch()
	return nil
}

func (a *DailyAggregate) AddCredit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("credit %s: %w", amount, ErrNonPositiveAmount)
	}
	a.TotalCredits = a.TotalCredits.Add(amount)
	a.TransactionCount++
	a.touch()
	return nil
}

// RemoveDebit reverses a debit. Over-removal floors the total and the count at zero.
func (a *DailyAggregate) RemoveDebit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("debit %s: %w", amount, ErrNonPositiveAmount)
	}
	a.TotalDebits = decimal.Max(decimal.Zero, a.TotalDebits.Sub(amount))
	a.TransactionCount = max(0, a.TransactionCount-1)
	a.touch()
	return nil
}

// RemoveCredit reverses a credit. Over-removal floors the total and the count at zero.
func (a *DailyAggregate) RemoveCredit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("credit %s: %w", amount, ErrNonPositiveAmount)
	}
	a.TotalCredits = decimal.Max(decimal.Zero, a.TotalCredits.Sub(amount))
	a.TransactionCount = max(0, a.TransactionCount-1)
	a.touch()
	return nil
}

// SetOpeningBalance replaces the balance carried into the day. Totals are left alone.
func (a *DailyAggregate) SetOpeningBalance(amount decimal.Decimal) {
	a.OpeningBalance = amount
	a.touch()
}

// Apply adds entry to the aggregate according to its kind.
func (a *DailyAggregate) Apply(entry LedgerEntry) error {
	switch entry.Kind {
	case Debit:
		return a.AddDebit(entry.Amount)
	case Credit:
		return a.AddCredit(entry.Amount)
	default:
		return fmt.Errorf("apply entry %s: unknown kind %s", entry.ID, entry.Kind)
	}
}

func (a *DailyAggregate) touch() {
	a.UpdatedAt = time.Now().UTC()
	a.recompute()
}

func (a *DailyAggregate) recompute() {
	a.ClosingBalance = a.OpeningBalance.Add(a.TotalCredits).Sub(a.TotalDebits)
}
