package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/date"
	"github.com/shopspring/decimal"
)

// EntryKind tells whether a ledger entry takes money out (Debit) or puts it in (Credit).
type EntryKind int

const (
	Debit  EntryKind = 0
	Credit EntryKind = 1
)

func (k EntryKind) Valid() bool { return k == Debit || k == Credit }

func (k EntryKind) String() string {
	switch k {
	case Debit:
		return "debit"
	case Credit:
		return "credit"
	default:
		return fmt.Sprintf("EntryKind(%d)", int(k))
	}
}

// ParseEntryKind accepts "debit"/"credit" or their numeric wire values.
func ParseEntryKind(s string) (EntryKind, error) {
	switch s {
	case "debit", "Debit", "0":
		return Debit, nil
	case "credit", "Credit", "1":
		return Credit, nil
	}
	return 0, fmt.Errorf("unknown entry kind %q", s)
}

// LedgerEntry represents a single debit or credit recorded by the write side.
type LedgerEntry struct {
	ID        uuid.UUID       // unique identifier, also the idempotency key
	Date      date.Date       // calendar day the entry belongs to
	Amount    decimal.Decimal // always positive, Kind gives the direction
	Kind      EntryKind
	CreatedAt time.Time
}
