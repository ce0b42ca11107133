package events

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestDecodeWirePayload(t *testing.T) {
	raw := `{
		"id": "7d9f7c1e-1d0a-4a53-9a57-2a3c0c6b1f10",
		"date": "2025-02-03T00:00:00",
		"amount": 150.75,
		"kind": 1,
		"description": "invoice 42",
		"createdAt": "2025-02-03T12:01:02Z"
	}`
	var evt LedgerEntryCreated
	require.NoError(t, json.Unmarshal([]byte(raw), &evt))
	require.NoError(t, evt.Validate())

	require.Equal(t, "2025-02-03", evt.Date.String())
	require.True(t, evt.Amount.Equal(decimal.RequireFromString("150.75")))
	require.Equal(t, models.Credit, evt.Kind)

	entry := evt.Entry()
	require.Equal(t, evt.ID, entry.ID)
	require.Equal(t, evt.Date, entry.Date)
}

func TestValidate(t *testing.T) {
	var evt LedgerEntryCreated
	err := evt.Validate()
	require.ErrorContains(t, err, "id is required")
	require.ErrorContains(t, err, "date is required")
	require.ErrorIs(t, err, models.ErrNonPositiveAmount)

	evt = LedgerEntryCreated{ID: uuid.New(), Amount: decimal.NewFromInt(-1), Kind: models.EntryKind(7)}
	err = evt.Validate()
	require.ErrorIs(t, err, models.ErrNonPositiveAmount)
	require.ErrorContains(t, err, "unknown kind 7")
}
