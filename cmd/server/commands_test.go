package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sheikh-saqib/ledger-consolidation-service/internal/date"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestPublishEvent(t *testing.T) {
	p := &publishCmd{date: "2025-06-02", amount: "12.50", kind: "credit", description: "coffee"}
	evt, err := p.event()
	require.NoError(t, err)
	require.Equal(t, date.MustParse("2025-06-02"), evt.Date)
	require.True(t, evt.Amount.Equal(decimal.RequireFromString("12.5")))
	require.Equal(t, models.Credit, evt.Kind)
	require.Equal(t, "coffee", evt.Description)
}

func TestPublishEventRejectsBadInput(t *testing.T) {
	for _, p := range []*publishCmd{
		{amount: "0", kind: "debit"},
		{amount: "-1", kind: "debit"},
		{amount: "abc", kind: "debit"},
		{amount: "1", kind: "transfer"},
		{amount: "1", kind: "debit", date: "02/06/2025"},
	} {
		_, err := p.event()
		require.Error(t, err, "%+v", p)
	}
}

func TestWriteReport(t *testing.T) {
	agg := models.NewDailyAggregate(date.MustParse("2025-06-02"), decimal.RequireFromString("1000"))
	require.NoError(t, agg.AddCredit(decimal.RequireFromString("250")))
	require.NoError(t, agg.AddDebit(decimal.RequireFromString("0.5")))

	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, []models.DailyAggregate{*agg}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], "Closing")
	require.Contains(t, lines[1], "2025-06-02")
	require.Contains(t, lines[1], "1249.50")
}
