package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/google/subcommands"
	"github.com/google/uuid"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/app"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/date"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/models"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/models/events"
	"github.com/shopspring/decimal"
)

type publishCmd struct {
	date        string
	amount      string
	kind        string
	description string
}

func (*publishCmd) Name() string     { return "publish" }
func (*publishCmd) Synopsis() string { return "publish one ledger entry event" }
func (*publishCmd) Usage() string {
	return `publish -amount <decimal> -kind <debit|credit> [-date <YYYY-MM-DD>] [-description <text>]

  Publishes a LedgerEntryCreated event on the configured bus, the way the
  entry API does after storing an entry.
`
}

func (p *publishCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.date, "date", "", "Entry date (defaults to today, UTC).")
	f.StringVar(&p.amount, "amount", "", "Entry amount, strictly positive.")
	f.StringVar(&p.kind, "kind", "", "Entry kind: debit or credit.")
	f.StringVar(&p.description, "description", "", "Free text description.")
}

func (p *publishCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	evt, err := p.event()
	if err != nil {
		return fail(err)
	}

	cfg, log, err := setup()
	if err != nil {
		return fail(err)
	}
	defer log.Sync()

	bus, err := app.OpenMessageBus(ctx, cfg, log)
	if err != nil {
		return fail(err)
	}
	defer bus.Close()

	if err := bus.Publish(ctx, events.TopicLedgerEntryCreated, evt); err != nil {
		return fail(fmt.Errorf("publish: %w", err))
	}
	fmt.Println(evt.ID)
	return subcommands.ExitSuccess
}

func (p *publishCmd) event() (events.LedgerEntryCreated, error) {
	on := date.Today()
	if p.date != "" {
		d, err := date.Parse(p.date)
		if err != nil {
			return events.LedgerEntryCreated{}, fmt.Errorf("parse date: %w", err)
		}
		on = d
	}
	amount, err := decimal.NewFromString(p.amount)
	if err != nil {
		return events.LedgerEntryCreated{}, fmt.Errorf("parse amount: %w", err)
	}
	kind, err := models.ParseEntryKind(p.kind)
	if err != nil {
		return events.LedgerEntryCreated{}, err
	}

	evt := events.LedgerEntryCreated{
		ID:          uuid.New(),
		Date:        on,
		Amount:      amount,
		Kind:        kind,
		Description: p.description,
		CreatedAt:   time.Now().UTC(),
	}
	return evt, evt.Validate()
}
