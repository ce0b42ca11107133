package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/app"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/consolidation"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/date"
	"github.com/sheikh-saqib/ledger-consolidation-service/internal/models"
)

type reportCmd struct {
	from string
	to   string
}

func (*reportCmd) Name() string     { return "report" }
func (*reportCmd) Synopsis() string { return "print the daily aggregates of a date range" }
func (*reportCmd) Usage() string {
	return `report [-from <YYYY-MM-DD>] [-to <YYYY-MM-DD>]

  Prints one line per consolidated day between -from and -to, inclusive.
  Both default to today.
`
}

func (r *reportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.from, "from", "", "First day of the report (defaults to today).")
	f.StringVar(&r.to, "to", "", "Last day of the report (defaults to today).")
}

func (r *reportCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	from, err := parseDateOr(r.from, date.Today())
	if err != nil {
		return fail(fmt.Errorf("parse -from: %w", err))
	}
	to, err := parseDateOr(r.to, date.Today())
	if err != nil {
		return fail(fmt.Errorf("parse -to: %w", err))
	}

	cfg, log, err := setup()
	if err != nil {
		return fail(err)
	}
	defer log.Sync()

	store, closeStore, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	defer closeStore()

	aggs, err := consolidation.NewConsolidator(store, log, consolidation.Options{}).Aggregates(ctx, from, to)
	if err != nil {
		return fail(err)
	}
	if err := writeReport(os.Stdout, aggs); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

func parseDateOr(s string, def date.Date) (date.Date, error) {
	if s == "" {
		return def, nil
	}
	return date.Parse(s)
}

func writeReport(w io.Writer, aggs []models.DailyAggregate) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Date\tOpening\tDebits\tCredits\tClosing\tEntries\t")
	for _, a := range aggs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t\n",
			a.Date,
			a.OpeningBalance.StringFixed(2),
			a.TotalDebits.StringFixed(2),
			a.TotalCredits.StringFixed(2),
			a.ClosingBalance.StringFixed(2),
			a.TransactionCount,
		)
	}
	return tw.Flush()
}
