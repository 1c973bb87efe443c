package cmd

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/riskengine/config"
	"github.com/rustyeddy/riskengine/journal"
	"github.com/rustyeddy/riskengine/risk"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the trade journal",
	Long: `List journal records of one strategy and instrument and the session
counters a restarted engine would rebuild from them.

Example:
  trader journal -c engine.yaml -s ema-cross -i EURUSD --since 2024-03-04T00:00:00Z`,
	Args: cobra.NoArgs,
	RunE: runJournal,
}

var (
	journalDSN        string
	journalStrategy   string
	journalInstrument string
	journalSince      string
)

func init() {
	rootCmd.AddCommand(journalCmd)

	journalCmd.Flags().StringVar(&journalDSN, "dsn", "", "journal DSN, defaults to the configured one")
	journalCmd.Flags().StringVarP(&journalStrategy, "strategy", "s", "", "strategy name (required)")
	journalCmd.Flags().StringVarP(&journalInstrument, "instrument", "i", "", "instrument symbol (required)")
	journalCmd.Flags().StringVar(&journalSince, "since", "", "only records at or after this time, RFC3339")
	journalCmd.MarkFlagRequired("strategy")
	journalCmd.MarkFlagRequired("instrument")
}

func runJournal(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	dsn := journalDSN
	if dsn == "" {
		dsn = cfg.Journal.DSN
	}
	since, err := parseBound(journalSince)
	if err != nil {
		return fmt.Errorf("--since: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	store, err := journal.Open(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer store.Close()

	recs, err := store.ListRecords(ctx, journal.Filter{
		Strategy:   journalStrategy,
		Instrument: journalInstrument,
		Since:      since,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetTitle(fmt.Sprintf("%s %s", journalStrategy, journalInstrument))
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Time", "Action", "Dir", "Price", "Lots", "Result", "P/L", "Ticket", "Reason"})
	for _, r := range recs {
		t.AppendRow(table.Row{
			r.Time.In(loc).Format(time.DateTime),
			r.Action, r.Direction, r.Price, r.Volume, r.Outcome,
			fmt.Sprintf("%.2f", r.RealizedPnL), r.Ticket, r.Reason,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "records", len(recs)})
	t.Render()

	c := risk.RebuildCounters(recs, time.Now(), loc)
	fmt.Fprintf(out, "today: P/L %.2f, loss streak %d, last entry %s\n",
		c.DailyPnL, c.ConsecutiveLosses, c.LastEntry.In(loc).Format(time.DateTime))
	return nil
}
