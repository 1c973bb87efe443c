package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/riskengine/backtest"
	"github.com/rustyeddy/riskengine/broker/sim"
	"github.com/rustyeddy/riskengine/config"
	"github.com/rustyeddy/riskengine/engine"
	"github.com/rustyeddy/riskengine/journal"
	"github.com/rustyeddy/riskengine/market"
	"github.com/rustyeddy/riskengine/metrics"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay historical bars through the engine and a simulated venue",
	Long: `Simulate feeds bar CSVs (time,open,high,low,close[,volume]) into an
in-memory venue and runs one engine cycle per bar close, with the guards,
sizer and stop manager exactly as configured.

Example:
  trader simulate -c engine.yaml --bars EURUSD=data/eurusd_m5.csv --warmup 60`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

var (
	simBars     map[string]string
	simBase     string
	simFrom     string
	simTo       string
	simWarmup   int
	simCloseEnd bool
	simRecover  bool
)

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().StringToStringVar(&simBars, "bars", nil, "SYMBOL=path bar CSV, repeatable (required)")
	simulateCmd.Flags().StringVar(&simBase, "timeframe", "M5", "timeframe of the bar files")
	simulateCmd.Flags().StringVar(&simFrom, "from", "", "first bar time, RFC3339")
	simulateCmd.Flags().StringVar(&simTo, "to", "", "stop before this bar time, RFC3339")
	simulateCmd.Flags().IntVar(&simWarmup, "warmup", 60, "bars fed before the engine starts")
	simulateCmd.Flags().BoolVar(&simCloseEnd, "close-end", true, "close all open positions at the end of the replay")
	simulateCmd.Flags().BoolVar(&simRecover, "recover", false, "rebuild session counters from the journal first")
	simulateCmd.MarkFlagRequired("bars")
}

func parseBound(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	log := slog.Default()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ec, err := cfg.EngineConfig()
	if err != nil {
		return err
	}

	base := market.Timeframe(simBase)
	if _, err := base.Seconds(); err != nil {
		return err
	}
	from, err := parseBound(simFrom)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	to, err := parseBound(simTo)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}

	venue := sim.NewEngine(cfg.Account.Currency, cfg.Account.Balance, base)
	for _, ic := range cfg.Instruments {
		spec, err := ic.Spec()
		if err != nil {
			return err
		}
		venue.AddInstrument(spec, ic.SpreadPoints)
	}
	for sym := range simBars {
		if _, ok := cfg.Instrument(sym); !ok {
			return fmt.Errorf("--bars: %s is not a configured instrument", sym)
		}
	}

	feed, err := backtest.LoadBarFeed(simBars, from, to)
	if err != nil {
		return err
	}

	store, err := journal.Open(ctx, cfg.Journal.DSN)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer store.Close()

	rec := metrics.New(true)
	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, rec, log)
		defer shutdown(srv)
	}

	eng, err := engine.New(ec, venue,
		engine.WithJournal(store),
		engine.WithMetrics(rec),
		engine.WithLogger(log),
		engine.WithClock(venue.Now),
	)
	if err != nil {
		return err
	}
	if simRecover {
		if err := eng.Recover(ctx, store); err != nil {
			return err
		}
	}

	log.Info("simulation starting", "bars", feed.Len(), "pairs", len(ec.Pairs), "journal", cfg.Journal.DSN)
	r := backtest.Runner{
		Venue:   venue,
		Engine:  eng,
		Feed:    feed,
		Options: backtest.RunnerOptions{Warmup: simWarmup, CloseEnd: simCloseEnd},
	}
	res, err := r.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	res.Print(cmd.OutOrStdout())
	return nil
}

func serveMetrics(addr string, rec *metrics.Recorder, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rec.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	log.Info("metrics listening", "addr", addr)
	return srv
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
