package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/riskengine/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate, validate or show configuration files",
	Long: `Manage engine configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file
  show     - Print the effective configuration as tables

Examples:
  trader config init -o engine.yaml
  trader config validate -c engine.yaml
  trader config show -c engine.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configInitOutput string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "engine.yaml", "output config file path")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Created default configuration: %s\n", configInitOutput)
	fmt.Fprintln(out, "\nEdit the file and run with:")
	fmt.Fprintf(out, "  trader simulate -c %s --bars EURUSD=eurusd_m5.csv\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Configuration valid: %s\n", describe(cfgPath))
	fmt.Fprintf(out, "  Account: %s (%.2f %s)\n", cfg.Account.ID, cfg.Account.Balance, cfg.Account.Currency)
	fmt.Fprintf(out, "  Strategies: %d, instruments: %d\n", len(cfg.Strategies), len(cfg.Instruments))
	fmt.Fprintf(out, "  Journal: %s\n", describe(cfg.Journal.DSN))
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	printConfig(cmd.OutOrStdout(), cfg)
	return nil
}

func describe(s string) string {
	if s == "" {
		return "(default)"
	}
	return s
}

func printConfig(w io.Writer, cfg *config.Config) {
	p := cfg.Policy
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("RISK POLICY")
	t.SetStyle(table.StyleRounded)
	t.AppendRows([]table.Row{
		{"Account", fmt.Sprintf("%s %.2f %s", cfg.Account.ID, cfg.Account.Balance, cfg.Account.Currency)},
		{"Risk per trade", fmt.Sprintf("%.2f%%", p.RiskPerTrade*100)},
		{"Lots", fmt.Sprintf("%.2f - %.2f", p.MinLot, p.MaxLot)},
		{"Margin cap per trade", fmt.Sprintf("%.2f%%", p.MarginCapPerTrade*100)},
		{"Daily loss limit", fmt.Sprintf("%.2f%%", p.DailyLossLimit*100)},
		{"Max consecutive losses", p.MaxConsecutiveLosses},
		{"Min entry interval", p.MinEntryInterval},
		{"Max positions", p.MaxPositionsPerInstrument},
		{"Min free margin", fmt.Sprintf("%.2f%%", p.MinFreeMarginRatio*100)},
	})
	t.AppendSeparator()
	e := cfg.Engine
	trend := "off"
	if e.Trend.Enabled {
		trend = fmt.Sprintf("%s SMA %d/%d", e.Trend.Timeframe, e.Trend.FastPeriod, e.Trend.SlowPeriod)
	}
	t.AppendRows([]table.Row{
		{"Interval", e.Interval},
		{"Gateway timeout", e.GatewayTimeout},
		{"Timezone", describe(e.Timezone)},
		{"Trend filter", trend},
		{"Journal", describe(cfg.Journal.DSN)},
		{"Metrics", describe(cfg.Metrics.Addr)},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 22, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, Align: text.AlignLeft},
	})
	t.Render()

	st := table.NewWriter()
	st.SetOutputMirror(w)
	st.SetTitle("STRATEGIES")
	st.SetStyle(table.StyleRounded)
	st.AppendHeader(table.Row{"Name", "Alloc", "TF", "SL/TP ATR", "BE/Trail/Step ATR", "Instruments"})
	for _, s := range cfg.Strategies {
		st.AppendRow(table.Row{
			s.Name,
			fmt.Sprintf("%.0f%%", s.Allocation*100),
			s.Timeframe,
			fmt.Sprintf("%.1f / %.1f", s.StopLossATR, s.TakeProfitATR),
			fmt.Sprintf("%.1f / %.1f / %.1f", s.BreakEvenATR, s.TrailingATR, s.TrailingStepATR),
			strings.Join(s.Instruments, ", "),
		})
	}
	st.Render()

	it := table.NewWriter()
	it.SetOutputMirror(w)
	it.SetTitle("INSTRUMENTS")
	it.SetStyle(table.StyleRounded)
	it.AppendHeader(table.Row{"Symbol", "Point", "Contract", "Stops", "Volume", "Margin", "Max spread", "Session"})
	for _, ic := range cfg.Instruments {
		session := "always"
		if ic.Session != nil {
			session = fmt.Sprintf("%s-%s %s", ic.Session.Start, ic.Session.End, ic.Session.Timezone)
		}
		spread := ic.MaxSpread
		if spread == 0 {
			spread = cfg.Engine.MaxSpread
		}
		it.AppendRow(table.Row{
			ic.Symbol,
			ic.Point,
			ic.ContractSize,
			ic.StopsLevel,
			fmt.Sprintf("%.2f-%.2f/%.2f", ic.VolumeMin, ic.VolumeMax, ic.VolumeStep),
			fmt.Sprintf("%.2f%%", ic.MarginRate*100),
			spread,
			session,
		})
	}
	it.Render()
}
