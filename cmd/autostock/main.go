package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"autostock/internal/backtest"
	"autostock/internal/broker"
	"autostock/internal/config"
	"autostock/internal/domain"
	"autostock/internal/engine"
	"autostock/internal/report"
	"autostock/internal/risk"
	"autostock/internal/store"
	"autostock/internal/strategy"
	"autostock/internal/util"
)

// backtestScenarios pairs an artifact file stem with the lookback and bar
// size fetched for it.
var backtestScenarios = []struct {
	name     string
	duration string
	barSize  string
}{
	{"5min", "60 D", "5 mins"},
	{"1day", "2 Y", "1 day"},
}

func main() {
	app := &cli.App{
		Name:  "autostock",
		Usage: "automated MA-crossover stock trading: live engine, backtests, and reports",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "config/autostock.yaml",
				Usage:   "path to the YAML configuration file",
				EnvVars: []string{"AUTOSTOCK_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run the live trading loop until interrupted",
				Action: cmdRun,
			},
			{
				Name:  "backtest",
				Usage: "replay the strategy over historical bars and export artifacts",
				Flags: []cli.Flag{
					&cli.Float64Flag{
						Name:  "initial-capital",
						Usage: "starting cash for the simulation (default: capital.max_deploy_usd)",
					},
					&cli.StringSliceFlag{
						Name:  "ticker",
						Usage: "restrict the backtest to these symbols (repeatable)",
					},
					&cli.StringFlag{
						Name:  "output-dir",
						Value: "data/backtests",
						Usage: "base directory for backtest artifacts",
					},
				},
				Action: cmdBacktest,
			},
			{
				Name:   "doctor",
				Usage:  "check configuration, database, and broker connectivity",
				Action: cmdDoctor,
			},
			{
				Name:  "flatten",
				Usage: "liquidate open positions",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "ticker",
						Usage: "only flatten these symbols (default: all open positions)",
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "print what would be sold without sending orders",
					},
				},
				Action: cmdFlatten,
			},
			{
				Name:   "status",
				Usage:  "print the latest position snapshot per symbol",
				Action: cmdStatus,
			},
			{
				Name:   "report",
				Usage:  "print the last 24 hours of orders, fills, and warnings",
				Action: cmdReport,
			},
			{
				Name:   "sync",
				Usage:  "pull broker fills and rebuild today's risk state",
				Action: cmdSync,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// loadConfig loads the configuration named by the global flag and installs
// the default logger.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

func cmdRun(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	b := broker.NewAlpacaBroker(cfg.Broker)
	eng, err := engine.New(cfg, st, b, risk.NewManager(cfg.Risk))
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Printf("autostock starting (paper_mode=%v, symbols=%s)\n",
		cfg.Broker.PaperMode, strings.Join(cfg.Symbols, ","))
	return eng.Run(ctx)
}

// ---------------------------------------------------------------------------
// backtest
// ---------------------------------------------------------------------------

func cmdBacktest(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	symbols := cfg.Symbols
	if tickers := c.StringSlice("ticker"); len(tickers) > 0 {
		symbols = make([]string, len(tickers))
		for i, t := range tickers {
			symbols[i] = strings.ToUpper(t)
		}
	}
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols configured and no --ticker given")
	}

	initialCapital := c.Float64("initial-capital")
	if initialCapital <= 0 {
		initialCapital = cfg.Capital.MaxDeployUSD
	}

	ctx, cancel := signalContext()
	defer cancel()

	b := broker.NewAlpacaBroker(cfg.Broker)
	runner := backtest.NewRunner(cfg.Risk, cfg.Backtest, evaluator(cfg))

	timestamp := time.Now().Format("20060102_150405")
	scenarios := make([]backtest.Scenario, 0, len(backtestScenarios))

	for _, sc := range backtestScenarios {
		series := make(map[string][]domain.Bar, len(symbols))
		for _, symbol := range symbols {
			bars, err := b.GetHistoricalBars(ctx, symbol, sc.duration, sc.barSize)
			if err != nil {
				return fmt.Errorf("fetching %s bars for %s: %w", sc.name, symbol, err)
			}
			series[symbol] = bars
		}

		results := runner.Run(series, symbols, initialCapital)
		printScenario(sc.name, sc.duration, sc.barSize, results, cfg.Backtest.Mode)
		scenarios = append(scenarios, backtest.Scenario{Name: sc.name, Results: results})
	}

	if err := backtest.ExportArtifacts(scenarios, c.String("output-dir"), timestamp,
		initialCapital, cfg.Combo, cfg.Backtest, util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)); err != nil {
		return fmt.Errorf("exporting artifacts: %w", err)
	}
	fmt.Printf("\nartifacts written under %s (batch %s)\n", c.String("output-dir"), timestamp)
	return nil
}

// evaluator adapts the configured strategy combination to the simulator's
// signal callback.
func evaluator(cfg *config.Config) backtest.SignalFunc {
	return func(closes []float64) (domain.Signal, string) {
		sig, reason, err := strategy.Evaluate(closes, cfg.Strategy, cfg.Combo)
		if err != nil {
			return domain.SignalHold, "evaluate_error"
		}
		return sig, reason
	}
}

func printScenario(name, duration, barSize string, results []backtest.Result, mode string) {
	fmt.Printf("\n=== scenario %s (%s, %s, mode=%s) ===\n", name, duration, barSize, mode)
	for _, res := range results {
		fmt.Printf("%-8s bars=%-6d trades=%-4d wins=%-4d losses=%-4d pnl=%10.2f return=%8.4f%% maxDD=%7.4f%%\n",
			res.Symbol, res.Bars, res.Trades, res.Wins, res.Losses,
			res.PnL, res.ReturnPct*100, res.MaxDrawdownPct*100)
		if res.Blocked != (backtest.BlockedCounters{}) {
			fmt.Printf("         blocked: consecutive_losses=%d min_notional=%d cash=%d max_open=%d\n",
				res.Blocked.ConsecutiveLosses, res.Blocked.MinNotional,
				res.Blocked.Cash, res.Blocked.MaxOpenPositions)
		}
	}
	s := backtest.Summarize(results)
	fmt.Printf("summary: symbols=%d trades=%d pnl=%.2f avg_return=%.4f%% avg_maxDD=%.4f%%\n",
		s.TotalSymbols, s.TotalTrades, s.TotalPnL, s.AvgReturnPct*100, s.AvgMaxDrawdownPct*100)
}

// ---------------------------------------------------------------------------
// doctor
// ---------------------------------------------------------------------------

func cmdDoctor(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	fmt.Printf("config:   ok (%d symbols, mode=%s, combo=%s)\n",
		len(cfg.Symbols), cfg.Backtest.Mode, cfg.Combo.CombinationMode)

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	st.Close()
	fmt.Printf("database: ok (%s)\n", cfg.DatabasePath)

	ctx, cancel := signalContext()
	defer cancel()

	b := broker.NewAlpacaBroker(cfg.Broker)
	equity, err := b.GetEquity(ctx)
	if err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	fmt.Printf("broker:   ok (%s, equity=%.2f)\n", b.Name(), equity)
	return nil
}

// ---------------------------------------------------------------------------
// flatten
// ---------------------------------------------------------------------------

func cmdFlatten(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	ctx, cancel := signalContext()
	defer cancel()

	b := broker.NewAlpacaBroker(cfg.Broker)
	positions, err := b.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("fetching positions: %w", err)
	}

	only := make(map[string]bool)
	for _, t := range c.StringSlice("ticker") {
		only[strings.ToUpper(t)] = true
	}
	dryRun := c.Bool("dry-run")

	flattened := 0
	for symbol, pos := range positions {
		if pos.Quantity <= 0 {
			continue
		}
		if len(only) > 0 && !only[symbol] {
			continue
		}
		if dryRun {
			fmt.Printf("would sell %s: %.0f shares (avg cost %.2f)\n", symbol, pos.Quantity, pos.AvgCost)
			continue
		}
		status, err := b.ClosePosition(ctx, symbol)
		if err != nil {
			return fmt.Errorf("closing %s: %w", symbol, err)
		}
		if err := st.RecordOrder(ctx, symbol, "SELL", int(pos.Quantity), "FLATTEN", status, 0, ""); err != nil {
			return err
		}
		fmt.Printf("closed %s: %.0f shares (%s)\n", symbol, pos.Quantity, status)
		flattened++
	}
	if flattened == 0 && !dryRun {
		fmt.Println("no open positions to flatten")
	}
	return nil
}

// ---------------------------------------------------------------------------
// status / report
// ---------------------------------------------------------------------------

func cmdStatus(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	ctx, cancel := signalContext()
	defer cancel()
	return report.Status(ctx, os.Stdout, st)
}

func cmdReport(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	ctx, cancel := signalContext()
	defer cancel()
	return report.Daily(ctx, os.Stdout, st)
}

// ---------------------------------------------------------------------------
// sync
// ---------------------------------------------------------------------------

func cmdSync(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	ctx, cancel := signalContext()
	defer cancel()

	b := broker.NewAlpacaBroker(cfg.Broker)
	since, err := st.LatestExecutionTS(ctx)
	if err != nil {
		return err
	}
	execs, err := b.GetExecutionsSince(ctx, since)
	if err != nil {
		return fmt.Errorf("fetching executions: %w", err)
	}
	for _, e := range execs {
		if err := st.UpsertExecution(ctx, e); err != nil {
			return err
		}
	}
	fmt.Printf("synced %d executions (since %q)\n", len(execs), since)

	realized, consecutive, err := st.RebuildDailyRiskState(ctx, cfg.Timezone)
	if err != nil {
		return fmt.Errorf("rebuilding risk state: %w", err)
	}

	cal, err := util.NewTradingCalendar(cfg.Timezone)
	if err != nil {
		return err
	}
	day := cal.TodayKey(time.Now())
	if err := st.DeleteStatePrefix(ctx, "symbol_realized:"+day+":"); err != nil {
		return err
	}
	for symbol, pnl := range realized {
		if err := st.SetState(ctx, "symbol_realized:"+day+":"+symbol, pnl); err != nil {
			return err
		}
	}
	if err := st.SetState(ctx, "consecutive_losses:"+day, float64(consecutive)); err != nil {
		return err
	}
	fmt.Printf("risk state rebuilt for %s: %d symbols with realized PnL, consecutive_losses=%d\n",
		day, len(realized), consecutive)
	return nil
}
