package backtest

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"autostock/internal/config"
)

// Scenario labels the bar granularity of one backtest batch.
type Scenario struct {
	Name    string // artifact file stem, e.g. "5min"
	Results []Result
}

var masterSummaryHeader = []string{
	"batch",
	"symbol",
	"scenario",
	"bars",
	"trades",
	"wins",
	"losses",
	"win_rate_pct",
	"pnl",
	"return_pct",
	"max_drawdown_pct",
	"initial_capital",
	"combination_mode",
	"enabled_strategies",
	"decision_threshold",
	"slippage_bps",
	"commission_per_order",
}

var symbolSummaryHeader = []string{
	"scenario",
	"symbol",
	"bars",
	"trades",
	"wins",
	"losses",
	"win_rate_pct",
	"pnl",
	"return_pct",
	"max_drawdown_pct",
	"initial_capital",
}

// summaryFields renders the shared numeric tail of a summary row.
func summaryFields(res Result, initialCapital float64) []string {
	winRate := 0.0
	if res.Trades > 0 {
		winRate = float64(res.Wins) / float64(res.Trades) * 100.0
	}
	return []string{
		strconv.Itoa(res.Bars),
		strconv.Itoa(res.Trades),
		strconv.Itoa(res.Wins),
		strconv.Itoa(res.Losses),
		strconv.FormatFloat(winRate, 'f', 4, 64),
		strconv.FormatFloat(res.PnL, 'f', 2, 64),
		strconv.FormatFloat(res.ReturnPct*100, 'f', 4, 64),
		strconv.FormatFloat(res.MaxDrawdownPct*100, 'f', 4, 64),
		strconv.FormatFloat(initialCapital, 'f', 2, 64),
	}
}

// ExportArtifacts writes the full artifact set for a backtest batch under
// baseDir:
//
//	<baseDir>/<SYMBOL>/<timestamp>/<scenario>.csv      trade ledger (CSV)
//	<baseDir>/<SYMBOL>/<timestamp>/<scenario>.parquet  trade ledger (Parquet)
//	<baseDir>/<SYMBOL>/<timestamp>/summary.csv         per-symbol scenario summary
//	<baseDir>/_master_summary.csv                      append-only batch history
func ExportArtifacts(
	scenarios []Scenario,
	baseDir, timestamp string,
	initialCapital float64,
	combo config.ComboConfig,
	exec config.BacktestConfig,
	log *slog.Logger,
) error {
	bySymbol := make(map[string]map[string]Result) // symbol -> scenario name -> result
	for _, sc := range scenarios {
		for _, res := range sc.Results {
			if bySymbol[res.Symbol] == nil {
				bySymbol[res.Symbol] = make(map[string]Result)
			}
			bySymbol[res.Symbol][sc.Name] = res
		}
	}
	symbols := make([]string, 0, len(bySymbol))
	for sym := range bySymbol {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}
	masterPath := filepath.Join(baseDir, "_master_summary.csv")
	_, statErr := os.Stat(masterPath)
	writeMasterHeader := os.IsNotExist(statErr)

	masterFile, err := os.OpenFile(masterPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer masterFile.Close()
	master := csv.NewWriter(masterFile)
	defer master.Flush()

	if writeMasterHeader {
		if err := master.Write(masterSummaryHeader); err != nil {
			return err
		}
	}

	comboTail := []string{
		combo.CombinationMode,
		strings.Join(combo.EnabledStrategies, ";"),
		strconv.FormatFloat(combo.DecisionThreshold, 'f', 4, 64),
		strconv.FormatFloat(exec.SlippageBps, 'f', 4, 64),
		strconv.FormatFloat(exec.CommissionPerOrder, 'f', 4, 64),
	}

	for _, symbol := range symbols {
		symbolDir := filepath.Join(baseDir, symbol, timestamp)
		if err := os.MkdirAll(symbolDir, 0o755); err != nil {
			return err
		}

		summaryFile, err := os.Create(filepath.Join(symbolDir, "summary.csv"))
		if err != nil {
			return err
		}
		summary := csv.NewWriter(summaryFile)
		if err := summary.Write(symbolSummaryHeader); err != nil {
			summaryFile.Close()
			return err
		}

		for _, sc := range scenarios {
			res, ok := bySymbol[symbol][sc.Name]
			if !ok {
				continue
			}

			csvPath, err := ExportTradesCSV([]Result{res}, filepath.Join(symbolDir, sc.Name+".csv"), initialCapital)
			if err != nil {
				summaryFile.Close()
				return fmt.Errorf("exporting %s trades for %s: %w", sc.Name, symbol, err)
			}
			log.Info("trades exported", "path", csvPath)

			pqPath, err := ExportTradesParquet([]Result{res}, filepath.Join(symbolDir, sc.Name+".parquet"), initialCapital)
			if err != nil {
				summaryFile.Close()
				return fmt.Errorf("exporting %s parquet for %s: %w", sc.Name, symbol, err)
			}
			log.Info("trades exported", "path", pqPath)

			fields := summaryFields(res, initialCapital)
			if err := summary.Write(append([]string{sc.Name, res.Symbol}, fields...)); err != nil {
				summaryFile.Close()
				return err
			}
			masterRow := append([]string{timestamp, res.Symbol, sc.Name}, fields...)
			if err := master.Write(append(masterRow, comboTail...)); err != nil {
				summaryFile.Close()
				return err
			}
		}

		summary.Flush()
		if err := summary.Error(); err != nil {
			summaryFile.Close()
			return err
		}
		if err := summaryFile.Close(); err != nil {
			return err
		}
		log.Info("summary exported", "path", filepath.Join(symbolDir, "summary.csv"))
	}

	master.Flush()
	if err := master.Error(); err != nil {
		return err
	}
	log.Info("master summary updated", "path", masterPath)
	return nil
}
