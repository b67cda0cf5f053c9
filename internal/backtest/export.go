package backtest

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
)

// tradeCSVHeader is the fixed trade-artifact column set. Downstream analysis
// notebooks key on these names; do not reorder.
var tradeCSVHeader = []string{
	"symbol",
	"entry_time",
	"exit_time",
	"entry_price",
	"exit_price",
	"shares",
	"entry_value",
	"exit_value",
	"profit_loss_abs",
	"profit_loss_pct",
	"cum_profit_loss_abs",
	"cum_profit_loss_pct",
	"cum_equity",
	"exit_reason",
}

// flattenTrades concatenates per-symbol trade lists in result order. The
// cumulative columns in exported artifacts run over exactly this order,
// NOT a chronological merge across symbols; reproducibility of old
// artifacts depends on keeping it that way.
func flattenTrades(results []Result) []Trade {
	var rows []Trade
	for _, res := range results {
		rows = append(rows, res.TradesDetail...)
	}
	return rows
}

// tradeRow renders one trade plus its running cumulative columns.
func tradeRow(t Trade, cumPnL, initialCapital float64) []string {
	entryValue := t.EntryPrice * float64(t.Shares)
	exitValue := t.ExitPrice * float64(t.Shares)
	cumPnLPct := 0.0
	if initialCapital > 0 {
		cumPnLPct = cumPnL / initialCapital
	}
	cumEquity := initialCapital + cumPnL
	return []string{
		t.Symbol,
		t.EntryTime,
		t.ExitTime,
		strconv.FormatFloat(t.EntryPrice, 'f', 6, 64),
		strconv.FormatFloat(t.ExitPrice, 'f', 6, 64),
		strconv.Itoa(t.Shares),
		strconv.FormatFloat(entryValue, 'f', 2, 64),
		strconv.FormatFloat(exitValue, 'f', 2, 64),
		strconv.FormatFloat(t.PnL, 'f', 2, 64),
		strconv.FormatFloat(t.ReturnPct, 'f', 6, 64),
		strconv.FormatFloat(cumPnL, 'f', 2, 64),
		strconv.FormatFloat(cumPnLPct, 'f', 6, 64),
		strconv.FormatFloat(cumEquity, 'f', 2, 64),
		t.ExitReason,
	}
}

// ExportTradesCSV writes one row per trade to outputPath, creating parent
// directories as needed, and returns the path written.
func ExportTradesCSV(results []Result, outputPath string, initialCapital float64) (string, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write(tradeCSVHeader); err != nil {
		return "", err
	}

	cumPnL := 0.0
	for _, t := range flattenTrades(results) {
		cumPnL += t.PnL
		if err := w.Write(tradeRow(t, cumPnL, initialCapital)); err != nil {
			return "", err
		}
	}
	w.Flush()
	return outputPath, w.Error()
}
