package backtest

import (
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
)

// TradeRecord is the Parquet schema for exported backtest trades. It mirrors
// the CSV artifact column-for-column so both formats reconcile exactly.
type TradeRecord struct {
	Symbol        string  `parquet:"symbol"`
	EntryTime     string  `parquet:"entry_time"`
	ExitTime      string  `parquet:"exit_time"`
	EntryPrice    float64 `parquet:"entry_price"`
	ExitPrice     float64 `parquet:"exit_price"`
	Shares        int64   `parquet:"shares"`
	EntryValue    float64 `parquet:"entry_value"`
	ExitValue     float64 `parquet:"exit_value"`
	ProfitLossAbs float64 `parquet:"profit_loss_abs"`
	ProfitLossPct float64 `parquet:"profit_loss_pct"`
	CumPnLAbs     float64 `parquet:"cum_profit_loss_abs"`
	CumPnLPct     float64 `parquet:"cum_profit_loss_pct"`
	CumEquity     float64 `parquet:"cum_equity"`
	ExitReason    string  `parquet:"exit_reason"`
}

// ExportTradesParquet writes the trade artifact as a Parquet file, using the
// same result-order row sequence and cumulative columns as the CSV export.
func ExportTradesParquet(results []Result, outputPath string, initialCapital float64) (string, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := parquet.NewGenericWriter[TradeRecord](f)

	cumPnL := 0.0
	for _, t := range flattenTrades(results) {
		cumPnL += t.PnL
		cumPnLPct := 0.0
		if initialCapital > 0 {
			cumPnLPct = cumPnL / initialCapital
		}
		rec := TradeRecord{
			Symbol:        t.Symbol,
			EntryTime:     t.EntryTime,
			ExitTime:      t.ExitTime,
			EntryPrice:    t.EntryPrice,
			ExitPrice:     t.ExitPrice,
			Shares:        int64(t.Shares),
			EntryValue:    t.EntryPrice * float64(t.Shares),
			ExitValue:     t.ExitPrice * float64(t.Shares),
			ProfitLossAbs: t.PnL,
			ProfitLossPct: t.ReturnPct,
			CumPnLAbs:     cumPnL,
			CumPnLPct:     cumPnLPct,
			CumEquity:     initialCapital + cumPnL,
			ExitReason:    t.ExitReason,
		}
		if _, err := w.Write([]TradeRecord{rec}); err != nil {
			return "", err
		}
	}

	if err := w.Close(); err != nil {
		return "", err
	}
	return outputPath, nil
}
