package backtest

import (
	"encoding/csv"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"autostock/internal/config"
)

func sampleResults() []Result {
	return []Result{
		{
			Symbol: "AAA", Bars: 5, Trades: 2, Wins: 1, Losses: 1, PnL: 5,
			ReturnPct: 0.05, MaxDrawdownPct: 0.10,
			TradesDetail: []Trade{
				{Symbol: "AAA", EntryTime: "2024-01-03", ExitTime: "2024-01-04",
					EntryPrice: 100, ExitPrice: 110, Shares: 1, PnL: 10, ReturnPct: 0.10, ExitReason: ExitStrategySell},
				{Symbol: "AAA", EntryTime: "2024-01-05", ExitTime: "2024-01-08",
					EntryPrice: 110, ExitPrice: 105, Shares: 1, PnL: -5, ReturnPct: -0.0454, ExitReason: ExitForcedEnd},
			},
		},
		{
			Symbol: "BBB", Bars: 5, Trades: 1, Wins: 1, PnL: 20, ReturnPct: 0.20,
			TradesDetail: []Trade{
				{Symbol: "BBB", EntryTime: "2024-01-02", ExitTime: "2024-01-08",
					EntryPrice: 50, ExitPrice: 70, Shares: 1, PnL: 20, ReturnPct: 0.40, ExitReason: ExitStopLoss},
			},
		},
	}
}

func TestExportTradesCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "trades.csv")
	got, err := ExportTradesCSV(sampleResults(), path, 100)
	if err != nil {
		t.Fatalf("ExportTradesCSV returned error: %v", err)
	}
	if got != path {
		t.Errorf("ExportTradesCSV path = %q, want %q", got, path)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening exported CSV: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("reading exported CSV: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("exported %d rows, want header + 3 trades", len(rows))
	}
	if rows[0][0] != "symbol" || rows[0][len(rows[0])-1] != "exit_reason" {
		t.Errorf("header = %v, want trade CSV header", rows[0])
	}

	// Rows run in result order: both AAA trades before BBB's, even though
	// BBB's entry predates AAA's second trade.
	if rows[1][0] != "AAA" || rows[2][0] != "AAA" || rows[3][0] != "BBB" {
		t.Errorf("row symbols = [%s %s %s], want [AAA AAA BBB]", rows[1][0], rows[2][0], rows[3][0])
	}

	// Cumulative PnL runs 10, 5, 25 and cum_equity tracks it from the
	// initial capital of 100.
	if rows[1][10] != "10.00" || rows[2][10] != "5.00" || rows[3][10] != "25.00" {
		t.Errorf("cum pnl column = [%s %s %s], want [10.00 5.00 25.00]", rows[1][10], rows[2][10], rows[3][10])
	}
	if rows[3][12] != "125.00" {
		t.Errorf("final cum equity = %s, want 125.00", rows[3][12])
	}
}

func TestExportArtifacts(t *testing.T) {
	base := t.TempDir()
	scenarios := []Scenario{{Name: "1day", Results: sampleResults()}}
	combo := config.ComboConfig{CombinationMode: "weighted", EnabledStrategies: []string{"ma"}}
	exec := config.BacktestConfig{SlippageBps: 5, CommissionPerOrder: 1}
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := ExportArtifacts(scenarios, base, "20240102_093000", 100, combo, exec, log); err != nil {
		t.Fatalf("ExportArtifacts returned error: %v", err)
	}

	for _, p := range []string{
		filepath.Join(base, "AAA", "20240102_093000", "1day.csv"),
		filepath.Join(base, "AAA", "20240102_093000", "1day.parquet"),
		filepath.Join(base, "AAA", "20240102_093000", "summary.csv"),
		filepath.Join(base, "BBB", "20240102_093000", "1day.csv"),
		filepath.Join(base, "_master_summary.csv"),
	} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected artifact missing: %s", p)
		}
	}

	// A second batch appends to the master summary without repeating the
	// header.
	if err := ExportArtifacts(scenarios, base, "20240103_093000", 100, combo, exec, log); err != nil {
		t.Fatalf("second ExportArtifacts returned error: %v", err)
	}
	f, err := os.Open(filepath.Join(base, "_master_summary.csv"))
	if err != nil {
		t.Fatalf("opening master summary: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("reading master summary: %v", err)
	}
	// Header + 2 symbols x 1 scenario x 2 batches.
	if len(rows) != 5 {
		t.Fatalf("master summary has %d rows, want 5", len(rows))
	}
	if rows[0][0] != "batch" {
		t.Errorf("master header starts with %q, want %q", rows[0][0], "batch")
	}
	if rows[1][0] != "20240102_093000" || rows[3][0] != "20240103_093000" {
		t.Errorf("batch column = [%s ... %s], want both batch timestamps", rows[1][0], rows[3][0])
	}
}
