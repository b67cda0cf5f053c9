package engine

import (
	"context"
	"path/filepath"
	"testing"

	"autostock/internal/broker"
	"autostock/internal/config"
	"autostock/internal/domain"
	"autostock/internal/risk"
	"autostock/internal/store"
)

func testEngine(t *testing.T, bars map[string][]domain.Bar) (*Engine, *broker.SimulatorBroker, *store.Store) {
	t.Helper()
	cfg := &config.Config{
		Symbols:  []string{"AAPL"},
		Timezone: "America/New_York",
		Risk: config.RiskConfig{
			MaxPositionPct:          0.20,
			StopLossPct:             0.05,
			SymbolDailyLossPct:      0.02,
			AccountDailyDrawdownPct: 0.05,
			MaxOpenPositions:        5,
			MaxConsecutiveLosses:    3,
		},
		Strategy: config.StrategyConfig{
			ShortWindow: 2, LongWindow: 3, BarSize: "1 day", Duration: "10 D", LoopIntervalSeconds: 1,
		},
		Combo: config.ComboConfig{
			EnabledStrategies: []string{"ma"},
			CombinationMode:   config.ComboWeighted,
			DecisionThreshold: 0.2,
		},
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sim := broker.NewSimulatorBroker(10_000, bars)
	eng, err := New(cfg, st, sim, risk.NewManager(cfg.Risk))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return eng, sim, st
}

func mkBars(symbol string, closes ...float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{Symbol: symbol, Date: "2024-01-02", Close: c}
	}
	return bars
}

// An upward MA crossover with no open position submits a sized market buy
// and records the order with its explanation.
func TestExecuteSymbolBuys(t *testing.T) {
	ctx := context.Background()
	eng, sim, st := testEngine(t, map[string][]domain.Bar{
		"AAPL": mkBars("AAPL", 30, 20, 10, 20, 30),
	})

	if err := eng.executeSymbol(ctx, "AAPL", 10_000, nil); err != nil {
		t.Fatalf("executeSymbol returned error: %v", err)
	}

	if len(sim.Orders) != 1 {
		t.Fatalf("submitted %d orders, want 1", len(sim.Orders))
	}
	o := sim.Orders[0]
	if o.Side != "BUY" || o.Symbol != "AAPL" {
		t.Errorf("order = %+v, want AAPL BUY", o)
	}
	// 20% of 10000 equity at the last close of 30 sizes 66 shares.
	if o.Quantity != 66 {
		t.Errorf("order quantity = %d, want 66", o.Quantity)
	}

	orders, err := st.OrdersSince(ctx, "")
	if err != nil {
		t.Fatalf("OrdersSince returned error: %v", err)
	}
	if len(orders) != 1 || orders[0].Signal != "STRATEGY_BUY" {
		t.Fatalf("persisted orders = %+v, want one STRATEGY_BUY", orders)
	}
}

// A downward crossover with an open position submits a full-size sell.
func TestExecuteSymbolSells(t *testing.T) {
	ctx := context.Background()
	eng, sim, st := testEngine(t, map[string][]domain.Bar{
		"AAPL": mkBars("AAPL", 10, 20, 30, 20, 10),
	})

	positions := map[string]domain.PositionInfo{
		"AAPL": {Symbol: "AAPL", Quantity: 10, AvgCost: 10},
	}
	if err := eng.executeSymbol(ctx, "AAPL", 10_000, positions); err != nil {
		t.Fatalf("executeSymbol returned error: %v", err)
	}

	if len(sim.Orders) != 1 || sim.Orders[0].Side != "SELL" || sim.Orders[0].Quantity != 10 {
		t.Fatalf("orders = %+v, want one SELL of 10", sim.Orders)
	}
	orders, _ := st.OrdersSince(ctx, "")
	if len(orders) != 1 || orders[0].Signal != "STRATEGY_SELL" {
		t.Fatalf("persisted orders = %+v, want one STRATEGY_SELL", orders)
	}
}

// A position under water past the stop level is sold regardless of signal.
func TestExecuteSymbolStopLoss(t *testing.T) {
	ctx := context.Background()
	eng, sim, st := testEngine(t, map[string][]domain.Bar{
		"AAPL": mkBars("AAPL", 100, 100, 100, 100, 100),
	})

	positions := map[string]domain.PositionInfo{
		"AAPL": {Symbol: "AAPL", Quantity: 10, AvgCost: 200},
	}
	if err := eng.executeSymbol(ctx, "AAPL", 10_000, positions); err != nil {
		t.Fatalf("executeSymbol returned error: %v", err)
	}

	if len(sim.Orders) != 1 || sim.Orders[0].Side != "SELL" {
		t.Fatalf("orders = %+v, want one stop-loss SELL", sim.Orders)
	}
	orders, _ := st.OrdersSince(ctx, "")
	if len(orders) != 1 || orders[0].Signal != "STOP_LOSS" {
		t.Fatalf("persisted orders = %+v, want one STOP_LOSS", orders)
	}

	// The approximate realized loss lands in today's per-symbol state.
	day := eng.dayKey()
	realized, err := st.GetStateFloat(ctx, "symbol_realized:"+day+":AAPL", 0)
	if err != nil {
		t.Fatalf("GetStateFloat returned error: %v", err)
	}
	if realized != -1000 {
		t.Errorf("realized today = %v, want -1000", realized)
	}
}

// A hold signal with no position does nothing but snapshot.
func TestExecuteSymbolHolds(t *testing.T) {
	ctx := context.Background()
	eng, sim, st := testEngine(t, map[string][]domain.Bar{
		"AAPL": mkBars("AAPL", 100, 100, 100, 100, 100),
	})

	if err := eng.executeSymbol(ctx, "AAPL", 10_000, nil); err != nil {
		t.Fatalf("executeSymbol returned error: %v", err)
	}
	if len(sim.Orders) != 0 {
		t.Errorf("orders = %+v, want none", sim.Orders)
	}
	snaps, err := st.LatestSnapshots(ctx)
	if err != nil {
		t.Fatalf("LatestSnapshots returned error: %v", err)
	}
	if len(snaps) != 1 || snaps[0].Symbol != "AAPL" {
		t.Errorf("snapshots = %+v, want one AAPL row", snaps)
	}
}

// Entry guards veto the buy before any order reaches the broker.
func TestExecuteSymbolBlockedByGuards(t *testing.T) {
	ctx := context.Background()
	eng, sim, st := testEngine(t, map[string][]domain.Bar{
		"AAPL": mkBars("AAPL", 30, 20, 10, 20, 30),
	})

	// Seed a tripped consecutive-loss breaker for today.
	day := eng.dayKey()
	if err := st.SetState(ctx, "consecutive_losses:"+day, 3.0); err != nil {
		t.Fatalf("SetState returned error: %v", err)
	}

	if err := eng.executeSymbol(ctx, "AAPL", 10_000, nil); err != nil {
		t.Fatalf("executeSymbol returned error: %v", err)
	}
	if len(sim.Orders) != 0 {
		t.Errorf("orders = %+v, want none while breaker active", sim.Orders)
	}
}

func TestEnsureDayStartEquity(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := testEngine(t, nil)

	got, err := eng.ensureDayStartEquity(ctx, 10_000)
	if err != nil {
		t.Fatalf("ensureDayStartEquity returned error: %v", err)
	}
	if got != 10_000 {
		t.Errorf("first call = %v, want 10000", got)
	}

	// Later equity readings do not move the stored baseline.
	got, err = eng.ensureDayStartEquity(ctx, 9_000)
	if err != nil {
		t.Fatalf("ensureDayStartEquity returned error: %v", err)
	}
	if got != 10_000 {
		t.Errorf("second call = %v, want stored 10000", got)
	}
}
