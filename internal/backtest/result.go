// Package backtest implements the historical trade simulator: a
// deterministic bar-by-bar replay of the combined signal over one symbol at
// a time, or over many symbols merged into one time-ordered event stream
// sharing a single cash pool.
package backtest

// Exit reasons recorded on closed trades.
const (
	ExitStopLoss     = "STOP_LOSS"
	ExitStrategySell = "STRATEGY_SELL"
	ExitForcedEnd    = "FORCED_EXIT_END"
)

// Trade is one closed round trip. Prices are post-slippage fills and PnL is
// net of both commissions. Trades are immutable once created.
type Trade struct {
	Symbol     string
	EntryTime  string
	ExitTime   string
	EntryPrice float64
	ExitPrice  float64
	Shares     int
	PnL        float64
	ReturnPct  float64
	ExitReason string
}

// BlockedCounters records entries the simulator rejected, by reason. Blocked
// orders are expected steady-state outcomes, not failures; these counters
// are their only trace.
type BlockedCounters struct {
	ConsecutiveLosses int
	MinNotional       int
	Cash              int
	MaxOpenPositions  int
}

// Result is the terminal artifact of one symbol's simulation.
//
// ReturnPct follows two deliberately different conventions. In per-symbol
// mode it is the symbol's own ROI: (final cash - initial) / initial. In
// portfolio mode it is a capital-contribution metric: the symbol's realized
// PnL divided by the per-run initial capital constant, because the symbol
// never owned a capital pool of its own. Do not unify them.
type Result struct {
	Symbol         string
	Bars           int
	Trades         int
	Wins           int
	Losses         int
	PnL            float64
	ReturnPct      float64
	MaxDrawdownPct float64
	TradesDetail   []Trade
	Blocked        BlockedCounters
}

// Summary aggregates a batch of per-symbol results. Averages are simple
// means across symbols, not capital-weighted.
type Summary struct {
	TotalSymbols      int
	TotalTrades       int
	TotalPnL          float64
	AvgReturnPct      float64
	AvgMaxDrawdownPct float64
}

// Summarize reduces results to a Summary.
func Summarize(results []Result) Summary {
	if len(results) == 0 {
		return Summary{}
	}
	s := Summary{TotalSymbols: len(results)}
	for _, r := range results {
		s.TotalTrades += r.Trades
		s.TotalPnL += r.PnL
		s.AvgReturnPct += r.ReturnPct
		s.AvgMaxDrawdownPct += r.MaxDrawdownPct
	}
	s.AvgReturnPct /= float64(len(results))
	s.AvgMaxDrawdownPct /= float64(len(results))
	return s
}

// MaxDrawdown returns the maximum peak-to-trough decline of an equity curve
// as a fraction of the running peak, or 0 for an empty curve. The result is
// always within [0, 1] for non-negative curves.
func MaxDrawdown(curve []float64) float64 {
	if len(curve) == 0 {
		return 0.0
	}
	peak := curve[0]
	maxDD := 0.0
	for _, eq := range curve {
		if eq > peak {
			peak = eq
		}
		if peak > 0 {
			if dd := (peak - eq) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}
