// Package domain defines the shared types passed between the broker, the
// signal engine, the risk manager, and the backtest simulator.
package domain

// Signal is a trading decision produced by a strategy or by combining
// several strategy votes.
type Signal string

// Trading signals.
const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// Bar is one OHLCV price observation for one symbol. Date keeps the raw
// time label exactly as the data source delivered it; portfolio-mode
// ordering parses it lazily and per-symbol series are assumed already
// time-ordered by the source.
type Bar struct {
	Symbol string
	Date   string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Vote is a single strategy's contribution to a combined decision.
type Vote struct {
	Name   string
	Signal Signal
	Weight float64
	Reason string
}

// PositionInfo is a broker-side open position snapshot.
type PositionInfo struct {
	Symbol   string
	Quantity float64
	AvgCost  float64
}

// ExecutionInfo is one fill reported by the broker, used to rebuild daily
// risk state after a restart.
type ExecutionInfo struct {
	ExecID   string
	TSUTC    string
	Symbol   string
	Side     string
	Quantity float64
	Price    float64
	OrderID  string
}

// NormalizeSide maps broker-specific fill side codes onto "BUY" or "SELL".
// Unknown codes pass through unchanged.
func NormalizeSide(side string) string {
	switch side {
	case "BUY", "buy", "BOT":
		return "BUY"
	case "SELL", "sell", "SLD":
		return "SELL"
	}
	return side
}

// Closes extracts the close prices from a bar series.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
