package backtest

import (
	"log/slog"
	"strings"

	"autostock/internal/config"
	"autostock/internal/domain"
)

// minBars is the smallest series worth simulating; shorter series yield a
// zero-trade result rather than an error.
const minBars = 5

// SignalFunc computes a trading decision over a growing close-price window.
// The second return value is the decision explanation for logs.
type SignalFunc func(closes []float64) (domain.Signal, string)

// Runner drives backtest simulations. One Runner may be reused across runs;
// all per-run state lives on the stack of Run.
type Runner struct {
	risk   config.RiskConfig
	exec   config.BacktestConfig
	signal SignalFunc
	log    *slog.Logger
}

// NewRunner creates a Runner with the given risk and execution parameters.
// The signal function is injected so scenario tests can replace the signal
// engine with a scripted one.
func NewRunner(riskCfg config.RiskConfig, execCfg config.BacktestConfig, signal SignalFunc) *Runner {
	return &Runner{
		risk:   riskCfg,
		exec:   execCfg,
		signal: signal,
		log:    slog.Default().With("component", "backtest"),
	}
}

// Run simulates all symbols and returns one Result per symbol in the given
// symbol order. Mode "portfolio" shares one cash pool and merges all bar
// series into a single time-ordered event stream; mode "per-symbol" gives
// every symbol its own independent capital.
func (r *Runner) Run(series map[string][]domain.Bar, symbols []string, initialCapital float64) []Result {
	if r.exec.Mode == config.ModePortfolio {
		return r.runPortfolio(series, symbols, initialCapital)
	}

	results := make([]Result, 0, len(symbols))
	for _, symbol := range symbols {
		results = append(results, r.runSymbol(symbol, series[symbol], initialCapital))
	}
	return results
}

// slippageMultiplier worsens the fill: buys fill above the bar price, sells
// below, by slippage_bps basis points.
func (r *Runner) slippageMultiplier(side string) float64 {
	shift := r.exec.SlippageBps / 10000.0
	if strings.EqualFold(side, "BUY") {
		return 1.0 + shift
	}
	return 1.0 - shift
}

// runSymbol replays one symbol against its own capital pool. At each bar
// i >= 1 the signal sees closes[0..i] inclusive; the window only grows, so
// there is no lookahead.
func (r *Runner) runSymbol(symbol string, bars []domain.Bar, initialCapital float64) Result {
	closes := domain.Closes(bars)
	if len(closes) < minBars {
		r.log.Info("symbol skipped", "symbol", symbol, "bars", len(closes))
		return Result{Symbol: symbol, Bars: len(closes)}
	}

	st := &symbolSim{
		symbol: symbol,
		bars:   bars,
		closes: closes,
		curve:  []float64{initialCapital},
	}
	cash := initialCapital

	for i := 1; i < len(closes); i++ {
		price := closes[i]
		timeLabel := bars[i].Date
		sig, _ := r.signal(closes[:i+1])
		stopLoss := st.inPosition && price <= st.entry*(1-r.risk.StopLossPct)

		if sig == domain.SignalBuy && !st.inPosition {
			if st.consec >= r.risk.MaxConsecutiveLosses {
				st.blocked.ConsecutiveLosses++
				continue
			}
			budget := cash * r.risk.MaxPositionPct
			buyFill := price * r.slippageMultiplier("BUY")
			orderShares := int(budget / buyFill)
			if orderShares > 0 {
				notional := float64(orderShares) * buyFill
				if notional < r.exec.MinOrderNotional {
					st.blocked.MinNotional++
					continue
				}
				st.shares = orderShares
				cash -= notional
				cash -= r.exec.CommissionPerOrder
				st.entry = buyFill
				st.entryTime = timeLabel
				st.inPosition = true
				r.log.Debug("buy fill",
					"symbol", symbol, "shares", st.shares, "price", st.entry, "time", st.entryTime, "cash", cash)
			}
		} else if st.inPosition && (sig == domain.SignalSell || stopLoss) {
			exitReason := ExitStrategySell
			if stopLoss {
				exitReason = ExitStopLoss
			}
			sellFill := price * r.slippageMultiplier("SELL")
			shares := st.shares
			cash += float64(shares) * sellFill
			cash -= r.exec.CommissionPerOrder
			tradePnL := (sellFill-st.entry)*float64(shares) - 2.0*r.exec.CommissionPerOrder
			st.closeTrade(timeLabel, sellFill, tradePnL, exitReason)
			r.log.Debug("sell fill",
				"symbol", symbol, "reason", exitReason, "shares", shares, "price", sellFill,
				"pnl", tradePnL, "cash", cash, "consecutive_losses", st.consec)
		}

		currentEquity := cash
		if st.inPosition {
			currentEquity += float64(st.shares) * price
		}
		st.curve = append(st.curve, currentEquity)
	}

	// End-of-data forced liquidation. The trade counts toward wins/losses but
	// the consecutive-loss streak stays untouched; the portfolio variant
	// treats a forced exit like a regular one.
	if st.inPosition {
		finalPrice := closes[len(closes)-1]
		finalTime := bars[len(bars)-1].Date
		sellFill := finalPrice * r.slippageMultiplier("SELL")
		shares := st.shares
		cash += float64(shares) * sellFill
		cash -= r.exec.CommissionPerOrder
		tradePnL := (sellFill-st.entry)*float64(shares) - 2.0*r.exec.CommissionPerOrder
		st.closeTradeKeepStreak(finalTime, sellFill, tradePnL, ExitForcedEnd)
		st.curve = append(st.curve, cash)
		r.log.Debug("forced exit", "symbol", symbol, "shares", shares, "price", sellFill, "pnl", tradePnL)
	}

	returnPct := 0.0
	if initialCapital > 0 {
		returnPct = (cash - initialCapital) / initialCapital
	}
	r.log.Info("symbol completed",
		"symbol", symbol, "bars", len(closes), "trades", len(st.trades), "wins", st.wins, "losses", st.losses,
		"pnl", st.realized, "return_pct", returnPct,
		"blocked_consecutive", st.blocked.ConsecutiveLosses, "blocked_min_notional", st.blocked.MinNotional)

	return Result{
		Symbol:         symbol,
		Bars:           len(closes),
		Trades:         len(st.trades),
		Wins:           st.wins,
		Losses:         st.losses,
		PnL:            st.realized,
		ReturnPct:      returnPct,
		MaxDrawdownPct: MaxDrawdown(st.curve),
		TradesDetail:   st.trades,
		Blocked:        st.blocked,
	}
}
