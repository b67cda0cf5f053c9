package backtest

import (
	"sort"
	"time"

	"autostock/internal/domain"
)

// event is one bar of one symbol placed on the global portfolio timeline.
type event struct {
	t      time.Time
	parsed bool
	raw    string
	symbol string
	idx    int
}

// symbolSim is the per-symbol state bag owned exclusively by the portfolio
// loop for the duration of a run.
type symbolSim struct {
	symbol string
	bars   []domain.Bar
	closes []float64

	inPosition bool
	entry      float64
	entryTime  string
	shares     int

	realized float64
	consec   int
	wins     int
	losses   int

	// curve holds portfolio-attributed equity for this symbol: the per-run
	// initial capital plus the symbol's realized and unrealized PnL. The
	// symbol never owns a cash pool of its own in portfolio mode, so its
	// drawdown is measured against its capital contribution.
	curve  []float64
	trades []Trade

	blocked BlockedCounters
}

// runPortfolio replays all symbols against one shared cash pool. Bars from
// every symbol merge into a single globally time-ordered event stream;
// every state change (cash, open-position count, latest prices) is visible
// to the very next event, with no batching.
func (r *Runner) runPortfolio(series map[string][]domain.Bar, symbols []string, initialCapital float64) []Result {
	states := make(map[string]*symbolSim, len(symbols))
	var events []event

	for _, symbol := range symbols {
		bars := series[symbol]
		closes := domain.Closes(bars)
		if len(closes) < minBars {
			r.log.Info("symbol skipped", "symbol", symbol, "bars", len(closes))
			continue
		}
		states[symbol] = &symbolSim{
			symbol: symbol,
			bars:   bars,
			closes: closes,
			curve:  []float64{initialCapital},
		}
		// Bar 0 only seeds the signal window; decisions start at index 1.
		for i := 1; i < len(bars); i++ {
			t, ok := parseBarTime(bars[i].Date)
			events = append(events, event{t: t, parsed: ok, raw: bars[i].Date, symbol: symbol, idx: i})
		}
	}

	// Global ordering: parsed time first, then the raw label (which only
	// differentiates unparsable-timestamp bars, preserving their lexical
	// order), then symbol name. The symbol tie-break makes runs
	// deterministic, and means alphabetical order acts as an implicit
	// priority when two symbols' bars share a timestamp and both want the
	// same cash.
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.t.Equal(b.t) {
			return a.t.Before(b.t)
		}
		if !a.parsed && !b.parsed && a.raw != b.raw {
			return a.raw < b.raw
		}
		return a.symbol < b.symbol
	})

	cash := initialCapital
	latest := make(map[string]float64, len(states))
	openPositions := 0
	portfolioCurve := []float64{initialCapital}

	markToMarket := func() float64 {
		equity := cash
		for sym, st := range states {
			if st.inPosition {
				equity += float64(st.shares) * latest[sym]
			}
		}
		return equity
	}

	for _, ev := range events {
		st := states[ev.symbol]
		price := st.closes[ev.idx]
		timeLabel := st.bars[ev.idx].Date
		latest[ev.symbol] = price

		sig, _ := r.signal(st.closes[:ev.idx+1])
		stopLoss := st.inPosition && price <= st.entry*(1-r.risk.StopLossPct)

		if sig == domain.SignalBuy && !st.inPosition {
			if st.consec >= r.risk.MaxConsecutiveLosses {
				st.blocked.ConsecutiveLosses++
				continue
			}
			if openPositions >= r.risk.MaxOpenPositions {
				st.blocked.MaxOpenPositions++
				continue
			}
			budget := cash * r.risk.MaxPositionPct
			if budget > cash {
				budget = cash
			}
			buyFill := price * r.slippageMultiplier("BUY")
			orderShares := int(budget / buyFill)
			if orderShares <= 0 {
				// Shared pool too depleted to size even one share.
				st.blocked.Cash++
			} else {
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
				openPositions++
				r.log.Debug("buy fill",
					"symbol", ev.symbol, "shares", st.shares, "price", st.entry, "time", timeLabel,
					"cash", cash, "open_positions", openPositions)
			}
		} else if st.inPosition && (sig == domain.SignalSell || stopLoss) {
			exitReason := ExitStrategySell
			if stopLoss {
				exitReason = ExitStopLoss
			}
			sellFill := price * r.slippageMultiplier("SELL")
			cash += float64(st.shares) * sellFill
			cash -= r.exec.CommissionPerOrder
			tradePnL := (sellFill-st.entry)*float64(st.shares) - 2.0*r.exec.CommissionPerOrder
			st.closeTrade(timeLabel, sellFill, tradePnL, exitReason)
			openPositions--
			r.log.Debug("sell fill",
				"symbol", ev.symbol, "reason", exitReason, "price", sellFill, "pnl", tradePnL,
				"cash", cash, "consecutive_losses", st.consec)
		}

		st.curve = append(st.curve, st.attributedEquity(initialCapital, price))
		portfolioCurve = append(portfolioCurve, markToMarket())
	}

	// End-of-data forced liquidation, in symbol order. In portfolio mode the
	// forced exit drives the consecutive-loss streak exactly like a strategy
	// exit; the per-symbol path leaves the streak alone.
	for _, symbol := range symbols {
		st := states[symbol]
		if st == nil || !st.inPosition {
			continue
		}
		finalPrice := st.closes[len(st.closes)-1]
		finalTime := st.bars[len(st.bars)-1].Date
		sellFill := finalPrice * r.slippageMultiplier("SELL")
		cash += float64(st.shares) * sellFill
		cash -= r.exec.CommissionPerOrder
		tradePnL := (sellFill-st.entry)*float64(st.shares) - 2.0*r.exec.CommissionPerOrder
		st.closeTrade(finalTime, sellFill, tradePnL, ExitForcedEnd)
		openPositions--
		st.curve = append(st.curve, st.attributedEquity(initialCapital, finalPrice))
		portfolioCurve = append(portfolioCurve, markToMarket())
		r.log.Debug("forced exit", "symbol", symbol, "price", sellFill, "pnl", tradePnL)
	}

	results := make([]Result, 0, len(symbols))
	for _, symbol := range symbols {
		st := states[symbol]
		if st == nil {
			results = append(results, Result{Symbol: symbol, Bars: len(series[symbol])})
			continue
		}
		returnPct := 0.0
		if initialCapital > 0 {
			// Capital-contribution return: realized PnL over the per-run
			// initial capital, not a symbol-own ROI.
			returnPct = st.realized / initialCapital
		}
		results = append(results, Result{
			Symbol:         symbol,
			Bars:           len(st.closes),
			Trades:         len(st.trades),
			Wins:           st.wins,
			Losses:         st.losses,
			PnL:            st.realized,
			ReturnPct:      returnPct,
			MaxDrawdownPct: MaxDrawdown(st.curve),
			TradesDetail:   st.trades,
			Blocked:        st.blocked,
		})
	}

	summary := Summarize(results)
	r.log.Info("portfolio completed",
		"symbols", summary.TotalSymbols, "trades", summary.TotalTrades, "pnl", summary.TotalPnL,
		"final_cash", cash, "portfolio_max_drawdown", MaxDrawdown(portfolioCurve))
	return results
}

// recordClose appends the trade, moves realized PnL and the win/loss
// tallies, and clears the open position. Streak handling is left to the
// caller: the two simulation modes disagree on it for forced exits.
func (st *symbolSim) recordClose(exitTime string, sellFill, tradePnL float64, exitReason string) {
	returnPct := 0.0
	if st.entry > 0 {
		returnPct = (sellFill - st.entry) / st.entry
	}
	st.trades = append(st.trades, Trade{
		Symbol:     st.symbol,
		EntryTime:  st.entryTime,
		ExitTime:   exitTime,
		EntryPrice: st.entry,
		ExitPrice:  sellFill,
		Shares:     st.shares,
		PnL:        tradePnL,
		ReturnPct:  returnPct,
		ExitReason: exitReason,
	})
	st.realized += tradePnL
	if tradePnL >= 0 {
		st.wins++
	} else {
		st.losses++
	}
	st.shares = 0
	st.inPosition = false
	st.entry = 0.0
}

// closeTrade records a position close with the regular exit rule: any
// non-negative PnL resets the consecutive-loss streak, a negative one
// extends it. The portfolio loop uses this for every exit, forced ones
// included.
func (st *symbolSim) closeTrade(exitTime string, sellFill, tradePnL float64, exitReason string) {
	negative := tradePnL < 0
	st.recordClose(exitTime, sellFill, tradePnL, exitReason)
	if negative {
		st.consec++
	} else {
		st.consec = 0
	}
}

// closeTradeKeepStreak records a position close without touching the
// consecutive-loss streak, whatever the trade's sign. The per-symbol
// runner uses this for the end-of-data liquidation.
func (st *symbolSim) closeTradeKeepStreak(exitTime string, sellFill, tradePnL float64, exitReason string) {
	st.recordClose(exitTime, sellFill, tradePnL, exitReason)
}

// attributedEquity values the symbol's slice of the portfolio at the given
// price: initial capital plus realized PnL plus any open-position
// unrealized PnL.
func (st *symbolSim) attributedEquity(initialCapital, price float64) float64 {
	eq := initialCapital + st.realized
	if st.inPosition {
		eq += (price - st.entry) * float64(st.shares)
	}
	return eq
}
