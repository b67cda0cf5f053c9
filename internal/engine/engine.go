// Package engine runs the live trading control loop: poll market hours,
// evaluate the combined signal per symbol, apply risk guards, and submit
// orders through the broker while persisting every decision.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"autostock/internal/broker"
	"autostock/internal/config"
	"autostock/internal/domain"
	"autostock/internal/risk"
	"autostock/internal/store"
	"autostock/internal/strategy"
	"autostock/internal/util"
)

// Engine owns one live trading loop. All daily risk state (day-start
// equity, per-symbol realized PnL) lives in the store so a restart resumes
// where the previous process left off.
type Engine struct {
	cfg      *config.Config
	store    *store.Store
	broker   broker.Broker
	risk     *risk.Manager
	calendar *util.TradingCalendar
	log      *slog.Logger
}

// New creates an Engine wired with the given collaborators.
func New(cfg *config.Config, st *store.Store, b broker.Broker, rm *risk.Manager) (*Engine, error) {
	cal, err := util.NewTradingCalendar(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", cfg.Timezone, err)
	}
	return &Engine{
		cfg:      cfg,
		store:    st,
		broker:   b,
		risk:     rm,
		calendar: cal,
		log:      slog.Default().With("component", "engine"),
	}, nil
}

// Run executes the control loop until ctx is cancelled. Loop errors are
// logged and the loop continues; only cancellation stops it.
func (e *Engine) Run(ctx context.Context) error {
	e.markEvent(ctx, "INFO", "autostock engine started")
	interval := time.Duration(e.cfg.Strategy.LoopIntervalSeconds) * time.Second

	for {
		if err := e.iterate(ctx); err != nil {
			e.markEvent(ctx, "ERROR", fmt.Sprintf("loop error: %v", err))
		}

		select {
		case <-ctx.Done():
			e.markEvent(context.WithoutCancel(ctx), "INFO", "engine stopped")
			return nil
		case <-time.After(interval):
		}
	}
}

// iterate performs one pass over all configured symbols.
func (e *Engine) iterate(ctx context.Context) error {
	if !e.calendar.IsMarketOpen(time.Now()) {
		e.log.Info("market closed, sleeping")
		return nil
	}

	equity, err := e.broker.GetEquity(ctx)
	if err != nil {
		return fmt.Errorf("fetching equity: %w", err)
	}
	if _, err := e.ensureDayStartEquity(ctx, equity); err != nil {
		return err
	}
	positions, err := e.broker.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("fetching positions: %w", err)
	}

	for _, symbol := range e.cfg.Symbols {
		if err := e.executeSymbol(ctx, symbol, equity, positions); err != nil {
			e.markEvent(ctx, "ERROR", fmt.Sprintf("%s: %v", symbol, err))
		}
	}
	return nil
}

// executeSymbol evaluates one symbol and acts on the outcome: stop-loss
// first, then signal-driven entries and exits.
func (e *Engine) executeSymbol(ctx context.Context, symbol string, equity float64, positions map[string]domain.PositionInfo) error {
	closes, err := broker.RecentCloses(ctx, e.broker, symbol, e.cfg.Strategy.Duration, e.cfg.Strategy.BarSize)
	if err != nil {
		return fmt.Errorf("fetching closes: %w", err)
	}
	if len(closes) == 0 {
		e.markEvent(ctx, "WARN", fmt.Sprintf("%s: no historical data", symbol))
		return nil
	}
	lastPrice := closes[len(closes)-1]

	sig, detail, err := strategy.Evaluate(closes, e.cfg.Strategy, e.cfg.Combo)
	if err != nil {
		return err
	}

	position := positions[symbol]
	unrealized := 0.0
	if position.Quantity != 0 {
		unrealized = (lastPrice - position.AvgCost) * position.Quantity
	}
	if err := e.store.RecordSnapshot(ctx, symbol, position.Quantity, position.AvgCost, lastPrice, unrealized); err != nil {
		return err
	}

	if position.Quantity > 0 && e.risk.StopLossTriggered(position.AvgCost, lastPrice) {
		qty := int(position.Quantity)
		status, err := e.broker.SubmitMarketOrder(ctx, symbol, "SELL", qty)
		if err != nil {
			return err
		}
		approxRealized := (lastPrice - position.AvgCost) * float64(qty)
		if err := e.addSymbolRealized(ctx, symbol, approxRealized); err != nil {
			return err
		}
		if err := e.store.RecordOrder(ctx, symbol, "SELL", qty, "STOP_LOSS", status, lastPrice, ""); err != nil {
			return err
		}
		e.markEvent(ctx, "INFO", fmt.Sprintf("%s: stop loss triggered, sold %d @ %.2f", symbol, qty, lastPrice))
		return nil
	}

	switch {
	case sig == domain.SignalBuy && position.Quantity <= 0:
		dayStart, err := e.ensureDayStartEquity(ctx, equity)
		if err != nil {
			return err
		}
		symbolPnl, err := e.symbolRealizedToday(ctx, symbol)
		if err != nil {
			return err
		}
		openPositions := 0
		for _, p := range positions {
			if p.Quantity > 0 {
				openPositions++
			}
		}
		consecutive, err := e.consecutiveLossesToday(ctx)
		if err != nil {
			return err
		}
		decision := e.risk.EvaluateEntryGuards(equity, dayStart, symbolPnl, openPositions, consecutive)
		if !decision.Allow {
			e.markEvent(ctx, "WARN", fmt.Sprintf("%s: entry blocked by risk guard: %s", symbol, decision.Reason))
			return nil
		}
		qty := e.risk.MaxSharesForSymbol(equity, lastPrice)
		if qty <= 0 {
			e.markEvent(ctx, "WARN", fmt.Sprintf("%s: computed order quantity is 0", symbol))
			return nil
		}
		status, err := e.broker.SubmitMarketOrder(ctx, symbol, "BUY", qty)
		if err != nil {
			return err
		}
		if err := e.store.RecordOrder(ctx, symbol, "BUY", qty, "STRATEGY_BUY", status, lastPrice, detail); err != nil {
			return err
		}
		e.markEvent(ctx, "INFO", fmt.Sprintf("%s: BUY %d @ %.2f (%s) [%s]", symbol, qty, lastPrice, status, detail))

	case sig == domain.SignalSell && position.Quantity > 0:
		qty := int(position.Quantity)
		status, err := e.broker.SubmitMarketOrder(ctx, symbol, "SELL", qty)
		if err != nil {
			return err
		}
		approxRealized := (lastPrice - position.AvgCost) * float64(qty)
		if err := e.addSymbolRealized(ctx, symbol, approxRealized); err != nil {
			return err
		}
		if err := e.store.RecordOrder(ctx, symbol, "SELL", qty, "STRATEGY_SELL", status, lastPrice, detail); err != nil {
			return err
		}
		e.markEvent(ctx, "INFO", fmt.Sprintf("%s: SELL %d @ %.2f (%s) [%s]", symbol, qty, lastPrice, status, detail))

	default:
		e.log.Debug("no action", "symbol", symbol, "signal", sig, "position", position.Quantity, "detail", detail)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Daily risk-state keys
// ---------------------------------------------------------------------------

func (e *Engine) dayKey() string {
	return e.calendar.TodayKey(time.Now())
}

// ensureDayStartEquity returns today's opening equity, storing the current
// equity as the day's baseline if none exists yet.
func (e *Engine) ensureDayStartEquity(ctx context.Context, equity float64) (float64, error) {
	key := "day_start_equity:" + e.dayKey()
	stored, err := e.store.GetStateFloat(ctx, key, -1)
	if err != nil {
		return 0, err
	}
	if stored < 0 {
		if err := e.store.SetState(ctx, key, equity); err != nil {
			return 0, err
		}
		return equity, nil
	}
	return stored, nil
}

func (e *Engine) symbolRealizedToday(ctx context.Context, symbol string) (float64, error) {
	return e.store.GetStateFloat(ctx, "symbol_realized:"+e.dayKey()+":"+symbol, 0)
}

func (e *Engine) addSymbolRealized(ctx context.Context, symbol string, delta float64) error {
	key := "symbol_realized:" + e.dayKey() + ":" + symbol
	existing, err := e.store.GetStateFloat(ctx, key, 0)
	if err != nil {
		return err
	}
	return e.store.SetState(ctx, key, existing+delta)
}

func (e *Engine) consecutiveLossesToday(ctx context.Context) (int, error) {
	v, err := e.store.GetStateFloat(ctx, "consecutive_losses:"+e.dayKey(), 0)
	return int(v), err
}

// markEvent persists an event and logs it.
func (e *Engine) markEvent(ctx context.Context, level, message string) {
	if err := e.store.LogEvent(ctx, level, message); err != nil {
		e.log.Error("recording event failed", "err", err)
	}
	switch level {
	case "ERROR":
		e.log.Error(message)
	case "WARN":
		e.log.Warn(message)
	default:
		e.log.Info(message)
	}
}
