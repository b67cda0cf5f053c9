// Package risk implements stateless pre-trade rules: position sizing,
// stop-loss detection, and entry circuit breakers.
package risk

import (
	"fmt"

	"autostock/internal/config"
)

// Decision is the outcome of an entry-guard evaluation.
type Decision struct {
	Allow  bool
	Reason string
}

// Manager evaluates risk rules against the configured thresholds. It holds
// no mutable state; every answer is a pure function of its inputs.
type Manager struct {
	cfg config.RiskConfig
}

// NewManager creates a Manager with the given risk thresholds.
func NewManager(cfg config.RiskConfig) *Manager {
	return &Manager{cfg: cfg}
}

// MaxSharesForSymbol returns how many whole shares the position-sizing rule
// allows at the given price: floor(equity * max_position_pct / price),
// clamped to 0 when equity or price is non-positive.
func (m *Manager) MaxSharesForSymbol(equity, price float64) int {
	if equity <= 0 || price <= 0 {
		return 0
	}
	budget := equity * m.cfg.MaxPositionPct
	return int(budget / price)
}

// StopLossTriggered reports whether the last price has fallen to or below
// the stop level derived from the average cost. An unknown (non-positive)
// average cost never triggers.
func (m *Manager) StopLossTriggered(avgCost, lastPrice float64) bool {
	if avgCost <= 0 {
		return false
	}
	stopPrice := avgCost * (1 - m.cfg.StopLossPct)
	return lastPrice <= stopPrice
}

// EvaluateEntryGuards decides whether a new entry may be opened. Checks run
// in a fixed order and the first failing one wins:
//
//  1. account daily drawdown limit
//  2. symbol daily loss limit
//  3. max open positions
//  4. consecutive-loss circuit breaker
func (m *Manager) EvaluateEntryGuards(
	currentEquity, dayStartEquity, symbolRealizedPnl float64,
	openPositions, consecutiveLosses int,
) Decision {
	if dayStartEquity > 0 {
		drawdown := (dayStartEquity - currentEquity) / dayStartEquity
		if drawdown >= m.cfg.AccountDailyDrawdownPct {
			return Decision{
				Allow:  false,
				Reason: fmt.Sprintf("account drawdown limit reached (%.2f%%)", drawdown*100),
			}
		}
	}

	symbolLossLimit := currentEquity * m.cfg.SymbolDailyLossPct
	if symbolRealizedPnl <= -symbolLossLimit {
		return Decision{
			Allow:  false,
			Reason: fmt.Sprintf("symbol daily loss limit reached (%.2f)", symbolRealizedPnl),
		}
	}

	if openPositions >= m.cfg.MaxOpenPositions {
		return Decision{
			Allow:  false,
			Reason: fmt.Sprintf("max open positions reached (%d/%d)", openPositions, m.cfg.MaxOpenPositions),
		}
	}

	if consecutiveLosses >= m.cfg.MaxConsecutiveLosses {
		return Decision{
			Allow:  false,
			Reason: fmt.Sprintf("consecutive loss circuit breaker active (%d/%d)", consecutiveLosses, m.cfg.MaxConsecutiveLosses),
		}
	}

	return Decision{Allow: true}
}
