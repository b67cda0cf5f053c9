// Package broker abstracts brokerage operations: account state, historical
// market data, and order execution.
package broker

import (
	"context"

	"autostock/internal/domain"
)

// Broker is the narrow brokerage surface the engine and the backtester
// consume. Duration and barSize are opaque strings the implementation
// interprets; the callers pass them through from configuration.
type Broker interface {
	// Name returns the broker identifier (e.g. "alpaca", "simulator").
	Name() string

	// GetEquity returns the account's current net liquidation value.
	GetEquity(ctx context.Context) (float64, error)

	// GetPositions returns current open positions keyed by symbol.
	GetPositions(ctx context.Context) (map[string]domain.PositionInfo, error)

	// GetHistoricalBars returns the symbol's bar series, oldest first. The
	// series is guaranteed time-ordered within the symbol.
	GetHistoricalBars(ctx context.Context, symbol, duration, barSize string) ([]domain.Bar, error)

	// SubmitMarketOrder sends a market order and returns the broker-reported
	// status string.
	SubmitMarketOrder(ctx context.Context, symbol, side string, quantity int) (string, error)

	// ClosePosition liquidates the full open position for a symbol and
	// returns the broker-reported status string.
	ClosePosition(ctx context.Context, symbol string) (string, error)

	// GetExecutionsSince returns fills at or after the given RFC3339 UTC
	// timestamp; an empty string means all available fills.
	GetExecutionsSince(ctx context.Context, sinceUTC string) ([]domain.ExecutionInfo, error)
}

// RecentCloses fetches a symbol's bar series and extracts the close prices.
func RecentCloses(ctx context.Context, b Broker, symbol, duration, barSize string) ([]float64, error) {
	bars, err := b.GetHistoricalBars(ctx, symbol, duration, barSize)
	if err != nil {
		return nil, err
	}
	return domain.Closes(bars), nil
}
