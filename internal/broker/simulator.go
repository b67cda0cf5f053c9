package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"autostock/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorOrder records one order submitted to the simulator.
type SimulatorOrder struct {
	Symbol   string
	Side     string
	Quantity int
}

// SimulatorBroker implements Broker in memory for paper runs and tests. It
// serves canned bar series, fills every order instantly at the symbol's
// last close, and tracks the resulting positions and cash.
type SimulatorBroker struct {
	mu        sync.Mutex
	cash      float64
	bars      map[string][]domain.Bar
	positions map[string]domain.PositionInfo
	Orders    []SimulatorOrder
}

// NewSimulatorBroker creates a SimulatorBroker with the given starting cash
// and canned bar series per symbol.
func NewSimulatorBroker(cash float64, bars map[string][]domain.Bar) *SimulatorBroker {
	return &SimulatorBroker{
		cash:      cash,
		bars:      bars,
		positions: make(map[string]domain.PositionInfo),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string { return "simulator" }

// lastClose returns the final close of the canned series for a symbol.
func (b *SimulatorBroker) lastClose(symbol string) (float64, bool) {
	series := b.bars[symbol]
	if len(series) == 0 {
		return 0, false
	}
	return series[len(series)-1].Close, true
}

// GetEquity returns cash plus open positions marked at the last close.
func (b *SimulatorBroker) GetEquity(_ context.Context) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	equity := b.cash
	for sym, pos := range b.positions {
		if price, ok := b.lastClose(sym); ok {
			equity += pos.Quantity * price
		}
	}
	return equity, nil
}

// GetPositions returns the simulated open positions.
func (b *SimulatorBroker) GetPositions(_ context.Context) (map[string]domain.PositionInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]domain.PositionInfo, len(b.positions))
	for sym, pos := range b.positions {
		out[sym] = pos
	}
	return out, nil
}

// GetHistoricalBars serves the canned series; duration and barSize are
// accepted but ignored.
func (b *SimulatorBroker) GetHistoricalBars(_ context.Context, symbol, _, _ string) ([]domain.Bar, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bars[symbol], nil
}

// SubmitMarketOrder fills immediately at the symbol's last close and
// adjusts cash and positions.
func (b *SimulatorBroker) SubmitMarketOrder(_ context.Context, symbol, side string, quantity int) (string, error) {
	if quantity <= 0 {
		return "", fmt.Errorf("quantity must be positive, got %d", quantity)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	price, ok := b.lastClose(symbol)
	if !ok {
		return "", fmt.Errorf("no market data for %s", symbol)
	}
	b.Orders = append(b.Orders, SimulatorOrder{Symbol: symbol, Side: strings.ToUpper(side), Quantity: quantity})

	qty := float64(quantity)
	pos := b.positions[symbol]
	if strings.EqualFold(side, "BUY") {
		newQty := pos.Quantity + qty
		pos.AvgCost = (pos.Quantity*pos.AvgCost + qty*price) / newQty
		pos.Quantity = newQty
		pos.Symbol = symbol
		b.cash -= qty * price
		b.positions[symbol] = pos
	} else {
		pos.Quantity -= qty
		b.cash += qty * price
		if pos.Quantity <= 0 {
			delete(b.positions, symbol)
		} else {
			b.positions[symbol] = pos
		}
	}
	return "filled", nil
}

// ClosePosition sells the entire open position at the last close.
func (b *SimulatorBroker) ClosePosition(ctx context.Context, symbol string) (string, error) {
	b.mu.Lock()
	pos, ok := b.positions[symbol]
	b.mu.Unlock()
	if !ok || pos.Quantity == 0 {
		return "", fmt.Errorf("no open position for %s", symbol)
	}
	return b.SubmitMarketOrder(ctx, symbol, "SELL", int(pos.Quantity))
}

// GetExecutionsSince returns nothing; the simulator does not model fills as
// account activities.
func (b *SimulatorBroker) GetExecutionsSince(_ context.Context, _ string) ([]domain.ExecutionInfo, error) {
	return nil, nil
}
