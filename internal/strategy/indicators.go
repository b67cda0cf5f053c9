// Package strategy implements the signal engine: technical sub-strategies
// producing votes, and policies for combining votes into one trading signal.
package strategy

import (
	"fmt"

	"autostock/internal/config"
	"autostock/internal/domain"
)

// SMA computes simple moving averages over values using a running-sum
// sliding window. The result is aligned to the tail of the input: it has
// len(values)-window+1 points when len(values) >= window, otherwise nil.
func SMA(values []float64, window int) []float64 {
	if window <= 0 || len(values) < window {
		return nil
	}

	out := make([]float64, 0, len(values)-window+1)
	running := 0.0
	for _, v := range values[:window] {
		running += v
	}
	out = append(out, running/float64(window))
	for i := window; i < len(values); i++ {
		running += values[i] - values[i-window]
		out = append(out, running/float64(window))
	}
	return out
}

// Crossover evaluates a moving-average crossover on the close series:
// BUY when the short SMA crosses from at-or-below the long SMA to strictly
// above it, SELL on the mirrored downward cross, HOLD otherwise. Equality on
// the current sample never counts as a cross; this asymmetry matches the
// behaviour live trading was tuned against and is pinned by tests.
func Crossover(closes []float64, shortWindow, longWindow int) (domain.Signal, error) {
	if shortWindow < 1 {
		return domain.SignalHold, fmt.Errorf("short_window must be positive, got %d", shortWindow)
	}
	if shortWindow >= longWindow {
		return domain.SignalHold, fmt.Errorf("short_window (%d) must be smaller than long_window (%d)", shortWindow, longWindow)
	}
	if len(closes) < longWindow+2 {
		return domain.SignalHold, nil
	}

	short := SMA(closes, shortWindow)
	long := SMA(closes, longWindow)
	alignedShort := short[len(short)-len(long):]
	if len(alignedShort) < 2 || len(long) < 2 {
		return domain.SignalHold, nil
	}

	prevShort, currShort := alignedShort[len(alignedShort)-2], alignedShort[len(alignedShort)-1]
	prevLong, currLong := long[len(long)-2], long[len(long)-1]

	if prevShort <= prevLong && currShort > currLong {
		return domain.SignalBuy, nil
	}
	if prevShort >= prevLong && currShort < currLong {
		return domain.SignalSell, nil
	}
	return domain.SignalHold, nil
}

// RSI evaluates a relative-strength-index threshold signal over the trailing
// window of price changes (plain Wilder single-period averages, no
// exponential smoothing). RSI is 100 when the average loss is exactly zero.
// BUY at or below the oversold threshold, SELL at or above overbought.
func RSI(closes []float64, cfg config.RSIConfig) (domain.Signal, error) {
	if cfg.Window <= 0 {
		return domain.SignalHold, fmt.Errorf("rsi window must be positive, got %d", cfg.Window)
	}
	if len(closes) < cfg.Window+1 {
		return domain.SignalHold, nil
	}

	gains := 0.0
	losses := 0.0
	for i := len(closes) - cfg.Window; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgGain := gains / float64(cfg.Window)
	avgLoss := losses / float64(cfg.Window)
	rsi := 100.0
	if avgLoss != 0 {
		rs := avgGain / avgLoss
		rsi = 100.0 - (100.0 / (1.0 + rs))
	}

	if rsi <= cfg.Oversold {
		return domain.SignalBuy, nil
	}
	if rsi >= cfg.Overbought {
		return domain.SignalSell, nil
	}
	return domain.SignalHold, nil
}
