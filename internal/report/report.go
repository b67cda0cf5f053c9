// Package report renders human-readable summaries of the persisted trading
// state: current positions and a daily activity digest.
package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"autostock/internal/domain"
	"autostock/internal/store"
)

// Status writes the most recent snapshot for every tracked symbol.
func Status(ctx context.Context, w io.Writer, st *store.Store) error {
	snapshots, err := st.LatestSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("loading snapshots: %w", err)
	}
	if len(snapshots) == 0 {
		fmt.Fprintln(w, "no position snapshots recorded yet")
		return nil
	}

	fmt.Fprintf(w, "%-8s %10s %12s %12s %14s  %s\n",
		"SYMBOL", "POSITION", "AVG COST", "LAST", "UNREALIZED", "AS OF")
	for _, s := range snapshots {
		fmt.Fprintf(w, "%-8s %10.0f %12.2f %12.2f %14.2f  %s\n",
			s.Symbol, s.Position, s.AvgCost, s.LastPrice, s.UnrealizedPnL, s.TSUTC)
	}
	return nil
}

// Daily writes the last 24 hours of orders and warnings, plus realized PnL
// computed from synced broker fills.
func Daily(ctx context.Context, w io.Writer, st *store.Store) error {
	since := time.Now().UTC().Add(-24 * time.Hour).Format(time.RFC3339)

	orders, err := st.OrdersSince(ctx, since)
	if err != nil {
		return fmt.Errorf("loading orders: %w", err)
	}
	events, err := st.EventsSince(ctx, since)
	if err != nil {
		return fmt.Errorf("loading events: %w", err)
	}

	fmt.Fprintf(w, "daily report since %s\n\n", since)

	fmt.Fprintf(w, "orders (%d):\n", len(orders))
	if len(orders) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, o := range orders {
		price := "-"
		if o.Price.Valid {
			price = fmt.Sprintf("%.2f", o.Price.Float64)
		}
		fmt.Fprintf(w, "  %s  %-8s %-4s %6d @ %-10s %-12s %s\n",
			o.TSUTC, o.Symbol, o.Side, o.Quantity, price, o.Status, o.Signal)
	}

	realized, fills := realizedFromFills(ctx, st, since)
	fmt.Fprintf(w, "\nfills (%d), realized PnL: %.2f\n", fills, realized)

	warnings := 0
	for _, e := range events {
		if e.Level == "WARN" || e.Level == "ERROR" {
			warnings++
		}
	}
	fmt.Fprintf(w, "\nevents: %d total, %d warnings/errors\n", len(events), warnings)
	for _, e := range events {
		if e.Level == "WARN" || e.Level == "ERROR" {
			fmt.Fprintf(w, "  %s  %-5s %s\n", e.TSUTC, e.Level, e.Message)
		}
	}
	return nil
}

// realizedFromFills replays synced executions in time order and returns the
// realized PnL for fills at or after since, using average-cost accounting.
func realizedFromFills(ctx context.Context, st *store.Store, since string) (float64, int) {
	execs, err := st.ExecutionsOrdered(ctx)
	if err != nil {
		return 0, 0
	}

	type book struct {
		qty     float64
		avgCost float64
	}
	books := make(map[string]*book)
	realized := 0.0
	fills := 0

	for _, e := range execs {
		bk := books[e.Symbol]
		if bk == nil {
			bk = &book{}
			books[e.Symbol] = bk
		}
		recent := strings.Compare(e.TSUTC, since) >= 0
		if recent {
			fills++
		}
		switch domain.NormalizeSide(e.Side) {
		case "BUY":
			newQty := bk.qty + e.Quantity
			if newQty > 0 {
				bk.avgCost = (bk.qty*bk.avgCost + e.Quantity*e.Price) / newQty
			}
			bk.qty = newQty
		case "SELL":
			if recent {
				realized += (e.Price - bk.avgCost) * e.Quantity
			}
			bk.qty -= e.Quantity
			if bk.qty <= 0 {
				bk.qty = 0
				bk.avgCost = 0
			}
		}
	}
	return realized, fills
}
