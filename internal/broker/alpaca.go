package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"autostock/internal/config"
	"autostock/internal/domain"
	"autostock/internal/util"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// AlpacaBroker implements Broker against the Alpaca trading and market-data
// APIs.
type AlpacaBroker struct {
	trading *alpaca.Client
	data    *marketdata.Client
	log     *slog.Logger
}

// NewAlpacaBroker creates an AlpacaBroker from the configured credentials
// and endpoints.
func NewAlpacaBroker(cfg config.BrokerConfig) *AlpacaBroker {
	dataOpts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataURL != "" {
		dataOpts.BaseURL = cfg.DataURL
	}

	return &AlpacaBroker{
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.BaseURL,
		}),
		data: marketdata.NewClient(dataOpts),
		log:  slog.Default().With("broker", "alpaca"),
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string { return "alpaca" }

// GetEquity returns the account's net liquidation value.
func (b *AlpacaBroker) GetEquity(_ context.Context) (float64, error) {
	acct, err := b.trading.GetAccount()
	if err != nil {
		return 0, fmt.Errorf("GetAccount: %w", err)
	}
	return acct.Equity.InexactFloat64(), nil
}

// GetPositions returns current open positions keyed by symbol.
func (b *AlpacaBroker) GetPositions(_ context.Context) (map[string]domain.PositionInfo, error) {
	positions, err := b.trading.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("GetPositions: %w", err)
	}
	out := make(map[string]domain.PositionInfo, len(positions))
	for _, p := range positions {
		out[p.Symbol] = domain.PositionInfo{
			Symbol:   p.Symbol,
			Quantity: p.Qty.InexactFloat64(),
			AvgCost:  p.AvgEntryPrice.InexactFloat64(),
		}
	}
	return out, nil
}

// GetHistoricalBars fetches the symbol's bars for the given lookback
// duration and bar size, oldest first. Transient API failures are retried
// with backoff.
func (b *AlpacaBroker) GetHistoricalBars(ctx context.Context, symbol, duration, barSize string) ([]domain.Bar, error) {
	lookback, err := parseDuration(duration)
	if err != nil {
		return nil, err
	}
	timeframe, intraday, err := parseBarSize(barSize)
	if err != nil {
		return nil, err
	}

	end := time.Now().UTC()
	start := end.Add(-lookback)

	var raw []marketdata.Bar
	err = util.Retry(ctx, 3, 2*time.Second, func() error {
		var ferr error
		raw, ferr = b.data.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame: timeframe,
			Start:     start,
			End:       end,
			Feed:      "iex",
		})
		return ferr
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}

	layout := "2006-01-02"
	if intraday {
		layout = "2006-01-02 15:04:05"
	}

	bars := make([]domain.Bar, 0, len(raw))
	for _, rb := range raw {
		bars = append(bars, domain.Bar{
			Symbol: symbol,
			Date:   rb.Timestamp.UTC().Format(layout),
			Open:   rb.Open,
			High:   rb.High,
			Low:    rb.Low,
			Close:  rb.Close,
			Volume: float64(rb.Volume),
		})
	}
	return bars, nil
}

// SubmitMarketOrder sends a day market order and returns its status.
func (b *AlpacaBroker) SubmitMarketOrder(_ context.Context, symbol, side string, quantity int) (string, error) {
	if quantity <= 0 {
		return "", fmt.Errorf("quantity must be positive, got %d", quantity)
	}
	orderSide := alpaca.Buy
	if strings.EqualFold(side, "SELL") {
		orderSide = alpaca.Sell
	}
	qty := decimal.NewFromInt(int64(quantity))
	order, err := b.trading.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:      symbol,
		Qty:         &qty,
		Side:        orderSide,
		Type:        alpaca.Market,
		TimeInForce: alpaca.Day,
	})
	if err != nil {
		return "", fmt.Errorf("PlaceOrder %s %s %d: %w", side, symbol, quantity, err)
	}
	b.log.Info("order submitted", "symbol", symbol, "side", side, "qty", quantity, "status", order.Status)
	return string(order.Status), nil
}

// ClosePosition liquidates the full position for a symbol.
func (b *AlpacaBroker) ClosePosition(_ context.Context, symbol string) (string, error) {
	order, err := b.trading.ClosePosition(symbol, alpaca.ClosePositionRequest{})
	if err != nil {
		return "", fmt.Errorf("ClosePosition %s: %w", symbol, err)
	}
	return string(order.Status), nil
}

// GetExecutionsSince returns fill activities at or after sinceUTC.
func (b *AlpacaBroker) GetExecutionsSince(_ context.Context, sinceUTC string) ([]domain.ExecutionInfo, error) {
	req := alpaca.GetAccountActivitiesRequest{
		ActivityTypes: []string{"FILL"},
	}
	if sinceUTC != "" {
		since, err := time.Parse(time.RFC3339, sinceUTC)
		if err != nil {
			return nil, fmt.Errorf("parsing since timestamp %q: %w", sinceUTC, err)
		}
		req.After = since
	}
	activities, err := b.trading.GetAccountActivities(req)
	if err != nil {
		return nil, fmt.Errorf("GetAccountActivities: %w", err)
	}

	out := make([]domain.ExecutionInfo, 0, len(activities))
	for _, a := range activities {
		out = append(out, domain.ExecutionInfo{
			ExecID:   a.ID,
			TSUTC:    a.TransactionTime.UTC().Format(time.RFC3339Nano),
			Symbol:   a.Symbol,
			Side:     strings.ToUpper(a.Side),
			Quantity: a.Qty.InexactFloat64(),
			Price:    a.Price.InexactFloat64(),
			OrderID:  a.OrderID,
		})
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Opaque-string interpretation
// ---------------------------------------------------------------------------

// parseDuration interprets lookback strings like "60 D", "6 M", "2 Y" as a
// wall-clock duration. The format follows the data vendor the system was
// first built against, so configs carry over unchanged.
func parseDuration(s string) (time.Duration, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) != 2 {
		return 0, fmt.Errorf("invalid duration %q (want \"<n> <D|W|M|Y>\")", s)
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid duration %q: count must be a positive integer", s)
	}
	day := 24 * time.Hour
	switch strings.ToUpper(fields[1]) {
	case "D":
		return time.Duration(n) * day, nil
	case "W":
		return time.Duration(n) * 7 * day, nil
	case "M":
		return time.Duration(n) * 31 * day, nil
	case "Y":
		return time.Duration(n) * 365 * day, nil
	}
	return 0, fmt.Errorf("invalid duration unit in %q", s)
}

// parseBarSize interprets bar-size strings like "5 mins", "1 hour", "1 day"
// into an Alpaca timeframe. The second return value reports whether the
// timeframe is intraday, which decides the bar time-label format.
func parseBarSize(s string) (marketdata.TimeFrame, bool, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	if len(fields) != 2 {
		return marketdata.TimeFrame{}, false, fmt.Errorf("invalid bar size %q (want \"<n> <mins|hour|day>\")", s)
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return marketdata.TimeFrame{}, false, fmt.Errorf("invalid bar size %q: count must be a positive integer", s)
	}
	switch strings.TrimSuffix(fields[1], "s") {
	case "min":
		return marketdata.NewTimeFrame(n, marketdata.Min), true, nil
	case "hour":
		return marketdata.NewTimeFrame(n, marketdata.Hour), true, nil
	case "day":
		return marketdata.NewTimeFrame(n, marketdata.Day), false, nil
	}
	return marketdata.TimeFrame{}, false, fmt.Errorf("invalid bar size unit in %q", s)
}
