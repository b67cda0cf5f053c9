// Package store persists orders, position snapshots, engine events,
// executions, and small keyed state to SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"autostock/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts_utc TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	signal TEXT NOT NULL,
	status TEXT NOT NULL,
	price REAL,
	note TEXT
);

CREATE TABLE IF NOT EXISTS snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts_utc TEXT NOT NULL,
	symbol TEXT NOT NULL,
	position REAL NOT NULL,
	avg_cost REAL NOT NULL,
	last_price REAL NOT NULL,
	unrealized_pnl REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts_utc TEXT NOT NULL,
	level TEXT NOT NULL,
	message TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS app_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS executions (
	exec_id TEXT PRIMARY KEY,
	ts_utc TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity REAL NOT NULL,
	price REAL NOT NULL,
	order_id TEXT
);
`

// Store wraps the SQLite database holding all local trading state.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at dbPath, creating parent
// directories and the schema as needed.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialising schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func utcNowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// ---------------------------------------------------------------------------
// Row types
// ---------------------------------------------------------------------------

// OrderRow is one persisted order decision.
type OrderRow struct {
	ID       int64
	TSUTC    string
	Symbol   string
	Side     string
	Quantity int
	Signal   string
	Status   string
	Price    sql.NullFloat64
	Note     sql.NullString
}

// SnapshotRow is one persisted position snapshot.
type SnapshotRow struct {
	ID            int64
	TSUTC         string
	Symbol        string
	Position      float64
	AvgCost       float64
	LastPrice     float64
	UnrealizedPnL float64
}

// EventRow is one persisted engine event.
type EventRow struct {
	ID      int64
	TSUTC   string
	Level   string
	Message string
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// LogEvent records an engine event.
func (s *Store) LogEvent(ctx context.Context, level, message string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO events (ts_utc, level, message) VALUES (?, ?, ?)",
		utcNowISO(), level, message)
	return err
}

// RecordOrder records an order decision together with the signal that drove
// it and the broker-reported status.
func (s *Store) RecordOrder(ctx context.Context, symbol, side string, quantity int, signal, status string, price float64, note string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO orders (ts_utc, symbol, side, quantity, signal, status, price, note)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		utcNowISO(), symbol, side, quantity, signal, status, price, note)
	return err
}

// RecordSnapshot records a mark-to-market position snapshot.
func (s *Store) RecordSnapshot(ctx context.Context, symbol string, position, avgCost, lastPrice, unrealizedPnL float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (ts_utc, symbol, position, avg_cost, last_price, unrealized_pnl)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		utcNowISO(), symbol, position, avgCost, lastPrice, unrealizedPnL)
	return err
}

// SetState stores a JSON-encoded value under key, replacing any previous
// value.
func (s *Store) SetState(ctx context.Context, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO app_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, string(encoded))
	return err
}

// GetStateFloat returns the float stored under key, or def when the key is
// absent.
func (s *Store) GetStateFloat(ctx context.Context, key string, def float64) (float64, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM app_state WHERE key = ?", key).Scan(&raw)
	if err == sql.ErrNoRows {
		return def, nil
	}
	if err != nil {
		return def, err
	}
	var out float64
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return def, err
	}
	return out, nil
}

// DeleteStatePrefix removes every app_state key starting with prefix.
func (s *Store) DeleteStatePrefix(ctx context.Context, prefix string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM app_state WHERE key LIKE ?", prefix+"%")
	return err
}

// UpsertExecution inserts or refreshes a broker fill keyed by its execution
// ID; re-syncing the same fill is idempotent.
func (s *Store) UpsertExecution(ctx context.Context, e domain.ExecutionInfo) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (exec_id, ts_utc, symbol, side, quantity, price, order_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(exec_id) DO UPDATE SET
			ts_utc = excluded.ts_utc,
			symbol = excluded.symbol,
			side = excluded.side,
			quantity = excluded.quantity,
			price = excluded.price,
			order_id = excluded.order_id`,
		e.ExecID, e.TSUTC, e.Symbol, e.Side, e.Quantity, e.Price, e.OrderID)
	return err
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// LatestExecutionTS returns the newest execution timestamp, or "" when no
// executions have been synced yet.
func (s *Store) LatestExecutionTS(ctx context.Context) (string, error) {
	var ts sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT MAX(ts_utc) FROM executions").Scan(&ts)
	if err != nil {
		return "", err
	}
	if !ts.Valid {
		return "", nil
	}
	return ts.String, nil
}

// ExecutionsOrdered returns all synced executions ordered by timestamp then
// execution ID.
func (s *Store) ExecutionsOrdered(ctx context.Context) ([]domain.ExecutionInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT exec_id, ts_utc, symbol, side, quantity, price, COALESCE(order_id, '') FROM executions ORDER BY ts_utc ASC, exec_id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ExecutionInfo
	for rows.Next() {
		var e domain.ExecutionInfo
		if err := rows.Scan(&e.ExecID, &e.TSUTC, &e.Symbol, &e.Side, &e.Quantity, &e.Price, &e.OrderID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestSnapshots returns the most recent snapshot per symbol, ordered by
// symbol.
func (s *Store) LatestSnapshots(ctx context.Context) ([]SnapshotRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.ts_utc, s.symbol, s.position, s.avg_cost, s.last_price, s.unrealized_pnl
		FROM snapshots s
		INNER JOIN (
			SELECT symbol, MAX(ts_utc) AS max_ts
			FROM snapshots
			GROUP BY symbol
		) x ON x.symbol = s.symbol AND x.max_ts = s.ts_utc
		ORDER BY s.symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SnapshotRow
	for rows.Next() {
		var r SnapshotRow
		if err := rows.Scan(&r.ID, &r.TSUTC, &r.Symbol, &r.Position, &r.AvgCost, &r.LastPrice, &r.UnrealizedPnL); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// OrdersSince returns orders recorded at or after the given RFC3339
// timestamp, newest first.
func (s *Store) OrdersSince(ctx context.Context, isoTS string) ([]OrderRow, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, ts_utc, symbol, side, quantity, signal, status, price, note FROM orders WHERE ts_utc >= ? ORDER BY ts_utc DESC",
		isoTS)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderRow
	for rows.Next() {
		var r OrderRow
		if err := rows.Scan(&r.ID, &r.TSUTC, &r.Symbol, &r.Side, &r.Quantity, &r.Signal, &r.Status, &r.Price, &r.Note); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// EventsSince returns events recorded at or after the given RFC3339
// timestamp, newest first.
func (s *Store) EventsSince(ctx context.Context, isoTS string) ([]EventRow, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, ts_utc, level, message FROM events WHERE ts_utc >= ? ORDER BY ts_utc DESC",
		isoTS)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var r EventRow
		if err := rows.Scan(&r.ID, &r.TSUTC, &r.Level, &r.Message); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Daily risk-state rebuild
// ---------------------------------------------------------------------------

// RebuildDailyRiskState replays all synced executions in order and returns
// today's realized PnL per symbol plus the consecutive-loss count ending the
// day, both in the given timezone. Used after a restart so the circuit
// breakers resume where they left off.
func (s *Store) RebuildDailyRiskState(ctx context.Context, tzName string) (map[string]float64, int, error) {
	execs, err := s.ExecutionsOrdered(ctx)
	if err != nil {
		return nil, 0, err
	}
	if len(execs) == 0 {
		return map[string]float64{}, 0, nil
	}

	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, 0, err
	}
	today := time.Now().In(loc).Format("2006-01-02")

	positionQty := make(map[string]float64)
	avgCost := make(map[string]float64)
	realizedToday := make(map[string]float64)
	consecutiveLosses := 0

	for _, e := range execs {
		ts, err := time.Parse(time.RFC3339Nano, e.TSUTC)
		if err != nil {
			// Fall back to second precision; executions synced by older
			// builds used plain RFC3339.
			ts, err = time.Parse(time.RFC3339, e.TSUTC)
			if err != nil {
				continue
			}
		}
		tradeDay := ts.In(loc).Format("2006-01-02")

		currentQty := positionQty[e.Symbol]
		currentAvg := avgCost[e.Symbol]

		switch e.Side {
		case "BUY", "BOT":
			newQty := currentQty + e.Quantity
			if newQty <= 0 {
				positionQty[e.Symbol] = 0
				avgCost[e.Symbol] = 0
			} else {
				avgCost[e.Symbol] = ((currentQty * currentAvg) + (e.Quantity * e.Price)) / newQty
				positionQty[e.Symbol] = newQty
			}

		case "SELL", "SLD":
			sellQty := e.Quantity
			if currentQty > 0 && currentQty < sellQty {
				sellQty = currentQty
			}
			realized := (e.Price - currentAvg) * sellQty
			positionQty[e.Symbol] = currentQty - e.Quantity
			if positionQty[e.Symbol] < 0 {
				positionQty[e.Symbol] = 0
			}
			if positionQty[e.Symbol] == 0 {
				avgCost[e.Symbol] = 0
			}
			if tradeDay == today {
				realizedToday[e.Symbol] += realized
				if realized < 0 {
					consecutiveLosses++
				} else {
					consecutiveLosses = 0
				}
			}
		}
	}

	return realizedToday, consecutiveLosses, nil
}
