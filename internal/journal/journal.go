// Package journal persists the audit trail: order state transitions,
// reconciliation mismatches and broker downtime episodes. It consumes the
// event bus, so producers never block on disk.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"intraday-trading-bot/internal/events"
	"intraday-trading-bot/internal/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS order_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id   TEXT NOT NULL,
	category   TEXT NOT NULL,
	order_id   TEXT,
	symbol     TEXT,
	at         TIMESTAMP NOT NULL,
	fields     TEXT
);
CREATE TABLE IF NOT EXISTS mismatches (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id   TEXT NOT NULL,
	symbol     TEXT,
	at         TIMESTAMP NOT NULL,
	fields     TEXT
);
CREATE TABLE IF NOT EXISTS downtime (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id   TEXT NOT NULL,
	category   TEXT NOT NULL,
	at         TIMESTAMP NOT NULL,
	fields     TEXT
);
CREATE INDEX IF NOT EXISTS idx_order_events_order ON order_events(order_id);
`

type Journal struct {
	db *sql.DB
}

func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Consume drains a bus subscription into the journal until the context ends.
// Run it on its own goroutine.
func (j *Journal) Consume(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := j.record(ev); err != nil {
				logger.ErrorWithErr(ctx, "Journal write failed", err,
					"category", string(ev.Category),
				)
			}
		}
	}
}

func (j *Journal) record(ev events.Event) error {
	fields, err := json.Marshal(ev.Fields)
	if err != nil {
		fields = []byte("{}")
	}

	switch ev.Category {
	case events.ReconciliationMismatch, events.ReconciliationCritical:
		_, err = j.db.Exec(`
			INSERT INTO mismatches (event_id, symbol, at, fields)
			VALUES (?, ?, ?, ?)`,
			ev.ID, ev.Symbol, ev.At, string(fields),
		)
	case events.BrokerDown, events.BrokerRecovered, events.SafeModeActivated, events.SafeModeDeactivated:
		_, err = j.db.Exec(`
			INSERT INTO downtime (event_id, category, at, fields)
			VALUES (?, ?, ?, ?)`,
			ev.ID, string(ev.Category), ev.At, string(fields),
		)
	default:
		_, err = j.db.Exec(`
			INSERT INTO order_events (event_id, category, order_id, symbol, at, fields)
			VALUES (?, ?, ?, ?, ?, ?)`,
			ev.ID, string(ev.Category), ev.OrderID, ev.Symbol, ev.At, string(fields),
		)
	}
	return err
}

// OrderEvent is one journalled lifecycle entry, as read back for audits.
type OrderEvent struct {
	EventID  string
	Category string
	OrderID  string
	Symbol   string
	At       time.Time
	Fields   map[string]any
}

// OrderHistory returns the journalled lifecycle of one order, oldest first.
func (j *Journal) OrderHistory(ctx context.Context, orderID string) ([]OrderEvent, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT event_id, category, order_id, symbol, at, fields
		FROM order_events WHERE order_id = ? ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderEvent
	for rows.Next() {
		var ev OrderEvent
		var fields string
		if err := rows.Scan(&ev.EventID, &ev.Category, &ev.OrderID, &ev.Symbol, &ev.At, &fields); err != nil {
			return nil, err
		}
		if fields != "" {
			_ = json.Unmarshal([]byte(fields), &ev.Fields)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// MismatchCount reports how many reconciliation findings were journalled.
func (j *Journal) MismatchCount(ctx context.Context) (int, error) {
	var n int
	err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mismatches`).Scan(&n)
	return n, err
}
