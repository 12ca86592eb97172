// Package db keeps the session journal: every routed order and every news
// release is appended to a local sqlite file so a session can be audited
// after the fact.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Database struct {
	DB *sql.DB
}

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS orders (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id    TEXT NOT NULL,
	tick        INTEGER NOT NULL,
	instrument  TEXT NOT NULL,
	size        REAL NOT NULL,
	price       REAL NOT NULL,
	order_type  TEXT NOT NULL,
	strategy    TEXT NOT NULL,
	status      TEXT NOT NULL,
	created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS news (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	tick        INTEGER NOT NULL,
	kind        TEXT NOT NULL,
	quarter     INTEGER NOT NULL,
	value       REAL NOT NULL,
	shock       REAL NOT NULL,
	superseded  INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_orders_tick ON orders(tick);
CREATE INDEX IF NOT EXISTS idx_news_tick ON news(tick);
`

// New opens (creating if needed) the journal database at path.
func New(path string) (*Database, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// sqlite tolerates a single writer; the journal is append-only anyway.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Database{DB: db}, nil
}

func (d *Database) Close() error {
	return d.DB.Close()
}

// OrderRecord is one journaled routing outcome.
type OrderRecord struct {
	OrderID    string
	Tick       int
	Instrument string
	Size       float64
	Price      float64
	OrderType  string
	Strategy   string
	Status     string
}

func (d *Database) RecordOrder(r OrderRecord) error {
	_, err := d.DB.Exec(
		`INSERT INTO orders (order_id, tick, instrument, size, price, order_type, strategy, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.OrderID, r.Tick, r.Instrument, r.Size, r.Price, r.OrderType, r.Strategy, r.Status,
	)
	if err != nil {
		return fmt.Errorf("record order: %w", err)
	}
	return nil
}

// NewsRecord is one journaled news release or correction.
type NewsRecord struct {
	Tick       int
	Kind       string
	Quarter    int
	Value      float64
	Shock      float64
	Superseded bool
}

func (d *Database) RecordNews(r NewsRecord) error {
	sup := 0
	if r.Superseded {
		sup = 1
	}
	_, err := d.DB.Exec(
		`INSERT INTO news (tick, kind, quarter, value, shock, superseded)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.Tick, r.Kind, r.Quarter, r.Value, r.Shock, sup,
	)
	if err != nil {
		return fmt.Errorf("record news: %w", err)
	}
	return nil
}

// ListOrders returns the most recent journaled orders, newest first.
func (d *Database) ListOrders(limit int) ([]OrderRecord, error) {
	rows, err := d.DB.Query(
		`SELECT order_id, tick, instrument, size, price, order_type, strategy, status
		 FROM orders ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		var r OrderRecord
		if err := rows.Scan(&r.OrderID, &r.Tick, &r.Instrument, &r.Size, &r.Price,
			&r.OrderType, &r.Strategy, &r.Status); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
