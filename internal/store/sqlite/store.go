// Package sqlite implements the durable tier: an append-only, queryable
// history of accepted tick+snapshot records, keyed by (symbol, ts). It is
// the system of record — historical queries and startup recovery read from
// here, never from the cache.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"marketpulse/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps a single SQLite database holding the records table.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Open opens (creating if needed) the database with WAL mode and schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// WAL allows concurrent readers alongside the single batch writer.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			symbol       TEXT    NOT NULL,
			ts           INTEGER NOT NULL,  -- unix millis, UTC
			price        REAL    NOT NULL,
			volume       INTEGER NOT NULL,
			macd         REAL    NOT NULL,
			signal       REAL    NOT NULL,
			histogram    REAL    NOT NULL,
			macd_ready   INTEGER NOT NULL,
			signal_ready INTEGER NOT NULL,
			PRIMARY KEY (symbol, ts)
		);
	`)
	return err
}

// InsertBatch writes a batch of records in one transaction. Rows whose
// (symbol, ts) key already exists are discarded silently, which makes
// at-least-once delivery from the coordinator idempotent.
func (s *Store) InsertBatch(ctx context.Context, recs []model.Record) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO records
			(symbol, ts, price, volume, macd, signal, histogram, macd_ready, signal_ready)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range recs {
		r := &recs[i]
		_, err := stmt.ExecContext(ctx,
			r.Tick.Symbol, r.Tick.TS.UnixMilli(), r.Tick.Price, r.Tick.Volume,
			r.Point.MACD, r.Point.Signal, r.Point.Histogram,
			boolToInt(r.Point.MACDReady), boolToInt(r.Point.SignalReady),
		)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(n int) bool { return n != 0 }

// recordFromRow rebuilds a Record from one scanned row.
func recordFromRow(symbol string, tsMilli int64, price float64, volume int64,
	macd, signal, histogram float64, macdReady, signalReady int) model.Record {

	ts := time.UnixMilli(tsMilli).UTC()
	return model.Record{
		Tick: model.Tick{
			Symbol: symbol,
			TS:     ts,
			Price:  price,
			Volume: volume,
		},
		Point: model.Point{
			Symbol:      symbol,
			TS:          ts,
			Price:       price,
			Volume:      volume,
			MACD:        macd,
			Signal:      signal,
			Histogram:   histogram,
			MACDReady:   intToBool(macdReady),
			SignalReady: intToBool(signalReady),
		},
	}
}
