package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"marketpulse/internal/model"
)

const selectCols = `symbol, ts, price, volume, macd, signal, histogram, macd_ready, signal_ready`

// Range returns records for a symbol with from <= ts < to, ordered by
// timestamp ascending for correct replay order.
func (s *Store) Range(ctx context.Context, symbol string, fromMilli, toMilli int64) ([]model.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectCols+`
		FROM records
		WHERE symbol = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC
	`, symbol, fromMilli, toMilli)
	if err != nil {
		return nil, fmt.Errorf("sqlite range %s: %w", symbol, err)
	}
	defer rows.Close()

	var recs []model.Record
	for rows.Next() {
		rec, ok, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite scan %s: %w", symbol, err)
		}
		if ok {
			recs = append(recs, rec)
		}
	}
	return recs, rows.Err()
}

// Last returns the most recent record for a symbol.
func (s *Store) Last(ctx context.Context, symbol string) (model.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+selectCols+`
		FROM records
		WHERE symbol = ?
		ORDER BY ts DESC
		LIMIT 1
	`, symbol)

	rec, ok, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return model.Record{}, false, nil
	}
	if err != nil {
		return model.Record{}, false, fmt.Errorf("sqlite last %s: %w", symbol, err)
	}
	return rec, ok, nil
}

// Symbols lists every symbol with at least one durable record.
func (s *Store) Symbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM records ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("sqlite symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// Count returns the number of durable records for a symbol.
func (s *Store) Count(ctx context.Context, symbol string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE symbol = ?`, symbol).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite count %s: %w", symbol, err)
	}
	return n, nil
}

// ScanSymbol streams all records for a symbol in timestamp order into fn.
// Rows that fail validation are skipped and counted, never silently healed:
// the returned corrupt count is surfaced through the coordinator status.
func (s *Store) ScanSymbol(ctx context.Context, symbol string, fn func(model.Record)) (corrupt int, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectCols+`
		FROM records
		WHERE symbol = ?
		ORDER BY ts ASC
	`, symbol)
	if err != nil {
		return 0, fmt.Errorf("sqlite scan symbol %s: %w", symbol, err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, ok, err := scanRecord(rows)
		if err != nil || !ok {
			corrupt++
			continue
		}
		fn(rec)
	}
	return corrupt, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanRecord reads one row, validating it. ok=false marks a corrupt row:
// NULL fields, a non-positive timestamp, or a non-finite price.
func scanRecord(sc scanner) (model.Record, bool, error) {
	var (
		symbol                 sql.NullString
		tsMilli, volume        sql.NullInt64
		price, macd, sig, hist sql.NullFloat64
		macdReady, sigReady    sql.NullInt64
	)
	if err := sc.Scan(&symbol, &tsMilli, &price, &volume, &macd, &sig, &hist, &macdReady, &sigReady); err != nil {
		return model.Record{}, false, err
	}

	if !symbol.Valid || symbol.String == "" ||
		!tsMilli.Valid || tsMilli.Int64 <= 0 ||
		!price.Valid || price.Float64 != price.Float64 || // NaN check
		!volume.Valid || !macd.Valid || !sig.Valid || !hist.Valid ||
		!macdReady.Valid || !sigReady.Valid {
		return model.Record{}, false, nil
	}

	rec := recordFromRow(symbol.String, tsMilli.Int64, price.Float64, volume.Int64,
		macd.Float64, sig.Float64, hist.Float64, int(macdReady.Int64), int(sigReady.Int64))
	return rec, true, nil
}
