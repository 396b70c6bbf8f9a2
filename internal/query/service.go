// Package query serves reads over the two storage tiers: latest state from
// the cache with durable fallback, history and point-in-time state from the
// durable store. It never mutates either tier.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"marketpulse/internal/indicator"
	"marketpulse/internal/model"
)

// Cache is the read side of the volatile latest-state tier.
type Cache interface {
	GetLatest(ctx context.Context, symbol string) (model.Record, bool, error)
	Symbols(ctx context.Context) ([]string, error)
}

// Durable is the read side of the historical tier.
type Durable interface {
	Range(ctx context.Context, symbol string, fromMilli, toMilli int64) ([]model.Record, error)
	Last(ctx context.Context, symbol string) (model.Record, bool, error)
	Symbols(ctx context.Context) ([]string, error)
	Count(ctx context.Context, symbol string) (int64, error)
}

// Service answers read queries. It holds the oscillator config so that
// point-in-time reconstruction replays with the same periods as the live
// engine.
type Service struct {
	cache   Cache
	durable Durable
	cfg     indicator.Config
	log     *slog.Logger
}

func New(cache Cache, durable Durable, cfg indicator.Config, log *slog.Logger) *Service {
	return &Service{cache: cache, durable: durable, cfg: cfg, log: log}
}

// Latest returns the freshest record for a symbol: cache first, durable
// store as fallback when the cache misses or is unreachable. A cache error
// degrades to the durable answer rather than failing the read.
func (s *Service) Latest(ctx context.Context, symbol string) (model.Record, bool, error) {
	rec, found, err := s.cache.GetLatest(ctx, symbol)
	if err != nil {
		s.log.Warn("cache read failed, falling back to durable store",
			"symbol", symbol, "err", err)
	} else if found {
		return rec, true, nil
	}

	rec, found, err = s.durable.Last(ctx, symbol)
	if err != nil {
		return model.Record{}, false, fmt.Errorf("query latest %s: %w", symbol, err)
	}
	return rec, found, nil
}

// History returns records in [from, to), ascending. Durable rows come first;
// if the cached latest record falls inside the window and is newer than
// anything durable yet, it is appended so recent unflushed data is visible.
func (s *Service) History(ctx context.Context, symbol string, from, to time.Time) ([]model.Record, error) {
	recs, err := s.durable.Range(ctx, symbol, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query history %s: %w", symbol, err)
	}

	live, found, err := s.cache.GetLatest(ctx, symbol)
	if err != nil {
		s.log.Warn("cache read failed during history query", "symbol", symbol, "err", err)
		return recs, nil
	}
	if found && !live.Tick.TS.Before(from) && live.Tick.TS.Before(to) {
		if len(recs) == 0 || live.Tick.TS.After(recs[len(recs)-1].Tick.TS) {
			recs = append(recs, live)
		}
	}
	return recs, nil
}

// HistoryForDate returns one UTC calendar day of records. The date uses the
// "2006-01-02" layout.
func (s *Service) HistoryForDate(ctx context.Context, symbol, date string) ([]model.Record, error) {
	day, err := time.ParseInLocation("2006-01-02", date, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("query history %s: bad date %q: %w", symbol, date, err)
	}
	return s.History(ctx, symbol, day, day.AddDate(0, 0, 1))
}

// AsOf reconstructs the oscillator snapshot as it stood at ts, by replaying
// the symbol's durable history up to and including ts through a fresh engine
// with the live configuration. If ts is at or past the live latest record,
// that record's snapshot is returned directly.
func (s *Service) AsOf(ctx context.Context, symbol string, ts time.Time) (model.Point, bool, error) {
	live, found, err := s.cache.GetLatest(ctx, symbol)
	if err == nil && found && !live.Tick.TS.After(ts) {
		return live.Point, true, nil
	}

	// Range is half-open, so push the bound one step past ts to include it.
	recs, err := s.durable.Range(ctx, symbol, 0, ts.UnixMilli()+1)
	if err != nil {
		return model.Point{}, false, fmt.Errorf("query as-of %s: %w", symbol, err)
	}
	if len(recs) == 0 {
		return model.Point{}, false, nil
	}

	ticks := make([]model.Tick, len(recs))
	for i := range recs {
		ticks[i] = recs[i].Tick
	}

	// A throwaway engine keeps reconstruction from touching live state.
	point, ok := indicator.NewEngine(s.cfg).Replay(symbol, ticks)
	return point, ok, nil
}

// Symbols returns every known symbol across both tiers, sorted and
// deduplicated. A cache error narrows the answer to durable symbols.
func (s *Service) Symbols(ctx context.Context) ([]string, error) {
	durable, err := s.durable.Symbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("query symbols: %w", err)
	}

	seen := make(map[string]struct{}, len(durable))
	out := make([]string, 0, len(durable))
	for _, sym := range durable {
		seen[sym] = struct{}{}
		out = append(out, sym)
	}

	cached, err := s.cache.Symbols(ctx)
	if err != nil {
		s.log.Warn("cache symbol scan failed", "err", err)
	} else {
		for _, sym := range cached {
			if _, ok := seen[sym]; !ok {
				out = append(out, sym)
			}
		}
	}

	sort.Strings(out)
	return out, nil
}

// SymbolInfo summarizes one symbol's coverage.
type SymbolInfo struct {
	Symbol     string        `json:"symbol"`
	DataPoints int64         `json:"data_points"`
	Latest     *model.Record `json:"latest,omitempty"`
}

// Info returns per-symbol coverage: durable record count plus the latest
// record if one exists.
func (s *Service) Info(ctx context.Context, symbol string) (SymbolInfo, error) {
	count, err := s.durable.Count(ctx, symbol)
	if err != nil {
		return SymbolInfo{}, fmt.Errorf("query info %s: %w", symbol, err)
	}

	info := SymbolInfo{Symbol: symbol, DataPoints: count}
	if rec, found, err := s.Latest(ctx, symbol); err == nil && found {
		info.Latest = &rec
	}
	return info, nil
}

// Signals returns the histogram crossover signals found in [from, to).
func (s *Service) Signals(ctx context.Context, symbol string, from, to time.Time) ([]indicator.TradeSignal, error) {
	recs, err := s.History(ctx, symbol, from, to)
	if err != nil {
		return nil, err
	}

	points := make([]model.Point, len(recs))
	for i := range recs {
		points[i] = recs[i].Point
	}
	return indicator.Crossovers(points), nil
}
