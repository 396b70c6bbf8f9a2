// cmd/backtest replays one day of tick history through the oscillator and
// reports the crossover signals it finds. The day comes either from the
// durable store or from the deterministic day generator.
//
// Usage:
//
//	go run ./cmd/backtest -symbol=AAPL -date=2025-06-02
//	go run ./cmd/backtest -symbol=AAPL -date=2025-06-02 -gen -seed=42
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"marketpulse/internal/indicator"
	"marketpulse/internal/model"
	"marketpulse/internal/source"
	sqlitestore "marketpulse/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	symbol := flag.String("symbol", "AAPL", "Symbol to replay")
	date := flag.String("date", time.Now().UTC().Format("2006-01-02"), "UTC day to replay (2006-01-02)")
	dbPath := flag.String("db", "data/marketpulse.db", "Path to SQLite database")
	gen := flag.Bool("gen", false, "Generate a simulated day instead of reading the database")
	seed := flag.Int64("seed", 1, "Seed for the generated day")
	startPrice := flag.Float64("start-price", 100, "Starting price for the generated day")
	fast := flag.Int("fast", 12, "Fast EMA period")
	slow := flag.Int("slow", 26, "Slow EMA period")
	signalP := flag.Int("signal", 9, "Signal EMA period")
	flag.Parse()

	day, err := time.ParseInLocation("2006-01-02", *date, time.UTC)
	if err != nil {
		log.Fatalf("[backtest] bad date %q: %v", *date, err)
	}

	var ticks []model.Tick
	if *gen {
		ticks = source.GenerateDay(*symbol, day, *startPrice, *seed)
		log.Printf("[backtest] generated %d ticks for %s on %s", len(ticks), *symbol, *date)
	} else {
		ticks, err = loadDay(*dbPath, *symbol, day)
		if err != nil {
			log.Fatalf("[backtest] load failed: %v", err)
		}
		log.Printf("[backtest] loaded %d ticks for %s on %s", len(ticks), *symbol, *date)
	}
	if len(ticks) == 0 {
		log.Fatalf("[backtest] no ticks to replay")
	}

	cfg := indicator.Config{FastPeriod: *fast, SlowPeriod: *slow, SignalPeriod: *signalP}
	engine := indicator.NewEngine(cfg)

	var points []model.Point
	rejected := 0
	for _, tick := range ticks {
		p, err := engine.Apply(tick)
		if err != nil {
			rejected++
			continue
		}
		points = append(points, p)
	}

	if len(points) == 0 {
		log.Fatalf("[backtest] every tick was rejected")
	}

	signals := indicator.Crossovers(points)
	for _, sig := range signals {
		fmt.Printf("  [%s] %-4s %s @ %.2f (confidence %.0f)\n",
			sig.TS.Format("15:04:05"), sig.Action, sig.Symbol, sig.Price, sig.Confidence)
	}

	fmt.Println()
	fmt.Printf("backtest complete: %s %s\n", *symbol, *date)
	fmt.Printf("  ticks applied:   %d (rejected %d)\n", len(points), rejected)
	fmt.Printf("  signals found:   %d\n", len(signals))
	if last := points[len(points)-1]; last.SignalReady {
		fmt.Printf("  closing macd:    %.4f signal %.4f histogram %.4f\n",
			last.MACD, last.Signal, last.Histogram)
	} else {
		fmt.Printf("  oscillator never left warm-up (%d ticks, need %d)\n",
			len(points), cfg.WarmupTicks()+cfg.SignalPeriod-1)
	}
}

// loadDay reads one UTC day of records from the durable store.
func loadDay(path, symbol string, day time.Time) ([]model.Tick, error) {
	store, err := sqlitestore.Open(path)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	recs, err := store.Range(context.Background(), symbol,
		day.UnixMilli(), day.AddDate(0, 0, 1).UnixMilli())
	if err != nil {
		return nil, err
	}

	ticks := make([]model.Tick, len(recs))
	for i := range recs {
		ticks[i] = recs[i].Tick
	}
	return ticks, nil
}
