package source

import (
	"context"
	"math/rand"
	"time"

	"marketpulse/internal/model"
)

// SimConfig configures the random-walk simulator.
type SimConfig struct {
	Symbols    []string
	Interval   time.Duration // time between ticks per symbol
	StartPrice float64
	Volatility float64 // max absolute price step per tick
	Seed       int64   // 0 seeds from the wall clock
}

func (c *SimConfig) defaults() {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.StartPrice <= 0 {
		c.StartPrice = 100
	}
	if c.Volatility <= 0 {
		c.Volatility = 0.5
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
}

// Simulator emits a bounded random walk per symbol. Useful for offline runs
// and demos where no live feed is available.
type Simulator struct {
	cfg SimConfig
}

func NewSimulator(cfg SimConfig) *Simulator {
	cfg.defaults()
	return &Simulator{cfg: cfg}
}

func (s *Simulator) Name() string { return "sim" }

// Priority is lowest: a simulator never outranks a real feed.
func (s *Simulator) Priority() int { return 0 }

// Run emits one tick per symbol every interval until ctx is cancelled.
// Timestamps come from the wall clock, truncated to the interval so repeated
// runs against the same store dedupe instead of interleaving.
func (s *Simulator) Run(ctx context.Context, out chan<- model.Tick) error {
	rng := rand.New(rand.NewSource(s.cfg.Seed))

	prices := make(map[string]float64, len(s.cfg.Symbols))
	for _, sym := range s.cfg.Symbols {
		prices[sym] = s.cfg.StartPrice
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			ts := now.UTC().Truncate(s.cfg.Interval)
			for _, sym := range s.cfg.Symbols {
				prices[sym] = step(rng, prices[sym], s.cfg.Volatility)
				tick := model.Tick{
					Symbol: sym,
					TS:     ts,
					Price:  prices[sym],
					Volume: 1 + rng.Int63n(100),
					Source: s.Name(),
				}
				select {
				case out <- tick:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

// step advances the walk one tick, floored at a cent so prices stay positive.
func step(rng *rand.Rand, price, volatility float64) float64 {
	price += (rng.Float64()*2 - 1) * volatility
	if price < 0.01 {
		price = 0.01
	}
	return price
}

// Trading sessions for generated days: morning and afternoon, UTC.
var sessions = [][2]int{
	{9*60 + 30, 11*60 + 30},
	{13 * 60, 15 * 60},
}

// GenerateDay produces one simulated trading day of minute ticks for a
// symbol: both sessions, one tick per minute, deterministic for a given
// seed. Intended for backfilling demo data.
func GenerateDay(symbol string, day time.Time, startPrice float64, seed int64) []model.Tick {
	rng := rand.New(rand.NewSource(seed))
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	price := startPrice
	var ticks []model.Tick
	for _, sess := range sessions {
		for minute := sess[0]; minute < sess[1]; minute++ {
			price = step(rng, price, 0.8)
			ticks = append(ticks, model.Tick{
				Symbol: symbol,
				TS:     midnight.Add(time.Duration(minute) * time.Minute),
				Price:  price,
				Volume: 1 + rng.Int63n(500),
				Source: "sim",
			})
		}
	}
	return ticks
}
