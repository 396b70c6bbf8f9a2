// Package ingest routes incoming ticks to per-symbol workers. One worker
// per symbol is what serializes indicator updates: a symbol's ticks apply
// strictly in arrival order while different symbols proceed in parallel.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"marketpulse/internal/coordinator"
	"marketpulse/internal/indicator"
	"marketpulse/internal/logger"
	"marketpulse/internal/model"
)

// Config tunes the router.
type Config struct {
	// MailboxSize is the per-symbol worker buffer. When a mailbox fills,
	// the dispatcher blocks on that symbol, propagating the coordinator's
	// backpressure upstream to the source.
	MailboxSize int
}

func (c *Config) defaults() {
	if c.MailboxSize <= 0 {
		c.MailboxSize = 128
	}
}

// Router dispatches ticks from a shared input channel to per-symbol workers.
// Each worker folds ticks into the indicator engine and hands the accepted
// result to the storage coordinator.
type Router struct {
	cfg    Config
	engine *indicator.Engine
	coord  *coordinator.Coordinator
	log    *slog.Logger

	mu        sync.Mutex
	mailboxes map[string]chan model.Tick

	wg sync.WaitGroup

	// Metrics hooks (optional, set before Run).
	OnApplied  func(symbol string)
	OnRejected func(symbol, reason string)
}

func New(engine *indicator.Engine, coord *coordinator.Coordinator, cfg Config, log *slog.Logger) *Router {
	cfg.defaults()
	return &Router{
		cfg:       cfg,
		engine:    engine,
		coord:     coord,
		log:       log,
		mailboxes: make(map[string]chan model.Tick, 64),
	}
}

// Run consumes ticks from in until ctx is cancelled or in is closed, then
// waits for every worker to drain its mailbox.
func (r *Router) Run(ctx context.Context, in <-chan model.Tick) {
	defer func() {
		r.mu.Lock()
		for _, mb := range r.mailboxes {
			close(mb)
		}
		r.mu.Unlock()
		r.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-in:
			if !ok {
				return
			}
			if tick.Symbol == "" {
				continue
			}
			select {
			case r.mailbox(ctx, tick.Symbol) <- tick:
			case <-ctx.Done():
				return
			}
		}
	}
}

// mailbox returns the symbol's worker channel, starting the worker on first
// use.
func (r *Router) mailbox(ctx context.Context, symbol string) chan model.Tick {
	r.mu.Lock()
	defer r.mu.Unlock()

	mb, ok := r.mailboxes[symbol]
	if !ok {
		mb = make(chan model.Tick, r.cfg.MailboxSize)
		r.mailboxes[symbol] = mb
		r.wg.Add(1)
		go r.worker(ctx, symbol, mb)
	}
	return mb
}

// worker applies one symbol's ticks in order. Rejections are counted and
// logged at debug level; they are routine under multi-source ingestion, not
// faults.
func (r *Router) worker(ctx context.Context, symbol string, mb <-chan model.Tick) {
	defer r.wg.Done()

	for tick := range mb {
		point, err := r.engine.Apply(tick)
		if err != nil {
			reason := "out_of_order"
			if errors.Is(err, indicator.ErrDuplicate) {
				reason = "duplicate"
			}
			if r.OnRejected != nil {
				r.OnRejected(symbol, reason)
			}
			r.log.Debug("tick rejected",
				"key", tick.Key(), "source", tick.Source, "reason", reason)
			continue
		}

		recCtx := logger.WithTraceID(ctx, logger.GenerateTraceID(tick.Symbol, tick.TS))
		rec := model.Record{Tick: tick, Point: point}
		if err := r.coord.Record(recCtx, rec); err != nil {
			// The tick was applied to indicator state but could not be
			// stored. Context cancellation during shutdown lands here.
			attrs := append([]any{"symbol", symbol, "ts", tick.TS, "err", err},
				logger.LogWithTrace(recCtx)...)
			r.log.Error("record failed", attrs...)
			continue
		}
		if r.OnApplied != nil {
			r.OnApplied(symbol)
		}
	}
}

// Depths reports mailbox occupancy per symbol, for the status surface.
func (r *Router) Depths() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.mailboxes))
	for sym, mb := range r.mailboxes {
		out[sym] = len(mb)
	}
	return out
}
