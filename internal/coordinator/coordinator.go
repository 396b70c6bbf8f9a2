// Package coordinator owns the dual-tier write path: every accepted record
// is written to the cache synchronously and queued for the durable store,
// which is flushed in batches. It also owns the recovery protocol that
// rebuilds indicator state and the cache from durable history on startup.
//
// Consistency model: cache-first, durable-eventual. The cache always holds
// the most recent accepted record per symbol; the durable store receives
// every accepted record at least once, in per-symbol FIFO order. Records
// queued but unflushed at a crash are lost — a window bounded by the flush
// interval and batch size, never a divergence between tiers.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"marketpulse/internal/indicator"
	"marketpulse/internal/model"
)

// Cache is the volatile latest-state tier.
type Cache interface {
	SetLatest(ctx context.Context, rec model.Record) error
}

// Durable is the append-only historical tier.
type Durable interface {
	InsertBatch(ctx context.Context, recs []model.Record) error
	Symbols(ctx context.Context) ([]string, error)
	ScanSymbol(ctx context.Context, symbol string, fn func(model.Record)) (corrupt int, err error)
}

// Config tunes the write path. The flush interval and batch size together
// bound the staleness window between the two tiers — that window is an
// explicit parameter, not hidden behavior.
type Config struct {
	FlushBatchSize  int           // flush when this many records are pending
	FlushInterval   time.Duration // ... or when this much time has passed
	QueueCapacity   int           // per-symbol queue bound (backpressure threshold)
	FlushRetries    int           // attempts per batch before degrading
	RetryBackoff    time.Duration // initial retry delay, doubled per attempt
	MaxRetryBackoff time.Duration
	BreakerFailures int           // consecutive failures before the breaker opens
	BreakerReset    time.Duration // open duration before a half-open probe
}

func (c *Config) defaults() {
	if c.FlushBatchSize <= 0 {
		c.FlushBatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 256
	}
	if c.FlushRetries <= 0 {
		c.FlushRetries = 5
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 250 * time.Millisecond
	}
	if c.MaxRetryBackoff <= 0 {
		c.MaxRetryBackoff = 5 * time.Second
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerReset <= 0 {
		c.BreakerReset = 10 * time.Second
	}
}

// Coordinator is the dual-tier write/read path.
type Coordinator struct {
	cfg     Config
	cache   Cache
	durable Durable
	engine  *indicator.Engine
	log     *slog.Logger
	breaker *CircuitBreaker

	mu     sync.Mutex
	queues map[string]chan model.Record

	pending  atomic.Int64 // enqueued, not yet durably flushed
	degraded atomic.Bool
	kick     chan struct{}

	stMu        sync.Mutex
	lastFlush   time.Time
	corruptRows int

	wg sync.WaitGroup

	// Metrics hooks (optional, set before Start)
	OnFlush      func(n int, took time.Duration)
	OnFlushError func()
	OnDegraded   func(on bool)
	OnBlocked    func(symbol string)
	OnCacheWrite func(took time.Duration)
}

// New creates a Coordinator. Call Recover before Start, and Start before
// the first Record.
func New(cache Cache, durable Durable, engine *indicator.Engine, cfg Config, log *slog.Logger) *Coordinator {
	cfg.defaults()
	return &Coordinator{
		cfg:     cfg,
		cache:   cache,
		durable: durable,
		engine:  engine,
		log:     log,
		breaker: NewCircuitBreaker(cfg.BreakerFailures, cfg.BreakerReset),
		queues:  make(map[string]chan model.Record, 64),
		kick:    make(chan struct{}, 1),
	}
}

// Start launches the background flusher. It runs until ctx is cancelled,
// then drains every queue to the durable store before returning.
func (c *Coordinator) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.flushLoop(ctx)
}

// Close waits for the flusher to finish its shutdown drain. Call after
// cancelling the context passed to Start.
func (c *Coordinator) Close() {
	c.wg.Wait()
}

// Record writes rec to the cache synchronously — that write must succeed
// for the record to be acknowledged — and enqueues it for the durable
// store. If the symbol's queue is at capacity, Record blocks until the
// flusher frees space: backpressure stalls that one symbol's ingestion,
// not the whole system.
func (c *Coordinator) Record(ctx context.Context, rec model.Record) error {
	start := time.Now()
	if err := c.cache.SetLatest(ctx, rec); err != nil {
		return fmt.Errorf("cache write %s: %w", rec.Tick.Symbol, err)
	}
	if c.OnCacheWrite != nil {
		c.OnCacheWrite(time.Since(start))
	}

	q := c.queue(rec.Tick.Symbol)
	select {
	case q <- rec:
	default:
		// Queue saturated — a backpressure signal, not an error.
		if c.OnBlocked != nil {
			c.OnBlocked(rec.Tick.Symbol)
		}
		select {
		case q <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if int(c.pending.Add(1)) >= c.cfg.FlushBatchSize {
		select {
		case c.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// queue returns the symbol's durable-write queue, creating it lazily.
func (c *Coordinator) queue(symbol string) chan model.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.queues[symbol]
	if !ok {
		q = make(chan model.Record, c.cfg.QueueCapacity)
		c.queues[symbol] = q
	}
	return q
}

// flushLoop flushes pending records on a timer or a size kick, whichever
// fires first.
func (c *Coordinator) flushLoop(ctx context.Context) {
	defer c.wg.Done()

	timer := time.NewTimer(c.cfg.FlushInterval)
	defer timer.Stop()

	// carry holds batches whose durable write failed; retried before any
	// newly drained records so per-symbol FIFO order is never broken.
	var carry []model.Record

	for {
		select {
		case <-ctx.Done():
			c.shutdownFlush(carry)
			return
		case <-c.kick:
		case <-timer.C:
		}

		carry = c.flushOnce(ctx, carry)
		timer.Reset(c.cfg.FlushInterval)
	}
}

// flushOnce retries carried-over records, then drains the queues and
// flushes everything in batch-sized chunks. Returns whatever could not be
// durably written.
func (c *Coordinator) flushOnce(ctx context.Context, carry []model.Record) []model.Record {
	batch := carry

	// While degraded, stop draining: queues fill up and per-symbol
	// backpressure does its job instead of this buffer growing without
	// bound.
	if !c.degraded.Load() {
		batch = append(batch, c.drainQueues()...)
	}

	for len(batch) > 0 {
		n := len(batch)
		if n > c.cfg.FlushBatchSize {
			n = c.cfg.FlushBatchSize
		}
		if err := c.flushChunk(ctx, batch[:n]); err != nil {
			c.log.Error("durable flush failed, batch requeued",
				"pending", len(batch), "err", err)
			c.setDegraded(true)
			return batch
		}
		c.pending.Add(int64(-n))
		batch = batch[n:]
	}

	c.setDegraded(false)
	return nil
}

// drainQueues moves every currently queued record out of the per-symbol
// queues. Each queue is drained in order, preserving per-symbol FIFO.
func (c *Coordinator) drainQueues() []model.Record {
	c.mu.Lock()
	chans := make([]chan model.Record, 0, len(c.queues))
	for _, q := range c.queues {
		chans = append(chans, q)
	}
	c.mu.Unlock()

	var out []model.Record
	for _, q := range chans {
	drain:
		for {
			select {
			case rec := <-q:
				out = append(out, rec)
			default:
				break drain
			}
		}
	}
	return out
}

// flushChunk writes one chunk with bounded-backoff retries through the
// circuit breaker. The durable store ignores duplicate (symbol, ts) keys,
// so retrying a partially applied batch is safe.
func (c *Coordinator) flushChunk(ctx context.Context, chunk []model.Record) error {
	backoff := c.cfg.RetryBackoff

	for attempt := 1; ; attempt++ {
		start := time.Now()
		err := c.breaker.Execute(func() error {
			return c.durable.InsertBatch(ctx, chunk)
		})
		if err == nil {
			c.stMu.Lock()
			c.lastFlush = time.Now()
			c.stMu.Unlock()
			if c.OnFlush != nil {
				c.OnFlush(len(chunk), time.Since(start))
			}
			return nil
		}

		if c.OnFlushError != nil {
			c.OnFlushError()
		}
		if attempt >= c.cfg.FlushRetries {
			return err
		}

		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.cfg.MaxRetryBackoff {
			backoff = c.cfg.MaxRetryBackoff
		}
	}
}

// shutdownFlush drains everything left and makes a final bounded attempt to
// persist it. Runs on its own context since the main one is already gone.
func (c *Coordinator) shutdownFlush(carry []model.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	batch := append(carry, c.drainQueues()...)
	if len(batch) == 0 {
		return
	}

	c.log.Info("draining durable-write queue", "pending", len(batch))
	for len(batch) > 0 {
		n := len(batch)
		if n > c.cfg.FlushBatchSize {
			n = c.cfg.FlushBatchSize
		}
		if err := c.flushChunk(ctx, batch[:n]); err != nil {
			c.log.Error("shutdown flush failed, records lost",
				"lost", len(batch), "err", err)
			return
		}
		c.pending.Add(int64(-n))
		batch = batch[n:]
	}
	c.log.Info("durable-write queue drained")
}

func (c *Coordinator) setDegraded(on bool) {
	if c.degraded.Swap(on) != on {
		if on {
			c.log.Warn("entering degraded mode: durable writes failing, cache remains authoritative for latest")
		} else {
			c.log.Info("leaving degraded mode")
		}
		if c.OnDegraded != nil {
			c.OnDegraded(on)
		}
	}
}

// Recover rebuilds per-symbol indicator state and the cache from durable
// history. Must run once at startup, before ingestion resumes. For every
// symbol it replays all durable records in timestamp order and repopulates
// the cache with the resulting latest record.
//
// Corrupt rows are skipped, logged and counted — the gap is reported via
// Status, never silently healed. An unreadable durable store is fatal.
func (c *Coordinator) Recover(ctx context.Context) error {
	start := time.Now()
	symbols, err := c.durable.Symbols(ctx)
	if err != nil {
		return fmt.Errorf("recovery: durable store unreadable: %w", err)
	}

	recovered := 0
	for _, sym := range symbols {
		var ticks []model.Tick
		corrupt, err := c.durable.ScanSymbol(ctx, sym, func(r model.Record) {
			ticks = append(ticks, r.Tick)
		})
		if err != nil {
			return fmt.Errorf("recovery: scan %s: %w", sym, err)
		}
		if corrupt > 0 {
			c.stMu.Lock()
			c.corruptRows += corrupt
			c.stMu.Unlock()
			c.log.Warn("skipped corrupt durable records", "symbol", sym, "count", corrupt)
		}

		point, ok := c.engine.Replay(sym, ticks)
		if !ok {
			continue
		}

		rec := model.Record{
			Tick: model.Tick{
				Symbol: point.Symbol,
				TS:     point.TS,
				Price:  point.Price,
				Volume: point.Volume,
			},
			Point: point,
		}
		if err := c.cache.SetLatest(ctx, rec); err != nil {
			// Cache being down does not block recovery; reads fall back
			// to the durable store until it returns.
			c.log.Warn("cache repopulation failed", "symbol", sym, "err", err)
			continue
		}
		recovered++
	}

	c.log.Info("recovery complete",
		"symbols", len(symbols), "cached", recovered, "took", time.Since(start))
	return nil
}

// Status reports the coordinator's health for the status surface.
type Status struct {
	QueueDepth  int       `json:"queue_depth"`
	LastFlushAt time.Time `json:"last_flush_at"`
	Degraded    bool      `json:"degraded"`
	CorruptRows int       `json:"corrupt_rows"`
	Breaker     string    `json:"breaker"`
}

// Status returns a snapshot of queue depth, last flush time, degraded-mode
// flag and the recovery corruption count.
func (c *Coordinator) Status() Status {
	c.stMu.Lock()
	lastFlush := c.lastFlush
	corrupt := c.corruptRows
	c.stMu.Unlock()

	return Status{
		QueueDepth:  int(c.pending.Load()),
		LastFlushAt: lastFlush,
		Degraded:    c.degraded.Load(),
		CorruptRows: corrupt,
		Breaker:     c.breaker.CurrentState().String(),
	}
}
