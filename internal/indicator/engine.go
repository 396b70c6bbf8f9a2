package indicator

import (
	"errors"
	"sync"
	"time"

	"marketpulse/internal/model"
)

// Rejection reasons. Both leave state untouched and are expected during
// normal multi-source operation — callers log and count them, they never
// halt ingestion.
var (
	// ErrOutOfOrder marks a tick whose timestamp is strictly older than the
	// last applied tick for its symbol.
	ErrOutOfOrder = errors.New("indicator: tick out of order")

	// ErrDuplicate marks a tick whose timestamp equals the last applied
	// tick for its symbol. The first accepted write wins.
	ErrDuplicate = errors.New("indicator: duplicate tick")
)

// symbolState is the live oscillator state for one symbol. Mutated only by
// that symbol's ingest worker; the state mutex exists so status reads can
// snapshot it while ticks are flowing.
type symbolState struct {
	mu   sync.Mutex
	osc  *Oscillator
	last time.Time
}

// Engine owns one oscillator state per symbol.
//
// Concurrency contract: Apply for the SAME symbol must be serialized by the
// caller (the ingest router runs one worker per symbol). Apply for different
// symbols may run fully in parallel. The engine's RWMutex guards only the
// symbol → state map; each state carries its own mutex, held by Apply and by
// Warmup, so warm-up snapshots never observe a half-applied tick.
type Engine struct {
	cfg Config

	mu     sync.RWMutex
	states map[string]*symbolState
}

// NewEngine creates an indicator engine with the given oscillator config.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:    cfg,
		states: make(map[string]*symbolState, 64),
	}
}

// Config returns the oscillator periods the engine was built with.
func (e *Engine) Config() Config { return e.cfg }

// state returns the symbol's state, creating it lazily on first use.
func (e *Engine) state(symbol string) *symbolState {
	e.mu.RLock()
	st, ok := e.states[symbol]
	e.mu.RUnlock()
	if ok {
		return st
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok = e.states[symbol]; ok {
		return st
	}
	st = &symbolState{osc: NewOscillator(e.cfg)}
	e.states[symbol] = st
	return st
}

// Apply folds one tick into the symbol's oscillator state and returns the
// derived snapshot. Ticks older than the last applied timestamp are rejected
// with ErrOutOfOrder; equal timestamps with ErrDuplicate. Rejections mutate
// nothing and re-emit nothing, so retrying them is idempotent.
//
// Apply is a pure function of (current state, tick): no wall clock, no
// randomness.
func (e *Engine) Apply(t model.Tick) (model.Point, error) {
	st := e.state(t.Symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.last.IsZero() {
		if t.TS.Before(st.last) {
			return model.Point{}, ErrOutOfOrder
		}
		if t.TS.Equal(st.last) {
			return model.Point{}, ErrDuplicate
		}
	}

	macd, sig, hist, macdReady, sigReady := st.osc.Step(t.Price)
	st.last = t.TS

	return model.Point{
		Symbol:      t.Symbol,
		TS:          t.TS,
		Price:       t.Price,
		Volume:      t.Volume,
		MACD:        macd,
		Signal:      sig,
		Histogram:   hist,
		MACDReady:   macdReady,
		SignalReady: sigReady,
	}, nil
}

// Replay resets the symbol to its initial empty state and folds Apply over
// the tick sequence. Out-of-order and duplicate ticks inside the sequence
// are skipped exactly as the live path would reject them. It returns the
// last emitted snapshot and whether any tick was accepted.
//
// Startup recovery and as-of-time queries use this identically, which is
// what makes recovered state provably equal to the pre-crash state.
func (e *Engine) Replay(symbol string, ticks []model.Tick) (model.Point, bool) {
	e.Reset(symbol)

	var last model.Point
	accepted := false
	for i := range ticks {
		p, err := e.Apply(ticks[i])
		if err != nil {
			continue
		}
		last = p
		accepted = true
	}
	return last, accepted
}

// Reset drops the symbol's state entirely. The next Apply cold-starts it.
func (e *Engine) Reset(symbol string) {
	e.mu.Lock()
	delete(e.states, symbol)
	e.mu.Unlock()
}

// WarmupStatus describes how far a symbol is through its warm-up windows.
type WarmupStatus struct {
	Symbol      string    `json:"symbol"`
	Ticks       int       `json:"ticks"`
	NeedTicks   int       `json:"need_ticks"`
	MACDReady   bool      `json:"macd_ready"`
	SignalReady bool      `json:"signal_ready"`
	LastTS      time.Time `json:"last_ts"`
}

// Warmup reports the warm-up progress of every known symbol, for the
// health/status surface.
func (e *Engine) Warmup() []WarmupStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]WarmupStatus, 0, len(e.states))
	need := e.cfg.WarmupTicks()
	for sym, st := range e.states {
		st.mu.Lock()
		ticks := st.osc.TickCount()
		signalTicks := st.osc.SignalCount()
		last := st.last
		st.mu.Unlock()

		out = append(out, WarmupStatus{
			Symbol:      sym,
			Ticks:       ticks,
			NeedTicks:   need,
			MACDReady:   ticks >= need,
			SignalReady: signalTicks >= e.cfg.SignalPeriod,
			LastTS:      last,
		})
	}
	return out
}
