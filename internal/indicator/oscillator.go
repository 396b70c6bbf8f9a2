// Package indicator provides the streaming dual-EMA oscillator maintained
// per symbol: a fast and a slow EMA of price, the MACD line (their
// difference), a signal line (EMA of the MACD line) and the histogram.
//
// All computations are deterministic functions of the observation sequence;
// no wall clock or randomness enters the math, so replaying the same input
// reproduces bit-identical state.
package indicator

// Config holds the oscillator periods.
type Config struct {
	FastPeriod   int
	SlowPeriod   int
	SignalPeriod int
}

// DefaultConfig returns the conventional 12/26/9 MACD configuration.
func DefaultConfig() Config {
	return Config{FastPeriod: 12, SlowPeriod: 26, SignalPeriod: 9}
}

// WarmupTicks returns the number of ticks needed before the MACD line
// becomes available: max(fast, slow).
func (c Config) WarmupTicks() int {
	if c.FastPeriod > c.SlowPeriod {
		return c.FastPeriod
	}
	return c.SlowPeriod
}

// Oscillator holds the live EMA state for one symbol.
//
// The signal EMA consumes MACD-line values, not raw prices, and has its own
// warm-up window measured in MACD observations: the first MACD value exists
// only after max(fast, slow) ticks, and the signal line becomes available
// SignalPeriod MACD observations later.
type Oscillator struct {
	fast   *EMA
	slow   *EMA
	signal *EMA
}

// NewOscillator creates a fresh oscillator for the given periods.
func NewOscillator(cfg Config) *Oscillator {
	return &Oscillator{
		fast:   NewEMA(cfg.FastPeriod),
		slow:   NewEMA(cfg.SlowPeriod),
		signal: NewEMA(cfg.SignalPeriod),
	}
}

// Step feeds the next price and returns the oscillator outputs.
// macdReady is false during the price warm-up window; signalReady is false
// until the signal EMA has seen its own warm-up worth of MACD values.
func (o *Oscillator) Step(price float64) (macd, signal, histogram float64, macdReady, signalReady bool) {
	f := o.fast.Update(price)
	s := o.slow.Update(price)

	if !o.fast.Ready() || !o.slow.Ready() {
		return 0, 0, 0, false, false
	}

	macd = f - s
	signal = o.signal.Update(macd)
	if !o.signal.Ready() {
		return macd, 0, 0, true, false
	}
	return macd, signal, macd - signal, true, true
}

// TickCount returns the number of price observations fed so far.
func (o *Oscillator) TickCount() int { return o.slow.Count() }

// SignalCount returns the number of MACD-line observations fed to the
// signal EMA so far.
func (o *Oscillator) SignalCount() int { return o.signal.Count() }

// Reset clears all EMA state.
func (o *Oscillator) Reset() {
	o.fast.Reset()
	o.slow.Reset()
	o.signal.Reset()
}
