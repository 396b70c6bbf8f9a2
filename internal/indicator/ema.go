package indicator

// EMA calculates an exponential moving average.
// O(1) per update — no window storage needed.
//
// The first `period` observations form a warm-up window: the EMA is seeded
// with their simple arithmetic mean, and streaming updates begin afterwards.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewEMA creates a new EMA with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

// Update feeds the next observation and returns the current value.
// The returned value is meaningful only once Ready() reports true.
func (e *EMA) Update(v float64) float64 {
	e.count++

	if e.count <= e.period {
		// Accumulate for the initial SMA seed
		e.sum += v
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return e.current
	}

	// EMA formula: EMA = (v * multiplier) + (EMA_prev * (1 - multiplier))
	e.current = (v * e.multiplier) + (e.current * (1 - e.multiplier))
	return e.current
}

// Value returns the current calculated value. Returns 0 if not enough data.
func (e *EMA) Value() float64 { return e.current }

// Ready returns true once the warm-up window has been filled.
func (e *EMA) Ready() bool { return e.count >= e.period }

// Count returns the number of observations fed so far.
func (e *EMA) Count() int { return e.count }

// Reset clears the EMA state for reuse.
func (e *EMA) Reset() {
	e.current = 0
	e.count = 0
	e.sum = 0
}
