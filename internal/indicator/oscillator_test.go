package indicator

import (
	"math"
	"testing"
)

// refEMA is a straightforward reference implementation: seed with the simple
// mean of the first `period` values, then apply the streaming formula.
func refEMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	k := 2.0 / float64(period+1)
	sum := 0.0
	cur := 0.0
	for i, v := range values {
		if i < period {
			sum += v
			if i == period-1 {
				cur = sum / float64(period)
			}
			out[i] = cur
			continue
		}
		cur = v*k + cur*(1-k)
		out[i] = cur
	}
	return out
}

func TestEMA_MatchesReference(t *testing.T) {
	values := []float64{10, 11, 12, 11.5, 13, 12.8, 14, 13.5, 15, 14.2, 16, 15.8, 17, 16.5}
	ref := refEMA(values, 5)

	e := NewEMA(5)
	for i, v := range values {
		got := e.Update(v)
		if i < 4 {
			if e.Ready() {
				t.Errorf("value %d: ready before warm-up", i)
			}
			continue
		}
		if math.Abs(got-ref[i]) > 1e-12 {
			t.Errorf("value %d: got %.12f, want %.12f", i, got, ref[i])
		}
	}
}

func TestEMA_SeedIsSimpleMean(t *testing.T) {
	e := NewEMA(4)
	for _, v := range []float64{10, 20, 30, 40} {
		e.Update(v)
	}
	if !e.Ready() {
		t.Fatal("expected ready after period observations")
	}
	if math.Abs(e.Value()-25.0) > 1e-12 {
		t.Errorf("seed: got %g, want 25 (mean of 10,20,30,40)", e.Value())
	}
}

func TestEMA_Reset(t *testing.T) {
	e := NewEMA(3)
	for _, v := range []float64{1, 2, 3, 4} {
		e.Update(v)
	}
	e.Reset()
	if e.Ready() || e.Count() != 0 || e.Value() != 0 {
		t.Errorf("reset left residual state: ready=%v count=%d value=%g", e.Ready(), e.Count(), e.Value())
	}
}

func TestOscillator_MACDIsFastMinusSlow(t *testing.T) {
	cfg := Config{FastPeriod: 3, SlowPeriod: 5, SignalPeriod: 2}
	osc := NewOscillator(cfg)

	values := []float64{10, 12, 11, 13, 15, 14, 16, 18, 17}
	fast := refEMA(values, 3)
	slow := refEMA(values, 5)

	for i, v := range values {
		macd, _, _, macdReady, _ := osc.Step(v)
		if i < 4 {
			if macdReady {
				t.Errorf("step %d: MACD ready before slow warm-up", i)
			}
			continue
		}
		want := fast[i] - slow[i]
		if math.Abs(macd-want) > 1e-12 {
			t.Errorf("step %d: macd=%.12f, want %.12f", i, macd, want)
		}
	}
}

func TestOscillator_HistogramIsMACDMinusSignal(t *testing.T) {
	cfg := Config{FastPeriod: 2, SlowPeriod: 3, SignalPeriod: 2}
	osc := NewOscillator(cfg)

	values := []float64{10, 12, 14, 13, 15, 16, 14, 17}
	for i, v := range values {
		macd, sig, hist, _, sigReady := osc.Step(v)
		if !sigReady {
			continue
		}
		if math.Abs(hist-(macd-sig)) > 1e-12 {
			t.Errorf("step %d: histogram=%.12f, want macd-signal=%.12f", i, hist, macd-sig)
		}
	}
}
