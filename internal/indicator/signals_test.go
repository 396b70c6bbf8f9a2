package indicator

import (
	"testing"
	"time"

	"marketpulse/internal/model"
)

func histPoint(n int, hist float64, ready bool) model.Point {
	return model.Point{
		Symbol:      "S",
		TS:          t0.Add(time.Duration(n) * time.Minute),
		Price:       100,
		Histogram:   hist,
		MACDReady:   ready,
		SignalReady: ready,
	}
}

func TestCrossovers_BuyAndSell(t *testing.T) {
	points := []model.Point{
		histPoint(0, -0.5, true),
		histPoint(1, -0.1, true),
		histPoint(2, 0.3, true), // golden cross → BUY
		histPoint(3, 0.8, true),
		histPoint(4, -0.2, true), // death cross → SELL
	}

	signals := Crossovers(points)
	if len(signals) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(signals))
	}
	if signals[0].Action != "BUY" || !signals[0].TS.Equal(points[2].TS) {
		t.Errorf("first signal: %+v", signals[0])
	}
	if signals[1].Action != "SELL" || !signals[1].TS.Equal(points[4].TS) {
		t.Errorf("second signal: %+v", signals[1])
	}
}

func TestCrossovers_SkipsWarmupPoints(t *testing.T) {
	points := []model.Point{
		histPoint(0, -1, false), // warming up — must not seed the comparison
		histPoint(1, 1, false),
		histPoint(2, -0.5, true),
		histPoint(3, -0.2, true),
	}
	if got := Crossovers(points); len(got) != 0 {
		t.Errorf("expected no signals from warm-up points, got %d", len(got))
	}
}

func TestCrossovers_ConfidenceIsCapped(t *testing.T) {
	points := []model.Point{
		histPoint(0, -50, true),
		histPoint(1, 50, true),
	}
	signals := Crossovers(points)
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals))
	}
	if signals[0].Confidence != 100 {
		t.Errorf("confidence: got %g, want capped at 100", signals[0].Confidence)
	}
}
