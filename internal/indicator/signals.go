package indicator

import (
	"time"

	"marketpulse/internal/model"
)

// TradeSignal marks a histogram zero crossing: BUY when momentum turns
// positive (golden cross), SELL when it turns negative (death cross).
type TradeSignal struct {
	Symbol     string    `json:"symbol"`
	TS         time.Time `json:"ts"`
	Action     string    `json:"action"` // "BUY" or "SELL"
	Confidence float64   `json:"confidence"`
	Price      float64   `json:"price"`
}

// Crossovers scans a time-ordered snapshot series and emits a signal at
// every histogram sign change. Points whose signal line is still warming up
// are skipped — a crossing against a not-yet-available signal is noise.
func Crossovers(points []model.Point) []TradeSignal {
	var signals []TradeSignal
	havePrev := false
	var prev float64

	for i := range points {
		p := &points[i]
		if !p.SignalReady {
			continue
		}
		if !havePrev {
			prev = p.Histogram
			havePrev = true
			continue
		}

		if prev < 0 && p.Histogram > 0 {
			signals = append(signals, TradeSignal{
				Symbol:     p.Symbol,
				TS:         p.TS,
				Action:     "BUY",
				Confidence: confidence(p.Histogram),
				Price:      p.Price,
			})
		}
		if prev > 0 && p.Histogram < 0 {
			signals = append(signals, TradeSignal{
				Symbol:     p.Symbol,
				TS:         p.TS,
				Action:     "SELL",
				Confidence: confidence(p.Histogram),
				Price:      p.Price,
			})
		}
		prev = p.Histogram
	}
	return signals
}

func confidence(histogram float64) float64 {
	if histogram < 0 {
		histogram = -histogram
	}
	c := histogram * 10
	if c > 100 {
		c = 100
	}
	return c
}
