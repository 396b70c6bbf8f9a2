package model

import (
	"encoding/json"
	"time"
)

// Point is the oscillator snapshot derived from one accepted tick.
// MACD/Signal/Histogram carry meaningful values only when their Ready flag
// is set; before warm-up completes they are reported as not-yet-available
// rather than zero.
type Point struct {
	Symbol    string    `json:"symbol"`
	TS        time.Time `json:"ts"`
	Price     float64   `json:"price"`
	Volume    int64     `json:"volume"`
	MACD      float64   `json:"macd"`
	Signal    float64   `json:"signal"`
	Histogram float64   `json:"histogram"`

	MACDReady   bool `json:"macd_ready"`
	SignalReady bool `json:"signal_ready"`
}

// JSON returns the JSON-encoded point (ignoring errors for hot-path usage).
func (p *Point) JSON() []byte {
	b, _ := json.Marshal(p)
	return b
}

// Record pairs an accepted tick with the snapshot it produced. It is the
// unit written to both storage tiers.
type Record struct {
	Tick  Tick  `json:"tick"`
	Point Point `json:"point"`
}

// JSON returns the JSON-encoded record (ignoring errors for hot-path usage).
func (r *Record) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
