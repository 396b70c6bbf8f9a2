package model

import (
	"encoding/json"
	"time"
)

// Tick is a single normalized market tick from one provider.
// A tick is uniquely identified by (Symbol, TS); a later tick carrying the
// same key is a duplicate.
type Tick struct {
	Symbol string    `json:"symbol"`
	TS     time.Time `json:"ts"`     // UTC
	Price  float64   `json:"price"`  // last traded price
	Volume int64     `json:"volume"` // last traded quantity
	Source string    `json:"source,omitempty"`
}

// Key returns the dedup key for this tick: "symbol@unixmilli".
func (t *Tick) Key() string {
	return t.Symbol + "@" + Itoa64(t.TS.UnixMilli())
}

// JSON returns the JSON-encoded tick (ignoring errors for hot-path usage).
func (t *Tick) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}
