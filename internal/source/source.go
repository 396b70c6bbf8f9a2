// Package source defines tick producers. A source emits raw ticks into a
// channel; ordering, deduplication and backpressure are owned downstream by
// the ingest router and the storage coordinator, never here.
package source

import (
	"context"
	"time"

	"marketpulse/internal/model"
)

// Source is a stream of market ticks.
type Source interface {
	// Name identifies the source in logs and on each emitted tick.
	Name() string

	// Priority orders sources when two of them report the same (symbol,
	// timestamp): the higher-priority source is started first, so its
	// write is the one that wins first-accepted-wins deduplication.
	Priority() int

	// Run streams ticks into out until ctx is cancelled or the source
	// fails permanently. Sends block when the consumer is saturated.
	Run(ctx context.Context, out chan<- model.Tick) error
}

// Backoff bounds a source's reconnect schedule.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int // 0 means retry forever
}

func (b *Backoff) defaults() {
	if b.Initial <= 0 {
		b.Initial = 2 * time.Second
	}
	if b.Max <= 0 {
		b.Max = 30 * time.Second
	}
}
