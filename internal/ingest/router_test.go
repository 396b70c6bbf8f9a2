package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"marketpulse/internal/coordinator"
	"marketpulse/internal/indicator"
	"marketpulse/internal/model"
)

var t0 = time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memCache struct {
	mu     sync.Mutex
	latest map[string]model.Record
	fail   bool
}

func (m *memCache) SetLatest(ctx context.Context, rec model.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("cache down")
	}
	m.latest[rec.Tick.Symbol] = rec
	return nil
}

func (m *memCache) get(symbol string) (model.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.latest[symbol]
	return rec, ok
}

type memDurable struct {
	mu   sync.Mutex
	rows map[string][]model.Record
}

func (m *memDurable) InsertBatch(_ context.Context, recs []model.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range recs {
		m.rows[rec.Tick.Symbol] = append(m.rows[rec.Tick.Symbol], rec)
	}
	return nil
}

func (m *memDurable) Symbols(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var syms []string
	for s := range m.rows {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	return syms, nil
}

func (m *memDurable) ScanSymbol(_ context.Context, symbol string, fn func(model.Record)) (int, error) {
	m.mu.Lock()
	recs := append([]model.Record(nil), m.rows[symbol]...)
	m.mu.Unlock()
	for _, rec := range recs {
		fn(rec)
	}
	return 0, nil
}

func (m *memDurable) timestamps(symbol string) []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Time, len(m.rows[symbol]))
	for i, rec := range m.rows[symbol] {
		out[i] = rec.Tick.TS
	}
	return out
}

func newHarness(t *testing.T) (*Router, *indicator.Engine, *memCache, *memDurable, context.CancelFunc) {
	t.Helper()
	cache := &memCache{latest: make(map[string]model.Record)}
	durable := &memDurable{rows: make(map[string][]model.Record)}
	engine := indicator.NewEngine(indicator.DefaultConfig())
	coord := coordinator.New(cache, durable, engine, coordinator.Config{
		FlushBatchSize: 1000,
		FlushInterval:  time.Hour,
	}, discardLog())

	ctx, cancel := context.WithCancel(context.Background())
	coord.Start(ctx)

	router := New(engine, coord, Config{}, discardLog())
	return router, engine, cache, durable, func() {
		cancel()
		coord.Close()
	}
}

func tick(symbol string, n int, price float64) model.Tick {
	return model.Tick{
		Symbol: symbol,
		TS:     t0.Add(time.Duration(n) * time.Second),
		Price:  price,
		Volume: 1,
		Source: "test",
	}
}

func TestRouter_PreservesPerSymbolOrder(t *testing.T) {
	router, _, cache, durable, stop := newHarness(t)

	in := make(chan model.Tick)
	done := make(chan struct{})
	go func() {
		router.Run(context.Background(), in)
		close(done)
	}()

	const n = 50
	for i := 0; i < n; i++ {
		in <- tick("AAPL", i, 100+float64(i))
		in <- tick("TSLA", i, 200+float64(i))
	}
	close(in)
	<-done
	stop() // shutdown drain persists everything

	for _, sym := range []string{"AAPL", "TSLA"} {
		tss := durable.timestamps(sym)
		if len(tss) != n {
			t.Fatalf("%s: %d durable records, want %d", sym, len(tss), n)
		}
		for i := 1; i < len(tss); i++ {
			if !tss[i].After(tss[i-1]) {
				t.Fatalf("%s: order broken at %d: %v !> %v", sym, i, tss[i], tss[i-1])
			}
		}
		rec, ok := cache.get(sym)
		if !ok || !rec.Tick.TS.Equal(t0.Add((n-1)*time.Second)) {
			t.Errorf("%s: cache latest = %+v, want final tick", sym, rec)
		}
	}
}

func TestRouter_CountsRejectionsWithoutFailing(t *testing.T) {
	router, _, cache, _, stop := newHarness(t)
	defer stop()

	var mu sync.Mutex
	rejected := map[string]int{}
	router.OnRejected = func(_, reason string) {
		mu.Lock()
		rejected[reason]++
		mu.Unlock()
	}
	applied := 0
	router.OnApplied = func(string) {
		mu.Lock()
		applied++
		mu.Unlock()
	}

	in := make(chan model.Tick)
	done := make(chan struct{})
	go func() {
		router.Run(context.Background(), in)
		close(done)
	}()

	in <- tick("AAPL", 1, 100)
	in <- tick("AAPL", 3, 101)
	in <- tick("AAPL", 2, 999) // out of order
	in <- tick("AAPL", 3, 999) // duplicate
	in <- tick("AAPL", 4, 102) // ingestion continues past rejections
	close(in)
	<-done

	mu.Lock()
	defer mu.Unlock()
	if rejected["out_of_order"] != 1 || rejected["duplicate"] != 1 {
		t.Errorf("rejections = %v, want one of each", rejected)
	}
	if applied != 3 {
		t.Errorf("applied = %d, want 3", applied)
	}

	rec, ok := cache.get("AAPL")
	if !ok || rec.Tick.Price != 102 {
		t.Errorf("latest = %+v, want the tick after the rejections", rec)
	}
}

func TestRouter_SkipsEmptySymbol(t *testing.T) {
	router, _, cache, _, stop := newHarness(t)
	defer stop()

	in := make(chan model.Tick)
	done := make(chan struct{})
	go func() {
		router.Run(context.Background(), in)
		close(done)
	}()

	in <- model.Tick{TS: t0, Price: 1, Volume: 1}
	in <- tick("AAPL", 1, 100)
	close(in)
	<-done

	if _, ok := cache.get(""); ok {
		t.Error("empty-symbol tick should have been dropped")
	}
	if _, ok := cache.get("AAPL"); !ok {
		t.Error("valid tick lost")
	}
}

// newLogHarness is newHarness with a caller-supplied logger, for tests that
// assert on log output.
func newLogHarness(t *testing.T, log *slog.Logger) (*Router, *memCache, context.CancelFunc) {
	t.Helper()
	cache := &memCache{latest: make(map[string]model.Record)}
	durable := &memDurable{rows: make(map[string][]model.Record)}
	engine := indicator.NewEngine(indicator.DefaultConfig())
	coord := coordinator.New(cache, durable, engine, coordinator.Config{
		FlushBatchSize: 1000,
		FlushInterval:  time.Hour,
	}, discardLog())

	ctx, cancel := context.WithCancel(context.Background())
	coord.Start(ctx)
	return New(engine, coord, Config{}, log), cache, func() {
		cancel()
		coord.Close()
	}
}

func TestRouter_RejectionLogCarriesDedupKey(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	router, _, stop := newLogHarness(t, log)
	defer stop()

	in := make(chan model.Tick)
	done := make(chan struct{})
	go func() {
		router.Run(context.Background(), in)
		close(done)
	}()

	in <- tick("AAPL", 2, 100)
	dup := tick("AAPL", 2, 999)
	in <- dup
	close(in)
	<-done

	out := buf.String()
	if !strings.Contains(out, dup.Key()) {
		t.Errorf("rejection log missing dedup key %q:\n%s", dup.Key(), out)
	}
	if !strings.Contains(out, `"reason":"duplicate"`) {
		t.Errorf("rejection log missing reason:\n%s", out)
	}
}

func TestRouter_RecordFailureLogsTraceID(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	router, cache, stop := newLogHarness(t, log)
	defer stop()
	cache.fail = true

	in := make(chan model.Tick)
	done := make(chan struct{})
	go func() {
		router.Run(context.Background(), in)
		close(done)
	}()

	in <- tick("AAPL", 1, 100)
	close(in)
	<-done

	out := buf.String()
	if !strings.Contains(out, `"msg":"record failed"`) {
		t.Fatalf("expected a record-failed entry:\n%s", out)
	}
	if !strings.Contains(out, `"trace_id":"AAPL-`) {
		t.Errorf("record-failed entry missing trace id:\n%s", out)
	}
}

// The cache stand-in refuses writes on a cancelled context, so this test
// verifies the shutdown sequence the daemon uses: stop the feed, let the
// workers drain on the still-live context, cancel only afterwards. Nothing
// fed before the close may be lost.
func TestRouter_DrainCompletesBeforeCancel(t *testing.T) {
	router, _, cache, durable, stop := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan model.Tick)
	done := make(chan struct{})
	go func() {
		router.Run(ctx, in)
		close(done)
	}()

	const n = 200
	for i := 0; i < n; i++ {
		in <- tick("AAPL", i, 100+float64(i))
	}
	close(in)
	<-done // mailboxes drained while ctx is live
	cancel()
	stop()

	if got := len(durable.timestamps("AAPL")); got != n {
		t.Fatalf("drained %d records, want %d", got, n)
	}
	rec, ok := cache.get("AAPL")
	if !ok || !rec.Tick.TS.Equal(t0.Add((n-1)*time.Second)) {
		t.Errorf("cache latest = %+v, want the final tick", rec)
	}
}

func TestRouter_StopsOnContextCancel(t *testing.T) {
	router, _, _, _, stop := newHarness(t)
	defer stop()

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan model.Tick)
	done := make(chan struct{})
	go func() {
		router.Run(ctx, in)
		close(done)
	}()

	in <- tick("AAPL", 1, 100)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("router did not stop on context cancellation")
	}
}
