package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"marketpulse/internal/coordinator"
	"marketpulse/internal/indicator"
	"marketpulse/internal/model"
	"marketpulse/internal/query"
)

var t0 = time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)

type fakeTiers struct {
	latest map[string]model.Record
	rows   map[string][]model.Record
}

func (f *fakeTiers) SetLatest(_ context.Context, rec model.Record) error {
	f.latest[rec.Tick.Symbol] = rec
	return nil
}

func (f *fakeTiers) GetLatest(_ context.Context, symbol string) (model.Record, bool, error) {
	rec, ok := f.latest[symbol]
	return rec, ok, nil
}

func (f *fakeTiers) Symbols(_ context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	for s := range f.latest {
		seen[s] = struct{}{}
	}
	for s := range f.rows {
		seen[s] = struct{}{}
	}
	var out []string
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeTiers) InsertBatch(_ context.Context, recs []model.Record) error {
	for _, rec := range recs {
		f.rows[rec.Tick.Symbol] = append(f.rows[rec.Tick.Symbol], rec)
	}
	return nil
}

func (f *fakeTiers) ScanSymbol(_ context.Context, symbol string, fn func(model.Record)) (int, error) {
	for _, rec := range f.rows[symbol] {
		fn(rec)
	}
	return 0, nil
}

func (f *fakeTiers) Range(_ context.Context, symbol string, fromMilli, toMilli int64) ([]model.Record, error) {
	var out []model.Record
	for _, rec := range f.rows[symbol] {
		ms := rec.Tick.TS.UnixMilli()
		if ms >= fromMilli && ms < toMilli {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeTiers) Last(_ context.Context, symbol string) (model.Record, bool, error) {
	recs := f.rows[symbol]
	if len(recs) == 0 {
		return model.Record{}, false, nil
	}
	return recs[len(recs)-1], true, nil
}

func (f *fakeTiers) Count(_ context.Context, symbol string) (int64, error) {
	return int64(len(f.rows[symbol])), nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeTiers) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	tiers := &fakeTiers{
		latest: make(map[string]model.Record),
		rows:   make(map[string][]model.Record),
	}

	engine := indicator.NewEngine(indicator.DefaultConfig())
	coord := coordinator.New(tiers, tiers, engine, coordinator.Config{}, log)
	queries := query.New(tiers, tiers, indicator.DefaultConfig(), log)

	srv := httptest.NewServer(NewHandler(queries, coord, engine, log).Router())
	t.Cleanup(srv.Close)
	return srv, tiers
}

func record(symbol string, n int, price float64) model.Record {
	ts := t0.Add(time.Duration(n) * time.Second)
	return model.Record{
		Tick:  model.Tick{Symbol: symbol, TS: ts, Price: price, Volume: 1},
		Point: model.Point{Symbol: symbol, TS: ts, Price: price, Volume: 1},
	}
}

func getJSON(t *testing.T, url string, into any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestLatestEndpoint(t *testing.T) {
	srv, tiers := newTestServer(t)
	want := record("AAPL", 3, 101.5)
	tiers.latest["AAPL"] = want

	var got model.Record
	if code := getJSON(t, srv.URL+"/api/v1/latest?symbol=AAPL", &got); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if got.Tick.Price != 101.5 {
		t.Errorf("got %+v", got)
	}

	if code := getJSON(t, srv.URL+"/api/v1/latest?symbol=NOPE", &got); code != http.StatusNotFound {
		t.Errorf("unknown symbol: status %d, want 404", code)
	}
	if code := getJSON(t, srv.URL+"/api/v1/latest", &got); code != http.StatusBadRequest {
		t.Errorf("missing symbol: status %d, want 400", code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	srv, tiers := newTestServer(t)
	for i := 0; i < 5; i++ {
		rec := record("TSLA", i, 200)
		tiers.rows["TSLA"] = append(tiers.rows["TSLA"], rec)
	}

	var body struct {
		Records []model.Record `json:"records"`
	}
	url := srv.URL + "/api/v1/history?symbol=TSLA&from=" + t0.Format(time.RFC3339) +
		"&to=" + t0.Add(3*time.Second).Format(time.RFC3339)
	if code := getJSON(t, url, &body); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(body.Records) != 3 {
		t.Errorf("got %d records, want 3", len(body.Records))
	}

	// Whole-day form.
	body.Records = nil
	if code := getJSON(t, srv.URL+"/api/v1/history?symbol=TSLA&date=2025-06-02", &body); code != http.StatusOK {
		t.Fatalf("date form: status %d", code)
	}
	if len(body.Records) != 5 {
		t.Errorf("date form: got %d records, want 5", len(body.Records))
	}

	if code := getJSON(t, srv.URL+"/api/v1/history?symbol=TSLA&from=yesterday&to=now", &body); code != http.StatusBadRequest {
		t.Errorf("bad window: status %d, want 400", code)
	}
}

func TestSymbolsAndStatusEndpoints(t *testing.T) {
	srv, tiers := newTestServer(t)
	tiers.rows["AAPL"] = append(tiers.rows["AAPL"], record("AAPL", 1, 100))
	tiers.latest["TSLA"] = record("TSLA", 1, 200)

	var syms struct {
		Symbols []string `json:"symbols"`
	}
	if code := getJSON(t, srv.URL+"/api/v1/symbols", &syms); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(syms.Symbols) != 2 {
		t.Errorf("symbols = %v", syms.Symbols)
	}

	var status struct {
		Coordinator coordinator.Status `json:"coordinator"`
	}
	if code := getJSON(t, srv.URL+"/api/v1/status", &status); code != http.StatusOK {
		t.Fatalf("status endpoint: %d", code)
	}
	if status.Coordinator.Degraded {
		t.Error("fresh coordinator reported degraded")
	}
}

func TestAsOfEndpoint(t *testing.T) {
	srv, tiers := newTestServer(t)

	engine := indicator.NewEngine(indicator.DefaultConfig())
	for i := 0; i < 30; i++ {
		tick := model.Tick{Symbol: "RT", TS: t0.Add(time.Duration(i) * time.Second), Price: 50 + float64(i%3), Volume: 1}
		p, err := engine.Apply(tick)
		if err != nil {
			t.Fatal(err)
		}
		tiers.rows["RT"] = append(tiers.rows["RT"], model.Record{Tick: tick, Point: p})
	}

	var point model.Point
	url := srv.URL + "/api/v1/asof?symbol=RT&ts=" + t0.Add(10*time.Second).Format(time.RFC3339)
	if code := getJSON(t, url, &point); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if !point.TS.Equal(t0.Add(10 * time.Second)) {
		t.Errorf("as-of resolved to %v", point.TS)
	}

	early := srv.URL + "/api/v1/asof?symbol=RT&ts=" + t0.Add(-time.Hour).Format(time.RFC3339)
	if code := getJSON(t, early, &point); code != http.StatusNotFound {
		t.Errorf("pre-history ts: status %d, want 404", code)
	}
}
