// Package api exposes the query service over HTTP.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"marketpulse/internal/coordinator"
	"marketpulse/internal/indicator"
	"marketpulse/internal/query"
)

// Handler serves read-only queries over the two storage tiers.
type Handler struct {
	queries *query.Service
	coord   *coordinator.Coordinator
	engine  *indicator.Engine
	log     *slog.Logger
}

func NewHandler(queries *query.Service, coord *coordinator.Coordinator, engine *indicator.Engine, log *slog.Logger) *Handler {
	return &Handler{queries: queries, coord: coord, engine: engine, log: log}
}

// Router sets up HTTP routes for the API server.
func (h *Handler) Router() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/symbols", h.handleSymbols)
	mux.HandleFunc("/api/v1/latest", h.handleLatest)
	mux.HandleFunc("/api/v1/history", h.handleHistory)
	mux.HandleFunc("/api/v1/asof", h.handleAsOf)
	mux.HandleFunc("/api/v1/signals", h.handleSignals)
	mux.HandleFunc("/api/v1/info", h.handleInfo)
	mux.HandleFunc("/api/v1/status", h.handleStatus)

	return mux
}

func (h *Handler) handleSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := h.queries.Symbols(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, map[string]any{"symbols": symbols})
}

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		http.Error(w, "symbol required", http.StatusBadRequest)
		return
	}

	rec, found, err := h.queries.Latest(r.Context(), symbol)
	if err != nil {
		h.fail(w, err)
		return
	}
	if !found {
		http.Error(w, "unknown symbol", http.StatusNotFound)
		return
	}
	writeJSON(w, rec)
}

// handleHistory serves either an explicit [from, to) window in RFC3339 or a
// whole UTC day via ?date=2006-01-02.
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := q.Get("symbol")
	if symbol == "" {
		http.Error(w, "symbol required", http.StatusBadRequest)
		return
	}

	if date := q.Get("date"); date != "" {
		recs, err := h.queries.HistoryForDate(r.Context(), symbol, date)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"symbol": symbol, "records": recs})
		return
	}

	from, err := time.Parse(time.RFC3339, q.Get("from"))
	if err != nil {
		http.Error(w, "bad from: "+err.Error(), http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.RFC3339, q.Get("to"))
	if err != nil {
		http.Error(w, "bad to: "+err.Error(), http.StatusBadRequest)
		return
	}

	recs, err := h.queries.History(r.Context(), symbol, from, to)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, map[string]any{"symbol": symbol, "records": recs})
}

func (h *Handler) handleAsOf(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := q.Get("symbol")
	if symbol == "" {
		http.Error(w, "symbol required", http.StatusBadRequest)
		return
	}
	ts, err := time.Parse(time.RFC3339, q.Get("ts"))
	if err != nil {
		http.Error(w, "bad ts: "+err.Error(), http.StatusBadRequest)
		return
	}

	point, found, err := h.queries.AsOf(r.Context(), symbol, ts)
	if err != nil {
		h.fail(w, err)
		return
	}
	if !found {
		http.Error(w, "no data at or before ts", http.StatusNotFound)
		return
	}
	writeJSON(w, point)
}

func (h *Handler) handleSignals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := q.Get("symbol")
	if symbol == "" {
		http.Error(w, "symbol required", http.StatusBadRequest)
		return
	}
	from, err := time.Parse(time.RFC3339, q.Get("from"))
	if err != nil {
		http.Error(w, "bad from: "+err.Error(), http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.RFC3339, q.Get("to"))
	if err != nil {
		http.Error(w, "bad to: "+err.Error(), http.StatusBadRequest)
		return
	}

	signals, err := h.queries.Signals(r.Context(), symbol, from, to)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, map[string]any{"symbol": symbol, "signals": signals})
}

func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		http.Error(w, "symbol required", http.StatusBadRequest)
		return
	}
	info, err := h.queries.Info(r.Context(), symbol)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, info)
}

// handleStatus reports pipeline internals: coordinator health plus per-symbol
// warm-up progress.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"coordinator": h.coord.Status(),
		"warmup":      h.engine.Warmup(),
	})
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	h.log.Error("query failed", "err", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
