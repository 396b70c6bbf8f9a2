package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the ingestion pipeline.
type Metrics struct {
	TicksTotal    *prometheus.CounterVec // labels: source
	TicksRejected *prometheus.CounterVec // labels: reason

	RecordsFlushed prometheus.Counter
	FlushDur       prometheus.Histogram
	FlushFailures  prometheus.Counter
	QueueDepth     prometheus.Gauge
	DegradedMode   prometheus.Gauge // 0=healthy, 1=degraded
	BlockedWrites  *prometheus.CounterVec

	CacheWriteDur prometheus.Histogram

	SourceReconnects *prometheus.CounterVec // labels: source

	CorruptRows prometheus.Counter
	ReplayDur   prometheus.Histogram
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketpulse_ticks_total",
			Help: "Total ticks accepted, by source",
		}, []string{"source"}),
		TicksRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketpulse_ticks_rejected_total",
			Help: "Ticks rejected by the indicator engine (out_of_order, duplicate)",
		}, []string{"reason"}),

		RecordsFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketpulse_records_flushed_total",
			Help: "Records durably persisted by the storage coordinator",
		}),
		FlushDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketpulse_flush_duration_seconds",
			Help:    "Durable batch flush latency",
			Buckets: prometheus.DefBuckets,
		}),
		FlushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketpulse_flush_failures_total",
			Help: "Failed durable flush attempts (retries counted individually)",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketpulse_flush_queue_depth",
			Help: "Records queued for the durable store",
		}),
		DegradedMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketpulse_degraded_mode",
			Help: "Storage coordinator degraded mode (0=healthy, 1=degraded)",
		}),
		BlockedWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketpulse_blocked_writes_total",
			Help: "Writes that hit a saturated per-symbol queue and blocked",
		}, []string{"symbol"}),

		CacheWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketpulse_cache_write_duration_seconds",
			Help:    "Latest-record cache write latency",
			Buckets: prometheus.DefBuckets,
		}),

		SourceReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketpulse_source_reconnects_total",
			Help: "Feed reconnection attempts, by source",
		}, []string{"source"}),

		CorruptRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketpulse_corrupt_rows_total",
			Help: "Corrupt durable rows skipped during recovery",
		}),
		ReplayDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketpulse_replay_duration_seconds",
			Help:    "Startup recovery replay duration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.TicksRejected,
		m.RecordsFlushed,
		m.FlushDur,
		m.FlushFailures,
		m.QueueDepth,
		m.DegradedMode,
		m.BlockedWrites,
		m.CacheWriteDur,
		m.SourceReconnects,
		m.CorruptRows,
		m.ReplayDur,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConnected bool
	SQLiteOK       bool
	LastTickTime   time.Time
	Degraded       bool
	QueueDepth     int

	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

// SetCoordinatorStatus records queue depth and degraded mode from the
// storage coordinator.
func (h *HealthStatus) SetCoordinatorStatus(queueDepth int, degraded bool) {
	h.mu.Lock()
	h.QueueDepth = queueDepth
	h.Degraded = degraded
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency and connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency and health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// The cache tier going down degrades reads; the durable tier going
	// down degrades writes. Both down means unhealthy.
	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.RedisConnected || !h.SQLiteOK || h.Degraded {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		Degraded        bool    `json:"degraded"`
		QueueDepth      int     `json:"queue_depth"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		Degraded:        h.Degraded,
		QueueDepth:      h.QueueDepth,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
