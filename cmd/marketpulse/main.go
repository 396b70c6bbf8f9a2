package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"marketpulse/config"
	"marketpulse/internal/api"
	"marketpulse/internal/coordinator"
	"marketpulse/internal/indicator"
	"marketpulse/internal/ingest"
	"marketpulse/internal/logger"
	"marketpulse/internal/metrics"
	"marketpulse/internal/model"
	"marketpulse/internal/query"
	"marketpulse/internal/source"
	redisstore "marketpulse/internal/store/redis"
	sqlitestore "marketpulse/internal/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.Init(cfg.App.Name, logger.ParseLevel(cfg.App.LogLevel))
	log.Info("starting", "feed_mode", cfg.Feed.Mode, "symbols", cfg.Feed.Symbols)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Storage tiers ----
	if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	durable, err := sqlitestore.Open(cfg.SQLite.Path)
	if err != nil {
		log.Error("sqlite init failed", "err", err)
		os.Exit(1)
	}
	defer durable.Close()
	log.Info("durable store ready", "path", cfg.SQLite.Path)

	cache, err := redisstore.New(redisstore.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      cfg.Redis.TTL,
	})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer cache.Close()
	log.Info("cache ready", "addr", cfg.Redis.Addr)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.StartLivenessChecker(ctx, cache.Client(), durable.DB(), 10*time.Second)
	metricsSrv := metrics.NewServer(cfg.App.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Indicator engine ----
	indCfg := indicator.Config{
		FastPeriod:   cfg.Indicator.FastPeriod,
		SlowPeriod:   cfg.Indicator.SlowPeriod,
		SignalPeriod: cfg.Indicator.SignalPeriod,
	}
	engine := indicator.NewEngine(indCfg)

	// ---- Storage coordinator: recover, then start the write path ----
	coord := coordinator.New(cache, durable, engine, coordinator.Config{
		FlushBatchSize:  cfg.Flush.BatchSize,
		FlushInterval:   cfg.Flush.Interval,
		QueueCapacity:   cfg.Flush.QueueCapacity,
		FlushRetries:    cfg.Flush.Retries,
		RetryBackoff:    cfg.Flush.RetryBackoff,
		MaxRetryBackoff: cfg.Flush.MaxRetryBackoff,
		BreakerFailures: cfg.Flush.BreakerFailures,
		BreakerReset:    cfg.Flush.BreakerReset,
	}, log)
	coord.OnFlush = func(n int, took time.Duration) {
		prom.RecordsFlushed.Add(float64(n))
		prom.FlushDur.Observe(took.Seconds())
	}
	coord.OnFlushError = func() { prom.FlushFailures.Inc() }
	coord.OnDegraded = func(on bool) {
		if on {
			prom.DegradedMode.Set(1)
		} else {
			prom.DegradedMode.Set(0)
		}
	}
	coord.OnBlocked = func(symbol string) {
		prom.BlockedWrites.WithLabelValues(symbol).Inc()
	}
	coord.OnCacheWrite = func(took time.Duration) {
		prom.CacheWriteDur.Observe(took.Seconds())
	}

	replayStart := time.Now()
	if err := coord.Recover(ctx); err != nil {
		log.Error("recovery failed", "err", err)
		os.Exit(1)
	}
	prom.ReplayDur.Observe(time.Since(replayStart).Seconds())
	prom.CorruptRows.Add(float64(coord.Status().CorruptRows))
	coord.Start(ctx)

	// ---- Query API ----
	queries := query.New(cache, durable, indCfg, log)
	apiSrv := &http.Server{
		Addr:    cfg.App.APIAddr,
		Handler: api.NewHandler(queries, coord, engine, log).Router(),
	}
	go func() {
		log.Info("query api listening", "addr", apiSrv.Addr)
		if err := apiSrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Error("query api server error", "err", err)
		}
	}()

	// ---- Coordinator status → metrics/health ----
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := coord.Status()
				prom.QueueDepth.Set(float64(st.QueueDepth))
				health.SetCoordinatorStatus(st.QueueDepth, st.Degraded)
			}
		}
	}()

	// ---- Tick sources → router ----
	tickCh := make(chan model.Tick, 10000)

	src, err := buildSource(cfg, log)
	if err != nil {
		log.Error("source init failed", "err", err)
		os.Exit(1)
	}
	if ws, ok := src.(*source.WSFeed); ok {
		ws.OnReconnect = func() {
			prom.SourceReconnects.WithLabelValues(ws.Name()).Inc()
		}
	}
	// The source gets its own context so shutdown can stop the feed first
	// and let the pipeline drain in-flight ticks on the still-live ctx.
	srcCtx, srcCancel := context.WithCancel(ctx)
	defer srcCancel()
	go func() {
		if err := src.Run(srcCtx, tickCh); err != nil {
			log.Error("source terminated", "source", src.Name(), "err", err)
		}
		close(tickCh)
	}()

	router := ingest.New(engine, coord, ingest.Config{}, log)
	router.OnApplied = func(symbol string) {
		prom.TicksTotal.WithLabelValues(src.Name()).Inc()
		health.SetLastTickTime(time.Now())
	}
	router.OnRejected = func(_, reason string) {
		prom.TicksRejected.WithLabelValues(reason).Inc()
	}

	routerDone := make(chan struct{})
	go func() {
		router.Run(ctx, tickCh)
		close(routerDone)
	}()

	log.Info("pipeline ready")

	// ---- Graceful shutdown ----
	// Stop the feed first; the router sees tickCh close and drains its
	// mailboxes while ctx is still live, so the tail of the stream reaches
	// the cache. Only then is the shared context cancelled.
	<-sigCh
	log.Info("shutdown signal received")
	srcCancel()

	<-routerDone // workers finish applying in-flight ticks
	cancel()
	coord.Close() // drains the durable-write queues

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	apiSrv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	log.Info("shutdown complete")
}

// buildSource picks the tick source from config.
func buildSource(cfg *config.Config, log *slog.Logger) (source.Source, error) {
	if cfg.Feed.Mode == "ws" {
		return source.NewWSFeed(source.WSConfig{
			URL:      cfg.Feed.WSURL,
			Priority: 1,
			Backoff: source.Backoff{
				Initial: cfg.Feed.ReconnectDelay,
				Max:     cfg.Feed.MaxReconnectDelay,
			},
		}, log)
	}
	return source.NewSimulator(source.SimConfig{
		Symbols:    cfg.Feed.Symbols,
		Interval:   cfg.Feed.SimInterval,
		StartPrice: cfg.Feed.SimStartPrice,
		Volatility: cfg.Feed.SimVolatility,
		Seed:       cfg.Feed.SimSeed,
	}), nil
}
