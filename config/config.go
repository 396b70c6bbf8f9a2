// Package config loads application configuration from the environment,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	App       AppConfig       `envPrefix:"APP_"`
	Indicator IndicatorConfig `envPrefix:"INDICATOR_"`
	Redis     RedisConfig     `envPrefix:"REDIS_"`
	SQLite    SQLiteConfig    `envPrefix:"SQLITE_"`
	Flush     FlushConfig     `envPrefix:"FLUSH_"`
	Feed      FeedConfig      `envPrefix:"FEED_"`
}

// AppConfig covers service identity and the operational surface.
type AppConfig struct {
	Name        string `env:"NAME" envDefault:"marketpulse"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	APIAddr     string `env:"API_ADDR" envDefault:":8080"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
}

// IndicatorConfig sets the oscillator periods. The defaults are the
// conventional 12/26/9.
type IndicatorConfig struct {
	FastPeriod   int `env:"FAST_PERIOD" envDefault:"12"`
	SlowPeriod   int `env:"SLOW_PERIOD" envDefault:"26"`
	SignalPeriod int `env:"SIGNAL_PERIOD" envDefault:"9"`
}

// RedisConfig covers the volatile latest-state tier.
type RedisConfig struct {
	Addr     string        `env:"ADDR" envDefault:"localhost:6379"`
	Password string        `env:"PASSWORD" envDefault:""`
	DB       int           `env:"DB" envDefault:"0"`
	TTL      time.Duration `env:"TTL" envDefault:"24h"`
}

// SQLiteConfig covers the durable tier.
type SQLiteConfig struct {
	Path string `env:"PATH" envDefault:"data/marketpulse.db"`
}

// FlushConfig tunes the storage coordinator's write path.
type FlushConfig struct {
	BatchSize       int           `env:"BATCH_SIZE" envDefault:"100"`
	Interval        time.Duration `env:"INTERVAL" envDefault:"1s"`
	QueueCapacity   int           `env:"QUEUE_CAPACITY" envDefault:"256"`
	Retries         int           `env:"RETRIES" envDefault:"5"`
	RetryBackoff    time.Duration `env:"RETRY_BACKOFF" envDefault:"250ms"`
	MaxRetryBackoff time.Duration `env:"MAX_RETRY_BACKOFF" envDefault:"5s"`
	BreakerFailures int           `env:"BREAKER_FAILURES" envDefault:"5"`
	BreakerReset    time.Duration `env:"BREAKER_RESET" envDefault:"10s"`
}

// FeedConfig selects and tunes the tick sources.
type FeedConfig struct {
	// Mode is "sim" or "ws".
	Mode    string   `env:"MODE" envDefault:"sim"`
	Symbols []string `env:"SYMBOLS" envSeparator:"," envDefault:"AAPL,TSLA,NVDA"`

	// WebSocket feed
	WSURL             string        `env:"WS_URL" envDefault:"ws://localhost:9001/ws"`
	ReconnectDelay    time.Duration `env:"RECONNECT_DELAY" envDefault:"2s"`
	MaxReconnectDelay time.Duration `env:"MAX_RECONNECT_DELAY" envDefault:"30s"`

	// Simulator
	SimInterval   time.Duration `env:"SIM_INTERVAL" envDefault:"1s"`
	SimStartPrice float64       `env:"SIM_START_PRICE" envDefault:"100"`
	SimVolatility float64       `env:"SIM_VOLATILITY" envDefault:"0.5"`
	SimSeed       int64         `env:"SIM_SEED" envDefault:"0"`
}

// Load reads configuration from the environment, honoring a .env file if
// one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	i := c.Indicator
	if i.FastPeriod <= 0 || i.SlowPeriod <= 0 || i.SignalPeriod <= 0 {
		return fmt.Errorf("config: indicator periods must be positive, got %d/%d/%d",
			i.FastPeriod, i.SlowPeriod, i.SignalPeriod)
	}
	if i.FastPeriod >= i.SlowPeriod {
		return fmt.Errorf("config: fast period %d must be shorter than slow period %d",
			i.FastPeriod, i.SlowPeriod)
	}
	if c.Feed.Mode != "sim" && c.Feed.Mode != "ws" {
		return fmt.Errorf("config: unknown feed mode %q", c.Feed.Mode)
	}
	if len(c.Feed.Symbols) == 0 && c.Feed.Mode == "sim" {
		return fmt.Errorf("config: sim mode needs at least one symbol")
	}
	return nil
}
