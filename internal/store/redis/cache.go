// Package redis implements the volatile low-latency tier: one latest
// tick+snapshot record per symbol, nothing else. History never lives here.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"marketpulse/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const latestPrefix = "latest:"

// Config configures the Redis cache tier.
type Config struct {
	Addr     string
	Password string
	DB       int

	// TTL applied to latest-record keys. Zero means no expiry.
	TTL time.Duration
}

// Cache holds the freshest accepted record per symbol.
// Contents are volatile by contract: a crash loses them and recovery
// rebuilds them from the durable tier.
type Cache struct {
	client *goredis.Client
	ttl    time.Duration
}

// New creates a Cache and pings the server.
func New(cfg Config) (*Cache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Cache{client: client, ttl: cfg.TTL}, nil
}

// Client returns the underlying Redis client for health checks.
func (c *Cache) Client() *goredis.Client { return c.client }

// SetLatest overwrites the symbol's latest record. The write is synchronous;
// the storage coordinator requires it to succeed before acknowledging a
// record.
func (c *Cache) SetLatest(ctx context.Context, rec model.Record) error {
	if err := c.client.Set(ctx, latestPrefix+rec.Tick.Symbol, rec.JSON(), c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set latest %s: %w", rec.Tick.Symbol, err)
	}
	return nil
}

// GetLatest returns the symbol's latest record, or found=false if the key
// is absent or expired.
func (c *Cache) GetLatest(ctx context.Context, symbol string) (model.Record, bool, error) {
	raw, err := c.client.Get(ctx, latestPrefix+symbol).Bytes()
	if err == goredis.Nil {
		return model.Record{}, false, nil
	}
	if err != nil {
		return model.Record{}, false, fmt.Errorf("redis get latest %s: %w", symbol, err)
	}

	var rec model.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.Record{}, false, fmt.Errorf("decode latest %s: %w", symbol, err)
	}
	return rec, true, nil
}

// Symbols lists every symbol with a live latest record.
func (c *Cache) Symbols(ctx context.Context) ([]string, error) {
	var symbols []string
	iter := c.client.Scan(ctx, 0, latestPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		symbols = append(symbols, iter.Val()[len(latestPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan latest keys: %w", err)
	}
	return symbols, nil
}

// Ping checks connectivity, for the liveness probe.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}
