package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"marketpulse/internal/model"

	"github.com/gorilla/websocket"
)

// WSConfig configures a WebSocket tick feed.
type WSConfig struct {
	// URL of the tick server, e.g. "ws://localhost:9001/ws".
	URL string

	// Name distinguishes multiple feeds in logs and dedup ordering.
	// Defaults to "ws".
	Name string

	// Priority of this feed relative to other sources.
	Priority int

	Backoff Backoff
}

// WSFeed streams JSON tick frames from a WebSocket server. Frames decode
// directly into model.Tick. The feed reconnects with exponential backoff and
// treats a malformed frame as noise, not a failure.
type WSFeed struct {
	cfg WSConfig
	log *slog.Logger

	// OnReconnect is called before each reconnection attempt (optional).
	OnReconnect func()
}

func NewWSFeed(cfg WSConfig, log *slog.Logger) (*WSFeed, error) {
	if cfg.Name == "" {
		cfg.Name = "ws"
	}
	cfg.Backoff.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("wsfeed %s: bad url %q: %w", cfg.Name, cfg.URL, err)
	}
	return &WSFeed{cfg: cfg, log: log.With("source", cfg.Name)}, nil
}

func (f *WSFeed) Name() string  { return f.cfg.Name }
func (f *WSFeed) Priority() int { return f.cfg.Priority }

// Run connects and streams until ctx is cancelled. On disconnect it retries
// with exponential backoff; after MaxAttempts consecutive failures it gives
// up and returns the last error. A connection that delivered at least one
// valid frame resets the attempt counter and the delay, so MaxAttempts
// bounds consecutive failures, not the lifetime reconnect count.
func (f *WSFeed) Run(ctx context.Context, out chan<- model.Tick) error {
	delay := f.cfg.Backoff.Initial
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		served, err := f.runOnce(ctx, out)
		if err == nil {
			return nil // clean shutdown
		}
		if served {
			attempts = 0
			delay = f.cfg.Backoff.Initial
		}

		attempts++
		if f.cfg.Backoff.MaxAttempts > 0 && attempts >= f.cfg.Backoff.MaxAttempts {
			return fmt.Errorf("wsfeed %s: giving up after %d attempts: %w", f.cfg.Name, attempts, err)
		}

		f.log.Warn("disconnected, reconnecting", "err", err, "delay", delay)
		if f.OnReconnect != nil {
			f.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > f.cfg.Backoff.Max {
			delay = f.cfg.Backoff.Max
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancellation. served reports whether at least one valid tick reached
// out; a nil error means ctx was cancelled.
func (f *WSFeed) runOnce(ctx context.Context, out chan<- model.Tick) (served bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	f.log.Info("connected", "url", f.cfg.URL)

	// Context watcher closes the connection so ReadMessage unblocks.
	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return served, nil
			default:
			}
			return served, err
		}

		var tick model.Tick
		if err := json.Unmarshal(raw, &tick); err != nil {
			f.log.Warn("dropping malformed frame", "err", err)
			continue
		}
		if tick.Symbol == "" || tick.TS.IsZero() {
			f.log.Warn("dropping frame without symbol or timestamp")
			continue
		}
		tick.Source = f.cfg.Name

		select {
		case out <- tick:
			served = true
		case <-ctx.Done():
			return served, nil
		}
	}
}
