package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Indicator.FastPeriod != 12 || cfg.Indicator.SlowPeriod != 26 || cfg.Indicator.SignalPeriod != 9 {
		t.Errorf("indicator defaults = %d/%d/%d, want 12/26/9",
			cfg.Indicator.FastPeriod, cfg.Indicator.SlowPeriod, cfg.Indicator.SignalPeriod)
	}
	if cfg.Flush.Interval != time.Second || cfg.Flush.BatchSize != 100 {
		t.Errorf("flush defaults = %v/%d", cfg.Flush.Interval, cfg.Flush.BatchSize)
	}
	if cfg.Feed.Mode != "sim" {
		t.Errorf("feed mode default = %q, want sim", cfg.Feed.Mode)
	}
	if len(cfg.Feed.Symbols) == 0 {
		t.Error("expected default symbols")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("INDICATOR_FAST_PERIOD", "5")
	t.Setenv("INDICATOR_SLOW_PERIOD", "15")
	t.Setenv("FEED_SYMBOLS", "AAPL,MSFT")
	t.Setenv("FLUSH_INTERVAL", "250ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Indicator.FastPeriod != 5 || cfg.Indicator.SlowPeriod != 15 {
		t.Errorf("periods = %d/%d", cfg.Indicator.FastPeriod, cfg.Indicator.SlowPeriod)
	}
	if len(cfg.Feed.Symbols) != 2 || cfg.Feed.Symbols[1] != "MSFT" {
		t.Errorf("symbols = %v", cfg.Feed.Symbols)
	}
	if cfg.Flush.Interval != 250*time.Millisecond {
		t.Errorf("flush interval = %v", cfg.Flush.Interval)
	}
}

func TestLoad_RejectsBadConfig(t *testing.T) {
	t.Setenv("INDICATOR_FAST_PERIOD", "30") // not shorter than slow
	if _, err := Load(); err == nil {
		t.Error("expected error for fast >= slow")
	}
	t.Setenv("INDICATOR_FAST_PERIOD", "12")

	t.Setenv("FEED_MODE", "carrier-pigeon")
	if _, err := Load(); err == nil {
		t.Error("expected error for unknown feed mode")
	}
}
