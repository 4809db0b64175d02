package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// chdirTemp moves into an empty directory so no stray .env file is loaded.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != ModeAll {
		t.Errorf("Mode: got %q, want all", cfg.Mode)
	}
	if cfg.Port != 10000 {
		t.Errorf("Port: got %d, want 10000", cfg.Port)
	}
	if cfg.SweepInterval != 120*time.Second {
		t.Errorf("SweepInterval: got %s, want 2m0s", cfg.SweepInterval)
	}
	if cfg.DedupStrategy != StrategyInsertAndCatchConflict {
		t.Errorf("DedupStrategy: got %q", cfg.DedupStrategy)
	}
	if cfg.FeedAppID != 730 || cfg.FeedCurrency != "EUR" || cfg.FeedLocale != "en" {
		t.Errorf("feed filter: got %d/%s/%s", cfg.FeedAppID, cfg.FeedCurrency, cfg.FeedLocale)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("MODE", "server")
	t.Setenv("PORT", "8081")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("DEDUP_STRATEGY", StrategyCheckThenInsert)
	t.Setenv("SWEEP_INTERVAL", "30")
	t.Setenv("FEED_RECONNECT", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != ModeServer || cfg.Port != 8081 || cfg.StoreDriver != DriverMemory {
		t.Errorf("got mode=%q port=%d driver=%q", cfg.Mode, cfg.Port, cfg.StoreDriver)
	}
	if cfg.DedupStrategy != StrategyCheckThenInsert {
		t.Errorf("DedupStrategy: got %q", cfg.DedupStrategy)
	}
	if cfg.SweepInterval != 30*time.Second {
		t.Errorf("SweepInterval: got %s, want 30s", cfg.SweepInterval)
	}
	if cfg.FeedReconnect {
		t.Error("FeedReconnect: got true, want false")
	}
}

func TestLoadYAMLFileThenEnv(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "salefeed.yaml")
	yml := `
mode: listener
relay_url: http://ingest:9000/receiveSaleFeed
relay_timeout: 5s
feed_currency: USD
sweep_interval: 10m
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("FEED_CURRENCY", "GBP")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != ModeListener {
		t.Errorf("Mode: got %q, want listener", cfg.Mode)
	}
	if cfg.RelayURL != "http://ingest:9000/receiveSaleFeed" {
		t.Errorf("RelayURL: got %q", cfg.RelayURL)
	}
	if cfg.RelayTimeout != 5*time.Second {
		t.Errorf("RelayTimeout: got %s, want 5s", cfg.RelayTimeout)
	}
	if cfg.SweepInterval != 10*time.Minute {
		t.Errorf("SweepInterval: got %s, want 10m", cfg.SweepInterval)
	}
	if cfg.FeedCurrency != "GBP" {
		t.Errorf("FeedCurrency: env should win, got %q", cfg.FeedCurrency)
	}
	if cfg.FeedLocale != "en" {
		t.Errorf("FeedLocale: default should survive, got %q", cfg.FeedLocale)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	chdirTemp(t)
	t.Setenv("PORT", "ten")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "PORT") {
		t.Fatalf("Load: got %v, want PORT error", err)
	}
}

func TestLoadRejectsOverflowingSweepInterval(t *testing.T) {
	chdirTemp(t)

	// Both values overflow time.Duration once scaled to seconds; the first
	// would otherwise wrap around to roughly 1.29s.
	for _, val := range []string{"18446744075", "18446744073", "9223372037", "-5"} {
		t.Setenv("SWEEP_INTERVAL", val)
		cfg, err := Load()
		if err == nil {
			t.Errorf("SWEEP_INTERVAL=%s: accepted as %s, want error", val, cfg.SweepInterval)
			continue
		}
		if !strings.Contains(err.Error(), "SWEEP_INTERVAL") {
			t.Errorf("SWEEP_INTERVAL=%s: error %v does not name the variable", val, err)
		}
	}
}

func TestLoadAcceptsLargestSweepIntervalInSeconds(t *testing.T) {
	chdirTemp(t)
	t.Setenv("SWEEP_INTERVAL", "86400")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SweepInterval != 24*time.Hour {
		t.Errorf("SweepInterval: got %s, want 24h0m0s", cfg.SweepInterval)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"unknown mode", func(c *Config) { c.Mode = "both" }, "MODE"},
		{"unknown driver", func(c *Config) { c.StoreDriver = "sqlite" }, "STORE_DRIVER"},
		{"unknown strategy", func(c *Config) { c.DedupStrategy = "upsert" }, "DEDUP_STRATEGY"},
		{"sweep interval too large", func(c *Config) { c.SweepInterval = 1200000 * time.Second }, "SWEEP_INTERVAL"},
		{"sweep interval zero", func(c *Config) { c.SweepInterval = 0 }, "SWEEP_INTERVAL"},
		{"disabled sweep ignores interval", func(c *Config) { c.SweepEnabled = false; c.SweepInterval = 0 }, ""},
		{"listener needs relay url", func(c *Config) { c.RelayURL = "" }, "RELAY_URL"},
		{"negative relay concurrency", func(c *Config) { c.RelayConcurrency = -1 }, "RELAY_CONCURRENCY"},
		{"unbounded relay concurrency", func(c *Config) { c.RelayConcurrency = 0 }, ""},
		{"server mode skips listener checks", func(c *Config) { c.Mode = ModeServer; c.RelayURL = "" }, ""},
		{"listener mode skips server checks", func(c *Config) { c.Mode = ModeListener; c.StoreDriver = "?" }, ""},
	}

	for _, tt := range tests {
		c := Defaults()
		tt.mutate(c)
		err := c.Validate()
		if tt.wantErr == "" {
			if err != nil {
				t.Errorf("%s: unexpected error %v", tt.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
			t.Errorf("%s: got %v, want error mentioning %s", tt.name, err, tt.wantErr)
		}
	}
}

func TestDSN(t *testing.T) {
	c := Defaults()
	c.PostgresHost = "db"
	want := "host=db port=5432 user=salefeed password=salefeed dbname=salefeed sslmode=disable"
	if got := c.DSN(); got != want {
		t.Errorf("DSN: got %q, want %q", got, want)
	}
}
