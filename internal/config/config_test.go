package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Session.TTL != "24h" {
		t.Errorf("session.ttl = %q, want 24h", cfg.Session.TTL)
	}
	if cfg.Usage.DailyLimit != "5m" {
		t.Errorf("usage.daily_limit = %q, want 5m", cfg.Usage.DailyLimit)
	}
	if cfg.RateLimit.MaxRequests != 10 || cfg.RateLimit.Window != "1m" {
		t.Errorf("rate_limit = %d per %s, want 10 per 1m", cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("storage.type = %q, want memory", cfg.Storage.Type)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
usage:
  daily_limit: 10m
  cost_mode: elapsed
rate_limit:
  max_requests: 20
`)
	t.Setenv("CHATGATE_RATE_LIMIT_WINDOW", "30s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Usage.DailyLimit != "10m" || cfg.Usage.CostMode != "elapsed" {
		t.Errorf("usage = %+v", cfg.Usage)
	}
	if cfg.RateLimit.MaxRequests != 20 {
		t.Errorf("max_requests = %d, want 20", cfg.RateLimit.MaxRequests)
	}
	if cfg.RateLimit.Window != "30s" {
		t.Errorf("window = %q, want 30s from env", cfg.RateLimit.Window)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad duration", func(c *Config) { c.Session.TTL = "forever" }, "session.ttl"},
		{"zero duration", func(c *Config) { c.RateLimit.Window = "0s" }, "must be positive"},
		{"bad reset time", func(c *Config) { c.Usage.DailyResetTime = "25:00" }, "daily_reset_time"},
		{"bad cost mode", func(c *Config) { c.Usage.CostMode = "tokens" }, "cost_mode"},
		{"zero requests", func(c *Config) { c.RateLimit.MaxRequests = 0 }, "max_requests"},
		{"multiplier", func(c *Config) { c.RateLimit.UnknownBucketMultiplier = 0 }, "multiplier"},
		{"storage type", func(c *Config) { c.Storage.Type = "bolt" }, "storage.type"},
		{"admin without token", func(c *Config) { c.Admin.Enabled = true }, "admin.token"},
		{"admin with token", func(c *Config) { c.Admin.Enabled = true; c.Admin.Token = "s3cret" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestKnownKeys(t *testing.T) {
	keys := KnownKeys()

	want := []string{"session.ttl", "admin.token", "storage.redis.key_prefix"}
	for _, w := range want {
		found := false
		for _, k := range keys {
			if k == w {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("KnownKeys() missing %q", w)
		}
	}
}
