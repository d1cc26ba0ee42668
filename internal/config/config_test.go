package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`{}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Host != DefaultHost {
		t.Errorf("Host = %s, want %s", cfg.Host, DefaultHost)
	}
	if cfg.WSPort != DefaultWSPort {
		t.Errorf("WSPort = %d, want %d", cfg.WSPort, DefaultWSPort)
	}
	if cfg.GetQueueCapacity() != DefaultQueueCapacity {
		t.Errorf("QueueCapacity = %d, want %d", cfg.GetQueueCapacity(), DefaultQueueCapacity)
	}
	if cfg.DropPolicy != "oldest" {
		t.Errorf("DropPolicy = %s, want oldest", cfg.DropPolicy)
	}
	if cfg.Polling.GetIntervalDuration() != time.Minute {
		t.Errorf("Polling.Interval = %s, want 1m", cfg.Polling.GetIntervalDuration())
	}
	if cfg.Polling.PageSize != 100 {
		t.Errorf("Polling.PageSize = %d, want 100", cfg.Polling.PageSize)
	}
	if cfg.Resolver.CacheSize != DefaultResolverCacheSize {
		t.Errorf("Resolver.CacheSize = %d, want %d", cfg.Resolver.CacheSize, DefaultResolverCacheSize)
	}
	if cfg.Resolver.GetCacheTTLDuration() != 5*time.Minute {
		t.Errorf("Resolver.CacheTTL = %s, want 5m", cfg.Resolver.GetCacheTTLDuration())
	}
}

func TestParse_Values(t *testing.T) {
	cfg, err := Parse([]byte(`{
		"host": "0.0.0.0",
		"wsPort": 9000,
		"logLevel": "debug",
		"queueCapacity": -1,
		"dropPolicy": "newest",
		"polling": {"interval": 0, "pageSize": 25, "readTimeout": 1500, "suppressUnchanged": true},
		"resolver": {"cacheSize": 0}
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.GetQueueCapacity() != 0 {
		t.Errorf("QueueCapacity = %d, want 0 (unbounded)", cfg.GetQueueCapacity())
	}
	if cfg.Polling.GetIntervalDuration() != time.Minute {
		t.Errorf("non-positive interval not replaced: %s", cfg.Polling.GetIntervalDuration())
	}
	if cfg.Polling.PageSize != 25 || !cfg.Polling.SuppressUnchanged {
		t.Errorf("Polling = %+v", cfg.Polling)
	}
	if cfg.Polling.GetReadTimeoutDuration() != 1500*time.Millisecond {
		t.Errorf("ReadTimeout = %s", cfg.Polling.GetReadTimeoutDuration())
	}
	if cfg.Resolver.CacheSize != 0 {
		t.Errorf("Resolver.CacheSize = %d, want 0", cfg.Resolver.CacheSize)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		json string
		want string
	}{
		{"bad json", `{`, "failed to parse config"},
		{"port", `{"wsPort": 70000}`, "wsPort"},
		{"log level", `{"logLevel": "trace"}`, "logLevel"},
		{"drop policy", `{"dropPolicy": "random"}`, "dropPolicy"},
		{"read timeout", `{"polling": {"readTimeout": -1}}`, "polling.readTimeout"},
		{"resolver ttl", `{"resolver": {"cacheTTL": -5}}`, "resolver.cacheTTL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.json))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"wsPort": 9100}`), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WSPort != 9100 {
		t.Errorf("WSPort = %d, want 9100", cfg.WSPort)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Load of missing file succeeded")
	}
}

func TestConfig_QueueCapacity(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{`{}`, DefaultQueueCapacity},
		{`{"queueCapacity": 0}`, DefaultQueueCapacity},
		{`{"queueCapacity": 5}`, 5},
		{`{"queueCapacity": -1}`, 0},
	}
	for _, tt := range tests {
		cfg, err := Parse([]byte(tt.raw))
		if err != nil {
			t.Fatalf("Parse(%s): %v", tt.raw, err)
		}
		if got := cfg.GetQueueCapacity(); got != tt.want {
			t.Errorf("Parse(%s): GetQueueCapacity = %d, want %d", tt.raw, got, tt.want)
		}
	}
}
