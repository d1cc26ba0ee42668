package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from JSON bytes
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.WSPort == 0 {
		cfg.WSPort = DefaultWSPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.CatalogPath == "" {
		cfg.CatalogPath = DefaultCatalogPath
	}
	// negative QueueCapacity is kept, it means unbounded
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.DropPolicy == "" {
		cfg.DropPolicy = DefaultDropPolicy
	}
	if cfg.ControlBuffer == 0 {
		cfg.ControlBuffer = DefaultControlBuffer
	}
	if cfg.MaxSubscriptionsPerClient == 0 {
		cfg.MaxSubscriptionsPerClient = DefaultMaxSubscriptionsPerClient
	}
	if cfg.StatsLogInterval == 0 {
		cfg.StatsLogInterval = DefaultStatsLogInterval
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	if cfg.Polling == nil {
		cfg.Polling = &PollingConfig{}
	}
	if cfg.Polling.Interval <= 0 {
		cfg.Polling.Interval = DefaultPollingInterval
	}
	if cfg.Polling.PageSize <= 0 {
		cfg.Polling.PageSize = DefaultPollingPageSize
	}
	if cfg.Polling.ChangeCacheSize == 0 {
		cfg.Polling.ChangeCacheSize = DefaultChangeCacheSize
	}

	if cfg.Resolver == nil {
		cfg.Resolver = &ResolverConfig{
			CacheSize: DefaultResolverCacheSize,
			CacheTTL:  DefaultResolverCacheTTL,
		}
	}
}

// validate checks the configuration for errors
func validate(cfg *Config) error {
	if cfg.WSPort < 1 || cfg.WSPort > 65535 {
		return fmt.Errorf("wsPort must be between 1 and 65535")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("logLevel must be one of: debug, info, warn, error")
	}

	if cfg.DropPolicy != "oldest" && cfg.DropPolicy != "newest" {
		return fmt.Errorf("dropPolicy must be 'oldest' or 'newest'")
	}

	if cfg.ControlBuffer < 0 {
		return fmt.Errorf("controlBuffer must be non-negative")
	}

	if cfg.MaxSubscriptionsPerClient < 0 {
		return fmt.Errorf("maxSubscriptionsPerClient must be non-negative")
	}

	if cfg.StatsLogInterval < 0 {
		return fmt.Errorf("statsLogInterval must be non-negative")
	}

	if cfg.WriteTimeout < 0 {
		return fmt.Errorf("writeTimeout must be non-negative")
	}

	if cfg.Polling.ReadTimeout < 0 {
		return fmt.Errorf("polling.readTimeout must be non-negative")
	}

	if cfg.Polling.ChangeCacheSize < 0 {
		return fmt.Errorf("polling.changeCacheSize must be non-negative")
	}

	if cfg.Resolver.CacheSize < 0 {
		return fmt.Errorf("resolver.cacheSize must be non-negative")
	}

	if cfg.Resolver.CacheTTL < 0 {
		return fmt.Errorf("resolver.cacheTTL must be non-negative")
	}

	return nil
}
