package config

import "time"

// Config represents the main configuration structure.
//
// QueueCapacity differs from subscription.Options: in the file 0 selects
// DefaultQueueCapacity and only a negative value makes queues unbounded.
type Config struct {
	Host                      string          `json:"host"`
	WSPort                    int             `json:"wsPort"`
	LogLevel                  string          `json:"logLevel"`
	CatalogPath               string          `json:"catalogPath"`
	QueueCapacity             int             `json:"queueCapacity"` // values per subscription, 0 selects the default, negative means unbounded
	DropPolicy                string          `json:"dropPolicy"`    // oldest or newest
	ControlBuffer             int             `json:"controlBuffer"`
	MaxSubscriptionsPerClient int             `json:"maxSubscriptionsPerClient"`
	StatsLogInterval          int             `json:"statsLogInterval"` // ms
	WriteTimeout              int             `json:"writeTimeout"`     // ms - timeout for writing a message to a client
	Polling                   *PollingConfig  `json:"polling,omitempty"`
	Resolver                  *ResolverConfig `json:"resolver,omitempty"`
}

// PollingConfig represents polling adapter configuration
type PollingConfig struct {
	Interval          int  `json:"interval"`    // ms
	PageSize          int  `json:"pageSize"`    // tags per read
	ReadTimeout       int  `json:"readTimeout"` // ms, 0 disables
	SuppressUnchanged bool `json:"suppressUnchanged"`
	ChangeCacheSize   int  `json:"changeCacheSize"`
}

// ResolverConfig represents tag resolver cache configuration
type ResolverConfig struct {
	CacheSize int `json:"cacheSize"` // number of entries, 0 disables caching
	CacheTTL  int `json:"cacheTTL"`  // seconds, 0 means no expiry
}

// Default values
const (
	DefaultHost                      = "localhost"
	DefaultWSPort                    = 8546
	DefaultLogLevel                  = "info"
	DefaultCatalogPath               = "./catalog.yaml"
	DefaultQueueCapacity             = 1000
	DefaultDropPolicy                = "oldest"
	DefaultControlBuffer             = 16
	DefaultMaxSubscriptionsPerClient = 100
	DefaultStatsLogInterval          = 60000 // ms
	DefaultWriteTimeout              = 10000 // ms
	DefaultPollingInterval           = 60000 // ms
	DefaultPollingPageSize           = 100
	DefaultChangeCacheSize           = 10000
	DefaultResolverCacheSize         = 10000
	DefaultResolverCacheTTL          = 300 // seconds
)

// GetStatsLogIntervalDuration returns stats log interval as time.Duration
func (c *Config) GetStatsLogIntervalDuration() time.Duration {
	return time.Duration(c.StatsLogInterval) * time.Millisecond
}

// GetWriteTimeoutDuration returns write timeout as time.Duration
func (c *Config) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(c.WriteTimeout) * time.Millisecond
}

// GetQueueCapacity returns the output queue capacity, 0 meaning unbounded
func (c *Config) GetQueueCapacity() int {
	if c.QueueCapacity < 0 {
		return 0
	}
	return c.QueueCapacity
}

// GetIntervalDuration returns polling interval as time.Duration
func (c *PollingConfig) GetIntervalDuration() time.Duration {
	return time.Duration(c.Interval) * time.Millisecond
}

// GetReadTimeoutDuration returns read timeout as time.Duration
func (c *PollingConfig) GetReadTimeoutDuration() time.Duration {
	return time.Duration(c.ReadTimeout) * time.Millisecond
}

// GetCacheTTLDuration returns resolver cache TTL as time.Duration
func (c *ResolverConfig) GetCacheTTLDuration() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}
