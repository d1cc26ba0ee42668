package polling

import (
	"context"
	"errors"
	"time"

	"tagstream/internal/tag"
)

// Default values
const (
	DefaultInterval        = 60 * time.Second
	DefaultPageSize        = 100
	DefaultChangeCacheSize = 10000
)

// ErrClosed is returned by an adapter that has been shut down
var ErrClosed = errors.New("polling: adapter closed")

// SnapshotReader is a pull-only source of current tag values. It may return
// values in any order and need not return one value per requested ID.
type SnapshotReader interface {
	ReadSnapshot(ctx context.Context, caller *tag.Caller, tagIDs []string) ([]tag.Value, error)
}

// SnapshotReaderFunc adapts a function to the SnapshotReader interface
type SnapshotReaderFunc func(ctx context.Context, caller *tag.Caller, tagIDs []string) ([]tag.Value, error)

// ReadSnapshot implements SnapshotReader
func (f SnapshotReaderFunc) ReadSnapshot(ctx context.Context, caller *tag.Caller, tagIDs []string) ([]tag.Value, error) {
	return f(ctx, caller, tagIDs)
}

// Publisher receives the values read by the adapter, one page at a time
type Publisher interface {
	PublishBatch(values []tag.Value) int
}

// Config configures an Adapter
type Config struct {
	// Interval between poll cycles; <= 0 means DefaultInterval
	Interval time.Duration
	// PageSize bounds the number of tags in a single read; <= 0 means DefaultPageSize
	PageSize int
	// ReadTimeout bounds a single read; 0 disables it
	ReadTimeout time.Duration
	// Caller is the identity reads are made with
	Caller tag.Caller
	// SuppressUnchanged skips values whose payload and quality did not
	// change since the last publish of the same tag
	SuppressUnchanged bool
	ChangeCacheSize   int
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.ReadTimeout < 0 {
		c.ReadTimeout = 0
	}
	if c.ChangeCacheSize <= 0 {
		c.ChangeCacheSize = DefaultChangeCacheSize
	}
	if c.Caller.ID == "" {
		c.Caller = tag.Caller{ID: "polling", Name: "poller"}
	}
}

// Stats is a point-in-time view of the adapter counters
type Stats struct {
	Tags       int    `json:"tags"`
	Cycles     uint64 `json:"cycles"`
	Reads      uint64 `json:"reads"`
	Errors     uint64 `json:"errors"`
	Published  uint64 `json:"published"`
	Suppressed uint64 `json:"suppressed"`
}
