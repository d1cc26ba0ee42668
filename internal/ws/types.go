package ws

import (
	"time"

	"tagstream/internal/tag"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024 // 1MB
	sendBufferSize = 256

	defaultWriteWait = 10 * time.Second
	defaultListLimit = 100
)

// TagLister lists the tags a client may subscribe to
type TagLister interface {
	Search(query string, limit int) []tag.Identifier
}

// Options configures a Handler
type Options struct {
	// MaxSubscriptionsPerClient limits subscriptions per connection; 0 disables the limit
	MaxSubscriptionsPerClient int
	// WriteTimeout bounds a single write to the connection
	WriteTimeout time.Duration
	// Lister serves tags_list; nil disables the method
	Lister TagLister
}
