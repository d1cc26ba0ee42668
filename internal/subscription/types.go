package subscription

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"tagstream/internal/tag"
)

// ActivationFunc is called when tags gain their first subscriber (activate)
// or lose their last one (deactivate). AddTags and RemoveTags wait for it to
// return, so it should be quick.
type ActivationFunc func(ctx context.Context, tags []tag.Identifier) error

// MatchFunc decides whether an incoming value for a tag should be routed to
// subscribers of a subscribed tag.
type MatchFunc func(subscribed, incoming tag.Identifier) bool

// SubscriberCheckFunc decides whether a tag is wanted by anyone. It receives
// the tags that currently have at least one subscriber.
type SubscriberCheckFunc func(tagID string, active []tag.Identifier) bool

// TagHook is invoked after a tag was added to or removed from a subscription
type TagHook func(sub *Subscription, t tag.Identifier)

// ExactMatch is the default MatchFunc: tags match when their IDs are equal
func ExactMatch(subscribed, incoming tag.Identifier) bool {
	return subscribed.ID == incoming.ID
}

// DropPolicy selects which value is discarded when an output queue is full
type DropPolicy int

const (
	// DropOldest discards the oldest queued value to make room
	DropOldest DropPolicy = iota
	// DropNewest discards the value being pushed
	DropNewest
)

func (p DropPolicy) String() string {
	switch p {
	case DropOldest:
		return "oldest"
	case DropNewest:
		return "newest"
	default:
		return fmt.Sprintf("DropPolicy(%d)", int(p))
	}
}

// ParseDropPolicy parses "oldest" or "newest"
func ParseDropPolicy(s string) (DropPolicy, error) {
	switch s {
	case "", "oldest":
		return DropOldest, nil
	case "newest":
		return DropNewest, nil
	default:
		return DropOldest, fmt.Errorf("unknown drop policy %q", s)
	}
}

// State is the lifecycle state of a subscription
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Action is the kind of change a ChangeRequest asks for
type Action int

const (
	ActionSubscribe Action = iota
	ActionUnsubscribe
)

func (a Action) String() string {
	switch a {
	case ActionSubscribe:
		return "subscribe"
	case ActionUnsubscribe:
		return "unsubscribe"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Default values
const (
	DefaultControlBuffer = 16
)

// Options configures a Manager
type Options struct {
	// Resolver maps names and IDs to tags. Required.
	Resolver tag.Resolver

	OnActivate   ActivationFunc
	OnDeactivate ActivationFunc

	// Match routes published values. Nil means exact ID equality.
	Match MatchFunc

	// HasSubscribers overrides the "is this tag wanted" check
	HasSubscribers SubscriberCheckFunc

	// QueueCapacity is the default output queue capacity; <= 0 is unbounded
	QueueCapacity int
	DropPolicy    DropPolicy

	// ControlBuffer is the number of change requests that can be queued
	// before Submit blocks
	ControlBuffer int

	Logger zerolog.Logger
}

// Stats is a point-in-time view of the manager counters
type Stats struct {
	Subscriptions int    `json:"subscriptions"`
	Topics        int    `json:"topics"`
	Published     uint64 `json:"published"`
	Delivered     uint64 `json:"delivered"`
	Dropped       uint64 `json:"dropped"`
	Activations   uint64 `json:"activations"`
	Deactivations uint64 `json:"deactivations"`
}

// subscribeConfig holds per-subscription settings
type subscribeConfig struct {
	queueCapacity int
	dropPolicy    DropPolicy
	cancel        []context.Context
	onAdded       TagHook
	onRemoved     TagHook
}

// SubscribeOption customises a single subscription
type SubscribeOption func(*subscribeConfig)

// WithCancellation adds cancellation sources. The subscription is disposed
// as soon as any of them (or the owner context) is done.
func WithCancellation(ctxs ...context.Context) SubscribeOption {
	return func(c *subscribeConfig) {
		c.cancel = append(c.cancel, ctxs...)
	}
}

// WithTagHooks sets callbacks fired after tags are added to or removed from
// the subscription. Either may be nil.
func WithTagHooks(onAdded, onRemoved TagHook) SubscribeOption {
	return func(c *subscribeConfig) {
		c.onAdded = onAdded
		c.onRemoved = onRemoved
	}
}

// WithQueueCapacity overrides the output queue capacity; <= 0 is unbounded
func WithQueueCapacity(n int) SubscribeOption {
	return func(c *subscribeConfig) {
		c.queueCapacity = n
	}
}

// WithDropPolicy overrides the drop policy of the output queue
func WithDropPolicy(p DropPolicy) SubscribeOption {
	return func(c *subscribeConfig) {
		c.dropPolicy = p
	}
}
