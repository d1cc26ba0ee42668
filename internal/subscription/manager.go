package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"tagstream/internal/tag"
)

// Manager is the topic registry and dispatcher. It owns the mapping from tag
// to interested subscriptions, fires the activation callback when a tag gets
// its first subscriber and the deactivation callback when it loses its last,
// and routes published values to the matching subscriptions.
type Manager struct {
	mu            sync.RWMutex
	topics        map[string]*topic        // tagID -> topic
	subscriptions map[string]*Subscription // subID -> subscription
	closed        bool

	resolver       tag.Resolver
	onActivate     ActivationFunc
	onDeactivate   ActivationFunc
	match          MatchFunc
	hasSubscribers SubscriberCheckFunc
	queueCapacity  int
	dropPolicy     DropPolicy
	controlBuffer  int

	published     atomic.Uint64
	delivered     atomic.Uint64
	dropped       atomic.Uint64
	activations   atomic.Uint64
	deactivations atomic.Uint64

	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a new Manager
func NewManager(opts Options) (*Manager, error) {
	if opts.Resolver == nil {
		return nil, fmt.Errorf("%w: resolver is required", ErrInvalidArgument)
	}
	if opts.ControlBuffer <= 0 {
		opts.ControlBuffer = DefaultControlBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		topics:         make(map[string]*topic),
		subscriptions:  make(map[string]*Subscription),
		resolver:       opts.Resolver,
		onActivate:     opts.OnActivate,
		onDeactivate:   opts.OnDeactivate,
		match:          opts.Match,
		hasSubscribers: opts.HasSubscribers,
		queueCapacity:  opts.QueueCapacity,
		dropPolicy:     opts.DropPolicy,
		controlBuffer:  opts.ControlBuffer,
		logger:         opts.Logger.With().Str("component", "subscription-manager").Logger(),
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

// Subscribe creates a subscription owned by caller. The subscription lives
// until ctx is done, any WithCancellation source is done, it is disposed, or
// the manager is closed.
func (m *Manager) Subscribe(ctx context.Context, caller *tag.Caller, opts ...SubscribeOption) (*Subscription, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: nil context", ErrInvalidArgument)
	}
	if !caller.Valid() {
		return nil, ErrInvalidCaller
	}

	cfg := subscribeConfig{
		queueCapacity: m.queueCapacity,
		dropPolicy:    m.dropPolicy,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	sub := newSubscription(ctx, m, *caller, cfg)
	m.subscriptions[sub.id] = sub
	count := len(m.subscriptions)
	m.mu.Unlock()

	sub.start()

	m.logger.Debug().
		Str("subscription", sub.id).
		Str("caller", caller.String()).
		Int("subscriptions", count).
		Msg("subscription created")

	return sub, nil
}

// Unsubscribe disposes a subscription, releasing all of its tags
func (m *Manager) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return fmt.Errorf("%w: nil subscription", ErrInvalidArgument)
	}
	if sub.manager != m {
		return fmt.Errorf("%w: subscription belongs to another manager", ErrInvalidArgument)
	}
	sub.Dispose()
	return nil
}

// AddTags resolves namesOrIDs and adds them to the subscription. Activation
// callbacks for tags that gained their first subscriber have completed when
// AddTags returns. Names that cannot be resolved are skipped. It returns the
// number of tags the subscription now holds.
func (m *Manager) AddTags(ctx context.Context, sub *Subscription, namesOrIDs []string) (int, error) {
	_, total, err := m.addTags(ctx, sub, namesOrIDs)
	return total, err
}

// RemoveTags removes tags from the subscription, firing deactivation for
// tags that lost their last subscriber. Tags the subscription does not hold
// are ignored. It returns the number of tags the subscription still holds.
func (m *Manager) RemoveTags(ctx context.Context, sub *Subscription, namesOrIDs []string) (int, error) {
	_, total, err := m.removeTags(ctx, sub, namesOrIDs)
	return total, err
}

func (m *Manager) checkSubscription(sub *Subscription) error {
	if sub == nil {
		return fmt.Errorf("%w: nil subscription", ErrInvalidArgument)
	}
	if sub.manager != m {
		return fmt.Errorf("%w: subscription belongs to another manager", ErrInvalidArgument)
	}
	return nil
}

// addTags returns the tags that were actually added and the resulting count
func (m *Manager) addTags(ctx context.Context, sub *Subscription, namesOrIDs []string) ([]tag.Identifier, int, error) {
	if err := m.checkSubscription(sub); err != nil {
		return nil, 0, err
	}
	if ctx == nil {
		return nil, 0, fmt.Errorf("%w: nil context", ErrInvalidArgument)
	}
	if sub.IsDisposed() {
		return nil, 0, ErrDisposed
	}
	if len(namesOrIDs) == 0 {
		return nil, sub.TagCount(), nil
	}

	resolved, err := m.resolver.Resolve(ctx, &sub.caller, namesOrIDs)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to resolve tags: %w", err)
	}
	resolved = tag.Dedup(resolved)

	var (
		added       []tag.Identifier
		activations []transition
		barriers    []transition
	)

	m.mu.Lock()
	if sub.detached {
		m.mu.Unlock()
		return nil, 0, ErrDisposed
	}
	for _, t := range resolved {
		if _, ok := sub.tags[t.ID]; ok {
			continue
		}
		sub.tags[t.ID] = t
		added = append(added, t)

		tp, ok := m.topics[t.ID]
		if !ok {
			tp = newTopic(t)
			m.topics[t.ID] = tp
		}
		tp.subs[sub.id] = sub
		if len(tp.subs) == 1 {
			tp.issued++
			activations = append(activations, transition{topic: tp, ticket: tp.issued})
		} else {
			// joining an existing topic: still wait for any pending callback
			barriers = append(barriers, transition{topic: tp, ticket: tp.issued})
		}
	}
	total := len(sub.tags)
	m.mu.Unlock()

	m.runTransitions(ctx, activations, m.onActivate, &m.activations, "activate")
	for _, b := range barriers {
		b.topic.waitFor(b.ticket)
	}

	if sub.onAdded != nil {
		for _, t := range added {
			sub.onAdded(sub, t)
		}
	}

	if len(added) > 0 {
		sub.logger.Debug().
			Int("requested", len(namesOrIDs)).
			Int("added", len(added)).
			Int("activated", len(activations)).
			Int("total", total).
			Msg("tags added")
	}

	return added, total, nil
}

// removeTags returns the tags that were actually removed and the resulting count
func (m *Manager) removeTags(ctx context.Context, sub *Subscription, namesOrIDs []string) ([]tag.Identifier, int, error) {
	if err := m.checkSubscription(sub); err != nil {
		return nil, 0, err
	}
	if ctx == nil {
		return nil, 0, fmt.Errorf("%w: nil context", ErrInvalidArgument)
	}
	if sub.IsDisposed() {
		return nil, 0, ErrDisposed
	}
	if len(namesOrIDs) == 0 {
		return nil, sub.TagCount(), nil
	}

	// Names the subscription already knows do not need the resolver
	ids := make([]string, 0, len(namesOrIDs))
	unmatched := make([]string, 0)
	m.mu.RLock()
	for _, key := range namesOrIDs {
		if key == "" {
			continue
		}
		if _, ok := sub.tags[key]; ok {
			ids = append(ids, key)
			continue
		}
		found := false
		for id, t := range sub.tags {
			if t.Matches(key) {
				ids = append(ids, id)
				found = true
				break
			}
		}
		if !found {
			unmatched = append(unmatched, key)
		}
	}
	m.mu.RUnlock()

	if len(unmatched) > 0 {
		resolved, err := m.resolver.Resolve(ctx, &sub.caller, unmatched)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to resolve tags: %w", err)
		}
		ids = append(ids, tag.IDs(resolved)...)
	}

	m.mu.Lock()
	if sub.detached {
		m.mu.Unlock()
		return nil, 0, ErrDisposed
	}
	removed, deactivations := m.detachLocked(sub, ids)
	total := len(sub.tags)
	m.mu.Unlock()

	m.runTransitions(ctx, deactivations, m.onDeactivate, &m.deactivations, "deactivate")

	if sub.onRemoved != nil {
		for _, t := range removed {
			sub.onRemoved(sub, t)
		}
	}

	if len(removed) > 0 {
		sub.logger.Debug().
			Int("requested", len(namesOrIDs)).
			Int("removed", len(removed)).
			Int("deactivated", len(deactivations)).
			Int("total", total).
			Msg("tags removed")
	}

	return removed, total, nil
}

// detachLocked removes ids from sub and from the topics. Caller holds m.mu.
func (m *Manager) detachLocked(sub *Subscription, ids []string) ([]tag.Identifier, []transition) {
	var (
		removed       []tag.Identifier
		deactivations []transition
	)
	for _, id := range ids {
		t, ok := sub.tags[id]
		if !ok {
			continue
		}
		delete(sub.tags, id)
		removed = append(removed, t)

		tp, ok := m.topics[id]
		if !ok {
			continue
		}
		delete(tp.subs, sub.id)
		if len(tp.subs) == 0 {
			tp.issued++
			deactivations = append(deactivations, transition{topic: tp, ticket: tp.issued})
		}
	}
	return removed, deactivations
}

// release clears every tag of a disposed subscription and forgets it
func (m *Manager) release(ctx context.Context, sub *Subscription) []tag.Identifier {
	m.mu.Lock()
	if sub.detached {
		m.mu.Unlock()
		return nil
	}
	sub.detached = true
	ids := make([]string, 0, len(sub.tags))
	for id := range sub.tags {
		ids = append(ids, id)
	}
	removed, deactivations := m.detachLocked(sub, ids)
	delete(m.subscriptions, sub.id)
	m.mu.Unlock()

	m.runTransitions(ctx, deactivations, m.onDeactivate, &m.deactivations, "deactivate")
	return removed
}

// runTransitions waits for the turn of every ticket, invokes fn once for the
// whole batch and marks the tickets served. Tickets of one call are issued
// together under m.mu, so waiting on them in any order cannot deadlock.
func (m *Manager) runTransitions(ctx context.Context, ts []transition, fn ActivationFunc, counter *atomic.Uint64, kind string) {
	if len(ts) == 0 {
		return
	}

	for _, tr := range ts {
		tr.topic.waitFor(tr.ticket - 1)
	}

	tags := make([]tag.Identifier, len(ts))
	for i, tr := range ts {
		tags[i] = tr.topic.tag
	}

	func() {
		defer func() {
			for _, tr := range ts {
				tr.topic.complete(tr.ticket)
			}
			if r := recover(); r != nil {
				m.logger.Error().
					Interface("panic", r).
					Str("kind", kind).
					Strs("tags", tag.IDs(tags)).
					Msg("tag callback panicked")
			}
		}()

		counter.Add(uint64(len(tags)))
		if fn == nil {
			return
		}
		// the callback must run even when the caller has gone away
		if err := fn(context.WithoutCancel(ctx), tags); err != nil {
			m.logger.Warn().
				Err(err).
				Str("kind", kind).
				Strs("tags", tag.IDs(tags)).
				Msg("tag callback failed")
		}
	}()

	m.logger.Debug().
		Str("kind", kind).
		Strs("tags", tag.IDs(tags)).
		Msg("tags transitioned")

	m.pruneTopics(ts)
}

// pruneTopics drops topics that have no subscribers and no pending callbacks
func (m *Manager) pruneTopics(ts []transition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tr := range ts {
		tp := tr.topic
		if len(tp.subs) != 0 || !tp.isServed(tp.issued) {
			continue
		}
		if m.topics[tp.tag.ID] == tp {
			delete(m.topics, tp.tag.ID)
		}
	}
}

// Publish routes a value to every subscription interested in its tag. It
// never blocks: subscriptions with a full queue lose a value according to
// their drop policy. It returns the number of subscriptions the value was
// offered to.
func (m *Manager) Publish(v tag.Value) int {
	if v.Tag.IsZero() {
		return 0
	}

	targets := m.matching(v.Tag)
	m.published.Add(1)

	for _, sub := range targets {
		if sub.queue.Push(v) {
			m.delivered.Add(1)
			continue
		}
		if sub.queue.Closed() {
			continue
		}
		m.dropped.Add(1)
		if sub.queue.policy == DropOldest {
			m.delivered.Add(1)
		}
		sub.logger.Debug().
			Str("tag", v.Tag.ID).
			Str("policy", sub.queue.policy.String()).
			Msg("output queue full, dropped value")
	}

	return len(targets)
}

// PublishBatch publishes every value and returns the total number of deliveries
func (m *Manager) PublishBatch(values []tag.Value) int {
	total := 0
	for _, v := range values {
		total += m.Publish(v)
	}
	return total
}

// matching snapshots the subscriptions that want t
func (m *Manager) matching(t tag.Identifier) []*Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.match == nil {
		tp, ok := m.topics[t.ID]
		if !ok || len(tp.subs) == 0 {
			return nil
		}
		result := make([]*Subscription, 0, len(tp.subs))
		for _, sub := range tp.subs {
			result = append(result, sub)
		}
		return result
	}

	var result []*Subscription
	seen := make(map[string]struct{})
	for _, tp := range m.topics {
		if len(tp.subs) == 0 || !m.match(tp.tag, t) {
			continue
		}
		for id, sub := range tp.subs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			result = append(result, sub)
		}
	}
	return result
}

// HasSubscribers reports whether anyone wants values for tagID
func (m *Manager) HasSubscribers(tagID string) bool {
	if m.hasSubscribers != nil {
		return m.hasSubscribers(tagID, m.ActiveTags())
	}
	return m.SubscriberCount(tagID) > 0
}

// SubscriberCount returns the number of subscriptions holding tagID
func (m *Manager) SubscriberCount(tagID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tp, ok := m.topics[tagID]
	if !ok {
		return 0
	}
	return len(tp.subs)
}

// ActiveTags returns every tag with at least one subscriber
func (m *Manager) ActiveTags() []tag.Identifier {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]tag.Identifier, 0, len(m.topics))
	for _, tp := range m.topics {
		if len(tp.subs) > 0 {
			result = append(result, tp.tag)
		}
	}
	return result
}

// Get returns a subscription by ID
func (m *Manager) Get(id string) (*Subscription, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subscriptions[id]
	return sub, ok
}

// Count returns the number of live subscriptions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Stats returns the current counters
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	subs := len(m.subscriptions)
	topics := 0
	for _, tp := range m.topics {
		if len(tp.subs) > 0 {
			topics++
		}
	}
	m.mu.RUnlock()

	return Stats{
		Subscriptions: subs,
		Topics:        topics,
		Published:     m.published.Load(),
		Delivered:     m.delivered.Load(),
		Dropped:       m.dropped.Load(),
		Activations:   m.activations.Load(),
		Deactivations: m.deactivations.Load(),
	}
}

// Close disposes every subscription and rejects new ones. Deactivation
// callbacks for all remaining tags have run when Close returns.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	subs := make([]*Subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	m.cancel()
	for _, sub := range subs {
		sub.Dispose()
	}

	m.logger.Info().Int("subscriptions", len(subs)).Msg("subscription manager closed")
}

// isBenign reports errors that only mean the subscription is going away
func isBenign(err error) bool {
	return errors.Is(err, ErrDisposed) ||
		errors.Is(err, ErrClosed) ||
		errors.Is(err, context.Canceled)
}
