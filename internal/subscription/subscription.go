package subscription

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tagstream/internal/tag"
)

// Subscription is one caller's live interest set together with the output
// queue its values are delivered to. Changes submitted through Submit are
// applied one at a time, in submission order, by the subscription's own loop.
type Subscription struct {
	id        string
	caller    tag.Caller
	manager   *Manager
	createdAt time.Time

	// guarded by manager.mu
	tags     map[string]tag.Identifier
	detached bool

	queue *Queue

	control       chan *ChangeRequest
	controlMu     sync.RWMutex
	controlClosed bool

	onAdded   TagHook
	onRemoved TagHook

	ctx    context.Context
	cancel context.CancelFunc

	state       atomic.Int32
	disposeOnce sync.Once
	done        chan struct{}

	logger zerolog.Logger
}

func newSubscription(owner context.Context, m *Manager, caller tag.Caller, cfg subscribeConfig) *Subscription {
	id := uuid.NewString()
	ctx, cancel := mergeContexts(owner, append([]context.Context{m.ctx}, cfg.cancel...)...)

	return &Subscription{
		id:        id,
		caller:    caller,
		manager:   m,
		createdAt: time.Now(),
		tags:      make(map[string]tag.Identifier),
		queue:     NewQueue(cfg.queueCapacity, cfg.dropPolicy),
		control:   make(chan *ChangeRequest, m.controlBuffer),
		onAdded:   cfg.onAdded,
		onRemoved: cfg.onRemoved,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		logger: m.logger.With().
			Str("subscription", id).
			Str("caller", caller.String()).
			Logger(),
	}
}

func (s *Subscription) start() {
	go s.run()
}

// run applies change requests until the control input is closed, the
// output queue is closed or a cancellation source fires
func (s *Subscription) run() {
	defer close(s.done)
	defer s.Dispose()

	s.state.CompareAndSwap(int32(StateCreated), int32(StateRunning))

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.queue.closeChan:
			return
		case req, ok := <-s.control:
			if !ok {
				return
			}
			s.apply(req)
		}
	}
}

func (s *Subscription) apply(req *ChangeRequest) {
	var (
		changed []tag.Identifier
		err     error
	)

	switch req.Action {
	case ActionSubscribe:
		changed, _, err = s.manager.addTags(s.ctx, s, []string{req.Tag})
	case ActionUnsubscribe:
		changed, _, err = s.manager.removeTags(s.ctx, s, []string{req.Tag})
	default:
		err = fmt.Errorf("%w: unknown action %d", ErrInvalidArgument, int(req.Action))
	}

	if err != nil && !isBenign(err) {
		s.logger.Warn().
			Err(err).
			Str("tag", req.Tag).
			Str("action", req.Action.String()).
			Msg("change request failed")
	}

	req.complete(len(changed) > 0, err)
}

// Submit queues a change request. It blocks while the control buffer is
// full and fails with ErrDisposed once the subscription is gone.
func (s *Subscription) Submit(ctx context.Context, req *ChangeRequest) error {
	if req == nil || req.done == nil {
		return fmt.Errorf("%w: request must be created with NewChangeRequest", ErrInvalidArgument)
	}

	s.controlMu.RLock()
	defer s.controlMu.RUnlock()

	if s.controlClosed {
		return ErrDisposed
	}

	select {
	case s.control <- req:
		return nil
	case <-s.ctx.Done():
		return ErrDisposed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddTag submits a subscribe request and waits for it to be applied
func (s *Subscription) AddTag(ctx context.Context, nameOrID string) (bool, error) {
	return s.change(ctx, nameOrID, ActionSubscribe)
}

// RemoveTag submits an unsubscribe request and waits for it to be applied
func (s *Subscription) RemoveTag(ctx context.Context, nameOrID string) (bool, error) {
	return s.change(ctx, nameOrID, ActionUnsubscribe)
}

func (s *Subscription) change(ctx context.Context, nameOrID string, action Action) (bool, error) {
	req := NewChangeRequest(nameOrID, action)
	if err := s.Submit(ctx, req); err != nil {
		return false, err
	}
	return req.Wait(ctx)
}

// Complete closes the control input. Requests already submitted are still
// applied, then the subscription is disposed.
func (s *Subscription) Complete() {
	s.controlMu.Lock()
	defer s.controlMu.Unlock()
	if s.controlClosed {
		return
	}
	s.controlClosed = true
	close(s.control)
}

// Receive waits for the next value. It returns ErrQueueClosed once the
// subscription is disposed and every queued value has been read.
func (s *Subscription) Receive(ctx context.Context) (tag.Value, error) {
	return s.queue.Pop(ctx)
}

// TryReceive returns the next value if one is queued
func (s *Subscription) TryReceive() (tag.Value, bool) {
	return s.queue.TryPop()
}

// Dispose releases every tag of the subscription, closes its output queue
// and fails pending change requests. It is safe to call more than once.
func (s *Subscription) Dispose() {
	s.disposeOnce.Do(func() {
		s.state.Store(int32(StateDisposed))
		s.cancel()

		removed := s.manager.release(s.ctx, s)
		if s.onRemoved != nil {
			for _, t := range removed {
				s.onRemoved(s, t)
			}
		}

		s.queue.Close()

		s.controlMu.Lock()
		if !s.controlClosed {
			s.controlClosed = true
			close(s.control)
		}
		s.controlMu.Unlock()

		for req := range s.control {
			req.complete(false, ErrDisposed)
		}

		s.logger.Debug().
			Int("released", len(removed)).
			Uint64("dropped", s.queue.Dropped()).
			Dur("lifetime", time.Since(s.createdAt)).
			Msg("subscription disposed")
	})
}

// ID returns the subscription ID
func (s *Subscription) ID() string {
	return s.id
}

// Caller returns the identity the subscription was created for
func (s *Subscription) Caller() tag.Caller {
	return s.caller
}

// State returns the lifecycle state
func (s *Subscription) State() State {
	return State(s.state.Load())
}

// IsDisposed returns true once Dispose has started
func (s *Subscription) IsDisposed() bool {
	return s.State() == StateDisposed
}

// Done is closed when the subscription has been disposed and its loop has exited
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Queue returns the output queue
func (s *Subscription) Queue() *Queue {
	return s.queue
}

// Tags returns a snapshot of the subscribed tags
func (s *Subscription) Tags() []tag.Identifier {
	s.manager.mu.RLock()
	defer s.manager.mu.RUnlock()
	result := make([]tag.Identifier, 0, len(s.tags))
	for _, t := range s.tags {
		result = append(result, t)
	}
	return result
}

// TagCount returns the number of subscribed tags
func (s *Subscription) TagCount() int {
	s.manager.mu.RLock()
	defer s.manager.mu.RUnlock()
	return len(s.tags)
}

// HasTag reports whether the subscription holds tagID
func (s *Subscription) HasTag(tagID string) bool {
	s.manager.mu.RLock()
	defer s.manager.mu.RUnlock()
	_, ok := s.tags[tagID]
	return ok
}
