package polling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"tagstream/internal/subscription"
	"tagstream/internal/tag"
)

// Adapter emulates push on top of a pull-only SnapshotReader. It keeps the
// union of tags anyone wants, re-reads them every interval and publishes the
// results. Newly activated tags are read once immediately.
type Adapter struct {
	reader SnapshotReader
	cfg    Config
	filter *changeFilter

	mu        sync.RWMutex
	tags      []tag.Identifier
	index     map[string]int
	publisher Publisher
	closed    bool

	cycles     atomic.Uint64
	reads      atomic.Uint64
	failures   atomic.Uint64
	published  atomic.Uint64
	suppressed atomic.Uint64

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once

	logger zerolog.Logger
}

// New creates a new Adapter. Call SetPublisher and Start before use.
func New(reader SnapshotReader, cfg Config, logger zerolog.Logger) (*Adapter, error) {
	if reader == nil {
		return nil, errors.New("polling: snapshot reader is required")
	}
	cfg.applyDefaults()

	var filter *changeFilter
	if cfg.SuppressUnchanged {
		var err error
		filter, err = newChangeFilter(cfg.ChangeCacheSize)
		if err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		reader: reader,
		cfg:    cfg,
		filter: filter,
		index:  make(map[string]int),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With().Str("component", "polling-adapter").Logger(),
	}, nil
}

// SetPublisher sets where read values are published
func (a *Adapter) SetPublisher(p Publisher) {
	a.mu.Lock()
	a.publisher = p
	a.mu.Unlock()
}

// Start starts the poll loop
func (a *Adapter) Start() {
	a.startOnce.Do(func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.closed {
			return
		}
		a.wg.Add(1)
		go a.loop()

		a.logger.Info().
			Dur("interval", a.cfg.Interval).
			Int("pageSize", a.cfg.PageSize).
			Bool("suppressUnchanged", a.cfg.SuppressUnchanged).
			Msg("polling adapter started")
	})
}

// Activate adds tags to the poll list and reads them once right away. It
// matches subscription.ActivationFunc.
func (a *Adapter) Activate(ctx context.Context, tags []tag.Identifier) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	added := make([]string, 0, len(tags))
	for _, t := range tags {
		if t.IsZero() {
			continue
		}
		if _, ok := a.index[t.ID]; ok {
			continue
		}
		a.index[t.ID] = len(a.tags)
		a.tags = append(a.tags, t)
		added = append(added, t.ID)
	}
	if len(added) > 0 {
		a.wg.Add(1)
	}
	a.mu.Unlock()

	if len(added) == 0 {
		return nil
	}

	a.logger.Debug().Strs("tags", added).Msg("tags activated")

	go func() {
		defer a.wg.Done()
		if err := a.poll(a.ctx, added); err != nil {
			a.logError(err, "initial read failed")
		}
	}()

	return nil
}

// Deactivate removes tags from the poll list. It matches
// subscription.ActivationFunc.
func (a *Adapter) Deactivate(ctx context.Context, tags []tag.Identifier) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for _, t := range tags {
		i, ok := a.index[t.ID]
		if !ok {
			continue
		}
		last := len(a.tags) - 1
		if i != last {
			a.tags[i] = a.tags[last]
			a.index[a.tags[i].ID] = i
		}
		a.tags[last] = tag.Identifier{}
		a.tags = a.tags[:last]
		delete(a.index, t.ID)
		if a.filter != nil {
			a.filter.Forget(t.ID)
		}
		removed++
	}

	if removed > 0 {
		a.logger.Debug().Int("removed", removed).Int("remaining", len(a.tags)).Msg("tags deactivated")
	}
	return nil
}

// Tags returns a snapshot of the poll list
func (a *Adapter) Tags() []tag.Identifier {
	a.mu.RLock()
	defer a.mu.RUnlock()
	result := make([]tag.Identifier, len(a.tags))
	copy(result, a.tags)
	return result
}

// PollOnce runs a single poll cycle over every tag in the list
func (a *Adapter) PollOnce(ctx context.Context) error {
	a.mu.RLock()
	ids := make([]string, len(a.tags))
	for i, t := range a.tags {
		ids[i] = t.ID
	}
	a.mu.RUnlock()

	a.cycles.Add(1)
	if len(ids) == 0 {
		return nil
	}
	return a.poll(ctx, ids)
}

// poll reads ids page by page and publishes every returned value
func (a *Adapter) poll(ctx context.Context, ids []string) error {
	size := a.cfg.PageSize
	for start := 0; start < len(ids); start += size {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		page := ids[start:end]

		values, err := a.read(ctx, page)
		if err != nil {
			return fmt.Errorf("failed to read %d tags: %w", len(page), err)
		}
		a.publish(values)

		if len(page) < size {
			break
		}
	}
	return nil
}

func (a *Adapter) read(ctx context.Context, ids []string) ([]tag.Value, error) {
	if a.cfg.ReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.ReadTimeout)
		defer cancel()
	}
	a.reads.Add(1)
	return a.reader.ReadSnapshot(ctx, &a.cfg.Caller, ids)
}

func (a *Adapter) publish(values []tag.Value) {
	a.mu.RLock()
	pub := a.publisher
	a.mu.RUnlock()

	if pub == nil {
		a.logger.Debug().Int("values", len(values)).Msg("no publisher set, discarding values")
		return
	}

	batch := make([]tag.Value, 0, len(values))
	for _, v := range values {
		if v.Tag.IsZero() {
			continue
		}
		if a.filter != nil && a.filter.IsUnchanged(v) {
			a.suppressed.Add(1)
			continue
		}
		batch = append(batch, v)
	}
	if len(batch) == 0 {
		return
	}
	pub.PublishBatch(batch)
	a.published.Add(uint64(len(batch)))
}

func (a *Adapter) loop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := a.PollOnce(a.ctx); err != nil {
				a.logError(err, "poll cycle failed")
				continue
			}
			a.logger.Debug().Dur("duration", time.Since(start)).Msg("poll cycle completed")
		}
	}
}

// logError logs err unless it only means the adapter or a queue is going away
func (a *Adapter) logError(err error, msg string) {
	if isBenign(err) {
		a.logger.Debug().Err(err).Msg(msg)
		return
	}
	a.failures.Add(1)
	a.logger.Warn().Err(err).Msg(msg)
}

func isBenign(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, subscription.ErrQueueClosed) ||
		errors.Is(err, ErrClosed)
}

// Stats returns the current counters
func (a *Adapter) Stats() Stats {
	a.mu.RLock()
	n := len(a.tags)
	a.mu.RUnlock()
	return Stats{
		Tags:       n,
		Cycles:     a.cycles.Load(),
		Reads:      a.reads.Load(),
		Errors:     a.failures.Load(),
		Published:  a.published.Load(),
		Suppressed: a.suppressed.Load(),
	}
}

// Close stops the poll loop, clears the tag list and waits for in-flight reads
func (a *Adapter) Close() {
	a.closeOnce.Do(func() {
		a.cancel()

		a.mu.Lock()
		a.closed = true
		a.tags = nil
		a.index = make(map[string]int)
		a.mu.Unlock()

		a.wg.Wait()
		if a.filter != nil {
			a.filter.Purge()
		}

		a.logger.Info().Msg("polling adapter closed")
	})
}
