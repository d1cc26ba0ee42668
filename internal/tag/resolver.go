package tag

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"tagstream/internal/cache"
)

// CachingResolver wraps a Resolver and interns the identifiers it returns.
// Lookups are keyed by the lower-cased name or ID; concurrent misses for the
// same key share a single upstream call. Unresolvable keys are never cached.
type CachingResolver struct {
	next   Resolver
	cache  cache.Cache[string, Identifier]
	group  singleflight.Group
	logger zerolog.Logger
}

// NewCachingResolver creates a CachingResolver. A size <= 0 disables caching
// but keeps call collapsing.
func NewCachingResolver(next Resolver, size int, ttl time.Duration, logger zerolog.Logger) (*CachingResolver, error) {
	var c cache.Cache[string, Identifier]
	if size > 0 {
		mc, err := cache.NewMemoryCache[string, Identifier](size, ttl)
		if err != nil {
			return nil, err
		}
		c = mc
	} else {
		c = cache.NewNoopCache[string, Identifier]()
	}

	return &CachingResolver{
		next:   next,
		cache:  c,
		logger: logger.With().Str("component", "resolver").Logger(),
	}, nil
}

// Resolve implements Resolver
func (r *CachingResolver) Resolve(ctx context.Context, caller *Caller, namesOrIDs []string) ([]Identifier, error) {
	result := make([]Identifier, 0, len(namesOrIDs))
	misses := make([]string, 0)

	for _, key := range namesOrIDs {
		if key == "" {
			continue
		}
		if t, ok := r.cache.Get(cacheKey(key)); ok {
			result = append(result, t)
			continue
		}
		misses = append(misses, key)
	}

	if len(misses) == 0 {
		return Dedup(result), nil
	}

	resolved, err := r.resolveMisses(ctx, caller, misses)
	if err != nil {
		return nil, err
	}
	result = append(result, resolved...)

	r.logger.Debug().
		Str("caller", caller.String()).
		Int("requested", len(namesOrIDs)).
		Int("misses", len(misses)).
		Int("resolved", len(result)).
		Msg("resolved tags")

	return Dedup(result), nil
}

// resolveMisses resolves every missed key with a single call to the wrapped
// resolver. Callers missing the same set of keys share that call; the call
// itself is detached from their cancellation so one caller going away does
// not fail the others.
func (r *CachingResolver) resolveMisses(ctx context.Context, caller *Caller, misses []string) ([]Identifier, error) {
	keys := make([]string, 0, len(misses))
	seen := make(map[string]struct{}, len(misses))
	for _, key := range misses {
		k := cacheKey(key)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	flight := context.WithoutCancel(ctx)
	ch := r.group.DoChan(cacheKey(strings.Join(keys, "\x00")), func() (interface{}, error) {
		tags, err := r.next.Resolve(flight, caller, keys)
		if err != nil {
			return nil, err
		}
		found := make([]Identifier, 0, len(tags))
		for _, t := range tags {
			if t.IsZero() {
				continue
			}
			r.cache.Set(cacheKey(t.ID), t)
			for _, key := range keys {
				if t.Matches(key) {
					r.cache.Set(cacheKey(key), t)
				}
			}
			found = append(found, t)
		}
		return found, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Identifier), nil
	}
}

// Close releases the cache
func (r *CachingResolver) Close() {
	r.cache.Close()
}

func cacheKey(key string) string {
	return strings.ToLower(key)
}
