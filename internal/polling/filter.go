package polling

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"tagstream/internal/tag"
)

// changeFilter remembers the last published fingerprint per tag
type changeFilter struct {
	cache *lru.Cache[string, string]
}

func newChangeFilter(size int) (*changeFilter, error) {
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	return &changeFilter{cache: cache}, nil
}

// IsUnchanged checks if v carries the same payload as the last value seen
// for its tag. Returns false for new or changed values and records them.
func (f *changeFilter) IsUnchanged(v tag.Value) bool {
	key := fingerprint(v)
	if last, ok := f.cache.Get(v.Tag.ID); ok && last == key {
		return true
	}
	f.cache.Add(v.Tag.ID, key)
	return false
}

// Forget drops the remembered value of a tag
func (f *changeFilter) Forget(tagID string) {
	f.cache.Remove(tagID)
}

// Purge drops everything
func (f *changeFilter) Purge() {
	f.cache.Purge()
}

func fingerprint(v tag.Value) string {
	return fmt.Sprintf("%s|%T|%v", v.Quality, v.Value, v.Value)
}
