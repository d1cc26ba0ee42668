package cache

// Cache defines the interface for a keyed cache.
// This interface allows for different implementations (in-memory, no-op).
type Cache[K comparable, V any] interface {
	// Get retrieves a cached value by key
	// Returns the value and true if found, the zero value and false otherwise
	Get(key K) (V, bool)

	// Set stores a value in the cache with the given key
	Set(key K, value V)

	// Remove deletes a key from the cache
	Remove(key K)

	// Len returns the number of entries, including ones not yet expired by the cleanup loop
	Len() int

	// Close releases any resources held by the cache
	Close()
}
