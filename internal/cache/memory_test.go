package cache

import (
	"testing"
	"time"
)

func TestMemoryCache_SetGet(t *testing.T) {
	c, err := NewMemoryCache[string, int](10, time.Minute)
	if err != nil {
		t.Fatalf("NewMemoryCache: %v", err)
	}
	defer c.Close()

	c.Set("a", 1)
	v, ok := c.Get("a")
	if !ok || v != 1 {
		t.Fatalf("Get(a) = %d, %v; want 1, true", v, ok)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) should not be found")
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	c, err := NewMemoryCache[string, int](10, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewMemoryCache: %v", err)
	}
	defer c.Close()

	c.Set("a", 1)
	time.Sleep(40 * time.Millisecond)

	if _, ok := c.Get("a"); ok {
		t.Error("expired entry should not be returned")
	}
}

func TestMemoryCache_NoTTL(t *testing.T) {
	c, err := NewMemoryCache[string, int](2, 0)
	if err != nil {
		t.Fatalf("NewMemoryCache: %v", err)
	}
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	if _, ok := c.Get("a"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}

	c.Remove("b")
	if _, ok := c.Get("b"); ok {
		t.Error("removed entry should not be returned")
	}
}

func TestMemoryCache_InvalidSize(t *testing.T) {
	if _, err := NewMemoryCache[string, int](0, time.Minute); err == nil {
		t.Fatal("expected error for zero size")
	}
}

func TestNoopCache(t *testing.T) {
	var c Cache[string, int] = NewNoopCache[string, int]()
	c.Set("a", 1)
	if _, ok := c.Get("a"); ok {
		t.Error("noop cache should never hit")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
	c.Close()
}
