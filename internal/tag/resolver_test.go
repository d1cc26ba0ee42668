package tag

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestIdentifier_Equal(t *testing.T) {
	a := New("1", "Temperature")
	b := New("1", "renamed")
	c := New("2", "Temperature")

	if !a.Equal(b) {
		t.Error("identifiers with same ID must be equal")
	}
	if a.Equal(c) {
		t.Error("identifiers with different IDs must differ")
	}
	if !a.Matches("temperature") {
		t.Error("Matches(temperature) = false, want true")
	}
	if !a.Matches("1") {
		t.Error("Matches(1) = false, want true")
	}
	if a.Matches("2") {
		t.Error("Matches(2) = true, want false")
	}
}

func TestDedup(t *testing.T) {
	tags := []Identifier{New("1", "a"), New("2", "b"), New("1", "a2"), {}}
	got := Dedup(tags)
	if len(got) != 2 {
		t.Fatalf("Dedup returned %d tags, want 2", len(got))
	}
	if got[0].Name != "a" {
		t.Errorf("first occurrence not kept: name = %q", got[0].Name)
	}
	if ids := IDs(got); !reflect.DeepEqual(ids, []string{"1", "2"}) {
		t.Errorf("IDs = %v, want [1 2]", ids)
	}
}

func TestCaller_Valid(t *testing.T) {
	var nilCaller *Caller
	if nilCaller.Valid() {
		t.Error("nil caller is valid")
	}
	if (&Caller{}).Valid() {
		t.Error("caller without ID is valid")
	}
	if !(&Caller{ID: "c1"}).Valid() {
		t.Error("caller with ID is invalid")
	}
}

// countingResolver resolves keys from a fixed map and records every call
type countingResolver struct {
	known map[string]Identifier
	mu    sync.Mutex
	calls [][]string
}

func (r *countingResolver) Resolve(ctx context.Context, caller *Caller, keys []string) ([]Identifier, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string(nil), keys...))
	r.mu.Unlock()

	var out []Identifier
	for _, k := range keys {
		if t, ok := r.known[k]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *countingResolver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newCachingResolver(t *testing.T, next Resolver, size int) *CachingResolver {
	t.Helper()
	r, err := NewCachingResolver(next, size, time.Minute, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewCachingResolver: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func TestCachingResolver_CachesHits(t *testing.T) {
	next := &countingResolver{known: map[string]Identifier{"T1": New("id-1", "T1")}}
	r := newCachingResolver(t, next, 16)

	caller := &Caller{ID: "test"}
	ctx := context.Background()

	got, err := r.Resolve(ctx, caller, []string{"T1", "missing"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 1 || got[0].ID != "id-1" {
		t.Fatalf("Resolve = %v, want [id-1]", got)
	}
	if n := next.callCount(); n != 1 {
		t.Fatalf("upstream calls = %d, want 1", n)
	}

	// cached by name (case-insensitive) and by ID
	got, err = r.Resolve(ctx, caller, []string{"t1", "id-1"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Resolve = %v, want one tag", got)
	}
	if n := next.callCount(); n != 1 {
		t.Errorf("upstream calls after cached lookup = %d, want 1", n)
	}

	// misses are not cached
	if _, err := r.Resolve(ctx, caller, []string{"missing"}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if n := next.callCount(); n != 2 {
		t.Errorf("upstream calls after repeated miss = %d, want 2", n)
	}
}

func TestCachingResolver_BatchesMisses(t *testing.T) {
	next := &countingResolver{known: map[string]Identifier{
		"A": New("a", "A"),
		"B": New("b", "B"),
		"C": New("c", "C"),
	}}
	r := newCachingResolver(t, next, 16)

	got, err := r.Resolve(context.Background(), &Caller{ID: "x"}, []string{"C", "A", "a", "B", "nope"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ids := IDs(got); !reflect.DeepEqual(ids, []string{"a", "b", "c"}) {
		t.Errorf("IDs = %v, want [a b c]", ids)
	}

	next.mu.Lock()
	calls := next.calls
	next.mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("upstream calls = %d, want a single batched call", len(calls))
	}
	if len(calls[0]) != 4 {
		t.Errorf("batched keys = %v, want 4 distinct keys", calls[0])
	}
}

func TestCachingResolver_PropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	r := newCachingResolver(t, ResolverFunc(func(context.Context, *Caller, []string) ([]Identifier, error) {
		return nil, boom
	}), 16)

	_, err := r.Resolve(context.Background(), &Caller{ID: "x"}, []string{"T1"})
	if !errors.Is(err, boom) {
		t.Errorf("Resolve error = %v, want %v", err, boom)
	}
}

func TestCachingResolver_CollapsesConcurrentMisses(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	slow := ResolverFunc(func(ctx context.Context, caller *Caller, keys []string) ([]Identifier, error) {
		calls.Add(1)
		<-release
		return []Identifier{New("id-"+keys[0], keys[0])}, nil
	})
	r := newCachingResolver(t, slow, 0)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := r.Resolve(context.Background(), &Caller{ID: "x"}, []string{"P1"})
			if err == nil && len(got) != 1 {
				err = errors.New("tag not resolved")
			}
			errs <- err
		}()
	}

	// let the goroutines pile up behind the first call
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Resolve: %v", err)
		}
	}
	if n := calls.Load(); n >= 8 {
		t.Errorf("upstream calls = %d, want fewer than 8", n)
	}
}

func TestCachingResolver_CancelledCallerDoesNotFailOthers(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	slow := ResolverFunc(func(ctx context.Context, caller *Caller, keys []string) ([]Identifier, error) {
		started <- struct{}{}
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []Identifier{New("p1", "P1")}, nil
	})
	r := newCachingResolver(t, slow, 0)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Resolve(firstCtx, &Caller{ID: "first"}, []string{"P1"})
		firstErr <- err
	}()
	<-started

	type outcome struct {
		tags []Identifier
		err  error
	}
	second := make(chan outcome, 1)
	go func() {
		tags, err := r.Resolve(context.Background(), &Caller{ID: "second"}, []string{"P1"})
		second <- outcome{tags, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("first caller error = %v, want context.Canceled", err)
	}

	close(release)
	select {
	case got := <-second:
		if got.err != nil {
			t.Fatalf("second caller failed: %v", got.err)
		}
		if len(got.tags) != 1 || got.tags[0].ID != "p1" {
			t.Errorf("second caller got %v, want [p1]", got.tags)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not return")
	}
}
