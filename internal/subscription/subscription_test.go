package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tagstream/internal/tag"
)

func waitDone(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription was not disposed")
	}
}

func TestSubscription_ControlOrder(t *testing.T) {
	var (
		mu     sync.Mutex
		events []string
	)
	record := func(prefix string) TagHook {
		return func(sub *Subscription, tg tag.Identifier) {
			mu.Lock()
			events = append(events, prefix+tg.ID)
			mu.Unlock()
		}
	}

	m := newTestManager(t, nil, Options{})
	ctx := context.Background()
	sub, err := m.Subscribe(ctx, caller("a"), WithTagHooks(record("+"), record("-")))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	reqs := []*ChangeRequest{
		NewChangeRequest("t1", ActionSubscribe),
		NewChangeRequest("t2", ActionSubscribe),
		NewChangeRequest("t1", ActionUnsubscribe),
		NewChangeRequest("t3", ActionSubscribe),
	}
	for _, req := range reqs {
		if err := sub.Submit(ctx, req); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	for i, req := range reqs {
		applied, err := req.Wait(ctx)
		if err != nil || !applied {
			t.Errorf("request %d: applied = %v, err = %v", i, applied, err)
		}
	}

	mu.Lock()
	got := append([]string(nil), events...)
	mu.Unlock()
	want := []string{"+t1", "+t2", "-t1", "+t3"}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}

	if sub.HasTag("t1") || !sub.HasTag("t2") || !sub.HasTag("t3") {
		t.Errorf("tags = %v", sub.Tags())
	}
	if sub.State() != StateRunning {
		t.Errorf("State = %s, want running", sub.State())
	}
}

func TestSubscription_AddTagNotApplied(t *testing.T) {
	m := newTestManager(t, nil, Options{})
	ctx := context.Background()
	sub, _ := m.Subscribe(ctx, caller("a"))

	applied, err := sub.AddTag(ctx, "nope")
	if err != nil || applied {
		t.Errorf("AddTag(unresolvable) = %v, %v", applied, err)
	}

	applied, err = sub.AddTag(ctx, "t1")
	if err != nil || !applied {
		t.Errorf("AddTag(t1) = %v, %v", applied, err)
	}
	applied, err = sub.AddTag(ctx, "t1")
	if err != nil || applied {
		t.Errorf("AddTag(t1) again = %v, %v", applied, err)
	}
	applied, err = sub.RemoveTag(ctx, "t2")
	if err != nil || applied {
		t.Errorf("RemoveTag(t2) = %v, %v", applied, err)
	}
}

func TestSubscription_OwnerCancel(t *testing.T) {
	rec := newCallRecorder(t)
	m := newTestManager(t, rec, Options{})

	owner, cancel := context.WithCancel(context.Background())
	sub, err := m.Subscribe(owner, caller("a"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	m.AddTags(context.Background(), sub, []string{"t1"})

	cancel()
	waitDone(t, sub)

	if sub.State() != StateDisposed {
		t.Errorf("State = %s, want disposed", sub.State())
	}
	if got := rec.count("t1", "deactivate"); got != 1 {
		t.Errorf("deactivations = %d, want 1", got)
	}
	if m.Count() != 0 {
		t.Errorf("Count = %d, want 0", m.Count())
	}
}

func TestSubscription_AnyCancellationSource(t *testing.T) {
	m := newTestManager(t, nil, Options{})

	first, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	second, cancelSecond := context.WithCancel(context.Background())

	sub, err := m.Subscribe(context.Background(), caller("a"), WithCancellation(first, second))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	cancelSecond()
	waitDone(t, sub)

	if _, err := sub.AddTag(context.Background(), "t1"); !errors.Is(err, ErrDisposed) {
		t.Errorf("AddTag after dispose = %v, want ErrDisposed", err)
	}
}

func TestSubscription_QueueCloseDisposes(t *testing.T) {
	rec := newCallRecorder(t)
	m := newTestManager(t, rec, Options{})
	ctx := context.Background()

	sub, _ := m.Subscribe(ctx, caller("a"))
	m.AddTags(ctx, sub, []string{"t2"})

	sub.Queue().Close()
	waitDone(t, sub)

	if got := rec.count("t2", "deactivate"); got != 1 {
		t.Errorf("deactivations = %d, want 1", got)
	}
}

func TestSubscription_CompleteAppliesPending(t *testing.T) {
	m := newTestManager(t, nil, Options{})
	ctx := context.Background()

	var (
		mu      sync.Mutex
		removed []string
	)
	sub, _ := m.Subscribe(ctx, caller("a"), WithTagHooks(nil, func(sub *Subscription, tg tag.Identifier) {
		mu.Lock()
		removed = append(removed, tg.ID)
		mu.Unlock()
	}))

	req := NewChangeRequest("t1", ActionSubscribe)
	if err := sub.Submit(ctx, req); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	sub.Complete()
	sub.Complete()

	waitDone(t, sub)
	if applied, err := req.Wait(ctx); err != nil && !errors.Is(err, ErrDisposed) {
		t.Errorf("pending request = %v, %v", applied, err)
	}
	if err := sub.Submit(ctx, NewChangeRequest("t2", ActionSubscribe)); !errors.Is(err, ErrDisposed) {
		t.Errorf("Submit after Complete = %v, want ErrDisposed", err)
	}
	if m.HasSubscribers("t1") {
		t.Error("t1 still subscribed after dispose")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(removed) > 1 {
		t.Errorf("removed hooks = %v", removed)
	}
}

func TestSubscription_ReceiveDrainsAfterDispose(t *testing.T) {
	m := newTestManager(t, nil, Options{})
	ctx := context.Background()

	sub, _ := m.Subscribe(ctx, caller("a"))
	m.AddTags(ctx, sub, []string{"t1"})
	m.Publish(tag.NewValue(tag.New("t1", ""), time.Now(), 42))

	sub.Dispose()
	sub.Dispose()
	waitDone(t, sub)

	v, err := sub.Receive(ctx)
	if err != nil || v.Value != 42 {
		t.Errorf("Receive = %v, %v, want 42", v.Value, err)
	}
	if _, err := sub.Receive(ctx); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Receive = %v, want ErrQueueClosed", err)
	}
	if n := m.Publish(tag.NewValue(tag.New("t1", ""), time.Now(), 43)); n != 0 {
		t.Errorf("Publish after dispose reached %d subscriptions", n)
	}
}

func TestSubscription_SubmitRespectsCallerContext(t *testing.T) {
	block := make(chan struct{})
	m := newTestManager(t, nil, Options{
		ControlBuffer: 1,
		OnActivate: func(ctx context.Context, tags []tag.Identifier) error {
			<-block
			return nil
		},
	})
	defer close(block)

	sub, _ := m.Subscribe(context.Background(), caller("a"))

	// first request blocks the loop inside activation, second fills the buffer
	sub.Submit(context.Background(), NewChangeRequest("t1", ActionSubscribe))
	time.Sleep(20 * time.Millisecond)
	sub.Submit(context.Background(), NewChangeRequest("t2", ActionSubscribe))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := sub.Submit(ctx, NewChangeRequest("t3", ActionSubscribe)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Submit on full control buffer = %v, want DeadlineExceeded", err)
	}
}

func TestMergeContexts(t *testing.T) {
	parent := context.Background()
	a, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	b, cancelB := context.WithCancel(context.Background())

	ctx, cancel := mergeContexts(parent, a, nil, b)
	defer cancel()

	select {
	case <-ctx.Done():
		t.Fatal("merged context done too early")
	default:
	}

	cancelB()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("merged context not cancelled by b")
	}
}
