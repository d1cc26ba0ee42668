package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"tagstream/internal/tag"
)

func value(i int) tag.Value {
	return tag.NewValue(tag.New("t1", "Tag 1"), time.Unix(int64(i), 0), i)
}

func TestQueue_DropOldest(t *testing.T) {
	q := NewQueue(3, DropOldest)
	for i := 0; i < 3; i++ {
		if !q.Push(value(i)) {
			t.Fatalf("Push(%d) = false", i)
		}
	}
	if q.Push(value(3)) {
		t.Fatal("Push on full queue = true")
	}
	if q.Len() != 3 || q.Dropped() != 1 {
		t.Fatalf("Len = %d, Dropped = %d", q.Len(), q.Dropped())
	}
	for _, want := range []int{1, 2, 3} {
		v, ok := q.TryPop()
		if !ok || v.Value != want {
			t.Errorf("TryPop = %v, %v, want %d", v.Value, ok, want)
		}
	}
}

func TestQueue_DropNewest(t *testing.T) {
	q := NewQueue(2, DropNewest)
	q.Push(value(0))
	q.Push(value(1))
	if q.Push(value(2)) {
		t.Fatal("Push on full queue = true")
	}
	for _, want := range []int{0, 1} {
		v, ok := q.TryPop()
		if !ok || v.Value != want {
			t.Errorf("TryPop = %v, %v, want %d", v.Value, ok, want)
		}
	}
	if _, ok := q.TryPop(); ok {
		t.Error("TryPop on empty queue = true")
	}
}

func TestQueue_Unbounded(t *testing.T) {
	q := NewQueue(0, DropOldest)
	for i := 0; i < 1000; i++ {
		if !q.Push(value(i)) {
			t.Fatalf("Push(%d) = false", i)
		}
	}
	if q.Len() != 1000 || q.Dropped() != 0 {
		t.Errorf("Len = %d, Dropped = %d", q.Len(), q.Dropped())
	}
}

func TestQueue_PopWaits(t *testing.T) {
	q := NewQueue(1, DropOldest)
	got := make(chan tag.Value, 1)
	go func() {
		v, err := q.Pop(context.Background())
		if err == nil {
			got <- v
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push(value(7))

	select {
	case v := <-got:
		if v.Value != 7 {
			t.Errorf("Pop = %v, want 7", v.Value)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up")
	}
}

func TestQueue_PopContext(t *testing.T) {
	q := NewQueue(1, DropOldest)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := q.Pop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Pop = %v, want DeadlineExceeded", err)
	}
}

func TestQueue_CloseDrains(t *testing.T) {
	q := NewQueue(4, DropOldest)
	q.Push(value(1))
	q.Close()
	q.Close()

	if q.Push(value(2)) {
		t.Error("Push after Close = true")
	}
	v, err := q.Pop(context.Background())
	if err != nil || v.Value != 1 {
		t.Errorf("Pop = %v, %v, want 1", v.Value, err)
	}
	if _, err := q.Pop(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Pop on closed queue = %v, want ErrQueueClosed", err)
	}
}

func TestParseDropPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    DropPolicy
		wantErr bool
	}{
		{"", DropOldest, false},
		{"oldest", DropOldest, false},
		{"newest", DropNewest, false},
		{"random", DropOldest, true},
	}
	for _, tt := range tests {
		got, err := ParseDropPolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDropPolicy(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDropPolicy(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
