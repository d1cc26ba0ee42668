package subscription

import (
	"sync"

	"tagstream/internal/tag"
)

// topic is the registry entry of one tag: the subscriptions interested in it
// and the sequence of activation/deactivation callbacks it has asked for.
//
// Every 0->1 or 1->0 transition takes a ticket while the manager lock is
// held. Callbacks run outside that lock, strictly in ticket order, so the
// callbacks of one tag never overlap and never run out of order.
type topic struct {
	tag tag.Identifier

	// guarded by Manager.mu
	subs   map[string]*Subscription
	issued uint64

	mu     sync.Mutex
	cond   *sync.Cond
	served uint64
}

func newTopic(t tag.Identifier) *topic {
	tp := &topic{
		tag:  t,
		subs: make(map[string]*Subscription),
	}
	tp.cond = sync.NewCond(&tp.mu)
	return tp
}

// waitFor blocks until ticket n has been served
func (tp *topic) waitFor(n uint64) {
	tp.mu.Lock()
	for tp.served < n {
		tp.cond.Wait()
	}
	tp.mu.Unlock()
}

// complete marks ticket n as served and wakes waiters
func (tp *topic) complete(n uint64) {
	tp.mu.Lock()
	if n > tp.served {
		tp.served = n
	}
	tp.cond.Broadcast()
	tp.mu.Unlock()
}

// isServed reports whether ticket n has been served
func (tp *topic) isServed(n uint64) bool {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.served >= n
}

// transition is a ticket taken on a topic
type transition struct {
	topic  *topic
	ticket uint64
}
