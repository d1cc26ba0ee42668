package subscription

import "context"

// mergeContexts returns a context that is done as soon as parent or any of
// others is done. The returned cancel releases the watchers on others.
func mergeContexts(parent context.Context, others ...context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	stops := make([]func() bool, 0, len(others))
	for _, other := range others {
		if other == nil {
			continue
		}
		stops = append(stops, context.AfterFunc(other, cancel))
	}

	return ctx, func() {
		for _, stop := range stops {
			stop()
		}
		cancel()
	}
}
