package subscription

import (
	"context"
	"sync"
)

// ChangeRequest asks a subscription to add or remove one tag. The submitter
// can wait on it to learn whether the change was applied.
type ChangeRequest struct {
	Tag    string
	Action Action

	once    sync.Once
	done    chan struct{}
	applied bool
	err     error
}

// NewChangeRequest creates a request for a tag name or ID
func NewChangeRequest(nameOrID string, action Action) *ChangeRequest {
	return &ChangeRequest{
		Tag:    nameOrID,
		Action: action,
		done:   make(chan struct{}),
	}
}

// Done is closed once the request has been processed
func (r *ChangeRequest) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the request is processed. applied is false when the tag
// could not be resolved or the subscription already was in the requested state.
func (r *ChangeRequest) Wait(ctx context.Context) (bool, error) {
	select {
	case <-r.done:
		return r.applied, r.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (r *ChangeRequest) complete(applied bool, err error) {
	r.once.Do(func() {
		r.applied = applied
		r.err = err
		close(r.done)
	})
}
