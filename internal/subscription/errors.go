package subscription

import "errors"

var (
	// ErrInvalidCaller is returned when a subscription is requested without a caller identity
	ErrInvalidCaller = errors.New("subscription: invalid caller")
	// ErrInvalidArgument is returned for missing or malformed arguments
	ErrInvalidArgument = errors.New("subscription: invalid argument")
	// ErrClosed is returned by a manager that has been shut down
	ErrClosed = errors.New("subscription: manager closed")
	// ErrDisposed is returned when operating on a disposed subscription
	ErrDisposed = errors.New("subscription: disposed")
	// ErrQueueClosed is returned by Pop once the queue is closed and drained
	ErrQueueClosed = errors.New("subscription: queue closed")
)
