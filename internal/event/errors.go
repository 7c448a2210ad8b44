package event

import "errors"

// Sentinel errors for the subscription engine.
var (
	// ErrNilHandle is returned when Unsubscribe is called with a nil handle.
	ErrNilHandle = errors.New("subscription handle is nil")

	// ErrHandleReleased is returned when a handle is used a second time.
	ErrHandleReleased = errors.New("subscription handle already released")

	// ErrSubscriptionNotFound is returned when a handle does not belong to
	// the engine or its key has no registrations.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrSubscriberClosed is returned when a closed Subscriber is asked to
	// subscribe again.
	ErrSubscriberClosed = errors.New("subscriber is closed")
)
