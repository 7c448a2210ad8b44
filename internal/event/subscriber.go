package event

import (
	"sync"

	"github.com/dshills/ledgerbus/internal/event/dispatch"
)

// Registrar is the part of an Engine a Subscriber needs.
// *Engine[K, A, Endpoint[K, A], *Endpoint[K, A]] implements it.
type Registrar[K comparable, A any] interface {
	Subscribe(lane dispatch.Lane, set SetID, key K, sub *Endpoint[K, A]) *Handle[K]
	Unsubscribe(h *Handle[K]) error
}

// Endpoint is the receiver registered on behalf of a Subscriber. Every
// Subscriber of a key/argument space registers the same receiver type,
// whatever object it owns, so one engine reaches all of them.
type Endpoint[K comparable, A any] struct {
	notify func(set SetID, key K, args A)
}

// OnNotify implements Receiver.
func (e *Endpoint[K, A]) OnNotify(set SetID, key K, args A) {
	e.notify(set, key, args)
}

// Callback is invoked for each notification a Subscriber receives.
// obj points at the subscriber's owned object.
type Callback[K comparable, A any, T any] func(set SetID, obj *T, key K, args A)

// Subscriber owns an object of type T and routes notifications to a
// callback operating on it. Callbacks are serialized by the subscriber's
// mutex, so a subscriber registered on several lanes never runs two
// callbacks on the object at once.
//
// The engine keeps only weak references to the subscriber's endpoint: the
// Subscriber stays registered for as long as the caller holds it.
type Subscriber[K comparable, A any, T any] struct {
	reg      Registrar[K, A]
	endpoint *Endpoint[K, A]

	// mu serializes callbacks.
	mu       sync.Mutex
	object   T
	callback Callback[K, A, T]

	hmu     sync.Mutex
	handles map[K][]*Handle[K]
	closed  bool
}

// NewSubscriber creates a subscriber owning obj. Nothing is registered
// until Subscribe is called.
func NewSubscriber[K comparable, A any, T any](reg Registrar[K, A], obj T, cb Callback[K, A, T]) *Subscriber[K, A, T] {
	if reg == nil {
		panic("event: nil registrar")
	}
	if cb == nil {
		panic("event: nil callback")
	}
	s := &Subscriber[K, A, T]{
		reg:      reg,
		object:   obj,
		callback: cb,
		handles:  make(map[K][]*Handle[K]),
	}
	s.endpoint = &Endpoint[K, A]{notify: s.OnNotify}
	return s
}

// Subscribe registers the subscriber under key on lane with set.
// The same key may be subscribed more than once, including on different
// lanes; every registration is notified.
func (s *Subscriber[K, A, T]) Subscribe(lane dispatch.Lane, set SetID, key K) error {
	s.hmu.Lock()
	defer s.hmu.Unlock()

	if s.closed {
		return ErrSubscriberClosed
	}

	h := s.reg.Subscribe(lane, set, key, s.endpoint)
	s.handles[key] = append(s.handles[key], h)
	return nil
}

// Unsubscribe removes every registration the subscriber holds under key.
func (s *Subscriber[K, A, T]) Unsubscribe(key K) error {
	s.hmu.Lock()
	handles, ok := s.handles[key]
	delete(s.handles, key)
	s.hmu.Unlock()

	if !ok {
		return ErrSubscriptionNotFound
	}

	var firstErr error
	for _, h := range handles {
		if err := s.reg.Unsubscribe(h); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Keys returns the keys the subscriber is registered under.
func (s *Subscriber[K, A, T]) Keys() []K {
	s.hmu.Lock()
	defer s.hmu.Unlock()

	keys := make([]K, 0, len(s.handles))
	for k := range s.handles {
		keys = append(keys, k)
	}
	return keys
}

// Close removes all registrations. Further Subscribe calls fail.
// Close is idempotent.
func (s *Subscriber[K, A, T]) Close() {
	s.hmu.Lock()
	if s.closed {
		s.hmu.Unlock()
		return
	}
	s.closed = true
	all := s.handles
	s.handles = make(map[K][]*Handle[K])
	s.hmu.Unlock()

	for _, handles := range all {
		for _, h := range handles {
			_ = s.reg.Unsubscribe(h)
		}
	}
}

// Get runs fn with exclusive access to the owned object.
func (s *Subscriber[K, A, T]) Get(fn func(obj *T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.object)
}

// OnNotify runs the callback on the owned object.
func (s *Subscriber[K, A, T]) OnNotify(set SetID, key K, args A) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback(set, &s.object, key, args)
}
