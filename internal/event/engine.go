package event

import (
	"container/list"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/rs/zerolog"

	"github.com/dshills/ledgerbus/internal/event/dispatch"
)

// SetID groups registrations made by one logical subscriber.
// The engine stores it and hands it back on every notification.
type SetID uint32

// Receiver is the capability the engine notifies.
// R is the receiver's struct type; the engine only ever holds weak
// references to it, so R must not be a zero-sized type.
type Receiver[K comparable, A any, R any] interface {
	*R
	OnNotify(set SetID, key K, args A)
}

// Cloner is implemented by argument types that carry reference data.
// When A implements Cloner, every scheduled notification receives its own
// clone instead of a shallow copy. Slice, map, pointer, channel and func
// argument types must implement it.
type Cloner[A any] interface {
	Clone() A
}

// entry is one registration under an event key.
type entry[R any] struct {
	lane dispatch.Lane
	set  SetID
	sub  weak.Pointer[R]

	// live is cleared, under the engine's write lock, when the entry
	// leaves the registry.
	live atomic.Bool
}

// Engine is a thread-safe registry of weakly referenced subscribers keyed
// by event key. Notify fans out to the dispatcher lane each subscriber
// registered with.
//
// Every scheduled task gets its own copy of the arguments. A plain copy of
// a reference type would share its backing store between lanes, so such
// argument types must implement Cloner.
type Engine[K comparable, A any, R any, P Receiver[K, A, R]] struct {
	name       string
	dispatcher dispatch.Dispatcher
	logger     zerolog.Logger

	mu   sync.RWMutex
	subs map[K]*list.List

	// Stats
	notifications  atomic.Uint64
	submitted      atomic.Uint64
	submitFailures atomic.Uint64
	pruned         atomic.Uint64
}

// NewEngine creates an engine scheduling notifications on d.
// It panics if d is nil or A is a reference type that does not implement
// Cloner.
func NewEngine[K comparable, A any, R any, P Receiver[K, A, R]](d dispatch.Dispatcher, opts ...EngineOption) *Engine[K, A, R, P] {
	if d == nil {
		panic("event: nil dispatcher")
	}
	if err := checkArgs[A](); err != nil {
		panic("event: " + err.Error())
	}
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.name == "" {
		var key K
		var args A
		cfg.name = fmt.Sprintf("%T/%T", key, args)
	}

	return &Engine[K, A, R, P]{
		name:       cfg.name,
		dispatcher: d,
		logger:     cfg.logger.With().Str("engine", cfg.name).Logger(),
		subs:       make(map[K]*list.List),
	}
}

// Name returns the engine name used in logs and diagnostics.
func (e *Engine[K, A, R, P]) Name() string {
	return e.name
}

// Dispatcher returns the dispatcher notifications are scheduled on.
func (e *Engine[K, A, R, P]) Dispatcher() dispatch.Dispatcher {
	return e.dispatcher
}

// Subscribe registers sub under key on lane and returns the handle that
// removes the registration. Only a weak reference to sub is kept.
//
// A nil subscriber or a lane not served by the engine's dispatcher is a
// programming error and panics.
func (e *Engine[K, A, R, P]) Subscribe(lane dispatch.Lane, set SetID, key K, sub P) *Handle[K] {
	if sub == nil {
		panic("event: nil subscriber")
	}
	if !lane.BelongsTo(e.dispatcher.Lanes()) {
		panic(fmt.Sprintf("event: lane %s is not served by the dispatcher of engine %s", lane, e.name))
	}

	en := &entry[R]{
		lane: lane,
		set:  set,
		sub:  weak.Make((*R)(sub)),
	}
	en.live.Store(true)

	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.subs[key]
	if !ok {
		l = list.New()
		e.subs[key] = l
	}

	return &Handle[K]{
		key:   key,
		elem:  l.PushBack(en),
		owner: e,
	}
}

// Unsubscribe removes the registration behind h. A handle can be used once;
// reusing it returns ErrHandleReleased. Unsubscribing an entry that was
// already pruned because its subscriber is gone is not an error.
func (e *Engine[K, A, R, P]) Unsubscribe(h *Handle[K]) error {
	if h == nil || h.elem == nil {
		return ErrNilHandle
	}
	if h.owner != any(e) {
		return ErrSubscriptionNotFound
	}
	if h.released.Swap(true) {
		return ErrHandleReleased
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	en := h.elem.Value.(*entry[R])
	if !en.live.Load() {
		return nil
	}

	l, ok := e.subs[h.key]
	if !ok {
		return ErrSubscriptionNotFound
	}
	e.removeLocked(h.key, l, h.elem, en)
	return nil
}

// Size returns the number of registrations under key.
func (e *Engine[K, A, R, P]) Size(key K) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if l, ok := e.subs[key]; ok {
		return l.Len()
	}
	return 0
}

// Total returns the number of registrations across all keys.
func (e *Engine[K, A, R, P]) Total() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	count := 0
	for _, l := range e.subs {
		count += l.Len()
	}
	return count
}

// Keys returns the event keys that currently have registrations.
func (e *Engine[K, A, R, P]) Keys() []K {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.subs) == 0 {
		return nil
	}
	keys := make([]K, 0, len(e.subs))
	for k := range e.subs {
		keys = append(keys, k)
	}
	return keys
}

// Notify schedules OnNotify(set, key, args) for every live subscriber
// registered under key, on that subscriber's lane, in registration order.
// Each scheduled task gets its own copy of args and re-checks that the
// subscriber is alive and still registered before running.
//
// Registrations whose subscriber has been collected are pruned.
func (e *Engine[K, A, R, P]) Notify(key K, args A) {
	e.notify(key, 0, args)
}

// NotifyDelayed is like Notify but each task runs no earlier than delay
// from now.
func (e *Engine[K, A, R, P]) NotifyDelayed(key K, delay time.Duration, args A) {
	e.notify(key, delay, args)
}

func (e *Engine[K, A, R, P]) notify(key K, delay time.Duration, args A) {
	e.notifications.Add(1)

	targets, expired := e.scan(key)

	// The registry lock is not held here: a blocking dispatcher never
	// stalls subscribe or unsubscribe.
	for _, en := range targets {
		task := e.task(key, en, cloneArgs(args))

		var err error
		if delay > 0 {
			err = e.dispatcher.AddDelayed(en.lane, delay, task)
		} else {
			err = e.dispatcher.Add(en.lane, task)
		}
		if err != nil {
			e.submitFailures.Add(1)
			e.logger.Warn().
				Err(err).
				Str("lane", en.lane.String()).
				Interface("key", key).
				Msg("notification not scheduled")
			continue
		}
		e.submitted.Add(1)
	}

	if len(expired) > 0 {
		e.prune(key, expired)
	}
}

// scan collects live entries in registration order and the elements of
// expired ones. It only reads the registry.
func (e *Engine[K, A, R, P]) scan(key K) ([]*entry[R], []*list.Element) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	l, ok := e.subs[key]
	if !ok {
		return nil, nil
	}

	targets := make([]*entry[R], 0, l.Len())
	var expired []*list.Element
	for el := l.Front(); el != nil; el = el.Next() {
		en := el.Value.(*entry[R])
		if en.sub.Value() == nil {
			expired = append(expired, el)
			continue
		}
		targets = append(targets, en)
	}
	return targets, expired
}

// prune removes expired entries under the write lock. Entries removed in
// the meantime by Unsubscribe are skipped.
func (e *Engine[K, A, R, P]) prune(key K, expired []*list.Element) {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.subs[key]
	if !ok {
		return
	}

	n := 0
	for _, el := range expired {
		en := el.Value.(*entry[R])
		if !en.live.Load() {
			continue
		}
		e.removeLocked(key, l, el, en)
		n++
	}

	if n > 0 {
		e.pruned.Add(uint64(n))
		e.logger.Debug().Interface("key", key).Int("pruned", n).Msg("expired subscribers pruned")
	}
}

// removeLocked unlinks el from l and erases the key once l is empty.
// The caller holds the write lock.
func (e *Engine[K, A, R, P]) removeLocked(key K, l *list.List, el *list.Element, en *entry[R]) {
	en.live.Store(false)
	l.Remove(el)
	if l.Len() == 0 {
		delete(e.subs, key)
	}
}

// task builds the closure scheduled for one entry. It captures only the
// weak reference, never the subscriber itself.
func (e *Engine[K, A, R, P]) task(key K, en *entry[R], args A) dispatch.Task {
	return func() {
		if !en.live.Load() {
			return
		}
		sub := en.sub.Value()
		if sub == nil {
			return
		}
		P(sub).OnNotify(en.set, key, args)
	}
}

// Stats returns engine statistics.
func (e *Engine[K, A, R, P]) Stats() EngineStats {
	return EngineStats{
		Notifications:  e.notifications.Load(),
		Submitted:      e.submitted.Load(),
		SubmitFailures: e.submitFailures.Load(),
		Pruned:         e.pruned.Load(),
		Subscriptions:  e.Total(),
	}
}

// checkArgs rejects argument types whose plain copy shares reference data.
func checkArgs[A any]() error {
	t := reflect.TypeFor[A]()
	switch t.Kind() {
	case reflect.Slice, reflect.Map, reflect.Pointer, reflect.Chan, reflect.Func:
		if !t.Implements(reflect.TypeFor[Cloner[A]]()) {
			return fmt.Errorf("argument type %s is a %s and must implement Clone() %s", t, t.Kind(), t)
		}
	}
	return nil
}

// cloneArgs returns a copy of args that shares no reference data with it
// when A implements Cloner.
func cloneArgs[A any](args A) A {
	if c, ok := any(args).(Cloner[A]); ok {
		return c.Clone()
	}
	return args
}

// EngineStats contains engine statistics.
type EngineStats struct {
	// Notifications is the number of Notify and NotifyDelayed calls.
	Notifications uint64

	// Submitted is the number of tasks accepted by the dispatcher.
	Submitted uint64

	// SubmitFailures is the number of tasks the dispatcher refused.
	SubmitFailures uint64

	// Pruned is the number of registrations removed because their
	// subscriber was collected.
	Pruned uint64

	// Subscriptions is the current number of registrations.
	Subscriptions int
}
