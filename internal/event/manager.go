package event

import (
	"context"
	"reflect"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dshills/ledgerbus/internal/event/dispatch"
)

// Manager owns a dispatcher and the engines sharing it. It creates one
// engine per (key type, argument type, receiver type) space on first use.
type Manager struct {
	dispatcher dispatch.Dispatcher
	logger     zerolog.Logger

	mu      sync.Mutex
	engines map[spaceKey]space
}

type spaceKey struct {
	key      reflect.Type
	args     reflect.Type
	receiver reflect.Type
}

// space is the type-erased view of an engine the manager keeps.
type space interface {
	Name() string
	Stats() EngineStats
}

// SpaceInfo describes one engine for diagnostics.
type SpaceInfo struct {
	Name  string      `json:"name"`
	Stats EngineStats `json:"stats"`
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger handed to every engine.
func WithManagerLogger(l zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a manager scheduling on d. The manager takes
// ownership of d and disposes it in Dispose.
func NewManager(d dispatch.Dispatcher, opts ...ManagerOption) *Manager {
	if d == nil {
		panic("event: nil dispatcher")
	}
	m := &Manager{
		dispatcher: d,
		logger:     zerolog.Nop(),
		engines:    make(map[spaceKey]space),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dispatcher returns the shared dispatcher.
func (m *Manager) Dispatcher() dispatch.Dispatcher {
	return m.dispatcher
}

// Lanes returns the lane set of the shared dispatcher.
func (m *Manager) Lanes() *dispatch.LaneSet {
	return m.dispatcher.Lanes()
}

// EngineFor returns the manager's engine for the given key, argument and
// receiver types, creating it on first use. Concurrent callers get the
// same engine.
func EngineFor[K comparable, A any, R any, P Receiver[K, A, R]](m *Manager) *Engine[K, A, R, P] {
	sk := spaceKey{
		key:      reflect.TypeFor[K](),
		args:     reflect.TypeFor[A](),
		receiver: reflect.TypeFor[R](),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.engines[sk]; ok {
		return s.(*Engine[K, A, R, P])
	}

	name := sk.key.String() + "/" + sk.args.String() + " -> " + sk.receiver.String()
	e := NewEngine[K, A, R, P](m.dispatcher,
		WithName(name),
		WithLogger(m.logger),
	)
	m.engines[sk] = e
	m.logger.Debug().Str("engine", name).Msg("engine created")
	return e
}

// SpaceFor returns the engine Subscribers of the K/A space register with.
// Publishers notify through it.
func SpaceFor[K comparable, A any](m *Manager) *Engine[K, A, Endpoint[K, A], *Endpoint[K, A]] {
	return EngineFor[K, A, Endpoint[K, A]](m)
}

// Spaces returns a snapshot of every engine, sorted by name.
func (m *Manager) Spaces() []SpaceInfo {
	m.mu.Lock()
	spaces := make([]space, 0, len(m.engines))
	for _, s := range m.engines {
		spaces = append(spaces, s)
	}
	m.mu.Unlock()

	infos := make([]SpaceInfo, 0, len(spaces))
	for _, s := range spaces {
		infos = append(infos, SpaceInfo{Name: s.Name(), Stats: s.Stats()})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Dispose disposes the shared dispatcher. Engines stay usable for
// subscription bookkeeping but notifications are no longer scheduled.
func (m *Manager) Dispose(ctx context.Context) error {
	return m.dispatcher.Dispose(ctx)
}
