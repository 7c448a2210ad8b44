package event

import (
	"container/list"
	"sync/atomic"
)

// Handle identifies one registration returned by Subscribe.
// It is a single-use token: Unsubscribe releases it.
type Handle[K comparable] struct {
	key      K
	elem     *list.Element
	owner    any
	released atomic.Bool
}

// Key returns the event key the registration was made under.
func (h *Handle[K]) Key() K {
	return h.key
}

// Released reports whether the handle has been used.
func (h *Handle[K]) Released() bool {
	return h.released.Load()
}
