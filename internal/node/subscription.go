package node

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dshills/ledgerbus/internal/config"
	"github.com/dshills/ledgerbus/internal/event"
	"github.com/dshills/ledgerbus/internal/event/dispatch"
)

// NewSubscription builds the node's subscription manager over a dispatcher
// created from cfg. The caller disposes the manager on shutdown.
func NewSubscription(cfg config.DispatcherConfig, logger zerolog.Logger) (*event.Manager, error) {
	d, err := NewDispatcher(cfg, logger)
	if err != nil {
		return nil, err
	}
	return event.NewManager(d, event.WithManagerLogger(logger.With().Str("component", "event").Logger())), nil
}

// NewDispatcher creates the dispatcher selected by cfg over the node lanes.
func NewDispatcher(cfg config.DispatcherConfig, logger zerolog.Logger) (dispatch.Dispatcher, error) {
	lanes := NewLanes()
	logger = logger.With().Str("component", "dispatch").Logger()

	switch cfg.Mode {
	case config.ModeInline:
		return dispatch.NewInlineDispatcher(lanes, dispatch.WithLogger(logger)), nil
	case config.ModePool, "":
		overflow := dispatch.OverflowBlock
		switch cfg.Overflow {
		case config.OverflowBlock, "":
		case config.OverflowReject:
			overflow = dispatch.OverflowReject
		default:
			return nil, fmt.Errorf("unknown overflow policy %q", cfg.Overflow)
		}
		return dispatch.NewPoolDispatcher(lanes,
			dispatch.WithQueueSize(cfg.QueueSize),
			dispatch.WithOverflow(overflow),
			dispatch.WithPoolLogger(logger),
		), nil
	default:
		return nil, fmt.Errorf("unknown dispatcher mode %q", cfg.Mode)
	}
}

// Create builds a subscriber owning obj, registered under key on lane with
// set 0, whose callback ignores the set id and key. It is the one-call form
// used by node components:
//
//	watcher := node.Create(m, node.OnRoundSwitch, node.LaneYac, roundState{},
//		func(s *roundState, r node.RoundSwitch) { s.current = r.Round })
//
// The subscriber stays registered while the returned value is referenced.
func Create[T any, A any](m *event.Manager, key EventType, lane dispatch.LaneID, obj T, fn func(obj *T, args A)) *event.Subscriber[EventType, A, T] {
	if fn == nil {
		panic("node: nil callback")
	}
	s := event.NewSubscriber[EventType, A, T](event.SpaceFor[EventType, A](m), obj,
		func(_ event.SetID, obj *T, _ EventType, args A) {
			fn(obj, args)
		})
	// A fresh subscriber is never closed.
	_ = s.Subscribe(m.Lanes().MustLane(lane), 0, key)
	return s
}

// Publish notifies every subscriber of key in the A space of m.
func Publish[A any](m *event.Manager, key EventType, args A) {
	event.SpaceFor[EventType, A](m).Notify(key, args)
}
