// Package metrics exports dispatcher and subscription engine statistics
// to Prometheus and OpenTelemetry.
//
// Both exporters read snapshots from a Source on collection; nothing is
// recorded on the notification path.
package metrics

import (
	"github.com/dshills/ledgerbus/internal/event"
	"github.com/dshills/ledgerbus/internal/event/dispatch"
)

// Source provides the statistics the exporters read.
type Source interface {
	DispatcherStats() dispatch.Stats
	Spaces() []event.SpaceInfo
}

type managerSource struct {
	m *event.Manager
}

// NewSource returns a Source reading from m. Dispatchers that keep no
// statistics report no lanes.
func NewSource(m *event.Manager) Source {
	return managerSource{m: m}
}

func (s managerSource) DispatcherStats() dispatch.Stats {
	if r, ok := s.m.Dispatcher().(dispatch.StatsReporter); ok {
		return r.Stats()
	}
	return dispatch.Stats{}
}

func (s managerSource) Spaces() []event.SpaceInfo {
	return s.m.Spaces()
}
