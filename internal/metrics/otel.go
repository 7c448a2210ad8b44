package metrics

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrNilMeter is returned by NewOTelExporter when meter is nil.
	ErrNilMeter = errors.New("nil meter")

	// ErrNilSource is returned by NewOTelExporter when source is nil.
	ErrNilSource = errors.New("nil metrics source")
)

// OTelExporter publishes Source snapshots as OpenTelemetry observable
// instruments. Values are read when the meter provider collects.
type OTelExporter struct {
	source       Source
	registration metric.Registration

	enqueued   metric.Int64ObservableCounter
	delayed    metric.Int64ObservableCounter
	executed   metric.Int64ObservableCounter
	panicked   metric.Int64ObservableCounter
	dropped    metric.Int64ObservableCounter
	queueDepth metric.Int64ObservableGauge
	pending    metric.Int64ObservableGauge

	notifications metric.Int64ObservableCounter
	submitted     metric.Int64ObservableCounter
	pruned        metric.Int64ObservableCounter
	subscriptions metric.Int64ObservableGauge
}

// NewOTelExporter registers the exporter's instruments with meter.
func NewOTelExporter(meter metric.Meter, source Source) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source}
	var observables []metric.Observable

	counter := func(dst *metric.Int64ObservableCounter, name, help string) error {
		ins, err := meter.Int64ObservableCounter(name, metric.WithDescription(help))
		if err != nil {
			return fmt.Errorf("create observable counter %s: %w", name, err)
		}
		*dst = ins
		observables = append(observables, ins)
		return nil
	}
	gauge := func(dst *metric.Int64ObservableGauge, name, help string) error {
		ins, err := meter.Int64ObservableGauge(name, metric.WithDescription(help))
		if err != nil {
			return fmt.Errorf("create observable gauge %s: %w", name, err)
		}
		*dst = ins
		observables = append(observables, ins)
		return nil
	}

	err := errors.Join(
		counter(&e.enqueued, "ledgerbus.dispatch.tasks.enqueued", "Tasks accepted into a lane queue."),
		counter(&e.delayed, "ledgerbus.dispatch.tasks.delayed", "Tasks accepted through delayed scheduling."),
		counter(&e.executed, "ledgerbus.dispatch.tasks.executed", "Tasks run by a lane."),
		counter(&e.panicked, "ledgerbus.dispatch.tasks.panicked", "Tasks that panicked."),
		counter(&e.dropped, "ledgerbus.dispatch.tasks.dropped", "Tasks rejected or discarded."),
		gauge(&e.queueDepth, "ledgerbus.dispatch.queue.depth", "Tasks waiting in a lane queue."),
		gauge(&e.pending, "ledgerbus.dispatch.pending_delayed", "Delayed tasks not yet due."),
		counter(&e.notifications, "ledgerbus.event.notifications", "Notify calls on an engine."),
		counter(&e.submitted, "ledgerbus.event.tasks.submitted", "Notification tasks accepted by the dispatcher."),
		counter(&e.pruned, "ledgerbus.event.pruned", "Registrations pruned after their subscriber was collected."),
		gauge(&e.subscriptions, "ledgerbus.event.subscriptions", "Current registrations."),
	)
	if err != nil {
		return nil, err
	}

	registration, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	for _, l := range e.source.DispatcherStats().Lanes {
		attrs := metric.WithAttributes(attribute.String("lane", l.Name))
		o.ObserveInt64(e.enqueued, int64(l.Enqueued), attrs)
		o.ObserveInt64(e.delayed, int64(l.Delayed), attrs)
		o.ObserveInt64(e.executed, int64(l.Executed), attrs)
		o.ObserveInt64(e.panicked, int64(l.Panicked), attrs)
		o.ObserveInt64(e.dropped, int64(l.Dropped), attrs)
		o.ObserveInt64(e.queueDepth, int64(l.QueueDepth), attrs)
		o.ObserveInt64(e.pending, int64(l.PendingDelayed), attrs)
	}
	for _, s := range e.source.Spaces() {
		attrs := metric.WithAttributes(attribute.String("space", s.Name))
		o.ObserveInt64(e.notifications, int64(s.Stats.Notifications), attrs)
		o.ObserveInt64(e.submitted, int64(s.Stats.Submitted), attrs)
		o.ObserveInt64(e.pruned, int64(s.Stats.Pruned), attrs)
		o.ObserveInt64(e.subscriptions, int64(s.Stats.Subscriptions), attrs)
	}
	return nil
}

// Close unregisters the exporter's callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
