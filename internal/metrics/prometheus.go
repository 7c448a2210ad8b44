package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector is a prometheus.Collector over a Source.
type Collector struct {
	source Source

	enqueued   *prometheus.Desc
	delayed    *prometheus.Desc
	executed   *prometheus.Desc
	panicked   *prometheus.Desc
	dropped    *prometheus.Desc
	busy       *prometheus.Desc
	queueDepth *prometheus.Desc
	pending    *prometheus.Desc
	disposed   *prometheus.Desc

	notifications  *prometheus.Desc
	submitted      *prometheus.Desc
	submitFailures *prometheus.Desc
	pruned         *prometheus.Desc
	subscriptions  *prometheus.Desc
}

// NewCollector creates a collector whose metric names start with namespace.
func NewCollector(namespace string, source Source) *Collector {
	lane := []string{"lane"}
	space := []string{"space"}
	desc := func(subsystem, name, help string, labels []string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
	}

	return &Collector{
		source: source,

		enqueued:   desc("dispatch", "tasks_enqueued_total", "Tasks accepted into a lane queue.", lane),
		delayed:    desc("dispatch", "tasks_delayed_total", "Tasks accepted through delayed scheduling.", lane),
		executed:   desc("dispatch", "tasks_executed_total", "Tasks run by a lane.", lane),
		panicked:   desc("dispatch", "tasks_panicked_total", "Tasks that panicked.", lane),
		dropped:    desc("dispatch", "tasks_dropped_total", "Tasks rejected or discarded.", lane),
		busy:       desc("dispatch", "task_seconds_total", "Time spent running tasks.", lane),
		queueDepth: desc("dispatch", "queue_depth", "Tasks waiting in a lane queue.", lane),
		pending:    desc("dispatch", "pending_delayed", "Delayed tasks not yet due.", lane),
		disposed:   desc("dispatch", "disposed", "1 once the dispatcher has been disposed.", nil),

		notifications:  desc("event", "notifications_total", "Notify calls on an engine.", space),
		submitted:      desc("event", "tasks_submitted_total", "Notification tasks accepted by the dispatcher.", space),
		submitFailures: desc("event", "submit_failures_total", "Notification tasks the dispatcher refused.", space),
		pruned:         desc("event", "pruned_total", "Registrations pruned after their subscriber was collected.", space),
		subscriptions:  desc("event", "subscriptions", "Current registrations.", space),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.enqueued, c.delayed, c.executed, c.panicked, c.dropped, c.busy,
		c.queueDepth, c.pending, c.disposed,
		c.notifications, c.submitted, c.submitFailures, c.pruned, c.subscriptions,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.DispatcherStats()
	for _, l := range stats.Lanes {
		counter := func(d *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, l.Name)
		}
		gauge := func(d *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, l.Name)
		}
		counter(c.enqueued, float64(l.Enqueued))
		counter(c.delayed, float64(l.Delayed))
		counter(c.executed, float64(l.Executed))
		counter(c.panicked, float64(l.Panicked))
		counter(c.dropped, float64(l.Dropped))
		counter(c.busy, l.TotalDuration.Seconds())
		gauge(c.queueDepth, float64(l.QueueDepth))
		gauge(c.pending, float64(l.PendingDelayed))
	}
	disposed := 0.0
	if stats.Disposed {
		disposed = 1
	}
	ch <- prometheus.MustNewConstMetric(c.disposed, prometheus.GaugeValue, disposed)

	for _, s := range c.source.Spaces() {
		ch <- prometheus.MustNewConstMetric(c.notifications, prometheus.CounterValue, float64(s.Stats.Notifications), s.Name)
		ch <- prometheus.MustNewConstMetric(c.submitted, prometheus.CounterValue, float64(s.Stats.Submitted), s.Name)
		ch <- prometheus.MustNewConstMetric(c.submitFailures, prometheus.CounterValue, float64(s.Stats.SubmitFailures), s.Name)
		ch <- prometheus.MustNewConstMetric(c.pruned, prometheus.CounterValue, float64(s.Stats.Pruned), s.Name)
		ch <- prometheus.MustNewConstMetric(c.subscriptions, prometheus.GaugeValue, float64(s.Stats.Subscriptions), s.Name)
	}
}

// NewRegistry returns a registry holding c and the Go runtime collectors.
// It does not touch the global Prometheus registry.
func NewRegistry(c *Collector) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	for _, col := range []prometheus.Collector{
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Handler serves the metrics of reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
