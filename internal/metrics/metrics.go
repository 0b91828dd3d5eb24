// Package metrics holds the Prometheus instrumentation shared across
// services. A single Set is created at startup and handed to whoever
// records or serves metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Set struct {
	Registry *prometheus.Registry

	TasksCreated    prometheus.Counter
	TasksDispatched prometheus.Counter
	TasksCompleted  prometheus.Counter
	TasksRetried    prometheus.Counter
	TasksFailed     prometheus.Counter

	AttemptDuration prometheus.Histogram

	MonitorTicks       prometheus.Counter
	MonitorChanges     prometheus.Counter
	MonitorFetchErrors prometheus.Counter
	MonitorAutoOrders  prometheus.Counter

	NotificationsSent   prometheus.Counter
	NotificationsFailed prometheus.Counter
}

func New() *Set {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "snipebot", Name: name, Help: help,
		})
		reg.MustRegister(c)
		return c
	}

	s := &Set{
		Registry: reg,

		TasksCreated:    counter("queue_tasks_created_total", "Queue tasks created."),
		TasksDispatched: counter("queue_tasks_dispatched_total", "Purchase attempts started."),
		TasksCompleted:  counter("queue_tasks_completed_total", "Tasks completed with an order."),
		TasksRetried:    counter("queue_tasks_retried_total", "Transient failures scheduled for retry."),
		TasksFailed:     counter("queue_tasks_failed_total", "Tasks ended in the failed state."),

		MonitorTicks:       counter("monitor_ticks_total", "Monitor poll cycles."),
		MonitorChanges:     counter("monitor_changes_total", "Availability transitions detected."),
		MonitorFetchErrors: counter("monitor_fetch_errors_total", "Catalog fetch failures during polling."),
		MonitorAutoOrders:  counter("monitor_auto_orders_total", "Orders enqueued by availability transitions."),

		NotificationsSent:   counter("notifications_sent_total", "Notifications delivered."),
		NotificationsFailed: counter("notifications_failed_total", "Notifications dropped after retries."),
	}

	s.AttemptDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "snipebot",
		Name:      "purchase_attempt_seconds",
		Help:      "Wall time of one purchase attempt.",
		Buckets:   prometheus.DefBuckets,
	})
	reg.MustRegister(s.AttemptDuration)

	return s
}
