package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	Runs             *prometheus.CounterVec
	Fetched          prometheus.Counter
	Skipped          prometheus.Counter
	Classified       *prometheus.CounterVec
	Actions          *prometheus.CounterVec
	CoalescedRuns    prometheus.Counter
	RunDuration      prometheus.Histogram
	LastRunTimestamp prometheus.Gauge
	RecordsDeleted   prometheus.Counter
}

// NewMetrics creates the metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smart_mailer_runs_total",
			Help: "Total number of pipeline runs by result",
		}, []string{"result"}),
		Fetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "smart_mailer_messages_fetched_total",
			Help: "Total number of messages fetched from the mailbox",
		}),
		Skipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "smart_mailer_messages_skipped_total",
			Help: "Total number of fetched messages that were already processed",
		}),
		Classified: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smart_mailer_messages_classified_total",
			Help: "Total number of classified messages by category",
		}, []string{"category"}),
		Actions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smart_mailer_actions_total",
			Help: "Total number of dispatched actions by action and status",
		}, []string{"action", "status"}),
		CoalescedRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "smart_mailer_coalesced_triggers_total",
			Help: "Total number of triggers ignored because a run was in flight",
		}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "smart_mailer_run_duration_seconds",
			Help:    "Time spent in a pipeline run",
			Buckets: prometheus.DefBuckets,
		}),
		LastRunTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "smart_mailer_last_run_timestamp_seconds",
			Help: "Unix time of the last completed pipeline run",
		}),
		RecordsDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "smart_mailer_records_deleted_total",
			Help: "Total number of email records removed by retention cleanup",
		}),
	}
}

// ObserveRun records a finished run
func (m *Metrics) ObserveRun(result string, fetched, skipped int, duration time.Duration) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(result).Inc()
	m.Fetched.Add(float64(fetched))
	m.Skipped.Add(float64(skipped))
	m.RunDuration.Observe(duration.Seconds())
	m.LastRunTimestamp.SetToCurrentTime()
}

// ObserveClassified counts one classification
func (m *Metrics) ObserveClassified(category string) {
	if m == nil {
		return
	}
	m.Classified.WithLabelValues(category).Inc()
}

// ObserveAction counts one dispatched action
func (m *Metrics) ObserveAction(action, status string) {
	if m == nil {
		return
	}
	m.Actions.WithLabelValues(action, status).Inc()
}

// ObserveCoalesced counts a trigger dropped while a run was in flight
func (m *Metrics) ObserveCoalesced() {
	if m == nil {
		return
	}
	m.CoalescedRuns.Inc()
}

// ObserveDeleted counts records removed by retention cleanup
func (m *Metrics) ObserveDeleted(n int64) {
	if m == nil {
		return
	}
	m.RecordsDeleted.Add(float64(n))
}
