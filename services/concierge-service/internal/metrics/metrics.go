package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the delivery and sweep counters. A nil *Metrics records nothing.
type Metrics struct {
	channelResults  *prometheus.CounterVec
	outcomes        *prometheus.CounterVec
	channelDuration *prometheus.HistogramVec
	sweeps          *prometheus.CounterVec
	sweepDuration   prometheus.Histogram
	reminders       *prometheus.CounterVec
	inflight        prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		channelResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "concierge",
				Name:      "notification_channel_results_total",
				Help:      "Per-channel notification results",
			},
			[]string{"channel", "occasion", "status"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "concierge",
				Name:      "notification_outcomes_total",
				Help:      "Aggregate notification outcomes",
			},
			[]string{"occasion", "status"},
		),
		channelDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "concierge",
				Name:      "notification_channel_duration_seconds",
				Help:      "Time spent in a single notifier call",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"channel"},
		),
		sweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "concierge",
				Name:      "reminder_sweeps_total",
				Help:      "Reminder sweeps by result",
			},
			[]string{"result"},
		),
		sweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "concierge",
				Name:      "reminder_sweep_duration_seconds",
				Help:      "Duration of a reminder sweep",
				Buckets:   prometheus.DefBuckets,
			},
		),
		reminders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "concierge",
				Name:      "reminders_total",
				Help:      "Reminder attempts by result",
			},
			[]string{"result"},
		),
		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "concierge",
				Name:      "background_dispatches_in_flight",
				Help:      "Dispatches submitted and not yet finished",
			},
		),
	}
	reg.MustRegister(m.channelResults, m.outcomes, m.channelDuration, m.sweeps, m.sweepDuration, m.reminders, m.inflight)
	return m
}

func (m *Metrics) ObserveChannel(channel, occasion, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.channelResults.WithLabelValues(channel, occasion, status).Inc()
	m.channelDuration.WithLabelValues(channel).Observe(d.Seconds())
}

func (m *Metrics) ObserveOutcome(occasion, status string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(occasion, status).Inc()
}

func (m *Metrics) ObserveSweep(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(result).Inc()
	m.sweepDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveReminder(result string) {
	if m == nil {
		return
	}
	m.reminders.WithLabelValues(result).Inc()
}

func (m *Metrics) InflightAdd(delta float64) {
	if m == nil {
		return
	}
	m.inflight.Add(delta)
}
