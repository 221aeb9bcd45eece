package queue

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	processed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	depth     *prometheus.GaugeVec
	alerts    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fulfillment",
			Subsystem: "queue",
			Name:      "jobs_processed_total",
			Help:      "Job attempts by queue, type and outcome.",
		}, []string{"queue", "type", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fulfillment",
			Subsystem: "queue",
			Name:      "job_duration_ms",
			Help:      "Handler execution time in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"queue", "type"}),
		depth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fulfillment",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Jobs per queue and status.",
		}, []string{"queue", "status"}),
		alerts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fulfillment",
			Subsystem: "saga",
			Name:      "operator_alerts_total",
			Help:      "Terminal failures of critical job types.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.processed, m.duration, m.depth, m.alerts)
	}
	return m
}

func (m *Metrics) observe(queueName, jobType, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.processed.WithLabelValues(queueName, jobType, outcome).Inc()
	m.duration.WithLabelValues(queueName, jobType).Observe(float64(elapsed.Milliseconds()))
}

// Alert counts a critical-set terminal failure.
func (m *Metrics) Alert() {
	if m == nil {
		return
	}
	m.alerts.Inc()
}

// WatchDepth polls queue stats into the depth gauge until ctx is done.
func (m *Metrics) WatchDepth(ctx context.Context, q Queue, queues []string, interval time.Duration) {
	if m == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for _, name := range queues {
			stats, err := q.Stats(ctx, name)
			if err != nil {
				continue
			}
			m.depth.WithLabelValues(name, string(StatusPending)).Set(float64(stats.Pending))
			m.depth.WithLabelValues(name, string(StatusActive)).Set(float64(stats.Active))
			m.depth.WithLabelValues(name, string(StatusFailed)).Set(float64(stats.Failed))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
