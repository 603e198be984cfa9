// Package metrics provides Prometheus metrics for sequela service operations.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder publishes operation outcomes and row counts.
type Recorder struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	rows       *prometheus.CounterVec
}

// NewRecorder registers the collectors on reg. A nil reg uses the default registerer.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Recorder{
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sequelacore",
				Subsystem: "service",
				Name:      "operations_total",
				Help:      "Total number of service operations by outcome",
			},
			[]string{"operation", "status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sequelacore",
				Subsystem: "service",
				Name:      "operation_duration_seconds",
				Help:      "Duration of service operations in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation"},
		),
		rows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sequelacore",
				Subsystem: "request",
				Name:      "rows_total",
				Help:      "Rows written by request documents by table and action",
			},
			[]string{"table", "action"},
		),
	}
}

// Observe records one service operation outcome.
func (r *Recorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.operations.WithLabelValues(operation, status).Inc()
	r.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Rows adds n rows written to table with action.
func (r *Recorder) Rows(table, action string, n int) {
	if n <= 0 {
		return
	}
	r.rows.WithLabelValues(table, action).Add(float64(n))
}
