package jsondb

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jsondb_operations_total",
			Help: "Store operations by result.",
		},
		[]string{
			"op",
			"result", // ok, or the lowercase error code.
		},
	)
	metricDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jsondb_operation_duration_seconds",
			Help:    "Store operation duration.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.100, 0.5, 1, 5},
		},
		[]string{"op"},
	)
)

// observe records the outcome of op, started at start. Use with defer and a
// named error result.
func observe(op string, start time.Time, err *error) {
	result := "ok"
	if *err != nil {
		result = "error"
		if code := CodeOf(*err); code != "" {
			result = strings.ToLower(string(code))
		}
	}
	metricOperations.WithLabelValues(op, result).Inc()
	metricDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
