// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	ChatMessages *prometheus.CounterVec // platform, kind
	HTTPRetries  *prometheus.CounterVec // reason
	EnginePolls  *prometheus.CounterVec // phase
	Heartbeats   prometheus.Counter
	Fallbacks    prometheus.Counter

	// Histograms (seconds)
	HTTPRequestDuration *prometheus.HistogramVec // endpoint

	// Gauges
	BufferedRecords prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ChatMessages = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_messages_total", Help: "Number of chat records captured"}, []string{"platform", "kind"})
		HTTPRetries = promauto.NewCounterVec(prometheus.CounterOpts{Name: "http_retries_total", Help: "Number of HTTP request retries"}, []string{"reason"})
		EnginePolls = promauto.NewCounterVec(prometheus.CounterOpts{Name: "engine_polls_total", Help: "Number of engine poll iterations"}, []string{"phase"})
		Heartbeats = promauto.NewCounter(prometheus.CounterOpts{Name: "heartbeats_total", Help: "Number of heartbeat requests sent"})
		Fallbacks = promauto.NewCounter(prometheus.CounterOpts{Name: "fallbacks_total", Help: "Number of API to HTML fallback transitions"})
		HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "http_request_seconds", Help: "HTTP request duration seconds", Buckets: prometheus.DefBuckets}, []string{"endpoint"})
		BufferedRecords = promauto.NewGauge(prometheus.GaugeOpts{Name: "buffered_records", Help: "Current number of buffered chat records"})
	})
}

// CountMessage increments the capture counter for one record.
func CountMessage(platform, kind string) {
	if ChatMessages != nil {
		ChatMessages.WithLabelValues(platform, kind).Inc()
	}
}

// CountRetry increments the retry counter for the given reason.
func CountRetry(reason string) {
	if HTTPRetries != nil {
		HTTPRetries.WithLabelValues(reason).Inc()
	}
}

// CountPoll increments the poll counter for the given engine phase.
func CountPoll(phase string) {
	if EnginePolls != nil {
		EnginePolls.WithLabelValues(phase).Inc()
	}
}

// SetBufferedRecords records the current buffer size.
func SetBufferedRecords(n int) {
	if BufferedRecords != nil {
		BufferedRecords.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// ObserveRequest records one HTTP request duration for an endpoint label.
func ObserveRequest(endpoint string, d time.Duration) {
	if HTTPRequestDuration != nil {
		HTTPRequestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
