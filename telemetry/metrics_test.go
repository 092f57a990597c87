package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	first := ChatMessages
	Init()
	if ChatMessages != first {
		t.Error("Init re-registered metrics")
	}

	if ChatMessages == nil {
		t.Error("ChatMessages not initialized")
	}
	if HTTPRetries == nil {
		t.Error("HTTPRetries not initialized")
	}
	if EnginePolls == nil {
		t.Error("EnginePolls not initialized")
	}
	if Heartbeats == nil {
		t.Error("Heartbeats not initialized")
	}
	if Fallbacks == nil {
		t.Error("Fallbacks not initialized")
	}
	if HTTPRequestDuration == nil {
		t.Error("HTTPRequestDuration not initialized")
	}
	if BufferedRecords == nil {
		t.Error("BufferedRecords not initialized")
	}
}

func TestCounterHelpers(t *testing.T) {
	Init()

	// None of these should panic, registered or not.
	CountMessage("youtube", "superchat")
	CountRetry("status_503")
	CountPoll("poll")
	SetBufferedRecords(42)
	ObserveRequest("watch", 120*time.Millisecond)
}

func TestCountMessageIncrements(t *testing.T) {
	Init()

	c := ChatMessages.WithLabelValues("twitch", "message")
	before := counterValue(t, c)
	CountMessage("twitch", "message")
	after := counterValue(t, c)
	if after != before+1 {
		t.Errorf("counter = %v, want %v", after, before+1)
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return metric.GetCounter().GetValue()
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	Init()

	testHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration",
		Buckets: prometheus.DefBuckets,
	})
	prometheus.MustRegister(testHistogram)
	defer prometheus.Unregister(testHistogram)

	executed := false
	duration := TimeFunc(testHistogram, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})

	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if duration < 10*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 10ms", duration)
	}

	metric := &dto.Metric{}
	if err := testHistogram.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Histogram == nil {
		t.Fatal("Histogram metric is nil")
	}
	if *metric.Histogram.SampleCount == 0 {
		t.Error("TimeFunc did not record observation in histogram")
	}
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if got := GetCorrelation(ctx); got != "" {
		t.Errorf("GetCorrelation(empty ctx) = %q", got)
	}

	ctx = WithCorrelation(ctx, "abc-123")
	if got := GetCorrelation(ctx); got != "abc-123" {
		t.Errorf("GetCorrelation = %q, want abc-123", got)
	}

	if LoggerWithCorr(ctx) == nil {
		t.Error("LoggerWithCorr returned nil")
	}
}
