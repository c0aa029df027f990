package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"kafkaburst/internal/engine"
)

const namespace = "kafkaburst"

var (
	sendDurationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	testDurationBuckets = []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600}
)

// Recorder implements engine.MetricsRecorder on top of a Prometheus
// registry and the in-process latency collector.
type Recorder struct {
	collector *Collector

	messagesSent    prometheus.Counter
	messagesFailed  prometheus.Counter
	testsStarted    prometheus.Counter
	testsCompleted  *prometheus.CounterVec
	activeTest      prometheus.Gauge
	currentRate     prometheus.Gauge
	progressPercent prometheus.Gauge
	sendDuration    prometheus.Histogram
	testDuration    prometheus.Histogram
}

// NewRecorder builds a Recorder and registers its metrics with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		collector: NewCollector(),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Total number of messages sent to the broker",
		}),
		messagesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_failed_total",
			Help:      "Total number of messages that failed to send",
		}),
		testsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tests_started_total",
			Help:      "Total number of load tests started",
		}),
		testsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tests_completed_total",
			Help:      "Total number of load tests finished, by terminal status",
		}, []string{"status"}),
		activeTest: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_test",
			Help:      "Whether a load test is currently running (1=yes, 0=no)",
		}),
		currentRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_rate",
			Help:      "Current message sending rate (messages/second)",
		}),
		progressPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "progress_percent",
			Help:      "Progress percentage of the current test (0-100)",
		}),
		sendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_send_duration_seconds",
			Help:      "Time to send a message to the broker",
			Buckets:   sendDurationBuckets,
		}),
		testDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "test_duration_seconds",
			Help:      "Total duration of load tests",
			Buckets:   testDurationBuckets,
		}),
	}

	collectors := []prometheus.Collector{
		r.messagesSent, r.messagesFailed, r.testsStarted, r.testsCompleted,
		r.activeTest, r.currentRate, r.progressPercent,
		r.sendDuration, r.testDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
	return r
}

// RunStarted resets the per-run collector and marks a test active.
func (r *Recorder) RunStarted() {
	r.collector.Reset()
	r.testsStarted.Inc()
	r.activeTest.Set(1)
}

// RunCompleted records the terminal status and clears the live gauges.
func (r *Recorder) RunCompleted(status engine.Status, duration time.Duration) {
	r.testsCompleted.WithLabelValues(string(status)).Inc()
	r.testDuration.Observe(duration.Seconds())
	r.activeTest.Set(0)
	r.currentRate.Set(0)
	r.progressPercent.Set(0)
}

// RecordSend feeds one send outcome to both sinks.
func (r *Recorder) RecordSend(latency time.Duration, err error) {
	r.collector.RecordSend(latency, err)
	r.sendDuration.Observe(latency.Seconds())
	if err != nil {
		r.messagesFailed.Inc()
		return
	}
	r.messagesSent.Inc()
}

// RecordProgress refreshes the live rate and progress gauges.
func (r *Recorder) RecordProgress(currentRate, progressPercent float64) {
	r.currentRate.Set(currentRate)
	r.progressPercent.Set(progressPercent)
}

// LatencyStats returns the current run's latency statistics.
func (r *Recorder) LatencyStats() Stats {
	return r.collector.Stats()
}
