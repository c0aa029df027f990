// Package metrics records send outcomes for the load-test engine.
//
// Two sinks are maintained: an in-process [Collector] tracking latency
// percentiles and an error breakdown for the current run, and a Prometheus
// registry exposing the counters, gauges and histograms scraped from
// /metrics. [Recorder] ties both together and plugs into the engine as its
// MetricsRecorder.
package metrics
