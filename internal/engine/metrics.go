package engine

import "time"

// MetricsRecorder receives raw counter values and observations from the
// engine. Formatting and exporting are owned by the implementation.
type MetricsRecorder interface {
	// RunStarted fires when a run transitions to running.
	RunStarted()
	// RunCompleted fires once per run with its terminal status and duration.
	RunCompleted(status Status, duration time.Duration)
	// RecordSend fires for every counted send outcome.
	RecordSend(latency time.Duration, err error)
	// RecordProgress fires on each aggregator tick with the smoothed rate
	// and clamped progress percentage.
	RecordProgress(currentRate, progressPercent float64)
}

type noopMetrics struct{}

func (noopMetrics) RunStarted()                        {}
func (noopMetrics) RunCompleted(Status, time.Duration) {}
func (noopMetrics) RecordSend(time.Duration, error)    {}
func (noopMetrics) RecordProgress(float64, float64)    {}
