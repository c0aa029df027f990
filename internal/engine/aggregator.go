package engine

import (
	"context"
	"time"
)

// rateWindowTicks bounds the moving window used for current_rate: with the
// default 500ms cadence the rate reflects roughly the last 2.5 seconds.
const rateWindowTicks = 5

type rateSample struct {
	at    time.Time
	total int64
}

// aggregate pushes a snapshot to observers on every tick while the run is
// active. The terminal snapshot is emitted by the finalize path, so the
// loop exits as soon as it observes a settled run.
func (e *Engine) aggregate(ctx context.Context, rs *runState) {
	ticker := time.NewTicker(e.opt.SnapshotInterval)
	defer ticker.Stop()

	window := make([]rateSample, 0, rateWindowTicks+1)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		e.mu.Lock()
		if rs.status.Terminal() {
			e.mu.Unlock()
			return
		}
		now := time.Now()
		total := rs.sent + rs.failed
		window = append(window, rateSample{at: now, total: total})
		if len(window) > rateWindowTicks {
			window = window[1:]
		}
		rs.rate = movingRate(window, rs.started, now, total)
		snap := e.snapshotLocked(rs)
		e.mu.Unlock()

		e.observers.publish(snap)
		e.opt.Metrics.RecordProgress(snap.CurrentRate, snap.ProgressPercent)
	}
}

// movingRate computes messages accounted for per second over the sample
// window, falling back to the lifetime average until the window has at
// least two samples.
func movingRate(window []rateSample, started, now time.Time, total int64) float64 {
	if len(window) >= 2 {
		first := window[0]
		last := window[len(window)-1]
		span := last.at.Sub(first.at).Seconds()
		if span > 0 {
			return float64(last.total-first.total) / span
		}
	}
	elapsed := now.Sub(started).Seconds()
	if elapsed > 0 {
		return float64(total) / elapsed
	}
	return 0
}
