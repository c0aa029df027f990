package engine

import (
	"context"

	"golang.org/x/time/rate"
)

// governor paces send admissions with a token bucket that refills at the
// target message rate. The bucket is capped at roughly one 100ms slice of
// the budget so a stall never earns an unbounded catch-up burst.
type governor struct {
	limiter *rate.Limiter
}

func newGovernor(messageRate int, factory func(int) *rate.Limiter) *governor {
	if factory == nil {
		factory = defaultLimiter
	}
	return &governor{limiter: factory(messageRate)}
}

func defaultLimiter(messageRate int) *rate.Limiter {
	if messageRate <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := messageRate / 10
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(messageRate), burst)
}

// Wait blocks until one send permit is available or ctx is done. The
// limiter returns immediately when the bucket is ahead of schedule, so
// pacing never imposes a minimum sleep at high rates.
func (g *governor) Wait(ctx context.Context) error {
	if g == nil || g.limiter == nil {
		return nil
	}
	return g.limiter.Wait(ctx)
}

// SetRate adjusts the refill rate of a running governor.
func (g *governor) SetRate(messageRate int) {
	if g == nil || g.limiter == nil {
		return
	}
	if messageRate <= 0 {
		g.limiter.SetLimit(rate.Inf)
		g.limiter.SetBurst(0)
		return
	}
	g.limiter.SetLimit(rate.Limit(messageRate))
	burst := messageRate / 10
	if burst < 1 {
		burst = 1
	}
	g.limiter.SetBurst(burst)
}
