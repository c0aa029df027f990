package engine

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestGovernorPacesConcurrentWaiters(t *testing.T) {
	gov := newGovernor(100, nil)
	ctx := context.Background()

	// Drain the initial burst allowance so the measurement starts from an
	// empty bucket.
	burst := 100 / 10
	for i := 0; i < burst; i++ {
		if err := gov.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}

	const permits = 20
	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(4)
	remaining := make(chan struct{}, permits)
	for i := 0; i < permits; i++ {
		remaining <- struct{}{}
	}
	close(remaining)
	for w := 0; w < 4; w++ {
		go func() {
			defer wg.Done()
			for range remaining {
				if err := gov.Wait(ctx); err != nil {
					t.Errorf("Wait: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	// 20 permits at 100/s from an empty bucket is 200ms.
	if elapsed < 120*time.Millisecond || elapsed > 600*time.Millisecond {
		t.Fatalf("pacing off: %d permits in %s at 100/s", permits, elapsed)
	}
}

func TestGovernorHighRateDoesNotCapThroughput(t *testing.T) {
	gov := newGovernor(100_000, nil)
	ctx := context.Background()

	const permits = 5000
	start := time.Now()
	for i := 0; i < permits; i++ {
		if err := gov.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	elapsed := time.Since(start)

	// 5000 permits at 100k/s is 50ms of budget; pacing overhead must not
	// balloon that. Generous ceiling for slow CI machines.
	if elapsed > 500*time.Millisecond {
		t.Fatalf("pacing overhead dominates at high rate: %s for %d permits", elapsed, permits)
	}
}

func TestGovernorWaitHonorsContext(t *testing.T) {
	gov := newGovernor(1, nil)
	ctx, cancel := context.WithCancel(context.Background())

	// Exhaust the bucket, then cancel while a waiter is suspended.
	if err := gov.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- gov.Wait(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected context error from cancelled Wait")
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after cancel")
	}
}

func TestGovernorSetRateTakesEffect(t *testing.T) {
	gov := newGovernor(1, nil)
	ctx := context.Background()

	if err := gov.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	gov.SetRate(100_000)

	start := time.Now()
	for i := 0; i < 1000; i++ {
		if err := gov.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	// 1000 permits at the old 1/s rate would take minutes; at 100k/s the
	// budget is 10ms.
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("rate change not applied: 1000 permits took %s", elapsed)
	}
}

func TestGovernorBurstBounded(t *testing.T) {
	gov := newGovernor(1000, nil)
	ctx := context.Background()

	// After a long idle period the bucket holds at most one 100ms slice of
	// the rate, so at most ~100 permits issue instantly.
	time.Sleep(300 * time.Millisecond)

	instant := 0
	deadline := time.Now().Add(20 * time.Millisecond)
	for time.Now().Before(deadline) {
		if err := gov.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
		instant++
	}
	// 100 burst + ~20ms of refill (20 permits) plus slack.
	if instant > 200 {
		t.Fatalf("burst not bounded: %d permits issued in 20ms at 1000/s", instant)
	}
}
