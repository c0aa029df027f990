package engine_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"kafkaburst/internal/engine"
)

// fakePublisher simulates the broker send primitive with configurable
// latency and failure behavior.
type fakePublisher struct {
	latency    time.Duration
	failAll    bool
	fatalAfter int64 // raise a fatal error on call number >= fatalAfter (0 = never)
	block      bool  // block until ctx is done

	calls int64
	mu    sync.Mutex
	seqs  []int64
}

func (f *fakePublisher) Send(ctx context.Context, topic string, msg *engine.Message) (time.Duration, error) {
	n := atomic.AddInt64(&f.calls, 1)
	f.mu.Lock()
	f.seqs = append(f.seqs, msg.Sequence)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if f.fatalAfter > 0 && n >= f.fatalAfter {
		return 0, engine.Fatal(errors.New("broker unreachable"))
	}
	if f.failAll {
		return time.Millisecond, errors.New("simulated send failure")
	}
	return time.Millisecond, nil
}

func (f *fakePublisher) sequences() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.seqs...)
}

func newTestEngine(t *testing.T, pub engine.Publisher, opts ...func(*engine.Options)) *engine.Engine {
	t.Helper()
	opt := engine.Options{
		Publisher:        pub,
		PoolSize:         4,
		SnapshotInterval: 20 * time.Millisecond,
		DrainGrace:       time.Second,
		Logger:           slog.New(slog.DiscardHandler),
		// Unthrottled unless a test opts into real pacing.
		LimiterFactory: func(int) *rate.Limiter { return rate.NewLimiter(rate.Inf, 0) },
	}
	for _, fn := range opts {
		fn(&opt)
	}
	eng, err := engine.New(opt)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(eng.Close)
	return eng
}

func validConfig(count int) engine.RunConfig {
	return engine.RunConfig{
		MessageCount: count,
		MessageRate:  100_000,
		Topic:        "load-test",
		PayloadSize:  100,
	}
}

func waitForTerminal(t *testing.T, eng *engine.Engine, timeout time.Duration) engine.Snapshot {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		snap := eng.GetStatus()
		if snap.Status.Terminal() {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run did not reach a terminal state within %s (status=%s)", timeout, eng.GetStatus().Status)
	return engine.Snapshot{}
}

func TestRunCompletesAllMessages(t *testing.T) {
	pub := &fakePublisher{latency: time.Millisecond}
	eng := newTestEngine(t, pub)

	runID, err := eng.StartRun(validConfig(50))
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if runID == "" {
		t.Fatal("expected a run id")
	}

	snap := waitForTerminal(t, eng, 5*time.Second)
	if snap.Status != engine.StatusCompleted {
		t.Fatalf("expected completed, got %s", snap.Status)
	}
	if snap.MessagesSent != 50 || snap.MessagesFailed != 0 {
		t.Fatalf("expected 50 sent / 0 failed, got %d / %d", snap.MessagesSent, snap.MessagesFailed)
	}
	if snap.ProgressPercent != 100 {
		t.Fatalf("expected progress 100, got %f", snap.ProgressPercent)
	}
	if snap.Running {
		t.Fatal("terminal snapshot must report running=false")
	}
}

func TestSequenceNumbersDenseAndUnique(t *testing.T) {
	pub := &fakePublisher{}
	eng := newTestEngine(t, pub, func(o *engine.Options) { o.PoolSize = 8 })

	const count = 500
	if _, err := eng.StartRun(validConfig(count)); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	waitForTerminal(t, eng, 5*time.Second)

	seqs := pub.sequences()
	if len(seqs) != count {
		t.Fatalf("expected %d claims, got %d", count, len(seqs))
	}
	seen := make(map[int64]bool, count)
	for _, s := range seqs {
		if s < 0 || s >= count {
			t.Fatalf("sequence %d out of range", s)
		}
		if seen[s] {
			t.Fatalf("duplicate sequence %d", s)
		}
		seen[s] = true
	}
	// seen now holds exactly count distinct in-range values: dense, no gaps.
}

func TestRunPacingApproximatesTargetRate(t *testing.T) {
	pub := &fakePublisher{}
	eng := newTestEngine(t, pub, func(o *engine.Options) {
		o.LimiterFactory = nil // real token bucket
	})

	cfg := validConfig(60)
	cfg.MessageRate = 200 // expect roughly 300ms including burst head start

	start := time.Now()
	if _, err := eng.StartRun(cfg); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	snap := waitForTerminal(t, eng, 5*time.Second)
	elapsed := time.Since(start)

	if snap.Status != engine.StatusCompleted {
		t.Fatalf("expected completed, got %s", snap.Status)
	}
	// 60 msgs at 200/s is 300ms; the burst allowance lets the first ~20
	// through immediately. Allow generous scheduling slack either way.
	if elapsed < 100*time.Millisecond || elapsed > 900*time.Millisecond {
		t.Fatalf("pacing off target: elapsed=%s", elapsed)
	}
}

func TestStartRunWhileRunningFails(t *testing.T) {
	pub := &fakePublisher{latency: 20 * time.Millisecond}
	eng := newTestEngine(t, pub)

	first, err := eng.StartRun(validConfig(1000))
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	if _, err := eng.StartRun(validConfig(10)); !errors.Is(err, engine.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	snap := eng.GetStatus()
	if snap.TestID != first {
		t.Fatalf("rejected StartRun must not disturb the active run: got id %s, want %s", snap.TestID, first)
	}
	if !snap.Running {
		t.Fatal("active run should still be running")
	}

	if err := eng.StopRun(); err != nil {
		t.Fatalf("StopRun: %v", err)
	}
}

func TestStopRunOnIdleEngine(t *testing.T) {
	eng := newTestEngine(t, &fakePublisher{})
	if err := eng.StopRun(); !errors.Is(err, engine.ErrNoActiveRun) {
		t.Fatalf("expected ErrNoActiveRun, got %v", err)
	}
}

func TestStopRunDrainsAndStops(t *testing.T) {
	pub := &fakePublisher{latency: 5 * time.Millisecond}
	eng := newTestEngine(t, pub)

	cfg := validConfig(100_000)
	cfg.MessageRate = 1000
	if _, err := eng.StartRun(cfg); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := eng.StopRun(); err != nil {
		t.Fatalf("StopRun: %v", err)
	}
	snap := eng.GetStatus()
	if snap.Status != engine.StatusStopped {
		t.Fatalf("expected stopped, got %s", snap.Status)
	}
	total := snap.MessagesSent + snap.MessagesFailed
	if total <= 0 || total > int64(cfg.MessageCount) {
		t.Fatalf("counter invariant violated: sent+failed=%d", total)
	}
}

func TestStopRunAbandonsStuckSends(t *testing.T) {
	pub := &fakePublisher{block: true}
	eng := newTestEngine(t, pub, func(o *engine.Options) {
		o.DrainGrace = 50 * time.Millisecond
	})

	if _, err := eng.StartRun(validConfig(100)); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	if err := eng.StopRun(); err != nil {
		t.Fatalf("StopRun: %v", err)
	}
	if waited := time.Since(start); waited > time.Second {
		t.Fatalf("StopRun did not honor the grace period: waited %s", waited)
	}

	snap := eng.GetStatus()
	if snap.Status != engine.StatusStopped {
		t.Fatalf("expected stopped, got %s", snap.Status)
	}
	// Every send was stuck when abandoned, so none may be counted.
	if snap.MessagesSent != 0 {
		t.Fatalf("abandoned sends must not be counted: sent=%d", snap.MessagesSent)
	}
}

func TestAllSendsFailingStillCompletes(t *testing.T) {
	pub := &fakePublisher{failAll: true}
	eng := newTestEngine(t, pub)

	if _, err := eng.StartRun(validConfig(40)); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	snap := waitForTerminal(t, eng, 5*time.Second)
	if snap.Status != engine.StatusCompleted {
		t.Fatalf("expected completed, got %s", snap.Status)
	}
	if snap.MessagesSent != 0 || snap.MessagesFailed != 40 {
		t.Fatalf("expected 0 sent / 40 failed, got %d / %d", snap.MessagesSent, snap.MessagesFailed)
	}
}

func TestFatalErrorFailsRun(t *testing.T) {
	pub := &fakePublisher{fatalAfter: 5}
	eng := newTestEngine(t, pub, func(o *engine.Options) { o.PoolSize = 2 })

	if _, err := eng.StartRun(validConfig(1000)); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	snap := waitForTerminal(t, eng, 5*time.Second)
	if snap.Status != engine.StatusFailed {
		t.Fatalf("expected failed, got %s", snap.Status)
	}
	if snap.LastError == "" {
		t.Fatal("failed run must surface last_error")
	}
	total := snap.MessagesSent + snap.MessagesFailed
	// In-flight concurrency means a few outcomes beyond the fatal one may
	// land, but never more than pool size worth.
	if total < 1 || total > 5+2 {
		t.Fatalf("unexpected accounted total after fatal: %d", total)
	}
}

func TestStartRunRejectsInvalidConfig(t *testing.T) {
	eng := newTestEngine(t, &fakePublisher{})

	cases := []engine.RunConfig{
		{MessageCount: 0, MessageRate: 10, Topic: "t", PayloadSize: 10},
		{MessageCount: 10, MessageRate: 0, Topic: "t", PayloadSize: 10},
		{MessageCount: 10, MessageRate: 10, Topic: "", PayloadSize: 10},
		{MessageCount: 10, MessageRate: 10, Topic: "t", PayloadSize: 0},
		{MessageCount: 10, MessageRate: 10, Topic: "t", PayloadSize: engine.MaxPayloadSize + 1},
		{MessageCount: engine.MaxMessageCount + 1, MessageRate: 10, Topic: "t", PayloadSize: 10},
		{MessageCount: 10, MessageRate: engine.MaxMessageRate + 1, Topic: "t", PayloadSize: 10},
	}
	for i, cfg := range cases {
		_, err := eng.StartRun(cfg)
		var verr *engine.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("case %d: expected ValidationError, got %v", i, err)
		}
	}

	if snap := eng.GetStatus(); snap.Status != engine.StatusIdle {
		t.Fatalf("rejected configs must not change state, got %s", snap.Status)
	}
}

func TestFinalSnapshotRemainsReadable(t *testing.T) {
	pub := &fakePublisher{}
	eng := newTestEngine(t, pub)

	runID, err := eng.StartRun(validConfig(20))
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	waitForTerminal(t, eng, 5*time.Second)

	// The final snapshot stays until the next run replaces it.
	for i := 0; i < 3; i++ {
		snap := eng.GetStatus()
		if snap.TestID != runID || snap.Status != engine.StatusCompleted {
			t.Fatalf("final snapshot lost: id=%s status=%s", snap.TestID, snap.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	next, err := eng.StartRun(validConfig(10))
	if err != nil {
		t.Fatalf("StartRun after completion: %v", err)
	}
	if next == runID {
		t.Fatal("new run must get a fresh id")
	}
}

func TestCountersMonotonicDuringRun(t *testing.T) {
	pub := &fakePublisher{latency: time.Millisecond}
	eng := newTestEngine(t, pub)

	cfg := validConfig(200)
	if _, err := eng.StartRun(cfg); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	var last int64
	for {
		snap := eng.GetStatus()
		total := snap.MessagesSent + snap.MessagesFailed
		if total < last {
			t.Fatalf("counters went backwards: %d -> %d", last, total)
		}
		if total > int64(cfg.MessageCount) {
			t.Fatalf("sent+failed exceeded message_count: %d", total)
		}
		last = total
		if snap.Status.Terminal() {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if last != int64(cfg.MessageCount) {
		t.Fatalf("expected final total %d, got %d", cfg.MessageCount, last)
	}
}

func TestGetStatusBeforeFirstRun(t *testing.T) {
	eng := newTestEngine(t, &fakePublisher{})
	snap := eng.GetStatus()
	if snap.Running || snap.Status != engine.StatusIdle {
		t.Fatalf("idle engine should report idle, got %+v", snap)
	}
	if snap.MessagesSent != 0 || snap.MessagesFailed != 0 {
		t.Fatal("idle snapshot must have zeroed counters")
	}
}
