package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Publisher abstracts sending a single message to the broker. It must be
// safe for concurrent use. A returned error counts the message as failed;
// an error wrapped with Fatal terminates the run.
type Publisher interface {
	Send(ctx context.Context, topic string, msg *Message) (time.Duration, error)
}

// Options configure the Engine.
type Options struct {
	Publisher        Publisher     // send primitive (required)
	PoolSize         int           // number of publisher workers
	SnapshotInterval time.Duration // cadence of observer snapshots
	DrainGrace       time.Duration // max wait for in-flight sends after stop
	Logger           *slog.Logger
	Metrics          MetricsRecorder
	LimiterFactory   func(messageRate int) *rate.Limiter // optional injection for tests
}

const (
	defaultPoolSize         = 5
	defaultSnapshotInterval = 500 * time.Millisecond
	defaultDrainGrace       = 5 * time.Second
)

func (o *Options) normalize() {
	if o.PoolSize <= 0 {
		o.PoolSize = defaultPoolSize
	}
	if o.SnapshotInterval <= 0 {
		o.SnapshotInterval = defaultSnapshotInterval
	}
	if o.DrainGrace <= 0 {
		o.DrainGrace = defaultDrainGrace
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Metrics == nil {
		o.Metrics = noopMetrics{}
	}
}

// runState is the single shared mutable resource of a run. All fields are
// guarded by Engine.mu; workers never touch it directly.
type runState struct {
	id     string
	cfg    RunConfig
	status Status

	sent   int64
	failed int64
	rate   float64 // smoothed, refreshed by the aggregator tick

	started time.Time
	ended   time.Time
	lastErr error

	stopCh      chan struct{}      // closed when stop is requested: no new claims
	cancel      context.CancelFunc // aborts outstanding work
	workersDone chan struct{}      // closed once every worker has exited
}

// Engine owns the run lifecycle: it validates and starts runs, serializes
// all counter mutations, and guarantees at most one active run per process.
type Engine struct {
	opt    Options
	logger *slog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	observers *fanout

	mu      sync.Mutex
	run     *runState // last run; nil before the first StartRun
	snapRev uint64    // monotonic snapshot revision, guarded by mu
}

// New creates an Engine. The publisher is required.
func New(opt Options) (*Engine, error) {
	opt.normalize()
	if opt.Publisher == nil {
		return nil, errors.New("engine: publisher is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		opt:        opt,
		logger:     opt.Logger.With("component", "engine"),
		baseCtx:    ctx,
		baseCancel: cancel,
		observers:  newFanout(),
	}, nil
}

// StartRun validates cfg, allocates a run id and begins asynchronous
// execution. It returns ErrAlreadyRunning while a run is active and a
// *ValidationError for out-of-bounds config; neither has side effects.
func (e *Engine) StartRun(cfg RunConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	e.mu.Lock()
	if e.run != nil && !e.run.status.Terminal() {
		e.mu.Unlock()
		return "", ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(e.baseCtx)
	rs := &runState{
		id:          newRunID(),
		cfg:         cfg,
		status:      StatusRunning,
		started:     time.Now(),
		stopCh:      make(chan struct{}),
		cancel:      cancel,
		workersDone: make(chan struct{}),
	}
	e.run = rs
	e.mu.Unlock()

	e.opt.Metrics.RunStarted()
	e.logger.Info("run started",
		"run_id", rs.id,
		"messages", cfg.MessageCount,
		"rate", cfg.MessageRate,
		"topic", cfg.Topic,
		"payload_size", cfg.PayloadSize,
	)

	go e.execute(ctx, rs)
	go e.aggregate(ctx, rs)

	return rs.id, nil
}

// StopRun requests a graceful stop of the active run and waits for
// in-flight sends to drain, bounded by the configured grace period. After
// the grace elapses outstanding sends are abandoned and excluded from the
// final counters.
func (e *Engine) StopRun() error {
	e.mu.Lock()
	rs := e.run
	if rs == nil || rs.status != StatusRunning {
		e.mu.Unlock()
		return ErrNoActiveRun
	}
	rs.status = StatusStopping
	close(rs.stopCh)
	e.mu.Unlock()

	e.logger.Info("stop requested, draining in-flight sends", "run_id", rs.id)

	select {
	case <-rs.workersDone:
	case <-time.After(e.opt.DrainGrace):
		e.logger.Warn("drain grace elapsed, abandoning in-flight sends",
			"run_id", rs.id, "grace", e.opt.DrainGrace)
	}

	e.mu.Lock()
	if rs.status.Terminal() {
		// Completion or failure won the race; nothing left to do.
		e.mu.Unlock()
		return nil
	}
	snap := e.finalizeLocked(rs, StatusStopped, nil)
	e.mu.Unlock()
	e.observers.publish(snap)
	return nil
}

// GetStatus never fails. Before the first run it reports an idle snapshot;
// after a run ends the final snapshot stays readable until the next
// StartRun overwrites it.
func (e *Engine) GetStatus() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run == nil {
		return Snapshot{Running: false, Status: StatusIdle}
	}
	return e.snapshotLocked(e.run)
}

// Subscribe registers an observer and returns a cancel function.
func (e *Engine) Subscribe(obs Observer) func() {
	return e.observers.subscribe(obs)
}

// Close stops any active run and releases observer goroutines.
func (e *Engine) Close() {
	if err := e.StopRun(); err != nil && !errors.Is(err, ErrNoActiveRun) {
		e.logger.Warn("stopping active run during close", "error", err)
	}
	e.baseCancel()
	e.observers.close()
}

// execute runs the scheduler and publisher pool for one run and settles
// the terminal state once every worker has exited.
func (e *Engine) execute(ctx context.Context, rs *runState) {
	gov := newGovernor(rs.cfg.MessageRate, e.opt.LimiterFactory)

	// Claims are dense sequence numbers issued behind governor permits.
	// The buffer bounds in-flight work by pool size, not message count.
	claims := make(chan int64, e.opt.PoolSize)

	// Scheduler: the single issuance point for permits and sequence
	// numbers, so claims stay strictly increasing with no gaps.
	go func() {
		defer close(claims)
		for seq := int64(0); seq < int64(rs.cfg.MessageCount); seq++ {
			if err := gov.Wait(ctx); err != nil {
				return
			}
			select {
			case claims <- seq:
			case <-rs.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(e.opt.PoolSize)
	for i := 0; i < e.opt.PoolSize; i++ {
		go func() {
			defer wg.Done()
			e.worker(ctx, rs, claims)
		}()
	}
	wg.Wait()
	close(rs.workersDone)

	e.settle(rs)
}

func (e *Engine) worker(ctx context.Context, rs *runState, claims <-chan int64) {
	for seq := range claims {
		msg := BuildMessage(seq, rs.cfg, rs.id)
		latency, err := e.opt.Publisher.Send(ctx, rs.cfg.Topic, &msg)
		e.record(rs, latency, err)
		if IsFatal(err) {
			e.fail(rs, err)
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// record is the serialized mutation path for send outcomes. Outcomes that
// resolve after the run has settled are dropped and logged indeterminate.
func (e *Engine) record(rs *runState, latency time.Duration, err error) {
	e.mu.Lock()
	if rs.status != StatusRunning && rs.status != StatusStopping {
		e.mu.Unlock()
		e.logger.Warn("send outcome resolved after run settled, not counted",
			"run_id", rs.id, "error", err)
		return
	}
	if err != nil {
		rs.failed++
	} else {
		rs.sent++
	}

	var snap Snapshot
	completed := false
	if rs.status == StatusRunning && rs.sent+rs.failed >= int64(rs.cfg.MessageCount) {
		snap = e.finalizeLocked(rs, StatusCompleted, nil)
		completed = true
	}
	e.mu.Unlock()

	e.opt.Metrics.RecordSend(latency, err)
	if completed {
		e.observers.publish(snap)
	}
}

// fail moves the run to Failed on the first fatal error; later fatals are
// no-ops. Partial counters are preserved.
func (e *Engine) fail(rs *runState, err error) {
	e.mu.Lock()
	if rs.status.Terminal() {
		e.mu.Unlock()
		return
	}
	snap := e.finalizeLocked(rs, StatusFailed, err)
	e.mu.Unlock()

	e.logger.Error("run failed", "run_id", rs.id, "error", err)
	e.observers.publish(snap)
}

// settle closes out a run whose workers exited without reaching a terminal
// transition, which happens when the parent context is cancelled.
func (e *Engine) settle(rs *runState) {
	e.mu.Lock()
	if rs.status != StatusRunning {
		e.mu.Unlock()
		return
	}
	snap := e.finalizeLocked(rs, StatusStopped, nil)
	e.mu.Unlock()
	e.observers.publish(snap)
}

// finalizeLocked performs the terminal transition. Callers hold e.mu and
// must publish the returned snapshot after unlocking.
func (e *Engine) finalizeLocked(rs *runState, status Status, err error) Snapshot {
	rs.status = status
	rs.ended = time.Now()
	if err != nil {
		rs.lastErr = err
	}
	rs.cancel()

	duration := rs.ended.Sub(rs.started)
	if duration > 0 {
		rs.rate = float64(rs.sent+rs.failed) / duration.Seconds()
	}

	e.opt.Metrics.RunCompleted(status, duration)
	e.logger.Info("run finished",
		"run_id", rs.id,
		"status", string(status),
		"sent", rs.sent,
		"failed", rs.failed,
		"duration", duration,
	)
	return e.snapshotLocked(rs)
}

// snapshotLocked projects rs into a Snapshot. Caller holds e.mu, so the
// counter tuple is read atomically.
func (e *Engine) snapshotLocked(rs *runState) Snapshot {
	total := rs.sent + rs.failed
	progress := 100 * float64(total) / float64(rs.cfg.MessageCount)
	if progress > 100 {
		progress = 100
	}

	var elapsed float64
	if rs.status.Terminal() {
		elapsed = rs.ended.Sub(rs.started).Seconds()
	} else {
		elapsed = time.Since(rs.started).Seconds()
	}

	var lastErr string
	if rs.lastErr != nil {
		lastErr = rs.lastErr.Error()
	}

	started := rs.started
	cfg := rs.cfg
	e.snapRev++
	return Snapshot{
		rev:             e.snapRev,
		Running:         rs.status == StatusRunning || rs.status == StatusStopping,
		TestID:          rs.id,
		Status:          rs.status,
		MessagesSent:    rs.sent,
		MessagesFailed:  rs.failed,
		CurrentRate:     rs.rate,
		ElapsedSeconds:  elapsed,
		ProgressPercent: progress,
		StartedAt:       &started,
		Config:          &cfg,
		LastError:       lastErr,
	}
}
