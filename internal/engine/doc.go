// Package engine provides the core load test execution engine for kafkaburst.
//
// The engine drives a pool of concurrent publishers against a message broker
// at a paced rate while exposing live progress to observers:
//   - Token-bucket rate pacing (messages per second)
//   - A bounded publisher pool drawing dense, gap-free sequence numbers
//   - A single-run state machine (idle, running, stopping, stopped,
//     completed, failed) with at most one active run per process
//   - Periodic status snapshots pushed to registered observers
//
// # Basic Usage
//
// Create an engine with options and a publisher implementation:
//
//	eng, err := engine.New(engine.Options{
//		Publisher: myPublisher,
//		PoolSize:  5,
//	})
//	runID, err := eng.StartRun(engine.RunConfig{
//		MessageCount: 1000,
//		MessageRate:  100,
//		Topic:        "load-test",
//		PayloadSize:  256,
//	})
//
// StartRun returns immediately; the run executes asynchronously. Progress is
// available at any time through [Engine.GetStatus] and is streamed to
// observers registered with [Engine.Subscribe].
//
// # Publisher Interface
//
// The [Publisher] interface defines the single-message send primitive:
//
//	type Publisher interface {
//		Send(ctx context.Context, topic string, msg *Message) (time.Duration, error)
//	}
//
// A per-message error counts as a failed send and the run continues. An
// error wrapped with [Fatal] terminates the run with status
// [StatusFailed].
//
// # Observers
//
// Observers receive a [Snapshot] on a fixed cadence while the run is active
// and exactly once more when it reaches a terminal state. Delivery is
// decoupled through a bounded handoff: a slow observer misses intermediate
// snapshots but never stalls message sending.
package engine
