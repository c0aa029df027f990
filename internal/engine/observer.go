package engine

import "sync"

// Observer receives status snapshots pushed by the engine.
// Implementations must not assume they see every snapshot: delivery keeps
// only the latest pending value per observer.
type Observer interface {
	OnSnapshot(Snapshot)
}

// subscriber decouples one observer from the engine through a buffered
// latest-value handoff.
type subscriber struct {
	obs  Observer
	ch   chan Snapshot
	quit chan struct{}
}

func (s *subscriber) loop() {
	for {
		select {
		case snap := <-s.ch:
			s.obs.OnSnapshot(snap)
		case <-s.quit:
			return
		}
	}
}

type fanout struct {
	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	lastRev uint64
}

func newFanout() *fanout {
	return &fanout{subs: make(map[*subscriber]struct{})}
}

// subscribe registers obs and returns a cancel function that detaches it.
func (f *fanout) subscribe(obs Observer) func() {
	s := &subscriber{
		obs:  obs,
		ch:   make(chan Snapshot, 1),
		quit: make(chan struct{}),
	}
	go s.loop()

	f.mu.Lock()
	f.subs[s] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, s)
			f.mu.Unlock()
			close(s.quit)
		})
	}
}

// publish hands snap to every subscriber without blocking. A subscriber
// that has not drained its pending snapshot loses it in favor of snap, so
// the last value delivered is always the newest.
//
// Publishes are not ordered by the engine mutex: a tick snapshot taken
// before a terminal transition can reach here after the terminal snapshot
// was published. The revision check drops it so a stale value never
// displaces a newer pending one.
func (f *fanout) publish(snap Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if snap.rev < f.lastRev {
		return
	}
	f.lastRev = snap.rev
	for s := range f.subs {
		select {
		case s.ch <- snap:
		default:
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- snap:
			default:
			}
		}
	}
}

func (f *fanout) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for s := range f.subs {
		close(s.quit)
		delete(f.subs, s)
	}
}
