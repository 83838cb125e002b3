// Package asynchook moves hook calls off the engine's locked path.
//
// usage:
//
//	raw := sloghook.New(slog.Default(), sloghook.Options{EventAppliedEvery: 100})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	profile, _ := asyncache.NewResource(asyncache.ResourceOptions[User]{
//	    Name:  "userProfile",
//	    Fetch: loadProfile,
//	    Hooks: hooks,
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/asyncache"
)

// Hooks forwards every callback to inner through a bounded queue. When the
// queue is full, or after Close, calls are dropped and counted.
type Hooks struct {
	inner asyncache.Hooks
	q     chan func()
	wg    sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ asyncache.Hooks = (*Hooks)(nil)

func New(inner asyncache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains the queue and stops the workers.
func (h *Hooks) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.q)
	h.mu.Unlock()
	h.wg.Wait()
}

// Dropped reports how many calls were discarded.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) EventApplied(r string, ev asyncache.EventType, k string) {
	h.try(func() { h.inner.EventApplied(r, ev, k) })
}
func (h *Hooks) CheckFired(r, c, k string) { h.try(func() { h.inner.CheckFired(r, c, k) }) }
func (h *Hooks) FetchFailed(r, k string, err error, p bool) {
	h.try(func() { h.inner.FetchFailed(r, k, err, p) })
}
func (h *Hooks) ResultDiscarded(r, op, id string) {
	h.try(func() { h.inner.ResultDiscarded(r, op, id) })
}
func (h *Hooks) PersistError(r string, err error) { h.try(func() { h.inner.PersistError(r, err) }) }
func (h *Hooks) ReactionLimit(r string, n int)    { h.try(func() { h.inner.ReactionLimit(r, n) }) }
