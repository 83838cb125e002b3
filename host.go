package asyncache

import (
	"context"
	"sync"
	"time"
)

// host owns one record and serialises every event applied to it. After each
// event, and on every tick, it re-runs the background checks until none fires.
// Fetch functions never run under mu.
type host[S any] struct {
	name  string
	clock Clock
	log   Logger
	hooks Hooks

	mu      sync.Mutex
	state   S
	reduce  func(S, Event) S
	checks  []Check[S]
	limit   int
	version uint64 // bumped on every applied persisted event

	persisted map[EventType]struct{}
	save      func(ctx context.Context, s S) error

	saveMu       sync.Mutex
	savedVersion uint64

	// background ticking
	ticker    *time.Ticker
	stopCh    chan struct{}
	closeWg   sync.WaitGroup
	closeOnce sync.Once
}

type hostConfig[S any] struct {
	name      string
	initial   S
	reduce    func(S, Event) S
	checks    []Check[S]
	clock     Clock
	log       Logger
	hooks     Hooks
	limit     int
	persisted []EventType
	save      func(ctx context.Context, s S) error
}

func newHost[S any](cfg hostConfig[S]) *host[S] {
	h := &host[S]{
		name:      cfg.name,
		clock:     coalesce[Clock](cfg.clock, SystemClock{}),
		log:       coalesce[Logger](cfg.log, NopLogger{}),
		hooks:     coalesce[Hooks](cfg.hooks, NopHooks{}),
		state:     cfg.initial,
		reduce:    cfg.reduce,
		checks:    cfg.checks,
		limit:     coalesce(cfg.limit, defaultReactionLimit),
		persisted: make(map[EventType]struct{}, len(cfg.persisted)),
		save:      cfg.save,
	}
	for _, t := range cfg.persisted {
		h.persisted[t] = struct{}{}
	}
	return h
}

// snapshot returns the current state and time. States are never mutated in
// place, so the returned value stays valid after the lock is released.
func (h *host[S]) snapshot() (S, time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state, h.clock.Now()
}

func (h *host[S]) emit(ctx context.Context, ev Event) S {
	s, _ := h.emitIf(ctx, ev, nil)
	return s
}

// emitIf applies ev only when guard accepts the current state. It reports
// whether the event was applied.
func (h *host[S]) emitIf(ctx context.Context, ev Event, guard func(S) bool) (S, bool) {
	h.mu.Lock()
	if guard != nil && !guard(h.state) {
		s := h.state
		h.mu.Unlock()
		return s, false
	}
	h.applyLocked(ev)
	h.reactLocked()
	s, v := h.state, h.version
	h.mu.Unlock()

	h.persist(ctx, s, v)
	return s, true
}

// tick re-evaluates the checks against the current time.
func (h *host[S]) tick(ctx context.Context) {
	h.mu.Lock()
	h.reactLocked()
	s, v := h.state, h.version
	h.mu.Unlock()

	h.persist(ctx, s, v)
}

func (h *host[S]) applyLocked(ev Event) {
	if ev.At.IsZero() {
		ev.At = h.clock.Now()
	}
	h.state = h.reduce(h.state, ev)
	if _, ok := h.persisted[ev.Type]; ok {
		h.version++
	}
	h.hooks.EventApplied(h.name, ev.Type, ev.Key)
	h.log.Debug("event applied", Fields{"resource": h.name, "event": string(ev.Type), "key": ev.Key})
}

func (h *host[S]) reactLocked() {
	for i := 0; i < h.limit; i++ {
		now := h.clock.Now()
		ev, check, ok := h.firstCheck(now)
		if !ok {
			return
		}
		ev.At = now
		h.hooks.CheckFired(h.name, check, ev.Key)
		h.applyLocked(ev)
	}
	if _, _, ok := h.firstCheck(h.clock.Now()); ok {
		h.hooks.ReactionLimit(h.name, h.limit)
		h.log.Warn("reaction limit reached; remaining checks deferred to next tick",
			Fields{"resource": h.name, "limit": h.limit})
	}
}

func (h *host[S]) firstCheck(now time.Time) (Event, string, bool) {
	for _, c := range h.checks {
		if ev, ok := c.Fn(h.state, now); ok {
			return ev, c.Name, true
		}
	}
	return Event{}, "", false
}

// persist writes s if it carries persisted events newer than the last write.
// Writes are serialised so an older snapshot never overwrites a newer one.
func (h *host[S]) persist(ctx context.Context, s S, version uint64) {
	if h.save == nil || version == 0 {
		return
	}
	h.saveMu.Lock()
	defer h.saveMu.Unlock()
	if version <= h.savedVersion {
		return
	}
	if err := h.save(ctx, s); err != nil {
		h.hooks.PersistError(h.name, err)
		h.log.Warn("persist snapshot failed", Fields{"resource": h.name, "err": err})
		return
	}
	h.savedVersion = version
}

// start ticks the checks every interval until close. Calling start twice is a
// no-op.
func (h *host[S]) start(every time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopCh != nil || every <= 0 {
		return
	}
	h.ticker = time.NewTicker(every)
	h.stopCh = make(chan struct{})
	h.closeWg.Add(1)
	go h.tickLoop(h.ticker, h.stopCh)
}

func (h *host[S]) tickLoop(t *time.Ticker, stop <-chan struct{}) {
	defer h.closeWg.Done()
	for {
		select {
		case <-t.C:
			h.tick(context.Background())
		case <-stop:
			return
		}
	}
}

func (h *host[S]) close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		stop, t := h.stopCh, h.ticker
		h.mu.Unlock()
		if stop != nil {
			close(stop)
			h.closeWg.Wait()
			t.Stop()
		}
	})
}

// subscribe re-runs the checks whenever src reports a change, if it can.
func (h *host[S]) subscribe(src DependencySource) {
	if n, ok := src.(interface{ Subscribe(func()) }); ok {
		n.Subscribe(func() { h.tick(context.Background()) })
	}
}
