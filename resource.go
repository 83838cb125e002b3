package asyncache

import (
	"context"
	"time"
)

// Resource caches one value produced by an asynchronous fetch and tracks its
// lifecycle: loading, errors and retry eligibility, staleness, expiry and
// dependency-driven invalidation.
//
// Concurrent fetches are not deduplicated and carry no request id: whichever
// settles last wins.
type Resource[T any] struct {
	cfg      shared
	types    EventTypes
	fetch    FetchFunc[T]
	features *Features[ResourceState[T]]
	retry    *Retry[ResourceState[T]]
	deps     *Dependencies[ResourceState[T]]
	bundle   Bundle[ResourceState[T]]
	persist  []EventType
	store    *snapshotStore[T]
	host     *host[ResourceState[T]]
}

var resourceViews = []string{
	ViewData, ViewIsPresent, ViewIsLoading, ViewIsPendingForFetch,
	ViewError, ViewErrorAt, ViewHasError, ViewErrorIsPermanent, ViewRetryAt, ViewIsReadyForRetry,
	ViewIsStale, ViewDependencyValues, ViewIsDependencyResolved,
}

var resourceActions = []string{ActionMarkAsStale, ActionClear}

// NewResource builds a resource and runs its background checks once, which
// resolves the dependency snapshot.
func NewResource[T any](opts ResourceOptions[T]) (*Resource[T], error) {
	cfg, err := resolveShared("resource", opts.Name, opts.ActionBaseType, opts.Timers, defaultRetryAfter,
		opts.ErrorIsPermanent, opts.Online, opts.Clock, opts.Logger, opts.Hooks, opts.ReactionLimit)
	if err != nil {
		return nil, err
	}
	if opts.Fetch == nil {
		return nil, &ConfigError{Shape: "resource", Err: ErrFetchRequired}
	}

	types := NewEventTypes(cfg.baseType)
	r := &Resource[T]{
		cfg:   cfg,
		types: types,
		fetch: opts.Fetch,
		retry: NewRetry[ResourceState[T]](types, cfg.timers.RetryAfter),
		deps:  NewDependencies[ResourceState[T]](types, opts.Source, opts.Dependencies),
	}
	r.features = NewFeatures[ResourceState[T]](
		r.deps,
		NewStaling[ResourceState[T]](types, cfg.timers.StaleAfter),
		NewExpiry[ResourceState[T]](types, cfg.timers.ExpireAfter),
		NewClearing[ResourceState[T]](types),
		r.retry,
	)

	raw := ResourceState[T]{}
	handlers := r.features.EnhanceActionHandlers(resourceHandlers[T](types), raw)
	r.bundle = r.features.EnhanceBundle(r.baseBundle())
	r.bundle.Views[ViewIsPendingForFetch] = r.pendingView(r.bundle)
	if err := r.bundle.require(cfg.name, resourceViews, resourceActions); err != nil {
		return nil, err
	}

	persist := !opts.DisablePersist
	r.persist = persistedEvents(persist, r.features, types.Of(suffixFetchFinished))
	var save func(context.Context, ResourceState[T]) error
	if persist {
		r.store = newSnapshotStore(opts.Persistence, cfg.name, cfg.timers.ExpireAfter)
	}
	if r.store != nil {
		save = r.store.saveResource
	}

	r.host = newHost(hostConfig[ResourceState[T]]{
		name:      cfg.name,
		initial:   r.features.EnhanceCleanState(raw, nil),
		reduce:    handlers.Reducer(),
		checks:    r.bundle.Checks,
		clock:     cfg.clock,
		log:       cfg.log,
		hooks:     cfg.hooks,
		limit:     cfg.limit,
		persisted: r.persist,
		save:      save,
	})
	r.host.tick(context.Background())
	if opts.Source != nil && r.deps.Enabled() {
		r.host.subscribe(opts.Source)
	}
	return r, nil
}

// resourceHandlers are the fetch-cycle transitions of one cached value. The
// keyed collection applies them per item.
func resourceHandlers[T any](t EventTypes) Handlers[ResourceState[T]] {
	return Handlers[ResourceState[T]]{
		t.Of(suffixFetchStarted): func(s ResourceState[T], _ Event) ResourceState[T] {
			s.IsLoading = true
			return s
		},
		t.Of(suffixFetchFinished): func(s ResourceState[T], ev Event) ResourceState[T] {
			s.IsLoading = false
			s.Data, _ = ev.Payload.(T)
			s.DataAt = ev.At
			s.Meta = s.Meta.withoutError()
			s.IsStale = false
			return s
		},
		t.Of(suffixFetchFailed): func(s ResourceState[T], ev Event) ResourceState[T] {
			f, _ := ev.Payload.(failure)
			s.IsLoading = false
			s.Meta = s.Meta.withError(f.err, ev.At, f.permanent)
			return s
		},
		t.Of(suffixAdjusted): func(s ResourceState[T], ev Event) ResourceState[T] {
			fn, _ := ev.Payload.(func(T) T)
			if !s.IsPresent() || fn == nil {
				return s
			}
			s.Data = fn(s.Data)
			return s
		},
		t.Of(suffixHydrated): func(s ResourceState[T], ev Event) ResourceState[T] {
			if s.IsPresent() && !s.DataAt.Before(ev.At) {
				return s
			}
			s.Data, _ = ev.Payload.(T)
			s.DataAt = ev.At
			s.IsStale = false
			return s
		},
	}
}

func (r *Resource[T]) baseBundle() Bundle[ResourceState[T]] {
	b := newBundle[ResourceState[T]]()
	b.Views[ViewData] = func(s ResourceState[T], _ time.Time) any {
		if !s.IsPresent() {
			var zero T
			return zero
		}
		return s.Data
	}
	b.Views[ViewIsPresent] = func(s ResourceState[T], _ time.Time) any { return s.IsPresent() }
	b.Views[ViewIsLoading] = func(s ResourceState[T], _ time.Time) any { return s.IsLoading }
	return b
}

// pendingView is built on the composed bundle so it agrees with the retry and
// dependency views whatever their configuration.
func (r *Resource[T]) pendingView(b Bundle[ResourceState[T]]) View[ResourceState[T]] {
	ready := b.Views[ViewIsReadyForRetry]
	resolved := b.Views[ViewIsDependencyResolved]
	return func(s ResourceState[T], now time.Time) any {
		if !r.cfg.online() || s.IsLoading || !resolved(s, now).(bool) {
			return false
		}
		if s.HasError() {
			return ready(s, now).(bool)
		}
		return s.IsStale || !s.IsPresent()
	}
}

// Fetch runs the fetch function and stores its result or error. Fetch errors
// are stored, never returned; the error result only reports ctx cancellation
// observed before the fetch started.
func (r *Resource[T]) Fetch(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := r.host.emit(ctx, Event{Type: r.types.Of(suffixFetchStarted)})
	args := r.features.EnhanceFetchArgs(FetchArgs{Resource: r.cfg.name}, s)

	v, err := r.fetch(ctx, args)
	if err != nil {
		permanent := r.cfg.permanent(err)
		r.cfg.hooks.FetchFailed(r.cfg.name, "", err, permanent)
		r.cfg.log.Debug("fetch failed", Fields{"resource": r.cfg.name, "err": err, "permanent": permanent})
		r.host.emit(ctx, Event{Type: r.types.Of(suffixFetchFailed), Payload: failure{err: err, permanent: permanent}})
		return nil
	}
	r.host.emit(ctx, Event{Type: r.types.Of(suffixFetchFinished), Payload: v})
	return nil
}

// FetchIfPending fetches only when the resource is pending for fetch and
// reports whether it did.
func (r *Resource[T]) FetchIfPending(ctx context.Context) (bool, error) {
	if !r.IsPendingForFetch() {
		return false, nil
	}
	return true, r.Fetch(ctx)
}

// Adjust replaces present data with v. Without data it does nothing.
func (r *Resource[T]) Adjust(v T) {
	r.AdjustWith(func(T) T { return v })
}

// AdjustWith replaces present data with fn(data). fn is never called when no
// data is present.
func (r *Resource[T]) AdjustWith(fn func(T) T) {
	r.host.emit(context.Background(), Event{Type: r.types.Of(suffixAdjusted), Payload: fn})
}

// Clear resets the resource to its clean state.
func (r *Resource[T]) Clear(ctx context.Context) {
	r.host.emit(ctx, Event{Type: r.bundle.Actions[ActionClear]})
}

// MarkStale flags present data for refresh without dropping it.
func (r *Resource[T]) MarkStale() {
	r.host.emit(context.Background(), Event{Type: r.bundle.Actions[ActionMarkAsStale]})
}

// Tick re-runs the background checks against the clock.
func (r *Resource[T]) Tick(ctx context.Context) { r.host.tick(ctx) }

// Start ticks the background checks every interval until Close.
func (r *Resource[T]) Start(every time.Duration) { r.host.start(every) }

// Close stops background ticking. It does not close the persistence provider.
func (r *Resource[T]) Close() { r.host.close() }

// Hydrate loads the persisted snapshot, if any, and applies it. Restored data
// keeps its original timestamp, so it may turn stale or expire right away.
// It reports whether a snapshot was applied.
func (r *Resource[T]) Hydrate(ctx context.Context) (bool, error) {
	if r.store == nil {
		return false, nil
	}
	v, at, ok, err := r.store.loadResource(ctx)
	if err != nil {
		r.cfg.hooks.PersistError(r.cfg.name, err)
		return false, err
	}
	if !ok {
		return false, nil
	}
	r.host.emit(ctx, Event{Type: r.types.Of(suffixHydrated), Payload: v, At: at})
	return true, nil
}

// Name returns the resource name.
func (r *Resource[T]) Name() string { return r.cfg.name }

// EventTypes returns the resource's event namespace.
func (r *Resource[T]) EventTypes() EventTypes { return r.types }

// PersistEvents lists the event types after which a snapshot is written; nil
// when persistence is disabled.
func (r *Resource[T]) PersistEvents() []EventType { return append([]EventType(nil), r.persist...) }

// Raw returns the current record.
func (r *Resource[T]) Raw() ResourceState[T] {
	s, _ := r.host.snapshot()
	return s
}

// View evaluates a named view against the current record.
func (r *Resource[T]) View(name string) (any, bool) {
	v, ok := r.bundle.Views[name]
	if !ok {
		return nil, false
	}
	s, now := r.host.snapshot()
	return v(s, now), true
}

func (r *Resource[T]) view(name string) any {
	s, now := r.host.snapshot()
	return r.bundle.Views[name](s, now)
}

// Data returns the cached value; the zero value when none is present.
func (r *Resource[T]) Data() T {
	v, _ := r.view(ViewData).(T)
	return v
}

func (r *Resource[T]) IsPresent() bool         { return r.view(ViewIsPresent).(bool) }
func (r *Resource[T]) IsLoading() bool         { return r.view(ViewIsLoading).(bool) }
func (r *Resource[T]) IsStale() bool           { return r.view(ViewIsStale).(bool) }
func (r *Resource[T]) HasError() bool          { return r.view(ViewHasError).(bool) }
func (r *Resource[T]) ErrorIsPermanent() bool  { return r.view(ViewErrorIsPermanent).(bool) }
func (r *Resource[T]) IsReadyForRetry() bool   { return r.view(ViewIsReadyForRetry).(bool) }
func (r *Resource[T]) IsPendingForFetch() bool { return r.view(ViewIsPendingForFetch).(bool) }

// Err returns the stored fetch error, nil when none is active.
func (r *Resource[T]) Err() error {
	err, _ := r.view(ViewError).(error)
	return err
}

// ErrorAt returns when the active error was stored.
func (r *Resource[T]) ErrorAt() time.Time { return r.view(ViewErrorAt).(time.Time) }

// RetryAt returns when the active error becomes eligible for retry; zero when
// it never will.
func (r *Resource[T]) RetryAt() time.Time { return r.view(ViewRetryAt).(time.Time) }

func (r *Resource[T]) DependencyValues() DependencyValues {
	return r.view(ViewDependencyValues).(DependencyValues)
}

func (r *Resource[T]) IsDependencyResolved() bool { return r.view(ViewIsDependencyResolved).(bool) }
