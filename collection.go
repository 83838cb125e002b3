package asyncache

import (
	"context"
	"slices"
	"time"

	"github.com/unkn0wn-root/asyncache/reqid"
)

// Collection is an ordered list grown page by page. A refresh replaces the
// list and a load-more appends to it; each tags itself with a fresh request id
// and its result is applied only while that id is still the one in flight.
// Superseded requests run to completion and their results are dropped.
type Collection[T, R any] struct {
	cfg      shared
	types    EventTypes
	fetch    CollectionFetchFunc[T, R]
	process  func(R) Page[T]
	ids      reqid.Source
	features *Features[CollectionState[T]]
	deps     *Dependencies[CollectionState[T]]
	bundle   Bundle[CollectionState[T]]
	persist  []EventType
	store    *snapshotStore[T]
	host     *host[CollectionState[T]]
}

const (
	opRefresh  = "refresh"
	opLoadMore = "load_more"
)

var collectionViews = []string{
	ViewData, ViewIsPresent, ViewIsRefreshing, ViewIsLoadingMore, ViewHasMore, ViewCanLoadMore,
	ViewLoadMoreError, ViewLoadMoreErrorIsPermanent, ViewIsPendingForRefresh,
	ViewError, ViewErrorAt, ViewHasError, ViewErrorIsPermanent, ViewRetryAt, ViewIsReadyForRetry,
	ViewIsStale, ViewDependencyValues, ViewIsDependencyResolved,
}

func NewCollection[T, R any](opts CollectionOptions[T, R]) (*Collection[T, R], error) {
	cfg, err := resolveShared("collection", opts.Name, opts.ActionBaseType, opts.Timers, defaultCollectionRetryAfter,
		opts.ErrorIsPermanent, opts.Online, opts.Clock, opts.Logger, opts.Hooks, opts.ReactionLimit)
	if err != nil {
		return nil, err
	}
	if opts.Fetch == nil {
		return nil, &ConfigError{Shape: "collection", Err: ErrFetchRequired}
	}
	process := opts.ProcessResult
	if process == nil {
		var zero R
		if _, ok := any(zero).([]T); !ok {
			return nil, &ConfigError{Shape: "collection", Err: ErrProcessResultRequired}
		}
		process = func(r R) Page[T] {
			items, _ := any(r).([]T)
			return Page[T]{Items: items, HasMore: len(items) > 0}
		}
	}

	types := NewEventTypes(cfg.baseType)
	c := &Collection[T, R]{
		cfg:     cfg,
		types:   types,
		fetch:   opts.Fetch,
		process: process,
		ids:     coalesce[reqid.Source](opts.RequestIDs, reqid.UUID{}),
		deps:    NewDependencies[CollectionState[T]](types, opts.Source, opts.Dependencies),
	}
	c.features = NewFeatures[CollectionState[T]](
		c.deps,
		NewStaling[CollectionState[T]](types, cfg.timers.StaleAfter),
		NewExpiry[CollectionState[T]](types, cfg.timers.ExpireAfter),
		NewClearing[CollectionState[T]](types),
		NewRetry[CollectionState[T]](types, cfg.timers.RetryAfter),
	)

	raw := CollectionState[T]{HasMore: true}
	handlers := c.features.EnhanceActionHandlers(collectionHandlers[T](types), raw)
	c.bundle = c.features.EnhanceBundle(c.baseBundle())
	c.derivedViews(c.bundle)
	if err := c.bundle.require(cfg.name, collectionViews, resourceActions); err != nil {
		return nil, err
	}

	c.persist = persistedEvents(opts.Persist, c.features,
		types.Of(suffixRefreshFinished), types.Of(suffixLoadMoreFinished))
	var save func(context.Context, CollectionState[T]) error
	if opts.Persist {
		c.store = newSnapshotStore(opts.Persistence, cfg.name, cfg.timers.ExpireAfter)
	}
	if c.store != nil {
		save = c.store.saveCollection
	}

	c.host = newHost(hostConfig[CollectionState[T]]{
		name:      cfg.name,
		initial:   c.features.EnhanceCleanState(raw, nil),
		reduce:    handlers.Reducer(),
		checks:    c.bundle.Checks,
		clock:     cfg.clock,
		log:       cfg.log,
		hooks:     cfg.hooks,
		limit:     cfg.limit,
		persisted: c.persist,
		save:      save,
	})
	c.host.tick(context.Background())
	if opts.Source != nil && c.deps.Enabled() {
		c.host.subscribe(opts.Source)
	}
	return c, nil
}

// collectionHandlers apply settled results only when their request id is the
// one in flight.
func collectionHandlers[T any](t EventTypes) Handlers[CollectionState[T]] {
	return Handlers[CollectionState[T]]{
		t.Of(suffixRefreshStarted): func(s CollectionState[T], ev Event) CollectionState[T] {
			s.RefreshRequestID = ev.RequestID
			s.LoadMoreRequestID = "" // a reload supersedes any load-more
			return s
		},
		t.Of(suffixRefreshFinished): func(s CollectionState[T], ev Event) CollectionState[T] {
			if ev.RequestID == "" || ev.RequestID != s.RefreshRequestID {
				return s
			}
			p, _ := ev.Payload.(Page[T])
			s.RefreshRequestID = ""
			s.Items = p.Items
			s.HasMore = p.HasMore
			s.ItemsAt = ev.At
			s.Meta = s.Meta.withoutError()
			s.IsStale = false
			s.LoadMoreErr, s.LoadMoreErrorAt, s.LoadMoreErrorIsPermanent = nil, time.Time{}, false
			return s
		},
		t.Of(suffixRefreshFailed): func(s CollectionState[T], ev Event) CollectionState[T] {
			if ev.RequestID == "" || ev.RequestID != s.RefreshRequestID {
				return s
			}
			f, _ := ev.Payload.(failure)
			s.RefreshRequestID = ""
			s.Meta = s.Meta.withError(f.err, ev.At, f.permanent)
			return s
		},
		t.Of(suffixLoadMoreStarted): func(s CollectionState[T], ev Event) CollectionState[T] {
			s.LoadMoreRequestID = ev.RequestID
			return s
		},
		t.Of(suffixLoadMoreFinished): func(s CollectionState[T], ev Event) CollectionState[T] {
			if ev.RequestID == "" || ev.RequestID != s.LoadMoreRequestID {
				return s
			}
			p, _ := ev.Payload.(Page[T])
			s.LoadMoreRequestID = ""
			s.Items = append(slices.Clip(s.Items), p.Items...)
			s.HasMore = p.HasMore
			s.LoadMoreErr, s.LoadMoreErrorAt, s.LoadMoreErrorIsPermanent = nil, time.Time{}, false
			return s
		},
		t.Of(suffixLoadMoreFailed): func(s CollectionState[T], ev Event) CollectionState[T] {
			if ev.RequestID == "" || ev.RequestID != s.LoadMoreRequestID {
				return s
			}
			f, _ := ev.Payload.(failure)
			s.LoadMoreRequestID = ""
			s.LoadMoreErr, s.LoadMoreErrorAt, s.LoadMoreErrorIsPermanent = f.err, ev.At, f.permanent
			return s
		},
		t.Of(suffixHydrated): func(s CollectionState[T], ev Event) CollectionState[T] {
			if s.IsPresent() && !s.ItemsAt.Before(ev.At) {
				return s
			}
			p, _ := ev.Payload.(Page[T])
			s.Items = p.Items
			s.HasMore = p.HasMore
			s.ItemsAt = ev.At
			s.IsStale = false
			return s
		},
	}
}

func (c *Collection[T, R]) baseBundle() Bundle[CollectionState[T]] {
	b := newBundle[CollectionState[T]]()
	b.Views[ViewData] = func(s CollectionState[T], _ time.Time) any { return s.Items }
	b.Views[ViewIsPresent] = func(s CollectionState[T], _ time.Time) any { return s.IsPresent() }
	b.Views[ViewIsRefreshing] = func(s CollectionState[T], _ time.Time) any { return s.RefreshRequestID != "" }
	b.Views[ViewIsLoadingMore] = func(s CollectionState[T], _ time.Time) any { return s.LoadMoreRequestID != "" }
	b.Views[ViewHasMore] = func(s CollectionState[T], _ time.Time) any { return s.HasMore }
	b.Views[ViewLoadMoreError] = func(s CollectionState[T], _ time.Time) any { return s.LoadMoreErr }
	b.Views[ViewLoadMoreErrorIsPermanent] = func(s CollectionState[T], _ time.Time) any { return s.LoadMoreErrorIsPermanent }
	return b
}

// derivedViews adds the views that combine feature views.
func (c *Collection[T, R]) derivedViews(b Bundle[CollectionState[T]]) {
	resolved := b.Views[ViewIsDependencyResolved]
	ready := b.Views[ViewIsReadyForRetry]

	b.Views[ViewCanLoadMore] = func(s CollectionState[T], now time.Time) any {
		return s.IsPresent() &&
			s.RefreshRequestID == "" &&
			s.LoadMoreRequestID == "" &&
			s.HasMore &&
			!s.LoadMoreErrorIsPermanent &&
			resolved(s, now).(bool)
	}
	b.Views[ViewIsPendingForRefresh] = func(s CollectionState[T], now time.Time) any {
		if !c.cfg.online() || s.RefreshRequestID != "" || !resolved(s, now).(bool) {
			return false
		}
		if s.HasError() {
			return ready(s, now).(bool)
		}
		return s.IsStale || !s.IsPresent()
	}
}

// Refresh reloads the collection from its first page. A refresh started later
// wins over this one, and this one wins over any load-more in flight.
func (c *Collection[T, R]) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := c.ids.Next()
	s := c.host.emit(ctx, Event{Type: c.types.Of(suffixRefreshStarted), RequestID: id})
	args := c.features.EnhanceFetchArgs(FetchArgs{Resource: c.cfg.name}, s)

	raw, err := c.fetch(ctx, nil, args)
	c.settle(ctx, opRefresh, id, raw, err, func(s CollectionState[T]) bool { return s.RefreshRequestID == id },
		c.types.Of(suffixRefreshFinished), c.types.Of(suffixRefreshFailed))
	return nil
}

// LoadMore fetches the next page and appends it. It does not check
// CanLoadMore; callers are expected to.
func (c *Collection[T, R]) LoadMore(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := c.ids.Next()
	s := c.host.emit(ctx, Event{Type: c.types.Of(suffixLoadMoreStarted), RequestID: id})
	args := c.features.EnhanceFetchArgs(FetchArgs{Resource: c.cfg.name}, s)

	raw, err := c.fetch(ctx, slices.Clone(s.Items), args)
	c.settle(ctx, opLoadMore, id, raw, err, func(s CollectionState[T]) bool { return s.LoadMoreRequestID == id },
		c.types.Of(suffixLoadMoreFinished), c.types.Of(suffixLoadMoreFailed))
	return nil
}

func (c *Collection[T, R]) settle(ctx context.Context, op, id string, raw R, err error,
	current func(CollectionState[T]) bool, finished, failed EventType,
) {
	ev := Event{Type: finished, RequestID: id}
	if err != nil {
		permanent := c.cfg.permanent(err)
		ev = Event{Type: failed, RequestID: id, Payload: failure{err: err, permanent: permanent}}
		c.cfg.hooks.FetchFailed(c.cfg.name, "", err, permanent)
		c.cfg.log.Debug("fetch failed", Fields{"resource": c.cfg.name, "op": op, "err": err, "permanent": permanent})
	} else {
		ev.Payload = c.process(raw)
	}

	if _, applied := c.host.emitIf(ctx, ev, current); !applied {
		c.cfg.hooks.ResultDiscarded(c.cfg.name, op, id)
		c.cfg.log.Debug("superseded result discarded", Fields{"resource": c.cfg.name, "op": op, "request_id": id})
	}
}

// Clear resets the collection; results still in flight will be discarded.
func (c *Collection[T, R]) Clear(ctx context.Context) {
	c.host.emit(ctx, Event{Type: c.bundle.Actions[ActionClear]})
}

func (c *Collection[T, R]) MarkStale() {
	c.host.emit(context.Background(), Event{Type: c.bundle.Actions[ActionMarkAsStale]})
}

func (c *Collection[T, R]) Tick(ctx context.Context)  { c.host.tick(ctx) }
func (c *Collection[T, R]) Start(every time.Duration) { c.host.start(every) }
func (c *Collection[T, R]) Close()                    { c.host.close() }
func (c *Collection[T, R]) Name() string              { return c.cfg.name }
func (c *Collection[T, R]) EventTypes() EventTypes    { return c.types }

func (c *Collection[T, R]) PersistEvents() []EventType {
	return append([]EventType(nil), c.persist...)
}

func (c *Collection[T, R]) Raw() CollectionState[T] {
	s, _ := c.host.snapshot()
	return s
}

// Hydrate restores the persisted page list, if any.
func (c *Collection[T, R]) Hydrate(ctx context.Context) (bool, error) {
	if c.store == nil {
		return false, nil
	}
	p, at, ok, err := c.store.loadCollection(ctx)
	if err != nil {
		c.cfg.hooks.PersistError(c.cfg.name, err)
		return false, err
	}
	if !ok {
		return false, nil
	}
	c.host.emit(ctx, Event{Type: c.types.Of(suffixHydrated), Payload: p, At: at})
	return true, nil
}

// View evaluates a named view against the current record.
func (c *Collection[T, R]) View(name string) (any, bool) {
	v, ok := c.bundle.Views[name]
	if !ok {
		return nil, false
	}
	s, now := c.host.snapshot()
	return v(s, now), true
}

func (c *Collection[T, R]) view(name string) any {
	s, now := c.host.snapshot()
	return c.bundle.Views[name](s, now)
}

// Items returns the loaded items. The slice must not be modified.
func (c *Collection[T, R]) Items() []T { return c.view(ViewData).([]T) }

func (c *Collection[T, R]) IsPresent() bool           { return c.view(ViewIsPresent).(bool) }
func (c *Collection[T, R]) IsRefreshing() bool        { return c.view(ViewIsRefreshing).(bool) }
func (c *Collection[T, R]) IsLoadingMore() bool       { return c.view(ViewIsLoadingMore).(bool) }
func (c *Collection[T, R]) HasMore() bool             { return c.view(ViewHasMore).(bool) }
func (c *Collection[T, R]) CanLoadMore() bool         { return c.view(ViewCanLoadMore).(bool) }
func (c *Collection[T, R]) IsPendingForRefresh() bool { return c.view(ViewIsPendingForRefresh).(bool) }
func (c *Collection[T, R]) IsStale() bool             { return c.view(ViewIsStale).(bool) }
func (c *Collection[T, R]) HasError() bool            { return c.view(ViewHasError).(bool) }
func (c *Collection[T, R]) ErrorIsPermanent() bool    { return c.view(ViewErrorIsPermanent).(bool) }
func (c *Collection[T, R]) IsReadyForRetry() bool     { return c.view(ViewIsReadyForRetry).(bool) }
func (c *Collection[T, R]) RetryAt() time.Time        { return c.view(ViewRetryAt).(time.Time) }
func (c *Collection[T, R]) IsDependencyResolved() bool {
	return c.view(ViewIsDependencyResolved).(bool)
}

func (c *Collection[T, R]) LoadMoreErrorIsPermanent() bool {
	return c.view(ViewLoadMoreErrorIsPermanent).(bool)
}

func (c *Collection[T, R]) Err() error {
	err, _ := c.view(ViewError).(error)
	return err
}

func (c *Collection[T, R]) LoadMoreErr() error {
	err, _ := c.view(ViewLoadMoreError).(error)
	return err
}

func (c *Collection[T, R]) DependencyValues() DependencyValues {
	return c.view(ViewDependencyValues).(DependencyValues)
}
