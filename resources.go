package asyncache

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// Resources caches independently lifecycled values by key. Every item follows
// the single-resource fetch cycle; background checks only ever look at the
// three earliest candidates kept in ResourcesState, never the whole map.
//
// Like Resource, concurrent fetches for one key carry no request id: the
// result that settles last wins.
type Resources[T any] struct {
	cfg         shared
	types       EventTypes
	fetch       ItemFetchFunc[T]
	concurrency int
	features    *Features[ResourceState[T]]
	retry       *Retry[ResourceState[T]]
	ix          indexSet

	clean      ResourceState[T]
	reduceItem func(ResourceState[T], Event) ResourceState[T]
	handled    map[EventType]struct{}
	needsItem  map[EventType]struct{} // no-ops on absent keys
	removes    map[EventType]struct{} // delete the entry instead of storing it
	item       Bundle[ResourceState[T]]

	persist []EventType
	store   *snapshotStore[T]
	host    *host[ResourcesState[T]]
}

var itemViews = []string{
	ViewData, ViewIsPresent, ViewIsLoading, ViewIsPendingForFetch,
	ViewError, ViewErrorAt, ViewHasError, ViewErrorIsPermanent, ViewRetryAt, ViewIsReadyForRetry,
	ViewIsStale,
}

func NewResources[T any](opts ResourcesOptions[T]) (*Resources[T], error) {
	cfg, err := resolveShared("resources", opts.Name, opts.ActionBaseType, opts.Timers, defaultRetryAfter,
		opts.ErrorIsPermanent, opts.Online, opts.Clock, opts.Logger, opts.Hooks, opts.ReactionLimit)
	if err != nil {
		return nil, err
	}
	if opts.Fetch == nil {
		return nil, &ConfigError{Shape: "resources", Err: ErrFetchRequired}
	}

	types := NewEventTypes(cfg.baseType)
	staling := NewStaling[ResourceState[T]](types, cfg.timers.StaleAfter)
	expiry := NewExpiry[ResourceState[T]](types, cfg.timers.ExpireAfter)
	rs := &Resources[T]{
		cfg:         cfg,
		types:       types,
		fetch:       opts.Fetch,
		concurrency: opts.FetchConcurrency,
		retry:       NewRetry[ResourceState[T]](types, cfg.timers.RetryAfter),
		ix: indexSet{
			expiring: expiry.Enabled(),
			stale:    staling.Enabled(),
		},
	}
	rs.ix.retrying = rs.retry.Enabled()
	rs.features = NewFeatures[ResourceState[T]](staling, expiry, NewClearing[ResourceState[T]](types), rs.retry)

	raw := ResourceState[T]{}
	rs.clean = rs.features.EnhanceCleanState(raw, nil)
	handlers := rs.features.EnhanceActionHandlers(resourceHandlers[T](types), raw)
	rs.reduceItem = handlers.Reducer()
	rs.handled = make(map[EventType]struct{}, len(handlers))
	for t := range handlers {
		rs.handled[t] = struct{}{}
	}
	rs.needsItem = eventSet(types, suffixAdjusted, suffixStale, suffixReadyForRetry, suffixCleared, suffixExpired)
	rs.removes = eventSet(types, suffixCleared, suffixExpired)

	rs.item = rs.features.EnhanceBundle(rs.baseItemBundle())
	rs.item.Views[ViewIsPendingForFetch] = rs.pendingView(rs.item)
	if err := rs.item.require(cfg.name, itemViews, resourceActions); err != nil {
		return nil, err
	}

	persist := !opts.DisablePersist
	rs.persist = persistedEvents(persist, rs.features, types.Of(suffixFetchFinished))
	var save func(context.Context, ResourcesState[T]) error
	if persist {
		rs.store = newSnapshotStore(opts.Persistence, cfg.name, cfg.timers.ExpireAfter)
	}
	if rs.store != nil {
		save = rs.store.saveResources
	}

	rs.host = newHost(hostConfig[ResourcesState[T]]{
		name:      cfg.name,
		initial:   ResourcesState[T]{Items: map[string]ResourceState[T]{}},
		reduce:    rs.reduce,
		checks:    rs.checks(),
		clock:     cfg.clock,
		log:       cfg.log,
		hooks:     cfg.hooks,
		limit:     cfg.limit,
		persisted: rs.persist,
		save:      save,
	})
	return rs, nil
}

func eventSet(t EventTypes, suffixes ...string) map[EventType]struct{} {
	out := make(map[EventType]struct{}, len(suffixes))
	for _, s := range suffixes {
		out[t.Of(s)] = struct{}{}
	}
	return out
}

func (rs *Resources[T]) reduce(s ResourcesState[T], ev Event) ResourcesState[T] {
	if ev.Type == rs.types.Of(suffixHydrated) {
		return rs.hydrate(s, ev)
	}
	if _, ok := rs.handled[ev.Type]; !ok {
		return s
	}
	prev, had := s.Items[ev.Key]
	if !had {
		if _, ok := rs.needsItem[ev.Type]; ok {
			return s
		}
		prev = rs.clean
	}
	next := rs.reduceItem(prev, ev)

	items := make(map[string]ResourceState[T], len(s.Items)+1)
	for k, v := range s.Items {
		items[k] = v
	}
	if _, ok := rs.removes[ev.Type]; ok {
		delete(items, ev.Key)
	} else {
		items[ev.Key] = next
	}
	s.Items = items
	return reindex(rs.ix, s, ev.Key)
}

// hydrate applies a whole persisted snapshot in one event. Each restored item
// keeps its own timestamp; items already holding newer data are left alone.
func (rs *Resources[T]) hydrate(s ResourcesState[T], ev Event) ResourcesState[T] {
	restored, _ := ev.Payload.(map[string]hydratedItem[T])
	if len(restored) == 0 {
		return s
	}
	items := make(map[string]ResourceState[T], len(s.Items)+len(restored))
	for k, v := range s.Items {
		items[k] = v
	}
	for k, h := range restored {
		prev, had := items[k]
		if !had {
			prev = rs.clean
		}
		items[k] = rs.reduceItem(prev, Event{Type: ev.Type, Key: k, Payload: h.Data, At: h.At})
	}
	s.Items = items
	return rebuildIndexes(rs.ix, s)
}

// checks adapts the per-item feature checks to the indexes: each one runs on
// its index's single candidate and scopes the resulting event to its key.
func (rs *Resources[T]) checks() []Check[ResourcesState[T]] {
	var out []Check[ResourcesState[T]]
	for _, c := range rs.item.Checks {
		c := c
		var pick func(ResourcesState[T]) *Candidate
		switch c.Name {
		case CheckShouldBecomeStale:
			pick = func(s ResourcesState[T]) *Candidate { return s.NextStale }
		case CheckShouldExpire:
			pick = func(s ResourcesState[T]) *Candidate { return s.NextExpiring }
		default:
			continue
		}
		out = append(out, Check[ResourcesState[T]]{
			Name: c.Name,
			Fn: func(s ResourcesState[T], now time.Time) (Event, bool) {
				cand := pick(s)
				if cand == nil {
					return Event{}, false
				}
				ev, ok := c.Fn(s.Items[cand.Key], now)
				ev.Key = cand.Key
				return ev, ok
			},
		})
	}

	if rs.retry.Enabled() {
		ready := rs.types.Of(suffixReadyForRetry)
		out = append(out, Check[ResourcesState[T]]{
			Name: CheckShouldRetry,
			Fn: func(s ResourcesState[T], now time.Time) (Event, bool) {
				cand := s.NextRetrying
				if cand == nil || !rs.retry.isReadyForRetry(s.Items[cand.Key].Meta, now) {
					return Event{}, false
				}
				return Event{Type: ready, Key: cand.Key}, true
			},
		})
	}
	return out
}

func (rs *Resources[T]) baseItemBundle() Bundle[ResourceState[T]] {
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

func (rs *Resources[T]) pendingView(b Bundle[ResourceState[T]]) View[ResourceState[T]] {
	ready := b.Views[ViewIsReadyForRetry]
	return func(s ResourceState[T], now time.Time) any {
		if !rs.cfg.online() || s.IsLoading {
			return false
		}
		if s.HasError() {
			return ready(s, now).(bool)
		}
		return s.IsStale || !s.IsPresent()
	}
}

// Fetch runs the item fetch for key and stores the result or error under it.
// Fetch errors are stored, never returned.
func (rs *Resources[T]) Fetch(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := rs.host.emit(ctx, Event{Type: rs.types.Of(suffixFetchStarted), Key: key})
	args := rs.features.EnhanceFetchArgs(FetchArgs{Resource: rs.cfg.name, Key: key}, s.Items[key])

	v, err := rs.fetch(ctx, key, args)
	if err != nil {
		permanent := rs.cfg.permanent(err)
		rs.cfg.hooks.FetchFailed(rs.cfg.name, key, err, permanent)
		rs.cfg.log.Debug("fetch failed", Fields{"resource": rs.cfg.name, "key": key, "err": err, "permanent": permanent})
		rs.host.emit(ctx, Event{Type: rs.types.Of(suffixFetchFailed), Key: key, Payload: failure{err: err, permanent: permanent}})
		return nil
	}
	rs.host.emit(ctx, Event{Type: rs.types.Of(suffixFetchFinished), Key: key, Payload: v})
	return nil
}

// FetchMany fetches keys concurrently, at most FetchConcurrency at a time.
func (rs *Resources[T]) FetchMany(ctx context.Context, keys ...string) error {
	g, gctx := errgroup.WithContext(ctx)
	if rs.concurrency > 0 {
		g.SetLimit(rs.concurrency)
	}
	for _, k := range keys {
		k := k
		g.Go(func() error { return rs.Fetch(gctx, k) })
	}
	return g.Wait()
}

// Pending lists the known keys that are pending for fetch, sorted. Keys never
// fetched or adjusted are unknown and not listed.
func (rs *Resources[T]) Pending() []string {
	s, now := rs.host.snapshot()
	pending := rs.item.Views[ViewIsPendingForFetch]
	var out []string
	for k, it := range s.Items {
		if pending(it, now).(bool) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// FetchPending fetches every pending key and returns how many it started.
func (rs *Resources[T]) FetchPending(ctx context.Context) (int, error) {
	keys := rs.Pending()
	if len(keys) == 0 {
		return 0, nil
	}
	return len(keys), rs.FetchMany(ctx, keys...)
}

// Adjust replaces the present data of key with v. Absent keys are left alone.
func (rs *Resources[T]) Adjust(key string, v T) {
	rs.AdjustWith(key, func(T) T { return v })
}

// AdjustWith replaces the present data of key with fn(data). fn is never
// called when key has no data.
func (rs *Resources[T]) AdjustWith(key string, fn func(T) T) {
	rs.host.emit(context.Background(), Event{Type: rs.types.Of(suffixAdjusted), Key: key, Payload: fn})
}

// Clear removes key.
func (rs *Resources[T]) Clear(ctx context.Context, key string) {
	rs.host.emit(ctx, Event{Type: rs.item.Actions[ActionClear], Key: key})
}

// MarkStale flags the data of key for refresh.
func (rs *Resources[T]) MarkStale(key string) {
	rs.host.emit(context.Background(), Event{Type: rs.item.Actions[ActionMarkAsStale], Key: key})
}

func (rs *Resources[T]) Tick(ctx context.Context)        { rs.host.tick(ctx) }
func (rs *Resources[T]) Start(every time.Duration)       { rs.host.start(every) }
func (rs *Resources[T]) Close()                          { rs.host.close() }
func (rs *Resources[T]) Name() string                    { return rs.cfg.name }
func (rs *Resources[T]) EventTypes() EventTypes          { return rs.types }
func (rs *Resources[T]) PersistEvents() []EventType      { return append([]EventType(nil), rs.persist...) }
func (rs *Resources[T]) Raw() ResourcesState[T]          { s, _ := rs.host.snapshot(); return s }
func (rs *Resources[T]) NextExpiring() (Candidate, bool) { return deref(rs.Raw().NextExpiring) }
func (rs *Resources[T]) NextRetrying() (Candidate, bool) { return deref(rs.Raw().NextRetrying) }
func (rs *Resources[T]) NextStale() (Candidate, bool)    { return deref(rs.Raw().NextStale) }

func deref(c *Candidate) (Candidate, bool) {
	if c == nil {
		return Candidate{}, false
	}
	return *c, true
}

// Hydrate restores the persisted snapshot, if any, and reports how many items
// it carried.
func (rs *Resources[T]) Hydrate(ctx context.Context) (int, error) {
	if rs.store == nil {
		return 0, nil
	}
	items, ok, err := rs.store.loadResources(ctx)
	if err != nil {
		rs.cfg.hooks.PersistError(rs.cfg.name, err)
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	rs.host.emit(ctx, Event{Type: rs.types.Of(suffixHydrated), Payload: items})
	return len(items), nil
}

// Item returns the record stored under key; ok is false for unknown keys,
// which behave as a freshly initialised record.
func (rs *Resources[T]) Item(key string) (ResourceState[T], bool) {
	s, _ := rs.host.snapshot()
	it, ok := s.Items[key]
	if !ok {
		return rs.clean, false
	}
	return it, true
}

// Keys lists the known keys, sorted.
func (rs *Resources[T]) Keys() []string {
	s, _ := rs.host.snapshot()
	out := make([]string, 0, len(s.Items))
	for k := range s.Items {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Items returns the data of every key with present data.
func (rs *Resources[T]) Items() map[string]T {
	s, _ := rs.host.snapshot()
	out := make(map[string]T, len(s.Items))
	for k, it := range s.Items {
		if it.IsPresent() {
			out[k] = it.Data
		}
	}
	return out
}

// ItemView evaluates a named per-item view for key.
func (rs *Resources[T]) ItemView(key, name string) (any, bool) {
	v, ok := rs.item.Views[name]
	if !ok {
		return nil, false
	}
	return rs.view(key, v), true
}

func (rs *Resources[T]) view(key string, v View[ResourceState[T]]) any {
	s, now := rs.host.snapshot()
	it, ok := s.Items[key]
	if !ok {
		it = rs.clean
	}
	return v(it, now)
}

func (rs *Resources[T]) itemView(key, name string) any { return rs.view(key, rs.item.Views[name]) }

func (rs *Resources[T]) Data(key string) T {
	v, _ := rs.itemView(key, ViewData).(T)
	return v
}

func (rs *Resources[T]) IsPresent(key string) bool { return rs.itemView(key, ViewIsPresent).(bool) }
func (rs *Resources[T]) IsLoading(key string) bool { return rs.itemView(key, ViewIsLoading).(bool) }
func (rs *Resources[T]) IsStale(key string) bool   { return rs.itemView(key, ViewIsStale).(bool) }
func (rs *Resources[T]) HasError(key string) bool  { return rs.itemView(key, ViewHasError).(bool) }
func (rs *Resources[T]) ErrorIsPermanent(key string) bool {
	return rs.itemView(key, ViewErrorIsPermanent).(bool)
}
func (rs *Resources[T]) IsReadyForRetry(key string) bool {
	return rs.itemView(key, ViewIsReadyForRetry).(bool)
}
func (rs *Resources[T]) IsPendingForFetch(key string) bool {
	return rs.itemView(key, ViewIsPendingForFetch).(bool)
}
func (rs *Resources[T]) RetryAt(key string) time.Time {
	return rs.itemView(key, ViewRetryAt).(time.Time)
}

func (rs *Resources[T]) Err(key string) error {
	err, _ := rs.itemView(key, ViewError).(error)
	return err
}
