package asyncache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/asyncache/codec"
	"github.com/unkn0wn-root/asyncache/internal/wire"
	pr "github.com/unkn0wn-root/asyncache/provider"
)

type memEntry struct {
	v   []byte
	ttl time.Duration
}

type memProvider struct {
	mu     sync.Mutex
	m      map[string]memEntry
	reject bool
	getErr error
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string]memEntry)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getErr != nil {
		return nil, false, p.getErr
	}
	e, ok := p.m[key]
	if !ok {
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reject {
		return false, nil
	}
	p.m[key] = memEntry{v: append([]byte(nil), value...), ttl: ttl}
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
	return nil
}

func (p *memProvider) Close(context.Context) error { return nil }

func (p *memProvider) entry(key string) (memEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[key]
	return e, ok
}

func (p *memProvider) put(key string, v []byte) {
	p.mu.Lock()
	p.m[key] = memEntry{v: v}
	p.mu.Unlock()
}

type user struct {
	ID   string `json:"id" msgpack:"id"`
	Name string `json:"name" msgpack:"name"`
}

const profileKey = "snapshot:asyncache:profile"

func newPersistedResource(t *testing.T, clk *ManualClock, mp pr.Provider, fetch FetchFunc[user], mutate func(*ResourceOptions[user])) *Resource[user] {
	t.Helper()
	opts := ResourceOptions[user]{
		Name:        "profile",
		Fetch:       fetch,
		Clock:       clk,
		Persistence: &Persistence[user]{Provider: mp},
	}
	if mutate != nil {
		mutate(&opts)
	}
	r, err := NewResource(opts)
	require.NoError(t, err)
	return r
}

func fetchUser(name string) FetchFunc[user] {
	return func(context.Context, FetchArgs) (user, error) { return user{ID: "1", Name: name}, nil }
}

func TestResourceSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	clk := NewManualClock(time.Time{})
	mp := newMemProvider()

	r1 := newPersistedResource(t, clk, mp, fetchUser("ada"), nil)
	require.NoError(t, r1.Fetch(ctx))
	e, ok := mp.entry(profileKey)
	require.True(t, ok)
	assert.Zero(t, e.ttl, "no TTL without a finite ExpireAfter")

	clk.Advance(time.Minute)
	r2 := newPersistedResource(t, clk, mp, fetchUser("bob"), nil)
	hydrated, err := r2.Hydrate(ctx)
	require.NoError(t, err)
	require.True(t, hydrated)

	assert.Equal(t, user{ID: "1", Name: "ada"}, r2.Data())
	assert.True(t, r2.Raw().DataAt.Equal(r1.Raw().DataAt), "hydration keeps the original timestamp")
	assert.False(t, r2.IsPendingForFetch())
}

func TestResourceSnapshotMsgpackCodec(t *testing.T) {
	ctx := context.Background()
	clk := NewManualClock(time.Time{})
	mp := newMemProvider()
	withMsgpack := func(o *ResourceOptions[user]) {
		o.Persistence = &Persistence[user]{Provider: mp, Codec: codec.Msgpack[user]{}, Namespace: "app"}
	}

	r1 := newPersistedResource(t, clk, mp, fetchUser("ada"), withMsgpack)
	require.NoError(t, r1.Fetch(ctx))
	_, ok := mp.entry("snapshot:app:profile")
	require.True(t, ok)

	r2 := newPersistedResource(t, clk, mp, fetchUser("bob"), withMsgpack)
	_, err := r2.Hydrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ada", r2.Data().Name)
}

func TestResourceSnapshotTTL(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()

	r := newPersistedResource(t, NewManualClock(time.Time{}), mp, fetchUser("ada"), func(o *ResourceOptions[user]) {
		o.ExpireAfter = time.Hour
	})
	require.NoError(t, r.Fetch(ctx))
	e, _ := mp.entry(profileKey)
	assert.Equal(t, time.Hour, e.ttl)

	r = newPersistedResource(t, NewManualClock(time.Time{}), mp, fetchUser("ada"), func(o *ResourceOptions[user]) {
		o.ExpireAfter = time.Hour
		o.Persistence.TTL = 5 * time.Minute
	})
	require.NoError(t, r.Fetch(ctx))
	e, _ = mp.entry(profileKey)
	assert.Equal(t, 5*time.Minute, e.ttl)
}

func TestResourceHydrateExpiredSnapshot(t *testing.T) {
	ctx := context.Background()
	clk := NewManualClock(time.Time{})
	mp := newMemProvider()
	expire := func(o *ResourceOptions[user]) { o.ExpireAfter = 10 * time.Second }

	r1 := newPersistedResource(t, clk, mp, fetchUser("ada"), expire)
	require.NoError(t, r1.Fetch(ctx))

	clk.Advance(11 * time.Second)
	r2 := newPersistedResource(t, clk, mp, fetchUser("bob"), expire)
	hydrated, err := r2.Hydrate(ctx)
	require.NoError(t, err)
	assert.True(t, hydrated)

	assert.False(t, r2.IsPresent(), "an old snapshot expires as soon as it is restored")
	_, ok := mp.entry(profileKey)
	assert.False(t, ok, "the expired snapshot is deleted")
}

func TestResourceHydrateStaleSnapshot(t *testing.T) {
	ctx := context.Background()
	clk := NewManualClock(time.Time{})
	mp := newMemProvider()

	r1 := newPersistedResource(t, clk, mp, fetchUser("ada"), nil)
	require.NoError(t, r1.Fetch(ctx))

	clk.Advance(defaultStaleAfter + time.Second)
	r2 := newPersistedResource(t, clk, mp, fetchUser("bob"), nil)
	_, err := r2.Hydrate(ctx)
	require.NoError(t, err)
	assert.True(t, r2.IsPresent())
	assert.True(t, r2.IsStale())
	assert.True(t, r2.IsPendingForFetch())
}

func TestResourceHydrateKeepsNewerData(t *testing.T) {
	ctx := context.Background()
	clk := NewManualClock(time.Time{})
	mp := newMemProvider()

	r1 := newPersistedResource(t, clk, mp, fetchUser("ada"), nil)
	require.NoError(t, r1.Fetch(ctx))
	old, _ := mp.entry(profileKey)

	clk.Advance(time.Second)
	r2 := newPersistedResource(t, clk, mp, fetchUser("bob"), nil)
	require.NoError(t, r2.Fetch(ctx))
	mp.put(profileKey, old.v)

	_, err := r2.Hydrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bob", r2.Data().Name)
}

func TestResourceClearDeletesSnapshot(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	r := newPersistedResource(t, NewManualClock(time.Time{}), mp, fetchUser("ada"), nil)

	require.NoError(t, r.Fetch(ctx))
	_, ok := mp.entry(profileKey)
	require.True(t, ok)

	r.Clear(ctx)
	_, ok = mp.entry(profileKey)
	assert.False(t, ok)
}

func TestResourceCorruptSnapshot(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	hooks := &recordingHooks{}
	r := newPersistedResource(t, NewManualClock(time.Time{}), mp, fetchUser("ada"), func(o *ResourceOptions[user]) {
		o.Hooks = hooks
	})

	mp.put(profileKey, []byte("not a snapshot"))
	hydrated, err := r.Hydrate(ctx)
	assert.False(t, hydrated)
	require.ErrorIs(t, err, wire.ErrCorrupt)
	_, ok := mp.entry(profileKey)
	assert.False(t, ok, "corrupt snapshots are deleted")
	assert.Len(t, hooks.snapshot().persist, 1)

	mp.put(profileKey, wire.EncodeSingle(time.Now().UnixNano(), []byte("{")))
	_, err = r.Hydrate(ctx)
	require.Error(t, err, "a payload the codec rejects is an error too")
	_, ok = mp.entry(profileKey)
	assert.False(t, ok)
}

func TestResourcePersistenceDisabled(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	r := newPersistedResource(t, NewManualClock(time.Time{}), mp, fetchUser("ada"), func(o *ResourceOptions[user]) {
		o.DisablePersist = true
	})

	require.NoError(t, r.Fetch(ctx))
	_, ok := mp.entry(profileKey)
	assert.False(t, ok)

	hydrated, err := r.Hydrate(ctx)
	assert.NoError(t, err)
	assert.False(t, hydrated)
}

func TestResourcePersistFailuresAreReported(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	mp.reject = true
	hooks := &recordingHooks{}
	r := newPersistedResource(t, NewManualClock(time.Time{}), mp, fetchUser("ada"), func(o *ResourceOptions[user]) {
		o.Hooks = hooks
	})

	require.NoError(t, r.Fetch(ctx))
	assert.Equal(t, "ada", r.Data().Name, "a failed write does not affect the record")
	assert.Len(t, hooks.snapshot().persist, 1)

	mp.getErr = errors.New("connection refused")
	_, err := r.Hydrate(ctx)
	assert.ErrorIs(t, err, mp.getErr)
	assert.Len(t, hooks.snapshot().persist, 2)
}

func TestResourcesSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	clk := NewManualClock(time.Time{})
	mp := newMemProvider()
	opts := func(fetch ItemFetchFunc[int]) ResourcesOptions[int] {
		return ResourcesOptions[int]{
			Name:        "scores",
			Fetch:       fetch,
			Clock:       clk,
			Timers:      Timers{ExpireAfter: time.Hour},
			Persistence: &Persistence[int]{Provider: mp, Codec: codec.Msgpack[int]{}},
		}
	}
	key := "snapshot:asyncache:scores"

	rs1, err := NewResources(opts(newKeyedFetch().fetch))
	require.NoError(t, err)
	require.NoError(t, rs1.Fetch(ctx, "a"))
	clk.Advance(time.Second)
	require.NoError(t, rs1.Fetch(ctx, "bb"))
	snapshot, ok := mp.entry(key)
	require.True(t, ok)
	assert.Equal(t, time.Hour, snapshot.ttl)

	clk.Advance(time.Second)
	tenfold := func(_ context.Context, key string, _ FetchArgs) (int, error) { return 10 * len(key), nil }
	rs2, err := NewResources(opts(tenfold))
	require.NoError(t, err)
	require.NoError(t, rs2.Fetch(ctx, "bb"))
	mp.put(key, snapshot.v)

	n, err := rs2.Hydrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, map[string]int{"a": 1, "bb": 20}, rs2.Items(), "newer data survives hydration")

	a, _ := rs2.Item("a")
	a1, _ := rs1.Item("a")
	assert.True(t, a.DataAt.Equal(a1.DataAt))

	c, ok := rs2.NextExpiring()
	require.True(t, ok)
	assert.Equal(t, "a", c.Key, "indexes are rebuilt after hydration")
}

func TestResourcesSnapshotDropsAbsentData(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	f := newKeyedFetch()
	rs, err := NewResources(ResourcesOptions[int]{
		Name:        "scores",
		Fetch:       f.fetch,
		Clock:       NewManualClock(time.Time{}),
		Persistence: &Persistence[int]{Provider: mp},
	})
	require.NoError(t, err)

	require.NoError(t, rs.Fetch(ctx, "a"))
	rs.Clear(ctx, "a")
	_, ok := mp.entry("snapshot:asyncache:scores")
	assert.False(t, ok, "an empty keyed snapshot is deleted")
}

func TestCollectionSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	clk := NewManualClock(time.Time{})
	mp := newMemProvider()
	newFeed := func(persist bool) *Collection[string, []string] {
		c, err := NewCollection(CollectionOptions[string, []string]{
			Name: "feed",
			Fetch: func(_ context.Context, existing []string, _ FetchArgs) ([]string, error) {
				if len(existing) == 0 {
					return []string{"a", "b"}, nil
				}
				return []string{"c"}, nil
			},
			Clock:       clk,
			Persist:     persist,
			Persistence: &Persistence[string]{Provider: mp, Codec: codec.String{}},
		})
		require.NoError(t, err)
		return c
	}
	key := "snapshot:asyncache:feed"

	off := newFeed(false)
	require.NoError(t, off.Refresh(ctx))
	_, ok := mp.entry(key)
	assert.False(t, ok, "collections persist only when asked to")

	c1 := newFeed(true)
	require.NoError(t, c1.Refresh(ctx))
	require.NoError(t, c1.LoadMore(ctx))

	c2 := newFeed(true)
	hydrated, err := c2.Hydrate(ctx)
	require.NoError(t, err)
	require.True(t, hydrated)
	assert.Equal(t, []string{"a", "b", "c"}, c2.Items())
	assert.True(t, c2.HasMore())
	assert.True(t, c2.CanLoadMore())
	assert.True(t, c2.Raw().ItemsAt.Equal(c1.Raw().ItemsAt))
}
