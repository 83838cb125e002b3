package asyncache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedFetch returns the queued results in order, then repeats the last.
type scriptedFetch[T any] struct {
	results []scriptedResult[T]
	calls   atomic.Int32
	args    []FetchArgs
}

type scriptedResult[T any] struct {
	v   T
	err error
}

func okResult[T any](v T) scriptedResult[T]         { return scriptedResult[T]{v: v} }
func failResult[T any](err error) scriptedResult[T] { return scriptedResult[T]{err: err} }

func (f *scriptedFetch[T]) fetch(_ context.Context, args FetchArgs) (T, error) {
	n := int(f.calls.Add(1)) - 1
	f.args = append(f.args, args)
	if n >= len(f.results) {
		n = len(f.results) - 1
	}
	r := f.results[n]
	return r.v, r.err
}

func newTestResource[T any](t *testing.T, clk *ManualClock, f *scriptedFetch[T], mutate func(*ResourceOptions[T])) *Resource[T] {
	t.Helper()
	opts := ResourceOptions[T]{Name: "testResource", Fetch: f.fetch, Clock: clk}
	if mutate != nil {
		mutate(&opts)
	}
	r, err := NewResource(opts)
	require.NoError(t, err)
	return r
}

func TestResourceConstructorErrors(t *testing.T) {
	_, err := NewResource(ResourceOptions[int]{Fetch: (&scriptedFetch[int]{}).fetch})
	assert.ErrorIs(t, err, ErrNameRequired)
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "resource", ce.Shape)

	_, err = NewResource(ResourceOptions[int]{Name: "x"})
	assert.ErrorIs(t, err, ErrFetchRequired)
}

func TestResourceFetchSuccess(t *testing.T) {
	ctx := context.Background()
	clk := NewManualClock(time.Time{})
	f := &scriptedFetch[string]{results: []scriptedResult[string]{okResult("hello")}}
	r := newTestResource(t, clk, f, nil)

	assert.False(t, r.IsPresent())
	assert.True(t, r.IsPendingForFetch())

	require.NoError(t, r.Fetch(ctx))
	assert.Equal(t, "hello", r.Data())
	assert.True(t, r.IsPresent())
	assert.False(t, r.IsLoading())
	assert.False(t, r.IsPendingForFetch())
	assert.Equal(t, clk.Now(), r.Raw().DataAt)
	assert.Equal(t, "testResource", f.args[0].Resource)
}

func TestResourcePresenceTrackedByTimestamp(t *testing.T) {
	ctx := context.Background()
	clk := NewManualClock(time.Time{})
	f := &scriptedFetch[*int]{results: []scriptedResult[*int]{okResult[*int](nil)}}
	r := newTestResource(t, clk, f, nil)

	require.NoError(t, r.Fetch(ctx))
	assert.True(t, r.IsPresent(), "a nil value is still present data")
	assert.Nil(t, r.Data())
	assert.False(t, r.Raw().DataAt.IsZero())
}

func TestResourceFinishedResetsFlags(t *testing.T) {
	ctx := context.Background()
	clk := NewManualClock(time.Time{})
	f := &scriptedFetch[int]{results: []scriptedResult[int]{okResult(1), failResult[int](errors.New("boom")), okResult(2)}}
	r := newTestResource(t, clk, f, nil)

	require.NoError(t, r.Fetch(ctx))
	r.MarkStale()
	require.NoError(t, r.Fetch(ctx))
	assert.True(t, r.IsStale())
	assert.True(t, r.HasError())
	assert.Equal(t, 1, r.Data(), "a failure keeps the previous data")

	require.NoError(t, r.Fetch(ctx))
	assert.False(t, r.IsStale())
	assert.False(t, r.HasError())
	assert.False(t, r.IsLoading())
	assert.NoError(t, r.Err())
	assert.Equal(t, 2, r.Data())
}

func TestResourceRetryScenario(t *testing.T) {
	ctx := context.Background()
	clk := NewManualClock(time.Time{})
	start := clk.Now()
	boom := errors.New("boom")
	hooks := &recordingHooks{}
	f := &scriptedFetch[int]{results: []scriptedResult[int]{failResult[int](boom)}}
	r := newTestResource(t, clk, f, func(o *ResourceOptions[int]) {
		o.RetryAfter = 10 * time.Second
		o.Hooks = hooks
	})

	require.NoError(t, r.Fetch(ctx))
	assert.True(t, r.HasError())
	assert.ErrorIs(t, r.Err(), boom)
	assert.Equal(t, start, r.ErrorAt())
	assert.Equal(t, start.Add(10*time.Second), r.RetryAt())
	assert.Equal(t, []error{boom}, hooks.snapshot().failures)

	clk.Advance(9 * time.Second)
	r.Tick(ctx)
	assert.False(t, r.IsReadyForRetry())
	assert.False(t, r.IsPendingForFetch())

	clk.Advance(2 * time.Second)
	r.Tick(ctx)
	assert.True(t, r.IsReadyForRetry())
	assert.True(t, r.IsPendingForFetch())

	fetched, err := r.FetchIfPending(ctx)
	require.NoError(t, err)
	assert.True(t, fetched)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestResourcePermanentErrorNeverRetries(t *testing.T) {
	ctx := context.Background()
	clk := NewManualClock(time.Time{})
	f := &scriptedFetch[int]{results: []scriptedResult[int]{failResult[int](Permanent(errors.New("gone")))}}
	r := newTestResource(t, clk, f, func(o *ResourceOptions[int]) { o.RetryAfter = time.Second })

	require.NoError(t, r.Fetch(ctx))
	assert.True(t, r.ErrorIsPermanent())
	assert.True(t, r.RetryAt().IsZero())

	clk.Advance(time.Hour)
	assert.False(t, r.IsReadyForRetry())
	assert.False(t, r.IsPendingForFetch())
}

func TestResourceErrorIsPermanentOverride(t *testing.T) {
	ctx := context.Background()
	clk := NewManualClock(time.Time{})
	notFound := errors.New("404")
	f := &scriptedFetch[int]{results: []scriptedResult[int]{failResult[int](notFound)}}
	r := newTestResource(t, clk, f, func(o *ResourceOptions[int]) {
		o.ErrorIsPermanent = func(err error) bool { return errors.Is(err, notFound) }
	})

	require.NoError(t, r.Fetch(ctx))
	assert.True(t, r.ErrorIsPermanent())
}

func TestResourceRetryDisabled(t *testing.T) {
	ctx := context.Background()
	clk := NewManualClock(time.Time{})
	f := &scriptedFetch[int]{results: []scriptedResult[int]{failResult[int](errors.New("x"))}}
	r := newTestResource(t, clk, f, func(o *ResourceOptions[int]) { o.RetryAfter = Never })

	require.NoError(t, r.Fetch(ctx))
	clk.Advance(24 * time.Hour)
	assert.True(t, r.HasError())
	assert.False(t, r.IsReadyForRetry())
	assert.True(t, r.RetryAt().IsZero())
	assert.False(t, r.IsPendingForFetch())
}

func TestResourceStaleScenario(t *testing.T) {
	ctx := context.Background()
	clk := NewManualClock(time.Time{})
	f := &scriptedFetch[string]{results: []scriptedResult[string]{okResult("v")}}
	hooks := &recordingHooks{}
	r := newTestResource(t, clk, f, func(o *ResourceOptions[string]) {
		o.StaleAfter = 15 * time.Second
		o.Hooks = hooks
	})

	require.NoError(t, r.Fetch(ctx))

	clk.Advance(15 * time.Second)
	r.Tick(ctx)
	assert.False(t, r.IsStale())

	clk.Advance(time.Second)
	r.Tick(ctx)
	assert.True(t, r.IsStale())
	assert.True(t, r.IsPresent())
	assert.Equal(t, "v", r.Data())
	assert.True(t, r.IsPendingForFetch())
	assert.Contains(t, hooks.snapshot().checks, CheckShouldBecomeStale)
}

func TestResourceExpiryScenario(t *testing.T) {
	ctx := context.Background()
	clk := NewManualClock(time.Time{})
	f := &scriptedFetch[string]{results: []scriptedResult[string]{okResult("v")}}
	r := newTestResource(t, clk, f, func(o *ResourceOptions[string]) { o.ExpireAfter = 20 * time.Second })

	require.NoError(t, r.Fetch(ctx))
	clk.Advance(20 * time.Second)
	r.Tick(ctx)
	assert.True(t, r.IsPresent())

	clk.Advance(time.Second)
	r.Tick(ctx)
	assert.Equal(t, ResourceState[string]{}, r.Raw(), "expired state equals the clean state")
	assert.False(t, r.IsPresent())
	assert.False(t, r.IsLoading())
	assert.True(t, r.IsPendingForFetch())
}

func TestResourceClear(t *testing.T) {
	ctx := context.Background()
	clk := NewManualClock(time.Time{})
	f := &scriptedFetch[int]{results: []scriptedResult[int]{okResult(7)}}
	r := newTestResource(t, clk, f, nil)

	require.NoError(t, r.Fetch(ctx))
	r.Clear(ctx)
	assert.Equal(t, ResourceState[int]{}, r.Raw())
}

func TestResourceAdjust(t *testing.T) {
	ctx := context.Background()
	clk := NewManualClock(time.Time{})
	f := &scriptedFetch[int]{results: []scriptedResult[int]{okResult(1)}}
	r := newTestResource(t, clk, f, nil)

	assert.NotPanics(t, func() {
		r.AdjustWith(func(int) int { panic("updater called without data") })
	})
	r.Adjust(5)
	assert.False(t, r.IsPresent(), "adjust without data is a no-op")

	require.NoError(t, r.Fetch(ctx))
	at := r.Raw().DataAt
	clk.Advance(time.Second)

	r.Adjust(5)
	assert.Equal(t, 5, r.Data())
	r.AdjustWith(func(v int) int { return v + 1 })
	assert.Equal(t, 6, r.Data())
	assert.Equal(t, at, r.Raw().DataAt, "adjusting does not refresh the timestamp")
}

func TestResourceDependencies(t *testing.T) {
	ctx := context.Background()
	clk := NewManualClock(time.Time{})
	src := NewMapSource(map[string]any{"currentPage": 1, "query": "a"})

	var fetch scriptedFetch[string]
	fetchFn := func(ctx context.Context, args FetchArgs) (string, error) {
		fetch.calls.Add(1)
		return fmt.Sprintf("%v/%v", args.Dependency("query"), args.Dependency("currentPage")), nil
	}
	r, err := NewResource(ResourceOptions[string]{
		Name:  "search",
		Fetch: fetchFn,
		Clock: clk,
		Dependencies: []DependencyKey{
			{Key: "currentPage", StaleOnChange: true},
			{Key: "query"},
		},
		Source: src,
	})
	require.NoError(t, err)

	assert.True(t, r.IsDependencyResolved())
	assert.Equal(t, DependencyValues{"currentPage": 1, "query": "a"}, r.DependencyValues())
	assert.False(t, r.IsStale(), "first resolution never marks stale")

	require.NoError(t, r.Fetch(ctx))
	assert.Equal(t, "a/1", r.Data())

	src.Set(map[string]any{"currentPage": 2})
	assert.True(t, r.IsStale(), "staling key change marks stale")
	assert.True(t, r.IsPresent())
	assert.Equal(t, "a/1", r.Data())
	assert.Equal(t, 2, r.DependencyValues()["currentPage"])

	require.NoError(t, r.Fetch(ctx))
	assert.Equal(t, "a/2", r.Data())

	src.Set(map[string]any{"query": "b"})
	assert.False(t, r.IsPresent(), "non-staling key change hard-resets")
	assert.False(t, r.IsStale())
	assert.Equal(t, DependencyValues{"currentPage": 2, "query": "b"}, r.DependencyValues())

	src.Set(map[string]any{"currentPage": 3, "query": "c"})
	assert.False(t, r.IsPresent(), "a mixed change hard-resets")
}

func TestResourceUnresolvedDependencies(t *testing.T) {
	clk := NewManualClock(time.Time{})
	src := NewMapSource(nil)
	f := &scriptedFetch[int]{results: []scriptedResult[int]{okResult(1)}}
	r := newTestResource(t, clk, f, func(o *ResourceOptions[int]) {
		o.Dependencies = []DependencyKey{{Key: "org"}, {Key: "filter", AllowBlank: true}}
		o.Source = src
	})

	assert.False(t, r.IsDependencyResolved())
	assert.False(t, r.IsPendingForFetch())

	src.Set(map[string]any{"org": "acme"})
	assert.True(t, r.IsDependencyResolved())
	assert.True(t, r.IsPendingForFetch())
}

func TestResourceWithoutDependencies(t *testing.T) {
	r := newTestResource(t, NewManualClock(time.Time{}), &scriptedFetch[int]{results: []scriptedResult[int]{okResult(1)}}, nil)
	assert.True(t, r.IsDependencyResolved())
	assert.Equal(t, DependencyValues{}, r.DependencyValues())
}

func TestResourceOnlineGate(t *testing.T) {
	var online atomic.Bool
	r := newTestResource(t, NewManualClock(time.Time{}), &scriptedFetch[int]{results: []scriptedResult[int]{okResult(1)}},
		func(o *ResourceOptions[int]) { o.Online = online.Load })

	assert.False(t, r.IsPendingForFetch())
	online.Store(true)
	assert.True(t, r.IsPendingForFetch())
}

func TestResourceNamesAndPersistEvents(t *testing.T) {
	f := &scriptedFetch[int]{results: []scriptedResult[int]{okResult(1)}}
	r := newTestResource(t, NewManualClock(time.Time{}), f, func(o *ResourceOptions[int]) { o.Name = "userProfile" })
	assert.Equal(t, "USER_PROFILE", r.EventTypes().Base())
	assert.Equal(t, []EventType{"USER_PROFILE_FETCH_FINISHED", "USER_PROFILE_EXPIRED", "USER_PROFILE_CLEARED"}, r.PersistEvents())

	r = newTestResource(t, NewManualClock(time.Time{}), f, func(o *ResourceOptions[int]) {
		o.ActionBaseType = "ME"
		o.DisablePersist = true
	})
	assert.Equal(t, "ME", r.EventTypes().Base())
	assert.Nil(t, r.PersistEvents())
}

func TestResourceView(t *testing.T) {
	r := newTestResource(t, NewManualClock(time.Time{}), &scriptedFetch[int]{results: []scriptedResult[int]{okResult(1)}}, nil)
	v, ok := r.View(ViewIsPendingForFetch)
	require.True(t, ok)
	assert.Equal(t, true, v)

	_, ok = r.View("nope")
	assert.False(t, ok)
}

func TestResourceFetchHonoursCancelledContext(t *testing.T) {
	f := &scriptedFetch[int]{results: []scriptedResult[int]{okResult(1)}}
	r := newTestResource(t, NewManualClock(time.Time{}), f, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Fetch(ctx), context.Canceled)
	assert.Zero(t, f.calls.Load())
}
