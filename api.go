package asyncache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/asyncache/reqid"
)

// FetchFunc produces the value of a single resource.
type FetchFunc[T any] func(ctx context.Context, args FetchArgs) (T, error)

// ItemFetchFunc produces the value of one item of a keyed collection.
type ItemFetchFunc[T any] func(ctx context.Context, key string, args FetchArgs) (T, error)

// CollectionFetchFunc produces one page of an incrementally loaded collection.
// existing is nil for a refresh and the currently loaded items for a load-more.
type CollectionFetchFunc[T, R any] func(ctx context.Context, existing []T, args FetchArgs) (R, error)

// Page is a processed collection fetch result.
type Page[T any] struct {
	Items   []T
	HasMore bool
}

// Timers configures the time-driven features. A zero field takes the shape's
// default; Never disables the feature.
type Timers struct {
	RetryAfter  time.Duration
	StaleAfter  time.Duration
	ExpireAfter time.Duration
}

func (t Timers) withDefaults(retry time.Duration) Timers {
	return Timers{
		RetryAfter:  coalesce(t.RetryAfter, retry),
		StaleAfter:  coalesce(t.StaleAfter, defaultStaleAfter),
		ExpireAfter: coalesce(t.ExpireAfter, Never),
	}
}

// ResourceOptions configure a single cached value.
// Only Name and Fetch are required.
type ResourceOptions[T any] struct {
	// Required
	Name  string // unique resource name, e.g. "userProfile"
	Fetch FetchFunc[T]

	ActionBaseType string // event type prefix; "" => Name in UPPER_SNAKE_CASE
	Timers                // RetryAfter 1m, StaleAfter 15m, ExpireAfter Never

	Dependencies []DependencyKey
	Source       DependencySource // where dependency values are read from

	ErrorIsPermanent func(error) bool // nil => IsPermanent
	Online           func() bool      // nil => always online

	DisablePersist bool            // default false => snapshots written when Persistence is set
	Persistence    *Persistence[T] // nil => nothing is written

	Clock         Clock  // nil => SystemClock
	Logger        Logger // nil => NopLogger
	Hooks         Hooks  // nil => NopHooks
	ReactionLimit int    // 0 => 32
}

// ResourcesOptions configure a keyed collection. Every item follows the same
// lifecycle as a single resource.
type ResourcesOptions[T any] struct {
	// Required
	Name  string
	Fetch ItemFetchFunc[T]

	ActionBaseType string
	Timers         // RetryAfter 1m, StaleAfter 15m, ExpireAfter Never

	ErrorIsPermanent func(error) bool
	Online           func() bool

	// FetchConcurrency caps concurrent fetches in FetchMany and FetchPending.
	// 0 => unlimited.
	FetchConcurrency int

	DisablePersist bool
	Persistence    *Persistence[T]

	Clock         Clock
	Logger        Logger
	Hooks         Hooks
	ReactionLimit int
}

// CollectionOptions configure an incrementally loaded collection. R is the raw
// fetch result, mapped to a Page by ProcessResult.
type CollectionOptions[T, R any] struct {
	// Required
	Name  string
	Fetch CollectionFetchFunc[T, R]

	// ProcessResult maps a raw result to a page. nil is allowed only when R
	// is []T: the result is the page and HasMore is true while it is non-empty.
	ProcessResult func(R) Page[T]

	ActionBaseType string
	Timers         // RetryAfter 15s, StaleAfter 15m, ExpireAfter Never

	Dependencies []DependencyKey
	Source       DependencySource

	ErrorIsPermanent func(error) bool
	Online           func() bool

	RequestIDs reqid.Source // nil => reqid.UUID

	Persist     bool // default false
	Persistence *Persistence[T]

	Clock         Clock
	Logger        Logger
	Hooks         Hooks
	ReactionLimit int
}

// shared is the part of every shape's options the engine resolves the same way.
type shared struct {
	name      string
	baseType  string
	timers    Timers
	permanent func(error) bool
	online    func() bool
	clock     Clock
	log       Logger
	hooks     Hooks
	limit     int
}

func resolveShared(shape, name, baseType string, timers Timers, retryDefault time.Duration,
	permanent func(error) bool, online func() bool, clock Clock, log Logger, hooks Hooks, limit int,
) (shared, error) {
	if name == "" {
		return shared{}, &ConfigError{Shape: shape, Err: ErrNameRequired}
	}
	if baseType == "" {
		baseType = baseTypeName(name)
	}
	if permanent == nil {
		permanent = IsPermanent
	}
	if online == nil {
		online = func() bool { return true }
	}
	return shared{
		name:      name,
		baseType:  baseType,
		timers:    timers.withDefaults(retryDefault),
		permanent: permanent,
		online:    online,
		clock:     coalesce[Clock](clock, SystemClock{}),
		log:       coalesce[Logger](log, NopLogger{}),
		hooks:     coalesce[Hooks](hooks, NopHooks{}),
		limit:     coalesce(limit, defaultReactionLimit),
	}, nil
}

// failure is the payload of a FAILED event.
type failure struct {
	err       error
	permanent bool
}
