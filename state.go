package asyncache

import "time"

// Meta carries the lifecycle fields the features own. Every record embeds it.
//
// An error is active iff ErrorAt is set; data presence is tracked by the
// owning record's timestamp, never by the value itself.
type Meta struct {
	IsStale bool

	Err              error
	ErrorAt          time.Time
	ErrorIsPermanent bool
	ReadyForRetry    bool

	// DependencyValues is nil until the dependencies resolve for the first time.
	DependencyValues DependencyValues
}

// HasError reports whether an error is active.
func (m Meta) HasError() bool { return !m.ErrorAt.IsZero() }

func (m Meta) withError(err error, at time.Time, permanent bool) Meta {
	m.Err = err
	m.ErrorAt = at
	m.ErrorIsPermanent = permanent
	m.ReadyForRetry = false
	return m
}

func (m Meta) withoutError() Meta {
	m.Err = nil
	m.ErrorAt = time.Time{}
	m.ErrorIsPermanent = false
	m.ReadyForRetry = false
	return m
}

// Record is the constraint the composer places on state types: features read
// and replace the embedded Meta and read the freshness timestamp, nothing else.
type Record[S any] interface {
	Lifecycle() Meta
	WithLifecycle(Meta) S
	// FreshAt is when the current data was stored; zero when no data is present.
	FreshAt() time.Time
}

// ResourceState is the record of one cached value. It is also the per-item
// record of a keyed collection.
type ResourceState[T any] struct {
	Meta

	IsLoading bool
	Data      T
	DataAt    time.Time
}

var _ Record[ResourceState[int]] = ResourceState[int]{}

func (s ResourceState[T]) Lifecycle() Meta { return s.Meta }

func (s ResourceState[T]) WithLifecycle(m Meta) ResourceState[T] {
	s.Meta = m
	return s
}

func (s ResourceState[T]) FreshAt() time.Time { return s.DataAt }

// IsPresent reports whether data has been stored. Data may legitimately be the
// zero value of T.
func (s ResourceState[T]) IsPresent() bool { return !s.DataAt.IsZero() }

// CollectionState is the record of an incrementally loaded ordered collection.
// A non-empty request id marks the corresponding operation as in flight.
type CollectionState[T any] struct {
	Meta

	RefreshRequestID string
	Items            []T
	ItemsAt          time.Time

	LoadMoreRequestID        string
	HasMore                  bool
	LoadMoreErr              error
	LoadMoreErrorAt          time.Time
	LoadMoreErrorIsPermanent bool
}

var _ Record[CollectionState[int]] = CollectionState[int]{}

func (s CollectionState[T]) Lifecycle() Meta { return s.Meta }

func (s CollectionState[T]) WithLifecycle(m Meta) CollectionState[T] {
	s.Meta = m
	return s
}

func (s CollectionState[T]) FreshAt() time.Time { return s.ItemsAt }

func (s CollectionState[T]) IsPresent() bool { return !s.ItemsAt.IsZero() }

// Candidate points at the item a keyed-collection background check will look
// at next.
type Candidate struct {
	Key string
	At  time.Time
}

func (c *Candidate) before(o *Candidate) bool {
	if !c.At.Equal(o.At) {
		return c.At.Before(o.At)
	}
	return c.Key < o.Key
}

// ResourcesState is the record of a keyed collection. Absent keys behave as a
// freshly initialised ResourceState.
type ResourcesState[T any] struct {
	Items map[string]ResourceState[T]

	NextExpiring *Candidate
	NextRetrying *Candidate
	NextStale    *Candidate
}
