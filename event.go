package asyncache

import (
	"strings"
	"time"
	"unicode"
)

// EventType names a state transition. Types are namespaced by the resource's
// base type, e.g. "USER_PROFILE_FETCH_FINISHED".
type EventType string

// Event is a discrete state transition applied by a host. At is stamped by the
// host when the event is emitted unless the emitter already set it (hydration
// replays keep their original time).
type Event struct {
	Type      EventType
	Key       string // item key, keyed collections only
	RequestID string // in-flight operation id, incremental-load collections only
	Payload   any
	At        time.Time
}

// Event suffixes shared by all shapes.
const (
	suffixFetchStarted        = "FETCH_STARTED"
	suffixFetchFinished       = "FETCH_FINISHED"
	suffixFetchFailed         = "FETCH_FAILED"
	suffixAdjusted            = "ADJUSTED"
	suffixCleared             = "CLEARED"
	suffixStale               = "STALE"
	suffixExpired             = "EXPIRED"
	suffixReadyForRetry       = "READY_FOR_RETRY"
	suffixDependenciesChanged = "DEPENDENCIES_CHANGED"
	suffixHydrated            = "HYDRATED"

	suffixRefreshStarted   = "REFRESH_STARTED"
	suffixRefreshFinished  = "REFRESH_FINISHED"
	suffixRefreshFailed    = "REFRESH_FAILED"
	suffixLoadMoreStarted  = "LOAD_MORE_STARTED"
	suffixLoadMoreFinished = "LOAD_MORE_FINISHED"
	suffixLoadMoreFailed   = "LOAD_MORE_FAILED"
)

// EventTypes builds namespaced event types for one resource.
type EventTypes struct {
	base string
}

// NewEventTypes returns the event namespace for base. An empty base is not
// validated here; constructors reject missing names before getting this far.
func NewEventTypes(base string) EventTypes { return EventTypes{base: base} }

// Base returns the namespace prefix.
func (t EventTypes) Base() string { return t.base }

// Of returns the event type with the given suffix.
func (t EventTypes) Of(suffix string) EventType {
	return EventType(t.base + "_" + suffix)
}

// baseTypeName converts a resource name to UPPER_SNAKE_CASE:
// "userProfile" -> "USER_PROFILE", "HTTPStatus" -> "HTTPSTATUS".
func baseTypeName(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 4)
	prevUpper := true
	for i, r := range name {
		switch {
		case r == '.' || r == '-' || r == ' ':
			if b.Len() > 0 {
				b.WriteByte('_')
			}
			prevUpper = true
			continue
		case unicode.IsUpper(r):
			if i > 0 && !prevUpper {
				b.WriteByte('_')
			}
			prevUpper = true
		default:
			prevUpper = false
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return strings.Trim(b.String(), "_")
}
