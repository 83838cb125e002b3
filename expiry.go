package asyncache

import "time"

// Expiry resets a record to its clean state once its data is older than
// ExpireAfter. Disabled when ExpireAfter is Never.
type Expiry[S Record[S]] struct {
	types   EventTypes
	after   time.Duration
	enabled bool
}

func NewExpiry[S Record[S]](types EventTypes, expireAfter time.Duration) *Expiry[S] {
	return &Expiry[S]{types: types, after: expireAfter, enabled: enabled(expireAfter)}
}

func (*Expiry[S]) Name() string { return "expiry" }

func (f *Expiry[S]) Enabled() bool        { return f.enabled }
func (f *Expiry[S]) After() time.Duration { return f.after }

func (f *Expiry[S]) EnhanceActionHandlers(hs Handlers[S], makeClean func(S) S) Handlers[S] {
	return hs.Chain(f.types.Of(suffixExpired), func(s S, _ Event) S {
		return makeClean(s)
	})
}

func (f *Expiry[S]) EnhanceBundle(b Bundle[S]) Bundle[S] {
	if !f.enabled {
		return b
	}
	expired := f.types.Of(suffixExpired)
	b.Checks = append(b.Checks, Check[S]{
		Name: CheckShouldExpire,
		Fn: func(s S, now time.Time) (Event, bool) {
			at := s.FreshAt()
			if at.IsZero() || now.Sub(at) <= f.after {
				return Event{}, false
			}
			return Event{Type: expired}, true
		},
	})
	return b
}

func (f *Expiry[S]) EnhancePersistEvents(events []EventType) []EventType {
	return append(events, f.types.Of(suffixExpired))
}
