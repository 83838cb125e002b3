package asyncache

import "time"

// Staling flags present data as due for a refresh without dropping it. The
// flag is raised manually or, when StaleAfter is finite, by a background check.
// Only a successful fetch (or a reset) lowers it.
type Staling[S Record[S]] struct {
	types   EventTypes
	after   time.Duration
	enabled bool
}

func NewStaling[S Record[S]](types EventTypes, staleAfter time.Duration) *Staling[S] {
	return &Staling[S]{types: types, after: staleAfter, enabled: enabled(staleAfter)}
}

func (*Staling[S]) Name() string { return "staling" }

func (f *Staling[S]) Enabled() bool        { return f.enabled }
func (f *Staling[S]) After() time.Duration { return f.after }

func (f *Staling[S]) EnhanceCleanState(clean S, _ *S) S {
	m := clean.Lifecycle()
	m.IsStale = false
	return clean.WithLifecycle(m)
}

func (f *Staling[S]) EnhanceActionHandlers(hs Handlers[S], _ func(S) S) Handlers[S] {
	return hs.Chain(f.types.Of(suffixStale), func(s S, _ Event) S {
		m := s.Lifecycle()
		m.IsStale = true
		return s.WithLifecycle(m)
	})
}

func (f *Staling[S]) EnhanceBundle(b Bundle[S]) Bundle[S] {
	b.Views[ViewIsStale] = func(s S, _ time.Time) any { return s.Lifecycle().IsStale }
	b.Actions[ActionMarkAsStale] = f.types.Of(suffixStale)

	if f.enabled {
		stale := f.types.Of(suffixStale)
		b.Checks = append(b.Checks, Check[S]{
			Name: CheckShouldBecomeStale,
			Fn: func(s S, now time.Time) (Event, bool) {
				at := s.FreshAt()
				if s.Lifecycle().IsStale || at.IsZero() || now.Sub(at) <= f.after {
					return Event{}, false
				}
				return Event{Type: stale}, true
			},
		})
	}
	return b
}
