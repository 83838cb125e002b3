package asyncache

import "time"

// Retry tracks fetch errors and when a transient one becomes eligible for an
// automatic retry. A RetryAfter of Never (or <= 0) turns automatic retry off;
// manual fetches stay possible.
type Retry[S Record[S]] struct {
	types   EventTypes
	after   time.Duration
	enabled bool
}

func NewRetry[S Record[S]](types EventTypes, retryAfter time.Duration) *Retry[S] {
	return &Retry[S]{types: types, after: retryAfter, enabled: enabled(retryAfter)}
}

func (*Retry[S]) Name() string { return "retry" }

// Enabled reports whether automatic retry is on.
func (r *Retry[S]) Enabled() bool { return r.enabled }

// After is the configured retry delay.
func (r *Retry[S]) After() time.Duration { return r.after }

func (r *Retry[S]) EnhanceCleanState(clean S, _ *S) S {
	return clean.WithLifecycle(clean.Lifecycle().withoutError())
}

func (r *Retry[S]) EnhanceActionHandlers(hs Handlers[S], _ func(S) S) Handlers[S] {
	return hs.Chain(r.types.Of(suffixReadyForRetry), func(s S, _ Event) S {
		m := s.Lifecycle()
		if !m.HasError() || m.ErrorIsPermanent {
			return s
		}
		m.ReadyForRetry = true
		return s.WithLifecycle(m)
	})
}

// RetryAt returns when m becomes eligible for retry, zero when it never will.
func (r *Retry[S]) RetryAt(m Meta) time.Time {
	if !r.enabled || !m.HasError() || m.ErrorIsPermanent {
		return time.Time{}
	}
	return m.ErrorAt.Add(r.after)
}

func (r *Retry[S]) isReadyForRetry(m Meta, now time.Time) bool {
	if !r.enabled {
		return false
	}
	if m.ReadyForRetry {
		return true
	}
	at := r.RetryAt(m)
	return !at.IsZero() && now.After(at)
}

func (r *Retry[S]) EnhanceBundle(b Bundle[S]) Bundle[S] {
	b.Views[ViewError] = func(s S, _ time.Time) any { return s.Lifecycle().Err }
	b.Views[ViewErrorAt] = func(s S, _ time.Time) any { return s.Lifecycle().ErrorAt }
	b.Views[ViewErrorIsPermanent] = func(s S, _ time.Time) any { return s.Lifecycle().ErrorIsPermanent }
	b.Views[ViewHasError] = func(s S, _ time.Time) any { return s.Lifecycle().HasError() }

	if !r.enabled {
		b.Views[ViewRetryAt] = func(S, time.Time) any { return time.Time{} }
		b.Views[ViewIsReadyForRetry] = func(S, time.Time) any { return false }
		return b
	}
	b.Views[ViewRetryAt] = func(s S, _ time.Time) any { return r.RetryAt(s.Lifecycle()) }
	b.Views[ViewIsReadyForRetry] = func(s S, now time.Time) any {
		return r.isReadyForRetry(s.Lifecycle(), now)
	}
	return b
}
