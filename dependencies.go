package asyncache

import (
	"maps"
	"reflect"
	"sync"
	"time"
)

// DependencyValues is a snapshot of observed dependency values by key.
type DependencyValues map[string]any

// Equal reports whether two dependency values are the same. It must be
// symmetric and must not panic.
type Equal func(a, b any) bool

// DependencyKey declares one external value a resource depends on.
type DependencyKey struct {
	Key string
	// StaleOnChange marks the resource stale instead of resetting it when this
	// key changes (and only keys like it changed).
	StaleOnChange bool
	// AllowBlank counts a nil or absent value as resolved.
	AllowBlank bool
	// Equal compares values of this key; nil means ShallowEqual.
	Equal Equal
}

// Keys is shorthand for plain dependency keys with default settings.
func Keys(names ...string) []DependencyKey {
	out := make([]DependencyKey, len(names))
	for i, n := range names {
		out[i] = DependencyKey{Key: n}
	}
	return out
}

// ShallowEqual compares with == when the dynamic type is comparable and falls
// back to reflect.DeepEqual for slices, maps and funcs.
func ShallowEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// DependencySource supplies the live values dependency checks compare against.
type DependencySource interface {
	Lookup(key string) (value any, ok bool)
}

// MapSource is a concurrency-safe DependencySource backed by a map. Set calls
// the registered listeners so hosts can re-run their checks.
type MapSource struct {
	mu        sync.RWMutex
	values    map[string]any
	listeners []func()
}

func NewMapSource(initial map[string]any) *MapSource {
	s := &MapSource{values: make(map[string]any, len(initial))}
	for k, v := range initial {
		s.values[k] = v
	}
	return s
}

func (s *MapSource) Lookup(key string) (any, bool) {
	s.mu.RLock()
	v, ok := s.values[key]
	s.mu.RUnlock()
	return v, ok
}

// Set updates several keys at once and notifies listeners after the lock is
// released.
func (s *MapSource) Set(values map[string]any) {
	s.mu.Lock()
	for k, v := range values {
		s.values[k] = v
	}
	ls := append([]func(){}, s.listeners...)
	s.mu.Unlock()
	for _, l := range ls {
		l()
	}
}

// Subscribe registers fn to run after every Set.
func (s *MapSource) Subscribe(fn func()) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Dependencies ties a record's validity to external values. With no keys the
// feature is disabled: the snapshot view is a constant empty map and the
// record always counts as resolved.
type Dependencies[S Record[S]] struct {
	types   EventTypes
	source  DependencySource
	keys    []string
	stale   map[string]bool
	blank   map[string]bool
	equal   map[string]Equal
	enabled bool
}

func NewDependencies[S Record[S]](types EventTypes, source DependencySource, keys []DependencyKey) *Dependencies[S] {
	f := &Dependencies[S]{
		types:   types,
		source:  source,
		stale:   make(map[string]bool),
		blank:   make(map[string]bool),
		equal:   make(map[string]Equal),
		enabled: len(keys) > 0,
	}
	for _, k := range keys {
		f.keys = append(f.keys, k.Key)
		f.stale[k.Key] = k.StaleOnChange
		f.blank[k.Key] = k.AllowBlank
		f.equal[k.Key] = ShallowEqual
		if k.Equal != nil {
			f.equal[k.Key] = k.Equal
		}
	}
	return f
}

func (*Dependencies[S]) Name() string { return "dependencies" }

func (f *Dependencies[S]) Enabled() bool { return f.enabled }

// EnhanceCleanState keeps the snapshot of the state being reset; a brand new
// state starts unresolved.
func (f *Dependencies[S]) EnhanceCleanState(clean S, current *S) S {
	m := clean.Lifecycle()
	m.DependencyValues = nil
	if current != nil {
		m.DependencyValues = (*current).Lifecycle().DependencyValues
	}
	return clean.WithLifecycle(m)
}

func (f *Dependencies[S]) EnhanceActionHandlers(hs Handlers[S], makeClean func(S) S) Handlers[S] {
	if !f.enabled {
		return hs
	}
	return hs.Chain(f.types.Of(suffixDependenciesChanged), func(s S, ev Event) S {
		next, _ := ev.Payload.(DependencyValues)
		prev := s.Lifecycle().DependencyValues
		changed := f.changedKeys(prev, next)

		if prev != nil && len(changed) == 0 {
			m := s.Lifecycle()
			m.DependencyValues = next
			return s.WithLifecycle(m)
		}

		stale := prev != nil
		for _, k := range changed {
			if !f.stale[k] {
				stale = false
				break
			}
		}

		if stale {
			m := s.Lifecycle()
			m.IsStale = true
			m.DependencyValues = next
			return s.WithLifecycle(m)
		}

		clean := makeClean(s)
		m := clean.Lifecycle()
		m.DependencyValues = next
		return clean.WithLifecycle(m)
	})
}

func (f *Dependencies[S]) changedKeys(prev, next DependencyValues) []string {
	var out []string
	for _, k := range f.keys {
		if !f.equal[k](prev[k], next[k]) {
			out = append(out, k)
		}
	}
	return out
}

func (f *Dependencies[S]) EnhanceFetchArgs(args FetchArgs, s S) FetchArgs {
	if !f.enabled {
		return args
	}
	merged := make(DependencyValues, len(args.Dependencies)+len(f.keys))
	maps.Copy(merged, args.Dependencies)
	maps.Copy(merged, s.Lifecycle().DependencyValues)
	args.Dependencies = merged
	return args
}

// IsResolved reports whether every key that may not be blank has a value.
func (f *Dependencies[S]) IsResolved(values DependencyValues) bool {
	if !f.enabled {
		return true
	}
	if values == nil {
		return false
	}
	for _, k := range f.keys {
		if !f.blank[k] && values[k] == nil {
			return false
		}
	}
	return true
}

// live reads the current value of every key from the source.
func (f *Dependencies[S]) live() DependencyValues {
	out := make(DependencyValues, len(f.keys))
	for _, k := range f.keys {
		var v any
		if f.source != nil {
			v, _ = f.source.Lookup(k)
		}
		out[k] = v
	}
	return out
}

func (f *Dependencies[S]) EnhanceBundle(b Bundle[S]) Bundle[S] {
	if !f.enabled {
		empty := DependencyValues{}
		b.Views[ViewDependencyValues] = func(S, time.Time) any { return empty }
		b.Views[ViewIsDependencyResolved] = func(S, time.Time) any { return true }
		return b
	}

	b.Views[ViewDependencyValues] = func(s S, _ time.Time) any { return s.Lifecycle().DependencyValues }
	b.Views[ViewIsDependencyResolved] = func(s S, _ time.Time) any {
		return f.IsResolved(s.Lifecycle().DependencyValues)
	}

	changedType := f.types.Of(suffixDependenciesChanged)
	b.Checks = append(b.Checks, Check[S]{
		Name: CheckShouldUpdateDependencyValues,
		Fn: func(s S, _ time.Time) (Event, bool) {
			prev := s.Lifecycle().DependencyValues
			next := f.live()
			if prev != nil && len(f.changedKeys(prev, next)) == 0 {
				return Event{}, false
			}
			return Event{Type: changedType, Payload: next}, true
		},
	})
	return b
}
