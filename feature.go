package asyncache

import (
	"slices"
	"time"
)

// Handler applies one event to a state snapshot and returns the next snapshot.
// Handlers are pure; time comes from ev.At.
type Handler[S any] func(s S, ev Event) S

// Handlers maps event types to their handler.
type Handlers[S any] map[EventType]Handler[S]

// Chain registers h for t. If t already has a handler, h runs on its output,
// the same way a reducer wrapped by a feature sees the inner reducer's result.
func (hs Handlers[S]) Chain(t EventType, h Handler[S]) Handlers[S] {
	out := make(Handlers[S], len(hs)+1)
	for k, v := range hs {
		out[k] = v
	}
	if prev, ok := out[t]; ok {
		out[t] = func(s S, ev Event) S { return h(prev(s, ev), ev) }
	} else {
		out[t] = h
	}
	return out
}

// Reducer folds the handler set into a single transition function. Unknown
// event types leave the state untouched.
func (hs Handlers[S]) Reducer() func(S, Event) S {
	return func(s S, ev Event) S {
		if h, ok := hs[ev.Type]; ok {
			return h(s, ev)
		}
		return s
	}
}

// View derives a value from a state snapshot at the given time.
type View[S any] func(s S, now time.Time) any

// Check is a background predicate. It returns an event to emit when the state
// at now calls for one. Checks must not have side effects.
type Check[S any] struct {
	Name string
	Fn   func(s S, now time.Time) (Event, bool)
}

// Bundle is everything a shape exposes besides its transition function: named
// views, background checks and the event type behind each named action.
type Bundle[S any] struct {
	Views   map[string]View[S]
	Checks  []Check[S]
	Actions map[string]EventType
}

func newBundle[S any]() Bundle[S] {
	return Bundle[S]{
		Views:   make(map[string]View[S]),
		Actions: make(map[string]EventType),
	}
}

// clone returns a bundle whose maps and slice can be extended without
// touching b.
func (b Bundle[S]) clone() Bundle[S] {
	out := Bundle[S]{
		Views:   make(map[string]View[S], len(b.Views)),
		Checks:  slices.Clone(b.Checks),
		Actions: make(map[string]EventType, len(b.Actions)),
	}
	for k, v := range b.Views {
		out.Views[k] = v
	}
	for k, v := range b.Actions {
		out.Actions[k] = v
	}
	return out
}

// require fails when any of the named views or actions is missing.
func (b Bundle[S]) require(resource string, views, actions []string) error {
	var missing []string
	for _, v := range views {
		if _, ok := b.Views[v]; !ok {
			missing = append(missing, "view "+v)
		}
	}
	for _, a := range actions {
		if _, ok := b.Actions[a]; !ok {
			missing = append(missing, "action "+a)
		}
	}
	if len(missing) > 0 {
		return &MissingKeysError{Resource: resource, Missing: missing}
	}
	return nil
}

// FetchArgs is passed to every fetch function.
type FetchArgs struct {
	Resource string
	Key      string // item key, keyed collections only
	// Dependencies holds the resolved dependency snapshot; empty when the
	// resource has no dependencies.
	Dependencies DependencyValues
}

// Dependency returns the resolved value of a dependency key.
func (a FetchArgs) Dependency(key string) any { return a.Dependencies[key] }

// Feature is a self-contained unit of behaviour. Beyond Name, a feature
// implements any subset of the hook interfaces below; the composer skips the
// hooks it does not implement.
type Feature[S Record[S]] interface {
	Name() string
}

type CleanStateEnhancer[S Record[S]] interface {
	// EnhanceCleanState adds the feature's fields to clean. current is the
	// state being reset, nil when building the initial state.
	EnhanceCleanState(clean S, current *S) S
}

type ActionHandlersEnhancer[S Record[S]] interface {
	EnhanceActionHandlers(hs Handlers[S], makeClean func(S) S) Handlers[S]
}

type FetchArgsEnhancer[S Record[S]] interface {
	EnhanceFetchArgs(args FetchArgs, s S) FetchArgs
}

type BundleEnhancer[S Record[S]] interface {
	EnhanceBundle(b Bundle[S]) Bundle[S]
}

type PersistEventsEnhancer interface {
	EnhancePersistEvents(events []EventType) []EventType
}

// Features composes an ordered feature list. Every Enhance method folds left
// to right, so later features see what earlier ones produced; the order is part
// of each shape's contract.
type Features[S Record[S]] struct {
	list []Feature[S]
}

func NewFeatures[S Record[S]](fs ...Feature[S]) *Features[S] {
	return &Features[S]{list: fs}
}

// Names lists the composed features in order.
func (f *Features[S]) Names() []string {
	out := make([]string, len(f.list))
	for i, ft := range f.list {
		out[i] = ft.Name()
	}
	return out
}

func (f *Features[S]) EnhanceCleanState(raw S, current *S) S {
	s := raw
	for _, ft := range f.list {
		if e, ok := ft.(CleanStateEnhancer[S]); ok {
			s = e.EnhanceCleanState(s, current)
		}
	}
	return s
}

// MakeCleanState returns the reset constructor shared by every feature that
// needs to return a record to its initial state.
func (f *Features[S]) MakeCleanState(raw S) func(S) S {
	return func(current S) S {
		return f.EnhanceCleanState(raw, &current)
	}
}

func (f *Features[S]) EnhanceActionHandlers(hs Handlers[S], raw S) Handlers[S] {
	makeClean := f.MakeCleanState(raw)
	for _, ft := range f.list {
		if e, ok := ft.(ActionHandlersEnhancer[S]); ok {
			hs = e.EnhanceActionHandlers(hs, makeClean)
		}
	}
	return hs
}

func (f *Features[S]) EnhanceFetchArgs(args FetchArgs, s S) FetchArgs {
	for _, ft := range f.list {
		if e, ok := ft.(FetchArgsEnhancer[S]); ok {
			args = e.EnhanceFetchArgs(args, s)
		}
	}
	return args
}

func (f *Features[S]) EnhanceBundle(b Bundle[S]) Bundle[S] {
	for _, ft := range f.list {
		if e, ok := ft.(BundleEnhancer[S]); ok {
			b = e.EnhanceBundle(b.clone())
		}
	}
	return b
}

func (f *Features[S]) EnhancePersistEvents(events []EventType) []EventType {
	for _, ft := range f.list {
		if e, ok := ft.(PersistEventsEnhancer); ok {
			events = e.EnhancePersistEvents(slices.Clone(events))
		}
	}
	return events
}
