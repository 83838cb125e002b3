package asyncache

// Clearing resets a record to its clean state on demand.
type Clearing[S Record[S]] struct {
	types EventTypes
}

func NewClearing[S Record[S]](types EventTypes) *Clearing[S] {
	return &Clearing[S]{types: types}
}

func (*Clearing[S]) Name() string { return "clearing" }

func (f *Clearing[S]) EnhanceActionHandlers(hs Handlers[S], makeClean func(S) S) Handlers[S] {
	return hs.Chain(f.types.Of(suffixCleared), func(s S, _ Event) S {
		return makeClean(s)
	})
}

func (f *Clearing[S]) EnhanceBundle(b Bundle[S]) Bundle[S] {
	b.Actions[ActionClear] = f.types.Of(suffixCleared)
	return b
}

func (f *Clearing[S]) EnhancePersistEvents(events []EventType) []EventType {
	return append(events, f.types.Of(suffixCleared))
}
