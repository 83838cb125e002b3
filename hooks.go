package asyncache

// Hooks are lightweight callbacks for high-signal engine events.
// Implementations MUST be cheap and non-blocking: most of them run while the
// host holds its state lock.
type Hooks interface {
	// An event was applied to the named resource. key is empty for shapes
	// without items.
	EventApplied(resource string, event EventType, key string)

	// A background check fired. check is one of the Check* names.
	CheckFired(resource, check, key string)

	// A fetch function returned an error that is now stored in state.
	FetchFailed(resource, key string, err error, permanent bool)

	// A settled result was dropped because a newer request superseded it.
	// op ∈ {"refresh", "load_more"}
	ResultDiscarded(resource, op, requestID string)

	// Writing or reading a persisted snapshot failed.
	PersistError(resource string, err error)

	// Checks kept firing past the host's reaction limit; the rest were
	// deferred to the next tick.
	ReactionLimit(resource string, limit int)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) EventApplied(string, EventType, string)  {}
func (NopHooks) CheckFired(string, string, string)       {}
func (NopHooks) FetchFailed(string, string, error, bool) {}
func (NopHooks) ResultDiscarded(string, string, string)  {}
func (NopHooks) PersistError(string, error)              {}
func (NopHooks) ReactionLimit(string, int)               {}
