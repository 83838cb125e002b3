// Package asyncache tracks the lifecycle of values produced by asynchronous
// fetches: whether they are loaded, stale, expired, failed and ready for a
// retry, or invalidated by a change in the external values they depend on.
// Background checks drive expiry, staleness and retry without polling from
// the outside.
//
// Shapes:
//   - Resource[T]: one cached value.
//   - Resources[T]: independently lifecycled values by key. Background checks
//     read three earliest-candidate indexes instead of scanning the map.
//   - Collection[T, R]: an ordered list loaded page by page. Refresh and
//     load-more carry request ids; superseded results are discarded.
//
// Features (Dependencies, Staling, Expiry, Clearing, Retry) are composed left
// to right over each shape's record by Features[S]. Every shape owns a host
// that serialises events, stamps them with the injected Clock and re-runs the
// checks after each event and on Tick.
//
// Persistence (optional):
//
//	snapshot:<ns>:<name>  - present data plus its timestamp, framed by internal/wire
//
// Typical loop:
//
//	r, _ := asyncache.NewResource(asyncache.ResourceOptions[User]{Name: "me", Fetch: loadMe})
//	r.Start(time.Second)
//	defer r.Close()
//	if r.IsPendingForFetch() {
//	    _ = r.Fetch(ctx)
//	}
package asyncache
