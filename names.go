package asyncache

// View names. Shapes check at construction that the composed bundle provides
// every view they read.
const (
	ViewData                     = "data"
	ViewIsPresent                = "isPresent"
	ViewIsLoading                = "isLoading"
	ViewIsPendingForFetch        = "isPendingForFetch"
	ViewError                    = "error"
	ViewErrorAt                  = "errorAt"
	ViewHasError                 = "hasError"
	ViewErrorIsPermanent         = "errorIsPermanent"
	ViewRetryAt                  = "retryAt"
	ViewIsReadyForRetry          = "isReadyForRetry"
	ViewIsStale                  = "isStale"
	ViewDependencyValues         = "dependencyValues"
	ViewIsDependencyResolved     = "isDependencyResolved"
	ViewIsRefreshing             = "isRefreshing"
	ViewIsLoadingMore            = "isLoadingMore"
	ViewHasMore                  = "hasMore"
	ViewCanLoadMore              = "canLoadMore"
	ViewLoadMoreError            = "loadMoreError"
	ViewLoadMoreErrorIsPermanent = "loadMoreErrorIsPermanent"
	ViewIsPendingForRefresh      = "isPendingForRefresh"
)

// Action names.
const (
	ActionMarkAsStale = "markAsStale"
	ActionClear       = "clear"
)

// Check names.
const (
	CheckShouldBecomeStale            = "shouldBecomeStale"
	CheckShouldExpire                 = "shouldExpire"
	CheckShouldRetry                  = "shouldRetry"
	CheckShouldUpdateDependencyValues = "shouldUpdateDependencyValues"
)
