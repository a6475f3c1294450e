package agent

import "errors"

var (
	// ErrInstallFailed wraps the cause of a failed install phase.
	ErrInstallFailed = errors.New("agent: install failed")

	// ErrBadStatus indicates a manifest asset was fetched with a non-2xx status.
	ErrBadStatus = errors.New("agent: unexpected response status")

	// ErrNoFallback indicates a navigation failed offline and the offline
	// shell is not cached either.
	ErrNoFallback = errors.New("agent: offline fallback not cached")

	// ErrInvalidState indicates a lifecycle operation was called out of order.
	ErrInvalidState = errors.New("agent: invalid lifecycle state")

	// ErrMissingVersion indicates the config has no cache version.
	ErrMissingVersion = errors.New("agent: cache version is required")

	// ErrEmptyManifest indicates the config has no assets to precache.
	ErrEmptyManifest = errors.New("agent: asset manifest is empty")

	// ErrInvalidScope indicates the scope is not an absolute URL.
	ErrInvalidScope = errors.New("agent: scope must be an absolute URL")

	// ErrInvalidAsset indicates a manifest or fallback URL cannot be resolved.
	ErrInvalidAsset = errors.New("agent: asset URL is invalid")

	// ErrDuplicateAsset indicates two manifest entries resolve to the same URL.
	ErrDuplicateAsset = errors.New("agent: duplicate asset in manifest")

	// ErrInvalidConfig indicates a negative timeout or concurrency limit.
	ErrInvalidConfig = errors.New("agent: invalid config value")

	// ErrNilStorage indicates New was called without cache storage.
	ErrNilStorage = errors.New("agent: storage is nil")

	// ErrNilFetcher indicates New was called without a network fetcher.
	ErrNilFetcher = errors.New("agent: fetcher is nil")
)
