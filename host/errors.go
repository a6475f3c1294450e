package host

import "errors"

var (
	// ErrNetwork wraps transport failures from the network fetcher.
	ErrNetwork = errors.New("host: network request failed")

	// ErrBodyTooLarge indicates a request or response body exceeded its limit.
	ErrBodyTooLarge = errors.New("host: body too large")

	// ErrNotRegistered indicates Start was called before install and
	// activate handlers were registered.
	ErrNotRegistered = errors.New("host: lifecycle handlers not registered")

	// ErrInvalidOrigin indicates the origin is not an absolute URL.
	ErrInvalidOrigin = errors.New("host: origin must be an absolute URL")
)
