package cache

import (
	"context"
	"errors"
	"strings"
)

// MaxKeyLength is the maximum allowed length for a request identity key.
const MaxKeyLength = 8192

// Sentinel errors for cache operations.
var (
	ErrInvalidKey        = errors.New("cache: key is invalid")
	ErrKeyTooLong        = errors.New("cache: key exceeds max length")
	ErrUnsupportedMethod = errors.New("cache: only GET requests can be stored")
	ErrNilResponse       = errors.New("cache: response is nil")
	ErrInvalidName       = errors.New("cache: generation name is invalid")
	ErrClosed            = errors.New("cache: storage is closed")
)

// Storage is the host's cache store: a set of named cache generations.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: methods should honor cancellation/deadlines where applicable.
// - Ordering: Keys returns generation names in creation order.
// - Errors: Delete is idempotent and reports whether anything was removed.
type Storage interface {
	// Open returns the named generation, creating it if absent.
	Open(ctx context.Context, name string) (Generation, error)

	// Has reports whether the named generation exists.
	Has(ctx context.Context, name string) (bool, error)

	// Keys lists the names of all generations.
	Keys(ctx context.Context) ([]string, error)

	// Delete removes the named generation and all of its entries.
	Delete(ctx context.Context, name string) (bool, error)
}

// Generation is one version-named snapshot of cached responses.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Atomicity: Put is atomic per key; the last write wins.
// - Ownership: Match returns a copy the caller may mutate; Put stores a copy.
// - Errors: Match returns (nil, false, nil) on miss.
type Generation interface {
	// Name returns the generation name.
	Name() string

	// Match returns the stored response for req.
	Match(ctx context.Context, req Request) (*Response, bool, error)

	// Put stores resp under the identity of req. Only GET requests are accepted.
	Put(ctx context.Context, req Request, resp *Response) error

	// Keys lists the stored requests in insertion order.
	Keys(ctx context.Context) ([]Request, error)

	// Delete removes the entry for req. Idempotent.
	Delete(ctx context.Context, req Request) (bool, error)
}

// ValidateKey checks if a key is valid for caching.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	// Reject keys with newlines or carriage returns
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}

// ValidateName checks if a generation name is usable.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, "\n\r") {
		return ErrInvalidName
	}
	return nil
}
