// Package cache provides versioned storage for offline static assets.
//
// It models the host's cache store as named generations of request/response
// pairs, with request identity keys, an in-memory Storage, and independent
// copies on every read and write.
package cache
