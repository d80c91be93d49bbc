package domain

import (
	"context"
	"time"
)

// KVStore is the external key-value collaborator backing the quota
// enforcer and the result memoizer. It may be remote; consumers inherit
// whatever consistency it provides and assume no more than eventual
// read-your-writes. Both consumers serialize their state as JSON.
type KVStore interface {
	// Get returns the value for key, or ErrNotFound on a miss.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys returns all keys matching a glob-style pattern ("*" wildcard).
	Keys(ctx context.Context, pattern string) ([]string, error)
}
