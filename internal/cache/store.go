// Package cache provides the TTL key-value store backing the fresh-search
// cache and the conversational result-set store, with interchangeable
// in-memory and Redis backends.
package cache

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// FreshSearchTTL is how long a fresh search payload stays cached under its
// content fingerprint.
const FreshSearchTTL = 20 * time.Minute

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = eris.New("cache: miss")

// Store is a TTL key-value store. Implementations must be safe for
// concurrent use; racing writes to the same key are last-writer-wins.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}
