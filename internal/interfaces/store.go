// -----------------------------------------------------------------------
// Last Modified: Friday, 12th June 2026 10:41:18 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned when a key is not present in the shared store
var ErrKeyNotFound = errors.New("key not found")

// SharedStore is the fleet-wide atomic key/value service backing rotation
// state and the proxy block registry. Implementations must provide atomic
// increments and TTL expiry; plain read-modify-write is not acceptable
// because multiple workers race on the same keys.
type SharedStore interface {
	// Get retrieves a value by key, returns ErrKeyNotFound if missing
	Get(ctx context.Context, key string) (string, error)

	// IncrementAndGet atomically increments an integer key and returns the
	// new value. A missing key is treated as zero.
	IncrementAndGet(ctx context.Context, key string) (int64, error)

	// Set stores a value without expiry
	Set(ctx context.Context, key string, value string) error

	// SetWithTTL stores a value that expires after ttl
	SetWithTTL(ctx context.Context, key string, value string, ttl time.Duration) error

	// Exists reports whether the key is present and unexpired
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases the underlying connection
	Close() error
}
