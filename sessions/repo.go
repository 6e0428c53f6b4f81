package sessions

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by DurableRepo.Get when no record exists for
// the key.
var ErrNotFound = errors.New("session record not found")

// DurableRepo is the remote key-value adapter backing the in-memory
// store. All calls may block on the network and may fail transiently;
// the Store treats every failure as non-fatal to its own in-memory
// truth. Implementations must be safe for concurrent use.
type DurableRepo interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Close() error
}
