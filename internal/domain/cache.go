package domain

import (
	"context"
	"io"
	"time"
)

// StateCache caches market records for read endpoints. Implementations must
// return ErrNotFound on a miss.
type StateCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, id MarketID) (Market, error)
	Invalidate(ctx context.Context, id MarketID) error
}

// SignalBus publishes state-change notifications to off-core observers. The
// notifications are observability only; correctness never depends on their
// delivery.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// LockManager provides distributed locks so only one keeper replica bumps
// markets at a time. Acquire returns ErrLockHeld when the lock is taken.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter applies a sliding request budget per key. Allow reports
// whether the caller may proceed.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// BlobWriter stores raw attestation blobs in object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves archived attestation blobs.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Archiver archives the raw proof blob of a submission, best effort, and
// retrieves archived blobs by hash so disputed adjudications can be
// replayed. FetchProof returns ErrNotFound when no blob with that hash was
// archived for the market.
type Archiver interface {
	ArchiveProof(ctx context.Context, id MarketID, submittedAt int64, blobHash string, blob []byte) error
	FetchProof(ctx context.Context, id MarketID, blobHash string) ([]byte, error)
}
