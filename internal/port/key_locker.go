package port

import "context"

// KeyLocker serializes mutations of one stock key.
type KeyLocker interface {
	// Lock blocks until the key is held or ctx is done. The returned release
	// func must be called exactly once.
	Lock(ctx context.Context, key string) (release func(), err error)
}

type IdempotencyStore interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency forgets a key so a failed request can be retried.
	ReleaseIdempotency(ctx context.Context, key string) error
}
