package ratelimit

import "context"

// Limiter bounds request frequency per key over a rolling window.
type Limiter interface {
	// Allow records an attempt for key and reports whether it fits the
	// configured quota. The first N calls within the window return true;
	// the (N+1)th returns false.
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases backend resources. The limiter is not usable for
	// quota decisions after Close on backends that hold connections.
	Close() error
}
