// Package limiter defines interfaces and implementations for throttling
// repeated failed decrypt attempts.
package limiter

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Limiter controls wrong-password download attempts and temporary lockouts,
// keyed by (file, user).
type Limiter interface {
	// Allow reports whether a decrypt attempt is currently allowed and an
	// optional retry-after duration.
	Allow(ctx context.Context, fileID, userID uuid.UUID) (bool, time.Duration, error)
	// Success resets counters after a successful decrypt.
	Success(ctx context.Context, fileID, userID uuid.UUID) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, fileID, userID uuid.UUID) (bool, time.Duration, error)
}
