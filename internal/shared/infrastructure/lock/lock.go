// Package lock serializes scheduling requests per user. Two invocations
// mutating the same user's calendar concurrently could double-book a slot,
// so the API layer takes the user lock before invoking the scheduler.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrLockHeld is returned when the lock is already taken.
var ErrLockHeld = errors.New("request lock already held")

// RequestLock grants exclusive access to a key for at most ttl.
type RequestLock interface {
	// Acquire takes the lock, returning a release func. Returns ErrLockHeld
	// when another request holds it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
