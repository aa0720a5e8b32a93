package lock

import (
	"context"
	"sync"
	"time"
)

// LocalLock is an in-process request lock for single-node deployments.
type LocalLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLock creates an in-process lock.
func NewLocalLock() *LocalLock {
	return &LocalLock{held: map[string]struct{}{}}
}

// Acquire takes the key, failing fast when it is held. The ttl is ignored;
// a crashed in-process holder dies with the process anyway.
func (l *LocalLock) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[key]; taken {
		return nil, ErrLockHeld
	}
	l.held[key] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}
	return release, nil
}
