package messaging

import (
	"context"
	"sync"
)

// Locker provides per-key mutual exclusion across requests.
// The returned func releases the key.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Lock keys. Acquisition order is external -> phone -> conversation.
func phoneKey(phone string) string { return "phone:" + phone }
func conversationKey(id string) string { return "conversation:" + id }
func externalKey(externalID string) string { return "external:" + externalID }

// LocalLocker is an in-process Locker for single-instance deployments and tests.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: map[string]chan struct{}{}}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()

			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(done)
				})
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// withLock runs fn while holding key. A nil locker runs fn unguarded.
func withLock(ctx context.Context, l Locker, key string, fn func() error) error {
	if l == nil {
		return fn()
	}
	unlock, err := l.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}
