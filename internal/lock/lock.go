// Package lock serializes role changes per subject. A lock that is already
// held is reported as auth.ErrConflict; callers never wait for it.
package lock

import (
	"context"
	"fmt"
	"sync"

	"role-sync-service/internal/auth"
)

// Unlock releases a lock obtained from TryLock.
type Unlock func(ctx context.Context) error

type Locker interface {
	TryLock(ctx context.Context, key string) (Unlock, error)
}

// SubjectKey is the lock key guarding role changes of one subject.
func SubjectKey(subjectID string) string {
	return "rolesync:subject:" + subjectID + ":lock"
}

// LocalLocker is an in-process keyed try-lock for single-instance deployments.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocal() *LocalLocker {
	return &LocalLocker{held: map[string]struct{}{}}
}

func (l *LocalLocker) TryLock(_ context.Context, key string) (Unlock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, fmt.Errorf("%w: %s", auth.ErrConflict, key)
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}, nil
}
