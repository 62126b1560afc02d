// Package lock serialises the snapshot-claim-append section of ticket
// issuance so two requests cannot validate the same prime pair against the
// same history snapshot.
package lock

import (
	"context"
	"errors"
)

// ErrNotAcquired is returned when the lock could not be taken before the
// context ended.
var ErrNotAcquired = errors.New("lock: not acquired")

// Unlock releases a held lock. It is safe to call once.
type Unlock func()

// Locker acquires a named exclusive lock.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// LocalLocker is an in-process single-writer lock. It is correct only when a
// single replica writes to the store.
type LocalLocker struct {
	sem chan struct{}
}

// NewLocalLocker returns a LocalLocker. All keys share one slot since the
// service only ever locks one key.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{sem: make(chan struct{}, 1)}
}

// Lock blocks until the slot is free or ctx is done.
func (l *LocalLocker) Lock(ctx context.Context, _ string) (Unlock, error) {
	select {
	case l.sem <- struct{}{}:
		return func() { <-l.sem }, nil
	case <-ctx.Done():
		return nil, errors.Join(ErrNotAcquired, ctx.Err())
	}
}
