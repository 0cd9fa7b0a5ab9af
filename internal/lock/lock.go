// Package lock serializes mutations of the same budget pool (and demande)
// across goroutines and, with the redis implementation, across instances.
package lock

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

var (
	// ErrNilLockFn is returned when a nil function is passed to WithLock.
	ErrNilLockFn = errors.New("lock function is nil")
	// ErrEmptyLockKey is returned when an empty lock key is provided.
	ErrEmptyLockKey = errors.New("lock key cannot be empty")
	// ErrNotAcquired is returned when a distributed lock stays held by
	// another instance past the retry budget.
	ErrNotAcquired = errors.New("lock not acquired")
)

// Locker runs fn while holding every key. Implementations acquire keys in
// sorted order so that two callers locking the same pair never deadlock.
type Locker interface {
	WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}

// PoolKey is the lock key of a budget pool.
func PoolKey(id uint) string { return fmt.Sprintf("pool:%d", id) }

// DemandeKey is the lock key of a demande.
func DemandeKey(id uint) string { return fmt.Sprintf("demande:%d", id) }

// normalize sorts and dedupes keys.
func normalize(keys []string) ([]string, error) {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.TrimSpace(k) == "" {
			return nil, ErrEmptyLockKey
		}
		out = append(out, k)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// MutexLocker is an in-process Locker. It is enough for a single instance.
type MutexLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewMutexLocker returns an empty in-process locker.
func NewMutexLocker() *MutexLocker {
	return &MutexLocker{slots: make(map[string]*slot)}
}

func (l *MutexLocker) acquireSlot(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *MutexLocker) releaseSlot(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// WithLock implements Locker. Waiting for a key honours ctx cancellation.
func (l *MutexLocker) WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	if fn == nil {
		return ErrNilLockFn
	}
	keys, err := normalize(keys)
	if err != nil {
		return err
	}

	held := make([]*slot, 0, len(keys))
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i].ch
			l.releaseSlot(keys[i], held[i])
		}
	}()

	for _, k := range keys {
		s := l.acquireSlot(k)
		select {
		case s.ch <- struct{}{}:
			held = append(held, s)
		case <-ctx.Done():
			l.releaseSlot(k, s)
			return fmt.Errorf("acquire lock %s: %w", k, ctx.Err())
		}
	}
	return fn(ctx)
}
