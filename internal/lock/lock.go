// Package lock provides per-key single-flight locks. Campaign passes take a
// campaign key with TryAcquire so a second pass backs off; sends take an
// account key with Acquire so they queue behind each other.
package lock

import (
	"context"
	"sync"
)

type Release func()

type Locker interface {
	// Acquire blocks until the key is held or ctx is done.
	Acquire(ctx context.Context, key string) (Release, error)
	// TryAcquire returns ok=false immediately if the key is held elsewhere.
	TryAcquire(ctx context.Context, key string) (Release, bool, error)
}

// KeyedMutex is an in-process Locker. Slots are dropped once no holder or waiter remains.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: make(map[string]*slot)}
}

func (k *KeyedMutex) ref(key string) *slot {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	return s
}

func (k *KeyedMutex) unref(key string, s *slot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
}

func (k *KeyedMutex) release(key string, s *slot) Release {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			k.unref(key, s)
		})
	}
}

func (k *KeyedMutex) Acquire(ctx context.Context, key string) (Release, error) {
	s := k.ref(key)
	select {
	case s.ch <- struct{}{}:
		return k.release(key, s), nil
	case <-ctx.Done():
		k.unref(key, s)
		return nil, ctx.Err()
	}
}

func (k *KeyedMutex) TryAcquire(_ context.Context, key string) (Release, bool, error) {
	s := k.ref(key)
	select {
	case s.ch <- struct{}{}:
		return k.release(key, s), true, nil
	default:
		k.unref(key, s)
		return nil, false, nil
	}
}

// Held reports whether key is currently locked. Intended for tests and diagnostics.
func (k *KeyedMutex) Held(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.slots[key]
	return ok && len(s.ch) == 1
}
