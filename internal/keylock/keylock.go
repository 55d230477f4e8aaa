// Package keylock provides mutual exclusion scoped to a string key.
package keylock

import (
	"context"
	"sync"
)

// Locker hands out one lock per key. Entries are reference counted and removed
// once nobody holds or waits for them, so the map only grows with the number of
// keys in use at the same time.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	// sem is a one-slot semaphore; a channel lets Lock honour ctx cancellation.
	sem  chan struct{}
	refs int
}

// New returns an empty Locker.
func New() *Locker {
	return &Locker{locks: make(map[string]*entry)}
}

// Lock blocks until key is held by the caller or ctx is done. On success the
// returned func releases the key and must be called exactly once.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	e := l.acquire(key)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.release(key, e)
		})
	}, nil
}

// Len reports how many keys currently have holders or waiters.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *Locker) acquire(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	return e
}

func (l *Locker) release(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}
