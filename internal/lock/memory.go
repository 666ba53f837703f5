package lock

import (
	"context"
	"fmt"
	"sync"
)

var _ Locker = (*MemoryLocker)(nil)

// MemoryLocker is an in-process Locker. It is sufficient when a single
// server instance owns the database.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// slot is a one-token semaphore shared by every waiter on a key.
type slot struct {
	token chan struct{}
	refs  int
}

// NewMemoryLocker returns an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]*slot)}
}

// Acquire implements Locker.
func (l *MemoryLocker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	ordered := orderKeys(keys)
	held := make([]*slot, 0, len(ordered))

	releaseHeld := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i].token
		}
		for _, key := range ordered[:len(held)] {
			l.unref(key)
		}
	}

	for i, key := range ordered {
		s := l.ref(key)
		select {
		case s.token <- struct{}{}:
			held = append(held, s)
		case <-ctx.Done():
			l.unref(key)
			releaseHeld()
			return nil, fmt.Errorf("%w: %s after %d of %d keys: %v", ErrTimeout, key, i, len(ordered), ctx.Err())
		}
	}

	var once sync.Once
	return func() { once.Do(releaseHeld) }, nil
}

// Len reports how many keys currently have holders or waiters.
func (l *MemoryLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

func (l *MemoryLocker) ref(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{token: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *MemoryLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.slots[key]
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
