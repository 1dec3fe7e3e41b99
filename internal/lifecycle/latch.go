package lifecycle

import (
	"context"
	"sync"
)

// Latch is a single value with many readers and one writer. Readers may
// either Peek the current value or Await a future change. Publish swaps
// the value and wakes every waiter.
type Latch[T any] struct {
	mu      sync.Mutex
	val     T
	version uint64
	changed chan struct{}
}

// NewLatch returns a Latch initialized to val.
func NewLatch[T any](val T) *Latch[T] {
	return &Latch[T]{
		val:     val,
		changed: make(chan struct{}),
	}
}

// Peek returns the latch's current value without blocking.
func (l *Latch[T]) Peek() T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.val
}

// Version returns the publish count, useful for detecting whether a
// value observed earlier is still current.
func (l *Latch[T]) Version() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.version
}

// Publish sets a new value and wakes every goroutine blocked in Await.
func (l *Latch[T]) Publish(val T) {
	l.mu.Lock()
	l.val = val
	l.version++
	prev := l.changed
	l.changed = make(chan struct{})
	l.mu.Unlock()
	close(prev)
}

// Await blocks until the latch's value changes from last (by version),
// or ctx is cancelled. It returns the new value and version.
func (l *Latch[T]) Await(ctx context.Context, lastVersion uint64) (val T, version uint64, err error) {
	for {
		l.mu.Lock()
		if l.version != lastVersion {
			val, version = l.val, l.version
			l.mu.Unlock()
			return val, version, nil
		}
		wake := l.changed
		l.mu.Unlock()

		select {
		case <-wake:
			continue
		case <-ctx.Done():
			var zero T
			return zero, lastVersion, ctx.Err()
		}
	}
}
