package lifecycle

import "sync"

// SharedValue is a read-mostly value with versioned publish: many
// readers via Read, one writer at a time via Publish, both under an
// RWMutex. Unlike Latch it offers no blocking Await — callers that need
// change notification use Latch instead.
type SharedValue[T any] struct {
	mu      sync.RWMutex
	val     T
	version uint64
}

// NewSharedValue returns a SharedValue initialized to val.
func NewSharedValue[T any](val T) *SharedValue[T] {
	return &SharedValue[T]{val: val}
}

// Read returns the last published value and its version.
func (sv *SharedValue[T]) Read() (val T, version uint64) {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	return sv.val, sv.version
}

// Publish swaps in a new value under an exclusive lock and bumps the
// version counter.
func (sv *SharedValue[T]) Publish(val T) (version uint64) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sv.val = val
	sv.version++
	return sv.version
}
