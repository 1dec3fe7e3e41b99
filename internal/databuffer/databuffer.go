// Package databuffer implements the producer/consumer data fabric of
// spec.md §4.D: bounded per-stream buffers with two replacement
// policies, fed by Collector handles and drained via consistent
// snapshot reads from User handles.
package databuffer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
	"sync"
)

// Tuple is satisfied by any fixed-field value collected into a buffer.
// FieldNames declares the tuple's field set, fixed for the type; Collect
// validates it against the buffer's declared set on every call.
type Tuple interface {
	FieldNames() []string
}

// ErrSchemaMismatch is returned by Collect when a tuple's field set does
// not equal the buffer's declared field set.
var ErrSchemaMismatch = errors.New("databuffer: schema mismatch")

// Policy selects how a full buffer accepts new items.
type Policy int

const (
	// Queue evicts the oldest item when full (FIFO), preserving
	// producer order for readers.
	Queue Policy = iota
	// RandomReplacement overwrites a uniformly random resident slot
	// when full; insertion order is not preserved, only presence is
	// guaranteed.
	RandomReplacement
)

// Buffer is a bounded, mutex-guarded container of tuples of type T.
type Buffer[T Tuple] struct {
	mu       sync.Mutex
	name     string
	capacity int
	policy   Policy
	fields   []string

	// queue-policy storage: logical order oldest-to-newest.
	queue []T

	// random-replacement storage: fixed-size slot array.
	slots     []T
	occupied  []bool
	resident  int
	rng       *rand.Rand
	seed      int64
	drawCount uint64
}

// NewBuffer constructs a Buffer with the declared field set, capacity,
// and replacement policy. seed is only meaningful for RandomReplacement.
func NewBuffer[T Tuple](name string, capacity int, policy Policy, fields []string, seed int64) *Buffer[T] {
	if capacity <= 0 {
		panic("databuffer: capacity must be > 0")
	}
	b := &Buffer[T]{
		name:     name,
		capacity: capacity,
		policy:   policy,
		fields:   append([]string(nil), fields...),
		seed:     seed,
	}
	if policy == RandomReplacement {
		b.rng = rand.New(rand.NewSource(seed))
		b.slots = make([]T, capacity)
		b.occupied = make([]bool, capacity)
	} else {
		b.queue = make([]T, 0, capacity)
	}
	return b
}

func sameFieldSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa := append([]string(nil), a...)
	sb := append([]string(nil), b...)
	sort.Strings(sa)
	sort.Strings(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

// Collect appends (or replaces, per policy) a tuple atomically. It
// returns ErrSchemaMismatch if the tuple's declared fields differ from
// the buffer's.
func (b *Buffer[T]) Collect(t T) error {
	if !sameFieldSet(t.FieldNames(), b.fields) {
		return fmt.Errorf("%w: buffer %q wants %v, got %v", ErrSchemaMismatch, b.name, b.fields, t.FieldNames())
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.policy {
	case Queue:
		if len(b.queue) >= b.capacity {
			b.queue = b.queue[1:]
		}
		b.queue = append(b.queue, t)
	case RandomReplacement:
		if b.resident < b.capacity {
			b.slots[b.resident] = t
			b.occupied[b.resident] = true
			b.resident++
		} else {
			slot := b.rng.Intn(b.capacity)
			b.drawCount++
			b.slots[slot] = t
		}
	}
	return nil
}

// GetData returns an independent snapshot copy of the buffer's current
// contents. For Queue buffers the order is oldest-to-newest. For
// RandomReplacement buffers the order is the deterministic slot order
// produced by the seeded RNG, not insertion order.
func (b *Buffer[T]) GetData() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.policy {
	case Queue:
		out := make([]T, len(b.queue))
		copy(out, b.queue)
		return out
	default: // RandomReplacement
		out := make([]T, 0, b.resident)
		for i := 0; i < b.capacity; i++ {
			if b.occupied[i] {
				out = append(out, b.slots[i])
			}
		}
		return out
	}
}

// Count returns the buffer's current resident size.
func (b *Buffer[T]) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.policy {
	case Queue:
		return len(b.queue)
	default:
		return b.resident
	}
}

// Capacity returns the buffer's fixed capacity.
func (b *Buffer[T]) Capacity() int { return b.capacity }

// Name returns the buffer's registered name.
func (b *Buffer[T]) Name() string { return b.name }

type persistedState[T Tuple] struct {
	Policy    Policy `json:"policy"`
	Seed      int64  `json:"seed"`
	DrawCount uint64 `json:"drawCount"`
	Items     []T    `json:"items"`
}

// SaveTo persists the buffer's contents (and, for RandomReplacement,
// enough state to deterministically replay the RNG draws that produced
// the current slot arrangement) to dir/<name>.json.
func (b *Buffer[T]) SaveTo(fs afero.Fs, dir string) error {
	b.mu.Lock()
	state := persistedState[T]{Policy: b.policy, Seed: b.seed, DrawCount: b.drawCount}
	switch b.policy {
	case Queue:
		state.Items = append([]T(nil), b.queue...)
	default:
		for i := 0; i < b.capacity; i++ {
			if b.occupied[i] {
				state.Items = append(state.Items, b.slots[i])
			}
		}
	}
	b.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("databuffer: marshal %s: %w", b.name, err)
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("databuffer: mkdir %s: %w", dir, err)
	}
	return afero.WriteFile(fs, filepath.Join(dir, b.name+".json"), data, 0o644)
}

// LoadFrom restores the buffer's contents from a prior SaveTo. For
// RandomReplacement buffers the resident items are restored in their
// saved slot order and, per the Open Question decision in DESIGN.md,
// the RNG is re-seeded and replayed drawCount times so later
// replacements draw the same slots the original run would have, without
// relying on a raw PRNG byte-state format.
func (b *Buffer[T]) LoadFrom(fs afero.Fs, dir string) error {
	data, err := afero.ReadFile(fs, filepath.Join(dir, b.name+".json"))
	if err != nil {
		return fmt.Errorf("databuffer: read %s: %w", b.name, err)
	}
	var state persistedState[T]
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("databuffer: unmarshal %s: %w", b.name, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.policy {
	case Queue:
		b.queue = b.queue[:0]
		for _, item := range state.Items {
			if len(b.queue) >= b.capacity {
				b.queue = b.queue[1:]
			}
			b.queue = append(b.queue, item)
		}
	default:
		b.rng = rand.New(rand.NewSource(state.Seed))
		b.seed = state.Seed
		b.resident = 0
		b.occupied = make([]bool, b.capacity)
		b.slots = make([]T, b.capacity)
		for _, item := range state.Items {
			if b.resident < b.capacity {
				b.slots[b.resident] = item
				b.occupied[b.resident] = true
				b.resident++
			}
		}
		// Replay the draws that occurred after the buffer filled so
		// the RNG's internal sequence position matches the original
		// run, even though the resulting slot contents were already
		// restored verbatim above.
		for i := uint64(0); i < state.DrawCount; i++ {
			b.rng.Intn(b.capacity)
		}
		b.drawCount = state.DrawCount
	}
	return nil
}
