// Package atomicfloat provides a lock-free float64 cell for hot paths
// where a full mutex would be overkill, e.g. per-state RL values and the
// pause-duration accumulator in vclock.
package atomicfloat

import (
	"math"
	"sync/atomic"
	"unsafe"
)

// Float64 encapsulates a float64 for non-locking atomic operations.
// WARNING: the unsafe pointer cast is only safe because it is never
// held across a GC-observable yield point; see the CAS loops below.
type Float64 struct {
	val float64
}

// New returns a Float64 initialized to val.
func New(val float64) *Float64 {
	return &Float64{val: val}
}

// Read atomically reads the current value.
func (af *Float64) Read() float64 {
	bits := atomic.LoadUint64((*uint64)(unsafe.Pointer(&af.val)))
	return math.Float64frombits(bits)
}

// Add makes a single CAS attempt to add addend to the value; it does
// not retry. If the value changes concurrently between read and CAS,
// the CAS fails, the value is left unchanged, and succeeded is false.
// The caller may retry (as vclock does) or discard the failed add (as
// the estimator in internal/gridworld does: it is the only writer of
// its training-side model while it holds the TrainingView).
func (af *Float64) Add(addend float64) (newVal float64, succeeded bool) {
	old := af.Read()
	newVal = old + addend
	succeeded = atomic.CompareAndSwapUint64(
		(*uint64)(unsafe.Pointer(&af.val)),
		math.Float64bits(old),
		math.Float64bits(newVal))
	return
}

// Set atomically assigns a new value via CAS retry until it succeeds.
func (af *Float64) Set(newVal float64) {
	for {
		old := af.Read()
		if atomic.CompareAndSwapUint64(
			(*uint64)(unsafe.Pointer(&af.val)),
			math.Float64bits(old),
			math.Float64bits(newVal)) {
			return
		}
	}
}
