// Package modelregistry implements the double-buffered model registry
// of spec.md §4.E: a name-keyed table of training/inference model pairs
// with lock-ordered access and atomic publish.
package modelregistry

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/spf13/afero"

	"concord/internal/contract"
)

// Entry pairs a training-side model with an optional inference-side
// replica. The training side is guarded by an exclusive mutex; the
// inference side by a RWMutex so many concurrent inference reads can
// proceed while a publish is not in flight.
type Entry struct {
	name string

	trainingMu sync.Mutex
	training   contract.Model

	inferenceMu  sync.RWMutex
	inference    contract.Model
	hasInference bool

	publishSeq uint64
}

// NewEntry constructs an Entry. inference may be nil, in which case
// Publish is a no-op, matching spec.md §4.E's publishing policy.
func NewEntry(name string, training, inference contract.Model) *Entry {
	return &Entry{
		name:         name,
		training:     training,
		inference:    inference,
		hasInference: inference != nil,
	}
}

// Name returns the entry's registered name.
func (e *Entry) Name() string { return e.name }

// TrainingView acquires the exclusive training-side lock and returns a
// handle exposing the training model. The handle must be Released
// before Publish can proceed, since Publish itself acquires the same
// lock to take a consistent snapshot.
func (e *Entry) TrainingView() *TrainingView {
	e.trainingMu.Lock()
	return &TrainingView{entry: e}
}

// InferenceView acquires a shared read lock on the inference side. Many
// concurrent InferenceViews may be held at once; none may be held
// across a call to Publish on the same entry (Publish will block until
// they are all released, and will deadlock if called from within one).
func (e *Entry) InferenceView() *InferenceView {
	e.inferenceMu.RLock()
	return &InferenceView{entry: e}
}

// Publish atomically mirrors the current training-side parameters into
// the inference side and increments publishSeq. It is a no-op for
// entries with no inference side. It blocks until no inference reader
// is active, and acquires the training lock itself, so it must never be
// called while the caller holds a TrainingView on the same entry.
func (e *Entry) Publish() error {
	if !e.hasInference {
		return nil
	}
	e.trainingMu.Lock()
	defer e.trainingMu.Unlock()
	e.inferenceMu.Lock()
	defer e.inferenceMu.Unlock()

	if err := e.training.CopyParamsTo(e.inference); err != nil {
		return fmt.Errorf("modelregistry: publish %q: %w", e.name, err)
	}
	atomic.AddUint64(&e.publishSeq, 1)
	return nil
}

// PublishSeq returns the number of successful publishes so far.
func (e *Entry) PublishSeq() uint64 {
	return atomic.LoadUint64(&e.publishSeq)
}

// SaveTo persists both model sides under dir/<name>/{training,inference},
// taking the training lock (and the inference read lock, if present) for
// the duration of the save so the snapshot is consistent.
func (e *Entry) SaveTo(fs afero.Fs, dir string) error {
	e.trainingMu.Lock()
	defer e.trainingMu.Unlock()

	base := ModelDir(dir, e.name)
	if err := fs.MkdirAll(base, 0o755); err != nil {
		return fmt.Errorf("modelregistry: mkdir %s: %w", base, err)
	}
	if err := e.training.SaveTo(fs, filepath.Join(base, "training")); err != nil {
		return fmt.Errorf("modelregistry: save training %q: %w", e.name, err)
	}
	if e.hasInference {
		e.inferenceMu.RLock()
		defer e.inferenceMu.RUnlock()
		if err := e.inference.SaveTo(fs, filepath.Join(base, "inference")); err != nil {
			return fmt.Errorf("modelregistry: save inference %q: %w", e.name, err)
		}
	}
	return nil
}

// LoadFrom restores both model sides from a prior SaveTo.
func (e *Entry) LoadFrom(fs afero.Fs, dir string) error {
	e.trainingMu.Lock()
	defer e.trainingMu.Unlock()

	base := ModelDir(dir, e.name)
	if err := e.training.LoadFrom(fs, filepath.Join(base, "training")); err != nil {
		return fmt.Errorf("modelregistry: load training %q: %w", e.name, err)
	}
	if e.hasInference {
		e.inferenceMu.Lock()
		defer e.inferenceMu.Unlock()
		if err := e.inference.LoadFrom(fs, filepath.Join(base, "inference")); err != nil {
			return fmt.Errorf("modelregistry: load inference %q: %w", e.name, err)
		}
	}
	return nil
}

// TrainingView is the handle returned by Entry.TrainingView.
type TrainingView struct {
	entry    *Entry
	released bool
}

// Model returns the underlying training-side model for mutation.
func (v *TrainingView) Model() contract.Model { return v.entry.training }

// Release unlocks the training-side exclusive lock. A second call on the
// same view is a no-op.
func (v *TrainingView) Release() {
	if v.released {
		return
	}
	v.released = true
	v.entry.trainingMu.Unlock()
}

// InferenceView is the handle returned by Entry.InferenceView.
type InferenceView struct {
	entry    *Entry
	released bool
}

// Model returns the underlying inference-side model for reads.
func (v *InferenceView) Model() contract.Model { return v.entry.inference }

// PublishSeq returns the publish sequence number observed at the time
// this view was acquired (reading it again mid-view is also valid,
// since it is independent of the RLock held here).
func (v *InferenceView) PublishSeq() uint64 { return v.entry.PublishSeq() }

// Release unlocks the inference-side shared lock.
func (v *InferenceView) Release() {
	if v.released {
		return
	}
	v.released = true
	v.entry.inferenceMu.RUnlock()
}

// Registry is the name-keyed table of Entries, per spec.md §4.E/§5.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register adds a new entry under name, failing if the name is taken.
func (r *Registry) Register(name string, training, inference contract.Model) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return nil, fmt.Errorf("modelregistry: %q already registered", name)
	}
	e := NewEntry(name, training, inference)
	r.entries[name] = e
	return e, nil
}

// Get returns the named entry.
func (r *Registry) Get(name string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("modelregistry: no entry named %q", name)
	}
	return e, nil
}

// Names returns every registered entry name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

// AcquireMany acquires TrainingViews for the named entries in a fixed
// global order (alphabetical by name, per spec.md §5's deadlock policy)
// regardless of the order names are given in, so that two trainers
// requesting an overlapping set of entries can never deadlock against
// each other. On any lookup failure, already-acquired views are
// released and the error is returned.
func (r *Registry) AcquireMany(names ...string) (map[string]*TrainingView, error) {
	ordered := append([]string(nil), names...)
	sort.Strings(ordered)

	views := make(map[string]*TrainingView, len(ordered))
	for _, name := range ordered {
		e, err := r.Get(name)
		if err != nil {
			releaseAll(views)
			return nil, err
		}
		views[name] = e.TrainingView()
	}
	return views, nil
}

// ReleaseMany releases every view in the set, matching the views
// returned by AcquireMany.
func ReleaseMany(views map[string]*TrainingView) {
	releaseAll(views)
}

func releaseAll(views map[string]*TrainingView) {
	for _, v := range views {
		v.Release()
	}
}

// SaveAll persists every registered entry under dir.
func (r *Registry) SaveAll(fs afero.Fs, dir string) error {
	for _, name := range r.Names() {
		e, err := r.Get(name)
		if err != nil {
			return err
		}
		if err := e.SaveTo(fs, dir); err != nil {
			return err
		}
	}
	return nil
}

// LoadAll restores every registered entry from dir, skipping entries
// with no prior saved directory.
func (r *Registry) LoadAll(fs afero.Fs, dir string) error {
	for _, name := range r.Names() {
		e, err := r.Get(name)
		if err != nil {
			return err
		}
		exists, err := afero.DirExists(fs, ModelDir(dir, name))
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		if err := e.LoadFrom(fs, dir); err != nil {
			return err
		}
	}
	return nil
}

// ModelDir returns the conventional per-entry persistence directory
// (<dir>/<name>) used by internal/persistence when saving registry
// state, matching spec.md §6's `models/<name>/...` layout.
func ModelDir(dir, name string) string {
	return filepath.Join(dir, name)
}
