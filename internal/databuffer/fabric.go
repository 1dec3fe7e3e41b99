package databuffer

import (
	"fmt"

	"github.com/spf13/afero"
)

// persistable is satisfied by every *Buffer[T] regardless of T; Fabric
// uses it to save/load every registered buffer without needing to know
// each one's element type.
type persistable interface {
	SaveTo(fs afero.Fs, dir string) error
	LoadFrom(fs afero.Fs, dir string) error
	Name() string
}

// Collector is a producer-side handle bound to a single named buffer. It
// exposes only Collect, so a component wired as a producer cannot read
// another component's stream.
type Collector[T Tuple] struct {
	buf *Buffer[T]
}

// Collect forwards to the underlying buffer.
func (c *Collector[T]) Collect(t T) error {
	return c.buf.Collect(t)
}

// User is a consumer-side handle bound to a single named buffer. It
// exposes only read operations.
type User[T Tuple] struct {
	buf *Buffer[T]
}

// GetData returns a snapshot copy of the buffer's current contents.
func (u *User[T]) GetData() []T {
	return u.buf.GetData()
}

// Count returns the buffer's current resident size.
func (u *User[T]) Count() int {
	return u.buf.Count()
}

// Fabric is the named registry of buffers that producers and consumers
// are wired against, per spec.md §4.D. Buffers are registered once at
// startup; Collector/User handles are handed out by name afterward.
type Fabric struct {
	buffers map[string]any
}

// NewFabric returns an empty Fabric.
func NewFabric() *Fabric {
	return &Fabric{buffers: make(map[string]any)}
}

// Register creates a new named buffer of the given capacity, policy, and
// declared field set, returning an error if the name is already taken.
func Register[T Tuple](f *Fabric, name string, capacity int, policy Policy, fields []string, seed int64) error {
	if _, exists := f.buffers[name]; exists {
		return fmt.Errorf("databuffer: buffer %q already registered", name)
	}
	f.buffers[name] = NewBuffer[T](name, capacity, policy, fields, seed)
	return nil
}

// CollectorFor returns a Collector bound to the named buffer. It returns
// an error if the buffer does not exist or was registered with a
// different element type.
func CollectorFor[T Tuple](f *Fabric, name string) (*Collector[T], error) {
	buf, err := lookup[T](f, name)
	if err != nil {
		return nil, err
	}
	return &Collector[T]{buf: buf}, nil
}

// UserFor returns a User bound to the named buffer. It returns an error
// if the buffer does not exist or was registered with a different
// element type.
func UserFor[T Tuple](f *Fabric, name string) (*User[T], error) {
	buf, err := lookup[T](f, name)
	if err != nil {
		return nil, err
	}
	return &User[T]{buf: buf}, nil
}

func lookup[T Tuple](f *Fabric, name string) (*Buffer[T], error) {
	raw, ok := f.buffers[name]
	if !ok {
		return nil, fmt.Errorf("databuffer: no buffer registered as %q", name)
	}
	buf, ok := raw.(*Buffer[T])
	if !ok {
		return nil, fmt.Errorf("databuffer: buffer %q registered with a different element type", name)
	}
	return buf, nil
}

// Names returns the names of every registered buffer, for persistence
// and introspection use.
func (f *Fabric) Names() []string {
	names := make([]string, 0, len(f.buffers))
	for name := range f.buffers {
		names = append(names, name)
	}
	return names
}

// SaveAll persists every registered buffer under dir, one file per
// buffer.
func (f *Fabric) SaveAll(fs afero.Fs, dir string) error {
	for name, raw := range f.buffers {
		p, ok := raw.(persistable)
		if !ok {
			return fmt.Errorf("databuffer: buffer %q does not support persistence", name)
		}
		if err := p.SaveTo(fs, dir); err != nil {
			return err
		}
	}
	return nil
}

// LoadAll restores every registered buffer from dir, skipping buffers
// whose file does not exist (a fresh buffer with no prior snapshot).
func (f *Fabric) LoadAll(fs afero.Fs, dir string) error {
	for name, raw := range f.buffers {
		p, ok := raw.(persistable)
		if !ok {
			return fmt.Errorf("databuffer: buffer %q does not support persistence", name)
		}
		exists, err := afero.Exists(fs, dir+"/"+p.Name()+".json")
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		if err := p.LoadFrom(fs, dir); err != nil {
			return fmt.Errorf("databuffer: restore %q: %w", name, err)
		}
	}
	return nil
}
