package persistence

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/spf13/afero"

	. "github.com/smartystreets/goconvey/convey"

	"concord/internal/lifecycle"
	"concord/internal/obslog"
	"concord/internal/trigger"
	"concord/internal/vclock"
)

// stubPersistable records save/load calls against an in-memory string.
type stubPersistable struct {
	value string
}

func (s *stubPersistable) SaveTo(fs afero.Fs, dir string) error {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return afero.WriteFile(fs, dir+"/value.txt", []byte(s.value), 0o644)
}

func (s *stubPersistable) LoadFrom(fs afero.Fs, dir string) error {
	data, err := afero.ReadFile(fs, dir+"/value.txt")
	if err != nil {
		return err
	}
	s.value = string(data)
	return nil
}

// noopRuntime satisfies PauseResumer without any real orchestrator.
type noopRuntime struct {
	paused  int
	resumed int
}

func (r *noopRuntime) Pause(timeout time.Duration) error { r.paused++; return nil }
func (r *noopRuntime) Resume()                            { r.resumed++ }

func newTestController(fs afero.Fs, maxKeep int) (*Controller, *vclock.Clock) {
	state := lifecycle.NewLatch(lifecycle.Running)
	clock := vclock.New(state)
	log := obslog.New(io.Discard, "error")
	c := NewController(fs, "/states", maxKeep, clock, &noopRuntime{}, nil, time.Second, log)
	return c, clock
}

func TestSaveAndLoad(t *testing.T) {
	Convey("Given a Controller with one registered persistable", t, func() {
		fs := afero.NewMemMapFs()
		c, _ := newTestController(fs, 0)
		model := &stubPersistable{value: "hello"}
		c.Register("models/m", model)

		Convey("Save commits an atomically-named record with a manifest", func() {
			record, err := c.Save(context.Background())
			So(err, ShouldBeNil)
			So(record, ShouldNotBeEmpty)

			exists, err := afero.Exists(fs, record+"/manifest.json")
			So(err, ShouldBeNil)
			So(exists, ShouldBeTrue)

			tmpExists, err := afero.DirExists(fs, "/states")
			So(err, ShouldBeNil)
			So(tmpExists, ShouldBeTrue)
		})

		Convey("Load restores the persistable from the latest valid record", func() {
			_, err := c.Save(context.Background())
			So(err, ShouldBeNil)

			fresh := &stubPersistable{}
			c2, _ := newTestController(fs, 0)
			c2.Register("models/m", fresh)
			record, err := c2.Load(context.Background())
			So(err, ShouldBeNil)
			So(record, ShouldNotBeEmpty)
			So(fresh.value, ShouldEqual, "hello")
		})

		Convey("Load with no existing records is a no-op", func() {
			freshFs := afero.NewMemMapFs()
			c2, _ := newTestController(freshFs, 0)
			c2.Register("models/m", &stubPersistable{})
			record, err := c2.Load(context.Background())
			So(err, ShouldBeNil)
			So(record, ShouldBeEmpty)
		})
	})
}

func TestSavePausesAndResumesTheRuntime(t *testing.T) {
	Convey("Given a Controller with a fake runtime", t, func() {
		fs := afero.NewMemMapFs()
		c, _ := newTestController(fs, 0)
		rt := c.runtime.(*noopRuntime)

		Convey("Save calls Pause then Resume exactly once", func() {
			_, err := c.Save(context.Background())
			So(err, ShouldBeNil)
			So(rt.paused, ShouldEqual, 1)
			So(rt.resumed, ShouldEqual, 1)
		})
	})
}

func TestRetention(t *testing.T) {
	Convey("Given a Controller capped at 2 retained records", t, func() {
		fs := afero.NewMemMapFs()
		c, _ := newTestController(fs, 2)
		c.Register("models/m", &stubPersistable{value: "x"})

		Convey("after 4 saves, only 2 records remain", func() {
			for i := 0; i < 4; i++ {
				_, err := c.Save(context.Background())
				So(err, ShouldBeNil)
				time.Sleep(time.Second) // record names have one-second resolution; ensure distinct timestamps
			}
			entries, err := afero.ReadDir(fs, "/states")
			So(err, ShouldBeNil)
			count := 0
			for _, e := range entries {
				if e.IsDir() {
					count++
				}
			}
			So(count, ShouldEqual, 2)
		})
	})
}

func TestMaybeSaveRespectsTrigger(t *testing.T) {
	Convey("Given a Controller with a StepCount(2) save trigger", t, func() {
		fs := afero.NewMemMapFs()
		state := lifecycle.NewLatch(lifecycle.Running)
		clock := vclock.New(state)
		log := obslog.New(io.Discard, "error")
		c := NewController(fs, "/states", 0, clock, &noopRuntime{}, trigger.NewStepCount(2), time.Second, log)
		c.Register("models/m", &stubPersistable{value: "x"})

		Convey("the first MaybeSave call does not trigger a save, the second does", func() {
			So(c.MaybeSave(context.Background()), ShouldBeNil)
			entries, _ := afero.ReadDir(fs, "/states")
			So(len(entries), ShouldEqual, 0)

			So(c.MaybeSave(context.Background()), ShouldBeNil)
			entries, _ = afero.ReadDir(fs, "/states")
			So(len(entries), ShouldEqual, 1)
		})
	})
}
