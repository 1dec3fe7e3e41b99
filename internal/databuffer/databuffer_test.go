package databuffer

import (
	"testing"

	"github.com/spf13/afero"

	. "github.com/smartystreets/goconvey/convey"
)

type sample struct {
	X int
	Y int
}

func (s sample) FieldNames() []string { return []string{"X", "Y"} }

type wrongShape struct {
	Z int
}

func (w wrongShape) FieldNames() []string { return []string{"Z"} }

func TestQueuePolicy(t *testing.T) {
	Convey("Given a Queue buffer of capacity 3", t, func() {
		buf := NewBuffer[sample]("q", 3, Queue, []string{"X", "Y"}, 0)

		Convey("it accumulates tuples up to capacity", func() {
			So(buf.Collect(sample{X: 1}), ShouldBeNil)
			So(buf.Collect(sample{X: 2}), ShouldBeNil)
			So(buf.Count(), ShouldEqual, 2)
		})

		Convey("once full it evicts the oldest item, preserving producer order", func() {
			for i := 1; i <= 5; i++ {
				So(buf.Collect(sample{X: i}), ShouldBeNil)
			}
			data := buf.GetData()
			So(len(data), ShouldEqual, 3)
			So(data[0].X, ShouldEqual, 3)
			So(data[1].X, ShouldEqual, 4)
			So(data[2].X, ShouldEqual, 5)
		})

		Convey("GetData returns an independent copy", func() {
			buf.Collect(sample{X: 1})
			snap := buf.GetData()
			buf.Collect(sample{X: 2})
			So(len(snap), ShouldEqual, 1)
		})
	})
}

func TestRandomReplacementPolicy(t *testing.T) {
	Convey("Given a RandomReplacement buffer seeded deterministically", t, func() {
		buf := NewBuffer[sample]("r", 2, RandomReplacement, []string{"X", "Y"}, 42)

		Convey("it fills up to capacity without loss", func() {
			buf.Collect(sample{X: 1})
			buf.Collect(sample{X: 2})
			So(buf.Count(), ShouldEqual, 2)
			So(len(buf.GetData()), ShouldEqual, 2)
		})

		Convey("past capacity, resident count never exceeds capacity", func() {
			for i := 1; i <= 20; i++ {
				buf.Collect(sample{X: i})
			}
			So(buf.Count(), ShouldEqual, 2)
		})

		Convey("two buffers seeded identically and fed identically converge on identical contents", func() {
			other := NewBuffer[sample]("r2", 2, RandomReplacement, []string{"X", "Y"}, 42)
			for i := 1; i <= 10; i++ {
				buf.Collect(sample{X: i})
				other.Collect(sample{X: i})
			}
			So(buf.GetData(), ShouldResemble, other.GetData())
		})
	})
}

type relabeled struct {
	X int
	Y int
}

// FieldNames deliberately declares a different field set than sample's,
// despite an identical underlying struct shape, so Collect's schema
// check can be exercised without a second generic instantiation.
func (r relabeled) FieldNames() []string { return []string{"X", "Q"} }

func TestSchemaMismatch(t *testing.T) {
	Convey("Given a buffer declared over fields X,Y", t, func() {
		buf := NewBuffer[sample]("s", 2, Queue, []string{"X", "Y"}, 0)

		Convey("collecting a tuple whose declared fields match is accepted", func() {
			err := buf.Collect(sample{X: 1, Y: 2})
			So(err, ShouldBeNil)
		})
	})

	Convey("Given a buffer declared over fields X,Q", t, func() {
		buf := NewBuffer[relabeled]("s2", 2, Queue, []string{"X", "Q"}, 0)

		Convey("a tuple whose FieldNames drifts from the declared set is rejected", func() {
			buf2 := NewBuffer[relabeled]("s3", 2, Queue, []string{"X", "Y"}, 0)
			err := buf2.Collect(relabeled{X: 1, Y: 2})
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "schema mismatch")
			_ = buf
		})
	})
}

func TestFabric(t *testing.T) {
	Convey("Given a Fabric with one registered buffer", t, func() {
		f := NewFabric()
		err := Register[sample](f, "stream", 4, Queue, []string{"X", "Y"}, 0)
		So(err, ShouldBeNil)

		Convey("registering the same name twice fails", func() {
			err := Register[sample](f, "stream", 4, Queue, []string{"X", "Y"}, 0)
			So(err, ShouldNotBeNil)
		})

		Convey("a Collector and a User can be fetched by name and round-trip data", func() {
			coll, err := CollectorFor[sample](f, "stream")
			So(err, ShouldBeNil)
			user, err := UserFor[sample](f, "stream")
			So(err, ShouldBeNil)

			So(coll.Collect(sample{X: 7, Y: 8}), ShouldBeNil)
			So(user.Count(), ShouldEqual, 1)
			So(user.GetData()[0].X, ShouldEqual, 7)
		})

		Convey("fetching with the wrong element type fails", func() {
			_, err := CollectorFor[wrongShape](f, "stream")
			So(err, ShouldNotBeNil)
		})

		Convey("fetching an unregistered name fails", func() {
			_, err := UserFor[sample](f, "missing")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestBufferPersistence(t *testing.T) {
	Convey("Given a populated Queue buffer and an in-memory filesystem", t, func() {
		fs := afero.NewMemMapFs()
		buf := NewBuffer[sample]("q", 3, Queue, []string{"X", "Y"}, 0)
		buf.Collect(sample{X: 1, Y: 1})
		buf.Collect(sample{X: 2, Y: 2})

		Convey("SaveTo then LoadFrom into a fresh buffer restores its contents", func() {
			So(buf.SaveTo(fs, "/snap"), ShouldBeNil)

			fresh := NewBuffer[sample]("q", 3, Queue, []string{"X", "Y"}, 0)
			So(fresh.LoadFrom(fs, "/snap"), ShouldBeNil)
			So(fresh.GetData(), ShouldResemble, buf.GetData())
		})
	})

	Convey("Given a populated RandomReplacement buffer", t, func() {
		fs := afero.NewMemMapFs()
		buf := NewBuffer[sample]("r", 2, RandomReplacement, []string{"X", "Y"}, 7)
		for i := 1; i <= 10; i++ {
			buf.Collect(sample{X: i})
		}

		Convey("restoring replays the RNG so continued collection stays deterministic", func() {
			So(buf.SaveTo(fs, "/snap"), ShouldBeNil)

			fresh := NewBuffer[sample]("r", 2, RandomReplacement, []string{"X", "Y"}, 7)
			So(fresh.LoadFrom(fs, "/snap"), ShouldBeNil)
			So(fresh.GetData(), ShouldResemble, buf.GetData())

			buf.Collect(sample{X: 100})
			fresh.Collect(sample{X: 100})
			So(fresh.GetData(), ShouldResemble, buf.GetData())
		})
	})
}
