package lifecycle

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLatch(t *testing.T) {
	Convey("Given a fresh Latch", t, func() {
		l := NewLatch(Initializing)

		Convey("Peek returns the initial value", func() {
			So(l.Peek(), ShouldEqual, Initializing)
		})

		Convey("Publish updates the value and bumps version", func() {
			v0 := l.Version()
			l.Publish(Running)
			So(l.Peek(), ShouldEqual, Running)
			So(l.Version(), ShouldEqual, v0+1)
		})

		Convey("Await unblocks when a later Publish happens", func() {
			v0 := l.Version()
			done := make(chan State, 1)
			go func() {
				val, _, err := l.Await(context.Background(), v0)
				if err == nil {
					done <- val
				}
			}()
			time.Sleep(10 * time.Millisecond)
			l.Publish(Paused)
			select {
			case val := <-done:
				So(val, ShouldEqual, Paused)
			case <-time.After(time.Second):
				t.Fatal("Await did not unblock")
			}
		})

		Convey("Await respects context cancellation", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, _, err := l.Await(ctx, l.Version())
			So(err, ShouldNotBeNil)
		})
	})
}

func TestPauseGate(t *testing.T) {
	Convey("Given a PauseGate over a lifecycle latch", t, func() {
		state := NewLatch(Running)
		gate := NewPauseGate(state)

		Convey("WaitIfPaused returns immediately while RUNNING", func() {
			err := gate.WaitIfPaused(context.Background())
			So(err, ShouldBeNil)
		})

		Convey("WaitIfPaused blocks while PAUSED and releases on RUNNING", func() {
			state.Publish(Paused)
			unblocked := make(chan struct{})
			go func() {
				_ = gate.WaitIfPaused(context.Background())
				close(unblocked)
			}()

			select {
			case <-unblocked:
				t.Fatal("gate should not unblock while paused")
			case <-time.After(30 * time.Millisecond):
			}

			state.Publish(Running)
			select {
			case <-unblocked:
			case <-time.After(time.Second):
				t.Fatal("gate did not unblock on resume")
			}
		})

		Convey("WaitIfPaused returns ErrCancelled once SHUTTING_DOWN", func() {
			state.Publish(ShuttingDown)
			err := gate.WaitIfPaused(context.Background())
			So(err, ShouldEqual, ErrCancelled)
		})

		Convey("WaitIfPaused returns ErrCancelled from PAUSED when shutdown follows", func() {
			state.Publish(Paused)
			resultCh := make(chan error, 1)
			go func() {
				resultCh <- gate.WaitIfPaused(context.Background())
			}()
			time.Sleep(10 * time.Millisecond)
			state.Publish(ShuttingDown)
			select {
			case err := <-resultCh:
				So(err, ShouldEqual, ErrCancelled)
			case <-time.After(time.Second):
				t.Fatal("gate did not unblock on shutdown")
			}
		})
	})
}

func TestSharedValue(t *testing.T) {
	Convey("Given a SharedValue", t, func() {
		sv := NewSharedValue(42)

		Convey("Read returns the published value and version", func() {
			val, ver := sv.Read()
			So(val, ShouldEqual, 42)
			So(ver, ShouldEqual, 0)
		})

		Convey("Publish bumps the version", func() {
			ver := sv.Publish(7)
			So(ver, ShouldEqual, 1)
			val, ver2 := sv.Read()
			So(val, ShouldEqual, 7)
			So(ver2, ShouldEqual, 1)
		})
	})
}
