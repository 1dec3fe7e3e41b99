package vclock

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"concord/internal/lifecycle"
)

func TestClock(t *testing.T) {
	Convey("Given a fresh Clock", t, func() {
		state := lifecycle.NewLatch(lifecycle.Running)
		c := New(state)

		Convey("virtual and wall advance together while running", func() {
			time.Sleep(30 * time.Millisecond)
			wall := c.Wall()
			virt := c.Virtual()
			So(wall, ShouldBeGreaterThan, 0)
			So(virt, ShouldAlmostEqual, wall, 0.02)
		})

		Convey("virtual freezes across a pause and resumes from the frozen value", func() {
			c.NotifyPaused()
			frozen := c.Virtual()
			time.Sleep(30 * time.Millisecond)
			So(c.Virtual(), ShouldAlmostEqual, frozen, 0.01)

			c.NotifyResumed()
			time.Sleep(20 * time.Millisecond)
			So(c.Virtual(), ShouldBeGreaterThan, frozen)
		})

		Convey("VirtualSleep returns once the requested virtual duration elapses", func() {
			start := time.Now()
			err := c.VirtualSleep(context.Background(), 20*time.Millisecond)
			So(err, ShouldBeNil)
			So(time.Since(start), ShouldBeGreaterThanOrEqualTo, 15*time.Millisecond)
		})

		Convey("VirtualSleep is cancellable", func() {
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				time.Sleep(10 * time.Millisecond)
				cancel()
			}()
			err := c.VirtualSleep(ctx, time.Hour)
			So(err, ShouldNotBeNil)
		})

		Convey("SeedVirtual offsets Virtual without disturbing Wall", func() {
			before := c.Wall()
			c.SeedVirtual(1000)
			So(c.Virtual(), ShouldAlmostEqual, 1000, 0.01)
			So(c.Wall(), ShouldBeGreaterThanOrEqualTo, before)
		})

		Convey("WallClockTimestamp matches the persistence record format", func() {
			ts := c.WallClockTimestamp()
			_, err := time.Parse("20060102T150405Z", ts)
			So(err, ShouldBeNil)
		})
	})
}
