package relay_test

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/askbot/internal/adapters/relay"
)

func TestBackoff(t *testing.T) {
	Convey("Given the default reconnect policy", t, func() {
		b := relay.Backoff{Base: relay.DefaultBackoffBase, Cap: relay.DefaultBackoffCap}

		Convey("Then delays double from the base up to the cap", func() {
			want := []time.Duration{1, 2, 4, 8, 16, 30, 30}
			for attempt, w := range want {
				So(b.Delay(attempt), ShouldEqual, w*time.Second)
			}
		})

		Convey("Then delays never decrease as attempts grow", func() {
			prev := time.Duration(0)
			for attempt := 0; attempt < 200; attempt++ {
				d := b.Delay(attempt)
				So(d, ShouldBeGreaterThanOrEqualTo, prev)
				So(d, ShouldBeLessThanOrEqualTo, b.Cap)
				prev = d
			}
		})

		Convey("Then a negative attempt is treated as the first", func() {
			So(b.Delay(-3), ShouldEqual, time.Second)
		})
	})

	Convey("Given states", t, func() {
		So(relay.StateDisconnected.String(), ShouldEqual, "disconnected")
		So(relay.StateConnecting.String(), ShouldEqual, "connecting")
		So(relay.StateConnected.String(), ShouldEqual, "connected")
		So(relay.StateClosing.String(), ShouldEqual, "closing")
	})
}
