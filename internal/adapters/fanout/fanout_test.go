package fanout_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/goleak"

	"github.com/okian/askbot/internal/adapters/fanout"
	"github.com/okian/askbot/internal/adapters/relay"
	"github.com/okian/askbot/internal/domain/model"
	"github.com/okian/askbot/internal/testrelay"
	"github.com/okian/askbot/pkg/logger"
)

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// connect runs a manager against r and returns it once connected.
func connect(t *testing.T, r *testrelay.Relay) (*relay.Manager, func()) {
	t.Helper()
	m := relay.NewManager(r.URL(), func(context.Context, model.Event) {}, relay.WithLogger(logger.Nop()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	if !waitFor(func() bool { return m.State() == relay.StateConnected }) {
		t.Fatal("manager never connected")
	}
	return m, func() {
		cancel()
		<-done
		r.Close()
	}
}

func latestNote(key string) model.Filter {
	return model.Filter{Authors: []string{key}, Kinds: []int{model.KindTextNote}, Limit: 1}
}

func TestQuery(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	Convey("Given three followed keys where only A and C have notes", t, func() {
		r := testrelay.New()
		m, stop := connect(t, r)
		defer stop()

		a, b, c := testrelay.NewAuthor(), testrelay.NewAuthor(), testrelay.NewAuthor()
		now := time.Now()
		noteA := a.Note(now.Add(-2*time.Hour), "from a")
		noteC := c.Note(now.Add(-400*24*time.Hour), "from c, long ago")
		r.Store(noteA, noteC, a.Note(now.Add(-3*time.Hour), "older from a"))

		engine := fanout.NewEngine(m, fanout.WithLogger(logger.Nop()))

		Convey("When querying with a generous window", func() {
			started := time.Now()
			keys := []string{a.PublicKey(), b.PublicKey(), c.PublicKey()}
			res := engine.Query(context.Background(), keys, latestNote, time.Second)

			Convey("Then A and C are found with their newest note and B is absent", func() {
				So(res, ShouldHaveLength, 3)
				So(res[a.PublicKey()].Found, ShouldBeTrue)
				So(res[a.PublicKey()].Event.ID, ShouldEqual, noteA.ID)
				So(res[b.PublicKey()].Found, ShouldBeFalse)
				So(res[b.PublicKey()].Err, ShouldBeNil)
				So(res[c.PublicKey()].Found, ShouldBeTrue)
				So(res[c.PublicKey()].Event.ID, ShouldEqual, noteC.ID)
			})

			Convey("Then EOSE resolves B early, well inside the window", func() {
				So(time.Since(started), ShouldBeLessThan, time.Second)
			})

			Convey("Then every listener is released", func() {
				So(m.Listeners(), ShouldEqual, 0)
				So(waitFor(func() bool { return len(r.Closes()) == 3 }), ShouldBeTrue)
			})
		})
	})
}

func TestQueryBatching(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	Convey("Given a relay that never sends EOSE", t, func() {
		r := testrelay.New(testrelay.WithoutEOSE())
		m, stop := connect(t, r)
		defer stop()

		var keys []string
		for i := 0; i < 5; i++ {
			keys = append(keys, testrelay.NewAuthor().PublicKey())
		}
		keys = append(keys, keys[0], keys[3])

		engine := fanout.NewEngine(m,
			fanout.WithBatchSize(10),
			fanout.WithMaxListeners(2),
			fanout.WithLogger(logger.Nop()),
		)
		So(engine.BatchSize(), ShouldEqual, 2)

		Convey("When querying five distinct keys with a short window", func() {
			const window = 100 * time.Millisecond
			started := time.Now()
			res := engine.Query(context.Background(), keys, latestNote, window)
			elapsed := time.Since(started)

			Convey("Then every distinct key gets exactly one absent result", func() {
				So(res, ShouldHaveLength, 5)
				for _, k := range keys {
					So(res[k].Key, ShouldEqual, k)
					So(res[k].Found, ShouldBeFalse)
					So(res[k].Err, ShouldBeNil)
				}
			})

			Convey("Then three sequential batches take about three windows", func() {
				So(elapsed, ShouldBeGreaterThanOrEqualTo, 3*window)
				So(elapsed, ShouldBeLessThan, 3*window+time.Second)
			})

			Convey("Then no more than two listeners were ever requested at once", func() {
				So(m.Listeners(), ShouldEqual, 0)
				// one standing REQ plus one per key
				So(len(r.Requests()), ShouldEqual, 6)
			})
		})
	})

	Convey("Given a cancelled context", t, func() {
		r := testrelay.New()
		m, stop := connect(t, r)
		defer stop()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res := fanout.NewEngine(m, fanout.WithLogger(logger.Nop())).
			Query(ctx, []string{"k1", "k2"}, latestNote, time.Second)

		Convey("Then keys still resolve, as absent", func() {
			So(res, ShouldHaveLength, 2)
			So(res["k1"].Found, ShouldBeFalse)
			So(res["k2"].Found, ShouldBeFalse)
		})
	})
}

func TestQueryConnectionLost(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	Convey("Given a relay that drops the connection mid-query", t, func() {
		r := testrelay.New(testrelay.WithoutEOSE())
		m, stop := connect(t, r)
		defer stop()

		keys := []string{testrelay.NewAuthor().PublicKey(), testrelay.NewAuthor().PublicKey()}
		engine := fanout.NewEngine(m, fanout.WithLogger(logger.Nop()))

		done := make(chan map[string]fanout.Result, 1)
		go func() { done <- engine.Query(context.Background(), keys, latestNote, 2*time.Second) }()
		So(waitFor(func() bool { return m.Listeners() == 2 }), ShouldBeTrue)
		r.DropAll()

		Convey("Then the keys are reported as interrupted, not absent", func() {
			var res map[string]fanout.Result
			select {
			case res = <-done:
			case <-time.After(time.Second):
			}
			So(res, ShouldHaveLength, 2)
			for _, k := range keys {
				So(res[k].Found, ShouldBeFalse)
				So(errors.Is(res[k].Err, fanout.ErrInterrupted), ShouldBeTrue)
			}
		})
	})
}

func TestCollect(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	Convey("Given an author with several notes", t, func() {
		r := testrelay.New()
		m, stop := connect(t, r)
		defer stop()

		alice := testrelay.NewAuthor()
		base := time.Now().Add(-24 * time.Hour)
		n1 := alice.Note(base, "one")
		n2 := alice.Note(base.Add(time.Minute), "two")
		n3 := alice.Note(base.Add(2*time.Minute), "three")
		r.Store(n2, n1, n3, n2)
		r.Store(testrelay.NewAuthor().Note(base, "someone else"))

		engine := fanout.NewEngine(m, fanout.WithLogger(logger.Nop()))
		filter := model.Filter{Authors: []string{alice.PublicKey()}, Kinds: []int{model.KindTextNote}}

		Convey("Then Collect returns each note once, newest first", func() {
			evs, err := engine.Collect(context.Background(), filter, time.Second)
			So(err, ShouldBeNil)
			So(evs, ShouldHaveLength, 3)
			So(evs[0].ID, ShouldEqual, n3.ID)
			So(evs[1].ID, ShouldEqual, n2.ID)
			So(evs[2].ID, ShouldEqual, n1.ID)
		})

		Convey("Then a limit caps the result", func() {
			filter.Limit = 2
			evs, err := engine.Collect(context.Background(), filter, time.Second)
			So(err, ShouldBeNil)
			So(evs, ShouldHaveLength, 2)
			So(evs[0].ID, ShouldEqual, n3.ID)
		})

		Convey("Then the subscription is released", func() {
			_, err := engine.Collect(context.Background(), filter, time.Second)
			So(err, ShouldBeNil)
			So(m.Listeners(), ShouldEqual, 0)
		})
	})

	Convey("Given a manager that is not connected", t, func() {
		m := relay.NewManager("ws://127.0.0.1:1", func(context.Context, model.Event) {}, relay.WithLogger(logger.Nop()))
		engine := fanout.NewEngine(m, fanout.WithLogger(logger.Nop()))

		Convey("Then Collect surfaces ErrNotConnected", func() {
			_, err := engine.Collect(context.Background(), model.Filter{}, 50*time.Millisecond)
			So(errors.Is(err, relay.ErrNotConnected), ShouldBeTrue)
		})

		Convey("Then Query reports every key as not queried rather than absent", func() {
			res := engine.Query(context.Background(), []string{"x", "y"}, latestNote, 50*time.Millisecond)
			So(res, ShouldHaveLength, 2)
			for _, k := range []string{"x", "y"} {
				So(res[k].Found, ShouldBeFalse)
				So(errors.Is(res[k].Err, fanout.ErrInterrupted), ShouldBeTrue)
				So(errors.Is(res[k].Err, relay.ErrNotConnected), ShouldBeTrue)
			}
		})
	})
}
