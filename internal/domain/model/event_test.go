package model_test

import (
	"encoding/json"
	"testing"
	"time"

	model "github.com/okian/askbot/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestTags(t *testing.T) {
	convey.Convey("Given an event with mixed tags", t, func() {
		tags := model.Tags{
			{"e", "ev1"},
			{"p", "alice"},
			{"t", "AskBot"},
			{"p"},
			{"p", "bob", "wss://relay"},
		}

		convey.Convey("Then Values should keep order and skip short tags", func() {
			convey.So(tags.Values("p"), convey.ShouldResemble, []string{"alice", "bob"})
			convey.So(tags.Values("x"), convey.ShouldBeNil)
		})

		convey.Convey("Then Has should honor case folding only when asked", func() {
			convey.So(tags.Has("t", "askbot", true), convey.ShouldBeTrue)
			convey.So(tags.Has("t", "askbot", false), convey.ShouldBeFalse)
			convey.So(tags.Has("p", "bob", false), convey.ShouldBeTrue)
		})

		convey.Convey("Then Name and Value should be safe on empty tags", func() {
			convey.So(model.Tag{}.Name(), convey.ShouldEqual, "")
			convey.So(model.Tag{"p"}.Value(), convey.ShouldEqual, "")
		})
	})
}

func TestEventWire(t *testing.T) {
	convey.Convey("Given a relay event on the wire", t, func() {
		raw := `{"id":"abc","pubkey":"pk","created_at":1700000000,"kind":1,"tags":[["p","x"]],"content":"hi","sig":"s"}`

		convey.Convey("When decoding it", func() {
			var ev model.Event
			err := json.Unmarshal([]byte(raw), &ev)

			convey.Convey("Then every field should be populated", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(ev.ID, convey.ShouldEqual, "abc")
				convey.So(ev.Kind, convey.ShouldEqual, model.KindTextNote)
				convey.So(ev.Tags.Values("p"), convey.ShouldResemble, []string{"x"})
				convey.So(ev.Time(), convey.ShouldEqual, time.Unix(1700000000, 0).UTC())
			})
		})
	})
}

func TestFilter(t *testing.T) {
	convey.Convey("Given a filter on kind and author", t, func() {
		f := model.Filter{Kinds: []int{model.KindTextNote}, Authors: []string{"alice"}, Limit: 1}
		ev := model.Event{PubKey: "alice", Kind: model.KindTextNote, CreatedAt: 100}

		convey.Convey("Then matching events pass", func() {
			convey.So(f.Matches(ev), convey.ShouldBeTrue)
		})

		convey.Convey("Then other kinds or authors fail", func() {
			other := ev
			other.Kind = model.KindEncryptedDM
			convey.So(f.Matches(other), convey.ShouldBeFalse)
			other = ev
			other.PubKey = "bob"
			convey.So(f.Matches(other), convey.ShouldBeFalse)
		})

		convey.Convey("Then time bounds are inclusive", func() {
			f.Since = model.Unix(time.Unix(100, 0))
			f.Until = model.Unix(time.Unix(100, 0))
			convey.So(f.Matches(ev), convey.ShouldBeTrue)
			ev.CreatedAt = 101
			convey.So(f.Matches(ev), convey.ShouldBeFalse)
		})

		convey.Convey("Then p-tag constraints require a matching tag", func() {
			f.PTags = []string{"bot"}
			convey.So(f.Matches(ev), convey.ShouldBeFalse)
			ev.Tags = model.Tags{{"p", "bot"}}
			convey.So(f.Matches(ev), convey.ShouldBeTrue)
		})

		convey.Convey("Then the wire form omits empty fields", func() {
			b, err := json.Marshal(f)
			convey.So(err, convey.ShouldBeNil)
			convey.So(string(b), convey.ShouldEqual, `{"kinds":[1],"authors":["alice"],"limit":1}`)
		})
	})
}

func TestExchange(t *testing.T) {
	convey.Convey("Given both exchange variants", t, func() {
		ev := model.Event{ID: "id1"}
		var pub model.Exchange = model.PublicNote{Event: ev, Content: "hello"}
		var dm model.Exchange = model.DirectMessage{Event: ev, Content: "secret"}

		convey.Convey("Then only direct messages require private replies", func() {
			convey.So(pub.Private(), convey.ShouldBeFalse)
			convey.So(dm.Private(), convey.ShouldBeTrue)
			convey.So(pub.Source().ID, convey.ShouldEqual, "id1")
			convey.So(dm.Text(), convey.ShouldEqual, "secret")
		})
	})
}
