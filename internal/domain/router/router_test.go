package router_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/askbot/internal/adapters/emitter"
	"github.com/okian/askbot/internal/adapters/llm"
	"github.com/okian/askbot/internal/adapters/lookup"
	"github.com/okian/askbot/internal/domain/identity"
	"github.com/okian/askbot/internal/domain/model"
	"github.com/okian/askbot/internal/domain/privmsg"
	"github.com/okian/askbot/internal/domain/router"
	"github.com/okian/askbot/internal/testrelay"
	"github.com/okian/askbot/pkg/logger"
)

type notesCall struct {
	pubkey string
	span   lookup.Range
}

type fakeLookup struct {
	mu      sync.Mutex
	notes   []notesCall
	images  []notesCall
	follows []string
	err     error
}

func (f *fakeLookup) Notes(_ context.Context, pk string, r lookup.Range) (lookup.NotesResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, notesCall{pk, r})
	return lookup.NotesResult{PubKey: pk}, f.err
}

func (f *fakeLookup) Images(_ context.Context, pk string, r lookup.Range) (lookup.ImagesResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = append(f.images, notesCall{pk, r})
	return lookup.ImagesResult{PubKey: pk}, f.err
}

func (f *fakeLookup) FollowActivity(_ context.Context, pk string) (lookup.ActivityReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.follows = append(f.follows, pk)
	return lookup.ActivityReport{PubKey: pk}, f.err
}

type fakeLLM struct {
	prompts []string
	answer  string
	err     error
}

func (f *fakeLLM) Generate(_ context.Context, msgs []llm.Message) (string, error) {
	f.prompts = append(f.prompts, msgs[len(msgs)-1].Content)
	return f.answer, f.err
}

type sent struct {
	text string
	to   emitter.Addressing
}

type fakeEmitter struct {
	out []sent
	err error
}

func (f *fakeEmitter) Emit(_ context.Context, text string, to emitter.Addressing) error {
	if f.err != nil {
		return f.err
	}
	f.out = append(f.out, sent{text, to})
	return nil
}

type fixture struct {
	bot    *identity.Keys
	user   testrelay.Author
	look   *fakeLookup
	gen    *fakeLLM
	emit   *fakeEmitter
	router *router.Router
}

func newFixture(t *testing.T, opts ...router.Option) *fixture {
	t.Helper()
	bot, err := identity.GenerateKeys()
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	f := &fixture{
		bot:  bot,
		user: testrelay.NewAuthor(),
		look: &fakeLookup{},
		gen:  &fakeLLM{answer: "42"},
		emit: &fakeEmitter{},
	}
	f.router = router.New(bot, identity.Verifier{}, f.look, f.gen, f.emit,
		append([]router.Option{router.WithLogger(logger.Nop())}, opts...)...)
	return f
}

func (f *fixture) mention(content string) model.Event {
	return f.user.Note(time.Now(), content, model.Tag{"p", f.bot.PublicKey()})
}

func TestClassify(t *testing.T) {
	Convey("Given a router", t, func() {
		f := newFixture(t)

		Convey("Then its own events are dropped", func() {
			self := testrelay.Author{Keys: f.bot}
			_, err := f.router.Classify(self.Note(time.Now(), "#askyeghro hi"))
			So(errors.Is(err, router.ErrSelf), ShouldBeTrue)
		})

		Convey("Then malformed events are dropped", func() {
			ev := f.mention("hello")
			noKind := ev
			noKind.Kind = 0
			_, err := f.router.Classify(noKind)
			So(errors.Is(err, router.ErrMalformed), ShouldBeTrue)

			noTags := ev
			noTags.Tags = nil
			_, err = f.router.Classify(noTags)
			So(errors.Is(err, router.ErrMalformed), ShouldBeTrue)

			forged := ev
			forged.Content = "changed after signing"
			_, err = f.router.Classify(forged)
			So(errors.Is(err, router.ErrMalformed), ShouldBeTrue)
		})

		Convey("Then events that do not involve the bot are irrelevant", func() {
			_, err := f.router.Classify(f.user.Note(time.Now(), "just chatting"))
			So(errors.Is(err, router.ErrIrrelevant), ShouldBeTrue)

			other := testrelay.NewAuthor()
			dm := f.user.DM(time.Now(), other.PublicKey(), "not for the bot")
			_, err = f.router.Classify(dm)
			So(errors.Is(err, router.ErrIrrelevant), ShouldBeTrue)
		})

		Convey("Then a p-tag, a t-tag or a hashtag makes an event relevant", func() {
			ex, err := f.router.Classify(f.mention("what is nostr?"))
			So(err, ShouldBeNil)
			So(ex.Text(), ShouldEqual, "what is nostr?")
			So(ex.Private(), ShouldBeFalse)

			ex, err = f.router.Classify(f.user.Note(time.Now(), "tagged question", model.Tag{"t", "AskYeghro"}))
			So(err, ShouldBeNil)
			So(ex.Text(), ShouldEqual, "tagged question")

			ex, err = f.router.Classify(f.user.Note(time.Now(), "#ASKYEGHRO how are relays run?"))
			So(err, ShouldBeNil)
			So(ex.Text(), ShouldEqual, "how are relays run?")
		})

		Convey("Then a keyword-only message is dropped", func() {
			_, err := f.router.Classify(f.user.Note(time.Now(), "  #askyeghro "))
			So(errors.Is(err, router.ErrEmpty), ShouldBeTrue)
		})

		Convey("Then a direct message is opened", func() {
			ex, err := f.router.Classify(f.user.DM(time.Now(), f.bot.PublicKey(), "secret question"))
			So(err, ShouldBeNil)
			So(ex.Private(), ShouldBeTrue)
			So(ex.Text(), ShouldEqual, "secret question")
		})

		Convey("Then a direct message that cannot be opened is dropped", func() {
			ev := f.user.DM(time.Now(), f.bot.PublicKey(), "x")
			ev.Content = "garbage"
			if err := f.user.Sign(&ev); err != nil {
				t.Fatal(err)
			}
			_, err := f.router.Classify(ev)
			So(errors.Is(err, privmsg.ErrMalformedEnvelope), ShouldBeTrue)
		})

		Convey("Then control characters are stripped and content is capped", func() {
			capped := newFixture(t, router.WithMaxContent(10))
			ex, err := capped.router.Classify(capped.mention("a\x00b\x07c\nd\te" + strings.Repeat("z", 50)))
			So(err, ShouldBeNil)
			So(ex.Text(), ShouldEqual, "abc\nd\tezzz")
		})
	})
}

func TestHandleGetNotes(t *testing.T) {
	Convey("Given a mention carrying a GetNotes command with a date range", t, func() {
		f := newFixture(t)
		ev := f.mention(`/GetNotes "abc123" "2024-01-01" "2024-06-01"`)

		So(f.router.Handle(context.Background(), ev), ShouldBeNil)

		Convey("Then the notes lookup runs with the key and both bounds", func() {
			So(f.look.notes, ShouldHaveLength, 1)
			call := f.look.notes[0]
			So(call.pubkey, ShouldEqual, "abc123")
			So(call.span.Since.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)), ShouldBeTrue)
			So(call.span.Until.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)), ShouldBeTrue)
		})

		Convey("Then the formatted result is sent publicly in reply", func() {
			So(f.emit.out, ShouldHaveLength, 1)
			So(f.emit.out[0].text, ShouldEqual, "No notes found for abc123.")
			So(f.emit.out[0].to, ShouldResemble, emitter.Addressing{
				InReplyTo: ev.ID,
				Recipient: f.user.PublicKey(),
			})
			So(f.gen.prompts, ShouldBeEmpty)
		})
	})
}

func TestRespond(t *testing.T) {
	Convey("Given a router", t, func() {
		f := newFixture(t, router.WithHintURL("https://example.org/inactive"))
		respond := func(text string) string {
			return f.router.Respond(context.Background(), model.PublicNote{Content: text})
		}

		Convey("Then commands accept curly quotes and prefixed identifiers", func() {
			user := f.user.PublicKey()
			respond("/getimages “nostr:" + user + "”")
			respond("/CheckFollowList \"@" + user + "\"")
			So(f.look.images, ShouldHaveLength, 1)
			So(f.look.images[0].pubkey, ShouldEqual, user)
			So(f.look.follows, ShouldResemble, []string{user})
		})

		Convey("Then an invalid identifier is explained", func() {
			out := respond(`/GetNotes "not-a-key"`)
			So(out, ShouldStartWith, `"not-a-key" is not a valid public key`)
			So(f.look.notes, ShouldBeEmpty)
		})

		Convey("Then malformed commands get usage", func() {
			So(respond("/GetNotes"), ShouldStartWith, "Usage: /GetNotes")
			So(respond(`/GetNotes "abc123" "yesterday"`), ShouldStartWith, "Usage: /GetNotes")
			So(respond(`/checkfollowlist "abc123" "2024-01-01"`), ShouldStartWith, "Usage: /checkfollowlist")
			So(respond(`/GetImages "abc123" "2024-06-01" "2024-01-01"`), ShouldStartWith, "Usage: /GetImages")
			So(f.look.notes, ShouldBeEmpty)
			So(f.look.images, ShouldBeEmpty)
		})

		Convey("Then a lookup failure yields the apology", func() {
			f.look.err = lookup.ErrUnavailable
			So(respond(`/checkfollowlist "abc123"`), ShouldEqual, router.ReplyLookupFailed)
		})

		Convey("Then questions about inactive accounts get the hint", func() {
			out := respond("how do I find inactive users I follow?")
			So(out, ShouldContainSubstring, "https://example.org/inactive")
			So(f.gen.prompts, ShouldBeEmpty)
		})

		Convey("Then everything else goes to the model", func() {
			So(respond("what is a relay?"), ShouldEqual, "42")
			So(f.gen.prompts, ShouldResemble, []string{"what is a relay?"})
		})

		Convey("Then a model failure yields the fallback", func() {
			f.gen.err = llm.ErrUnavailable
			So(respond("what is a relay?"), ShouldEqual, router.ReplyNoAnswer)
		})
	})
}

func TestHandle(t *testing.T) {
	Convey("Given a router", t, func() {
		f := newFixture(t)
		ctx := context.Background()

		Convey("When a direct message arrives", func() {
			ev := f.user.DM(time.Now(), f.bot.PublicKey(), "hello bot")
			So(f.router.Handle(ctx, ev), ShouldBeNil)

			Convey("Then the reply is private and addressed to the sender", func() {
				So(f.emit.out, ShouldHaveLength, 1)
				So(f.emit.out[0].to, ShouldResemble, emitter.Addressing{
					InReplyTo: ev.ID,
					Recipient: f.user.PublicKey(),
					Private:   true,
				})
				So(f.gen.prompts, ShouldResemble, []string{"hello bot"})
			})
		})

		Convey("When an event is dropped", func() {
			So(f.router.Handle(ctx, f.user.Note(time.Now(), "unrelated")), ShouldBeNil)

			Convey("Then nothing is sent", func() {
				So(f.emit.out, ShouldBeEmpty)
				So(f.gen.prompts, ShouldBeEmpty)
			})
		})

		Convey("When the reply cannot be published", func() {
			f.emit.err = errors.New("relay down")
			err := f.router.Handle(ctx, f.mention("anyone there?"))

			Convey("Then the failure is returned", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "relay down")
			})
		})
	})
}
