// Package router decides what, if anything, the bot says in response to an
// inbound event. Classify filters and normalizes the event, Respond produces
// the reply text, and Handle runs both and hands the reply to the emitter.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/okian/askbot/internal/adapters/emitter"
	"github.com/okian/askbot/internal/adapters/llm"
	"github.com/okian/askbot/internal/adapters/lookup"
	"github.com/okian/askbot/internal/domain/identity"
	"github.com/okian/askbot/internal/domain/model"
	"github.com/okian/askbot/internal/domain/privmsg"
	"github.com/okian/askbot/pkg/logger"
	"github.com/okian/askbot/pkg/metrics"
)

// Fixed replies.
const (
	ReplyLookupFailed = "Sorry, I couldn't fetch that from the relay right now. Please try again later."
	ReplyNoAnswer     = "No response generated."
)

// DefaultKeyword triggers the bot when tagged or hashtagged.
const DefaultKeyword = "askyeghro"

// Identity is the bot's own key pair.
type Identity interface {
	PublicKey() string
	Private() *btcec.PrivateKey
}

// Verifier checks event ids and signatures.
type Verifier interface {
	Verify(ev model.Event) error
}

// Lookup answers slash commands.
type Lookup interface {
	Notes(ctx context.Context, pubkey string, r lookup.Range) (lookup.NotesResult, error)
	Images(ctx context.Context, pubkey string, r lookup.Range) (lookup.ImagesResult, error)
	FollowActivity(ctx context.Context, pubkey string) (lookup.ActivityReport, error)
}

// Generator answers free-form text.
type Generator interface {
	Generate(ctx context.Context, msgs []llm.Message) (string, error)
}

// Emitter publishes replies.
type Emitter interface {
	Emit(ctx context.Context, text string, to emitter.Addressing) error
}

// Router classifies inbound events and replies to the relevant ones.
type Router struct {
	self     Identity
	verifier Verifier
	lookup   Lookup
	llm      Generator
	emit     Emitter

	keywords   []string
	maxContent int
	hintURL    string
	clean      sanitizer
	logger     logger.Logger
}

// New creates a Router.
func New(self Identity, verifier Verifier, look Lookup, gen Generator, emit Emitter, opts ...Option) *Router {
	r := &Router{
		self:       self,
		verifier:   verifier,
		lookup:     look,
		llm:        gen,
		emit:       emit,
		keywords:   []string{DefaultKeyword},
		maxContent: DefaultMaxContent,
		logger:     logger.Get().Named("router"),
	}

	// Apply all options
	for _, opt := range opts {
		opt(r)
	}

	r.clean = newSanitizer(r.keywords, r.maxContent)
	return r
}

// Handle processes one inbound event end to end. Dropped events return nil;
// the error is non-nil only when a reply was due but could not be sent.
func (r *Router) Handle(ctx context.Context, ev model.Event) error {
	start := time.Now()
	defer func() {
		metrics.RecordHandleLatency(float64(time.Since(start).Milliseconds()))
	}()

	ex, err := r.Classify(ev)
	if err != nil {
		r.dropped(ctx, ev, err)
		return nil
	}

	text := r.Respond(ctx, ex)
	to := emitter.Addressing{
		InReplyTo: ev.ID,
		Recipient: ev.PubKey,
		Private:   ex.Private(),
	}
	if err := r.emit.Emit(ctx, text, to); err != nil {
		metrics.RecordEventHandled("reply_failed")
		r.logger.Error(ctx, "reply not sent",
			logger.String("event_id", ev.ID),
			logger.String("stage", "emit"),
			logger.Error(err))
		return fmt.Errorf("reply to %s: %w", ev.ID, err)
	}

	metrics.RecordEventHandled("replied")
	r.logger.Debug(ctx, "replied",
		logger.String("event_id", ev.ID),
		logger.Bool("private", ex.Private()))
	return nil
}

// Classify filters an inbound event and returns its normalized content.
func (r *Router) Classify(ev model.Event) (model.Exchange, error) {
	if ev.PubKey == r.self.PublicKey() {
		return nil, ErrSelf
	}
	if ev.Kind == 0 || ev.Tags == nil {
		return nil, fmt.Errorf("%w: kind %d", ErrMalformed, ev.Kind)
	}
	if err := r.verifier.Verify(ev); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if !r.relevant(ev) {
		return nil, ErrIrrelevant
	}

	content := ev.Content
	if ev.Kind == model.KindEncryptedDM {
		pt, err := privmsg.Open(r.self.Private(), ev.PubKey, ev.Content)
		if err != nil {
			return nil, err
		}
		content = pt
	}

	text, ok := r.clean.clean(content)
	if !ok {
		return nil, ErrEmpty
	}

	if ev.Kind == model.KindEncryptedDM {
		return model.DirectMessage{Event: ev, Content: text}, nil
	}
	return model.PublicNote{Event: ev, Content: text}, nil
}

func (r *Router) relevant(ev model.Event) bool {
	if ev.Tags.Has("p", r.self.PublicKey(), false) {
		return true
	}
	for _, t := range ev.Tags.Values("t") {
		if r.clean.isKeyword(t) {
			return true
		}
	}
	return ev.Kind != model.KindEncryptedDM && r.clean.mentions(ev.Content)
}

// Respond produces the reply text for a classified event. It always returns
// something to say.
func (r *Router) Respond(ctx context.Context, ex model.Exchange) string {
	id := ex.Source().ID
	cmd, found, err := parseCommand(ex.Text())
	if found {
		metrics.RecordCommand(cmd.name)
		if err != nil {
			return r.rejected(ctx, id, cmd, err)
		}
		return r.run(ctx, id, cmd)
	}

	if r.hintURL != "" && asksAboutInactive(ex.Text()) {
		metrics.RecordCommand("hint")
		return fmt.Sprintf("You can check your follow list for inactive accounts here: %s\n"+
			"Or ask me directly: /checkfollowlist \"<your npub>\"", r.hintURL)
	}

	answer, err := r.llm.Generate(ctx, []llm.Message{{Role: "user", Content: ex.Text()}})
	if err != nil {
		r.logger.Warn(ctx, "no answer generated",
			logger.String("event_id", id),
			logger.String("stage", "generate"),
			logger.Error(err))
		return ReplyNoAnswer
	}
	return answer
}

func (r *Router) run(ctx context.Context, id string, cmd command) string {
	var (
		text string
		err  error
	)
	switch cmd.name {
	case CommandNotes:
		var res lookup.NotesResult
		if res, err = r.lookup.Notes(ctx, cmd.pubkey, cmd.span); err == nil {
			text = res.Format()
		}
	case CommandImages:
		var res lookup.ImagesResult
		if res, err = r.lookup.Images(ctx, cmd.pubkey, cmd.span); err == nil {
			text = res.Format()
		}
	case CommandFollows:
		var res lookup.ActivityReport
		if res, err = r.lookup.FollowActivity(ctx, cmd.pubkey); err == nil {
			text = res.Format()
		}
	}
	if err != nil {
		r.logger.Warn(ctx, "lookup failed",
			logger.String("event_id", id),
			logger.String("stage", "lookup"),
			logger.String("command", cmd.name),
			logger.Error(err))
		return ReplyLookupFailed
	}
	return text
}

func (r *Router) rejected(ctx context.Context, id string, cmd command, err error) string {
	r.logger.Debug(ctx, "command rejected",
		logger.String("event_id", id),
		logger.String("stage", "parse"),
		logger.String("command", cmd.name),
		logger.Error(err))
	if errors.Is(err, identity.ErrInvalidIdentifier) {
		return fmt.Sprintf("%q is not a valid public key. Use the hex form or an npub.\n%s", cmd.raw, usage(cmd.name))
	}
	return usage(cmd.name)
}

func (r *Router) dropped(ctx context.Context, ev model.Event, err error) {
	fields := []logger.Field{
		logger.String("event_id", ev.ID),
		logger.String("stage", "classify"),
		logger.Error(err),
	}
	switch {
	case errors.Is(err, ErrSelf):
		metrics.RecordEventHandled("self")
		r.logger.Debug(ctx, "ignoring own event", fields...)
	case errors.Is(err, ErrIrrelevant):
		metrics.RecordEventHandled("irrelevant")
	case errors.Is(err, ErrEmpty):
		metrics.RecordEventHandled("empty")
		r.logger.Debug(ctx, "nothing to answer", fields...)
	case errors.Is(err, ErrMalformed):
		metrics.RecordEventHandled("malformed")
		r.logger.Warn(ctx, "dropping malformed event", fields...)
	default:
		metrics.RecordEventHandled("decrypt_failed")
		metrics.RecordDecryptError()
		r.logger.Warn(ctx, "cannot open direct message", fields...)
	}
}

func asksAboutInactive(text string) bool {
	t := strings.ToLower(text)
	if !strings.Contains(t, "inactive") {
		return false
	}
	return strings.Contains(t, "accounts") || strings.Contains(t, "users")
}
