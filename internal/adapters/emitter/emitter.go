// Package emitter turns reply text into a signed event and publishes it.
package emitter

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/okian/askbot/internal/domain/model"
	"github.com/okian/askbot/internal/domain/privmsg"
	"github.com/okian/askbot/pkg/logger"
	"github.com/okian/askbot/pkg/metrics"
)

// Signer is the bot identity.
type Signer interface {
	PublicKey() string
	Private() *btcec.PrivateKey
	Sign(ev *model.Event) error
}

// Publisher transmits signed events.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

// Addressing says where a reply goes and whether it is private.
type Addressing struct {
	InReplyTo string
	Recipient string
	Private   bool
}

// Emitter builds, signs and publishes replies.
type Emitter struct {
	signer    Signer
	publisher Publisher
	now       func() time.Time
	logger    logger.Logger
}

// Option applies a configuration option to the Emitter.
type Option func(*Emitter)

// WithClock overrides the created_at time source.
func WithClock(now func() time.Time) Option {
	return func(e *Emitter) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Emitter) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an emitter.
func New(signer Signer, publisher Publisher, opts ...Option) *Emitter {
	e := &Emitter{
		signer:    signer,
		publisher: publisher,
		now:       time.Now,
		logger:    logger.Get().Named("emitter"),
	}

	// Apply all options
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Build returns the signed reply event without sending it. Public replies
// are kind 1 tagged with the source event and the recipient; private ones
// are kind 4 tagged with the recipient only, content sealed for them.
func (e *Emitter) Build(text string, to Addressing) (model.Event, error) {
	ev := model.Event{
		CreatedAt: e.now().Unix(),
		Kind:      model.KindTextNote,
		Content:   text,
	}
	if to.Private {
		sealed, err := privmsg.Seal(e.signer.Private(), to.Recipient, text)
		if err != nil {
			return model.Event{}, fmt.Errorf("%w: seal: %v", ErrSignFailure, err)
		}
		ev.Kind = model.KindEncryptedDM
		ev.Tags = model.Tags{{model.TagPubKey, to.Recipient}}
		ev.Content = sealed
	} else {
		ev.Tags = model.Tags{
			{model.TagEvent, to.InReplyTo},
			{model.TagPubKey, to.Recipient},
		}
	}

	if err := e.signer.Sign(&ev); err != nil {
		return model.Event{}, fmt.Errorf("%w: %v", ErrSignFailure, err)
	}
	return ev, nil
}

// Emit builds the reply and publishes it. It fails fast when the relay is
// not connected.
func (e *Emitter) Emit(ctx context.Context, text string, to Addressing) error {
	ev, err := e.Build(text, to)
	if err != nil {
		metrics.RecordReplyFailed("sign")
		return err
	}
	if err := e.publisher.Publish(ctx, ev); err != nil {
		metrics.RecordReplyFailed("publish")
		return fmt.Errorf("publish reply: %w", err)
	}

	kind := "public"
	if to.Private {
		kind = "private"
	}
	metrics.RecordReplySent(kind)
	e.logger.Debug(ctx, "reply sent",
		logger.String("event_id", ev.ID),
		logger.String("in_reply_to", to.InReplyTo),
		logger.String("kind", kind),
	)
	return nil
}
