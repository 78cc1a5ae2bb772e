package asker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/askbot/internal/adapters/relay"
	"github.com/okian/askbot/internal/domain/identity"
	"github.com/okian/askbot/internal/domain/model"
	"github.com/okian/askbot/internal/domain/privmsg"
	"github.com/okian/askbot/pkg/logger"
)

const connectPoll = 20 * time.Millisecond

// Run connects to the relay under a fresh identity, sends the question and
// returns the first answer the bot addresses to that identity.
func Run(ctx context.Context, cfg *Config, log logger.Logger) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	bot, err := identity.DecodePublicKey(cfg.Bot)
	if err != nil {
		return "", fmt.Errorf("%w: bot key: %v", ErrInvalidConfig, err)
	}
	keys, err := identity.GenerateKeys()
	if err != nil {
		return "", fmt.Errorf("generate identity: %w", err)
	}

	log.Info(ctx, "asking",
		logger.String("relay", cfg.RelayURL),
		logger.String("bot", bot),
		logger.String("as", keys.PublicKey()),
		logger.Bool("private", cfg.Private),
	)

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	mgr := relay.NewManager(cfg.RelayURL, func(context.Context, model.Event) {}, relay.WithLogger(log.Named("relay")))
	g, gctx := errgroup.WithContext(ctx)
	relayCtx, stopRelay := context.WithCancel(gctx)
	g.Go(func() error { return mgr.Run(relayCtx) })

	var answer string
	g.Go(func() error {
		defer stopRelay()
		a, err := ask(gctx, mgr, keys, bot, cfg, log)
		answer = a
		return err
	})
	if err := g.Wait(); err != nil {
		return "", err
	}
	return answer, nil
}

func ask(ctx context.Context, mgr *relay.Manager, keys *identity.Keys, bot string, cfg *Config, log logger.Logger) (string, error) {
	if err := waitConnected(ctx, mgr); err != nil {
		return "", err
	}

	question, err := buildQuestion(keys, bot, cfg, time.Now())
	if err != nil {
		return "", err
	}

	kind := model.KindTextNote
	if cfg.Private {
		kind = model.KindEncryptedDM
	}
	sub, err := mgr.Subscribe(ctx, model.Filter{
		Authors: []string{bot},
		Kinds:   []int{kind},
		PTags:   []string{keys.PublicKey()},
		Since:   &question.CreatedAt,
	})
	if err != nil {
		return "", fmt.Errorf("subscribe for answer: %w", err)
	}
	defer sub.Close()

	if err := mgr.Publish(ctx, question); err != nil {
		return "", fmt.Errorf("publish question: %w", err)
	}
	log.Info(ctx, "question sent", logger.String("event_id", question.ID))

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrNoAnswer, ctx.Err())
		case ev, ok := <-sub.Events():
			if !ok {
				return "", fmt.Errorf("%w: relay connection lost", ErrNoAnswer)
			}
			log.Debug(ctx, "candidate answer", logger.String("event_id", ev.ID), logger.Int("kind", ev.Kind))
			if identity.Verify(ev) != nil {
				continue
			}
			if !cfg.Private {
				if ev.Tags.Has(model.TagEvent, question.ID, false) {
					return ev.Content, nil
				}
				continue
			}
			text, err := privmsg.Open(keys.Private(), bot, ev.Content)
			if err != nil {
				return "", fmt.Errorf("%w: %v", ErrUnreadable, err)
			}
			return text, nil
		}
	}
}

// buildQuestion returns the signed question event. Public questions carry
// the keyword both as hashtag and topic tag.
func buildQuestion(keys *identity.Keys, bot string, cfg *Config, at time.Time) (model.Event, error) {
	ev := model.Event{CreatedAt: at.Unix()}
	if cfg.Private {
		sealed, err := privmsg.Seal(keys.Private(), bot, cfg.Question)
		if err != nil {
			return model.Event{}, fmt.Errorf("seal question: %w", err)
		}
		ev.Kind = model.KindEncryptedDM
		ev.Tags = model.Tags{{model.TagPubKey, bot}}
		ev.Content = sealed
	} else {
		ev.Kind = model.KindTextNote
		ev.Tags = model.Tags{{model.TagTopic, cfg.Keyword}}
		ev.Content = "#" + cfg.Keyword + " " + cfg.Question
	}
	if err := keys.Sign(&ev); err != nil {
		return model.Event{}, fmt.Errorf("sign question: %w", err)
	}
	return ev, nil
}

func waitConnected(ctx context.Context, mgr *relay.Manager) error {
	ticker := time.NewTicker(connectPoll)
	defer ticker.Stop()
	for mgr.State() != relay.StateConnected {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: relay never connected", ErrNoAnswer)
		case <-ticker.C:
		}
	}
	return nil
}
