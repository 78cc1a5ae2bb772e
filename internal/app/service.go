// Package service assembles the bot: it owns every component, connects them
// in dependency order, and exposes the health and stats views used by the
// ops HTTP server.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/askbot/internal/adapters/emitter"
	"github.com/okian/askbot/internal/adapters/fanout"
	"github.com/okian/askbot/internal/adapters/llm"
	"github.com/okian/askbot/internal/adapters/lookup"
	eventqueue "github.com/okian/askbot/internal/adapters/mq/queue"
	workerpool "github.com/okian/askbot/internal/adapters/mq/worker"
	"github.com/okian/askbot/internal/adapters/relay"
	"github.com/okian/askbot/internal/config"
	"github.com/okian/askbot/internal/domain/dedupe"
	"github.com/okian/askbot/internal/domain/identity"
	"github.com/okian/askbot/internal/domain/model"
	"github.com/okian/askbot/internal/domain/router"
	"github.com/okian/askbot/pkg/logger"
	"github.com/okian/askbot/pkg/metrics"
)

// Service runs the relay connection, the inbound pipeline and the reply path.
type Service struct {
	mu sync.RWMutex

	// Core components
	keys    *identity.Keys
	deduper dedupe.Deduper
	queue   *eventqueue.InMemoryQueue
	relay   *relay.Manager
	fanout  *fanout.Engine
	lookup  *lookup.Service
	emitter *emitter.Emitter
	router  *router.Router
	pool    *workerpool.Pool

	generator router.Generator
	verifier  identity.Verifier

	// State
	started bool
	cancel  context.CancelFunc
	runDone chan struct{}

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithGenerator replaces the conversational backend built from config.
func WithGenerator(g router.Generator) Option {
	return func(s *Service) {
		s.generator = g
	}
}

// New builds every component from cfg. Nothing runs until Start.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		logger: logger.Get().Named("service"),
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}

	keys, err := cfg.Keys()
	if err != nil {
		return nil, err
	}
	s.keys = keys

	s.deduper, err = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(cfg.DedupeSize))
	if err != nil {
		return nil, fmt.Errorf("dedupe: %w", err)
	}

	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(cfg.EventQueueSize))

	s.relay = relay.NewManager(cfg.RelayURL, s.accept,
		relay.WithLogger(s.logger.Named("relay")),
		relay.WithBackoff(cfg.ReconnectBase(), cfg.ReconnectCap()),
		relay.WithCutoverGrace(cfg.CutoverGrace()),
		relay.WithRequestRate(float64(cfg.ReqRatePerSec), cfg.ReqRatePerSec),
	)

	s.fanout = fanout.NewEngine(s.relay,
		fanout.WithBatchSize(cfg.FanoutBatchSize),
		fanout.WithMaxListeners(cfg.FanoutMaxListeners),
		fanout.WithWindow(cfg.FanoutWindow()),
		fanout.WithLogger(s.logger.Named("fanout")),
	)

	s.lookup = lookup.NewService(s.fanout,
		lookup.WithCollectWindow(cfg.CollectWindow()),
		lookup.WithQueryWindow(cfg.FanoutWindow()),
		lookup.WithStaleAfter(cfg.StaleAfter()),
		lookup.WithNoteURLPrefix(cfg.NoteURLPrefix),
		lookup.WithLogger(s.logger.Named("lookup")),
	)

	if s.generator == nil {
		s.generator = llm.NewClient(cfg.LLMURL,
			llm.WithModel(cfg.LLMModel),
			llm.WithTimeout(cfg.LLMTimeout()),
			llm.WithLogger(s.logger.Named("llm")),
		)
	}

	s.emitter = emitter.New(keys, s.relay, emitter.WithLogger(s.logger.Named("emitter")))

	s.router = router.New(keys, s.verifier, s.lookup, s.generator, s.emitter,
		router.WithKeywords(cfg.TriggerKeywords...),
		router.WithMaxContent(cfg.MaxContentLength),
		router.WithHintURL(cfg.HintURL),
		router.WithLogger(s.logger.Named("router")),
	)

	s.pool = workerpool.NewPool(cfg.WorkerCount, s.queue, s.router,
		workerpool.WithLogger(s.logger.Named("worker")),
	)

	return s, nil
}

// accept is the relay's inbound handler. It runs on the reader goroutine,
// so it only filters forgeries and duplicates and hands the event to the
// queue. Ids are recorded only once the signature checks out, so a forged
// copy cannot shadow the genuine event.
func (s *Service) accept(ctx context.Context, ev model.Event) {
	if err := s.verifier.Verify(ev); err != nil {
		metrics.RecordEventHandled("malformed")
		s.logger.Debug(ctx, "inbound event rejected",
			logger.String("event_id", ev.ID),
			logger.String("stage", "verify"),
			logger.Error(err))
		return
	}
	if s.deduper.SeenAndRecord(ctx, ev.ID) {
		metrics.RecordEventDuplicate()
		return
	}
	if err := s.queue.Enqueue(ctx, ev); err != nil {
		// Forget it so a redelivery gets another chance.
		s.deduper.Unrecord(ctx, ev.ID)
		s.logger.Warn(ctx, "inbound event dropped",
			logger.String("event_id", ev.ID),
			logger.String("stage", "enqueue"),
			logger.Error(err))
	}
}

// Start launches the workers and the relay connection.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting bot",
		logger.String("pubkey", s.keys.PublicKey()),
		logger.Int("workers", s.pool.Size()),
		logger.Int("queue_size", s.queue.Cap()),
	)

	s.pool.Start(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.runDone = make(chan struct{})
	go func() {
		defer close(s.runDone)
		if err := s.relay.Run(runCtx); err != nil {
			s.logger.Error(runCtx, "relay manager stopped", logger.Error(err))
		}
	}()

	s.started = true
	return nil
}

// Stop closes the relay connection and drains the workers.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.logger.Info(ctx, "stopping bot...")

	s.cancel()
	select {
	case <-s.runDone:
	case <-ctx.Done():
	}

	var errs []error
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	s.started = false
	s.logger.Info(ctx, "bot stopped")
	return errors.Join(errs...)
}

// PublicKey is the bot's hex public key.
func (s *Service) PublicKey() string { return s.keys.PublicKey() }

// Relay exposes the connection manager's status.
func (s *Service) Relay() relay.Status { return s.relay.Status() }

// Healthy reports whether the relay connection is up.
func (s *Service) Healthy() (bool, map[string]any) {
	st := s.relay.Status()
	return s.relay.State() == relay.StateConnected, map[string]any{
		"relay":             st.State,
		"reconnect_attempt": st.Attempt,
	}
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.relay.Status()
	counters := s.pool.Counters()
	stats := map[string]any{
		"started":           s.started,
		"pubkey":            s.keys.PublicKey(),
		"relay_state":       st.State,
		"reconnect_attempt": st.Attempt,
		"listeners":         st.Listeners,
		"cutover":           st.Cutover.UTC().Format(time.RFC3339),
		"worker_count":      s.pool.Size(),
		"queue_length":      s.queue.Len(),
		"queue_capacity":    s.queue.Cap(),
		"dedupe_size":       s.deduper.Size(),
		"handled":           counters.Processed(),
		"failed":            counters.Failed(),
	}

	metrics.UpdateQueueSize(s.queue.Len())
	return stats
}
