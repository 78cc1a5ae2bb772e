// Package config defines the bot's configuration and how it is loaded.
package config

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/okian/askbot/internal/domain/identity"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat is "text" or "json".
	LogFormat string `koanf:"log_format"`

	// Addr configures the ops HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// RelayURL is the websocket endpoint of the relay.
	RelayURL string `koanf:"relay_url"`

	// PublicKey and PrivateKey are the bot identity (hex, npub, nsec).
	PublicKey  string `koanf:"public_key"`
	PrivateKey string `koanf:"private_key"`

	// TriggerKeywords make a note relevant when tagged or hashtagged.
	TriggerKeywords []string `koanf:"trigger_keywords"`

	// Reconnect backoff bounds.
	ReconnectBaseMS int `koanf:"reconnect_base_ms"`
	ReconnectCapMS  int `koanf:"reconnect_cap_ms"`

	// CutoverGraceS is how far before connect time the standing subscription starts.
	CutoverGraceS int `koanf:"cutover_grace_s"`

	// ReqRatePerSec limits outgoing subscription requests.
	ReqRatePerSec int `koanf:"req_rate_per_sec"`

	// Fan-out settings.
	FanoutBatchSize    int `koanf:"fanout_batch_size"`
	FanoutMaxListeners int `koanf:"fanout_max_listeners"`
	FanoutWindowMS     int `koanf:"fanout_window_ms"`
	CollectWindowMS    int `koanf:"collect_window_ms"`

	// StaleAfterDays is the follow-list activity horizon.
	StaleAfterDays int `koanf:"stale_after_days"`

	// MaxContentLength caps inbound content, in characters.
	MaxContentLength int `koanf:"max_content_length"`

	// Conversational backend.
	LLMURL       string `koanf:"llm_url"`
	LLMModel     string `koanf:"llm_model"`
	LLMTimeoutMS int    `koanf:"llm_timeout_ms"`

	// NoteURLPrefix is prepended to event ids in image replies.
	NoteURLPrefix string `koanf:"note_url_prefix"`

	// HintURL is offered to users asking about inactive accounts. Empty disables the hint.
	HintURL string `koanf:"hint_url"`

	// Inbound pipeline sizing.
	WorkerCount    int `koanf:"worker_count"`
	EventQueueSize int `koanf:"queue_size"`
	DedupeSize     int `koanf:"dedupe_size"`
}

// New creates a Config with defaults. The identity is left empty.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:           "info",
		LogFormat:          "text",
		Addr:               ":9080",
		RelayURL:           "wss://relay.primal.net",
		TriggerKeywords:    []string{"askyeghro"},
		ReconnectBaseMS:    1000,
		ReconnectCapMS:     30_000,
		CutoverGraceS:      5,
		ReqRatePerSec:      20,
		FanoutBatchSize:    50,
		FanoutMaxListeners: 50,
		FanoutWindowMS:     5000,
		CollectWindowMS:    5000,
		StaleAfterDays:     180,
		MaxContentLength:   64_000,
		LLMURL:             "http://localhost:11434/api/chat",
		LLMModel:           "hAiVbot:latest",
		LLMTimeoutMS:       120_000,
		NoteURLPrefix:      "https://primal.net/e/",
		HintURL:            "https://yeghro.site/nostr-inactive-users-checker",
		WorkerCount:        4,
		EventQueueSize:     1024,
		DedupeSize:         50_000,
	}
}

// Validate checks required settings and that the keys belong together.
func (c *Config) Validate() error {
	if c.PublicKey == "" || c.PrivateKey == "" {
		return ErrMissingIdentity
	}
	if _, err := c.Keys(); err != nil {
		return err
	}

	u, err := url.Parse(c.RelayURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("%w: relay_url %q must be a ws:// or wss:// url", ErrInvalidConfig, c.RelayURL)
	}
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if c.LLMURL == "" {
		return fmt.Errorf("%w: llm_url must not be empty", ErrInvalidConfig)
	}

	positive := map[string]int{
		"reconnect_base_ms":    c.ReconnectBaseMS,
		"reconnect_cap_ms":     c.ReconnectCapMS,
		"req_rate_per_sec":     c.ReqRatePerSec,
		"fanout_batch_size":    c.FanoutBatchSize,
		"fanout_max_listeners": c.FanoutMaxListeners,
		"fanout_window_ms":     c.FanoutWindowMS,
		"collect_window_ms":    c.CollectWindowMS,
		"stale_after_days":     c.StaleAfterDays,
		"max_content_length":   c.MaxContentLength,
		"llm_timeout_ms":       c.LLMTimeoutMS,
		"worker_count":         c.WorkerCount,
		"queue_size":           c.EventQueueSize,
		"dedupe_size":          c.DedupeSize,
	}
	for name, v := range positive {
		if v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, name, v)
		}
	}
	if c.CutoverGraceS < 0 {
		return fmt.Errorf("%w: cutover_grace_s must not be negative", ErrInvalidConfig)
	}
	if c.ReconnectCapMS < c.ReconnectBaseMS {
		return fmt.Errorf("%w: reconnect_cap_ms is below reconnect_base_ms", ErrInvalidConfig)
	}
	return nil
}

// Keys loads the identity and checks the private key derives the public one.
func (c *Config) Keys() (*identity.Keys, error) {
	keys, err := identity.NewKeys(c.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: private_key: %w", ErrInvalidConfig, err)
	}
	pub, err := identity.DecodePublicKey(c.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: public_key: %w", ErrInvalidConfig, err)
	}
	if pub != keys.PublicKey() {
		return nil, fmt.Errorf("%w: private_key does not match public_key", ErrInvalidConfig)
	}
	return keys, nil
}

// ms converts a millisecond setting.
func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// ReconnectBase is the first reconnect delay.
func (c *Config) ReconnectBase() time.Duration { return ms(c.ReconnectBaseMS) }

// ReconnectCap is the largest reconnect delay.
func (c *Config) ReconnectCap() time.Duration { return ms(c.ReconnectCapMS) }

// CutoverGrace is the standing subscription's look-back.
func (c *Config) CutoverGrace() time.Duration { return time.Duration(c.CutoverGraceS) * time.Second }

// FanoutWindow bounds each fan-out batch.
func (c *Config) FanoutWindow() time.Duration { return ms(c.FanoutWindowMS) }

// CollectWindow bounds a single collect.
func (c *Config) CollectWindow() time.Duration { return ms(c.CollectWindowMS) }

// StaleAfter is the follow-list activity horizon.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterDays) * 24 * time.Hour
}

// LLMTimeout bounds one conversational request.
func (c *Config) LLMTimeout() time.Duration { return ms(c.LLMTimeoutMS) }
