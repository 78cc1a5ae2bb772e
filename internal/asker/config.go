// Package asker sends one question to a running bot and waits for its answer.
package asker

import (
	"fmt"
	"strings"
	"time"
)

// Config holds the settings for one question.
type Config struct {
	RelayURL string        // Relay both sides are connected to
	Bot      string        // Bot public key, hex or npub
	Question string        // Text to ask
	Keyword  string        // Trigger hashtag for public questions
	Private  bool          // Ask by encrypted direct message
	Timeout  time.Duration // How long to wait for the answer
}

// Validate checks that a question can be sent.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.RelayURL, "ws://") && !strings.HasPrefix(c.RelayURL, "wss://") {
		return fmt.Errorf("%w: relay url must be ws:// or wss://", ErrInvalidConfig)
	}
	if c.Bot == "" {
		return fmt.Errorf("%w: bot public key is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Question) == "" {
		return fmt.Errorf("%w: question is empty", ErrInvalidConfig)
	}
	if !c.Private && c.Keyword == "" {
		return fmt.Errorf("%w: public questions need a keyword", ErrInvalidConfig)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}
	return nil
}
