package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment variables read outside the ASKBOT_ prefix.
const (
	EnvConfigFile = "ASKBOT_CONFIG"
	EnvPublicKey  = "PUBLIC_KEY"
	EnvPrivateKey = "PRIVATE_KEY"

	envPrefix = "ASKBOT_"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. file (YAML) if ASKBOT_CONFIG is set
//  3. env (prefix ASKBOT_)
//
// PUBLIC_KEY and PRIVATE_KEY fill the identity when it is still empty.
// The result is validated.
func Load(ctx context.Context) (*Config, error) {
	base := New(ctx)

	k := koanf.New(".")

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// ASKBOT_QUEUE_SIZE -> queue_size; underscores are kept to match the
	// koanf tags. Keyword lists are comma separated.
	envProvider := env.ProviderWithValue(envPrefix, ".", func(key, value string) (string, any) {
		key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
		if key == "trigger_keywords" {
			return key, splitList(value)
		}
		return key, value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if cfg.PublicKey == "" {
		cfg.PublicKey = strings.TrimSpace(os.Getenv(EnvPublicKey))
	}
	if cfg.PrivateKey == "" {
		cfg.PrivateKey = strings.TrimSpace(os.Getenv(EnvPrivateKey))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
