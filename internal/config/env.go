// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"

	"github.com/jacentio/teamsync/store"
)

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Mirror configures the cron mirror Lambda.
type Mirror struct {
	Store store.Config

	// LogLevel is the minimum level of emitted logs.
	LogLevel slog.Level `env:"TEAMSYNC_LOG_LEVEL" envDefault:"INFO"`
}

// LoadMirror reads the cron mirror configuration from the environment.
func LoadMirror() (Mirror, error) {
	var cfg Mirror
	if err := ParseEnv(&cfg); err != nil {
		return Mirror{}, err
	}
	return cfg, nil
}
