package config

import (
	"log/slog"
	"strings"
	"testing"
)

type envTestConfig struct {
	Shards int `env:"TEAMSYNC_TEST_SHARDS" envDefault:"4"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Shards != 4 {
		t.Fatalf("expected default shards 4, got %d", cfg.Shards)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("TEAMSYNC_TEST_SHARDS", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestLoadMirrorDefaults(t *testing.T) {
	cfg, err := LoadMirror()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Table != "teamsync_documents" {
		t.Errorf("expected default table, got %q", cfg.Store.Table)
	}
	if cfg.Store.NumShards != 1 || cfg.Store.MaxBatchOps != 100 {
		t.Errorf("unexpected store config: %+v", cfg.Store)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("expected INFO, got %v", cfg.LogLevel)
	}
}

func TestLoadMirrorOverrides(t *testing.T) {
	t.Setenv("TEAMSYNC_TABLE", "docs-prod")
	t.Setenv("TEAMSYNC_NUM_SHARDS", "16")
	t.Setenv("TEAMSYNC_LOG_LEVEL", "debug")

	cfg, err := LoadMirror()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Table != "docs-prod" || cfg.Store.NumShards != 16 {
		t.Errorf("unexpected store config: %+v", cfg.Store)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("expected DEBUG, got %v", cfg.LogLevel)
	}
}
