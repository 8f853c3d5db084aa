package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: "9090"
broker:
  kind: redis
game:
  answer_budget: 20s
  load_retries: 3
log:
  level: info
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ANSWER_BUDGET_MS", "15000")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Broker.Kind != "redis" || cfg.Game.LoadRetries != 3 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if got := TTLDuration(cfg.Game.AnswerBudget, 0); got != 15*time.Second {
		t.Fatalf("expected env budget 15s, got %s", got)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected env log level, got %q", cfg.Log.Level)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("PORT", "7070")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Fatalf("expected env port, got %q", cfg.Server.Port)
	}
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv("CHOICE_REVEAL_DELAY_MS", "soon")
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for non-numeric delay")
	}
}

func TestTTLDurationFallback(t *testing.T) {
	if got := TTLDuration("", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback, got %s", got)
	}
	if got := TTLDuration("nonsense", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback for bad input, got %s", got)
	}
	if got := TTLDuration("90s", time.Minute); got != 90*time.Second {
		t.Fatalf("expected 90s, got %s", got)
	}
}
