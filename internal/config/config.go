package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`
	// Broker selects the event fan-out: memory, redis or nats.
	Broker struct {
		Kind string `yaml:"kind"`
	} `yaml:"broker"`
	Game struct {
		AnswerBudget      string `yaml:"answer_budget"`
		ChoiceRevealDelay string `yaml:"choice_reveal_delay"`
		TransitionTimeout string `yaml:"transition_timeout"`
		QuestionCacheTTL  string `yaml:"question_cache_ttl"`
		LoadRetries       int    `yaml:"load_retries"`
	} `yaml:"game"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Load reads YAML config from path and applies environment overrides.
// A missing file yields the defaults so the service can run on env alone.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("ANSWER_BUDGET_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return errors.New("ANSWER_BUDGET_MS must be an integer")
		}
		cfg.Game.AnswerBudget = (time.Duration(ms) * time.Millisecond).String()
	}
	if v := os.Getenv("CHOICE_REVEAL_DELAY_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return errors.New("CHOICE_REVEAL_DELAY_MS must be an integer")
		}
		cfg.Game.ChoiceRevealDelay = (time.Duration(ms) * time.Millisecond).String()
	}
	return nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
