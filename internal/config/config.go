package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries process configuration. Values come from an optional YAML
// file named by CONFIG_FILE, then environment variables override file values,
// so container deployments can tweak a single knob without shipping a file.
type Config struct {
	ListenAddr  string `yaml:"listenAddr"`
	DatabaseURL string `yaml:"databaseURL"`
	RedisURL    string `yaml:"redisURL"`
	AuthMode    string `yaml:"authMode"`

	Solver SolverConfig `yaml:"solver"`

	RateRPS   float64 `yaml:"rateRPS"`
	RateBurst int     `yaml:"rateBurst"`
}

type SolverConfig struct {
	// Backend selects the solver adapter: "bnb" (default, in-process) or
	// "cbc" (external binary).
	Backend     string `yaml:"backend"`
	TimeLimitMs int    `yaml:"timeLimitMs"`
	Verbose     bool   `yaml:"verbose"`

	// Default goal-programming weights applied when a dataset leaves them
	// unset. These never override caller-supplied weights.
	WeightTonnage float64 `yaml:"weightTonnage"`
	WeightRevenue float64 `yaml:"weightRevenue"`
}

func (s SolverConfig) TimeLimit() time.Duration {
	return time.Duration(s.TimeLimitMs) * time.Millisecond
}

// Load builds the effective configuration: defaults, then CONFIG_FILE (if
// set), then environment overrides.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr: ":8080",
		AuthMode:   "dev",
		Solver: SolverConfig{
			Backend:       "bnb",
			TimeLimitMs:   30000,
			WeightTonnage: 1.0,
			WeightRevenue: 0.001,
		},
		RateRPS:   50,
		RateBurst: 100,
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.ListenAddr = ":" + v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("AUTH_MODE"); v != "" {
		cfg.AuthMode = v
	}
	if v := os.Getenv("SOLVER_BACKEND"); v != "" {
		cfg.Solver.Backend = v
	}
	if v := os.Getenv("SOLVER_TIME_LIMIT_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("SOLVER_TIME_LIMIT_MS: %w", err)
		}
		cfg.Solver.TimeLimitMs = n
	}
	if v := os.Getenv("SOLVER_VERBOSE"); v == "1" || v == "true" {
		cfg.Solver.Verbose = true
	}
	if v := os.Getenv("RATE_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("RATE_RPS: %w", err)
		}
		cfg.RateRPS = f
	}
	if v := os.Getenv("RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("RATE_BURST: %w", err)
		}
		cfg.RateBurst = n
	}
	return cfg, nil
}
