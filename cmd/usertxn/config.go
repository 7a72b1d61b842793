package main

import (
	"flag"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nikmy/usertxn/internal/api"
	"github.com/nikmy/usertxn/internal/backend"
	"github.com/nikmy/usertxn/internal/pubsub"
	"github.com/nikmy/usertxn/internal/session"
	"github.com/nikmy/usertxn/pkg/environment"
	"github.com/nikmy/usertxn/pkg/errors"
)

type Config struct {
	Environment environment.Env `yaml:"Environment"`
	API         api.Config      `yaml:"API"`
	Backend     backend.Config  `yaml:"Backend"`
	Sessions    session.Config  `yaml:"Sessions"`
	Events      pubsub.Config   `yaml:"Events"`
}

const (
	defaultAddr         = ":8080"
	defaultMaxIdle      = 30 * time.Minute
	defaultReapInterval = time.Minute
)

type flags struct {
	configPath string
	env        string
}

func parseFlags(args []string) (flags, error) {
	var f flags

	fs := flag.NewFlagSet("usertxn", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "config.yaml", "path to config file")
	fs.StringVar(&f.env, "env", "", "environment (dev, prod)")

	err := fs.Parse(args)
	return f, errors.WrapFail(err, "parse flags")
}

func loadConfig(f flags) (*Config, error) {
	path, err := filepath.Abs(f.configPath)
	if err != nil {
		return nil, errors.WrapFail(err, "build path to config")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFailf(err, "read %q", path)
	}

	cfg, err := parseConfig(data)
	if err != nil {
		return nil, err
	}

	if f.env != "" {
		cfg.Environment = environment.FromString(f.env)
	}

	return cfg, nil
}

func parseConfig(data []byte) (*Config, error) {
	var cfg Config
	err := yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, errors.WrapFail(err, "parse yaml")
	}

	if cfg.API.HTTP.Addr == "" {
		cfg.API.HTTP.Addr = defaultAddr
	}
	if cfg.Sessions.MaxIdle == 0 {
		cfg.Sessions.MaxIdle = defaultMaxIdle
	}
	if cfg.Sessions.ReapInterval == 0 {
		cfg.Sessions.ReapInterval = defaultReapInterval
	}

	err = validateConfig(&cfg)
	if err != nil {
		return nil, errors.WrapFail(err, "validate config")
	}

	return &cfg, nil
}

func validateConfig(cfg *Config) error {
	positive := map[string]time.Duration{
		"Sessions.max_idle":      cfg.Sessions.MaxIdle,
		"Sessions.reap_interval": cfg.Sessions.ReapInterval,
	}
	for name, d := range positive {
		if d <= 0 {
			return errors.Errorf("%s must be positive, got %s", name, d)
		}
	}

	nonNegative := map[string]time.Duration{
		"Sessions.txn.default_timeout": cfg.Sessions.Txn.DefaultTimeout,
		"Events.batch_timeout":         cfg.Events.BatchTimeout,
		"API.http.read_timeout":        cfg.API.HTTP.ReadTimeout,
		"API.http.write_timeout":       cfg.API.HTTP.WriteTimeout,
		"API.http.idle_timeout":        cfg.API.HTTP.IdleTimeout,
	}
	for name, d := range nonNegative {
		if d < 0 {
			return errors.Errorf("%s must not be negative, got %s", name, d)
		}
	}

	return nil
}
