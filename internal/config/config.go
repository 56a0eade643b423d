// Package config loads the kstate configuration from YAML with environment
// overrides and validates it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/knowledge-state/internal/cpt"
	"github.com/danielpatrickdp/knowledge-state/internal/orchestrator"
)

// #region types

// Config is the full process configuration.
type Config struct {
	DB        string              `yaml:"db" validate:"required"`        // state, diagnostics and jobs
	SourceDB  string              `yaml:"source_db" validate:"required"` // input tables and progression edges
	LogMode   string              `yaml:"log_mode" validate:"oneof=dev prod development production"`
	Serve     ServeConfig         `yaml:"serve"`
	Bootstrap BootstrapConfig     `yaml:"bootstrap"`
	Pipeline  orchestrator.Config `yaml:"pipeline"`
}

// ServeConfig controls worker mode.
type ServeConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
	HealthAddr   string        `yaml:"health_addr" validate:"required"`
	MetricsAddr  string        `yaml:"metrics_addr"` // empty disables /metrics
}

// BootstrapConfig shapes the synthetic CPT written for new tenants.
type BootstrapConfig struct {
	MaxParents int                `yaml:"max_parents" validate:"gte=1,lte=12"`
	CPT        cpt.GenerateConfig `yaml:"cpt"`
}

// #endregion types

// #region env
const (
	EnvDB       = "KSTATE_DB"
	EnvSourceDB = "KSTATE_SOURCE_DB"
	EnvWorkers  = "KSTATE_WORKERS"
	EnvLogMode  = "KSTATE_LOG_MODE"
)

// #endregion env

// #region defaults

// Default returns local database files, development logging and the default
// pipeline.
func Default() Config {
	return Config{
		DB:       "kstate.db",
		SourceDB: "kstate-source.db",
		LogMode:  "dev",
		Serve: ServeConfig{
			PollInterval: 30 * time.Second,
			HealthAddr:   ":50051",
			MetricsAddr:  ":9090",
		},
		Bootstrap: BootstrapConfig{
			MaxParents: 6,
			CPT:        cpt.DefaultGenerateConfig(),
		},
		Pipeline: orchestrator.DefaultConfig(),
	}
}

// #endregion defaults

// #region load

// Load reads path over Default, applies environment overrides and validates the
// result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field tag, nested stage configs included.
func Validate(cfg Config) error {
	err := validator.New().Struct(cfg)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("invalid config: %s fails %q (%d problems)", fe.Namespace(), fe.Tag(), len(verrs))
	}
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDB); ok && v != "" {
		cfg.DB = v
	}
	if v, ok := lookup(EnvSourceDB); ok && v != "" {
		cfg.SourceDB = v
	}
	if v, ok := lookup(EnvLogMode); ok && v != "" {
		cfg.LogMode = v
	}
	if v, ok := lookup(EnvWorkers); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvWorkers, err)
		}
		cfg.Pipeline.Workers = n
	}
	return nil
}

// #endregion load
