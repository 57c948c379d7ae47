package lsptypes

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/goccy/go-yaml"
)

type Config struct {
	LogLevel slog.Level      `yaml:"logLevel"`
	BasePath string          `yaml:"basePath"`
	Pool     PoolSettings    `yaml:"pool"`
	Backends []BackendConfig `yaml:"backends"` // use slice to respect config order
}

type PoolSettings struct {
	MaxSize               int `yaml:"maxSize"`
	MaxIdleSeconds        int `yaml:"maxIdleSeconds"`
	MaxRequests           int `yaml:"maxRequests"`
	MinWarm               int `yaml:"minWarm"`
	AcquireTimeoutSeconds int `yaml:"acquireTimeoutSeconds"`
	ShutdownGraceSeconds  int `yaml:"shutdownGraceSeconds"`
}

// PoolConfig converts the settings into a runtime pool configuration.
func (s PoolSettings) PoolConfig() PoolConfig {
	return PoolConfig{
		MaxSize:        s.MaxSize,
		MaxIdleTime:    time.Duration(s.MaxIdleSeconds) * time.Second,
		MaxRequests:    s.MaxRequests,
		MinWarm:        s.MinWarm,
		AcquireTimeout: time.Duration(s.AcquireTimeoutSeconds) * time.Second,
		ShutdownGrace:  time.Duration(s.ShutdownGraceSeconds) * time.Second,
	}
}

type BackendConfig struct {
	Name    string         `yaml:"name"`
	Type    string         `yaml:"type"`
	Options map[string]any `yaml:"options"`
}

// NewBackend instantiates the configured backend. Options are decoded into
// the backend's own options type.
func (c BackendConfig) NewBackend() (Backend, error) {
	raw, err := yaml.Marshal(c.Options)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", c.Name, err)
	}

	switch c.Type {
	case "pyrefly":
		var opts PyreflyOptions
		if err := yaml.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("backend %s: %w", c.Name, err)
		}
		return &PyreflyBackend{Options: opts}, nil
	case "pyright":
		var opts PyrightOptions
		if err := yaml.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("backend %s: %w", c.Name, err)
		}
		return &PyrightBackend{Options: opts}, nil
	default:
		return nil, fmt.Errorf("unknown backend type: %s", c.Type)
	}
}

func LoadConfigFile(fname string, backendNames []string) (*Config, error) {
	r, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return LoadConfig(r, backendNames)
}

func LoadConfig(r io.Reader, backendNames []string) (*Config, error) {
	cfg := Config{
		LogLevel: slog.LevelInfo,
	}

	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, err
	}

	for i := range cfg.Backends {
		if cfg.Backends[i].Type == "" {
			return nil, fmt.Errorf("backends[%d]: type is required", i)
		}

		if cfg.Backends[i].Name == "" {
			cfg.Backends[i].Name = cfg.Backends[i].Type
		}
	}

	if len(backendNames) == 0 {
		return &cfg, nil
	}

	var backends []BackendConfig
	for _, name := range backendNames {
		i := slices.IndexFunc(cfg.Backends, func(b BackendConfig) bool { return b.Name == name })
		if i == -1 {
			return nil, fmt.Errorf("backend not found in config: %s", name)
		}
		backends = append(backends, cfg.Backends[i])
	}
	cfg.Backends = backends

	return &cfg, nil
}
