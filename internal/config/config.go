// Package config loads the poirot configuration from an optional YAML file
// and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/poirot-research/poirot/internal/engine"
)

// Config is the full process configuration.
type Config struct {
	Engine     string     `yaml:"engine"`
	Path       string     `yaml:"path"`
	Log        Log        `yaml:"log"`
	Metrics    Metrics    `yaml:"metrics"`
	Embeddings Embeddings `yaml:"embeddings"`
	Server     Server     `yaml:"server"`
	Pool       Pool       `yaml:"pool"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Embeddings selects the provider used to compute embeddings from text.
// An empty Provider disables text embedding.
type Embeddings struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Host       string `yaml:"host"`
	APIKey     string `yaml:"apiKey"`
	TimeoutSec int    `yaml:"timeoutSec"`
}

type Server struct {
	Transport string `yaml:"transport"`
	Addr      string `yaml:"addr"`
	Endpoint  string `yaml:"endpoint"`
}

type Pool struct {
	MaxOpenConns   int `yaml:"maxOpenConns"`
	MaxIdleConns   int `yaml:"maxIdleConns"`
	ConnMaxIdleSec int `yaml:"connMaxIdleSec"`
	ConnMaxLifeSec int `yaml:"connMaxLifeSec"`
}

// Default returns an in-memory configuration served over stdio.
func Default() *Config {
	return &Config{
		Engine:  "mem",
		Log:     Log{Level: "info", Format: "text"},
		Metrics: Metrics{Addr: ":9090"},
		Embeddings: Embeddings{
			TimeoutSec: 30,
		},
		Server: Server{
			Transport: "stdio",
			Addr:      ":8080",
			Endpoint:  "/mcp",
		},
		Pool: Pool{
			MaxOpenConns:   8,
			MaxIdleConns:   4,
			ConnMaxIdleSec: 60,
		},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. Unset variables leave the
// field alone.
func (c *Config) ApplyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("POIROT_ENGINE", &c.Engine)
	str("POIROT_PATH", &c.Path)
	str("POIROT_LOG_LEVEL", &c.Log.Level)
	str("POIROT_LOG_FORMAT", &c.Log.Format)
	str("METRICS_ADDR", &c.Metrics.Addr)
	str("EMBEDDINGS_PROVIDER", &c.Embeddings.Provider)
	str("EMBEDDINGS_MODEL", &c.Embeddings.Model)
	str("OLLAMA_HOST", &c.Embeddings.Host)
	str("OPENAI_API_KEY", &c.Embeddings.APIKey)
	str("TRANSPORT", &c.Server.Transport)
	str("ADDR", &c.Server.Addr)
	str("SSE_ENDPOINT", &c.Server.Endpoint)

	if v, ok := os.LookupEnv("METRICS_PROMETHEUS"); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "on":
			c.Metrics.Enabled = true
		case "false", "0", "no", "off", "":
			c.Metrics.Enabled = false
		default:
			return fmt.Errorf("METRICS_PROMETHEUS: invalid boolean %q", v)
		}
	}
	return errors.Join(
		num("EMBEDDINGS_TIMEOUT_SEC", &c.Embeddings.TimeoutSec),
		num("DB_MAX_OPEN_CONNS", &c.Pool.MaxOpenConns),
		num("DB_MAX_IDLE_CONNS", &c.Pool.MaxIdleConns),
		num("DB_CONN_MAX_IDLE_SEC", &c.Pool.ConnMaxIdleSec),
		num("DB_CONN_MAX_LIFETIME_SEC", &c.Pool.ConnMaxLifeSec),
	)
}

// EngineKind parses the configured engine.
func (c *Config) EngineKind() (engine.Kind, error) {
	return engine.ParseKind(c.Engine)
}

// Timeout is the embeddings request timeout.
func (e Embeddings) Timeout() time.Duration {
	if e.TimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(e.TimeoutSec) * time.Second
}

// Validate checks that the configuration can open a store and serve it.
func (c *Config) Validate() error {
	var errs []error
	kind, err := c.EngineKind()
	if err != nil {
		errs = append(errs, err)
	} else if kind.RequiresPath() && strings.TrimSpace(c.Path) == "" {
		errs = append(errs, fmt.Errorf("engine %s requires a path", kind))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log format %q", c.Log.Format))
	}
	switch strings.ToLower(c.Server.Transport) {
	case "", "stdio", "http", "sse":
	default:
		errs = append(errs, fmt.Errorf("invalid transport %q", c.Server.Transport))
	}
	switch strings.ToLower(c.Embeddings.Provider) {
	case "", "ollama":
	case "openai":
		if c.Embeddings.APIKey == "" {
			errs = append(errs, errors.New("openai embeddings require OPENAI_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown embeddings provider %q", c.Embeddings.Provider))
	}
	if c.Pool.MaxOpenConns < 0 || c.Pool.MaxIdleConns < 0 {
		errs = append(errs, errors.New("pool limits must not be negative"))
	}
	return errors.Join(errs...)
}
