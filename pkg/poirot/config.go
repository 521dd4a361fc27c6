package poirot

import (
	"github.com/poirot-research/poirot/internal/config"
)

// Config exposes a stable wrapper for store configuration in package mode.
// Most fields map directly to internal/config.Config.
type Config struct {
	// Engine is mem, sqlite or rocksdb (see engine.ParseKind for aliases).
	Engine string
	// Path is the database file (sqlite) or directory (rocksdb). Ignored
	// for the in-memory engine.
	Path string

	EmbeddingsProvider string
	EmbeddingsModel    string
	EmbeddingsHost     string
	EmbeddingsAPIKey   string

	MaxOpenConns   int
	MaxIdleConns   int
	ConnMaxIdleSec int
	ConnMaxLifeSec int
}

func (c *Config) toInternal() *config.Config {
	cfg := config.Default()
	cfg.Engine = c.Engine
	cfg.Path = c.Path
	cfg.Embeddings.Provider = c.EmbeddingsProvider
	cfg.Embeddings.Model = c.EmbeddingsModel
	cfg.Embeddings.Host = c.EmbeddingsHost
	cfg.Embeddings.APIKey = c.EmbeddingsAPIKey
	if c.MaxOpenConns > 0 {
		cfg.Pool.MaxOpenConns = c.MaxOpenConns
	}
	if c.MaxIdleConns > 0 {
		cfg.Pool.MaxIdleConns = c.MaxIdleConns
	}
	if c.ConnMaxIdleSec > 0 {
		cfg.Pool.ConnMaxIdleSec = c.ConnMaxIdleSec
	}
	if c.ConnMaxLifeSec > 0 {
		cfg.Pool.ConnMaxLifeSec = c.ConnMaxLifeSec
	}
	return cfg
}
