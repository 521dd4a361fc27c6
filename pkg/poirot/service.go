// Package poirot provides a library-first API over the knowledge store,
// without MCP transport.
package poirot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poirot-research/poirot/internal/catalog"
	"github.com/poirot-research/poirot/internal/config"
	"github.com/poirot-research/poirot/internal/domain"
	"github.com/poirot-research/poirot/internal/embeddings"
	"github.com/poirot-research/poirot/internal/snapshot"
	"github.com/poirot-research/poirot/internal/store"
)

// Service bundles an open store and the catalog over it.
type Service struct {
	st  *store.Store
	cat *catalog.Catalog
}

// Open validates cfg and opens the store it describes. The store is Ready
// when Open returns without error.
func Open(ctx context.Context, cfg *Config) (*Service, error) {
	return OpenConfig(ctx, cfg.toInternal(), nil)
}

// OpenConfig opens a store from a full process configuration. A nil logger
// discards.
func OpenConfig(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	kind, err := cfg.EngineKind()
	if err != nil {
		return nil, err
	}
	emb, err := embeddings.New(cfg.Embeddings)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, kind, cfg.Path,
		store.WithLogger(log),
		store.WithPool(store.PoolConfig{
			MaxOpenConns:    cfg.Pool.MaxOpenConns,
			MaxIdleConns:    cfg.Pool.MaxIdleConns,
			ConnMaxIdleTime: time.Duration(cfg.Pool.ConnMaxIdleSec) * time.Second,
			ConnMaxLifetime: time.Duration(cfg.Pool.ConnMaxLifeSec) * time.Second,
		}),
	)
	if err != nil {
		return nil, err
	}
	opts := []catalog.Option{catalog.WithLogger(log)}
	if emb != nil {
		opts = append(opts, catalog.WithEmbedder(emb))
	}
	return &Service{st: st, cat: catalog.New(st, opts...)}, nil
}

// Close releases resources.
func (s *Service) Close() error { return s.st.Close() }

// Store returns the underlying store.
func (s *Service) Store() *store.Store { return s.st }

// Catalog returns the catalog over the store.
func (s *Service) Catalog() *catalog.Catalog { return s.cat }

// String describes the store, e.g. "Store using SQLite engine at test.db".
func (s *Service) String() string { return s.st.String() }

// Execute runs a script. See store.Store.Execute.
func (s *Service) Execute(ctx context.Context, script string, params store.Params, mode store.Mode) (*store.RowSet, error) {
	return s.st.Execute(ctx, script, params, mode)
}

// Query runs a read-only script.
func (s *Service) Query(ctx context.Context, script string, params ...any) (*store.RowSet, error) {
	return s.st.Execute(ctx, script, params, store.Immutable)
}

// PutEntity creates or replaces an entity.
func (s *Service) PutEntity(ctx context.Context, e catalog.Entity) error {
	return s.cat.PutEntity(ctx, e)
}

// GetEntity fetches an entity by id.
func (s *Service) GetEntity(ctx context.Context, id string) (catalog.Entity, error) {
	return s.cat.GetEntity(ctx, id)
}

func (s *Service) DeleteEntity(ctx context.Context, id string) error {
	return s.cat.DeleteEntity(ctx, id)
}

// Graph helpers
func (s *Service) Link(ctx context.Context, e catalog.Edge) error { return s.cat.Link(ctx, e) }

func (s *Service) Edges(ctx context.Context, id string, dir catalog.Direction) ([]catalog.Edge, error) {
	return s.cat.Edges(ctx, id, dir)
}

func (s *Service) Tag(ctx context.Context, id string, tags ...string) error {
	return s.cat.Tag(ctx, id, tags...)
}

// PutAuthor stores an author and its affiliation.
func (s *Service) PutAuthor(ctx context.Context, a domain.Author) (string, error) {
	return s.cat.PutAuthor(ctx, a)
}

// Vector helpers
func (s *Service) PutEmbedding(ctx context.Context, id string, v []float32) error {
	return s.cat.PutEmbedding(ctx, id, v)
}

func (s *Service) Nearest(ctx context.Context, query []float32, k int) ([]catalog.Neighbor, error) {
	return s.cat.Nearest(ctx, query, k)
}

// Export writes a snapshot of the store to w.
func (s *Service) Export(ctx context.Context, w io.Writer) (snapshot.Stats, error) {
	return snapshot.Export(ctx, s.st, w)
}

// Import replays a snapshot from r into the store.
func (s *Service) Import(ctx context.Context, r io.Reader) (snapshot.Stats, error) {
	return snapshot.Import(ctx, s.st, r)
}
