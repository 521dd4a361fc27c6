// Package embeddings computes text embeddings through a remote model so
// entities can be indexed by content instead of by caller-supplied vectors.
package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/poirot-research/poirot/internal/config"
	"github.com/poirot-research/poirot/internal/schema"
)

// Provider turns text into embeddings. Implementations are safe for
// concurrent use.
type Provider interface {
	// Name returns the provider name, e.g. "ollama".
	Name() string
	// Dimensions returns the length of every embedding Embed produces.
	Dimensions() int
	// Embed returns one embedding per input, in input order.
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// New builds the configured provider, adapted to the store's embedding
// dimension. It returns nil, nil when no provider is configured.
func New(cfg config.Embeddings) (Provider, error) {
	client := &http.Client{Timeout: cfg.Timeout()}
	var p Provider
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "":
		return nil, nil
	case "ollama":
		p = NewOllama(cfg.Host, cfg.Model, client)
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai embeddings need an API key")
		}
		p = NewOpenAI(cfg.Host, cfg.APIKey, cfg.Model, client)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}
	return WrapToDims(p, schema.Dimension, PadOrTruncate), nil
}

func f64to32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i := range v {
		out[i] = float32(v[i])
	}
	return out
}
