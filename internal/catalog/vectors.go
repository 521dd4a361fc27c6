package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/poirot-research/poirot/internal/schema"
	"github.com/poirot-research/poirot/internal/store"
)

// Neighbor is an entity and its L2 distance to a query vector.
type Neighbor struct {
	Entity   Entity  `json:"entity"`
	Distance float64 `json:"distance"`
}

// PutEmbedding stores or replaces the embedding of an existing entity.
func (c *Catalog) PutEmbedding(ctx context.Context, id string, v []float32) error {
	if err := schema.CheckEmbedding(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	lit, err := schema.VectorLiteral(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	rs, err := c.st.Execute(ctx, `
INSERT INTO entity_vec (entity_id, embedding)
SELECT id, vector32(?) FROM entity WHERE id = ?
ON CONFLICT(entity_id) DO UPDATE SET embedding = excluded.embedding
RETURNING entity_id`,
		store.Params{lit, id}, store.Mutable)
	if err != nil {
		return fmt.Errorf("put embedding %q: %w", id, err)
	}
	if rs.Len() == 0 {
		return fmt.Errorf("entity %q: %w", id, ErrNotFound)
	}
	return nil
}

// Embedding returns the stored embedding of id.
func (c *Catalog) Embedding(ctx context.Context, id string) ([]float32, error) {
	rs, err := c.st.Execute(ctx,
		"SELECT embedding FROM entity_vec WHERE entity_id = ?", store.Params{id}, store.Immutable)
	if err != nil {
		return nil, fmt.Errorf("embedding %q: %w", id, err)
	}
	if rs.Len() == 0 {
		return nil, fmt.Errorf("embedding %q: %w", id, ErrNotFound)
	}
	v, _ := rs.Value(0, "embedding")
	blob, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("embedding %q: unexpected value %T", id, v)
	}
	return schema.DecodeVector(blob)
}

var nearestANN = fmt.Sprintf(`
SELECT %s, vector_distance_l2(v.embedding, vector32(?)) AS distance
FROM vector_top_k('%s', vector32(?), ?) AS k
JOIN entity_vec AS v ON v.rowid = k.id
JOIN entity AS e ON e.id = v.entity_id
ORDER BY distance, e.id`, entityColumns, schema.HNSWIndex.Name)

const nearestExact = `
SELECT ` + entityColumns + `, vector_distance_l2(v.embedding, vector32(?)) AS distance
FROM entity_vec AS v
JOIN entity AS e ON e.id = v.entity_id
ORDER BY distance, e.id
LIMIT ?`

// Nearest returns at most k entities closest to query, by non-decreasing L2
// distance. It probes the ANN index and falls back to an exact scan when
// the engine build lacks vector_top_k.
func (c *Catalog) Nearest(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalid, k)
	}
	if err := schema.CheckEmbedding(query); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	lit, err := schema.VectorLiteral(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var rs *store.RowSet
	if c.annAvailable() {
		rs, err = c.st.Execute(ctx, nearestANN, store.Params{lit, lit, k}, store.Immutable)
		if err != nil && isMissingTopK(err) {
			c.log.WarnContext(ctx, "vector_top_k unavailable, using exact scan", "error", err)
			rs, err = c.st.Execute(ctx, nearestExact, store.Params{lit, k}, store.Immutable)
		}
	} else {
		rs, err = c.st.Execute(ctx, nearestExact, store.Params{lit, k}, store.Immutable)
	}
	if err != nil {
		return nil, fmt.Errorf("nearest: %w", err)
	}

	out := make([]Neighbor, 0, min(rs.Len(), k))
	for i := 0; i < rs.Len() && i < k; i++ {
		e, err := scanEntity(rs, i)
		if err != nil {
			return nil, err
		}
		d, err := rs.Float64(i, "distance")
		if err != nil {
			return nil, err
		}
		out = append(out, Neighbor{Entity: e, Distance: d})
	}
	return out, nil
}

// annAvailable reports whether the executor advertises vector_top_k. An
// executor that does not report capabilities is assumed to have it.
func (c *Catalog) annAvailable() bool {
	cp, ok := c.st.(interface{ Capabilities() store.Capabilities })
	return !ok || cp.Capabilities().VectorTopK
}

func isMissingTopK(err error) bool {
	var qe *store.QueryError
	if !errors.As(err, &qe) || qe.Kind != store.ScriptError {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "vector_top_k")
}

// EmbedText computes the embedding of text with the configured provider and
// stores it for id.
func (c *Catalog) EmbedText(ctx context.Context, id, text string) error {
	v, err := c.embed(ctx, text)
	if err != nil {
		return err
	}
	return c.PutEmbedding(ctx, id, v)
}

// SearchText returns the k entities nearest to the embedding of text.
func (c *Catalog) SearchText(ctx context.Context, text string, k int) ([]Neighbor, error) {
	v, err := c.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return c.Nearest(ctx, v, k)
}

func (c *Catalog) embed(ctx context.Context, text string) ([]float32, error) {
	if c.embedder == nil {
		return nil, ErrNoEmbeddings
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text to embed is empty", ErrInvalid)
	}
	vecs, err := c.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%s embeddings: %w", c.embedder.Name(), err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%s embeddings: got %d vectors for one input", c.embedder.Name(), len(vecs))
	}
	return vecs[0], nil
}
