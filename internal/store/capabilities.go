package store

import (
	"context"
	"fmt"
	"time"

	"github.com/poirot-research/poirot/internal/schema"
)

// Capabilities records optional engine features detected at open.
type Capabilities struct {
	// VectorTopK is set when the engine answers ANN queries through
	// vector_top_k over the vector index.
	VectorTopK bool `json:"vectorTopK"`
}

const probeTimeout = 500 * time.Millisecond

// detectCapabilities probes optional features. A failed probe clears the
// flag; it never fails the open.
func (s *Store) detectCapabilities(ctx context.Context) Capabilities {
	var caps Capabilities
	idx := s.def.Index
	zero, err := schema.VectorLiteral(make([]float32, idx.Dimension))
	if err != nil {
		return caps
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT id FROM vector_top_k('%s', vector32(?), 1) LIMIT 1", idx.Name), zero)
	if rows != nil {
		rows.Close()
	}
	caps.VectorTopK = err == nil
	if err != nil {
		s.log.WarnContext(ctx, "vector_top_k unavailable; nearest-neighbour queries will scan", "error", err)
	}
	return caps
}

// Capabilities returns the optional features detected when the store opened.
func (s *Store) Capabilities() Capabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps
}
