package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poirot-research/poirot/internal/catalog"
	"github.com/poirot-research/poirot/internal/engine"
	"github.com/poirot-research/poirot/internal/schema"
	"github.com/poirot-research/poirot/internal/store"
)

func openStore(t *testing.T, kind engine.Kind) *store.Store {
	t.Helper()
	path := ""
	if kind != engine.InMemory {
		path = filepath.Join(t.TempDir(), "snap")
	}
	st, err := store.Open(context.Background(), kind, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestExportImportAcrossEngines(t *testing.T) {
	ctx := context.Background()
	src := openStore(t, engine.InMemory)
	c := catalog.New(src)

	require.NoError(t, c.PutEntity(ctx, catalog.Entity{
		ID: "p1", Kind: catalog.KindPaper, Title: "One", Authors: []string{"Ada"}, Year: 2017,
		Props: map[string]any{"venue": "NeurIPS"},
	}))
	require.NoError(t, c.PutEntity(ctx, catalog.Entity{ID: "p2", Kind: catalog.KindPaper, Title: "Two"}))
	require.NoError(t, c.Link(ctx, catalog.Edge{Src: "p2", Dst: "p1", Kind: "cites"}))
	require.NoError(t, c.Tag(ctx, "p1", "nlp"))
	vec := make([]float32, schema.Dimension)
	vec[7] = 0.25
	require.NoError(t, c.PutEmbedding(ctx, "p1", vec))

	var buf bytes.Buffer
	stats, err := Export(ctx, src, &buf)
	require.NoError(t, err)
	assert.Equal(t, Stats{"entity": 2, "edge": 1, "tag": 1, "entity_tag": 1, "entity_vec": 1}, stats)
	assert.Equal(t, 6, stats.Total())

	dst := openStore(t, engine.LogStructured)
	got, err := Import(ctx, dst, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, stats, got)

	dc := catalog.New(dst)
	e, err := dc.GetEntity(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2017, e.Year)
	assert.Equal(t, []string{"Ada"}, e.Authors)
	assert.Equal(t, "NeurIPS", e.Props["venue"])

	v, err := dc.Embedding(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, vec, v)

	// Importing twice replaces rows instead of duplicating them.
	_, err = Import(ctx, dst, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	all, err := dc.ListEntities(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestImportRejectsForeignInput(t *testing.T) {
	ctx := context.Background()
	st := openStore(t, engine.InMemory)

	_, err := Import(ctx, st, bytes.NewReader([]byte("plain text")))
	assert.Error(t, err)

	compressed := func(lines ...any) []byte {
		var buf bytes.Buffer
		enc, err := zstd.NewWriter(&buf)
		require.NoError(t, err)
		je := json.NewEncoder(enc)
		for _, l := range lines {
			require.NoError(t, je.Encode(l))
		}
		require.NoError(t, enc.Close())
		return buf.Bytes()
	}

	_, err = Import(ctx, st, bytes.NewReader(compressed(header{Format: "other", Version: 1, Dimension: 768})))
	assert.True(t, errors.Is(err, ErrFormat))

	_, err = Import(ctx, st, bytes.NewReader(compressed(header{Format: formatName, Version: 1, Dimension: 512})))
	assert.True(t, errors.Is(err, schema.ErrDimensionMismatch))

	_, err = Import(ctx, st, bytes.NewReader(compressed(
		header{Format: formatName, Version: 1, Dimension: 768},
		line{Rel: "observations", Row: map[string]any{"id": "x"}},
	)))
	assert.True(t, errors.Is(err, ErrFormat))

	_, err = Import(ctx, st, bytes.NewReader(compressed(
		header{Format: formatName, Version: 1, Dimension: 768},
		line{Rel: "entity_vec", Row: map[string]any{"entity_id": "x", "embedding": []float32{1, 2}}},
	)))
	assert.True(t, errors.Is(err, schema.ErrDimensionMismatch))
}
