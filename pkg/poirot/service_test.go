package poirot

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poirot-research/poirot/internal/catalog"
	"github.com/poirot-research/poirot/internal/domain"
	"github.com/poirot-research/poirot/internal/schema"
	"github.com/poirot-research/poirot/internal/store"
)

func TestServiceRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, err := Open(ctx, &Config{Engine: "sqlite", Path: filepath.Join(t.TempDir(), "svc.db")})
	require.NoError(t, err)
	defer svc.Close()

	assert.Equal(t, store.Ready, svc.Store().State())
	assert.Contains(t, svc.String(), "Store using SQLite engine at ")

	require.NoError(t, svc.PutEntity(ctx, catalog.Entity{ID: "p1", Kind: catalog.KindPaper, Title: "One"}))
	name, err := domain.ParseName("Ada Lovelace")
	require.NoError(t, err)
	a, err := domain.NewAuthor(name)
	require.NoError(t, err)
	aid, err := svc.PutAuthor(ctx, a)
	require.NoError(t, err)
	require.NoError(t, svc.Link(ctx, catalog.Edge{Src: "p1", Dst: aid, Kind: catalog.EdgeAuthoredBy}))
	require.NoError(t, svc.Tag(ctx, "p1", "math"))

	edges, err := svc.Edges(ctx, "p1", catalog.Outgoing)
	require.NoError(t, err)
	require.Len(t, edges, 1)

	vec := make([]float32, schema.Dimension)
	vec[0] = 1
	require.NoError(t, svc.PutEmbedding(ctx, "p1", vec))
	hits, err := svc.Nearest(ctx, vec, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "p1", hits[0].Entity.ID)

	rs, err := svc.Query(ctx, "SELECT count(*) AS n FROM entity WHERE kind = ?", catalog.KindPaper)
	require.NoError(t, err)
	n, ok, err := rs.Int64(0, "n")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), n)

	var buf bytes.Buffer
	stats, err := svc.Export(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, stats["entity"])

	mem, err := Open(ctx, &Config{Engine: "mem"})
	require.NoError(t, err)
	defer mem.Close()
	_, err = mem.Import(ctx, &buf)
	require.NoError(t, err)
	got, err := mem.GetEntity(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "One", got.Title)

	require.NoError(t, svc.DeleteEntity(ctx, "p1"))
	_, err = svc.GetEntity(ctx, "p1")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, &Config{Engine: "cassandra"})
	assert.Error(t, err)

	_, err = Open(ctx, &Config{Engine: "rocksdb"})
	assert.ErrorContains(t, err, "requires a path")

	_, err = Open(ctx, &Config{Engine: "mem", EmbeddingsProvider: "openai"})
	assert.Error(t, err)
}
