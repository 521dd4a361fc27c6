package schema

import (
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelationsMatchScript(t *testing.T) {
	require.Len(t, Relations, 5)
	for _, r := range Relations {
		assert.Contains(t, SchemaScript, "CREATE TABLE IF NOT EXISTS "+r.Name+" (", r.Name)
		for _, c := range r.Columns {
			assert.Contains(t, SchemaScript, c.Name, "%s.%s", r.Name, c.Name)
		}
	}
	assert.Contains(t, SchemaScript, "length(embedding) = 3072")
}

func TestRelationKeys(t *testing.T) {
	edge, ok := Lookup("edge")
	require.True(t, ok)
	assert.Equal(t, []string{"src", "dst", "kind"}, edge.Keys())
	assert.Equal(t, []string{"src", "dst", "kind", "props"}, edge.ColumnNames())

	vec, ok := Lookup("entity_vec")
	require.True(t, ok)
	assert.Equal(t, []string{"entity_id"}, vec.Keys())
	assert.Equal(t, HNSWIndex.ColumnType(), vec.Columns[1].Type)

	_, ok = Lookup("observations")
	assert.False(t, ok)
}

func TestHNSWIndexScript(t *testing.T) {
	require.NoError(t, HNSWIndex.Validate())
	assert.Equal(t,
		"CREATE INDEX IF NOT EXISTS entity_vec_hnsw ON entity_vec(libsql_vector_idx(embedding, 'metric=l2', 'max_neighbors=32', 'insert_l=20'))",
		HNSWIndex.Script())
	assert.Equal(t, "F32_BLOB(768)", HNSWIndex.ColumnType())
}

func TestVectorIndexValidate(t *testing.T) {
	bad := HNSWIndex
	bad.Dimension = 512
	err := bad.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	bad = HNSWIndex
	bad.Metric = "manhattan"
	assert.Error(t, bad.Validate())

	bad = HNSWIndex
	bad.M = 0
	assert.Error(t, bad.Validate())

	bad = HNSWIndex
	bad.KeepPrunedConnections = true
	assert.Error(t, bad.Validate())

	bad = HNSWIndex
	bad.Name = ""
	assert.Error(t, bad.Validate())
}

func TestParseIndexDDL(t *testing.T) {
	// sqlite_master drops IF NOT EXISTS from the stored text.
	stored := strings.Replace(HNSWIndex.Script(), "IF NOT EXISTS ", "", 1)
	ddl, err := ParseIndexDDL(stored)
	require.NoError(t, err)
	assert.Equal(t, "entity_vec", ddl.Relation)
	assert.Equal(t, "embedding", ddl.Column)
	assert.Equal(t, HNSWIndex.Options(), ddl.Options)
	assert.Empty(t, HNSWIndex.Diff(ddl))

	other, err := ParseIndexDDL(`CREATE INDEX entity_vec_hnsw ON "entity_vec" ( libsql_vector_idx( embedding , 'metric=cosine','max_neighbors = 16' ) )`)
	require.NoError(t, err)
	diffs := HNSWIndex.Diff(other)
	assert.Len(t, diffs, 3)

	_, err = ParseIndexDDL("CREATE INDEX idx ON entity(kind)")
	assert.Error(t, err)
}

func TestCheckEmbedding(t *testing.T) {
	require.NoError(t, CheckEmbedding(make([]float32, Dimension)))

	err := CheckEmbedding(make([]float32, 3))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	v := make([]float32, Dimension)
	v[5] = float32(math.NaN())
	assert.Error(t, CheckEmbedding(v))
}

func TestVectorLiteralAndDecode(t *testing.T) {
	lit, err := VectorLiteral([]float32{1, 0.5, -2.25})
	require.NoError(t, err)
	assert.Equal(t, "[1, 0.5, -2.25]", lit)

	_, err = VectorLiteral([]float32{float32(math.Inf(1))})
	assert.Error(t, err)

	blob := make([]byte, 8)
	binary.LittleEndian.PutUint32(blob[0:], math.Float32bits(1.5))
	binary.LittleEndian.PutUint32(blob[4:], math.Float32bits(-3))
	v, err := DecodeVector(blob)
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, -3}, v)

	_, err = DecodeVector([]byte{1, 2, 3})
	assert.Error(t, err)

	v, err = DecodeVector(nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}
