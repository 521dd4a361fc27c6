package engine

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	assert.Equal(t, "In-Memory", InMemory.String())
	assert.Equal(t, "SQLite", EmbeddedFile.String())
	assert.Equal(t, "RocksDB", LogStructured.String())
	assert.Equal(t, "Kind(9)", Kind(9).String())
}

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{
		"mem":            InMemory,
		"In-Memory":      InMemory,
		"sqlite":         EmbeddedFile,
		" SQLite ":       EmbeddedFile,
		"rocksdb":        LogStructured,
		"log-structured": LogStructured,
	}
	for in, want := range cases {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseKind("postgres")
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	p, ok := Resolve(InMemory, "ignored.db")
	assert.False(t, ok)
	assert.Empty(t, p)

	p, ok = Resolve(EmbeddedFile, "test.db")
	assert.True(t, ok)
	assert.Equal(t, "test.db", p)

	p, ok = Resolve(LogStructured, "data/rocks")
	assert.True(t, ok)
	assert.Equal(t, "data/rocks", p)

	_, ok = Resolve(EmbeddedFile, "")
	assert.False(t, ok)
}

func TestLocate(t *testing.T) {
	a, err := Locate(InMemory, "")
	require.NoError(t, err)
	b, err := Locate(InMemory, "")
	require.NoError(t, err)
	assert.True(t, a.SingleConn)
	assert.Contains(t, a.DSN, "mode=memory")
	assert.NotEqual(t, a.DSN, b.DSN, "in-memory stores must not share a cache name")
	assert.Empty(t, a.File)

	f, err := Locate(EmbeddedFile, filepath.Join("dir", "x.db"))
	require.NoError(t, err)
	assert.Equal(t, "file:"+filepath.Join("dir", "x.db"), f.DSN)
	assert.Equal(t, "dir", f.Dir)
	assert.False(t, f.WAL)

	l, err := Locate(LogStructured, "rocks")
	require.NoError(t, err)
	assert.True(t, l.WAL)
	assert.Equal(t, "rocks", l.Dir)
	assert.True(t, strings.HasSuffix(l.File, LogStructuredFile))

	_, err = Locate(EmbeddedFile, "")
	assert.Error(t, err)
	_, err = Locate(Kind(7), "x")
	assert.Error(t, err)
}
