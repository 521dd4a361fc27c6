package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, l)

	l, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, l)

	_, err = ParseLevel("chatty")
	assert.Error(t, err)
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := FromStrings(&buf, "json", "warn")
	require.NoError(t, err)

	log.Info("dropped")
	log.Warn("kept", "engine", "SQLite")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "SQLite", rec["engine"])
}

func TestTextLogger(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, Text, slog.LevelInfo).Info("store ready", "path", "in-memory")
	assert.Contains(t, buf.String(), "msg=\"store ready\"")
	assert.Contains(t, buf.String(), "path=in-memory")

	_, err := FromStrings(&buf, "xml", "info")
	assert.Error(t, err)
}
