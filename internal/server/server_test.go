package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poirot-research/poirot/internal/catalog"
	"github.com/poirot-research/poirot/internal/engine"
	"github.com/poirot-research/poirot/internal/schema"
	"github.com/poirot-research/poirot/internal/store"
)

func newTestServer(t *testing.T) *MCPServer {
	t.Helper()
	st, err := store.Open(context.Background(), engine.EmbeddedFile, filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return NewMCPServer(st, catalog.New(st))
}

// connect returns a client session talking to s over in-memory transports.
func connect(t *testing.T, s *MCPServer) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	_, err := s.MCP().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func call(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err, "CallTool(%s)", name)
	require.NotEmpty(t, result.Content, "CallTool(%s): empty content", name)
	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "CallTool(%s): expected TextContent, got %T", name, result.Content[0])
	return tc.Text, result.IsError
}

func callOK(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) string {
	t.Helper()
	text, isErr := call(t, session, name, args)
	require.False(t, isErr, "CallTool(%s) returned error: %s", name, text)
	return text
}

func axis(i int, scale float64) []float64 {
	v := make([]float64, schema.Dimension)
	v[i] = scale
	return v
}

func TestListTools(t *testing.T) {
	session := connect(t, newTestServer(t))

	res, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"store_info", "run_script", "put_entity", "get_entity", "list_entities",
		"delete_entity", "link_entities", "tag_entity", "neighbors", "walk",
		"shortest_path", "put_author", "put_embedding", "nearest", "health_check",
	}, names)
}

func TestStoreInfoAndHealth(t *testing.T) {
	session := connect(t, newTestServer(t))

	var info StoreInfo
	require.NoError(t, json.Unmarshal([]byte(callOK(t, session, "store_info", nil)), &info))
	assert.Equal(t, "SQLite", info.Engine)
	assert.Equal(t, "ready", info.State)
	assert.Equal(t, schema.Dimension, info.Dimension)
	assert.Equal(t, "l2", info.Index.Metric)
	assert.Equal(t, []string{"entity", "edge", "tag", "entity_tag", "entity_vec"}, info.Relations)
	assert.Contains(t, info.Description, "Store using SQLite engine at ")
	assert.True(t, info.VectorTopK)

	var h Health
	require.NoError(t, json.Unmarshal([]byte(callOK(t, session, "health_check", nil)), &h))
	assert.Equal(t, serverName, h.Name)
	assert.Equal(t, "ready", h.State)
}

func TestCatalogTools(t *testing.T) {
	session := connect(t, newTestServer(t))

	callOK(t, session, "put_entity", map[string]any{
		"id": "p1", "kind": "paper", "title": "One", "year": 2017,
		"authors": []string{"Ada Lovelace"}, "tags": []string{"nlp"},
	})
	callOK(t, session, "put_entity", map[string]any{"id": "p2", "kind": "paper", "title": "Two"})
	callOK(t, session, "link_entities", map[string]any{"src": "p2", "dst": "p1", "kind": "cites"})
	callOK(t, session, "tag_entity", map[string]any{"id": "p2", "tags": []string{"retrieval"}})

	var d EntityDetail
	require.NoError(t, json.Unmarshal([]byte(callOK(t, session, "get_entity", map[string]any{"id": "p1"})), &d))
	assert.Equal(t, "One", d.Title)
	assert.Equal(t, 2017, d.Year)
	assert.Equal(t, []string{"nlp"}, d.Tags)
	require.Len(t, d.Edges, 1)
	assert.Equal(t, "p2", d.Edges[0].Src)

	text, isErr := call(t, session, "link_entities", map[string]any{"src": "p1", "dst": "ghost", "kind": "cites"})
	assert.True(t, isErr)
	assert.Contains(t, text, "not found")

	var list []catalog.Entity
	require.NoError(t, json.Unmarshal([]byte(callOK(t, session, "list_entities", map[string]any{"kind": "paper"})), &list))
	assert.Len(t, list, 2)

	var g Graph
	require.NoError(t, json.Unmarshal([]byte(callOK(t, session, "shortest_path",
		map[string]any{"from": "p2", "to": "p1", "direction": "out"})), &g))
	require.Len(t, g.Entities, 2)
	assert.Equal(t, "p2", g.Entities[0].ID)
	require.Len(t, g.Edges, 1)

	require.NoError(t, json.Unmarshal([]byte(callOK(t, session, "neighbors",
		map[string]any{"ids": []string{"p1"}})), &g))
	assert.Len(t, g.Entities, 2)

	require.NoError(t, json.Unmarshal([]byte(callOK(t, session, "walk",
		map[string]any{"ids": []string{"p1"}, "maxDepth": 2, "direction": "in"})), &g))
	assert.Len(t, g.Entities, 2)

	_, isErr = call(t, session, "walk", map[string]any{"ids": []string{"p1"}, "direction": "sideways"})
	assert.True(t, isErr)

	callOK(t, session, "delete_entity", map[string]any{"id": "p1"})
	_, isErr = call(t, session, "get_entity", map[string]any{"id": "p1"})
	assert.True(t, isErr)
}

func TestPutAuthorTool(t *testing.T) {
	session := connect(t, newTestServer(t))

	text := callOK(t, session, "put_author", map[string]any{
		"name":        "Jane Q Smith",
		"orcid":       "0000-0001-2345-6789",
		"affiliation": "University X; Department Y",
		"tags":        []string{"Physics"},
	})
	assert.Equal(t, "Stored author orcid:0000-0001-2345-6789", text)

	_, isErr := call(t, session, "put_author", map[string]any{"name": "Cher"})
	assert.True(t, isErr)
}

func TestRunScript(t *testing.T) {
	session := connect(t, newTestServer(t))

	callOK(t, session, "run_script", map[string]any{
		"script":  "INSERT INTO entity (id, kind, title) VALUES (?, 'paper', ?); INSERT INTO tag (name) VALUES (:tag)",
		"params":  []any{"p1", "One"},
		"named":   map[string]any{"tag": "nlp"},
		"mutable": true,
	})

	var rs store.RowSet
	text := callOK(t, session, "run_script", map[string]any{
		"script": "SELECT id, title FROM entity WHERE id = ?",
		"params": []any{"p1"},
	})
	require.NoError(t, json.Unmarshal([]byte(text), &rs))
	assert.Equal(t, []string{"id", "title"}, rs.Columns)
	assert.Equal(t, [][]any{{"p1", "One"}}, rs.Rows)

	text, isErr := call(t, session, "run_script", map[string]any{
		"script": "DELETE FROM entity",
	})
	assert.True(t, isErr)
	assert.Contains(t, text, "script error")

	text, isErr = call(t, session, "run_script", map[string]any{"script": "SELEC 1"})
	assert.True(t, isErr)
	assert.Contains(t, text, "script error")
}

func TestEmbeddingTools(t *testing.T) {
	session := connect(t, newTestServer(t))

	for i, id := range []string{"a", "b", "c"} {
		callOK(t, session, "put_entity", map[string]any{"id": id, "kind": "paper", "title": id})
		callOK(t, session, "put_embedding", map[string]any{"id": id, "embedding": axis(i, 1)})
	}

	var stored struct {
		Rows [][][]float64 `json:"rows"`
	}
	require.NoError(t, json.Unmarshal([]byte(callOK(t, session, "run_script", map[string]any{
		"script": "SELECT embedding FROM entity_vec WHERE entity_id = 'a'",
	})), &stored))
	require.Len(t, stored.Rows, 1)
	assert.Equal(t, axis(0, 1), stored.Rows[0][0])

	var hits []catalog.Neighbor
	text := callOK(t, session, "nearest", map[string]any{"embedding": axis(1, 0.9), "k": 2})
	require.NoError(t, json.Unmarshal([]byte(text), &hits))
	require.NotEmpty(t, hits)
	assert.Equal(t, "b", hits[0].Entity.ID)
	assert.InDelta(t, 0.1, hits[0].Distance, 1e-4)

	text, isErr := call(t, session, "put_embedding", map[string]any{"id": "a", "embedding": []float64{1, 2, 3}})
	assert.True(t, isErr)
	assert.Contains(t, text, "invalid")

	text, isErr = call(t, session, "nearest", map[string]any{"text": "attention"})
	assert.True(t, isErr)
	assert.Contains(t, text, catalog.ErrNoEmbeddings.Error())

	_, isErr = call(t, session, "put_embedding", map[string]any{"id": "a"})
	assert.True(t, isErr)
}

func TestStreamableHTTP(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t).Handler())
	defer ts.Close()

	ctx := context.Background()
	client := mcp.NewClient(&mcp.Implementation{Name: "http-client", Version: "test"}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: ts.URL}, nil)
	require.NoError(t, err)
	defer session.Close()

	tools, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, tools.Tools)
}

func TestScriptParams(t *testing.T) {
	params, err := scriptParams(
		[]any{float64(3), 2.5, "x", nil, map[string]any{"a": float64(1)}, []any{"y"}, true},
		map[string]any{"n": float64(7)},
	)
	require.NoError(t, err)
	assert.Equal(t, store.Params{
		int64(3), 2.5, "x", nil, `{"a":1}`, `["y"]`, true,
		sql.Named("n", int64(7)),
	}, params)
}
