package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poirot-research/poirot/internal/config"
	"github.com/poirot-research/poirot/internal/schema"
)

type fixedProvider struct {
	dims int
}

func (f fixedProvider) Name() string    { return "fixed" }
func (f fixedProvider) Dimensions() int { return f.dims }
func (f fixedProvider) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range inputs {
		v := make([]float32, f.dims)
		for j := range v {
			v[j] = float32(j + 1)
		}
		out[i] = v
	}
	return out, nil
}

func TestWrapToDims(t *testing.T) {
	base := fixedProvider{dims: 4}
	assert.Equal(t, Provider(base), WrapToDims(base, 4, PadOrTruncate))

	padded := WrapToDims(base, 6, PadOrTruncate)
	assert.Equal(t, 6, padded.Dimensions())
	out, err := padded.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4, 0, 0}, out[0])

	cut, err := WrapToDims(base, 2, PadOrTruncate).Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2}, {1, 2}}, cut)

	_, err = WrapToDims(base, 2, Strict).Embed(context.Background(), []string{"a"})
	var de *DimensionError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 4, de.Got)
}

func TestOllamaEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		resp := map[string]any{"embeddings": [][]float32{{0.1, 0.2}, {0.3, 0.4}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewOllama(srv.URL, "", srv.Client())
	assert.Equal(t, "ollama", p.Name())
	assert.Equal(t, schema.Dimension, p.Dimensions())
	out, err := p.Embed(context.Background(), []string{"graph", "vector"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.1, 0.2}, {0.3, 0.4}}, out)
}

func TestOllamaLegacyEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/embed" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{1, 2}})
	}))
	defer srv.Close()

	out, err := NewOllama(srv.URL, "", srv.Client()).Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2}, {1, 2}}, out)
}

func TestOllamaErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "model not found"})
	}))
	defer srv.Close()

	_, err := NewOllama(srv.URL, "missing", srv.Client()).Embed(context.Background(), []string{"a"})
	assert.ErrorContains(t, err, "model not found")
}

func TestOpenAIEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.EqualValues(t, schema.Dimension, req["dimensions"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float64{2}},
				{"index": 0, "embedding": []float64{1}},
			},
		})
	}))
	defer srv.Close()

	p := NewOpenAI(srv.URL, "sk-test", "", srv.Client())
	assert.Equal(t, schema.Dimension, p.Dimensions())
	out, err := p.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {2}}, out)
}

func TestNewFromConfig(t *testing.T) {
	p, err := New(config.Embeddings{})
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = New(config.Embeddings{Provider: "ollama"})
	require.NoError(t, err)
	assert.Equal(t, schema.Dimension, p.Dimensions())

	p, err = New(config.Embeddings{Provider: "openai", APIKey: "k", Model: "text-embedding-ada-002"})
	require.NoError(t, err)
	assert.Equal(t, schema.Dimension, p.Dimensions())
	assert.Equal(t, "openai", p.Name())

	_, err = New(config.Embeddings{Provider: "openai"})
	assert.Error(t, err)
	_, err = New(config.Embeddings{Provider: "palm"})
	assert.Error(t, err)
}
