package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/poirot-research/poirot/internal/schema"
)

const (
	defaultOpenAIBase  = "https://api.openai.com/v1"
	defaultOpenAIModel = "text-embedding-3-small"
)

type openAIProvider struct {
	base   string
	model  string
	apiKey string
	http   *http.Client
}

// NewOpenAI uses the embeddings endpoint at base (the public API when
// empty). The text-embedding-3 models are asked for the store's dimension
// directly.
func NewOpenAI(base, apiKey, model string, client *http.Client) Provider {
	if strings.TrimSpace(base) == "" {
		base = defaultOpenAIBase
	}
	if strings.TrimSpace(model) == "" {
		model = defaultOpenAIModel
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &openAIProvider{base: strings.TrimRight(base, "/"), model: model, apiKey: apiKey, http: client}
}

func (p *openAIProvider) Name() string { return "openai" }

func (p *openAIProvider) Dimensions() int {
	if p.shortens() {
		return schema.Dimension
	}
	return 1536
}

// shortens reports whether the model accepts the dimensions parameter.
func (p *openAIProvider) shortens() bool {
	return strings.HasPrefix(p.model, "text-embedding-3")
}

func (p *openAIProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}
	payload := map[string]any{
		"model": p.model,
		"input": inputs,
	}
	if p.shortens() {
		payload["dimensions"] = schema.Dimension
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus("openai", resp); err != nil {
		return nil, err
	}
	var out struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("openai: decoding response: %w", err)
	}
	if len(out.Data) != len(inputs) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(out.Data), len(inputs))
	}
	sort.Slice(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })
	res := make([][]float32, 0, len(out.Data))
	for _, d := range out.Data {
		res = append(res, f64to32(d.Embedding))
	}
	return res, nil
}
