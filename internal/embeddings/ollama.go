package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
)

const (
	defaultOllamaHost  = "http://localhost:11434"
	defaultOllamaModel = "nomic-embed-text"
)

type ollamaProvider struct {
	host  string
	model string
	http  *http.Client
}

// NewOllama talks to an Ollama server. nomic-embed-text produces 768
// components, which is what the store indexes.
func NewOllama(host, model string, client *http.Client) Provider {
	if strings.TrimSpace(host) == "" {
		host = defaultOllamaHost
	}
	if strings.TrimSpace(model) == "" {
		model = defaultOllamaModel
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &ollamaProvider{host: host, model: model, http: client}
}

func (p *ollamaProvider) Name() string    { return "ollama" }
func (p *ollamaProvider) Dimensions() int { return 768 }

func (p *ollamaProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}
	base, err := url.Parse(p.host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host: %w", err)
	}
	body, err := json.Marshal(map[string]any{"model": p.model, "input": inputs})
	if err != nil {
		return nil, err
	}

	// /api/embed takes a batch; servers older than 0.2.6 only have
	// /api/embeddings, which takes one prompt per request.
	resp, err := p.post(ctx, base, "/api/embed", body)
	if err != nil && (isTimeout(err) || errors.Is(err, context.DeadlineExceeded)) && ctx.Err() == nil {
		resp, err = p.post(ctx, base, "/api/embed", body)
	}
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusMethodNotAllowed {
		resp.Body.Close()
		return p.embedLegacy(ctx, base, inputs)
	}
	defer resp.Body.Close()
	if err := checkStatus("ollama", resp); err != nil {
		return nil, err
	}
	var out struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ollama: decoding response: %w", err)
	}
	if len(out.Embeddings) != len(inputs) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(out.Embeddings), len(inputs))
	}
	return out.Embeddings, nil
}

func (p *ollamaProvider) embedLegacy(ctx context.Context, base *url.URL, inputs []string) ([][]float32, error) {
	results := make([][]float32, 0, len(inputs))
	for _, in := range inputs {
		body, err := json.Marshal(map[string]any{"model": p.model, "prompt": in})
		if err != nil {
			return nil, err
		}
		resp, err := p.post(ctx, base, "/api/embeddings", body)
		if err != nil {
			return nil, err
		}
		var single struct {
			Embedding []float64 `json:"embedding"`
		}
		err = checkStatus("ollama", resp)
		if err == nil {
			err = json.NewDecoder(resp.Body).Decode(&single)
		}
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		if len(single.Embedding) == 0 {
			return nil, errors.New("ollama returned no embedding")
		}
		results = append(results, f64to32(single.Embedding))
	}
	return results, nil
}

func (p *ollamaProvider) post(ctx context.Context, base *url.URL, endpoint string, body []byte) (*http.Response, error) {
	u := *base
	u.Path = path.Join(u.Path, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return p.http.Do(req)
}

func checkStatus(provider string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var b struct {
		Error json.RawMessage `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&b)
	var msg string
	if len(b.Error) > 0 {
		var s string
		var obj struct {
			Message string `json:"message"`
		}
		switch {
		case json.Unmarshal(b.Error, &s) == nil:
			msg = s
		case json.Unmarshal(b.Error, &obj) == nil:
			msg = obj.Message
		}
	}
	if msg != "" {
		return fmt.Errorf("%s error: %s", provider, msg)
	}
	return fmt.Errorf("%s http status: %s", provider, resp.Status)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
