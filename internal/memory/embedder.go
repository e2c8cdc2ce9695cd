package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nebulinkco/aster/internal/config"
)

// Embedder turns text into a fixed-dimension vector. The store depends on
// this interface so tests can inject a deterministic implementation.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type httpEmbedder struct {
	apiKey     string
	baseURL    string
	model      string
	dimension  int
	httpClient *http.Client
}

func NewEmbedder(cfg config.EmbeddingConfig) Embedder {
	return &httpEmbedder{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *httpEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty embedding input")
	}
	if e.baseURL == "" {
		return nil, fmt.Errorf("missing embedding base url")
	}

	body := map[string]any{
		"model": e.model,
		"input": text,
	}
	if e.dimension > 0 {
		body["dimensions"] = e.dimension
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send embedding request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embedding http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var decoded struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(decoded.Data) == 0 {
		return nil, fmt.Errorf("empty embedding data")
	}

	vec := decoded.Data[0].Embedding
	if len(vec) == 0 {
		return nil, fmt.Errorf("empty embedding vector")
	}
	if e.dimension > 0 && len(vec) != e.dimension {
		return nil, fmt.Errorf("embedding dimension %d, want %d", len(vec), e.dimension)
	}
	return vec, nil
}
