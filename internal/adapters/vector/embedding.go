package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tg-rag-bot/internal/infra/metrics"
)

// Embedder превращает текст в вектор через OpenAI-совместимый API.
type Embedder struct {
	http      *http.Client
	baseURL   string
	apiKey    string
	model     string
	dimension int
}

// NewEmbedder создаёт клиента эмбеддингов.
func NewEmbedder(baseURL, apiKey, model string, dimension int) *Embedder {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Embedder{
		http:      &http.Client{Timeout: 15 * time.Second},
		baseURL:   baseURL,
		apiKey:    apiKey,
		model:     model,
		dimension: dimension,
	}
}

// Dimension возвращает размерность векторов.
func (e *Embedder) Dimension() int { return e.dimension }

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed возвращает вектор для текста.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if e.apiKey == "" {
		return nil, fmt.Errorf("embedding: api key is empty")
	}
	body, err := json.Marshal(embeddingRequest{Model: e.model, Input: []string{text}, Dimensions: e.dimension})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	start := time.Now()
	resp, err := e.http.Do(req)
	metrics.ObserveNetworkRequest("embedding", "embed", e.model, start, err)
	if err != nil {
		return nil, fmt.Errorf("embedding: do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("embedding: unexpected status %d", resp.StatusCode)
	}
	var decoded embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	if len(decoded.Data) == 0 {
		return nil, fmt.Errorf("embedding: empty response")
	}
	return decoded.Data[0].Embedding, nil
}
