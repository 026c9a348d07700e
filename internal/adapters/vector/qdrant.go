package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"tg-rag-bot/internal/domain"
	"tg-rag-bot/internal/infra/metrics"
)

// QdrantStore реализует domain.Retriever поверх REST API Qdrant.
// Используется одна коллекция; namespace хранится в payload и
// накладывается фильтром при поиске.
type QdrantStore struct {
	http       *http.Client
	url        string
	apiKey     string
	collection string
	embedder   *Embedder
}

// Config описывает подключение к Qdrant.
type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// NewQdrantStore создаёт хранилище.
func NewQdrantStore(cfg Config, embedder *Embedder) *QdrantStore {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &QdrantStore{
		http:       &http.Client{Timeout: timeout},
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		embedder:   embedder,
	}
}

// Init создаёт коллекцию, если её ещё нет.
func (s *QdrantStore) Init(ctx context.Context) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     s.embedder.Dimension(),
			"distance": "Cosine",
		},
	}
	endpoint := fmt.Sprintf("%s/collections/%s", s.url, s.collection)
	// Qdrant отвечает 200, если коллекция уже существует с той же схемой.
	if err := s.do(ctx, http.MethodPut, endpoint, body, nil, "ensure_collection"); err != nil {
		return fmt.Errorf("qdrant: create collection: %w", err)
	}
	return nil
}

// Upsert сохраняет текст с его эмбеддингом в указанный namespace.
func (s *QdrantStore) Upsert(ctx context.Context, text, namespace string, meta map[string]string) error {
	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("qdrant: embed: %w", err)
	}
	payload := map[string]any{
		"namespace":  namespace,
		"chunk_text": text,
	}
	for k, v := range meta {
		payload[k] = v
	}
	body := map[string]any{
		"points": []map[string]any{{
			"id":      uuid.NewString(),
			"vector":  embedding,
			"payload": payload,
		}},
	}
	endpoint := fmt.Sprintf("%s/collections/%s/points?wait=true", s.url, s.collection)
	if err := s.do(ctx, http.MethodPut, endpoint, body, nil, "upsert"); err != nil {
		return fmt.Errorf("qdrant: upsert: %w", err)
	}
	return nil
}

type searchResponse struct {
	Result []struct {
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

// Query ищет ближайшие фрагменты в namespace.
func (s *QdrantStore) Query(ctx context.Context, text, namespace string, topK int) ([]domain.ContextDoc, error) {
	if topK <= 0 {
		topK = 5
	}
	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("qdrant: embed: %w", err)
	}
	body := map[string]any{
		"vector":       embedding,
		"limit":        topK,
		"with_payload": true,
		"filter": map[string]any{
			"must": []map[string]any{{
				"key":   "namespace",
				"match": map[string]any{"value": namespace},
			}},
		},
	}
	endpoint := fmt.Sprintf("%s/collections/%s/points/search", s.url, s.collection)
	var decoded searchResponse
	if err := s.do(ctx, http.MethodPost, endpoint, body, &decoded, "search"); err != nil {
		return nil, fmt.Errorf("qdrant: search: %w", err)
	}
	docs := make([]domain.ContextDoc, 0, len(decoded.Result))
	for _, point := range decoded.Result {
		chunk, _ := point.Payload["chunk_text"].(string)
		if chunk == "" {
			continue
		}
		docs = append(docs, domain.ContextDoc{Text: chunk, Score: point.Score})
	}
	return docs, nil
}

func (s *QdrantStore) do(ctx context.Context, method, endpoint string, body any, out any, operation string) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	start := time.Now()
	resp, err := s.http.Do(req)
	metrics.ObserveNetworkRequest("qdrant", operation, s.collection, start, err)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

var _ domain.Retriever = (*QdrantStore)(nil)
