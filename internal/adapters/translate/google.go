package translate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tg-rag-bot/internal/domain"
	"tg-rag-bot/internal/infra/metrics"
)

const endpoint = "https://translation.googleapis.com/language/translate/v2"

const cacheTTL = 24 * time.Hour

// GoogleTranslator переводит текст на английский через Google Translate v2.
// Без ключа API и при любой ошибке возвращает исходный текст: перевод
// никогда не роняет конвейер.
type GoogleTranslator struct {
	http   *http.Client
	apiKey string
	cache  domain.Cache
	log    zerolog.Logger
}

// NewGoogle создаёт переводчик. cache может быть nil.
func NewGoogle(apiKey string, timeout time.Duration, cache domain.Cache, log zerolog.Logger) *GoogleTranslator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GoogleTranslator{
		http:   &http.Client{Timeout: timeout},
		apiKey: apiKey,
		cache:  cache,
		log:    log,
	}
}

var _ domain.Translator = (*GoogleTranslator)(nil)

// ToCanonical переводит текст на канонический рабочий язык (английский).
func (t *GoogleTranslator) ToCanonical(ctx context.Context, text string) string {
	if strings.TrimSpace(text) == "" || t.apiKey == "" {
		return text
	}

	cacheKey := "translate:" + hashText(text)
	if t.cache != nil {
		if cached, err := t.cache.Get(ctx, cacheKey); err == nil && len(cached) > 0 {
			return string(cached)
		}
	}

	translated, err := t.request(ctx, text)
	if err != nil {
		t.log.Warn().Err(err).Msg("translate: fallback to original text")
		return text
	}
	if t.cache != nil {
		_ = t.cache.Set(ctx, cacheKey, []byte(translated), cacheTTL)
	}
	return translated
}

func (t *GoogleTranslator) request(ctx context.Context, text string) (string, error) {
	form := url.Values{}
	form.Set("q", text)
	form.Set("target", "en")
	form.Set("key", t.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := t.http.Do(req)
	metrics.ObserveNetworkRequest("translate", "translate", "google", start, err)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var decoded struct {
		Data struct {
			Translations []struct {
				TranslatedText string `json:"translatedText"`
			} `json:"translations"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Data.Translations) == 0 {
		return "", fmt.Errorf("empty translations")
	}
	return decoded.Data.Translations[0].TranslatedText, nil
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:8])
}
