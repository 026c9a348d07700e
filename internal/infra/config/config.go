package config

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`

	Telegram struct {
		Token      string `envconfig:"TG_BOT_TOKEN"`
		WebhookURL string `envconfig:"TG_WEBHOOK_URL"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Events struct {
		Exchange string `envconfig:"EVENTS_EXCHANGE" default:"bot_events"`
	} `envconfig:""`

	OpenRouter struct {
		APIKey   string `envconfig:"OPENROUTER_API_KEY"`
		BaseURL  string `envconfig:"OPENROUTER_URL" default:"https://openrouter.ai/api/v1"`
		TimeoutS int    `envconfig:"LLM_TIMEOUT" default:"30"`
		// MaxTokens ограничивает длину ответа при генерации реплик.
		MaxTokens int `envconfig:"MAX_TOKENS" default:"256"`
		// FallbackModels используется, когда нет ключа API или реестр недоступен.
		FallbackModels []string `envconfig:"FREE_LLMS_DEFAULT"`
		OnlyFree       bool     `envconfig:"ONLY_FREE_LLMS" default:"true"`
	} `envconfig:""`

	Qdrant struct {
		URL        string `envconfig:"QDRANT_URL" default:"http://localhost:6333"`
		APIKey     string `envconfig:"QDRANT_API_KEY"`
		Collection string `envconfig:"QDRANT_COLLECTION" default:"bot_context"`
	} `envconfig:""`

	Embedding struct {
		BaseURL   string `envconfig:"EMBEDDING_URL" default:"https://api.openai.com/v1"`
		APIKey    string `envconfig:"EMBEDDING_API_KEY"`
		Model     string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
		Dimension int    `envconfig:"EMBED_DIM" default:"384"`
	} `envconfig:""`

	Translate struct {
		APIKey   string `envconfig:"TRANSLATE_API_KEY"`
		TimeoutS int    `envconfig:"TRANSLATE_TIMEOUT" default:"10"`
	} `envconfig:""`

	Docs struct {
		RepoURL     string `envconfig:"REPO_URL"`
		GithubToken string `envconfig:"GITHUB_TOKEN"`
		ChunkLength int    `envconfig:"CHUNK_LENGTH" default:"300"`
		Overlap     int    `envconfig:"OVERLAP" default:"50"`
	} `envconfig:""`

	Scoring struct {
		TrialCount         int     `envconfig:"TRIAL_COUNT" default:"3"`
		RefreshPeriod      int     `envconfig:"SCORE_REFRESH_EVERY" default:"5"`
		TopN               int     `envconfig:"SCORE_TOP_N" default:"10"`
		InitialModels      int     `envconfig:"INITIAL_SCORE_MODELS" default:"20"`
		TrialMaxTokens     int     `envconfig:"MAX_TOKENS_SCORE_RESPONSE" default:"128"`
		InitialTemperature float64 `envconfig:"INITIAL_SCORE_TEMP" default:"0.7"`
	} `envconfig:""`

	Roles struct {
		TechTemp     float64 `envconfig:"TECH_TEMP" default:"0.1"`
		FriendTemp   float64 `envconfig:"FRIEND_TEMP" default:"0.9"`
		AdvisorTemp  float64 `envconfig:"ADVISOR_TEMP" default:"0.4"`
		AgitatorTemp float64 `envconfig:"AGITATOR_TEMP" default:"0.5"`
		OperatorTemp float64 `envconfig:"OPERATOR_TEMP" default:"0.3"`
	} `envconfig:""`

	Pipeline struct {
		ContextGlobalK int `envconfig:"CONTEXT_GLOBAL_K" default:"3"`
		ContextUserK   int `envconfig:"CONTEXT_USER_K" default:"5"`
		HistoryLimit   int `envconfig:"HISTORY_LIMIT" default:"10"`
		PollIntervalS  int `envconfig:"QUEUE_POLL_INTERVAL" default:"1"`
	} `envconfig:""`

	Proactive struct {
		InactivityN   int `envconfig:"INACTIVITY_N" default:"10"`
		MultiplierMin int `envconfig:"RANDOM_MULTIPLIER_MIN" default:"1"`
		MultiplierMax int `envconfig:"RANDOM_MULTIPLIER_MAX" default:"5"`
	} `envconfig:""`
}

// Load загружает конфиг из .env (если есть) и окружения.
func Load() AppConfig {
	_ = godotenv.Load()
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
