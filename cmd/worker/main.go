package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tg-rag-bot/internal/adapters/repo"
	"tg-rag-bot/internal/adapters/telegram"
	"tg-rag-bot/internal/adapters/translate"
	"tg-rag-bot/internal/adapters/vector"
	"tg-rag-bot/internal/domain"
	"tg-rag-bot/internal/infra/cache"
	"tg-rag-bot/internal/infra/config"
	"tg-rag-bot/internal/infra/db"
	"tg-rag-bot/internal/infra/events"
	"tg-rag-bot/internal/infra/log"
	"tg-rag-bot/internal/infra/metrics"
	"tg-rag-bot/internal/infra/openrouter"
	"tg-rag-bot/internal/usecase/ingest"
	"tg-rag-bot/internal/usecase/pipeline"
	"tg-rag-bot/internal/usecase/proactive"
	"tg-rag-bot/internal/usecase/scoring"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger, fmt.Sprintf(":%d", cfg.Port))

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	var translateCache domain.Cache
	if cfg.RedisAddr != "" {
		translateCache = cache.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	}

	var bus domain.EventBus
	if cfg.RabbitURL != "" {
		rabbit, err := events.NewRabbitBus(cfg.RabbitURL, cfg.Events.Exchange)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: нет подключения к RabbitMQ")
		}
		defer rabbit.Close()
		bus = rabbit
	}

	llmClient := openrouter.NewClient(cfg.OpenRouter.APIKey, cfg.OpenRouter.BaseURL, time.Duration(cfg.OpenRouter.TimeoutS)*time.Second)
	embedder := vector.NewEmbedder(cfg.Embedding.BaseURL, cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimension)
	retriever := vector.NewQdrantStore(vector.Config{
		URL:        cfg.Qdrant.URL,
		APIKey:     cfg.Qdrant.APIKey,
		Collection: cfg.Qdrant.Collection,
	}, embedder)
	if err := retriever.Init(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось создать коллекцию Qdrant")
	}

	translator := translate.NewGoogle(cfg.Translate.APIKey, time.Duration(cfg.Translate.TimeoutS)*time.Second, translateCache, logger)

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось создать бота")
	}
	transport := telegram.NewSender(botAPI, repoAdapter, logger)

	roles := domain.DefaultRoleTable().
		WithTemperature(domain.RoleTech, cfg.Roles.TechTemp).
		WithTemperature(domain.RoleFriend, cfg.Roles.FriendTemp).
		WithTemperature(domain.RoleAdvisor, cfg.Roles.AdvisorTemp).
		WithTemperature(domain.RoleAgitator, cfg.Roles.AgitatorTemp).
		WithTemperature(domain.RoleOperator, cfg.Roles.OperatorTemp)

	scorer := scoring.NewService(llmClient, repoAdapter, repoAdapter, repoAdapter, scoring.Config{
		TrialCount:     cfg.Scoring.TrialCount,
		TrialMaxTokens: cfg.Scoring.TrialMaxTokens,
	}, logger)

	worker := pipeline.NewService(pipeline.Deps{
		Queue:     repoAdapter,
		History:   repoAdapter,
		Blacklist: repoAdapter,
		Settings:  repoAdapter,
		Iteration: repoAdapter,
		Roster:    repoAdapter,
		Scores:    repoAdapter,
		Retriever: retriever,
		Translate: translator,
		Invoker:   llmClient,
		Transport: transport,
		Bus:       bus,
		Selector:  scorer,
		Roles:     roles,
	}, pipeline.Config{
		ContextGlobalK: cfg.Pipeline.ContextGlobalK,
		ContextUserK:   cfg.Pipeline.ContextUserK,
		MaxTokens:      cfg.OpenRouter.MaxTokens,
		RefreshPeriod:  cfg.Scoring.RefreshPeriod,
		TopN:           cfg.Scoring.TopN,
		SweepModels:    cfg.Scoring.InitialModels,
		PollInterval:   time.Duration(cfg.Pipeline.PollIntervalS) * time.Second,
	}, logger)

	bootstrap(ctx, cfg, logger, repoAdapter, llmClient, translator, retriever, scorer, roles)

	watcher := proactive.NewService(repoAdapter, repoAdapter, proactive.Config{
		InactivityN:   cfg.Proactive.InactivityN,
		MultiplierMin: cfg.Proactive.MultiplierMin,
		MultiplierMax: cfg.Proactive.MultiplierMax,
	}, logger)
	go watcher.Run(ctx)

	worker.Run(ctx)
}

// bootstrap приводит систему в рабочее состояние: чёрный список ролей,
// актуальный реестр моделей, документы и первичный скоринг.
func bootstrap(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger, repoAdapter *repo.Postgres, llmClient *openrouter.Client, translator domain.Translator, retriever domain.Retriever, scorer *scoring.Service, roles domain.RoleTable) {
	// Имена ролей блокируются, чтобы бот не отвечал сам себе.
	for _, role := range roles.Roles() {
		if err := repoAdapter.AddToBlacklist(ctx, strings.ToLower(string(role))); err != nil {
			logger.Warn().Err(err).Str("role", string(role)).Msg("worker: не удалось заблокировать роль")
		}
	}

	refreshRoster(ctx, cfg, logger, repoAdapter, llmClient)

	if cfg.Docs.RepoURL != "" {
		source, err := ingest.NewGitHubSource(cfg.Docs.RepoURL, cfg.Docs.GithubToken, 0)
		if err != nil {
			logger.Error().Err(err).Msg("worker: некорректный источник документов")
		} else {
			docs := ingest.NewService(source, repoAdapter, retriever, translator, ingest.NewChunker(cfg.Docs.ChunkLength, cfg.Docs.Overlap), logger)
			if err := docs.Sync(ctx); err != nil {
				logger.Error().Err(err).Msg("worker: синхронизация документов не удалась")
			}
		}
	}

	iteration, err := repoAdapter.IterationCount(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("worker: не удалось прочитать счётчик итераций")
		return
	}
	if iteration == 0 {
		initialScoring(ctx, cfg, logger, repoAdapter, scorer)
	}
}

func refreshRoster(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger, repoAdapter *repo.Postgres, llmClient *openrouter.Client) {
	candidates, err := llmClient.FetchCandidates(ctx, cfg.OpenRouter.OnlyFree)
	if err != nil || len(candidates) == 0 {
		logger.Warn().Err(err).Msg("worker: реестр недоступен, используем запасной список")
		candidates = candidates[:0]
		for i, id := range cfg.OpenRouter.FallbackModels {
			candidates = append(candidates, domain.ModelRecord{ID: id, DisplayName: id, Active: true, Pos: i})
		}
	}
	if len(candidates) == 0 {
		logger.Error().Msg("worker: пустой реестр моделей")
		return
	}
	if err := repoAdapter.ReplaceRoster(ctx, candidates); err != nil {
		logger.Error().Err(err).Msg("worker: не удалось обновить реестр")
		return
	}
	logger.Info().Int("models", len(candidates)).Msg("worker: реестр моделей обновлён")
}

// initialScoring даёт каждому кандидату стартовую оценку, чтобы выбор
// модели работал с первого сообщения.
func initialScoring(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger, repoAdapter *repo.Postgres, scorer *scoring.Service) {
	active, err := repoAdapter.ListRoster(ctx, true)
	if err != nil {
		logger.Error().Err(err).Msg("worker: не удалось прочитать реестр")
		return
	}
	ids := make([]string, 0, len(active))
	for _, record := range active {
		ids = append(ids, record.ID)
	}
	if cfg.Scoring.InitialModels > 0 && len(ids) > cfg.Scoring.InitialModels {
		ids = ids[:cfg.Scoring.InitialModels]
	}
	if len(ids) == 0 {
		return
	}
	logger.Info().Int("models", len(ids)).Msg("worker: первичный скоринг моделей")
	scorer.ScoreMany(ctx, ids, "Hello, how are you?", cfg.Scoring.InitialTemperature, domain.SubjectGlobal)
	metrics.ScoringSweepsTotal.WithLabelValues("initial").Inc()
	logger.Info().Msg("worker: первичный скоринг завершён")
}
