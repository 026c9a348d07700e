package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tg-rag-bot/internal/adapters/repo"
	"tg-rag-bot/internal/adapters/telegram"
	"tg-rag-bot/internal/domain"
	"tg-rag-bot/internal/infra/config"
	"tg-rag-bot/internal/infra/db"
	"tg-rag-bot/internal/infra/events"
	"tg-rag-bot/internal/infra/log"
	"tg-rag-bot/internal/infra/metrics"
	"tg-rag-bot/internal/usecase/pipeline"
)

// Панель управления оператора: статус, тумблеры, чёрный список, реестр
// моделей, история и лента событий шины.
func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("control: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	ring := events.NewRing(512)
	if cfg.RabbitURL != "" {
		rabbit, err := events.NewRabbitBus(cfg.RabbitURL, cfg.Events.Exchange)
		if err != nil {
			logger.Fatal().Err(err).Msg("control: нет подключения к RabbitMQ")
		}
		defer rabbit.Close()
		go func() {
			if err := rabbit.Subscribe(ctx, ring.Add); err != nil {
				logger.Error().Err(err).Msg("control: подписка на события оборвалась")
			}
		}()
	}

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		processing, _ := repoAdapter.GetBoolSetting(ctx, pipeline.SettingProcessingEnabled, true)
		sending, _ := repoAdapter.GetBoolSetting(ctx, telegram.SettingSendEnabled, true)
		queueSize, _ := repoAdapter.QueueSize(ctx)
		iteration, _ := repoAdapter.IterationCount(ctx)
		lastActivity, _ := repoAdapter.GetFloatSetting(ctx, pipeline.SettingLastMessageTime, 0)
		writeJSON(w, map[string]any{
			"processing_enabled": processing,
			"send_enabled":       sending,
			"queue_size":         queueSize,
			"iteration":          iteration,
			"last_activity_unix": int64(lastActivity),
		})
	})

	r.Post("/api/v1/processing", toggleHandler(repoAdapter, pipeline.SettingProcessingEnabled))
	r.Post("/api/v1/sending", toggleHandler(repoAdapter, telegram.SettingSendEnabled))

	r.Get("/api/v1/blacklist", func(w http.ResponseWriter, r *http.Request) {
		senders, err := repoAdapter.ListBlacklist(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"blacklist": senders})
	})
	r.Post("/api/v1/blacklist", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Sender string `json:"sender"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Sender == "" {
			http.Error(w, "sender is required", http.StatusBadRequest)
			return
		}
		if err := repoAdapter.AddToBlacklist(r.Context(), body.Sender); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.Delete("/api/v1/blacklist/{sender}", func(w http.ResponseWriter, r *http.Request) {
		sender := chi.URLParam(r, "sender")
		if err := repoAdapter.RemoveFromBlacklist(r.Context(), sender); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/api/v1/models", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		roster, err := repoAdapter.ListRoster(ctx, false)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		scores, err := repoAdapter.ScoresFor(ctx, domain.SubjectGlobal)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		averages := make(map[string]float64, len(scores))
		trials := make(map[string]int64, len(scores))
		for _, score := range scores {
			averages[score.ModelID] = score.AvgScore
			trials[score.ModelID] = score.TrialCount
		}
		type modelView struct {
			ID          string  `json:"id"`
			DisplayName string  `json:"display_name"`
			Active      bool    `json:"active"`
			AvgScore    float64 `json:"avg_score"`
			TrialCount  int64   `json:"trial_count"`
		}
		out := make([]modelView, 0, len(roster))
		for _, record := range roster {
			out = append(out, modelView{
				ID:          record.ID,
				DisplayName: record.DisplayName,
				Active:      record.Active,
				AvgScore:    averages[record.ID],
				TrialCount:  trials[record.ID],
			})
		}
		writeJSON(w, map[string]any{"models": out})
	})

	r.Get("/api/v1/history", func(w http.ResponseWriter, r *http.Request) {
		sender := r.URL.Query().Get("sender")
		if sender == "" {
			http.Error(w, "sender is required", http.StatusBadRequest)
			return
		}
		limit := cfg.Pipeline.HistoryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}
		entries, err := repoAdapter.RecentHistory(r.Context(), sender, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"history": entries})
	})

	r.Get("/api/v1/events", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"events": ring.Snapshot()})
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: r}
	go func() {
		logger.Info().Int("port", cfg.Port).Msg("control: запущен")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("control: HTTP сервер остановлен")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("control: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func toggleHandler(settings domain.SettingsRepo, key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Enabled bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := settings.SetSetting(r.Context(), key, body.Enabled); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"enabled": body.Enabled})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
