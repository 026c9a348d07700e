package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-rag-bot/internal/domain"
	"tg-rag-bot/internal/infra/metrics"
)

// Ключи настроек конвейера.
const (
	// SettingProcessingEnabled выключает генерацию ответов: входящие
	// сообщения при этом продолжают сохраняться.
	SettingProcessingEnabled = "processing_enabled"
	// SettingRemoveEmoji управляет вырезанием эмодзи при нормализации.
	SettingRemoveEmoji = "remove_emoji"
	// SettingLastMessageTime хранит unix-время последнего ответа бота.
	SettingLastMessageTime = "last_message_time"
)

// ModelSelector — часть движка оценок, нужная конвейеру.
type ModelSelector interface {
	SelectModel(ctx context.Context, subject string) (string, bool, error)
	RebindBest(ctx context.Context, subject string) (string, bool, error)
	ScoreMany(ctx context.Context, modelIDs []string, prompt string, temperature float64, subject string) map[string]float64
}

// Config задаёт параметры конвейера.
type Config struct {
	ContextGlobalK int
	ContextUserK   int
	MaxTokens      int
	// RefreshPeriod — каждое такое по счёту сообщение запускает
	// глобальный пересчёт оценок вместо пользовательского.
	RefreshPeriod int
	TopN          int
	// SweepModels ограничивает число моделей в глобальном пересчёте.
	SweepModels  int
	PollInterval time.Duration
}

// Service последовательно обрабатывает сообщения из очереди: один
// потребитель, строгий FIFO, без конкуренции за общие оценки.
type Service struct {
	queue     domain.QueueRepo
	history   domain.HistoryRepo
	blacklist domain.BlacklistRepo
	settings  domain.SettingsRepo
	iter      domain.IterationRepo
	roster    domain.RosterRepo
	scores    domain.ScoreRepo
	retriever domain.Retriever
	translate domain.Translator
	invoker   domain.ModelInvoker
	transport domain.Transport
	bus       domain.EventBus
	selector  ModelSelector
	roles     domain.RoleTable
	cfg       Config
	log       zerolog.Logger
}

// Deps перечисляет зависимости конвейера.
type Deps struct {
	Queue     domain.QueueRepo
	History   domain.HistoryRepo
	Blacklist domain.BlacklistRepo
	Settings  domain.SettingsRepo
	Iteration domain.IterationRepo
	Roster    domain.RosterRepo
	Scores    domain.ScoreRepo
	Retriever domain.Retriever
	Translate domain.Translator
	Invoker   domain.ModelInvoker
	Transport domain.Transport
	Bus       domain.EventBus
	Selector  ModelSelector
	Roles     domain.RoleTable
}

// NewService создаёт конвейер обработки сообщений.
func NewService(deps Deps, cfg Config, log zerolog.Logger) *Service {
	if cfg.ContextGlobalK <= 0 {
		cfg.ContextGlobalK = 3
	}
	if cfg.ContextUserK <= 0 {
		cfg.ContextUserK = 5
	}
	if cfg.RefreshPeriod <= 0 {
		cfg.RefreshPeriod = 5
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Service{
		queue:     deps.Queue,
		history:   deps.History,
		blacklist: deps.Blacklist,
		settings:  deps.Settings,
		iter:      deps.Iteration,
		roster:    deps.Roster,
		scores:    deps.Scores,
		retriever: deps.Retriever,
		translate: deps.Translate,
		invoker:   deps.Invoker,
		transport: deps.Transport,
		bus:       deps.Bus,
		selector:  deps.Selector,
		roles:     deps.Roles,
		cfg:       cfg,
		log:       log,
	}
}

// Run крутит цикл выборки из очереди до отмены контекста.
// Начатое сообщение дорабатывается до конца: отмена проверяется только
// между сообщениями.
func (s *Service) Run(ctx context.Context) {
	s.log.Info().Dur("poll_interval", s.cfg.PollInterval).Msg("pipeline: worker started")
	s.publish(ctx, domain.Event{Kind: domain.EventStatus, Text: "started"})
	defer s.publish(context.WithoutCancel(ctx), domain.Event{Kind: domain.EventStatus, Text: "stopped"})
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("pipeline: worker stopped")
			return
		default:
		}

		item, ok, err := s.queue.PeekOldest(ctx)
		if err != nil {
			s.log.Error().Err(err).Msg("pipeline: peek queue failed")
		}
		if err != nil || !ok {
			select {
			case <-ctx.Done():
				s.log.Info().Msg("pipeline: worker stopped")
				return
			case <-time.After(s.cfg.PollInterval):
			}
			continue
		}

		// Обработку не прерываем отменой: сообщение либо доходит до
		// конца, либо падает по своим таймаутам.
		workCtx := context.WithoutCancel(ctx)
		start := time.Now()
		if err := s.ProcessMessage(workCtx, item); err != nil {
			s.log.Error().Err(err).Str("sender", item.Sender).Msg("pipeline: process message failed")
		}
		metrics.MessageProcessSeconds.Observe(time.Since(start).Seconds())

		// Сообщение потребляется в любом исходе, повторов нет.
		if err := s.queue.Remove(workCtx, item.ID); err != nil {
			s.log.Error().Err(err).Int64("id", item.ID).Msg("pipeline: remove from queue failed")
		}
		if size, err := s.queue.QueueSize(workCtx); err == nil {
			metrics.QueueDepth.Set(float64(size))
			s.publish(workCtx, domain.Event{Kind: domain.EventQueueSize, Value: int64(size)})
		}
	}
}

// ProcessMessage ведёт одно сообщение от очереди до ответа.
func (s *Service) ProcessMessage(ctx context.Context, item domain.QueueItem) error {
	blocked, err := s.blacklist.IsBlacklisted(ctx, item.Sender)
	if err != nil {
		return fmt.Errorf("pipeline: blacklist check: %w", err)
	}
	if blocked {
		metrics.MessagesDropped.WithLabelValues("blacklist").Inc()
		s.log.Info().Str("sender", item.Sender).Msg("pipeline: sender is blacklisted, drop")
		return nil
	}

	stripEmoji, _ := s.settings.GetBoolSetting(ctx, SettingRemoveEmoji, true)
	cleaned := Clean(item.Text, stripEmoji)
	if cleaned == "" {
		metrics.MessagesDropped.WithLabelValues("empty").Inc()
		return nil
	}
	translated := s.translate.ToCanonical(ctx, cleaned)

	if err := s.history.AppendHistory(ctx, item.Sender, cleaned, domain.HistoryRoleUser); err != nil {
		return fmt.Errorf("pipeline: append history: %w", err)
	}
	s.upsertForms(ctx, item.Sender, cleaned, translated)

	enabled, err := s.settings.GetBoolSetting(ctx, SettingProcessingEnabled, true)
	if err != nil {
		return fmt.Errorf("pipeline: read processing flag: %w", err)
	}
	if !enabled {
		s.log.Info().Str("sender", item.Sender).Msg("pipeline: processing disabled, message archived")
		return nil
	}

	rule := s.roles.Classify(translated)
	s.log.Debug().Str("role", string(rule.Role)).Float64("temperature", rule.Temperature).Msg("pipeline: role classified")

	prompt := s.buildPrompt(ctx, item.Sender, rule.Role, translated)

	modelID, ok := s.resolveModel(ctx, item.Sender)
	if !ok {
		metrics.MessagesDropped.WithLabelValues("no_model").Inc()
		s.log.Error().Str("sender", item.Sender).Msg("pipeline: no model available, abort")
		return nil
	}

	reply, err := s.invoker.Invoke(ctx, modelID, prompt, rule.Temperature, s.cfg.MaxTokens)
	if err != nil || strings.TrimSpace(reply) == "" {
		metrics.MessagesDropped.WithLabelValues("generation_failed").Inc()
		s.log.Error().Err(err).Str("model", modelID).Msg("pipeline: generation failed, no reply")
		return nil
	}

	replyCanonical := s.translate.ToCanonical(ctx, reply)
	if err := s.history.AppendHistory(ctx, item.Sender, reply, domain.HistoryRoleBot); err != nil {
		return fmt.Errorf("pipeline: append reply history: %w", err)
	}
	s.upsertForms(ctx, item.Sender, reply, replyCanonical)

	if err := s.transport.Send(ctx, item.Sender, reply); err != nil {
		s.log.Error().Err(err).Str("sender", item.Sender).Msg("pipeline: send reply failed")
	}
	if err := s.settings.SetSetting(ctx, SettingLastMessageTime, float64(time.Now().Unix())); err != nil {
		s.log.Warn().Err(err).Msg("pipeline: save last activity failed")
	}
	s.publish(ctx, domain.Event{Kind: domain.EventOutgoingMessage, Sender: item.Sender, Text: reply})

	iteration, err := s.iter.IncrementIteration(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: advance iteration: %w", err)
	}
	metrics.MessagesProcessed.Inc()
	s.publish(ctx, domain.Event{Kind: domain.EventProcessedCount, Value: iteration})

	s.refreshScores(ctx, item.Sender, translated, rule.Temperature, iteration)
	return nil
}

// upsertForms кладёт в векторное хранилище оригинал и перевод.
// При тождественном переводе выполняется ровно одна запись.
func (s *Service) upsertForms(ctx context.Context, sender, original, translated string) {
	if err := s.retriever.Upsert(ctx, original, sender, nil); err != nil {
		s.log.Warn().Err(err).Str("sender", sender).Msg("pipeline: upsert original failed")
	}
	if translated == original {
		return
	}
	if err := s.retriever.Upsert(ctx, translated, sender, map[string]string{"translated": "true"}); err != nil {
		s.log.Warn().Err(err).Str("sender", sender).Msg("pipeline: upsert translation failed")
	}
}

// buildPrompt собирает промпт: сначала глобальный контекст, затем
// контекст отправителя, затем само сообщение.
func (s *Service) buildPrompt(ctx context.Context, sender string, role domain.Role, text string) string {
	var contexts []string
	global, err := s.retriever.Query(ctx, text, domain.SubjectGlobal, s.cfg.ContextGlobalK)
	if err != nil {
		s.log.Warn().Err(err).Msg("pipeline: global context query failed")
	}
	personal, err := s.retriever.Query(ctx, text, sender, s.cfg.ContextUserK)
	if err != nil {
		s.log.Warn().Err(err).Str("sender", sender).Msg("pipeline: sender context query failed")
	}
	for _, doc := range append(global, personal...) {
		contexts = append(contexts, doc.Text)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s assistant.\n", role)
	fmt.Fprintf(&b, "Context: %s\n\n", strings.Join(contexts, "\n"))
	fmt.Fprintf(&b, "User message: %s\n\n", text)
	b.WriteString("Respond in the same language as the original user message. Be helpful and friendly.")
	return b.String()
}

// resolveModel выбирает модель через движок оценок, затем реестр.
func (s *Service) resolveModel(ctx context.Context, sender string) (string, bool) {
	modelID, ok, err := s.selector.SelectModel(ctx, sender)
	if err != nil {
		s.log.Error().Err(err).Str("sender", sender).Msg("pipeline: select model failed")
	}
	if ok {
		return modelID, true
	}
	active, err := s.roster.ListRoster(ctx, true)
	if err != nil {
		s.log.Error().Err(err).Msg("pipeline: list roster failed")
		return "", false
	}
	if len(active) == 0 {
		return "", false
	}
	s.log.Warn().Str("model", active[0].ID).Str("sender", sender).Msg("pipeline: falling back to first active model")
	return active[0].ID, true
}

// refreshScores реализует двухскоростную каденцию пересчёта: каждое
// RefreshPeriod-е сообщение — глобальный проход, остальные — пересчёт
// топа для отправителя с перепривязкой.
func (s *Service) refreshScores(ctx context.Context, sender, text string, temperature float64, iteration int64) {
	if iteration%int64(s.cfg.RefreshPeriod) == 0 {
		active, err := s.roster.ListRoster(ctx, true)
		if err != nil {
			s.log.Error().Err(err).Msg("pipeline: list roster for sweep failed")
			return
		}
		ids := make([]string, 0, len(active))
		for _, record := range active {
			ids = append(ids, record.ID)
		}
		if s.cfg.SweepModels > 0 && len(ids) > s.cfg.SweepModels {
			ids = ids[:s.cfg.SweepModels]
		}
		s.log.Info().Int64("iteration", iteration).Int("models", len(ids)).Msg("pipeline: global rescore sweep")
		s.selector.ScoreMany(ctx, ids, text, temperature, domain.SubjectGlobal)
		metrics.ScoringSweepsTotal.WithLabelValues("global").Inc()
		return
	}

	top, err := s.scores.TopModels(ctx, s.cfg.TopN)
	if err != nil {
		s.log.Error().Err(err).Msg("pipeline: top models failed")
		return
	}
	if len(top) > 0 {
		s.selector.ScoreMany(ctx, top, text, temperature, sender)
	}
	if _, _, err := s.selector.RebindBest(ctx, sender); err != nil {
		s.log.Error().Err(err).Str("sender", sender).Msg("pipeline: rebind failed")
	}
	metrics.ScoringSweepsTotal.WithLabelValues("sender").Inc()
}

func (s *Service) publish(ctx context.Context, event domain.Event) {
	if s.bus == nil {
		return
	}
	event.ID = uuid.NewString()
	event.At = time.Now().UTC()
	if err := s.bus.Publish(ctx, event); err != nil {
		s.log.Warn().Err(err).Str("kind", string(event.Kind)).Msg("pipeline: publish event failed")
	}
}
