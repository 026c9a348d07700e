package proactive

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"tg-rag-bot/internal/domain"
	"tg-rag-bot/internal/usecase/pipeline"
)

// AgitatorSender — служебный отправитель проактивных сообщений.
// Сообщения от него проходят обычный конвейер и попадают в чат ответом
// бота. Имя в верхнем регистре, чтобы не совпасть с записью чёрного
// списка "agitator", которой блокируются одноимённые пользователи.
const AgitatorSender = "AGITATOR"

const agitatorPrompt = "the chat has been quiet for a while, nothing is happening. start a conversation"

// Config задаёт окно неактивности.
type Config struct {
	// InactivityN — базовый интервал неактивности в секундах.
	InactivityN int
	// Границы случайного множителя следующего срабатывания.
	MultiplierMin int
	MultiplierMax int
	// CheckInterval — период опроса времени последней активности.
	CheckInterval time.Duration
}

// Service будит чат после долгого затишья: по таймеру ставит в очередь
// сообщение от имени AGITATOR, которое конвейер обработает как обычное.
type Service struct {
	queue    domain.QueueRepo
	settings domain.SettingsRepo
	rand     *rand.Rand
	cfg      Config
	log      zerolog.Logger

	nextTrigger time.Time
}

// NewService создаёт проактивный сервис.
func NewService(queue domain.QueueRepo, settings domain.SettingsRepo, cfg Config, log zerolog.Logger) *Service {
	if cfg.InactivityN <= 0 {
		cfg.InactivityN = 10
	}
	if cfg.MultiplierMin <= 0 {
		cfg.MultiplierMin = 1
	}
	if cfg.MultiplierMax < cfg.MultiplierMin {
		cfg.MultiplierMax = cfg.MultiplierMin
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 5 * time.Second
	}
	s := &Service{
		queue:    queue,
		settings: settings,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
		cfg:      cfg,
		log:      log,
	}
	s.nextTrigger = time.Now().Add(s.window())
	return s
}

// window возвращает случайную задержку до следующего срабатывания.
func (s *Service) window() time.Duration {
	min := s.cfg.InactivityN * s.cfg.MultiplierMin
	max := s.cfg.InactivityN * s.cfg.MultiplierMax
	seconds := min
	if max > min {
		seconds = min + s.rand.Intn(max-min+1)
	}
	return time.Duration(seconds) * time.Second
}

// Run опрашивает время последней активности до отмены контекста.
func (s *Service) Run(ctx context.Context) {
	s.log.Info().Int("inactivity_n", s.cfg.InactivityN).Msg("proactive: watcher started")
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("proactive: watcher stopped")
			return
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

// check ставит сообщение агитатора в очередь, если чат молчит дольше
// случайного окна после последнего ответа бота.
func (s *Service) check(ctx context.Context) {
	lastActivity, err := s.settings.GetFloatSetting(ctx, pipeline.SettingLastMessageTime, 0)
	if err != nil {
		s.log.Warn().Err(err).Msg("proactive: read last activity failed")
		return
	}
	now := time.Now()
	if lastActivity > 0 {
		since := time.Unix(int64(lastActivity), 0)
		if trigger := since.Add(s.window()); trigger.After(s.nextTrigger) {
			// Активность была позже запланированного срабатывания.
			s.nextTrigger = trigger
		}
	}
	if now.Before(s.nextTrigger) {
		return
	}

	if err := s.queue.Enqueue(ctx, AgitatorSender, agitatorPrompt); err != nil {
		s.log.Error().Err(err).Msg("proactive: enqueue failed")
		return
	}
	s.log.Info().Msg("proactive: agitator message enqueued")
	s.nextTrigger = now.Add(s.window())
}
