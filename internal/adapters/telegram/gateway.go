package telegram

import (
	"context"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-rag-bot/internal/domain"
	"tg-rag-bot/internal/infra/metrics"
)

// Gateway принимает апдейты Telegram и ставит сообщения в очередь.
// Ответы формирует воркер, шлюз только фиксирует входящий трафик.
type Gateway struct {
	log       zerolog.Logger
	queue     domain.QueueRepo
	blacklist domain.BlacklistRepo
	settings  domain.SettingsRepo
	bus       domain.EventBus
}

// NewGateway создаёт обработчик входящих апдейтов.
func NewGateway(log zerolog.Logger, queue domain.QueueRepo, blacklist domain.BlacklistRepo, settings domain.SettingsRepo, bus domain.EventBus) *Gateway {
	return &Gateway{
		log:       log,
		queue:     queue,
		blacklist: blacklist,
		settings:  settings,
		bus:       bus,
	}
}

// SenderID возвращает идентификатор отправителя сообщения:
// ник в нижнем регистре либо числовой chat_id, если ника нет.
func SenderID(msg *tgbotapi.Message) string {
	if msg.From != nil && msg.From.UserName != "" {
		return strings.ToLower(msg.From.UserName)
	}
	return strconv.FormatInt(msg.Chat.ID, 10)
}

// HandleUpdate обрабатывает входящий апдейт бота.
func (g *Gateway) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	sender := SenderID(msg)

	blocked, err := g.blacklist.IsBlacklisted(ctx, sender)
	if err != nil {
		g.log.Error().Err(err).Str("sender", sender).Msg("gateway: blacklist check failed")
		return
	}
	if blocked {
		metrics.MessagesDropped.WithLabelValues("blacklist").Inc()
		g.log.Debug().Str("sender", sender).Msg("gateway: sender is blacklisted, drop")
		return
	}

	// Запоминаем chat_id, чтобы транспорт мог ответить по нику.
	if err := g.settings.SetSetting(ctx, ChatKey(sender), strconv.FormatInt(msg.Chat.ID, 10)); err != nil {
		g.log.Warn().Err(err).Str("sender", sender).Msg("gateway: save chat id failed")
	}

	if err := g.queue.Enqueue(ctx, sender, text); err != nil {
		g.log.Error().Err(err).Str("sender", sender).Msg("gateway: enqueue failed")
		return
	}

	size, err := g.queue.QueueSize(ctx)
	if err != nil {
		g.log.Warn().Err(err).Msg("gateway: queue size failed")
	} else {
		metrics.QueueDepth.Set(float64(size))
	}

	g.publish(ctx, domain.Event{
		ID:     uuid.NewString(),
		Kind:   domain.EventIncomingMessage,
		Sender: sender,
		Text:   text,
		At:     time.Now().UTC(),
	})
	if err == nil {
		g.publish(ctx, domain.Event{
			ID:    uuid.NewString(),
			Kind:  domain.EventQueueSize,
			Value: int64(size),
			At:    time.Now().UTC(),
		})
	}
}

func (g *Gateway) publish(ctx context.Context, event domain.Event) {
	if g.bus == nil {
		return
	}
	if err := g.bus.Publish(ctx, event); err != nil {
		g.log.Warn().Err(err).Str("kind", string(event.Kind)).Msg("gateway: publish event failed")
	}
}
