package telegram

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-rag-bot/internal/domain"
	"tg-rag-bot/internal/infra/metrics"
)

// SettingSendEnabled управляет отправкой исходящих сообщений.
// При выключенном флаге Send молча завершается без ошибки.
const SettingSendEnabled = "send_enabled"

// ChatKey возвращает ключ настройки с chat_id отправителя.
// Заполняется шлюзом при первом входящем сообщении, чтобы исходящие
// можно было адресовать по нику.
func ChatKey(sender string) string { return "chat_id:" + sender }

// Sender отправляет сообщения в Telegram, разбивая длинные ответы.
type Sender struct {
	bot      *tgbotapi.BotAPI
	settings domain.SettingsRepo
	log      zerolog.Logger
}

// NewSender создаёт транспорт исходящих сообщений.
func NewSender(bot *tgbotapi.BotAPI, settings domain.SettingsRepo, log zerolog.Logger) *Sender {
	return &Sender{bot: bot, settings: settings, log: log}
}

var _ domain.Transport = (*Sender)(nil)

// Send отправляет текст получателю. recipient — ник отправителя или
// числовой chat_id. При выключенной отправке ничего не делает.
func (s *Sender) Send(ctx context.Context, recipient, text string) error {
	enabled, err := s.settings.GetBoolSetting(ctx, SettingSendEnabled, true)
	if err == nil && !enabled {
		s.log.Debug().Str("recipient", recipient).Msg("telegram: sending disabled, skip")
		return nil
	}

	chatID, err := s.resolveChat(ctx, recipient)
	if err != nil {
		metrics.BotSendErrors.Inc()
		return fmt.Errorf("telegram: resolve chat for %q: %w", recipient, err)
	}

	for _, part := range SplitMessage(text) {
		start := time.Now()
		_, err := s.bot.Send(tgbotapi.NewMessage(chatID, part))
		metrics.ObserveNetworkRequest("telegram", "send_message", "bot_api", start, err)
		if err != nil {
			metrics.BotSendErrors.Inc()
			return fmt.Errorf("telegram: send to %d: %w", chatID, err)
		}
	}
	return nil
}

func (s *Sender) resolveChat(ctx context.Context, recipient string) (int64, error) {
	if id, err := strconv.ParseInt(recipient, 10, 64); err == nil {
		return id, nil
	}
	raw, err := s.settings.GetStringSetting(ctx, ChatKey(recipient), "")
	if err != nil {
		return 0, fmt.Errorf("load chat id: %w", err)
	}
	if raw == "" {
		return 0, fmt.Errorf("chat id is unknown")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse chat id %q: %w", raw, err)
	}
	return id, nil
}
