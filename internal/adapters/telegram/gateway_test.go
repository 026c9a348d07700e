package telegram

import (
	"context"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-rag-bot/internal/domain"
)

type stubQueue struct {
	items []domain.QueueItem
}

func (s *stubQueue) Enqueue(_ context.Context, sender, text string) error {
	s.items = append(s.items, domain.QueueItem{ID: int64(len(s.items) + 1), Sender: sender, Text: text})
	return nil
}

func (s *stubQueue) PeekOldest(context.Context) (domain.QueueItem, bool, error) {
	if len(s.items) == 0 {
		return domain.QueueItem{}, false, nil
	}
	return s.items[0], true, nil
}

func (s *stubQueue) Remove(_ context.Context, id int64) error {
	for i, item := range s.items {
		if item.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
	}
	return nil
}

func (s *stubQueue) QueueSize(context.Context) (int, error) { return len(s.items), nil }

type stubBlacklist struct {
	blocked map[string]bool
}

func (s *stubBlacklist) AddToBlacklist(_ context.Context, sender string) error {
	s.blocked[sender] = true
	return nil
}

func (s *stubBlacklist) RemoveFromBlacklist(_ context.Context, sender string) error {
	delete(s.blocked, sender)
	return nil
}

func (s *stubBlacklist) IsBlacklisted(_ context.Context, sender string) (bool, error) {
	return s.blocked[sender], nil
}

func (s *stubBlacklist) ListBlacklist(context.Context) ([]string, error) { return nil, nil }

type stubSettings struct {
	values map[string]any
}

func (s *stubSettings) SetSetting(_ context.Context, key string, value any) error {
	s.values[key] = value
	return nil
}

func (s *stubSettings) GetBoolSetting(_ context.Context, key string, def bool) (bool, error) {
	if v, ok := s.values[key].(bool); ok {
		return v, nil
	}
	return def, nil
}

func (s *stubSettings) GetFloatSetting(_ context.Context, key string, def float64) (float64, error) {
	if v, ok := s.values[key].(float64); ok {
		return v, nil
	}
	return def, nil
}

func (s *stubSettings) GetStringSetting(_ context.Context, key string, def string) (string, error) {
	if v, ok := s.values[key].(string); ok {
		return v, nil
	}
	return def, nil
}

type stubBus struct {
	events []domain.Event
}

func (s *stubBus) Publish(_ context.Context, event domain.Event) error {
	s.events = append(s.events, event)
	return nil
}

func update(username string, chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{UserName: username},
		Chat: &tgbotapi.Chat{ID: chatID},
		Text: text,
	}}
}

func TestGatewayEnqueuesMessage(t *testing.T) {
	queue := &stubQueue{}
	blacklist := &stubBlacklist{blocked: map[string]bool{}}
	settings := &stubSettings{values: map[string]any{}}
	bus := &stubBus{}
	gw := NewGateway(zerolog.Nop(), queue, blacklist, settings, bus)

	gw.HandleUpdate(context.Background(), update("Alice", 42, " hello "))

	if len(queue.items) != 1 {
		t.Fatalf("ожидали 1 элемент в очереди, получили %d", len(queue.items))
	}
	if queue.items[0].Sender != "alice" || queue.items[0].Text != "hello" {
		t.Fatalf("неожиданный элемент очереди: %+v", queue.items[0])
	}
	if settings.values[ChatKey("alice")] != "42" {
		t.Fatalf("chat_id не сохранён: %v", settings.values)
	}
	var kinds []domain.EventKind
	for _, ev := range bus.events {
		kinds = append(kinds, ev.Kind)
	}
	if len(kinds) != 2 || kinds[0] != domain.EventIncomingMessage || kinds[1] != domain.EventQueueSize {
		t.Fatalf("неожиданные события: %v", kinds)
	}
}

func TestGatewayDropsBlacklisted(t *testing.T) {
	queue := &stubQueue{}
	blacklist := &stubBlacklist{blocked: map[string]bool{"spammer": true}}
	settings := &stubSettings{values: map[string]any{}}
	gw := NewGateway(zerolog.Nop(), queue, blacklist, settings, nil)

	gw.HandleUpdate(context.Background(), update("Spammer", 7, "buy now"))

	if len(queue.items) != 0 {
		t.Fatalf("сообщение из чёрного списка не должно попадать в очередь, получили %d", len(queue.items))
	}
	if len(settings.values) != 0 {
		t.Fatalf("заблокированный отправитель не должен менять настройки, получили %v", settings.values)
	}
}

func TestGatewayIgnoresEmptyText(t *testing.T) {
	queue := &stubQueue{}
	blacklist := &stubBlacklist{blocked: map[string]bool{}}
	settings := &stubSettings{values: map[string]any{}}
	gw := NewGateway(zerolog.Nop(), queue, blacklist, settings, nil)

	gw.HandleUpdate(context.Background(), update("alice", 42, "   "))
	gw.HandleUpdate(context.Background(), tgbotapi.Update{})

	if len(queue.items) != 0 {
		t.Fatalf("пустые апдейты не должны попадать в очередь, получили %d", len(queue.items))
	}
}

func TestSenderIDFallsBackToChatID(t *testing.T) {
	msg := &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1234}}
	if got := SenderID(msg); got != "1234" {
		t.Fatalf("ожидали chat_id как идентификатор, получили %q", got)
	}
}
