package proactive

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-rag-bot/internal/domain"
	"tg-rag-bot/internal/usecase/pipeline"
)

type fakeQueue struct {
	items []domain.QueueItem
}

func (f *fakeQueue) Enqueue(_ context.Context, sender, text string) error {
	f.items = append(f.items, domain.QueueItem{Sender: sender, Text: text})
	return nil
}

func (f *fakeQueue) PeekOldest(context.Context) (domain.QueueItem, bool, error) {
	return domain.QueueItem{}, false, nil
}

func (f *fakeQueue) Remove(context.Context, int64) error { return nil }

func (f *fakeQueue) QueueSize(context.Context) (int, error) { return len(f.items), nil }

type fakeSettings struct {
	lastActivity float64
}

func (f *fakeSettings) SetSetting(context.Context, string, any) error { return nil }
func (f *fakeSettings) GetBoolSetting(_ context.Context, _ string, def bool) (bool, error) {
	return def, nil
}
func (f *fakeSettings) GetFloatSetting(_ context.Context, key string, def float64) (float64, error) {
	if key == pipeline.SettingLastMessageTime && f.lastActivity > 0 {
		return f.lastActivity, nil
	}
	return def, nil
}
func (f *fakeSettings) GetStringSetting(_ context.Context, _ string, def string) (string, error) {
	return def, nil
}

func TestCheckEnqueuesAfterInactivity(t *testing.T) {
	queue := &fakeQueue{}
	settings := &fakeSettings{lastActivity: float64(time.Now().Add(-time.Hour).Unix())}
	svc := NewService(queue, settings, Config{InactivityN: 1, MultiplierMin: 1, MultiplierMax: 1}, zerolog.Nop())
	svc.nextTrigger = time.Now().Add(-time.Minute)

	svc.check(context.Background())

	if len(queue.items) != 1 {
		t.Fatalf("ожидали сообщение агитатора, получили %d", len(queue.items))
	}
	if queue.items[0].Sender != AgitatorSender {
		t.Fatalf("отправителем должен быть %s, получили %s", AgitatorSender, queue.items[0].Sender)
	}
	if !svc.nextTrigger.After(time.Now().Add(-time.Second)) {
		t.Fatal("после срабатывания окно должно перепланироваться")
	}
}

func TestCheckSilentWhileChatActive(t *testing.T) {
	queue := &fakeQueue{}
	settings := &fakeSettings{lastActivity: float64(time.Now().Unix())}
	svc := NewService(queue, settings, Config{InactivityN: 60, MultiplierMin: 1, MultiplierMax: 1}, zerolog.Nop())

	svc.check(context.Background())

	if len(queue.items) != 0 {
		t.Fatal("при свежей активности сообщений быть не должно")
	}
}

func TestActivityPushesTriggerForward(t *testing.T) {
	queue := &fakeQueue{}
	now := time.Now()
	settings := &fakeSettings{lastActivity: float64(now.Unix())}
	svc := NewService(queue, settings, Config{InactivityN: 60, MultiplierMin: 2, MultiplierMax: 2}, zerolog.Nop())
	svc.nextTrigger = now.Add(-time.Minute)

	svc.check(context.Background())

	if len(queue.items) != 0 {
		t.Fatal("свежая активность должна отменить срабатывание")
	}
	if !svc.nextTrigger.After(now.Add(time.Minute)) {
		t.Fatalf("триггер должен сдвинуться вперёд: %v", svc.nextTrigger)
	}
}
