package domain

import (
	"context"
	"time"
)

// SettingsRepo хранит скалярные настройки с дефолтами.
type SettingsRepo interface {
	SetSetting(ctx context.Context, key string, value any) error
	GetBoolSetting(ctx context.Context, key string, def bool) (bool, error)
	GetFloatSetting(ctx context.Context, key string, def float64) (float64, error)
	GetStringSetting(ctx context.Context, key string, def string) (string, error)
}

// QueueRepo управляет очередью входящих сообщений. FIFO по id,
// единственный потребитель.
type QueueRepo interface {
	Enqueue(ctx context.Context, sender, text string) error
	// PeekOldest возвращает самый старый элемент очереди без удаления.
	PeekOldest(ctx context.Context) (QueueItem, bool, error)
	Remove(ctx context.Context, id int64) error
	QueueSize(ctx context.Context) (int, error)
}

// HistoryRepo хранит историю переписки. Только добавление.
type HistoryRepo interface {
	AppendHistory(ctx context.Context, sender, text string, role HistoryRole) error
	// RecentHistory возвращает последние limit записей отправителя,
	// упорядоченные от старых к новым.
	RecentHistory(ctx context.Context, sender string, limit int) ([]HistoryEntry, error)
}

// RosterRepo управляет реестром моделей.
type RosterRepo interface {
	// ReplaceRoster целиком заменяет реестр: новые модели добавляются,
	// отсутствующие помечаются неактивными, записи не удаляются.
	ReplaceRoster(ctx context.Context, models []ModelRecord) error
	ListRoster(ctx context.Context, onlyActive bool) ([]ModelRecord, error)
}

// ScoreRepo хранит накопительные оценки моделей.
type ScoreRepo interface {
	// RecordTrials атомарно добавляет серию испытаний к оценке модели:
	// trial_count += count, score_sum += sum, avg пересчитывается.
	RecordTrials(ctx context.Context, subject, modelID string, sum float64, count int64) error
	ScoresFor(ctx context.Context, subject string) ([]ModelScore, error)
	// TopModels возвращает модели по убыванию глобальной средней оценки.
	TopModels(ctx context.Context, limit int) ([]string, error)
}

// BindingRepo хранит привязку модели к пользователю.
type BindingRepo interface {
	SetBinding(ctx context.Context, userID, modelID string) error
	GetBinding(ctx context.Context, userID string) (string, bool, error)
}

// BlacklistRepo управляет чёрным списком отправителей.
type BlacklistRepo interface {
	AddToBlacklist(ctx context.Context, sender string) error
	RemoveFromBlacklist(ctx context.Context, sender string) error
	IsBlacklisted(ctx context.Context, sender string) (bool, error)
	ListBlacklist(ctx context.Context) ([]string, error)
}

// DocSyncRepo хранит маркеры обработанных ревизий источников документов.
type DocSyncRepo interface {
	SetDocSync(ctx context.Context, sourceID, checkpoint string) error
	GetDocSync(ctx context.Context, sourceID string) (string, bool, error)
}

// IterationRepo ведёт счётчик полностью обработанных сообщений.
type IterationRepo interface {
	IncrementIteration(ctx context.Context) (int64, error)
	IterationCount(ctx context.Context) (int64, error)
}

// Retriever описывает векторное хранилище контекста.
// Namespace "0" зарезервирован под общие документы, остальные — по
// отправителям.
type Retriever interface {
	Upsert(ctx context.Context, text, namespace string, meta map[string]string) error
	Query(ctx context.Context, text, namespace string, topK int) ([]ContextDoc, error)
}

// Translator переводит текст на канонический рабочий язык.
// При ошибке или отключении возвращает исходный текст.
type Translator interface {
	ToCanonical(ctx context.Context, text string) string
}

// ModelInvoker выполняет один вызов LLM.
type ModelInvoker interface {
	Invoke(ctx context.Context, modelID, prompt string, temperature float64, maxTokens int) (string, error)
}

// RosterSource возвращает актуальный список кандидатов LLM.
type RosterSource interface {
	FetchCandidates(ctx context.Context, onlyFree bool) ([]ModelRecord, error)
}

// Transport отправляет исходящие сообщения. Безопасен для вызова в
// выключенном состоянии (no-op).
type Transport interface {
	Send(ctx context.Context, recipient, text string) error
}

// EventKind описывает тип события шины.
type EventKind string

const (
	EventIncomingMessage EventKind = "incoming_message"
	EventOutgoingMessage EventKind = "outgoing_message"
	EventQueueSize       EventKind = "queue_size"
	EventProcessedCount  EventKind = "processed_count"
	EventStatus          EventKind = "status"
)

// Event публикуется конвейером и потребляется панелью управления.
type Event struct {
	ID     string    `json:"id"`
	Kind   EventKind `json:"kind"`
	Sender string    `json:"sender,omitempty"`
	Text   string    `json:"text,omitempty"`
	Value  int64     `json:"value,omitempty"`
	At     time.Time `json:"at"`
}

// EventBus публикует события для внешних подписчиков.
type EventBus interface {
	Publish(ctx context.Context, event Event) error
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}
