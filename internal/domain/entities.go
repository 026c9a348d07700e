package domain

import "time"

// QueueItem описывает входящее сообщение в очереди на обработку.
type QueueItem struct {
	ID         int64
	Sender     string
	Text       string
	EnqueuedAt time.Time
}

// HistoryRole описывает автора записи истории.
type HistoryRole string

const (
	// HistoryRoleUser — сообщение пользователя.
	HistoryRoleUser HistoryRole = "user"
	// HistoryRoleBot — ответ бота.
	HistoryRoleBot HistoryRole = "bot"
	// HistoryRoleSystem — системная запись.
	HistoryRoleSystem HistoryRole = "system"
)

// HistoryEntry описывает одну запись истории переписки.
type HistoryEntry struct {
	Sender string      `json:"sender"`
	Text   string      `json:"text"`
	TS     time.Time   `json:"ts"`
	Role   HistoryRole `json:"role"`
}

// ModelRecord описывает кандидата LLM в реестре.
// Записи не удаляются: при обновлении реестра отсутствующие модели
// помечаются неактивными, чтобы исторические оценки и привязки
// оставались валидными.
type ModelRecord struct {
	ID          string
	DisplayName string
	Active      bool
	Pos         int
}

// ModelScore хранит накопительную оценку модели для субъекта.
// Инвариант: AvgScore == ScoreSum/TrialCount при TrialCount > 0.
type ModelScore struct {
	Subject    string
	ModelID    string
	TrialCount int64
	ScoreSum   float64
	AvgScore   float64
}

// SubjectGlobal — зарезервированный субъект глобальных оценок.
// Совпадает с глобальным namespace векторного хранилища.
const SubjectGlobal = "0"

// UserModelBinding описывает закреплённую за пользователем модель.
type UserModelBinding struct {
	UserID  string
	ModelID string
}

// DocSyncState хранит маркер последней обработанной ревизии источника
// документов.
type DocSyncState struct {
	SourceID   string
	Checkpoint string
	UpdatedAt  time.Time
}

// ContextDoc описывает найденный фрагмент контекста из векторного хранилища.
type ContextDoc struct {
	Text  string
	Score float64
}
