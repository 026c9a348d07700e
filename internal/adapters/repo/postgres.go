package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tg-rag-bot/internal/domain"
	"tg-rag-bot/internal/infra/metrics"
)

// Postgres реализует хранилище состояния системы на основе pgxpool.
// Все обращения — короткие самостоятельные чтения или записи,
// сериализуемые на уровне БД; блокировок поверх сетевых вызовов нет.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.SettingsRepo  = (*Postgres)(nil)
	_ domain.QueueRepo     = (*Postgres)(nil)
	_ domain.HistoryRepo   = (*Postgres)(nil)
	_ domain.RosterRepo    = (*Postgres)(nil)
	_ domain.ScoreRepo     = (*Postgres)(nil)
	_ domain.BindingRepo   = (*Postgres)(nil)
	_ domain.BlacklistRepo = (*Postgres)(nil)
	_ domain.DocSyncRepo   = (*Postgres)(nil)
	_ domain.IterationRepo = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// SetSetting сохраняет настройку в формате JSON.
func (p *Postgres) SetSetting(ctx context.Context, key string, value any) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal setting %s: %w", key, err)
	}
	start := time.Now()
	_, err = p.pool.Exec(ctx, `
INSERT INTO settings (key, value) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
`, key, payload)
	metrics.ObserveNetworkRequest("postgres", "settings_upsert", "settings", start, err)
	return err
}

func (p *Postgres) rawSetting(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	var payload []byte
	err := p.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&payload)
	metrics.ObserveNetworkRequest("postgres", "settings_get", "settings", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// GetBoolSetting возвращает булеву настройку либо значение по умолчанию.
func (p *Postgres) GetBoolSetting(ctx context.Context, key string, def bool) (bool, error) {
	payload, ok, err := p.rawSetting(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	var v bool
	if err := json.Unmarshal(payload, &v); err != nil {
		return def, nil
	}
	return v, nil
}

// GetFloatSetting возвращает числовую настройку либо значение по умолчанию.
func (p *Postgres) GetFloatSetting(ctx context.Context, key string, def float64) (float64, error) {
	payload, ok, err := p.rawSetting(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	var v float64
	if err := json.Unmarshal(payload, &v); err != nil {
		return def, nil
	}
	return v, nil
}

// GetStringSetting возвращает строковую настройку либо значение по умолчанию.
func (p *Postgres) GetStringSetting(ctx context.Context, key string, def string) (string, error) {
	payload, ok, err := p.rawSetting(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	var v string
	if err := json.Unmarshal(payload, &v); err != nil {
		return def, nil
	}
	return v, nil
}

// Enqueue добавляет сообщение в очередь.
func (p *Postgres) Enqueue(ctx context.Context, sender, text string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO queue (sender, text, enqueued_at) VALUES ($1, $2, now())
`, sender, text)
	metrics.ObserveNetworkRequest("postgres", "queue_insert", "queue", start, err)
	return err
}

// PeekOldest возвращает самый старый элемент очереди без удаления.
func (p *Postgres) PeekOldest(ctx context.Context) (domain.QueueItem, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	var item domain.QueueItem
	err := p.pool.QueryRow(ctx, `
SELECT id, sender, text, enqueued_at FROM queue ORDER BY id LIMIT 1
`).Scan(&item.ID, &item.Sender, &item.Text, &item.EnqueuedAt)
	metrics.ObserveNetworkRequest("postgres", "queue_peek", "queue", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QueueItem{}, false, nil
	}
	if err != nil {
		return domain.QueueItem{}, false, err
	}
	return item, true, nil
}

// Remove удаляет обработанный элемент очереди.
func (p *Postgres) Remove(ctx context.Context, id int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM queue WHERE id = $1`, id)
	metrics.ObserveNetworkRequest("postgres", "queue_delete", "queue", start, err)
	return err
}

// QueueSize возвращает размер очереди.
func (p *Postgres) QueueSize(ctx context.Context) (int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	var count int
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM queue`).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "queue_count", "queue", start, err)
	return count, err
}

// AppendHistory добавляет запись истории.
func (p *Postgres) AppendHistory(ctx context.Context, sender, text string, role domain.HistoryRole) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO history (sender, text, ts, role) VALUES ($1, $2, now(), $3)
`, sender, text, string(role))
	metrics.ObserveNetworkRequest("postgres", "history_insert", "history", start, err)
	return err
}

// RecentHistory возвращает последние limit записей отправителя,
// упорядоченные от старых к новым.
func (p *Postgres) RecentHistory(ctx context.Context, sender string, limit int) ([]domain.HistoryEntry, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT sender, text, ts, role FROM history WHERE sender = $1 ORDER BY id DESC LIMIT $2
`, sender, limit)
	metrics.ObserveNetworkRequest("postgres", "history_select", "history", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		var role string
		if err := rows.Scan(&e.Sender, &e.Text, &e.TS, &role); err != nil {
			return nil, err
		}
		e.Role = domain.HistoryRole(role)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Разворот: запрос отдаёт от новых к старым.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// reconcileRoster вычисляет новое состояние реестра по свежей выдаче
// провайдера: пришедшие модели активируются в порядке выдачи, модели,
// пропавшие из выдачи, остаются записями, но помечаются неактивными.
// Записи никогда не удаляются, их накопленные оценки и привязки живут
// в отдельных таблицах и не затрагиваются.
func reconcileRoster(existing, incoming []domain.ModelRecord) []domain.ModelRecord {
	seen := make(map[string]struct{}, len(incoming))
	out := make([]domain.ModelRecord, 0, len(existing)+len(incoming))
	for i, m := range incoming {
		seen[m.ID] = struct{}{}
		out = append(out, domain.ModelRecord{ID: m.ID, DisplayName: m.DisplayName, Active: true, Pos: i})
	}
	for _, m := range existing {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		m.Active = false
		out = append(out, m)
	}
	return out
}

// ReplaceRoster целиком заменяет реестр моделей: отсутствующие в новом
// списке модели помечаются неактивными, записи не удаляются.
func (p *Postgres) ReplaceRoster(ctx context.Context, models []domain.ModelRecord) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	existing, err := p.ListRoster(ctx, false)
	if err != nil {
		return fmt.Errorf("чтение реестра: %w", err)
	}
	records := reconcileRoster(existing, models)
	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "models", start, err)
	if err != nil {
		return err
	}
	for _, m := range records {
		_, err := tx.Exec(ctx, `
INSERT INTO models (id, display_name, active, pos) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, active = EXCLUDED.active, pos = EXCLUDED.pos
`, m.ID, m.DisplayName, m.Active, m.Pos)
		if err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("обновление модели %s: %w", m.ID, err)
		}
	}
	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "roster_replace", "models", start, err)
	return err
}

// ListRoster возвращает реестр моделей в порядке первого появления.
func (p *Postgres) ListRoster(ctx context.Context, onlyActive bool) ([]domain.ModelRecord, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	query := `SELECT id, display_name, active, pos FROM models ORDER BY pos, id`
	if onlyActive {
		query = `SELECT id, display_name, active, pos FROM models WHERE active ORDER BY pos, id`
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, query)
	metrics.ObserveNetworkRequest("postgres", "roster_select", "models", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []domain.ModelRecord
	for rows.Next() {
		var m domain.ModelRecord
		if err := rows.Scan(&m.ID, &m.DisplayName, &m.Active, &m.Pos); err != nil {
			return nil, err
		}
		records = append(records, m)
	}
	return records, rows.Err()
}

// RecordTrials атомарно добавляет серию испытаний к накопительной оценке.
// Среднее пересчитывается в том же UPSERT, что сохраняет инвариант
// avg_score == score_sum / trial_count.
func (p *Postgres) RecordTrials(ctx context.Context, subject, modelID string, sum float64, count int64) error {
	if count <= 0 {
		return nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO model_scores (subject, model_id, trial_count, score_sum, avg_score)
VALUES ($1, $2, $3, $4, $4 / $3)
ON CONFLICT (subject, model_id) DO UPDATE SET
    trial_count = model_scores.trial_count + EXCLUDED.trial_count,
    score_sum   = model_scores.score_sum + EXCLUDED.score_sum,
    avg_score   = (model_scores.score_sum + EXCLUDED.score_sum)
                / (model_scores.trial_count + EXCLUDED.trial_count)
`, subject, modelID, count, sum)
	metrics.ObserveNetworkRequest("postgres", "scores_upsert", "model_scores", start, err)
	return err
}

// ScoresFor возвращает оценки субъекта по убыванию среднего.
func (p *Postgres) ScoresFor(ctx context.Context, subject string) ([]domain.ModelScore, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT subject, model_id, trial_count, score_sum, avg_score
FROM model_scores WHERE subject = $1 ORDER BY avg_score DESC
`, subject)
	metrics.ObserveNetworkRequest("postgres", "scores_select", "model_scores", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var scores []domain.ModelScore
	for rows.Next() {
		var s domain.ModelScore
		if err := rows.Scan(&s.Subject, &s.ModelID, &s.TrialCount, &s.ScoreSum, &s.AvgScore); err != nil {
			return nil, err
		}
		scores = append(scores, s)
	}
	return scores, rows.Err()
}

// TopModels возвращает модели по убыванию средней оценки по всем субъектам.
func (p *Postgres) TopModels(ctx context.Context, limit int) ([]string, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT model_id FROM model_scores
GROUP BY model_id ORDER BY SUM(score_sum) / SUM(trial_count) DESC LIMIT $1
`, limit)
	metrics.ObserveNetworkRequest("postgres", "scores_top", "model_scores", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var models []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		models = append(models, id)
	}
	return models, rows.Err()
}

// SetBinding закрепляет модель за пользователем.
func (p *Postgres) SetBinding(ctx context.Context, userID, modelID string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO user_models (user_id, model_id) VALUES ($1, $2)
ON CONFLICT (user_id) DO UPDATE SET model_id = EXCLUDED.model_id
`, userID, modelID)
	metrics.ObserveNetworkRequest("postgres", "binding_upsert", "user_models", start, err)
	return err
}

// GetBinding возвращает закреплённую модель пользователя.
func (p *Postgres) GetBinding(ctx context.Context, userID string) (string, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	var modelID string
	err := p.pool.QueryRow(ctx, `SELECT model_id FROM user_models WHERE user_id = $1`, userID).Scan(&modelID)
	metrics.ObserveNetworkRequest("postgres", "binding_get", "user_models", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return modelID, true, nil
}

// AddToBlacklist добавляет отправителя в чёрный список.
func (p *Postgres) AddToBlacklist(ctx context.Context, sender string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO blacklist (sender) VALUES ($1) ON CONFLICT DO NOTHING
`, sender)
	metrics.ObserveNetworkRequest("postgres", "blacklist_insert", "blacklist", start, err)
	return err
}

// RemoveFromBlacklist убирает отправителя из чёрного списка.
func (p *Postgres) RemoveFromBlacklist(ctx context.Context, sender string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM blacklist WHERE sender = $1`, sender)
	metrics.ObserveNetworkRequest("postgres", "blacklist_delete", "blacklist", start, err)
	return err
}

// IsBlacklisted проверяет отправителя по чёрному списку.
func (p *Postgres) IsBlacklisted(ctx context.Context, sender string) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM blacklist WHERE sender = $1)`, sender).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "blacklist_check", "blacklist", start, err)
	return exists, err
}

// ListBlacklist возвращает чёрный список.
func (p *Postgres) ListBlacklist(ctx context.Context) ([]string, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT sender FROM blacklist ORDER BY sender`)
	metrics.ObserveNetworkRequest("postgres", "blacklist_select", "blacklist", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var senders []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		senders = append(senders, s)
	}
	return senders, rows.Err()
}

// SetDocSync сохраняет маркер обработанной ревизии источника.
func (p *Postgres) SetDocSync(ctx context.Context, sourceID, checkpoint string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO doc_sync (source_id, checkpoint, updated_at) VALUES ($1, $2, now())
ON CONFLICT (source_id) DO UPDATE SET checkpoint = EXCLUDED.checkpoint, updated_at = now()
`, sourceID, checkpoint)
	metrics.ObserveNetworkRequest("postgres", "doc_sync_upsert", "doc_sync", start, err)
	return err
}

// GetDocSync возвращает маркер ревизии источника.
func (p *Postgres) GetDocSync(ctx context.Context, sourceID string) (string, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	var checkpoint string
	err := p.pool.QueryRow(ctx, `SELECT checkpoint FROM doc_sync WHERE source_id = $1`, sourceID).Scan(&checkpoint)
	metrics.ObserveNetworkRequest("postgres", "doc_sync_get", "doc_sync", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return checkpoint, true, nil
}

// IncrementIteration увеличивает счётчик обработанных сообщений и
// возвращает новое значение.
func (p *Postgres) IncrementIteration(ctx context.Context) (int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	var count int64
	err := p.pool.QueryRow(ctx, `
UPDATE iteration SET count = count + 1 WHERE id = 1 RETURNING count
`).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "iteration_inc", "iteration", start, err)
	return count, err
}

// IterationCount возвращает текущее значение счётчика.
func (p *Postgres) IterationCount(ctx context.Context) (int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	var count int64
	err := p.pool.QueryRow(ctx, `SELECT count FROM iteration WHERE id = 1`).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "iteration_get", "iteration", start, err)
	return count, err
}

// LastActivity возвращает время последнего ответа бота из настроек.
func (p *Postgres) LastActivity(ctx context.Context) (time.Time, error) {
	sec, err := p.GetFloatSetting(ctx, "last_message_time", 0)
	if err != nil || sec == 0 {
		return time.Time{}, err
	}
	return time.Unix(int64(sec), 0), nil
}
