package scoring

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"tg-rag-bot/internal/domain"
	"tg-rag-bot/internal/infra/metrics"
)

// Config задаёт параметры испытаний.
type Config struct {
	// TrialCount — количество повторов испытания в ScoreAndRecord.
	TrialCount int
	// TrialMaxTokens — лимит токенов для пробного вызова.
	TrialMaxTokens int
}

// Service поддерживает накопительные оценки моделей и выбирает модель
// для ответа. Выбор детерминирован: при равных средних побеждает
// модель, раньше появившаяся в реестре.
type Service struct {
	invoker  domain.ModelInvoker
	scores   domain.ScoreRepo
	bindings domain.BindingRepo
	roster   domain.RosterRepo
	cfg      Config
	log      zerolog.Logger
}

// NewService создаёт движок оценок.
func NewService(invoker domain.ModelInvoker, scores domain.ScoreRepo, bindings domain.BindingRepo, roster domain.RosterRepo, cfg Config, log zerolog.Logger) *Service {
	if cfg.TrialCount <= 0 {
		cfg.TrialCount = 3
	}
	if cfg.TrialMaxTokens <= 0 {
		cfg.TrialMaxTokens = 128
	}
	return &Service{
		invoker:  invoker,
		scores:   scores,
		bindings: bindings,
		roster:   roster,
		cfg:      cfg,
		log:      log,
	}
}

// Trial выполняет один пробный вызов модели и оценивает ответ по
// рубрике. Ошибка вызова не пробрасывается: неудача — это честный ноль,
// который утянет среднее вниз.
func (s *Service) Trial(ctx context.Context, modelID, prompt string, temperature float64) float64 {
	reply, err := s.invoker.Invoke(ctx, modelID, prompt, temperature, s.cfg.TrialMaxTokens)
	if err != nil {
		s.log.Warn().Err(err).Str("model", modelID).Msg("scoring: trial call failed, score 0")
		metrics.ObserveTrial(modelID, 0)
		return 0
	}
	score := Score(reply)
	metrics.ObserveTrial(modelID, score)
	return score
}

// ScoreAndRecord выполняет серию испытаний модели и атомарно добавляет
// их к накопительной оценке субъекта. Возвращает среднее серии.
func (s *Service) ScoreAndRecord(ctx context.Context, modelID, prompt string, temperature float64, subject string) (float64, error) {
	var sum float64
	for i := 0; i < s.cfg.TrialCount; i++ {
		sum += s.Trial(ctx, modelID, prompt, temperature)
	}
	// Храним сырые сумму и количество, а не среднее серии: так среднее
	// в базе остаётся средним всех испытаний независимо от батчевания.
	if err := s.scores.RecordTrials(ctx, subject, modelID, sum, int64(s.cfg.TrialCount)); err != nil {
		return 0, fmt.Errorf("scoring: record trials for %s: %w", modelID, err)
	}
	return sum / float64(s.cfg.TrialCount), nil
}

// ScoreMany прогоняет ScoreAndRecord параллельно по всем моделям.
// Ошибка одной модели не мешает остальным; возвращаются средние
// успешно записанных серий.
func (s *Service) ScoreMany(ctx context.Context, modelIDs []string, prompt string, temperature float64, subject string) map[string]float64 {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]float64, len(modelIDs))
	)
	for _, modelID := range modelIDs {
		wg.Add(1)
		go func(modelID string) {
			defer wg.Done()
			avg, err := s.ScoreAndRecord(ctx, modelID, prompt, temperature, subject)
			if err != nil {
				s.log.Error().Err(err).Str("model", modelID).Msg("scoring: score and record failed")
				return
			}
			mu.Lock()
			results[modelID] = avg
			mu.Unlock()
		}(modelID)
	}
	wg.Wait()
	return results
}

// SelectModel выбирает модель для субъекта. Порядок разрешения:
// явная привязка, лучший средний балл субъекта, лучший глобальный
// средний балл, иначе пусто. Найденная без привязки модель закрепляется
// за субъектом.
func (s *Service) SelectModel(ctx context.Context, subject string) (string, bool, error) {
	if bound, ok, err := s.bindings.GetBinding(ctx, subject); err != nil {
		return "", false, fmt.Errorf("scoring: load binding: %w", err)
	} else if ok {
		return bound, true, nil
	}

	positions, err := s.rosterPositions(ctx)
	if err != nil {
		return "", false, err
	}

	for _, scope := range []string{subject, domain.SubjectGlobal} {
		scores, err := s.scores.ScoresFor(ctx, scope)
		if err != nil {
			return "", false, fmt.Errorf("scoring: load scores for %q: %w", scope, err)
		}
		if chosen, ok := bestScored(scores, positions); ok {
			if err := s.bindings.SetBinding(ctx, subject, chosen); err != nil {
				return "", false, fmt.Errorf("scoring: pin binding: %w", err)
			}
			return chosen, true, nil
		}
		if scope == domain.SubjectGlobal {
			break
		}
	}
	return "", false, nil
}

// RebindBest пересчитывает лучшую модель субъекта по его оценкам и
// перезаписывает привязку, даже если она уже существует.
func (s *Service) RebindBest(ctx context.Context, subject string) (string, bool, error) {
	scores, err := s.scores.ScoresFor(ctx, subject)
	if err != nil {
		return "", false, fmt.Errorf("scoring: load scores for %q: %w", subject, err)
	}
	positions, err := s.rosterPositions(ctx)
	if err != nil {
		return "", false, err
	}
	chosen, ok := bestScored(scores, positions)
	if !ok {
		return "", false, nil
	}
	if err := s.bindings.SetBinding(ctx, subject, chosen); err != nil {
		return "", false, fmt.Errorf("scoring: rebind: %w", err)
	}
	return chosen, true, nil
}

func (s *Service) rosterPositions(ctx context.Context) (map[string]int, error) {
	records, err := s.roster.ListRoster(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("scoring: list roster: %w", err)
	}
	positions := make(map[string]int, len(records))
	for _, record := range records {
		positions[record.ID] = record.Pos
	}
	return positions, nil
}

// bestScored выбирает модель с максимальным средним; при равенстве
// побеждает меньшая позиция в реестре.
func bestScored(scores []domain.ModelScore, positions map[string]int) (string, bool) {
	const unknownPos = 1 << 30
	var (
		bestID    string
		bestAvg   float64
		bestPos   int
		havePrior bool
	)
	for _, score := range scores {
		if score.TrialCount == 0 {
			continue
		}
		pos, ok := positions[score.ModelID]
		if !ok {
			pos = unknownPos
		}
		if !havePrior || score.AvgScore > bestAvg || (score.AvgScore == bestAvg && pos < bestPos) {
			bestID = score.ModelID
			bestAvg = score.AvgScore
			bestPos = pos
			havePrior = true
		}
	}
	return bestID, havePrior
}
