package scoring

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"tg-rag-bot/internal/domain"
)

type stubInvoker struct {
	replies map[string]string
	err     error
	calls   int
}

func (s *stubInvoker) Invoke(_ context.Context, modelID, _ string, _ float64, _ int) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.replies[modelID], nil
}

type stubScores struct {
	records  map[string]*domain.ModelScore
	failFor  string
	readDone int
}

func newStubScores() *stubScores {
	return &stubScores{records: map[string]*domain.ModelScore{}}
}

func (s *stubScores) RecordTrials(_ context.Context, subject, modelID string, sum float64, count int64) error {
	if modelID == s.failFor {
		return errors.New("storage unavailable")
	}
	key := subject + "/" + modelID
	rec, ok := s.records[key]
	if !ok {
		rec = &domain.ModelScore{Subject: subject, ModelID: modelID}
		s.records[key] = rec
	}
	rec.TrialCount += count
	rec.ScoreSum += sum
	rec.AvgScore = rec.ScoreSum / float64(rec.TrialCount)
	return nil
}

func (s *stubScores) ScoresFor(_ context.Context, subject string) ([]domain.ModelScore, error) {
	s.readDone++
	var out []domain.ModelScore
	for _, rec := range s.records {
		if rec.Subject == subject {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (s *stubScores) TopModels(context.Context, int) ([]string, error) { return nil, nil }

type stubBindings struct {
	bindings map[string]string
}

func (s *stubBindings) SetBinding(_ context.Context, userID, modelID string) error {
	s.bindings[userID] = modelID
	return nil
}

func (s *stubBindings) GetBinding(_ context.Context, userID string) (string, bool, error) {
	modelID, ok := s.bindings[userID]
	return modelID, ok, nil
}

type stubRoster struct {
	records []domain.ModelRecord
}

func (s *stubRoster) ReplaceRoster(_ context.Context, models []domain.ModelRecord) error {
	s.records = models
	return nil
}

func (s *stubRoster) ListRoster(_ context.Context, onlyActive bool) ([]domain.ModelRecord, error) {
	if !onlyActive {
		return s.records, nil
	}
	var out []domain.ModelRecord
	for _, rec := range s.records {
		if rec.Active {
			out = append(out, rec)
		}
	}
	return out, nil
}

func newService(invoker domain.ModelInvoker, scores domain.ScoreRepo, bindings *stubBindings, roster *stubRoster) *Service {
	return NewService(invoker, scores, bindings, roster, Config{TrialCount: 3, TrialMaxTokens: 32}, zerolog.Nop())
}

func TestScoreAndRecordFailedCallsCountAsZero(t *testing.T) {
	invoker := &stubInvoker{err: errors.New("model is down")}
	scores := newStubScores()
	svc := newService(invoker, scores, &stubBindings{bindings: map[string]string{}}, &stubRoster{})

	avg, err := svc.ScoreAndRecord(context.Background(), "m1", "ping", 0.5, domain.SubjectGlobal)
	if err != nil {
		t.Fatalf("ожидали успешную запись, получили %v", err)
	}
	if avg != 0 {
		t.Fatalf("упавшие вызовы должны давать 0, получили %v", avg)
	}
	rec := scores.records[domain.SubjectGlobal+"/m1"]
	if rec == nil || rec.TrialCount != 3 || rec.ScoreSum != 0 {
		t.Fatalf("нули должны попадать в агрегат: %+v", rec)
	}
	if invoker.calls != 3 {
		t.Fatalf("ожидали 3 испытания, получили %d", invoker.calls)
	}
}

func TestScoreAndRecordKeepsRunningAverageAcrossBatches(t *testing.T) {
	invoker := &stubInvoker{replies: map[string]string{"m1": "ok"}}
	scores := newStubScores()
	svc := newService(invoker, scores, &stubBindings{bindings: map[string]string{}}, &stubRoster{})

	ctx := context.Background()
	if _, err := svc.ScoreAndRecord(ctx, "m1", "ping", 0.5, domain.SubjectGlobal); err != nil {
		t.Fatal(err)
	}
	invoker.replies["m1"] = ""
	if _, err := svc.ScoreAndRecord(ctx, "m1", "ping", 0.5, domain.SubjectGlobal); err != nil {
		t.Fatal(err)
	}

	rec := scores.records[domain.SubjectGlobal+"/m1"]
	if rec.TrialCount != 6 {
		t.Fatalf("ожидали 6 испытаний, получили %d", rec.TrialCount)
	}
	// Первая серия: три ответа "ok" по 1 баллу; вторая: три пустых по 0.
	if rec.AvgScore != 0.5 {
		t.Fatalf("среднее должно считаться по всем испытаниям: %v", rec.AvgScore)
	}
	if rec.AvgScore != rec.ScoreSum/float64(rec.TrialCount) {
		t.Fatalf("нарушен инвариант среднего: %+v", rec)
	}
}

func TestScoreManyIsolatesFailures(t *testing.T) {
	invoker := &stubInvoker{replies: map[string]string{"m1": "ok", "m2": "ok"}}
	scores := newStubScores()
	scores.failFor = "m2"
	svc := newService(invoker, scores, &stubBindings{bindings: map[string]string{}}, &stubRoster{})

	results := svc.ScoreMany(context.Background(), []string{"m1", "m2"}, "ping", 0.5, domain.SubjectGlobal)
	if _, ok := results["m1"]; !ok {
		t.Fatal("сбой одной модели не должен блокировать остальные")
	}
	if _, ok := results["m2"]; ok {
		t.Fatal("неудачная запись не должна попадать в результаты")
	}
}

func TestSelectModelPrefersHigherAverage(t *testing.T) {
	scores := newStubScores()
	ctx := context.Background()
	// m1: испытания 5,6,7 → 6.0; m2: 8,2,2 → 4.0.
	_ = scores.RecordTrials(ctx, domain.SubjectGlobal, "m1", 18, 3)
	_ = scores.RecordTrials(ctx, domain.SubjectGlobal, "m2", 12, 3)
	bindings := &stubBindings{bindings: map[string]string{}}
	roster := &stubRoster{records: []domain.ModelRecord{
		{ID: "m1", Active: true, Pos: 0},
		{ID: "m2", Active: true, Pos: 1},
	}}
	svc := newService(&stubInvoker{}, scores, bindings, roster)

	chosen, ok, err := svc.SelectModel(ctx, domain.SubjectGlobal)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || chosen != "m1" {
		t.Fatalf("ожидали m1, получили %q (ok=%v)", chosen, ok)
	}
	if bindings.bindings[domain.SubjectGlobal] != "m1" {
		t.Fatal("выбор должен закреплять привязку")
	}
}

func TestSelectModelBreaksTiesByRosterOrder(t *testing.T) {
	scores := newStubScores()
	ctx := context.Background()
	_ = scores.RecordTrials(ctx, domain.SubjectGlobal, "m2", 12, 3)
	_ = scores.RecordTrials(ctx, domain.SubjectGlobal, "m1", 12, 3)
	bindings := &stubBindings{bindings: map[string]string{}}
	roster := &stubRoster{records: []domain.ModelRecord{
		{ID: "m1", Active: true, Pos: 0},
		{ID: "m2", Active: true, Pos: 1},
	}}
	svc := newService(&stubInvoker{}, scores, bindings, roster)

	chosen, ok, err := svc.SelectModel(ctx, domain.SubjectGlobal)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || chosen != "m1" {
		t.Fatalf("при равных средних побеждает ранняя позиция, получили %q", chosen)
	}
}

func TestSelectModelIsIdempotentOnceBound(t *testing.T) {
	scores := newStubScores()
	ctx := context.Background()
	_ = scores.RecordTrials(ctx, domain.SubjectGlobal, "m1", 18, 3)
	bindings := &stubBindings{bindings: map[string]string{}}
	svc := newService(&stubInvoker{}, scores, bindings, &stubRoster{})

	first, _, err := svc.SelectModel(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	reads := scores.readDone
	second, _, err := svc.SelectModel(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("повторный выбор должен вернуть ту же модель: %q vs %q", first, second)
	}
	if scores.readDone != reads {
		t.Fatal("при наличии привязки оценки не должны перечитываться")
	}
}

func TestSelectModelFallsBackToGlobal(t *testing.T) {
	scores := newStubScores()
	ctx := context.Background()
	_ = scores.RecordTrials(ctx, domain.SubjectGlobal, "m2", 21, 3)
	bindings := &stubBindings{bindings: map[string]string{}}
	svc := newService(&stubInvoker{}, scores, bindings, &stubRoster{})

	chosen, ok, err := svc.SelectModel(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || chosen != "m2" {
		t.Fatalf("ожидали глобального лидера m2, получили %q (ok=%v)", chosen, ok)
	}
}

func TestRebindBestOverwritesBinding(t *testing.T) {
	scores := newStubScores()
	ctx := context.Background()
	_ = scores.RecordTrials(ctx, "alice", "m1", 9, 3)
	_ = scores.RecordTrials(ctx, "alice", "m2", 24, 3)
	bindings := &stubBindings{bindings: map[string]string{"alice": "m1"}}
	svc := newService(&stubInvoker{}, scores, bindings, &stubRoster{})

	chosen, ok, err := svc.RebindBest(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || chosen != "m2" {
		t.Fatalf("ожидали перепривязку на m2, получили %q (ok=%v)", chosen, ok)
	}
	if bindings.bindings["alice"] != "m2" {
		t.Fatal("привязка должна быть перезаписана")
	}
}

func TestSelectModelEmpty(t *testing.T) {
	svc := newService(&stubInvoker{}, newStubScores(), &stubBindings{bindings: map[string]string{}}, &stubRoster{})
	chosen, ok, err := svc.SelectModel(context.Background(), "bob")
	if err != nil {
		t.Fatal(err)
	}
	if ok || chosen != "" {
		t.Fatalf("без оценок выбор должен быть пустым, получили %q", chosen)
	}
}
