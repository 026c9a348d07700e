package repo

import (
	"testing"

	"tg-rag-bot/internal/domain"
)

func TestReconcileRosterDeactivatesMissingModels(t *testing.T) {
	existing := []domain.ModelRecord{
		{ID: "a", DisplayName: "Model A", Active: true, Pos: 0},
		{ID: "b", DisplayName: "Model B", Active: true, Pos: 1},
		{ID: "c", DisplayName: "Model C", Active: true, Pos: 2},
	}
	incoming := []domain.ModelRecord{
		{ID: "a", DisplayName: "Model A"},
		{ID: "d", DisplayName: "Model D"},
	}

	out := reconcileRoster(existing, incoming)

	if len(out) != 4 {
		t.Fatalf("записи не должны удаляться: ожидали 4, получили %d", len(out))
	}
	byID := make(map[string]domain.ModelRecord, len(out))
	for _, m := range out {
		byID[m.ID] = m
	}
	for _, id := range []string{"a", "d"} {
		if !byID[id].Active {
			t.Fatalf("модель %s из свежей выдачи должна быть активной", id)
		}
	}
	for _, id := range []string{"b", "c"} {
		m, ok := byID[id]
		if !ok {
			t.Fatalf("пропавшая модель %s должна остаться записью", id)
		}
		if m.Active {
			t.Fatalf("пропавшая модель %s должна стать неактивной", id)
		}
	}
	if byID["b"].DisplayName != "Model B" || byID["b"].Pos != 1 {
		t.Fatalf("деактивация не должна менять запись: %+v", byID["b"])
	}
}

func TestReconcileRosterReactivatesReturningModel(t *testing.T) {
	existing := []domain.ModelRecord{
		{ID: "a", DisplayName: "Model A", Active: false, Pos: 5},
	}
	incoming := []domain.ModelRecord{
		{ID: "a", DisplayName: "Model A v2"},
	}

	out := reconcileRoster(existing, incoming)

	if len(out) != 1 {
		t.Fatalf("ожидали 1 запись, получили %d", len(out))
	}
	if !out[0].Active || out[0].Pos != 0 || out[0].DisplayName != "Model A v2" {
		t.Fatalf("вернувшаяся модель должна активироваться с новой позицией: %+v", out[0])
	}
}

func TestReconcileRosterAssignsPositionsInFetchOrder(t *testing.T) {
	incoming := []domain.ModelRecord{
		{ID: "x"}, {ID: "y"}, {ID: "z"},
	}

	out := reconcileRoster(nil, incoming)

	for i, m := range out {
		if m.Pos != i {
			t.Fatalf("позиция модели %s: ожидали %d, получили %d", m.ID, i, m.Pos)
		}
	}
}
