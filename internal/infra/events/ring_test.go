package events

import (
	"strconv"
	"testing"

	"tg-rag-bot/internal/domain"
)

func TestRingKeepsInsertionOrder(t *testing.T) {
	ring := NewRing(4)
	for i := 0; i < 3; i++ {
		ring.Add(domain.Event{ID: strconv.Itoa(i)})
	}
	snapshot := ring.Snapshot()
	if len(snapshot) != 3 {
		t.Fatalf("ожидали 3 события, получили %d", len(snapshot))
	}
	for i, ev := range snapshot {
		if ev.ID != strconv.Itoa(i) {
			t.Fatalf("нарушен порядок: %v", snapshot)
		}
	}
}

func TestRingEvictsOldest(t *testing.T) {
	ring := NewRing(3)
	for i := 0; i < 5; i++ {
		ring.Add(domain.Event{ID: strconv.Itoa(i)})
	}
	snapshot := ring.Snapshot()
	if len(snapshot) != 3 {
		t.Fatalf("ожидали 3 события, получили %d", len(snapshot))
	}
	if snapshot[0].ID != "2" || snapshot[2].ID != "4" {
		t.Fatalf("должны остаться последние события: %v", snapshot)
	}
}
