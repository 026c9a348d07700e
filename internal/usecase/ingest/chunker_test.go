package ingest

import (
	"strings"
	"testing"
)

func TestSplitShortText(t *testing.T) {
	c := NewChunker(300, 50)
	chunks := c.Split("short document")
	if len(chunks) != 1 || chunks[0] != "short document" {
		t.Fatalf("короткий текст должен вернуться одним фрагментом: %v", chunks)
	}
}

func TestSplitEmpty(t *testing.T) {
	c := NewChunker(300, 50)
	if chunks := c.Split("   "); chunks != nil {
		t.Fatalf("пустой текст не даёт фрагментов: %v", chunks)
	}
}

func TestSplitRespectsLengthAndOverlap(t *testing.T) {
	c := NewChunker(100, 20)
	text := strings.Repeat("alpha beta gamma delta ", 40)
	chunks := c.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("длинный текст должен дробиться, получили %d фрагментов", len(chunks))
	}
	for i, chunk := range chunks {
		if length := len([]rune(chunk)); length > 100 {
			t.Fatalf("фрагмент %d длиннее лимита: %d", i, length)
		}
	}
	// Перекрытие: начало следующего фрагмента встречается в конце предыдущего.
	for i := 1; i < len(chunks); i++ {
		head := chunks[i][:10]
		if !strings.Contains(chunks[i-1], head) {
			t.Fatalf("фрагменты %d и %d не пересекаются", i-1, i)
		}
	}
}
