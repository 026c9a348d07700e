package pipeline

import "testing"

func TestCleanStripsEmojiAndFolds(t *testing.T) {
	got := Clean("  Hello WORLD \U0001F600 ", true)
	if got != "hello world" {
		t.Fatalf("ожидали %q, получили %q", "hello world", got)
	}
}

func TestCleanKeepsEmojiWhenDisabled(t *testing.T) {
	got := Clean("Hi \U0001F680", false)
	if got != "hi \U0001F680" {
		t.Fatalf("эмодзи не должны удаляться: %q", got)
	}
}

func TestCleanOnlyEmojiBecomesEmpty(t *testing.T) {
	if got := Clean("\U0001F600\U0001F680", true); got != "" {
		t.Fatalf("ожидали пустую строку, получили %q", got)
	}
}
