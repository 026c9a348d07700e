package scoring

import (
	"strings"
	"testing"
)

func TestScoreEmptyReply(t *testing.T) {
	if got := Score("   "); got != 0 {
		t.Fatalf("пустой ответ должен получать 0, получили %v", got)
	}
}

func TestScoreRewardsConnectivesAndPunctuation(t *testing.T) {
	plain := "The service restarts automatically after a crash and keeps state"
	reasoned := "The service restarts automatically because the supervisor watches it. Have you checked the logs?"
	if Score(reasoned) <= Score(plain) {
		t.Fatalf("связки и вопрос должны повышать балл: %v <= %v", Score(reasoned), Score(plain))
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	reply := "However, the cache is warm. Therefore lookups are fast!"
	if Score(reply) != Score(reply) {
		t.Fatal("рубрика должна быть детерминированной")
	}
}

func TestScoreCappedAtMax(t *testing.T) {
	reply := "Because of that, however, the plan works! For example: step one. Step two? " +
		strings.Repeat("word ", 60)
	if got := Score(reply); got > MaxScore {
		t.Fatalf("оценка не должна превышать %v, получили %v", MaxScore, got)
	}
}

func TestScorePenalizesVeryShortReplies(t *testing.T) {
	if short, long := Score("ok"), Score("The answer depends on the size of the dataset you load"); short >= long {
		t.Fatalf("односложный ответ не должен обгонять развёрнутый: %v >= %v", short, long)
	}
}
