package scoring

import "strings"

// Рубрика оценивает ответ модели детерминированно, без обращения к
// внешнему оценщику: полоса длины, связки и пунктуация дают
// фиксированные добавки, итог ограничен десятью баллами.

// MaxScore — верхняя граница оценки испытания.
const MaxScore = 10.0

var connectives = []string{
	"because",
	"therefore",
	"however",
	"for example",
	"in other words",
	"moreover",
	"on the other hand",
}

// Score возвращает эвристическую оценку ответа в диапазоне [0, 10].
// Пустой ответ всегда получает 0.
func Score(reply string) float64 {
	trimmed := strings.TrimSpace(reply)
	if trimmed == "" {
		return 0
	}

	score := lengthBand(trimmed)

	lower := strings.ToLower(trimmed)
	for _, connective := range connectives {
		if strings.Contains(lower, connective) {
			score += 2
			break
		}
	}

	// Вопросы и восклицания считаем признаком вовлечённости,
	// несколько предложений — признаком развёрнутости.
	if strings.ContainsRune(trimmed, '?') {
		score++
	}
	if strings.ContainsRune(trimmed, '!') {
		score++
	}
	if sentenceCount(trimmed) >= 2 {
		score++
	}

	if score > MaxScore {
		return MaxScore
	}
	return score
}

// lengthBand поощряет развёрнутые, но не раздутые ответы.
func lengthBand(text string) float64 {
	words := len(strings.Fields(text))
	switch {
	case words < 4:
		return 1
	case words < 20:
		return 3
	case words < 120:
		return 5
	case words < 300:
		return 4
	default:
		return 2
	}
}

func sentenceCount(text string) int {
	count := 0
	for _, r := range text {
		switch r {
		case '.', '!', '?':
			count++
		}
	}
	return count
}
