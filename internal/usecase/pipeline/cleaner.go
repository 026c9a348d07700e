package pipeline

import (
	"regexp"
	"strings"
)

// Диапазоны покрывают эмоции, пиктограммы, транспорт, флаги и дингбаты.
var emojiPattern = regexp.MustCompile(`[\x{1F600}-\x{1F64F}\x{1F300}-\x{1F5FF}\x{1F680}-\x{1F6FF}\x{1F1E0}-\x{1F1FF}\x{2702}-\x{27B0}\x{1F900}-\x{1F9FF}]+`)

// Clean нормализует входящий текст: опционально убирает эмодзи,
// приводит к нижнему регистру и обрезает пробелы.
func Clean(text string, stripEmoji bool) string {
	if stripEmoji {
		text = emojiPattern.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(strings.ToLower(text))
}
