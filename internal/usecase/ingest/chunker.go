package ingest

import "strings"

// Chunker режет документ на пересекающиеся фрагменты фиксированной
// длины. Границу фрагмента по возможности сдвигает к пробелу, чтобы не
// рвать слова.
type Chunker struct {
	chunkLength int
	overlap     int
}

// NewChunker создаёт чанкер. Длина в рунах, перекрытие меньше длины.
func NewChunker(chunkLength, overlap int) *Chunker {
	if chunkLength <= 0 {
		chunkLength = 300
	}
	if overlap < 0 || overlap >= chunkLength {
		overlap = chunkLength / 6
	}
	return &Chunker{chunkLength: chunkLength, overlap: overlap}
}

// Split возвращает фрагменты текста. Пустой текст даёт пустой срез.
func (c *Chunker) Split(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= c.chunkLength {
		return []string{string(runes)}
	}

	var chunks []string
	step := c.chunkLength - c.overlap
	for start := 0; start < len(runes); start += step {
		end := start + c.chunkLength
		if end >= len(runes) {
			end = len(runes)
		} else {
			// Ищем пробел недалеко от границы.
			for i := end; i > end-c.overlap && i > start; i-- {
				if runes[i-1] == ' ' || runes[i-1] == '\n' {
					end = i
					break
				}
			}
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}
