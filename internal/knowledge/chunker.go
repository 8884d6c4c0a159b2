package knowledge

import (
	"fmt"
	"strings"

	"linebot/internal/domain"
)

// SplitDocument cuts a document into windows of size runes. Each window
// starts size-overlap runes after the previous one, so consecutive chunks
// share overlap runes; the last chunk may be shorter. Whitespace-only
// windows are dropped.
func SplitDocument(doc domain.Document, size, overlap int) []domain.Chunk {
	if size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(doc.Content)
	if len(runes) == 0 {
		return nil
	}

	step := size - overlap
	var chunks []domain.Chunk
	for start := 0; start < len(runes); start += step {
		end := min(start+size, len(runes))

		text := string(runes[start:end])
		if strings.TrimSpace(text) != "" {
			idx := len(chunks)
			chunks = append(chunks, domain.Chunk{
				ID:         fmt.Sprintf("%s_%d", doc.ID, idx),
				DocumentID: doc.ID,
				Source:     doc.Path,
				Offset:     start,
				Index:      idx,
				Text:       text,
			})
		}

		if end == len(runes) {
			break
		}
	}
	return chunks
}
