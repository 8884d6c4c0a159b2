package knowledge

import (
	"fmt"
	"strings"

	"linebot/internal/domain"
)

// BuildContext renders search results as a context block for the prompt.
func BuildContext(results []domain.SearchResult) string {
	if len(results) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "### Source: %s (chunk %d)\n", r.Chunk.Source, r.Chunk.Index)
		sb.WriteString(strings.TrimSpace(r.Chunk.Text))
		if i < len(results)-1 {
			sb.WriteString("\n\n---\n\n")
		}
	}
	return sb.String()
}
