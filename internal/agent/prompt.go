package agent

import (
	"strings"

	"linebot/internal/domain"
	"linebot/internal/knowledge"
)

// PromptBuilder assembles the generation request for a question and the
// chunks retrieved for it.
type PromptBuilder struct {
	system string
}

func NewPromptBuilder(systemPrompt string) *PromptBuilder {
	return &PromptBuilder{system: strings.TrimSpace(systemPrompt)}
}

// System returns the system instruction.
func (pb *PromptBuilder) System() string { return pb.system }

// Build returns the user prompt. The retrieved context, if any, precedes
// the question.
func (pb *PromptBuilder) Build(question string, results []domain.SearchResult) string {
	var sb strings.Builder
	if ctx := knowledge.BuildContext(results); ctx != "" {
		sb.WriteString("## Context\n\n")
		sb.WriteString(ctx)
		sb.WriteString("\n\n")
	}
	sb.WriteString("## Question\n\n")
	sb.WriteString(strings.TrimSpace(question))
	return sb.String()
}
