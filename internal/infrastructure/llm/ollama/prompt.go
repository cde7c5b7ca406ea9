package ollama

import (
	"fmt"
	"strings"

	"github.com/sveikata-ai/rag-engine/internal/core/domain"
)

// buildAnswerPrompt constrains generation strictly to the retrieved
// candidates: no outside facts, explicit refusal when context is thin.
func buildAnswerPrompt(question, conversationContext string, candidates []domain.Candidate) string {
	var contextBuilder strings.Builder
	for idx, c := range candidates {
		title := c.Title
		if title == "" {
			title = "(untitled)"
		}
		contextBuilder.WriteString(fmt.Sprintf(
			"[%d] title=%s source=%s score=%.3f\n%s\n\n",
			idx+1,
			title,
			c.Source,
			c.FinalScore,
			c.Content,
		))
	}

	var b strings.Builder
	b.WriteString(`Answer the user question using ONLY the documents below.
Do not add facts that are not in the documents.
If the documents do not contain the answer, say so directly.
Answer in the language of the question.

`)
	if strings.TrimSpace(conversationContext) != "" {
		b.WriteString("Previous conversation:\n")
		b.WriteString(conversationContext)
		b.WriteString("\n\n")
	}
	b.WriteString("Question:\n")
	b.WriteString(question)
	b.WriteString("\n\nDocuments:\n")
	b.WriteString(contextBuilder.String())
	return b.String()
}
