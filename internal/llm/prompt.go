package llm

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are a helpful assistant answering questions about the user's documents.
Answer only from the provided excerpts. When the excerpts do not contain the answer, say so.
Include the relevant page numbers from the documents when possible.`

// SystemPrompt returns the instructions and the retrieved excerpts as one
// system message body.
func SystemPrompt(input ReplyInput) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	if len(input.FileNames) > 0 {
		fmt.Fprintf(&b, "\n\nDocuments: %s", quoteAll(input.FileNames))
	}
	if len(input.Passages) > 0 {
		b.WriteString("\n\nExcerpts:")
		for _, p := range input.Passages {
			fmt.Fprintf(&b, "\n[%s, page %d]\n%s\n", p.FileName, p.Page, strings.TrimSpace(p.Text))
		}
	}
	return b.String()
}

// QuestionPrompt wraps the user's question with the document names.
func QuestionPrompt(input ReplyInput) string {
	if len(input.FileNames) == 0 {
		return input.Question
	}
	return fmt.Sprintf("The user is asking about %s.\nQuestion: %s", quoteAll(input.FileNames), input.Question)
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = `"` + n + `"`
	}
	return strings.Join(quoted, ", ")
}
