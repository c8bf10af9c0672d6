package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceholderEmbedderIsDeterministicAndNormalised(t *testing.T) {
	e := PlaceholderEmbedder{Dimensions: 32}
	vecs, err := e.EmbedTexts(context.Background(), []string{"refund policy terms", "refund policy terms", ""})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, vecs[0], vecs[1])
	assert.Len(t, vecs[0], 32)

	var norm float32
	for _, v := range vecs[0] {
		norm += v * v
	}
	assert.InDelta(t, 1.0, norm, 1e-5)

	for _, v := range vecs[2] {
		assert.Zero(t, v)
	}
}

func TestPromptsNameDocumentsAndPages(t *testing.T) {
	in := ReplyInput{
		Question:  "What is the deadline?",
		FileNames: []string{"contract.pdf"},
		Passages:  []Passage{{FileName: "contract.pdf", Page: 4, Text: "Deadline is May 1."}},
	}
	sys := SystemPrompt(in)
	assert.Contains(t, sys, `"contract.pdf"`)
	assert.Contains(t, sys, "[contract.pdf, page 4]")
	assert.True(t, strings.HasSuffix(QuestionPrompt(in), "Question: What is the deadline?"))

	answer, err := PlaceholderResponder{}.Respond(context.Background(), in)
	require.NoError(t, err)
	assert.Contains(t, answer, "page 4")
}
