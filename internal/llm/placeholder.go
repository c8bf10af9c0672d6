package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// PlaceholderEmbedder hashes words into a fixed-size bag-of-words vector. It
// needs no network and gives similar texts similar vectors, which is enough
// for local runs and tests.
type PlaceholderEmbedder struct {
	Dimensions int
}

func (p PlaceholderEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.embed(t)
	}
	return out, nil
}

func (p PlaceholderEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.embed(text), nil
}

func (p PlaceholderEmbedder) embed(text string) []float32 {
	dims := p.Dimensions
	if dims <= 0 {
		dims = 64
	}
	vec := make([]float32, dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%uint32(dims)]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

// PlaceholderResponder answers with the best matching excerpt and its page.
type PlaceholderResponder struct{}

func (PlaceholderResponder) Respond(ctx context.Context, input ReplyInput) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(input.Passages) == 0 {
		return "I could not find anything about that in the selected documents.", nil
	}
	best := input.Passages[0]
	text := strings.TrimSpace(best.Text)
	if len(text) > 280 {
		text = text[:280] + "..."
	}
	return fmt.Sprintf("From %s (page %d): %s", best.FileName, best.Page, text), nil
}

var (
	_ Embedder  = PlaceholderEmbedder{}
	_ Responder = PlaceholderResponder{}
)
