// Package chunking splits extracted pages into overlapping token windows.
package chunking

import (
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"docchat-backend/internal/extract"
	"docchat-backend/internal/shared/telemetry"
)

const fallbackEncoding = "cl100k_base"

// Tokenizer cuts text into windows of at most size tokens, each sharing
// overlap tokens with the previous one.
type Tokenizer interface {
	Windows(text string, size, overlap int) []string
}

// Chunk is one window of a page.
type Chunk struct {
	Position int
	Page     int
	Text     string
}

// Chunker splits documents page by page so every chunk keeps an exact page number.
type Chunker struct {
	Tokenizer Tokenizer
	Size      int
	Overlap   int
}

// New returns a Chunker using the tiktoken encoding for model. If the encoding
// cannot be loaded the chunker counts whitespace-separated words instead.
func New(model string, size, overlap int) *Chunker {
	return &Chunker{Tokenizer: NewTokenizer(model), Size: size, Overlap: overlap}
}

// NewTokenizer resolves a tiktoken encoding, falling back to Words.
func NewTokenizer(model string) Tokenizer {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
	}
	if err != nil {
		telemetry.Warn("chunking.tokenizer.fallback", map[string]any{"model": model, "error": err})
		return Words{}
	}
	return &BPE{enc: enc}
}

// Split chunks pages in order. Positions are contiguous from zero.
func (c *Chunker) Split(pages []extract.Page) []Chunk {
	size, overlap := c.Size, c.Overlap
	if size <= 0 {
		size = 500
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	tok := c.Tokenizer
	if tok == nil {
		tok = Words{}
	}

	var out []Chunk
	for _, p := range pages {
		for _, w := range tok.Windows(p.Text, size, overlap) {
			if !utf8.ValidString(w) {
				w = strings.ToValidUTF8(w, "")
			}
			if strings.TrimSpace(w) == "" {
				continue
			}
			out = append(out, Chunk{Position: len(out), Page: p.Number, Text: w})
		}
	}
	return out
}

// BPE windows text by tiktoken token ids.
type BPE struct {
	enc *tiktoken.Tiktoken
}

func (b *BPE) Windows(text string, size, overlap int) []string {
	ids := b.enc.Encode(text, nil, nil)
	pieces := make([]string, len(ids))
	for i, id := range ids {
		pieces[i] = b.enc.Decode([]int{id})
	}
	return tokenWindows(pieces, size, overlap)
}

// tokenWindows joins the byte pieces of consecutive tokens into windows. A
// byte-level token may hold part of a multi-byte rune, so window edges move
// outward to the nearest token boundary that is also a rune boundary.
func tokenWindows(pieces []string, size, overlap int) []string {
	offsets := make([]int, len(pieces)+1)
	var sb strings.Builder
	for i, p := range pieces {
		sb.WriteString(p)
		offsets[i+1] = sb.Len()
	}
	decoded := sb.String()
	onRune := func(i int) bool {
		return offsets[i] == len(decoded) || utf8.RuneStart(decoded[offsets[i]])
	}

	var out []string
	for _, span := range spans(len(pieces), size, overlap) {
		start, end := span[0], span[1]
		for start > 0 && !onRune(start) {
			start--
		}
		for end < len(pieces) && !onRune(end) {
			end++
		}
		out = append(out, decoded[offsets[start]:offsets[end]])
	}
	return out
}

// Words windows text by whitespace-separated words.
type Words struct{}

func (Words) Windows(text string, size, overlap int) []string {
	fields := strings.Fields(text)
	var out []string
	for _, span := range spans(len(fields), size, overlap) {
		out = append(out, strings.Join(fields[span[0]:span[1]], " "))
	}
	return out
}

// spans returns [start, end) windows over n items.
func spans(n, size, overlap int) [][2]int {
	if n == 0 {
		return nil
	}
	step := size - overlap
	var out [][2]int
	for start := 0; ; start += step {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
		if end == n {
			return out
		}
	}
}
