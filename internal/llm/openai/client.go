// Package openai implements the llm contracts on OpenAI-compatible APIs
// through langchaingo.
package openai

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"docchat-backend/internal/llm"
	"docchat-backend/internal/shared/telemetry"
)

const embedBatchSize = 64

// Config selects the endpoint and models.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
}

func (c Config) options() []openai.Option {
	opts := []openai.Option{openai.WithToken(c.APIKey)}
	if strings.TrimSpace(c.BaseURL) != "" {
		opts = append(opts, openai.WithBaseURL(c.BaseURL))
	}
	return opts
}

// Embedder implements llm.Embedder.
type Embedder struct {
	embedder embeddings.Embedder
	model    string
}

// NewEmbedder builds an embedder for cfg.EmbeddingModel.
func NewEmbedder(cfg Config) (*Embedder, error) {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.EmbeddingModel) == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY and EMBEDDING_MODEL are required", llm.ErrNotConfigured)
	}
	client, err := openai.New(append(cfg.options(), openai.WithEmbeddingModel(cfg.EmbeddingModel))...)
	if err != nil {
		return nil, err
	}
	embedder, err := embeddings.NewEmbedder(client,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(embedBatchSize),
	)
	if err != nil {
		return nil, err
	}
	return &Embedder{embedder: embedder, model: cfg.EmbeddingModel}, nil
}

func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		telemetry.Warn("llm.embed.error", map[string]any{"model": e.model, "count": len(texts), "error": err})
		return nil, classify(err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: want %d got %d", len(texts), len(vecs))
	}
	return vecs, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, classify(err)
	}
	return vec, nil
}

// Responder implements llm.Responder with a chat model.
type Responder struct {
	client llms.Model
	model  string
}

// NewResponder builds a chat responder for cfg.Model.
func NewResponder(cfg Config) (*Responder, error) {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY and LLM_MODEL are required", llm.ErrNotConfigured)
	}
	client, err := openai.New(append(cfg.options(), openai.WithModel(cfg.Model))...)
	if err != nil {
		return nil, err
	}
	return &Responder{client: client, model: cfg.Model}, nil
}

func (r *Responder) Respond(ctx context.Context, input llm.ReplyInput) (string, error) {
	content := buildMessages(input)
	resp, err := r.client.GenerateContent(ctx, content, llms.WithTemperature(0.0))
	if err != nil {
		telemetry.Warn("llm.reply.error", map[string]any{"model": r.model, "error": err})
		return "", classify(err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", fmt.Errorf("openai response empty content")
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

func buildMessages(input llm.ReplyInput) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(input.History)+2)
	out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, llm.SystemPrompt(input)))
	for _, t := range input.History {
		role := llms.ChatMessageTypeHuman
		switch t.Role {
		case "ai":
			role = llms.ChatMessageTypeAI
		case "system":
			role = llms.ChatMessageTypeSystem
		}
		out = append(out, llms.TextParts(role, t.Content))
	}
	out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, llm.QuestionPrompt(input)))
	return out
}

var statusCode = regexp.MustCompile(`status code: (\d{3})`)

// classify marks rejections of the request content as permanent. Auth,
// unknown model and throttling responses stay retryable.
func classify(err error) error {
	m := statusCode.FindStringSubmatch(err.Error())
	if m == nil {
		return err
	}
	switch m[1] {
	case "400", "413", "422":
		return fmt.Errorf("%w: %v", llm.ErrPermanent, err)
	}
	return err
}

var (
	_ llm.Embedder  = (*Embedder)(nil)
	_ llm.Responder = (*Responder)(nil)
)
