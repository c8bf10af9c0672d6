package conversations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"docchat-backend/internal/documents"
	"docchat-backend/internal/llm"
	"docchat-backend/internal/memory"
	"docchat-backend/internal/shared/metrics"
	"docchat-backend/internal/shared/requestid"
	"docchat-backend/internal/shared/telemetry"
	"docchat-backend/internal/vectors"
)

const (
	maxDocumentsPerConversation = 20
	maxPromptLength             = 8000
	defaultWindow               = 20
	defaultTopK                 = 4
)

// ProjectLookup checks that a project exists for a user.
type ProjectLookup interface {
	ProjectExists(ctx context.Context, userID, projectID string) (bool, error)
}

// DocumentReader loads document metadata.
type DocumentReader interface {
	Get(ctx context.Context, userID, documentID string) (documents.Document, error)
}

// Searcher finds chunks near a query vector.
type Searcher interface {
	Search(ctx context.Context, userID string, documentIDs []string, query []float32, k int) ([]vectors.Match, error)
}

// Service contains business logic for conversations.
type Service struct {
	Repo      Repo
	Projects  ProjectLookup
	Documents DocumentReader
	Memory    memory.Store
	Vectors   Searcher
	Embedder  llm.Embedder
	Responder llm.Responder
	Window    int
	TopK      int
	Now       func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Create starts a conversation over documentIDs. Every document must belong
// to the project and be Ready.
func (s *Service) Create(ctx context.Context, userID, projectID string, documentIDs []string) (Conversation, error) {
	userID = strings.TrimSpace(userID)
	projectID = strings.TrimSpace(projectID)
	ids := dedupe(documentIDs)
	if userID == "" || projectID == "" || len(ids) == 0 {
		return Conversation{}, fmt.Errorf("%w: projectId and at least one documentId are required", ErrInvalidInput)
	}
	if len(ids) > maxDocumentsPerConversation {
		return Conversation{}, fmt.Errorf("%w: at most %d documents per conversation", ErrInvalidInput, maxDocumentsPerConversation)
	}

	ok, err := s.Projects.ProjectExists(ctx, userID, projectID)
	if err != nil {
		return Conversation{}, fmt.Errorf("lookup project: %w", err)
	}
	if !ok {
		return Conversation{}, ErrProjectNotFound
	}
	if _, err := s.readyDocuments(ctx, userID, projectID, ids); err != nil {
		return Conversation{}, err
	}

	id := uuid.NewString()
	c := Conversation{
		UserID:      userID,
		ID:          id,
		ProjectID:   projectID,
		DocumentIDs: ids,
		SessionID:   id,
		CreatedAt:   s.now(),
	}
	if err := s.Memory.Create(ctx, c.SessionID); err != nil {
		return Conversation{}, fmt.Errorf("create memory session: %w", err)
	}
	if err := s.Repo.Create(ctx, c); err != nil {
		if delErr := s.Memory.DeleteSession(requestid.Detached(ctx), c.SessionID); delErr != nil {
			telemetry.Error("conversation.orphan_session", map[string]any{"session_id": c.SessionID, "error": delErr})
		}
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	telemetry.Info("conversation.created", map[string]any{
		"user_id":         userID,
		"project_id":      projectID,
		"conversation_id": id,
		"documents":       len(ids),
	})
	return c, nil
}

// readyDocuments loads the referenced documents and checks they are usable.
// Missing documents take precedence over documents that are not Ready.
func (s *Service) readyDocuments(ctx context.Context, userID, projectID string, ids []string) ([]documents.Document, error) {
	docs := make([]documents.Document, 0, len(ids))
	var notReady []string
	for _, id := range ids {
		doc, err := s.Documents.Get(ctx, userID, id)
		if errors.Is(err, documents.ErrNotFound) || errors.Is(err, documents.ErrInvalidInput) {
			return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
		}
		if err != nil {
			return nil, fmt.Errorf("load document %s: %w", id, err)
		}
		if doc.ProjectID != projectID || doc.Status == documents.StatusDeleted {
			return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
		}
		if doc.Status != documents.StatusReady {
			notReady = append(notReady, id)
			continue
		}
		docs = append(docs, doc)
	}
	if len(notReady) > 0 {
		return nil, &NotReadyError{DocumentIDs: notReady}
	}
	return docs, nil
}

// Get returns a conversation for a user.
func (s *Service) Get(ctx context.Context, userID, conversationID string) (Conversation, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(conversationID) == "" {
		return Conversation{}, ErrInvalidInput
	}
	return s.Repo.Get(ctx, userID, conversationID)
}

// ListByProject lists a project's conversations, oldest first.
func (s *Service) ListByProject(ctx context.Context, userID, projectID string) ([]Conversation, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(projectID) == "" {
		return nil, ErrInvalidInput
	}
	ok, err := s.Projects.ProjectExists(ctx, userID, projectID)
	if err != nil {
		return nil, fmt.Errorf("lookup project: %w", err)
	}
	if !ok {
		return nil, ErrProjectNotFound
	}
	return s.Repo.ListByProject(ctx, userID, projectID)
}

// CountActiveByProject counts a project's conversations.
func (s *Service) CountActiveByProject(ctx context.Context, userID, projectID string) (int, error) {
	return s.Repo.CountActiveByProject(ctx, userID, projectID)
}

// Messages returns the full session log of a conversation.
func (s *Service) Messages(ctx context.Context, userID, conversationID string) ([]memory.Message, error) {
	c, err := s.Get(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	return s.Memory.List(ctx, c.SessionID)
}

// AppendMessage adds msg to the conversation's memory session.
func (s *Service) AppendMessage(ctx context.Context, userID, conversationID string, msg memory.Message) (memory.Message, error) {
	c, err := s.Get(ctx, userID, conversationID)
	if err != nil {
		return memory.Message{}, err
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	if err := s.Memory.Append(ctx, c.SessionID, msg); err != nil {
		return memory.Message{}, mapMemoryError(err)
	}
	return msg, nil
}

// Reply answers prompt from the conversation's documents and records the
// question and answer together in the memory session.
func (s *Service) Reply(ctx context.Context, userID, conversationID, prompt string) (Reply, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Reply{}, fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	if len(prompt) > maxPromptLength {
		return Reply{}, fmt.Errorf("%w: content too long", ErrInvalidInput)
	}
	c, err := s.Get(ctx, userID, conversationID)
	if err != nil {
		return Reply{}, err
	}

	// Status can change after creation, so readiness is checked again here.
	docs, err := s.readyDocuments(ctx, userID, c.ProjectID, c.DocumentIDs)
	if err != nil {
		return Reply{}, err
	}
	names := make(map[string]string, len(docs))
	fileNames := make([]string, 0, len(docs))
	for _, d := range docs {
		names[d.ID] = d.FileName
		fileNames = append(fileNames, d.FileName)
	}

	history, err := s.Memory.Window(ctx, c.SessionID, s.window())
	if err != nil {
		return Reply{}, mapMemoryError(err)
	}

	queryVec, err := s.Embedder.EmbedQuery(ctx, prompt)
	if err != nil {
		return Reply{}, fmt.Errorf("embed prompt: %w", err)
	}
	matches, err := s.Vectors.Search(ctx, userID, c.DocumentIDs, queryVec, s.topK())
	if err != nil {
		return Reply{}, fmt.Errorf("search chunks: %w", err)
	}

	input := llm.ReplyInput{Question: prompt, FileNames: fileNames}
	for _, m := range history {
		input.History = append(input.History, llm.Turn{Role: string(m.Type), Content: m.Content})
	}
	var sources []Source
	for _, m := range matches {
		input.Passages = append(input.Passages, llm.Passage{FileName: names[m.DocumentID], Page: m.Page, Text: m.Content})
		sources = append(sources, Source{DocumentID: m.DocumentID, FileName: names[m.DocumentID], Page: m.Page})
	}

	answer, err := s.Responder.Respond(ctx, input)
	if err != nil {
		return Reply{}, fmt.Errorf("generate reply: %w", err)
	}

	now := s.now()
	human := memory.Message{Type: memory.TypeHuman, Content: prompt, CreatedAt: now}
	ai := memory.Message{
		Type:               memory.TypeAI,
		Content:            answer,
		CreatedAt:          now,
		AdditionalMetadata: map[string]any{"sources": sourceMetadata(sources)},
	}
	if err := s.Memory.Append(ctx, c.SessionID, human, ai); err != nil {
		return Reply{}, mapMemoryError(err)
	}
	metrics.IncConversationReplies()
	telemetry.Info("conversation.reply", map[string]any{
		"user_id":         userID,
		"conversation_id": c.ID,
		"request_id":      requestid.From(ctx),
		"sources":         len(sources),
		"history":         len(history),
	})
	return Reply{Answer: answer, Sources: sources}, nil
}

// Delete removes the conversation and then its memory session.
func (s *Service) Delete(ctx context.Context, userID, conversationID string) error {
	c, err := s.Get(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	if err := s.Repo.Delete(ctx, userID, conversationID); err != nil {
		return err
	}
	if err := s.Memory.DeleteSession(requestid.Detached(ctx), c.SessionID); err != nil {
		telemetry.Error("conversation.session_cleanup_failed", map[string]any{
			"conversation_id": c.ID,
			"error":           err.Error(),
		})
	}
	return nil
}

func (s *Service) window() int {
	if s.Window > 0 {
		return s.Window
	}
	return defaultWindow
}

func (s *Service) topK() int {
	if s.TopK > 0 {
		return s.TopK
	}
	return defaultTopK
}

func mapMemoryError(err error) error {
	switch {
	case errors.Is(err, memory.ErrInvalidMessage):
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	case errors.Is(err, memory.ErrSessionNotFound):
		return ErrNotFound
	default:
		return err
	}
}

func sourceMetadata(sources []Source) []map[string]any {
	out := make([]map[string]any, 0, len(sources))
	for _, s := range sources {
		out = append(out, map[string]any{"documentId": s.DocumentID, "page": s.Page})
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
