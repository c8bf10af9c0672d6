package conversations

import "context"

// Repo defines persistence operations for conversations.
type Repo interface {
	Create(ctx context.Context, c Conversation) error
	Get(ctx context.Context, userID, conversationID string) (Conversation, error)
	ListByProject(ctx context.Context, userID, projectID string) ([]Conversation, error)
	CountActiveByProject(ctx context.Context, userID, projectID string) (int, error)
	Delete(ctx context.Context, userID, conversationID string) error
}
