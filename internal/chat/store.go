package chat

import (
	"context"

	"github.com/copbot/copbot-go/internal/models"
)

// SessionStore is the persistence surface the synchronizer and pipeline
// depend on. *db.Client satisfies it; tests substitute fakes.
type SessionStore interface {
	CreateSession(ctx context.Context, owner, title string) (*models.ChatSession, error)
	GetSession(ctx context.Context, id string) (*models.ChatSession, error)
	ListSessions(ctx context.Context, owner string) ([]models.ChatSession, error)
	AppendMessage(ctx context.Context, sessionID string, msg models.Message) error
	UpdateSessionTitle(ctx context.Context, sessionID, title string) error
	DeleteSession(ctx context.Context, sessionID string) error
	WatchSessions(ctx context.Context, owner string) (<-chan struct{}, func(), error)
}

// Completer produces assistant replies and session titles.
type Completer interface {
	// Complete generates a reply for the full conversation context.
	Complete(ctx context.Context, entries []Entry) (string, error)
	// InferTitle derives a short session title from the first user message.
	InferTitle(ctx context.Context, firstMessage string) (string, error)
}

// Sink receives conversation output for display. The pipeline calls it from
// the sending goroutine; implementations that render asynchronously must do
// their own handoff.
type Sink interface {
	// ShowMessage displays a message in the active conversation.
	ShowMessage(msg models.Message)
	// Notify surfaces an out-of-band warning, such as a persistence failure.
	Notify(text string)
}
