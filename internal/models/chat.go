// Package models defines data structures for CopBot chat sessions.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// DefaultTitle is the sentinel title a session carries until a real title
// has been inferred from its first exchange.
const DefaultTitle = "New Chat"

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message is a single chat message, stored embedded in its session document.
// Messages are append-only; they are never edited, reordered or deleted
// individually.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	IsVoice   bool      `json:"is_voice"`
}

// ChatSession is a persistent named conversation owned by a single user.
// The message array is ordered by append time.
type ChatSession struct {
	ID        surrealmodels.RecordID `json:"id"`
	Title     string                 `json:"title"`
	Owner     string                 `json:"owner"`
	Messages  []Message              `json:"messages"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// NewMessage builds a message with a fresh ID and the current timestamp.
// Content is trimmed before storage; callers should have rejected
// empty-after-trim content already.
func NewMessage(content string, sender Sender, isVoice bool) Message {
	return Message{
		ID:        NewMessageID(),
		Content:   strings.TrimSpace(content),
		Sender:    sender,
		Timestamp: time.Now(),
		IsVoice:   isVoice,
	}
}

// NewMessageID generates a message ID unique within a session. The wall
// clock prefix keeps IDs roughly sortable; the UUID suffix rules out
// collisions between messages created in the same millisecond.
func NewMessageID() string {
	return fmt.Sprintf("msg_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
