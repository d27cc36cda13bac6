// Package db provides SurrealDB query functions for chat session operations.
package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/surrealdb/surrealdb.go"

	"github.com/copbot/copbot-go/internal/metrics"
	"github.com/copbot/copbot-go/internal/models"
)

// CreateSession creates a new chat session for owner with the given title.
// An empty title defaults to the "New Chat" sentinel. The record ID is
// assigned by SurrealDB, never by the client.
func (c *Client) CreateSession(ctx context.Context, owner, title string) (*models.ChatSession, error) {
	defer c.recordTiming(metrics.OpSessionWrite, time.Now())

	if title == "" {
		title = models.DefaultTitle
	}

	results, err := surrealdb.Query[[]models.ChatSession](ctx, c.db, `
		CREATE chat_session SET
			title = $title,
			owner = $owner,
			messages = [],
			created_at = time::now(),
			updated_at = time::now()
		RETURN AFTER
	`, map[string]any{
		"title": title,
		"owner": owner,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("create session: no result returned")
	}
	return &(*results)[0].Result[0], nil
}

// GetSession retrieves a session by ID.
// Returns nil if not found.
func (c *Client) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	defer c.recordTiming(metrics.OpSessionQuery, time.Now())

	results, err := surrealdb.Query[[]models.ChatSession](ctx, c.db, `
		SELECT * FROM type::record("chat_session", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get session: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// ListSessions returns all of owner's sessions ordered most-recently-updated
// first. Ties are broken by record ID so the order is deterministic.
func (c *Client) ListSessions(ctx context.Context, owner string) ([]models.ChatSession, error) {
	defer c.recordTiming(metrics.OpSessionQuery, time.Now())

	results, err := surrealdb.Query[[]models.ChatSession](ctx, c.db, `
		SELECT * FROM chat_session
		WHERE owner = $owner
		ORDER BY updated_at DESC, id DESC
	`, map[string]any{"owner": owner})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.ChatSession{}, nil
	}
	return (*results)[0].Result, nil
}

// AppendMessage appends a message to a session's embedded message array and
// bumps updated_at. The append is read-modify-write (read current array,
// append, write back), not an atomic array push: two clients appending to the
// same session concurrently can race and one append can be lost. Known
// limitation inherited from the document layout.
func (c *Client) AppendMessage(ctx context.Context, sessionID string, msg models.Message) error {
	defer c.recordTiming(metrics.OpSessionWrite, time.Now())

	session, err := c.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if session == nil {
		return fmt.Errorf("append message: %w", ErrSessionNotFound)
	}

	messages := append(session.Messages, msg)

	_, err = surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("chat_session", $id) SET
			messages = $messages,
			updated_at = time::now()
	`, map[string]any{
		"id":       sessionID,
		"messages": messages,
	})
	if err != nil {
		return fmt.Errorf("append message: %w", wrapQueryError(err))
	}
	return nil
}

// UpdateSessionTitle replaces a session's title and bumps updated_at.
func (c *Client) UpdateSessionTitle(ctx context.Context, sessionID, title string) error {
	defer c.recordTiming(metrics.OpSessionWrite, time.Now())

	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("chat_session", $id) SET
			title = $title,
			updated_at = time::now()
	`, map[string]any{
		"id":    sessionID,
		"title": title,
	})
	if err != nil {
		return fmt.Errorf("update session title: %w", wrapQueryError(err))
	}
	return nil
}

// DeleteSession removes a session document and all its embedded messages.
// Last-session protection is enforced by the synchronizer, not here.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	defer c.recordTiming(metrics.OpSessionWrite, time.Now())

	_, err := surrealdb.Query[any](ctx, c.db, `
		DELETE type::record("chat_session", $id)
	`, map[string]any{"id": sessionID})
	if err != nil {
		return fmt.Errorf("delete session: %w", wrapQueryError(err))
	}
	return nil
}

// WatchSessions starts a live query on the chat_session table and returns a
// change-signal channel for owner's sessions. The channel delivers one empty
// struct per remote change (coalescing bursts); consumers re-read the current
// list on each signal. The returned cancel func is idempotent: it kills the
// live query, and no signal is delivered after it returns.
func (c *Client) WatchSessions(ctx context.Context, owner string) (<-chan struct{}, func(), error) {
	liveID, notifications, err := c.LiveTable(ctx, "chat_session")
	if err != nil {
		return nil, nil, fmt.Errorf("watch sessions: %w", err)
	}

	signal := make(chan struct{}, 1)
	done := make(chan struct{})

	go func() {
		defer close(signal)
		for {
			select {
			case <-done:
				return
			case _, ok := <-notifications:
				if !ok {
					return
				}
				// Coalesce: a pending signal already covers this change.
				select {
				case signal <- struct{}{}:
				case <-done:
					return
				default:
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			if err := c.KillLive(context.Background(), liveID); err != nil {
				c.logger.Error("failed to kill live query", "live_id", liveID, "error", err)
			}
		})
	}

	return signal, cancel, nil
}
