// Package chat implements conversation context management, session
// synchronization and the message pipeline.
package chat

import (
	"errors"
	"fmt"
)

// Sentinel errors for chat operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrEmptyMessage indicates the message content was empty after trimming.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrNoUser indicates no user identity is configured, so no session can
	// be owned or created.
	ErrNoUser = errors.New("no user configured")

	// ErrSessionCreationFailed indicates a new session could not be persisted
	// before sending the first message.
	ErrSessionCreationFailed = errors.New("session creation failed")

	// ErrMessagePersistenceFailed indicates a message could not be written to
	// the session document. The conversation continues in memory.
	ErrMessagePersistenceFailed = errors.New("message persistence failed")

	// ErrLastSessionProtected indicates a delete was refused because it would
	// remove the user's only remaining session.
	ErrLastSessionProtected = errors.New("cannot delete the last remaining chat")
)

// CompletionErrorKind classifies completion failures for user-facing
// messaging.
type CompletionErrorKind string

const (
	// CompletionTimeout means the request exceeded its deadline.
	CompletionTimeout CompletionErrorKind = "timeout"
	// CompletionTransport means the request never produced an HTTP response
	// (connection refused, DNS failure, reset).
	CompletionTransport CompletionErrorKind = "transport"
	// CompletionEmptyResponse means the backend answered but returned no
	// usable choice.
	CompletionEmptyResponse CompletionErrorKind = "empty_response"
	// CompletionHTTPStatus means the backend answered with a non-2xx status.
	CompletionHTTPStatus CompletionErrorKind = "http_status"
)

// CompletionError describes a failed completion request.
type CompletionError struct {
	Kind   CompletionErrorKind
	Status int // HTTP status code when Kind is CompletionHTTPStatus, else 0
	Err    error
}

func (e *CompletionError) Error() string {
	switch e.Kind {
	case CompletionHTTPStatus:
		return fmt.Sprintf("completion failed: status %d: %v", e.Status, e.Err)
	default:
		return fmt.Sprintf("completion failed (%s): %v", e.Kind, e.Err)
	}
}

func (e *CompletionError) Unwrap() error {
	return e.Err
}

// UserMessage renders the failure as the assistant-voiced text shown in the
// conversation when a reply could not be produced.
func (e *CompletionError) UserMessage() string {
	switch e.Kind {
	case CompletionTimeout:
		return "I'm sorry, the request timed out. Please try again."
	case CompletionTransport:
		return "I'm sorry, I couldn't reach the assistant service. Please check your connection and try again."
	case CompletionEmptyResponse:
		return "I'm sorry, I received an empty response. Please try again."
	case CompletionHTTPStatus:
		return fmt.Sprintf("I'm sorry, the assistant service returned an error (status %d). Please try again.", e.Status)
	default:
		return "I'm sorry, something went wrong. Please try again."
	}
}
