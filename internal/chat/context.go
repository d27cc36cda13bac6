package chat

import (
	"sync"
)

// Role identifies who authored a context entry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one turn of conversation context sent to the completion backend.
type Entry struct {
	Role    Role
	Content string
}

type contextKey struct {
	userID    string
	sessionID string
}

// ContextManager holds the in-memory conversation context for each
// (user, session) pair. Context is what the completion backend sees; it is
// rebuilt from scratch on process restart and is never persisted.
//
// Entries are committed in user/assistant pairs and only after a completion
// succeeds, so a failed turn leaves the context exactly as it was.
type ContextManager struct {
	mu            sync.Mutex
	conversations map[contextKey][]Entry
	systemPrompt  string
	maxTurns      int
}

// NewContextManager creates a manager seeding every conversation with
// systemPrompt. maxTurns bounds the number of user/assistant pairs retained;
// zero or negative means unbounded.
func NewContextManager(systemPrompt string, maxTurns int) *ContextManager {
	return &ContextManager{
		conversations: make(map[contextKey][]Entry),
		systemPrompt:  systemPrompt,
		maxTurns:      maxTurns,
	}
}

// Get returns the conversation context for the pair, creating and seeding it
// with the system prompt on first access. The returned slice is a copy;
// mutating it does not affect the stored context.
func (m *ContextManager) Get(userID, sessionID string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.ensureLocked(userID, sessionID)
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// CommitTurn appends a completed user/assistant exchange to the context.
// The pair is appended atomically; a reader never observes the user entry
// without its reply. Oldest pairs are evicted once the turn budget is
// exceeded, always preserving the system entry.
func (m *ContextManager) CommitTurn(userID, sessionID, userContent, assistantContent string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := contextKey{userID, sessionID}
	entries := m.ensureLocked(userID, sessionID)
	entries = append(entries,
		Entry{Role: RoleUser, Content: userContent},
		Entry{Role: RoleAssistant, Content: assistantContent},
	)

	if m.maxTurns > 0 {
		// One system entry plus two entries per turn.
		for len(entries) > 1+2*m.maxTurns {
			entries = append(entries[:1], entries[3:]...)
		}
	}

	m.conversations[key] = entries
}

// Clear resets one conversation back to just its system prompt.
func (m *ContextManager) Clear(userID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conversations, contextKey{userID, sessionID})
}

// PurgeUser drops all of a user's conversations, for example when their
// identity changes.
func (m *ContextManager) PurgeUser(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.conversations {
		if key.userID == userID {
			delete(m.conversations, key)
		}
	}
}

func (m *ContextManager) ensureLocked(userID, sessionID string) []Entry {
	key := contextKey{userID, sessionID}
	entries, ok := m.conversations[key]
	if !ok {
		entries = []Entry{{Role: RoleSystem, Content: m.systemPrompt}}
		m.conversations[key] = entries
	}
	return entries
}
