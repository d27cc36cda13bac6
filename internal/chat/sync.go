package chat

import (
	"context"
	"log/slog"
	"sync"

	"github.com/copbot/copbot-go/internal/models"
)

// Snapshot is the synchronizer's view of the session list at one point in
// time: the full list, most-recently-updated first, plus the active session.
type Snapshot struct {
	Sessions []models.ChatSession
	ActiveID string
}

// Synchronizer keeps a live, ordered view of one user's sessions and tracks
// which session is active. It re-reads the full list on every remote change
// signal and reconciles the active selection against the fresh list: the
// selection survives if its session still exists, otherwise it falls to the
// most recent session, or to none when the list is empty.
type Synchronizer struct {
	store  SessionStore
	owner  string
	logger *slog.Logger

	mu       sync.Mutex
	sessions []models.ChatSession
	activeID string
	onChange func(Snapshot)
	closed   bool
	stop     func()
}

// NewSynchronizer creates a synchronizer for owner's sessions.
func NewSynchronizer(store SessionStore, owner string, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		store:  store,
		owner:  owner,
		logger: logger,
	}
}

// Subscribe loads the current session list, starts watching for remote
// changes and delivers a snapshot to onChange for the initial load and after
// every change. onChange runs on the synchronizer's goroutine and must not
// call back into the synchronizer.
//
// The returned cancel func is idempotent; after it returns no further
// snapshot is delivered.
func (s *Synchronizer) Subscribe(ctx context.Context, onChange func(Snapshot)) (func(), error) {
	if s.owner == "" {
		return nil, ErrNoUser
	}

	s.mu.Lock()
	s.onChange = onChange
	s.closed = false
	s.mu.Unlock()

	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}

	signal, cancelWatch, err := s.store.WatchSessions(ctx, s.owner)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case _, ok := <-signal:
				if !ok {
					return
				}
				if err := s.Refresh(ctx); err != nil {
					s.logger.Error("session refresh after change signal failed", "error", err)
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
			close(done)
			cancelWatch()
		})
	}

	s.mu.Lock()
	s.stop = cancel
	s.mu.Unlock()

	return cancel, nil
}

// Refresh re-reads the session list from the store, reconciles the active
// selection and notifies the subscriber.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	sessions, err := s.store.ListSessions(ctx, s.owner)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.sessions = sessions
	s.reconcileLocked()
	s.notifyLocked()
	s.mu.Unlock()
	return nil
}

// reconcileLocked keeps the active selection if its session is still present,
// otherwise selects the most recent session, or none.
func (s *Synchronizer) reconcileLocked() {
	if s.activeID != "" {
		for _, sess := range s.sessions {
			if models.MustRecordIDString(sess.ID) == s.activeID {
				return
			}
		}
	}
	if len(s.sessions) > 0 {
		s.activeID = models.MustRecordIDString(s.sessions[0].ID)
		return
	}
	s.activeID = ""
}

func (s *Synchronizer) notifyLocked() {
	if s.closed || s.onChange == nil {
		return
	}
	out := make([]models.ChatSession, len(s.sessions))
	copy(out, s.sessions)
	s.onChange(Snapshot{Sessions: out, ActiveID: s.activeID})
}

// SetActive selects a session by ID. Returns false if the session is not in
// the current list.
func (s *Synchronizer) SetActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if models.MustRecordIDString(sess.ID) == id {
			s.activeID = id
			s.notifyLocked()
			return true
		}
	}
	return false
}

// ActiveID returns the active session's record ID, or "" when none.
func (s *Synchronizer) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// ActiveSession returns a copy of the active session, or nil when none.
func (s *Synchronizer) ActiveSession() *models.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if models.MustRecordIDString(sess.ID) == s.activeID {
			out := sess
			return &out
		}
	}
	return nil
}

// Sessions returns a copy of the current session list.
func (s *Synchronizer) Sessions() []models.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ChatSession, len(s.sessions))
	copy(out, s.sessions)
	return out
}

// CreateSession creates a fresh session with the default title and makes it
// active.
func (s *Synchronizer) CreateSession(ctx context.Context) (*models.ChatSession, error) {
	if s.owner == "" {
		return nil, ErrNoUser
	}

	session, err := s.store.CreateSession(ctx, s.owner, "")
	if err != nil {
		return nil, err
	}

	s.AdoptSession(*session)
	return session, nil
}

// AdoptSession inserts a session created elsewhere into the local list and
// makes it active, ahead of the next change signal.
func (s *Synchronizer) AdoptSession(session models.ChatSession) {
	id := models.MustRecordIDString(session.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for i, sess := range s.sessions {
		if models.MustRecordIDString(sess.ID) == id {
			s.sessions[i] = session
			found = true
			break
		}
	}
	if !found {
		s.sessions = append([]models.ChatSession{session}, s.sessions...)
	}
	s.activeID = id
	s.notifyLocked()
}

// Close stops the subscription if one is running. Safe to call more than
// once and before Subscribe.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	stop := s.stop
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// DeleteSession removes a session. Deleting the last remaining session is
// refused so the user always has somewhere to type.
func (s *Synchronizer) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	if len(s.sessions) <= 1 {
		s.mu.Unlock()
		return ErrLastSessionProtected
	}
	s.mu.Unlock()

	if err := s.store.DeleteSession(ctx, id); err != nil {
		return err
	}

	return s.Refresh(ctx)
}
