package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/copbot/copbot-go/internal/models"
)

// fakeStore is an in-memory SessionStore. Sessions are kept most recently
// touched first, matching the ordering the real store query produces.
type fakeStore struct {
	mu       sync.Mutex
	sessions []models.ChatSession
	nextID   int
	signal   chan struct{}

	createErr error
	appendErr error
	deleteErr error

	titleUpdates chan string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		signal:       make(chan struct{}, 1),
		titleUpdates: make(chan string, 4),
	}
}

func (f *fakeStore) CreateSession(_ context.Context, owner, title string) (*models.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	if title == "" {
		title = models.DefaultTitle
	}
	f.nextID++
	session := models.ChatSession{
		ID:        surrealmodels.RecordID{Table: "chat_session", ID: fmt.Sprintf("s%d", f.nextID)},
		Title:     title,
		Owner:     owner,
		Messages:  []models.Message{},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	f.sessions = append([]models.ChatSession{session}, f.sessions...)
	return &session, nil
}

func (f *fakeStore) GetSession(_ context.Context, id string) (*models.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if models.MustRecordIDString(s.ID) == id {
			out := s
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListSessions(_ context.Context, owner string) ([]models.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.ChatSession{}
	for _, s := range f.sessions {
		if s.Owner == owner {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) AppendMessage(_ context.Context, sessionID string, msg models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	for i := range f.sessions {
		if models.MustRecordIDString(f.sessions[i].ID) == sessionID {
			f.sessions[i].Messages = append(f.sessions[i].Messages, msg)
			f.sessions[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrMessagePersistenceFailed
}

func (f *fakeStore) UpdateSessionTitle(_ context.Context, sessionID, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.sessions {
		if models.MustRecordIDString(f.sessions[i].ID) == sessionID {
			f.sessions[i].Title = title
			f.sessions[i].UpdatedAt = time.Now()
			f.titleUpdates <- title
			return nil
		}
	}
	return nil
}

func (f *fakeStore) DeleteSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for i := range f.sessions {
		if models.MustRecordIDString(f.sessions[i].ID) == sessionID {
			f.sessions = append(f.sessions[:i], f.sessions[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeStore) WatchSessions(context.Context, string) (<-chan struct{}, func(), error) {
	return f.signal, func() {}, nil
}

// fire delivers a change signal as the live query would.
func (f *fakeStore) fire() {
	select {
	case f.signal <- struct{}{}:
	default:
	}
}

func (f *fakeStore) messages(t *testing.T, sessionID string) []models.Message {
	t.Helper()
	session, err := f.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	require.NotNil(t, session)
	return session.Messages
}

// snapshotRecorder collects snapshots delivered by a synchronizer.
type snapshotRecorder struct {
	mu        sync.Mutex
	snapshots []Snapshot
}

func (r *snapshotRecorder) record(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
}

func (r *snapshotRecorder) last() (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snapshots) == 0 {
		return Snapshot{}, false
	}
	return r.snapshots[len(r.snapshots)-1], true
}

func (r *snapshotRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

func TestSynchronizerSubscribeRequiresUser(t *testing.T) {
	s := NewSynchronizer(newFakeStore(), "", nil)

	_, err := s.Subscribe(context.Background(), func(Snapshot) {})
	assert.ErrorIs(t, err, ErrNoUser)
}

func TestSynchronizerInitialLoadSelectsMostRecent(t *testing.T) {
	store := newFakeStore()
	_, err := store.CreateSession(context.Background(), "u1", "older")
	require.NoError(t, err)
	newer, err := store.CreateSession(context.Background(), "u1", "newer")
	require.NoError(t, err)

	s := NewSynchronizer(store, "u1", nil)
	rec := &snapshotRecorder{}

	cancel, err := s.Subscribe(context.Background(), rec.record)
	require.NoError(t, err)
	defer cancel()

	snap, ok := rec.last()
	require.True(t, ok)
	assert.Len(t, snap.Sessions, 2)
	assert.Equal(t, models.MustRecordIDString(newer.ID), snap.ActiveID)
}

func TestSynchronizerEmptyListHasNoSelection(t *testing.T) {
	s := NewSynchronizer(newFakeStore(), "u1", nil)
	rec := &snapshotRecorder{}

	cancel, err := s.Subscribe(context.Background(), rec.record)
	require.NoError(t, err)
	defer cancel()

	snap, ok := rec.last()
	require.True(t, ok)
	assert.Empty(t, snap.Sessions)
	assert.Empty(t, snap.ActiveID)
	assert.Nil(t, s.ActiveSession())
}

func TestSynchronizerSelectionSurvivesRefresh(t *testing.T) {
	store := newFakeStore()
	older, err := store.CreateSession(context.Background(), "u1", "older")
	require.NoError(t, err)
	_, err = store.CreateSession(context.Background(), "u1", "newer")
	require.NoError(t, err)

	s := NewSynchronizer(store, "u1", nil)
	rec := &snapshotRecorder{}
	cancel, err := s.Subscribe(context.Background(), rec.record)
	require.NoError(t, err)
	defer cancel()

	olderID := models.MustRecordIDString(older.ID)
	require.True(t, s.SetActive(olderID))

	// A third session appearing remotely must not steal the selection.
	_, err = store.CreateSession(context.Background(), "u1", "newest")
	require.NoError(t, err)
	store.fire()

	require.Eventually(t, func() bool {
		snap, ok := rec.last()
		return ok && len(snap.Sessions) == 3
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, olderID, s.ActiveID())
}

func TestSynchronizerSelectionFallsToMostRecentOnRemoteDelete(t *testing.T) {
	store := newFakeStore()
	first, err := store.CreateSession(context.Background(), "u1", "first")
	require.NoError(t, err)
	second, err := store.CreateSession(context.Background(), "u1", "second")
	require.NoError(t, err)

	s := NewSynchronizer(store, "u1", nil)
	rec := &snapshotRecorder{}
	cancel, err := s.Subscribe(context.Background(), rec.record)
	require.NoError(t, err)
	defer cancel()

	secondID := models.MustRecordIDString(second.ID)
	require.Equal(t, secondID, s.ActiveID())

	// The active session disappears from another client.
	require.NoError(t, store.DeleteSession(context.Background(), secondID))
	store.fire()

	firstID := models.MustRecordIDString(first.ID)
	require.Eventually(t, func() bool {
		return s.ActiveID() == firstID
	}, time.Second, 5*time.Millisecond)
}

func TestSynchronizerSetActiveUnknownID(t *testing.T) {
	store := newFakeStore()
	_, err := store.CreateSession(context.Background(), "u1", "only")
	require.NoError(t, err)

	s := NewSynchronizer(store, "u1", nil)
	cancel, err := s.Subscribe(context.Background(), func(Snapshot) {})
	require.NoError(t, err)
	defer cancel()

	before := s.ActiveID()
	assert.False(t, s.SetActive("nope"))
	assert.Equal(t, before, s.ActiveID())
}

func TestSynchronizerCreateSessionBecomesActive(t *testing.T) {
	store := newFakeStore()
	_, err := store.CreateSession(context.Background(), "u1", "existing")
	require.NoError(t, err)

	s := NewSynchronizer(store, "u1", nil)
	cancel, err := s.Subscribe(context.Background(), func(Snapshot) {})
	require.NoError(t, err)
	defer cancel()

	created, err := s.CreateSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.DefaultTitle, created.Title)
	assert.Equal(t, models.MustRecordIDString(created.ID), s.ActiveID())
	assert.Len(t, s.Sessions(), 2)
}

func TestSynchronizerDeleteLastSessionRefused(t *testing.T) {
	store := newFakeStore()
	only, err := store.CreateSession(context.Background(), "u1", "only")
	require.NoError(t, err)

	s := NewSynchronizer(store, "u1", nil)
	cancel, err := s.Subscribe(context.Background(), func(Snapshot) {})
	require.NoError(t, err)
	defer cancel()

	err = s.DeleteSession(context.Background(), models.MustRecordIDString(only.ID))
	assert.ErrorIs(t, err, ErrLastSessionProtected)
	assert.Len(t, s.Sessions(), 1)
}

func TestSynchronizerDeleteSwitchesSelection(t *testing.T) {
	store := newFakeStore()
	first, err := store.CreateSession(context.Background(), "u1", "first")
	require.NoError(t, err)
	second, err := store.CreateSession(context.Background(), "u1", "second")
	require.NoError(t, err)

	s := NewSynchronizer(store, "u1", nil)
	cancel, err := s.Subscribe(context.Background(), func(Snapshot) {})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, s.DeleteSession(context.Background(), models.MustRecordIDString(second.ID)))
	assert.Equal(t, models.MustRecordIDString(first.ID), s.ActiveID())
	assert.Len(t, s.Sessions(), 1)
}

func TestSynchronizerDeleteStoreError(t *testing.T) {
	store := newFakeStore()
	_, err := store.CreateSession(context.Background(), "u1", "first")
	require.NoError(t, err)
	second, err := store.CreateSession(context.Background(), "u1", "second")
	require.NoError(t, err)

	s := NewSynchronizer(store, "u1", nil)
	cancel, err := s.Subscribe(context.Background(), func(Snapshot) {})
	require.NoError(t, err)
	defer cancel()

	boom := errors.New("boom")
	store.deleteErr = boom

	err = s.DeleteSession(context.Background(), models.MustRecordIDString(second.ID))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, s.Sessions(), 2)
}

func TestSynchronizerCancelStopsSnapshots(t *testing.T) {
	store := newFakeStore()
	_, err := store.CreateSession(context.Background(), "u1", "one")
	require.NoError(t, err)

	s := NewSynchronizer(store, "u1", nil)
	rec := &snapshotRecorder{}
	cancel, err := s.Subscribe(context.Background(), rec.record)
	require.NoError(t, err)

	cancel()
	cancel() // idempotent

	before := rec.count()
	store.fire()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, rec.count())
}
