package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copbot/copbot-go/internal/models"
)

type fakeCompleter struct {
	mu         sync.Mutex
	reply      string
	err        error
	title      string
	titleErr   error
	lastPrompt []Entry
}

func (f *fakeCompleter) Complete(_ context.Context, entries []Entry) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPrompt = append([]Entry(nil), entries...)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeCompleter) InferTitle(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.titleErr != nil {
		return "", f.titleErr
	}
	return f.title, nil
}

func (f *fakeCompleter) prompt() []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPrompt
}

type fakeSink struct {
	mu       sync.Mutex
	messages []models.Message
	notices  []string
}

func (f *fakeSink) ShowMessage(msg models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
}

func (f *fakeSink) Notify(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, text)
}

func (f *fakeSink) shown() []models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Message(nil), f.messages...)
}

func (f *fakeSink) noticeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notices)
}

type pipelineFixture struct {
	store     *fakeStore
	completer *fakeCompleter
	sink      *fakeSink
	contexts  *ContextManager
	sync      *Synchronizer
	pipeline  *Pipeline
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	store := newFakeStore()
	completer := &fakeCompleter{reply: "assistant reply", title: "Inferred Title"}
	sink := &fakeSink{}
	contexts := NewContextManager("sys", 0)
	syncer := NewSynchronizer(store, "u1", nil)
	cancel, err := syncer.Subscribe(context.Background(), func(Snapshot) {})
	require.NoError(t, err)
	t.Cleanup(cancel)

	pipeline := NewPipeline(store, completer, sink, contexts, syncer,
		PipelineConfig{Owner: "u1", CompletionTimeout: time.Second}, nil)

	return &pipelineFixture{
		store:     store,
		completer: completer,
		sink:      sink,
		contexts:  contexts,
		sync:      syncer,
		pipeline:  pipeline,
	}
}

func TestPipelineRejectsEmptyMessage(t *testing.T) {
	fx := newPipelineFixture(t)

	for _, content := range []string{"", "   ", "\n\t "} {
		_, err := fx.pipeline.Send(context.Background(), content, false)
		assert.ErrorIs(t, err, ErrEmptyMessage)
	}
	assert.Empty(t, fx.sink.shown())
}

func TestPipelineRequiresUser(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.pipeline.cfg.Owner = ""

	_, err := fx.pipeline.Send(context.Background(), "hello", false)
	assert.ErrorIs(t, err, ErrNoUser)
}

func TestPipelineCreatesSessionOnFirstSend(t *testing.T) {
	fx := newPipelineFixture(t)
	require.Empty(t, fx.sync.ActiveID())

	reply, err := fx.pipeline.Send(context.Background(), "hello there", false)
	require.NoError(t, err)
	assert.Equal(t, "assistant reply", reply.Content)
	assert.Equal(t, models.SenderAssistant, reply.Sender)

	sessionID := fx.sync.ActiveID()
	require.NotEmpty(t, sessionID)

	// Both turn messages land in the session document in order.
	msgs := fx.store.messages(t, sessionID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello there", msgs[0].Content)
	assert.Equal(t, models.SenderUser, msgs[0].Sender)
	assert.Equal(t, "assistant reply", msgs[1].Content)
	assert.Equal(t, models.SenderAssistant, msgs[1].Sender)

	// A title gets inferred for the fresh session.
	select {
	case title := <-fx.store.titleUpdates:
		assert.Equal(t, "Inferred Title", title)
	case <-time.After(time.Second):
		t.Fatal("no title update")
	}
}

func TestPipelineReusesActiveSession(t *testing.T) {
	fx := newPipelineFixture(t)

	_, err := fx.pipeline.Send(context.Background(), "first", false)
	require.NoError(t, err)
	sessionID := fx.sync.ActiveID()

	_, err = fx.pipeline.Send(context.Background(), "second", false)
	require.NoError(t, err)

	assert.Equal(t, sessionID, fx.sync.ActiveID())
	assert.Len(t, fx.store.messages(t, sessionID), 4)
	assert.Len(t, fx.sync.Sessions(), 1)
}

func TestPipelineSendsFullContextToCompleter(t *testing.T) {
	fx := newPipelineFixture(t)

	_, err := fx.pipeline.Send(context.Background(), "first question", false)
	require.NoError(t, err)
	_, err = fx.pipeline.Send(context.Background(), "second question", false)
	require.NoError(t, err)

	prompt := fx.completer.prompt()
	require.Len(t, prompt, 4)
	assert.Equal(t, RoleSystem, prompt[0].Role)
	assert.Equal(t, "first question", prompt[1].Content)
	assert.Equal(t, "assistant reply", prompt[2].Content)
	assert.Equal(t, "second question", prompt[3].Content)
}

func TestPipelineSessionCreationFailure(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.store.createErr = errors.New("db down")

	_, err := fx.pipeline.Send(context.Background(), "hello", false)
	assert.ErrorIs(t, err, ErrSessionCreationFailed)
	assert.Empty(t, fx.sink.shown())
}

func TestPipelinePersistenceFailureIsNonFatal(t *testing.T) {
	fx := newPipelineFixture(t)
	_, err := fx.pipeline.Send(context.Background(), "seed", false)
	require.NoError(t, err)

	fx.store.appendErr = errors.New("write refused")

	reply, err := fx.pipeline.Send(context.Background(), "will not persist", false)
	require.NoError(t, err)
	assert.Equal(t, "assistant reply", reply.Content)

	// Both messages were still shown, and the user was warned twice.
	shown := fx.sink.shown()
	assert.Equal(t, "will not persist", shown[len(shown)-2].Content)
	assert.Equal(t, "assistant reply", shown[len(shown)-1].Content)
	assert.Equal(t, 2, fx.sink.noticeCount())

	// The turn still entered the context.
	entries := fx.contexts.Get("u1", fx.sync.ActiveID())
	assert.Equal(t, "will not persist", entries[len(entries)-2].Content)
}

func TestPipelineCompletionFailureLeavesContextUntouched(t *testing.T) {
	fx := newPipelineFixture(t)
	_, err := fx.pipeline.Send(context.Background(), "seed", false)
	require.NoError(t, err)

	sessionID := fx.sync.ActiveID()
	before := fx.contexts.Get("u1", sessionID)

	fx.completer.err = &CompletionError{Kind: CompletionTransport, Err: errors.New("connection refused")}

	failMsg, err := fx.pipeline.Send(context.Background(), "doomed", false)
	require.Error(t, err)
	var cerr *CompletionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, CompletionTransport, cerr.Kind)

	// The failure is spoken by the assistant and persisted.
	assert.Equal(t, models.SenderAssistant, failMsg.Sender)
	assert.True(t, strings.HasPrefix(failMsg.Content, "I'm sorry"))
	msgs := fx.store.messages(t, sessionID)
	assert.Equal(t, failMsg.Content, msgs[len(msgs)-1].Content)

	// Context still ends at the last successful turn.
	assert.Equal(t, before, fx.contexts.Get("u1", sessionID))
}

func TestPipelineTimeoutFailureText(t *testing.T) {
	fx := newPipelineFixture(t)
	_, err := fx.pipeline.Send(context.Background(), "seed", false)
	require.NoError(t, err)

	fx.completer.err = context.DeadlineExceeded

	failMsg, err := fx.pipeline.Send(context.Background(), "slow", false)
	require.Error(t, err)
	assert.Contains(t, failMsg.Content, "timed out")
}

func TestPipelineNoTitleInferenceForTitledSession(t *testing.T) {
	fx := newPipelineFixture(t)

	_, err := fx.pipeline.Send(context.Background(), "first", false)
	require.NoError(t, err)
	<-fx.store.titleUpdates

	_, err = fx.pipeline.Send(context.Background(), "second", false)
	require.NoError(t, err)

	select {
	case title := <-fx.store.titleUpdates:
		t.Fatalf("unexpected title update: %q", title)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPipelineTitleInferenceFailureKeepsDefault(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.completer.titleErr = errors.New("no title for you")

	_, err := fx.pipeline.Send(context.Background(), "hello", false)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	session := fx.sync.ActiveSession()
	require.NotNil(t, session)
	assert.Equal(t, models.DefaultTitle, session.Title)
}

func TestPipelineVoiceFlagCarriesThrough(t *testing.T) {
	fx := newPipelineFixture(t)

	_, err := fx.pipeline.Send(context.Background(), "spoken words", true)
	require.NoError(t, err)

	msgs := fx.store.messages(t, fx.sync.ActiveID())
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].IsVoice)
	assert.False(t, msgs[1].IsVoice)
}
