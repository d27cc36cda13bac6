package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/copbot/copbot-go/internal/models"
)

const titleInferenceTimeout = 30 * time.Second

// PipelineConfig tunes the message pipeline.
type PipelineConfig struct {
	// Owner is the user all sessions and context belong to.
	Owner string
	// CompletionTimeout bounds a single completion request. Zero means 60s.
	CompletionTimeout time.Duration
}

// Pipeline drives one full message turn: validate, resolve or create the
// session, show and persist the user message, request a completion, and show
// and persist the reply (or a spoken failure message).
type Pipeline struct {
	store     SessionStore
	completer Completer
	sink      Sink
	contexts  *ContextManager
	sync      *Synchronizer
	logger    *slog.Logger
	cfg       PipelineConfig

	background sync.WaitGroup
}

// NewPipeline wires a pipeline from its collaborators.
func NewPipeline(store SessionStore, completer Completer, sink Sink, contexts *ContextManager, syncer *Synchronizer, cfg PipelineConfig, logger *slog.Logger) *Pipeline {
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:     store,
		completer: completer,
		sink:      sink,
		contexts:  contexts,
		sync:      syncer,
		logger:    logger,
		cfg:       cfg,
	}
}

// Send runs one message turn and returns the assistant message that ended it.
// On completion failure the returned message carries the user-facing failure
// text and err describes the cause; the conversation context is left
// untouched so the failed turn can simply be retried.
func (p *Pipeline) Send(ctx context.Context, content string, isVoice bool) (models.Message, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return models.Message{}, ErrEmptyMessage
	}
	if p.cfg.Owner == "" {
		return models.Message{}, ErrNoUser
	}

	sessionID, needsTitle, err := p.resolveSession(ctx)
	if err != nil {
		return models.Message{}, err
	}

	// The user message appears immediately; persistence happens after and
	// its failure does not remove the message from view.
	userMsg := models.NewMessage(trimmed, models.SenderUser, isVoice)
	p.sink.ShowMessage(userMsg)
	p.persist(ctx, sessionID, userMsg)

	if needsTitle {
		p.background.Add(1)
		go func() {
			defer p.background.Done()
			p.inferTitle(sessionID, trimmed)
		}()
	}

	entries := p.contexts.Get(p.cfg.Owner, sessionID)
	entries = append(entries, Entry{Role: RoleUser, Content: trimmed})

	cctx, cancel := context.WithTimeout(ctx, p.cfg.CompletionTimeout)
	reply, err := p.completer.Complete(cctx, entries)
	cancel()

	if err != nil {
		p.logger.Error("completion failed", "session", sessionID, "error", err)
		failMsg := models.NewMessage(failureText(err), models.SenderAssistant, false)
		p.sink.ShowMessage(failMsg)
		p.persist(ctx, sessionID, failMsg)
		return failMsg, err
	}

	p.contexts.CommitTurn(p.cfg.Owner, sessionID, trimmed, reply)

	assistantMsg := models.NewMessage(reply, models.SenderAssistant, false)
	p.sink.ShowMessage(assistantMsg)
	p.persist(ctx, sessionID, assistantMsg)

	return assistantMsg, nil
}

// resolveSession returns the active session's ID, creating a session when
// none is active. needsTitle reports whether this turn should kick off title
// inference: either the session was just created, or it still carries the
// default title and has no messages yet.
func (p *Pipeline) resolveSession(ctx context.Context) (sessionID string, needsTitle bool, err error) {
	if activeID := p.sync.ActiveID(); activeID != "" {
		// Read the current document rather than the synchronizer's snapshot;
		// the snapshot can lag behind appends made this process.
		session, err := p.store.GetSession(ctx, activeID)
		if err != nil {
			return "", false, err
		}
		if session != nil {
			needsTitle = session.Title == models.DefaultTitle && len(session.Messages) == 0
			return activeID, needsTitle, nil
		}
		// The active session was deleted remotely; fall through and create.
	}

	session, err := p.store.CreateSession(ctx, p.cfg.Owner, "")
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrSessionCreationFailed, err)
	}
	p.sync.AdoptSession(*session)
	return models.MustRecordIDString(session.ID), true, nil
}

// persist appends a message to the session document. Failure is reported but
// never aborts the turn; the message stays visible in memory.
func (p *Pipeline) persist(ctx context.Context, sessionID string, msg models.Message) {
	if err := p.store.AppendMessage(ctx, sessionID, msg); err != nil {
		err = fmt.Errorf("%w: %w", ErrMessagePersistenceFailed, err)
		p.logger.Error("message persistence failed",
			"session", sessionID, "message", msg.ID, "error", err)
		p.sink.Notify("Warning: message could not be saved. The conversation continues, but this message may be missing after a restart.")
	}
}

// inferTitle asks the completer for a session title from the first message
// and stores it. Runs detached from the turn with its own deadline; any
// failure leaves the default title in place.
func (p *Pipeline) inferTitle(sessionID, firstMessage string) {
	ctx, cancel := context.WithTimeout(context.Background(), titleInferenceTimeout)
	defer cancel()

	title, err := p.completer.InferTitle(ctx, firstMessage)
	if err != nil {
		p.logger.Warn("title inference failed", "session", sessionID, "error", err)
		return
	}
	if title == "" || title == models.DefaultTitle {
		return
	}

	if err := p.store.UpdateSessionTitle(ctx, sessionID, title); err != nil {
		p.logger.Warn("title update failed", "session", sessionID, "error", err)
	}
}

// Wait blocks until detached work from previous turns, currently only title
// inference, has finished. Call before process exit.
func (p *Pipeline) Wait() {
	p.background.Wait()
}

// failureText picks the assistant-voiced text for a failed completion.
func failureText(err error) string {
	var cerr *CompletionError
	if errors.As(err, &cerr) {
		return cerr.UserMessage()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return (&CompletionError{Kind: CompletionTimeout, Err: err}).UserMessage()
	}
	return "I'm sorry, something went wrong. Please try again."
}
