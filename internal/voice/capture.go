package voice

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// State is the capture state machine's current phase.
type State string

const (
	// StateIdle means no capture is running.
	StateIdle State = "idle"
	// StateRecording means a capture was requested and is spinning up.
	StateRecording State = "recording"
	// StateProcessing means audio is live and being recognized.
	StateProcessing State = "processing"
)

// Sentinel errors for capture operations.
var (
	// ErrRecognizerUnavailable indicates no speech recognizer is configured
	// on this installation.
	ErrRecognizerUnavailable = errors.New("speech recognition is not available")

	// ErrCaptureActive indicates a capture is already running.
	ErrCaptureActive = errors.New("voice capture already active")
)

// Capture runs single-shot voice capture on top of a Recognizer. One Start
// yields at most one transcript emission, delivered when the capture ends.
// Interim results only update the observable transcript; nothing is emitted
// until the end, and an errored capture emits nothing.
type Capture struct {
	recognizer   Recognizer
	onTranscript func(transcript string)
	onError      func(code string)
	logger       *slog.Logger

	mu         sync.Mutex
	state      State
	transcript string
	retryCount int
}

// NewCapture creates a capture emitting final transcripts to onTranscript
// and failure codes to onError. Either callback may be nil.
func NewCapture(recognizer Recognizer, onTranscript func(string), onError func(string), logger *slog.Logger) *Capture {
	if logger == nil {
		logger = slog.Default()
	}
	return &Capture{
		recognizer:   recognizer,
		onTranscript: onTranscript,
		onError:      onError,
		logger:       logger,
		state:        StateIdle,
	}
}

// Start begins a capture. Fails when no recognizer is available or a capture
// is already running.
func (c *Capture) Start(ctx context.Context) error {
	if c.recognizer == nil {
		return ErrRecognizerUnavailable
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrCaptureActive
	}
	c.state = StateRecording
	c.transcript = ""
	c.retryCount = 0
	c.mu.Unlock()

	err := c.recognizer.Start(ctx, Events{
		OnStart:  c.handleStart,
		OnResult: c.handleResult,
		OnError:  c.handleError,
		OnEnd:    c.handleEnd,
	})
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return err
	}
	return nil
}

// Stop ends audio input. Recognition of what was already said continues and
// the transcript, if any, is still emitted.
func (c *Capture) Stop() {
	c.mu.Lock()
	active := c.state != StateIdle
	c.mu.Unlock()
	if active && c.recognizer != nil {
		c.recognizer.Stop()
	}
}

// Abort cancels the capture without emitting anything.
func (c *Capture) Abort() {
	c.mu.Lock()
	active := c.state != StateIdle
	c.mu.Unlock()
	if active && c.recognizer != nil {
		c.recognizer.Abort()
	}
}

// State returns the current capture phase.
func (c *Capture) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transcript returns the cumulative transcript of the running capture, for
// live display. Cleared when the capture ends.
func (c *Capture) Transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript
}

// RetryCount reports automatic network retries within the current capture.
// The recognizer handles reconnection internally, so this stays at zero; the
// field is kept for status display.
func (c *Capture) RetryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryCount
}

func (c *Capture) handleStart() {
	c.mu.Lock()
	if c.state == StateRecording {
		c.state = StateProcessing
	}
	c.mu.Unlock()
}

// handleResult overwrites the transcript. Results are cumulative, so each
// one replaces everything before it.
func (c *Capture) handleResult(transcript string) {
	c.mu.Lock()
	c.transcript = transcript
	c.mu.Unlock()
}

func (c *Capture) handleError(code string) {
	c.logger.Warn("voice capture error", "code", code)

	c.mu.Lock()
	c.transcript = ""
	c.mu.Unlock()

	if c.onError != nil {
		c.onError(code)
	}
}

// handleEnd closes out the capture, emitting the transcript exactly once if
// anything was recognized.
func (c *Capture) handleEnd() {
	c.mu.Lock()
	final := c.transcript
	c.transcript = ""
	c.state = StateIdle
	c.mu.Unlock()

	if final != "" && c.onTranscript != nil {
		c.onTranscript(final)
	}
}

// Available reports whether a recognizer is configured.
func (c *Capture) Available() bool {
	return c.recognizer != nil
}
