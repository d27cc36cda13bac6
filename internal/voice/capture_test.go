package voice

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// scriptedRecognizer replays recognizer events synchronously from Start, so
// tests observe the capture's final state without sleeping.
type scriptedRecognizer struct {
	script   func(events Events)
	startErr error
	stopped  bool
	aborted  bool
}

func (r *scriptedRecognizer) Start(_ context.Context, events Events) error {
	if r.startErr != nil {
		return r.startErr
	}
	r.script(events)
	return nil
}

func (r *scriptedRecognizer) Stop()  { r.stopped = true }
func (r *scriptedRecognizer) Abort() { r.aborted = true }

type captureRecorder struct {
	transcripts []string
	errorCodes  []string
}

func (c *captureRecorder) newCapture(rec Recognizer) *Capture {
	return NewCapture(rec,
		func(t string) { c.transcripts = append(c.transcripts, t) },
		func(code string) { c.errorCodes = append(c.errorCodes, code) },
		nil)
}

func TestCaptureWithoutRecognizer(t *testing.T) {
	rec := &captureRecorder{}
	c := rec.newCapture(nil)

	err := c.Start(context.Background())
	assert.ErrorIs(t, err, ErrRecognizerUnavailable)
	assert.False(t, c.Available())
}

func TestCaptureRejectsConcurrentStart(t *testing.T) {
	rec := &captureRecorder{}
	var capture *Capture
	r := &scriptedRecognizer{script: func(events Events) {
		events.OnStart()
		// Second Start arrives while the first capture is live.
		assert.ErrorIs(t, capture.Start(context.Background()), ErrCaptureActive)
		events.OnEnd()
	}}
	capture = rec.newCapture(r)

	require.NoError(t, capture.Start(context.Background()))
	assert.Equal(t, StateIdle, capture.State())
}

func TestCaptureEmitsFinalTranscriptOnce(t *testing.T) {
	rec := &captureRecorder{}
	r := &scriptedRecognizer{script: func(events Events) {
		events.OnStart()
		events.OnResult("hello")
		events.OnResult("hello world")
		events.OnEnd()
	}}
	c := rec.newCapture(r)

	require.NoError(t, c.Start(context.Background()))

	// The last cumulative result wins and is emitted exactly once.
	assert.Equal(t, []string{"hello world"}, rec.transcripts)
	assert.Empty(t, rec.errorCodes)
	assert.Equal(t, StateIdle, c.State())
	assert.Empty(t, c.Transcript())
}

func TestCaptureInterimTranscriptVisibleWhileLive(t *testing.T) {
	rec := &captureRecorder{}
	var capture *Capture
	r := &scriptedRecognizer{script: func(events Events) {
		events.OnStart()
		events.OnResult("partial words")
		assert.Equal(t, StateProcessing, capture.State())
		assert.Equal(t, "partial words", capture.Transcript())
		events.OnEnd()
	}}
	capture = rec.newCapture(r)

	require.NoError(t, capture.Start(context.Background()))
}

func TestCaptureSilentEndEmitsNothing(t *testing.T) {
	rec := &captureRecorder{}
	r := &scriptedRecognizer{script: func(events Events) {
		events.OnStart()
		events.OnEnd()
	}}
	c := rec.newCapture(r)

	require.NoError(t, c.Start(context.Background()))
	assert.Empty(t, rec.transcripts)
	assert.Equal(t, StateIdle, c.State())
}

func TestCaptureErrorDiscardsTranscript(t *testing.T) {
	rec := &captureRecorder{}
	r := &scriptedRecognizer{script: func(events Events) {
		events.OnStart()
		events.OnResult("half a sentence")
		events.OnError(ErrCodeNetwork)
		events.OnEnd()
	}}
	c := rec.newCapture(r)

	require.NoError(t, c.Start(context.Background()))

	assert.Empty(t, rec.transcripts)
	assert.Equal(t, []string{ErrCodeNetwork}, rec.errorCodes)
	assert.Equal(t, StateIdle, c.State())
	assert.Zero(t, c.RetryCount())
}

func TestCaptureStartFailureResetsState(t *testing.T) {
	rec := &captureRecorder{}
	boom := errors.New("no microphone")
	c := rec.newCapture(&scriptedRecognizer{startErr: boom})

	err := c.Start(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateIdle, c.State())

	// The capture is usable again after the failure.
	assert.ErrorIs(t, c.Start(context.Background()), boom)
}

func TestCaptureStopDelegates(t *testing.T) {
	rec := &captureRecorder{}
	var capture *Capture
	r := &scriptedRecognizer{}
	r.script = func(events Events) {
		events.OnStart()
		capture.Stop()
		assert.True(t, r.stopped)
		events.OnResult("stopped early")
		events.OnEnd()
	}
	capture = rec.newCapture(r)

	require.NoError(t, capture.Start(context.Background()))
	assert.Equal(t, []string{"stopped early"}, rec.transcripts)
}

func TestCaptureStopWhileIdleIsNoop(t *testing.T) {
	rec := &captureRecorder{}
	r := &scriptedRecognizer{script: func(events Events) { events.OnEnd() }}
	c := rec.newCapture(r)

	c.Stop()
	c.Abort()
	assert.False(t, r.stopped)
	assert.False(t, r.aborted)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"unavailable", status.Error(codes.Unavailable, "down"), ErrCodeNetwork},
		{"resource exhausted", status.Error(codes.ResourceExhausted, "quota"), ErrCodeNetwork},
		{"deadline", status.Error(codes.DeadlineExceeded, "slow"), ErrCodeNetwork},
		{"permission denied", status.Error(codes.PermissionDenied, "nope"), ErrCodeNotAllowed},
		{"unauthenticated", status.Error(codes.Unauthenticated, "who"), ErrCodeNotAllowed},
		{"canceled", status.Error(codes.Canceled, "bye"), ErrCodeAborted},
		{"plain error", errors.New("boom"), ErrCodeNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyError(tt.err))
		})
	}
}
