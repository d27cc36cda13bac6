// Package voice implements push-to-talk voice capture: a speech recognizer
// abstraction and the state machine that turns recognizer events into a
// single transcript emission.
package voice

import "context"

// Error codes reported through Events.OnError. They name the failure class,
// not the transport detail.
const (
	ErrCodeNetwork      = "network"
	ErrCodeNotAllowed   = "not-allowed"
	ErrCodeAudioCapture = "audio-capture"
	ErrCodeNoSpeech     = "no-speech"
	ErrCodeAborted      = "aborted"
)

// Events are the callbacks a Recognizer drives during one capture. All
// callbacks for a single capture are delivered sequentially from one
// goroutine. OnEnd is always the last call, whether the capture succeeded,
// failed or was aborted.
type Events struct {
	// OnStart fires once audio capture is live.
	OnStart func()
	// OnResult delivers the cumulative transcript so far. Each call
	// supersedes the previous one.
	OnResult func(transcript string)
	// OnError reports a failure using the ErrCode constants.
	OnError func(code string)
	// OnEnd fires when the capture is over.
	OnEnd func()
}

// Recognizer captures one utterance of audio and streams recognition events.
// A recognizer handles one capture at a time.
type Recognizer interface {
	// Start begins a capture. It returns once the capture is initiated;
	// events are delivered asynchronously.
	Start(ctx context.Context, events Events) error
	// Stop ends audio input gracefully. Recognition of audio already
	// captured continues, then OnEnd fires.
	Stop()
	// Abort tears the capture down without a final result.
	Abort()
}
