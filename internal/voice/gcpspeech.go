package voice

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// audioFrameBytes is 100ms of LINEAR16 mono audio at 16kHz.
const audioFrameBytes = 3200

// GoogleRecognizerConfig configures the streaming recognizer.
type GoogleRecognizerConfig struct {
	// Language is the BCP-47 recognition language, for example "en-US".
	Language string
	// CaptureCmd is the command that writes raw LINEAR16 16kHz mono audio
	// to stdout, for example "arecord -q -f S16_LE -r 16000 -c 1 -t raw -".
	CaptureCmd string
}

// GoogleRecognizer captures one utterance via a local audio command and
// streams it to the Cloud Speech API. SingleUtterance mode makes the service
// end the capture on its own once the speaker goes quiet.
type GoogleRecognizer struct {
	client *speech.Client
	cfg    GoogleRecognizerConfig
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	stop   func()
}

// NewGoogleRecognizer creates a recognizer. Credentials come from the
// environment (GOOGLE_APPLICATION_CREDENTIALS or ambient ADC).
func NewGoogleRecognizer(ctx context.Context, cfg GoogleRecognizerConfig, logger *slog.Logger) (*GoogleRecognizer, error) {
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if strings.TrimSpace(cfg.CaptureCmd) == "" {
		return nil, fmt.Errorf("capture command required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}

	return &GoogleRecognizer{client: client, cfg: cfg, logger: logger}, nil
}

// Close releases the underlying API client.
func (r *GoogleRecognizer) Close() error {
	return r.client.Close()
}

// Start begins one capture. Events are delivered from a single goroutine
// until OnEnd.
func (r *GoogleRecognizer) Start(ctx context.Context, events Events) error {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return ErrCaptureActive
	}

	sctx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})
	var stopOnce sync.Once
	r.cancel = cancel
	r.stop = func() { stopOnce.Do(func() { close(stopCh) }) }
	r.mu.Unlock()

	go r.run(sctx, events, stopCh)
	return nil
}

// Stop ends audio input; recognition of captured audio runs to completion.
func (r *GoogleRecognizer) Stop() {
	r.mu.Lock()
	stop := r.stop
	r.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Abort cancels the whole capture.
func (r *GoogleRecognizer) Abort() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *GoogleRecognizer) run(ctx context.Context, events Events, stopCh chan struct{}) {
	defer func() {
		r.mu.Lock()
		if r.cancel != nil {
			r.cancel()
		}
		r.cancel = nil
		r.stop = nil
		r.mu.Unlock()

		if events.OnEnd != nil {
			events.OnEnd()
		}
	}()

	stream, err := r.client.StreamingRecognize(ctx)
	if err != nil {
		r.fail(events, err)
		return
	}

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz:            16000,
					AudioChannelCount:          1,
					LanguageCode:               r.cfg.Language,
					EnableAutomaticPunctuation: true,
				},
				SingleUtterance: true,
				InterimResults:  true,
			},
		},
	})
	if err != nil {
		r.fail(events, err)
		return
	}

	parts := strings.Fields(r.cfg.CaptureCmd)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	audio, err := cmd.StdoutPipe()
	if err != nil {
		r.fail(events, err)
		return
	}
	if err := cmd.Start(); err != nil {
		r.logger.Error("audio capture command failed to start", "cmd", parts[0], "error", err)
		if events.OnError != nil {
			events.OnError(ErrCodeAudioCapture)
		}
		return
	}

	if events.OnStart != nil {
		events.OnStart()
	}

	// The pump blocks in audio.Read; killing the capture process is what
	// unblocks it when the capture is stopped or the utterance ends.
	utteranceDone := make(chan struct{})
	go func() {
		select {
		case <-stopCh:
		case <-utteranceDone:
		case <-ctx.Done():
		}
		_ = cmd.Process.Kill()
	}()

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		defer func() { _ = stream.CloseSend() }()
		buf := make([]byte, audioFrameBytes)
		for {
			n, err := audio.Read(buf)
			if n > 0 {
				sendErr := stream.Send(&speechpb.StreamingRecognizeRequest{
					StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
						AudioContent: buf[:n],
					},
				})
				if sendErr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	var finals []string
	utteranceEnded := false
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil || status.Code(err) == codes.Canceled {
				break
			}
			r.fail(events, err)
			break
		}

		if resp.SpeechEventType == speechpb.StreamingRecognizeResponse_END_OF_SINGLE_UTTERANCE {
			if !utteranceEnded {
				utteranceEnded = true
				close(utteranceDone)
			}
			continue
		}

		var interim strings.Builder
		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			text := strings.TrimSpace(result.Alternatives[0].Transcript)
			if text == "" {
				continue
			}
			if result.IsFinal {
				finals = append(finals, text)
			} else {
				if interim.Len() > 0 {
					interim.WriteString(" ")
				}
				interim.WriteString(text)
			}
		}

		cumulative := append([]string{}, finals...)
		if s := interim.String(); s != "" {
			cumulative = append(cumulative, s)
		}
		if events.OnResult != nil {
			events.OnResult(strings.Join(cumulative, " "))
		}
	}

	if !utteranceEnded {
		close(utteranceDone)
	}
	<-pumpDone
	_ = cmd.Wait()
}

func (r *GoogleRecognizer) fail(events Events, err error) {
	code := classifyError(err)
	r.logger.Error("speech recognition failed", "code", code, "error", err)
	if events.OnError != nil {
		events.OnError(code)
	}
}

// classifyError folds transport detail into the coarse error codes the
// capture layer reports.
func classifyError(err error) string {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded:
		return ErrCodeNetwork
	case codes.PermissionDenied, codes.Unauthenticated:
		return ErrCodeNotAllowed
	case codes.Canceled:
		return ErrCodeAborted
	default:
		return ErrCodeNetwork
	}
}
