package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"wakelog/internal/domain"
	"wakelog/internal/ports"
)

const (
	defaultAPIBaseURL    = "https://api.deepgram.com/v1"
	defaultModel         = "nova-2"
	defaultChunkSize     = 4096
	defaultSpeechTimeout = 5 * time.Second
)

var (
	ErrMissingAPIKey     = errors.New("DEEPGRAM_API_KEY is not configured")
	ErrDestroyed         = errors.New("recognizer destroyed")
	ErrAlreadyListening  = errors.New("recognizer already listening")
	errUtteranceCanceled = errors.New("utterance canceled")
)

// Config controls the Deepgram live transcription connection.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool

	Audio     ports.AudioConfig
	ChunkSize int

	// SpeechTimeout ends a session with a speech-timeout error when no speech
	// is heard after the recognizer becomes ready.
	SpeechTimeout time.Duration
}

// Factory builds recognizers sharing one audio capture.
type Factory struct {
	cfg     Config
	capture ports.AudioCapture
	dialer  *websocket.Dialer
	log     zerolog.Logger
}

func NewFactory(cfg Config, capture ports.AudioCapture, logger zerolog.Logger) *Factory {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.SpeechTimeout <= 0 {
		cfg.SpeechTimeout = defaultSpeechTimeout
	}
	return &Factory{
		cfg:     cfg,
		capture: capture,
		dialer:  websocket.DefaultDialer,
		log:     logger.With().Str("component", "deepgram").Logger(),
	}
}

// NewRecognizer fails when the provider cannot be used at all.
func (f *Factory) NewRecognizer(_ context.Context) (ports.Recognizer, error) {
	if strings.TrimSpace(f.cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if f.capture == nil {
		return nil, errors.New("no audio capture configured")
	}
	return &Recognizer{
		cfg:     f.cfg,
		capture: f.capture,
		dialer:  f.dialer,
		log:     f.log,
		events:  make(chan domain.RecognitionEvent, 64),
		done:    make(chan struct{}),
	}, nil
}

// Recognizer runs one Deepgram websocket per session. Every session that is not
// stopped ends with exactly one results or error event.
type Recognizer struct {
	cfg     Config
	capture ports.AudioCapture
	dialer  *websocket.Dialer
	log     zerolog.Logger

	events chan domain.RecognitionEvent
	done   chan struct{}

	mu        sync.Mutex
	cancel    context.CancelFunc
	destroyed bool
	wg        sync.WaitGroup

	destroyOnce sync.Once
}

func (r *Recognizer) Events() <-chan domain.RecognitionEvent {
	return r.events
}

// Start begins a session in the background and returns immediately.
func (r *Recognizer) Start(ctx context.Context, cfg domain.RecognizerConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed {
		return ErrDestroyed
	}
	if r.cancel != nil {
		return ErrAlreadyListening
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go r.run(sessionCtx, cancel, cfg)
	return nil
}

// Stop abandons the current session without a terminal event and waits for it to wind down.
func (r *Recognizer) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	return nil
}

// Destroy stops any session and makes the recognizer unusable.
func (r *Recognizer) Destroy() error {
	r.destroyOnce.Do(func() {
		r.mu.Lock()
		r.destroyed = true
		r.mu.Unlock()

		_ = r.Stop()
		close(r.done)
	})
	return nil
}

func (r *Recognizer) run(ctx context.Context, cancel context.CancelFunc, cfg domain.RecognizerConfig) {
	defer r.wg.Done()
	defer cancel()

	terminal, err := r.listen(ctx, cfg)

	r.mu.Lock()
	r.cancel = nil
	r.mu.Unlock()

	if errors.Is(err, errUtteranceCanceled) || ctx.Err() != nil {
		return
	}
	if err != nil {
		r.log.Warn().Err(err).Stringer("code", terminal.Code).Msg("recognition session failed")
	}
	r.emit(ctx, terminal)
}

// listen drives one utterance and returns its terminal event.
func (r *Recognizer) listen(ctx context.Context, cfg domain.RecognizerConfig) (domain.RecognitionEvent, error) {
	wsURL, err := buildListenURL(r.cfg, cfg)
	if err != nil {
		return errorEvent(domain.RecognitionErrorClient), err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+r.cfg.APIKey)

	conn, resp, err := r.dialer.DialContext(ctx, wsURL, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if ctx.Err() != nil {
			return domain.RecognitionEvent{}, errUtteranceCanceled
		}
		return errorEvent(classifyDialError(resp, err)), fmt.Errorf("connect to Deepgram websocket: %w", err)
	}
	defer conn.Close()

	audio, err := r.capture.Start(ctx, r.cfg.Audio)
	if err != nil {
		return errorEvent(domain.RecognitionErrorAudio), fmt.Errorf("start audio capture: %w", err)
	}

	pumpDone := make(chan error, 1)
	go func() {
		pumpDone <- pumpAudio(audio, conn, r.cfg.ChunkSize)
	}()
	defer func() {
		_ = audio.Stop()
		_ = conn.Close()
		if pumpDone != nil {
			<-pumpDone
		}
	}()

	stopRead := make(chan struct{})
	defer close(stopRead)
	messages, readErr := readResponses(conn, stopRead)

	r.emit(ctx, domain.RecognitionEvent{Kind: domain.RecognitionReady})

	timeout := time.NewTimer(r.cfg.SpeechTimeout)
	defer timeout.Stop()

	var (
		transcript transcriptAggregator
		speaking   bool
	)
	beginSpeech := func() {
		if speaking {
			return
		}
		speaking = true
		timeout.Stop()
		r.emit(ctx, domain.RecognitionEvent{Kind: domain.RecognitionBeginSpeech})
	}
	finish := func() (domain.RecognitionEvent, error) {
		r.emit(ctx, domain.RecognitionEvent{Kind: domain.RecognitionEndSpeech})
		if transcript.Empty() {
			return errorEvent(domain.RecognitionErrorNoMatch), nil
		}
		return domain.RecognitionEvent{Kind: domain.RecognitionResults, Candidates: []string{transcript.Raw()}}, nil
	}

	for {
		select {
		case <-ctx.Done():
			return domain.RecognitionEvent{}, errUtteranceCanceled

		case <-timeout.C:
			if !speaking {
				return errorEvent(domain.RecognitionErrorSpeechTimeout), nil
			}

		case err := <-pumpDone:
			pumpDone = nil
			if err != nil {
				return errorEvent(domain.RecognitionErrorAudio), err
			}

		case response, ok := <-messages:
			if !ok {
				if ctx.Err() != nil {
					return domain.RecognitionEvent{}, errUtteranceCanceled
				}
				if !transcript.Empty() {
					return finish()
				}
				if err := <-readErr; err != nil {
					return errorEvent(domain.RecognitionErrorNetwork), err
				}
				return errorEvent(domain.RecognitionErrorNoMatch), nil
			}

			switch {
			case strings.EqualFold(response.Type, "SpeechStarted"):
				beginSpeech()
			case strings.EqualFold(response.Type, "UtteranceEnd"):
				if speaking || !transcript.Empty() {
					return finish()
				}
			case strings.EqualFold(response.Type, "Error"):
				return errorEvent(domain.RecognitionErrorServer), errors.New(errorMessage(response))
			default:
				text := extractTranscript(response)
				if text == "" {
					continue
				}
				beginSpeech()
				transcript.Add(text, response.IsFinal || response.SpeechFinal)
				if cfg.PartialResults {
					r.emit(ctx, domain.RecognitionEvent{
						Kind:       domain.RecognitionPartialResults,
						Candidates: []string{transcript.Raw()},
					})
				}
				if response.SpeechFinal {
					return finish()
				}
			}
		}
	}
}

func (r *Recognizer) emit(ctx context.Context, event domain.RecognitionEvent) {
	select {
	case r.events <- event:
	case <-ctx.Done():
	case <-r.done:
	}
}

func errorEvent(code domain.RecognitionErrorCode) domain.RecognitionEvent {
	return domain.RecognitionEvent{Kind: domain.RecognitionError, Code: code}
}

// readResponses decodes provider messages until the connection fails. The
// read error is delivered after messages is closed.
func readResponses(conn *websocket.Conn, stop <-chan struct{}) (<-chan deepgramResponse, <-chan error) {
	messages := make(chan deepgramResponse, 16)
	readErr := make(chan error, 1)

	go func() {
		defer close(messages)
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				readErr <- normalizeReadErr(err)
				return
			}

			var response deepgramResponse
			if err := json.Unmarshal(payload, &response); err != nil {
				continue
			}
			select {
			case messages <- response:
			case <-stop:
				readErr <- nil
				return
			}
		}
	}()

	return messages, readErr
}

func normalizeReadErr(err error) error {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return nil
	}
	return fmt.Errorf("read provider event: %w", err)
}

// pumpAudio streams capture chunks to the socket and asks Deepgram to flush
// once the capture ends.
func pumpAudio(audio ports.AudioSession, conn *websocket.Conn, chunkSize int) error {
	buf := make([]byte, chunkSize)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			if sendErr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); sendErr != nil {
				return fmt.Errorf("stream audio: %w", sendErr)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return fmt.Errorf("audio capture: %w", err)
			}
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
			return nil
		}
	}
}
