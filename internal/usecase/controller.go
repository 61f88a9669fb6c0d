package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"wakelog/internal/domain"
	"wakelog/internal/phrase"
	"wakelog/internal/ports"
)

var (
	ErrLoopStopped           = errors.New("listening loop is stopped")
	ErrLoopRunning           = errors.New("listening loop is running")
	ErrDeviceBusy            = errors.New("microphone busy or unavailable")
	ErrRecognizerUnavailable = errors.New("speech recognition not available")
	ErrFatalAuthorization    = errors.New("insufficient permissions for recognition")
)

// Persisted error texts.
const (
	msgDeviceBusy            = "Microphone busy or unavailable"
	msgRecognizerUnavailable = "Speech recognition not available on this device"
	msgInsufficientPerms     = "Insufficient permissions for recognition"
)

const (
	DefaultCooldown        = 500 * time.Millisecond
	DefaultSilenceTimeout  = 2000 * time.Millisecond
	DefaultHistoryCapacity = 20
)

// Config controls the listening loop.
type Config struct {
	WakePhrase      string
	Rules           *phrase.Rules
	Recognizer      domain.RecognizerConfig
	Cooldown        time.Duration
	HistoryCapacity int
	Now             func() time.Time
}

// DefaultRecognizerConfig is the request issued on every Listening transition.
func DefaultRecognizerConfig() domain.RecognizerConfig {
	return domain.RecognizerConfig{
		LanguageModel:                  domain.LanguageModelFreeForm,
		PartialResults:                 true,
		CompleteSilenceTimeout:         DefaultSilenceTimeout,
		PossiblyCompleteSilenceTimeout: DefaultSilenceTimeout,
	}
}

// LoopController owns the listen, detect, persist, cooldown cycle. Recognition
// events are processed on a single goroutine in arrival order; persistence runs
// on a separate ordered writer.
type LoopController struct {
	factory   ports.RecognizerFactory
	probe     ports.MicrophoneProbe
	store     ports.HistoryStore
	events    ports.EventSink
	finalizer transcriptFinalizer
	cfg       Config
	log       zerolog.Logger

	mu            sync.Mutex
	state         domain.LoopState
	message       string
	cause         error
	running       bool
	stopRequested bool
	stop          chan struct{}
	done          chan struct{}
}

func NewLoopController(
	factory ports.RecognizerFactory,
	probe ports.MicrophoneProbe,
	store ports.HistoryStore,
	events ports.EventSink,
	cfg Config,
	logger zerolog.Logger,
) *LoopController {
	if cfg.WakePhrase == "" {
		cfg.WakePhrase = phrase.DefaultPhrase
	}
	if cfg.Recognizer == (domain.RecognizerConfig{}) {
		cfg.Recognizer = DefaultRecognizerConfig()
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = DefaultHistoryCapacity
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	done := make(chan struct{})
	close(done)

	return &LoopController{
		factory:   factory,
		probe:     probe,
		store:     store,
		events:    events,
		finalizer: newTranscriptFinalizer(cfg.WakePhrase, cfg.Rules),
		cfg:       cfg,
		log:       logger.With().Str("component", "loop").Logger(),
		state:     domain.LoopStateIdle,
		done:      done,
	}
}

// StartLoop probes the microphone and starts listening. It is a no-op while the
// loop runs and fails with ErrLoopStopped once the loop has stopped, until Reset.
// Canceling ctx tears the loop down like StopLoop.
func (c *LoopController) StartLoop(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	if c.state == domain.LoopStateStopped {
		c.mu.Unlock()
		return ErrLoopStopped
	}
	c.running = true
	c.message = ""
	c.cause = nil
	c.stopRequested = false
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	stop, done := c.stop, c.done
	c.mu.Unlock()

	writer := newRecordWriter(c.store, c.cfg.HistoryCapacity, c.events, c.log)

	recognizer, err := c.factory.NewRecognizer(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("speech recognizer could not be created")
		cause := fmt.Errorf("%w: %v", ErrRecognizerUnavailable, err)
		c.abortStart(writer, done, cause, domain.ErrorKindRecognizerUnavailable, msgRecognizerUnavailable, domain.ReasonRecognizerMissing)
		return cause
	}

	if !c.probe.IsAvailable(ctx) {
		_ = recognizer.Destroy()
		c.abortStart(writer, done, ErrDeviceBusy, domain.ErrorKindDeviceBusy, msgDeviceBusy, domain.ReasonDeviceBusy)
		return ErrDeviceBusy
	}

	loopCtx, cancel := context.WithCancel(ctx)
	go c.run(loopCtx, cancel, recognizer, writer, stop, done)
	return nil
}

// StopLoop tears the loop down: a pending restart is canceled, an active
// session is stopped and the recognizer released. It blocks until queued
// records are written. Calling it again is a no-op.
func (c *LoopController) StopLoop() error {
	c.mu.Lock()
	if !c.running {
		changed := c.state != domain.LoopStateStopped
		c.state = domain.LoopStateStopped
		c.mu.Unlock()
		if changed {
			c.events.LoopStateChanged(domain.LoopStateStopped, domain.ReasonTeardown)
		}
		return nil
	}
	if !c.stopRequested {
		c.stopRequested = true
		close(c.stop)
	}
	done := c.done
	c.mu.Unlock()

	<-done
	return nil
}

// Reset returns a stopped loop to Idle so StartLoop may run again.
func (c *LoopController) Reset() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrLoopRunning
	}
	if c.state != domain.LoopStateStopped {
		c.mu.Unlock()
		return nil
	}
	c.state = domain.LoopStateIdle
	c.message = ""
	c.cause = nil
	c.mu.Unlock()

	c.events.LoopStateChanged(domain.LoopStateIdle, domain.ReasonReinitialized)
	return nil
}

// Status returns the current loop status.
func (c *LoopController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.Status{State: c.state, Running: c.running, Message: c.message}
}

// Err reports why the last loop stopped on its own. It is nil while running
// and after StopLoop.
func (c *LoopController) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

// Done is closed once the current loop has fully wound down.
func (c *LoopController) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *LoopController) abortStart(writer *recordWriter, done chan struct{}, cause error, kind domain.ErrorKind, message string, reason domain.StateReason) {
	writer.save(c.errorRecord(message))
	writer.close()

	c.mu.Lock()
	c.state = domain.LoopStateStopped
	c.message = message
	c.cause = cause
	c.running = false
	c.mu.Unlock()
	close(done)

	c.log.Warn().Str("kind", string(kind)).Msg(message)
	c.events.LoopError(kind, message)
	c.events.LoopStateChanged(domain.LoopStateStopped, reason)
}

func (c *LoopController) run(
	ctx context.Context,
	cancel context.CancelFunc,
	recognizer ports.Recognizer,
	writer *recordWriter,
	stop <-chan struct{},
	done chan struct{},
) {
	var (
		cooldown  *time.Timer
		restartCh <-chan time.Time
		session   *listenSession
	)

	defer func() {
		if cooldown != nil {
			cooldown.Stop()
		}
		if c.currentState() == domain.LoopStateListening {
			_ = recognizer.Stop()
		}
		if c.currentState() != domain.LoopStateStopped {
			c.transition(domain.LoopStateStopped, domain.ReasonTeardown)
		}
		_ = recognizer.Destroy()
		cancel()
		writer.close()

		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		close(done)
		c.log.Info().Msg("listening loop finished")
	}()

	scheduleRestart := func(reason domain.StateReason) {
		session = nil
		c.transition(domain.LoopStateCooldown, reason)
		cooldown = time.NewTimer(c.cfg.Cooldown)
		restartCh = cooldown.C
	}

	session = c.beginSession(ctx, recognizer, writer, domain.ReasonSessionStarted)
	if session == nil {
		scheduleRestart(domain.ReasonStartFailed)
	}

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return

		case <-restartCh:
			restartCh = nil
			select {
			case <-stop:
				return
			default:
			}
			session = c.beginSession(ctx, recognizer, writer, domain.ReasonSessionRestarted)
			if session == nil {
				scheduleRestart(domain.ReasonStartFailed)
			}

		case event := <-recognizer.Events():
			if session == nil {
				c.log.Debug().Str("event", string(event.Kind)).Msg("ignoring event outside a session")
				continue
			}
			outcome, reason := c.handleEvent(session, event, writer)
			switch outcome {
			case outcomeCooldown:
				scheduleRestart(reason)
			case outcomeStopped:
				session = nil
				return
			}
		}
	}
}

type eventOutcome int

const (
	outcomeContinue eventOutcome = iota
	outcomeCooldown
	outcomeStopped
)

// beginSession enters Listening with a fresh latch. It returns nil when the
// recognizer refused to start; the failure has been recorded.
func (c *LoopController) beginSession(ctx context.Context, recognizer ports.Recognizer, writer *recordWriter, reason domain.StateReason) *listenSession {
	session := newListenSession(c.log)
	c.transition(domain.LoopStateListening, reason)

	if err := recognizer.Start(ctx, c.cfg.Recognizer); err != nil {
		message := fmt.Sprintf("Error starting speech recognizer: %v", err)
		session.log.Error().Err(err).Msg("speech recognizer failed to start")
		writer.save(c.errorRecord(message))
		c.events.LoopError(domain.ErrorKindUnexpected, message)
		return nil
	}
	session.log.Debug().Msg("started listening")
	return session
}

func (c *LoopController) handleEvent(session *listenSession, event domain.RecognitionEvent, writer *recordWriter) (eventOutcome, domain.StateReason) {
	switch event.Kind {
	case domain.RecognitionReady, domain.RecognitionBeginSpeech, domain.RecognitionEndSpeech:
		session.log.Debug().Str("event", string(event.Kind)).Msg("recognition event")
		return outcomeContinue, ""

	case domain.RecognitionPartialResults:
		if session.latched {
			return outcomeContinue, ""
		}
		if candidate, ok := c.finalizer.detector.Match(event.Candidates); ok {
			session.latched = true
			session.log.Info().Str("candidate", candidate).Msg("wake word detected")
			c.events.WakeWordDetected(candidate)
		}
		return outcomeContinue, ""

	case domain.RecognitionResults:
		c.transition(domain.LoopStateFinalizing, domain.ReasonResultsReceived)
		text, confirmed, ok := c.finalizer.Finalize(session.latched, event.Candidates)
		if !ok {
			session.log.Debug().
				Bool("latched", session.latched).
				Int("candidates", len(event.Candidates)).
				Msg("nothing to save")
			return outcomeCooldown, domain.ReasonNoTranscript
		}
		session.log.Info().Str("text", text).Bool("confirmed", confirmed).Msg("saving transcription")
		writer.save(domain.TranscriptionRecord{Text: text, Timestamp: c.cfg.Now()})
		return outcomeCooldown, domain.ReasonTranscriptSaved

	case domain.RecognitionError:
		c.transition(domain.LoopStateFinalizing, domain.ReasonRecognitionError)
		kind := domain.ClassifyRecognitionError(event.Code)
		switch {
		case kind == domain.ErrorKindFatalAuthorization:
			session.log.Error().Stringer("code", event.Code).Msg(msgInsufficientPerms)
			writer.save(c.errorRecord(msgInsufficientPerms))
			c.setFailure(msgInsufficientPerms, ErrFatalAuthorization)
			c.events.LoopError(kind, msgInsufficientPerms)
			c.transition(domain.LoopStateStopped, domain.ReasonFatalAuthorization)
			return outcomeStopped, domain.ReasonFatalAuthorization
		case kind.Transient():
			session.log.Debug().Stringer("code", event.Code).Msg("no speech recognized, restarting")
			return outcomeCooldown, domain.ReasonTransientNoise
		default:
			message := fmt.Sprintf("Recognition error: %d", int(event.Code))
			session.log.Warn().Stringer("code", event.Code).Msg("recognition error")
			writer.save(c.errorRecord(message))
			c.events.LoopError(kind, message)
			return outcomeCooldown, domain.ReasonRecognitionError
		}

	default:
		session.log.Debug().Str("event", string(event.Kind)).Msg("unknown recognition event")
		return outcomeContinue, ""
	}
}

func (c *LoopController) errorRecord(message string) domain.TranscriptionRecord {
	return domain.TranscriptionRecord{Text: message, Timestamp: c.cfg.Now(), IsError: true}
}

func (c *LoopController) transition(state domain.LoopState, reason domain.StateReason) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()

	c.log.Debug().Str("state", string(state)).Str("reason", string(reason)).Msg("loop state changed")
	c.events.LoopStateChanged(state, reason)
}

func (c *LoopController) currentState() domain.LoopState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *LoopController) setFailure(message string, cause error) {
	c.mu.Lock()
	c.message = message
	c.cause = cause
	c.mu.Unlock()
}
