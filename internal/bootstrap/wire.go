package bootstrap

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"wakelog/internal/audio"
	"wakelog/internal/config"
	"wakelog/internal/domain"
	"wakelog/internal/history"
	"wakelog/internal/logging"
	"wakelog/internal/phrase"
	"wakelog/internal/ports"
	"wakelog/internal/providers/deepgram"
	"wakelog/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.LoopController
	History    *history.Store
	Config     config.Config
	Logger     zerolog.Logger

	logCloser io.Closer
}

// Build loads configuration and wires all backend dependencies. Loop events
// are delivered to eventSink.
func Build(eventSink ports.EventSink) (*Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, logCloser, err := logging.New(logging.Options{Level: cfg.Logging.Level, File: cfg.Logging.File})
	if err != nil {
		return nil, err
	}

	services, err := BuildWith(cfg, eventSink, logger)
	if err != nil {
		_ = logCloser.Close()
		return nil, err
	}
	services.logCloser = logCloser
	return services, nil
}

// BuildWith wires the graph from an already resolved configuration.
func BuildWith(cfg config.Config, eventSink ports.EventSink, logger zerolog.Logger) (*Services, error) {
	rules, err := phrase.LoadRules(cfg.Wake.RulesFile, cfg.Wake.RuleIterationLimit)
	if err != nil {
		return nil, err
	}

	store, err := history.Open(cfg.History.Path, logger)
	if err != nil {
		return nil, err
	}

	audioConfig := ports.AudioConfig{
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
		InputFormat: cfg.Audio.InputFormat,
		InputDevice: cfg.Audio.InputDevice,
	}

	recognizers := deepgram.NewFactory(deepgram.Config{
		APIKey:        cfg.Deepgram.APIKey,
		APIBaseURL:    cfg.Deepgram.APIBaseURL,
		Model:         cfg.Deepgram.Model,
		Language:      cfg.Deepgram.Language,
		SmartFormat:   cfg.Deepgram.SmartFormat,
		Audio:         audioConfig,
		ChunkSize:     cfg.Deepgram.ChunkSize,
		SpeechTimeout: cfg.Deepgram.SpeechTimeout,
	}, audio.NewRecorder(cfg.Audio.RecorderCommand, logger), logger)

	probe := audio.NewMalgoProbe(audio.ProbeConfig{
		SampleRate: cfg.Probe.SampleRate,
		Channels:   cfg.Probe.Channels,
	}, logger)

	controller := usecase.NewLoopController(
		recognizers,
		probe,
		store,
		eventSink,
		usecase.Config{
			WakePhrase: cfg.Wake.Phrase,
			Rules:      rules,
			Recognizer: domain.RecognizerConfig{
				LanguageModel:                  domain.LanguageModelFreeForm,
				PartialResults:                 true,
				CompleteSilenceTimeout:         cfg.Loop.CompleteSilence,
				PossiblyCompleteSilenceTimeout: cfg.Loop.PossiblyCompleteSilence,
			},
			Cooldown:        cfg.Loop.Cooldown,
			HistoryCapacity: cfg.History.Capacity,
		},
		logger,
	)

	logger.Info().
		Str("phrase", cfg.Wake.Phrase).
		Int("rules", rules.Len()).
		Str("history", cfg.History.Path).
		Bool("api_key", cfg.Deepgram.APIKey != "").
		Msg("services ready")

	return &Services{
		Controller: controller,
		History:    store,
		Config:     cfg,
		Logger:     logger,
	}, nil
}

// Close stops the loop and releases the history store and log file.
func (s *Services) Close() error {
	var errs []error
	if err := s.Controller.StopLoop(); err != nil {
		errs = append(errs, fmt.Errorf("stop loop: %w", err))
	}
	if err := s.History.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close history: %w", err))
	}
	if s.logCloser != nil {
		if err := s.logCloser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
	}
	return errors.Join(errs...)
}

// NopSink discards loop events. Hosts that only read history use it.
type NopSink struct{}

func (NopSink) LoopStateChanged(domain.LoopState, domain.StateReason) {}
func (NopSink) WakeWordDetected(string)                               {}
func (NopSink) RecordSaved(domain.TranscriptionRecord)                {}
func (NopSink) LoopError(domain.ErrorKind, string)                    {}
