package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"wakelog/internal/bootstrap"
	"wakelog/internal/domain"
	"wakelog/internal/usecase"
)

const (
	eventState   = "wakelog:state"
	eventWake    = "wakelog:wake"
	eventRecord  = "wakelog:record"
	eventHistory = "wakelog:history"
	eventError   = "wakelog:error"
)

type emitFunc func(ctx context.Context, name string, data ...interface{})

// App is the Wails application root.
type App struct {
	ctx  context.Context
	emit emitFunc

	services *bootstrap.Services
	bootErr  error
}

func NewApp() *App {
	return &App{emit: runtime.EventsEmit}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.LoopError(domain.ErrorKindUnexpected, err.Error())
		return
	}
	a.services = services

	go a.forwardHistory(ctx)
	a.LoopStateChanged(domain.LoopStateIdle, domain.ReasonInitialized)
}

func (a *App) shutdown(_ context.Context) {
	if a.services == nil {
		return
	}
	if err := a.services.Close(); err != nil {
		a.services.Logger.Error().Err(err).Msg("shutdown failed")
	}
}

// forwardHistory pushes every history snapshot to the frontend until ctx ends.
func (a *App) forwardHistory(ctx context.Context) {
	for records := range a.services.History.Watch(ctx) {
		a.send(eventHistory, records)
	}
}

// StartLoop begins continuous listening. A loop that stopped earlier is
// reinitialized first.
func (a *App) StartLoop() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}

	controller := a.services.Controller
	err := controller.StartLoop(a.ctx)
	if errors.Is(err, usecase.ErrLoopStopped) {
		if err = controller.Reset(); err == nil {
			err = controller.StartLoop(a.ctx)
		}
	}
	return controller.Status(), err
}

// StopLoop ends listening and cancels any pending restart.
func (a *App) StopLoop() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.services.Controller.StopLoop(); err != nil {
		return domain.Status{}, err
	}
	return a.services.Controller.Status(), nil
}

// GetStatus returns the current loop status.
func (a *App) GetStatus() domain.Status {
	if a.services == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.LoopStateStopped, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.LoopStateIdle}
	}
	return a.services.Controller.Status()
}

// GetHistory returns stored transcriptions, newest first.
func (a *App) GetHistory() ([]domain.TranscriptionRecord, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return a.services.History.Recent(a.ctx)
}

// DeleteEntry removes one history entry.
func (a *App) DeleteEntry(id int64) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.services.History.DeleteByID(a.ctx, id)
}

// ClearHistory removes every history entry.
func (a *App) ClearHistory() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.services.History.DeleteAll(a.ctx)
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	if a.services == nil {
		return map[string]string{}
	}

	cfg := a.services.Config
	return map[string]string{
		"provider":   "Deepgram",
		"model":      cfg.Deepgram.Model,
		"language":   cfg.Deepgram.Language,
		"wakePhrase": cfg.Wake.Phrase,
		"rulesFile":  cfg.Wake.RulesFile,
		"historyDb":  cfg.History.Path,
		"audioInput": cfg.Audio.InputDevice,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// LoopStateChanged emits loop lifecycle updates to the frontend.
func (a *App) LoopStateChanged(state domain.LoopState, reason domain.StateReason) {
	a.send(eventState, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": stateReasonMessage(reason),
	})
}

// WakeWordDetected tells the frontend the current utterance will be kept.
func (a *App) WakeWordDetected(candidate string) {
	a.send(eventWake, map[string]string{"candidate": candidate})
}

// RecordSaved emits each persisted record as it lands.
func (a *App) RecordSaved(record domain.TranscriptionRecord) {
	a.send(eventRecord, record)
}

// LoopError emits loop failures to the UI.
func (a *App) LoopError(kind domain.ErrorKind, detail string) {
	a.send(eventError, map[string]string{
		"kind":    string(kind),
		"message": errorMessage(kind, detail),
		"detail":  detail,
	})
}

func (a *App) send(name string, payload interface{}) {
	if a.ctx == nil || a.emit == nil {
		return
	}
	a.emit(a.ctx, name, payload)
}

func stateReasonMessage(reason domain.StateReason) string {
	switch reason {
	case domain.ReasonInitialized:
		return "Ready"
	case domain.ReasonSessionStarted:
		return "Listening"
	case domain.ReasonSessionRestarted:
		return "Listening again"
	case domain.ReasonResultsReceived:
		return "Processing speech"
	case domain.ReasonRecognitionError:
		return "Recognition error"
	case domain.ReasonTranscriptSaved:
		return "Transcription saved"
	case domain.ReasonNoTranscript:
		return "Nothing to save"
	case domain.ReasonTransientNoise:
		return "No speech recognized"
	case domain.ReasonStartFailed:
		return "Recognizer failed to start; retrying"
	case domain.ReasonFatalAuthorization:
		return "Stopped: insufficient permissions"
	case domain.ReasonDeviceBusy:
		return "Stopped: microphone busy"
	case domain.ReasonRecognizerMissing:
		return "Stopped: speech recognition unavailable"
	case domain.ReasonTeardown:
		return "Stopped"
	case domain.ReasonReinitialized:
		return "Ready"
	default:
		return ""
	}
}

func errorMessage(kind domain.ErrorKind, detail string) string {
	switch kind {
	case domain.ErrorKindFatalAuthorization:
		return "Permission denied"
	case domain.ErrorKindDeviceBusy:
		return "Microphone unavailable"
	case domain.ErrorKindRecognizerUnavailable:
		return "Speech recognition unavailable"
	case domain.ErrorKindUnexpected:
		if detail == "" {
			return "Unexpected error"
		}
		return detail
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
