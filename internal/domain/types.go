package domain

import (
	"fmt"
	"time"
)

// LoopState models the listen/finalize/cooldown lifecycle.
type LoopState string

const (
	LoopStateIdle       LoopState = "idle"
	LoopStateListening  LoopState = "listening"
	LoopStateFinalizing LoopState = "finalizing"
	LoopStateCooldown   LoopState = "cooldown"
	LoopStateStopped    LoopState = "stopped"
)

// StateReason provides a structured reason for state transitions.
type StateReason string

const (
	ReasonInitialized        StateReason = "initialized"
	ReasonSessionStarted     StateReason = "session_started"
	ReasonSessionRestarted   StateReason = "session_restarted"
	ReasonResultsReceived    StateReason = "results_received"
	ReasonRecognitionError   StateReason = "recognition_error"
	ReasonTranscriptSaved    StateReason = "transcript_saved"
	ReasonNoTranscript       StateReason = "no_transcript"
	ReasonTransientNoise     StateReason = "transient_noise"
	ReasonStartFailed        StateReason = "start_failed"
	ReasonFatalAuthorization StateReason = "fatal_authorization"
	ReasonDeviceBusy         StateReason = "device_busy"
	ReasonRecognizerMissing  StateReason = "recognizer_unavailable"
	ReasonTeardown           StateReason = "teardown"
	ReasonReinitialized      StateReason = "reinitialized"
)

// ErrorKind classifies failures observed by the loop.
type ErrorKind string

const (
	ErrorKindFatalAuthorization    ErrorKind = "fatal_authorization"
	ErrorKindDeviceBusy            ErrorKind = "device_busy"
	ErrorKindRecognizerUnavailable ErrorKind = "recognizer_unavailable"
	ErrorKindTransientNoMatch      ErrorKind = "transient_no_match"
	ErrorKindTransientTimeout      ErrorKind = "transient_timeout"
	ErrorKindUnexpected            ErrorKind = "unexpected"
)

// Fatal reports whether the kind stops the loop permanently.
func (k ErrorKind) Fatal() bool {
	switch k {
	case ErrorKindFatalAuthorization, ErrorKindDeviceBusy, ErrorKindRecognizerUnavailable:
		return true
	default:
		return false
	}
}

// Transient reports whether the kind is expected steady-state noise.
func (k ErrorKind) Transient() bool {
	return k == ErrorKindTransientNoMatch || k == ErrorKindTransientTimeout
}

// RecognitionErrorCode is the numeric error reported by a recognizer.
type RecognitionErrorCode int

const (
	RecognitionErrorNetworkTimeout          RecognitionErrorCode = 1
	RecognitionErrorNetwork                 RecognitionErrorCode = 2
	RecognitionErrorAudio                   RecognitionErrorCode = 3
	RecognitionErrorServer                  RecognitionErrorCode = 4
	RecognitionErrorClient                  RecognitionErrorCode = 5
	RecognitionErrorSpeechTimeout           RecognitionErrorCode = 6
	RecognitionErrorNoMatch                 RecognitionErrorCode = 7
	RecognitionErrorRecognizerBusy          RecognitionErrorCode = 8
	RecognitionErrorInsufficientPermissions RecognitionErrorCode = 9
)

func (c RecognitionErrorCode) String() string {
	switch c {
	case RecognitionErrorNetworkTimeout:
		return "network_timeout"
	case RecognitionErrorNetwork:
		return "network"
	case RecognitionErrorAudio:
		return "audio"
	case RecognitionErrorServer:
		return "server"
	case RecognitionErrorClient:
		return "client"
	case RecognitionErrorSpeechTimeout:
		return "speech_timeout"
	case RecognitionErrorNoMatch:
		return "no_match"
	case RecognitionErrorRecognizerBusy:
		return "recognizer_busy"
	case RecognitionErrorInsufficientPermissions:
		return "insufficient_permissions"
	default:
		return fmt.Sprintf("code_%d", int(c))
	}
}

// ClassifyRecognitionError maps a recognizer error code onto the loop's taxonomy.
func ClassifyRecognitionError(code RecognitionErrorCode) ErrorKind {
	switch code {
	case RecognitionErrorNoMatch:
		return ErrorKindTransientNoMatch
	case RecognitionErrorSpeechTimeout:
		return ErrorKindTransientTimeout
	case RecognitionErrorInsufficientPermissions:
		return ErrorKindFatalAuthorization
	default:
		return ErrorKindUnexpected
	}
}

// RecognitionEventKind enumerates the callbacks of a recognition session.
type RecognitionEventKind string

const (
	RecognitionReady          RecognitionEventKind = "ready"
	RecognitionBeginSpeech    RecognitionEventKind = "begin_speech"
	RecognitionPartialResults RecognitionEventKind = "partial_results"
	RecognitionEndSpeech      RecognitionEventKind = "end_speech"
	RecognitionResults        RecognitionEventKind = "results"
	RecognitionError          RecognitionEventKind = "error"
)

// RecognitionEvent is a single message from the recognizer. Candidates is set
// for partial and final results, Code for errors.
type RecognitionEvent struct {
	Kind       RecognitionEventKind
	Candidates []string
	Code       RecognitionErrorCode
}

// LanguageModel selects the recognizer's language model.
type LanguageModel string

const LanguageModelFreeForm LanguageModel = "free_form"

// RecognizerConfig is passed to the recognizer on every session start.
type RecognizerConfig struct {
	LanguageModel                  LanguageModel
	PartialResults                 bool
	CompleteSilenceTimeout         time.Duration
	PossiblyCompleteSilenceTimeout time.Duration
}

// TranscriptionRecord is one immutable history entry.
type TranscriptionRecord struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	IsError   bool      `json:"isError"`
}

// Status summarizes the current runtime status.
type Status struct {
	State   LoopState `json:"state"`
	Running bool      `json:"running"`
	Message string    `json:"message,omitempty"`
}
