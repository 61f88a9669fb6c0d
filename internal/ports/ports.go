package ports

import (
	"context"
	"io"

	"wakelog/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// MicrophoneProbe reports whether the audio input device can be acquired right now.
type MicrophoneProbe interface {
	IsAvailable(ctx context.Context) bool
}

// Recognizer is a reusable speech recognition primitive. Each Start begins one
// session; its events arrive on Events until a results or error event ends it.
type Recognizer interface {
	Start(ctx context.Context, cfg domain.RecognizerConfig) error
	Stop() error
	Destroy() error
	Events() <-chan domain.RecognitionEvent
}

// RecognizerFactory constructs the recognition primitive.
type RecognizerFactory interface {
	NewRecognizer(ctx context.Context) (Recognizer, error)
}

// HistoryStore is the bounded transcription log.
type HistoryStore interface {
	Insert(ctx context.Context, record domain.TranscriptionRecord) (int64, error)
	EvictExcess(ctx context.Context, keep int) error
	Recent(ctx context.Context) ([]domain.TranscriptionRecord, error)
	Watch(ctx context.Context) <-chan []domain.TranscriptionRecord
	DeleteByID(ctx context.Context, id int64) error
	DeleteAll(ctx context.Context) error
}

// EventSink emits loop state/events to the host.
type EventSink interface {
	LoopStateChanged(state domain.LoopState, reason domain.StateReason)
	WakeWordDetected(candidate string)
	RecordSaved(record domain.TranscriptionRecord)
	LoopError(kind domain.ErrorKind, detail string)
}
