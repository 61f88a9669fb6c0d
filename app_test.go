package main

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wakelog/internal/bootstrap"
	"wakelog/internal/config"
	"wakelog/internal/domain"
	"wakelog/internal/usecase"
)

func TestStateReasonMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.StateReason]string{
		domain.ReasonInitialized:        "Ready",
		domain.ReasonSessionStarted:     "Listening",
		domain.ReasonSessionRestarted:   "Listening again",
		domain.ReasonTranscriptSaved:    "Transcription saved",
		domain.ReasonNoTranscript:       "Nothing to save",
		domain.ReasonFatalAuthorization: "Stopped: insufficient permissions",
		domain.ReasonDeviceBusy:         "Stopped: microphone busy",
		domain.ReasonTeardown:           "Stopped",
	}
	for reason, want := range cases {
		assert.Equal(t, want, stateReasonMessage(reason), reason)
	}
	assert.Empty(t, stateReasonMessage("unknown"))
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Permission denied", errorMessage(domain.ErrorKindFatalAuthorization, "ignored"))
	assert.Equal(t, "Microphone unavailable", errorMessage(domain.ErrorKindDeviceBusy, "ignored"))
	assert.Equal(t, "Speech recognition unavailable", errorMessage(domain.ErrorKindRecognizerUnavailable, "ignored"))
	assert.Equal(t, "Recognition error: 2", errorMessage(domain.ErrorKindUnexpected, "Recognition error: 2"))
	assert.Equal(t, "Unexpected error", errorMessage(domain.ErrorKindUnexpected, ""))
	assert.Equal(t, "detail", errorMessage("other", "detail"))
	assert.Equal(t, "Unknown error", errorMessage("other", ""))
}

func TestRequireReady(t *testing.T) {
	t.Parallel()

	app := &App{}
	assert.Error(t, app.requireReady())

	bootErr := errors.New("boot")
	app.bootErr = bootErr
	assert.ErrorIs(t, app.requireReady(), bootErr)
	assert.Equal(t, domain.LoopStateStopped, app.GetStatus().State)
	assert.Equal(t, "boot", app.GetStatus().Message)
	assert.Equal(t, map[string]string{"error": "boot"}, app.GetRuntimeInfo())

	_, err := app.StartLoop()
	assert.ErrorIs(t, err, bootErr)
}

func TestSendWithoutContextIsNoop(t *testing.T) {
	t.Parallel()

	app := &App{emit: func(context.Context, string, ...interface{}) {
		t.Fatal("emit must not be called before startup")
	}}
	app.LoopStateChanged(domain.LoopStateListening, domain.ReasonSessionStarted)
	app.WakeWordDetected("super duper")
}

func TestAppStartLoopWithoutProviderRecordsError(t *testing.T) {
	app, rec := newTestApp(t)

	status, err := app.StartLoop()
	require.ErrorIs(t, err, usecase.ErrRecognizerUnavailable)
	assert.Equal(t, domain.LoopStateStopped, status.State)

	records, err := app.GetHistory()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Speech recognition not available on this device", records[0].Text)

	assert.Contains(t, rec.names(), eventError)
	assert.Contains(t, rec.names(), eventState)
	assert.Contains(t, rec.names(), eventRecord)

	// A stopped loop is reinitialized on the next start.
	_, err = app.StartLoop()
	assert.ErrorIs(t, err, usecase.ErrRecognizerUnavailable)

	require.NoError(t, app.DeleteEntry(records[0].ID))
	records, err = app.GetHistory()
	require.NoError(t, err)
	require.Len(t, records, 1)

	require.NoError(t, app.ClearHistory())
	records, err = app.GetHistory()
	require.NoError(t, err)
	assert.Empty(t, records)

	status, err = app.StopLoop()
	require.NoError(t, err)
	assert.Equal(t, domain.LoopStateStopped, status.State)
}

func TestAppRuntimeInfo(t *testing.T) {
	app, _ := newTestApp(t)

	info := app.GetRuntimeInfo()
	assert.Equal(t, "Deepgram", info["provider"])
	assert.Equal(t, "super duper", info["wakePhrase"])
}

type emitted struct {
	name    string
	payload interface{}
}

type recorder struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recorder) emit(_ context.Context, name string, data ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var payload interface{}
	if len(data) > 0 {
		payload = data[0]
	}
	r.events = append(r.events, emitted{name: name, payload: payload})
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.name)
	}
	return out
}

func newTestApp(t *testing.T) (*App, *recorder) {
	t.Helper()

	rec := &recorder{}
	app := &App{ctx: context.Background(), emit: rec.emit}

	services, err := bootstrap.BuildWith(config.Default(t.TempDir()), app, zerolog.Nop())
	require.NoError(t, err)
	app.services = services
	t.Cleanup(func() { app.shutdown(context.Background()) })
	return app, rec
}
