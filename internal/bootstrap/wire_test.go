package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wakelog/internal/config"
	"wakelog/internal/domain"
)

func TestBuildSuccess(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("WAKELOG_ENV_FILE", filepath.Join(home, "missing.env"))
	t.Setenv("WAKELOG_CONFIG", "")
	t.Setenv("DEEPGRAM_API_KEY", "test-key")

	services, err := Build(NopSink{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = services.Close() })

	assert.NotNil(t, services.Controller)
	assert.NotNil(t, services.History)
	assert.Equal(t, "test-key", services.Config.Deepgram.APIKey)
	assert.FileExists(t, filepath.Join(home, ".local", "share", "wakelog", "history.db"))
	assert.Equal(t, domain.LoopStateIdle, services.Controller.Status().State)
}

func TestBuildFailsOnInvalidRules(t *testing.T) {
	home := t.TempDir()
	rules := filepath.Join(home, "bad.rules")
	require.NoError(t, os.WriteFile(rules, []byte("not a valid rule\n"), 0o600))

	cfg := config.Default(home)
	cfg.Wake.RulesFile = rules

	_, err := BuildWith(cfg, NopSink{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestBuildWithoutAPIKeyReportsRecognizerUnavailable(t *testing.T) {
	home := t.TempDir()
	cfg := config.Default(home)

	services, err := BuildWith(cfg, NopSink{}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = services.Close() })

	err = services.Controller.StartLoop(context.Background())
	require.Error(t, err)

	records, err := services.History.Recent(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Speech recognition not available on this device", records[0].Text)
	assert.True(t, records[0].IsError)
}

func TestCloseIsSafeTwiceForLoop(t *testing.T) {
	cfg := config.Default(t.TempDir())

	services, err := BuildWith(cfg, NopSink{}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, services.Close())
	assert.NoError(t, services.Controller.StopLoop())
}
