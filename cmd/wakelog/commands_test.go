package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wakelog/internal/domain"
	"wakelog/internal/history"
)

func setupHome(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("WAKELOG_ENV_FILE", filepath.Join(home, "missing.env"))
	t.Setenv("WAKELOG_CONFIG", "")
	t.Setenv("WAKELOG_HISTORY_PATH", filepath.Join(home, "history.db"))
	t.Setenv("WAKELOG_LOGGING_LEVEL", "error")
	return home
}

func seed(t *testing.T, home string, texts ...string) []int64 {
	t.Helper()

	store, err := history.Open(filepath.Join(home, "history.db"), zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()

	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	ids := make([]int64, 0, len(texts))
	for i, text := range texts {
		id, err := store.Insert(context.Background(), domain.TranscriptionRecord{
			Text:      text,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			IsError:   strings.HasPrefix(text, "Recognition error"),
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestHistoryListPrintsNewestFirst(t *testing.T) {
	home := setupHome(t)
	seed(t, home, "buy milk", "Recognition error: 2", "call mom")

	out, err := run(t, "history", "list")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "call mom")
	assert.Contains(t, lines[1], "! ")
	assert.Contains(t, lines[2], "buy milk")
}

func TestHistoryListJSON(t *testing.T) {
	home := setupHome(t)
	seed(t, home, "buy milk")

	out, err := run(t, "history", "list", "--json")
	require.NoError(t, err)

	var records []domain.TranscriptionRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "buy milk", records[0].Text)
}

func TestHistoryListEmpty(t *testing.T) {
	setupHome(t)

	out, err := run(t, "history", "list")
	require.NoError(t, err)
	assert.Equal(t, "no transcriptions\n", out)
}

func TestHistoryDeleteAndClear(t *testing.T) {
	home := setupHome(t)
	ids := seed(t, home, "one", "two")

	out, err := run(t, "history", "delete", fmt.Sprint(ids[0]))
	require.NoError(t, err)
	assert.Contains(t, out, "deleted")

	_, err = run(t, "history", "delete", fmt.Sprint(ids[0]))
	assert.ErrorIs(t, err, history.ErrNotFound)

	_, err = run(t, "history", "delete", "abc")
	assert.Error(t, err)

	out, err = run(t, "history", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "history cleared")

	out, err = run(t, "history", "list")
	require.NoError(t, err)
	assert.Equal(t, "no transcriptions\n", out)
}

func TestConsoleSinkPrintsSavedRecords(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	sink := &consoleSink{out: &out, log: zerolog.Nop()}
	sink.RecordSaved(domain.TranscriptionRecord{ID: 7, Text: "please stop", Timestamp: time.Now()})
	sink.WakeWordDetected("super duper")

	assert.Contains(t, out.String(), "please stop")
	assert.Contains(t, out.String(), "   7")
}
