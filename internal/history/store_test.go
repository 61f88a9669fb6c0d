package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wakelog/internal/domain"
)

var base = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func insertAt(t *testing.T, store *Store, text string, at time.Time) int64 {
	t.Helper()

	id, err := store.Insert(context.Background(), domain.TranscriptionRecord{Text: text, Timestamp: at})
	require.NoError(t, err)
	return id
}

func TestInsertAssignsIncreasingIDs(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first := insertAt(t, store, "one", base)
	second, err := store.Insert(ctx, domain.TranscriptionRecord{Text: "two", Timestamp: base.Add(time.Second), IsError: true})
	require.NoError(t, err)
	assert.Greater(t, second, first)

	records, err := store.Recent(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "two", records[0].Text)
	assert.True(t, records[0].IsError)
	assert.Equal(t, base.Add(time.Second).UnixMilli(), records[0].Timestamp.UnixMilli())
	assert.Equal(t, "one", records[1].Text)
	assert.False(t, records[1].IsError)
}

func TestEvictExcessKeepsCapacityAfterEveryInsert(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 45; i++ {
		insertAt(t, store, "entry", base.Add(time.Duration(i)*time.Second))
		require.NoError(t, store.EvictExcess(ctx, DefaultCapacity))

		n, err := store.Count(ctx)
		require.NoError(t, err)
		assert.LessOrEqual(t, n, DefaultCapacity)
	}
}

func TestEvictExcessDropsOldestOnTwentyFirstInsert(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	oldest := insertAt(t, store, "oldest", base)
	for i := 1; i <= 20; i++ {
		insertAt(t, store, "newer", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.EvictExcess(ctx, DefaultCapacity))
	}

	records, err := store.Recent(ctx)
	require.NoError(t, err)
	require.Len(t, records, DefaultCapacity)
	for _, record := range records {
		assert.NotEqual(t, oldest, record.ID)
	}
}

func TestEvictExcessRetainsMostRecentByTimestamp(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// inserted out of timestamp order: ids do not decide recency
	late := insertAt(t, store, "late", base.Add(time.Hour))
	early := insertAt(t, store, "early", base)
	middle := insertAt(t, store, "middle", base.Add(time.Minute))

	require.NoError(t, store.EvictExcess(ctx, 2))

	records, err := store.Recent(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, late, records[0].ID)
	assert.Equal(t, middle, records[1].ID)
	assert.NotContains(t, []int64{records[0].ID, records[1].ID}, early)
}

func TestEvictExcessTieBreakEvictsLowerID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	a := insertAt(t, store, "a", base)
	b := insertAt(t, store, "b", base)
	c := insertAt(t, store, "c", base)

	require.NoError(t, store.EvictExcess(ctx, 2))

	records, err := store.Recent(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, c, records[0].ID)
	assert.Equal(t, b, records[1].ID)
	assert.Less(t, a, b)
}

func TestDeleteByIDAndDeleteAll(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first := insertAt(t, store, "first", base)
	insertAt(t, store, "second", base.Add(time.Second))

	require.NoError(t, store.DeleteByID(ctx, first))
	assert.ErrorIs(t, store.DeleteByID(ctx, first), ErrNotFound)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, store.DeleteAll(ctx))
	n, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWatchStreamsSnapshots(t *testing.T) {
	store := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := store.Watch(ctx)

	initial := nextSnapshot(t, updates)
	assert.Empty(t, initial)

	insertAt(t, store, "hello", base)
	assert.Eventually(t, func() bool {
		select {
		case snapshot := <-updates:
			return len(snapshot) == 1 && snapshot[0].Text == "hello"
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-updates:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatchClosesWithStore(t *testing.T) {
	store, err := Open(":memory:", zerolog.Nop())
	require.NoError(t, err)

	updates := store.Watch(context.Background())
	nextSnapshot(t, updates)

	require.NoError(t, store.Close())
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-updates:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestInsertDefaultsTimestamp(t *testing.T) {
	store := setupTestStore(t)
	before := time.Now().Add(-time.Second)

	_, err := store.Insert(context.Background(), domain.TranscriptionRecord{Text: "now"})
	require.NoError(t, err)

	records, err := store.Recent(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Timestamp.After(before))
}

func nextSnapshot(t *testing.T, updates <-chan []domain.TranscriptionRecord) []domain.TranscriptionRecord {
	t.Helper()

	select {
	case snapshot, ok := <-updates:
		require.True(t, ok, "watch channel closed early")
		return snapshot
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for history snapshot")
		return nil
	}
}
