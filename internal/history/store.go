// Package history persists the bounded transcription log in SQLite.
// It uses modernc.org/sqlite, so no CGO toolchain is required.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"wakelog/internal/domain"
)

// DefaultCapacity is the number of records kept after every eviction pass.
const DefaultCapacity = 20

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("history record not found")

//go:embed migrations/001_transcription_history.sql
var initialSchema string

// Store is the SQLite-backed history log. Reads are ordered most recent first;
// equal timestamps fall back to the higher id first.
type Store struct {
	db  *sql.DB
	log zerolog.Logger

	mu       sync.Mutex
	watchers map[chan struct{}]struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// Open creates or opens the history database at path. The parent directory is
// created when missing. ":memory:" opens a private in-memory database.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	// single writer; also keeps an in-memory database alive on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{
		db:       db,
		log:      logger.With().Str("component", "history").Logger(),
		watchers: make(map[chan struct{}]struct{}),
		closed:   make(chan struct{}),
	}

	if err := store.initPragmas(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize pragmas: %w", err)
	}
	if _, err := db.Exec(initialSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

func (s *Store) initPragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

// Insert appends a record and returns its assigned id. The record's ID field is ignored.
func (s *Store) Insert(ctx context.Context, record domain.TranscriptionRecord) (int64, error) {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO transcription_history (text, timestamp, is_error) VALUES (?, ?, ?)`,
		record.Text, record.Timestamp.UnixMilli(), boolToInt(record.IsError),
	)
	if err != nil {
		return 0, fmt.Errorf("insert history record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read inserted id: %w", err)
	}
	s.notify()
	return id, nil
}

// EvictExcess deletes everything outside the keep most recent records.
func (s *Store) EvictExcess(ctx context.Context, keep int) error {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM transcription_history
		WHERE id NOT IN (
			SELECT id FROM transcription_history
			ORDER BY timestamp DESC, id DESC
			LIMIT ?
		)`, keep)
	if err != nil {
		return fmt.Errorf("evict history records: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.log.Debug().Int64("evicted", n).Int("keep", keep).Msg("history evicted")
		s.notify()
	}
	return nil
}

// Recent returns all records, most recent first.
func (s *Store) Recent(ctx context.Context) ([]domain.TranscriptionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, timestamp, is_error
		FROM transcription_history
		ORDER BY timestamp DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	records := make([]domain.TranscriptionRecord, 0, DefaultCapacity)
	for rows.Next() {
		var (
			record  domain.TranscriptionRecord
			millis  int64
			isError int
		)
		if err := rows.Scan(&record.ID, &record.Text, &millis, &isError); err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		record.Timestamp = time.UnixMilli(millis)
		record.IsError = isError != 0
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return records, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transcription_history`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return n, nil
}

// DeleteByID removes one record.
func (s *Store) DeleteByID(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transcription_history WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete history record %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete history record %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.notify()
	return nil
}

// DeleteAll clears the log.
func (s *Store) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transcription_history`); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	s.notify()
	return nil
}

// Watch streams the full ordered log: once immediately, then after every
// mutation. Snapshots coalesce, so a slow reader only sees the latest state.
// The channel closes when ctx is done or the store is closed.
func (s *Store) Watch(ctx context.Context) <-chan []domain.TranscriptionRecord {
	out := make(chan []domain.TranscriptionRecord, 1)
	changed := make(chan struct{}, 1)
	changed <- struct{}{}

	s.mu.Lock()
	s.watchers[changed] = struct{}{}
	s.mu.Unlock()

	go func() {
		defer close(out)
		defer s.unwatch(changed)

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.closed:
				return
			case <-changed:
			}

			records, err := s.Recent(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.log.Error().Err(err).Msg("history watch query failed")
				}
				continue
			}

			select {
			case out <- records:
			case <-ctx.Done():
				return
			case <-s.closed:
				return
			}
		}
	}()

	return out
}

func (s *Store) unwatch(changed chan struct{}) {
	s.mu.Lock()
	delete(s.watchers, changed)
	s.mu.Unlock()
}

func (s *Store) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for changed := range s.watchers {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
}

// Close stops all watchers and closes the database.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.db.Close()
	})
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
