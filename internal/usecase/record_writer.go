package usecase

import (
	"context"

	"github.com/rs/zerolog"

	"wakelog/internal/domain"
	"wakelog/internal/ports"
)

// recordWriter persists records off the event loop. One goroutine handles the
// queue, so every insert is followed by its eviction pass before the next
// record is written.
type recordWriter struct {
	store  ports.HistoryStore
	keep   int
	events ports.EventSink
	log    zerolog.Logger

	jobs chan domain.TranscriptionRecord
	done chan struct{}
}

func newRecordWriter(store ports.HistoryStore, keep int, events ports.EventSink, logger zerolog.Logger) *recordWriter {
	w := &recordWriter{
		store:  store,
		keep:   keep,
		events: events,
		log:    logger,
		jobs:   make(chan domain.TranscriptionRecord, 32),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *recordWriter) save(record domain.TranscriptionRecord) {
	w.jobs <- record
}

// close waits for queued records to be written. save must not be called afterwards.
func (w *recordWriter) close() {
	close(w.jobs)
	<-w.done
}

func (w *recordWriter) run() {
	defer close(w.done)

	ctx := context.Background()
	for record := range w.jobs {
		id, err := w.store.Insert(ctx, record)
		if err != nil {
			w.log.Error().Err(err).Bool("is_error", record.IsError).Msg("failed to save history record")
			continue
		}
		record.ID = id
		if err := w.store.EvictExcess(ctx, w.keep); err != nil {
			w.log.Error().Err(err).Int("keep", w.keep).Msg("failed to evict history records")
		}
		w.log.Debug().Int64("id", id).Bool("is_error", record.IsError).Msg("history record saved")
		w.events.RecordSaved(record)
	}
}
