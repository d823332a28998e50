// Package journal persists the synthesized event stream so an instance
// restart can resume with recent history instead of an empty buffer.
// Events are written in periodic batches; durability of an individual
// event is only guaranteed after the next flush.
package journal

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/louisbranch/squadops/internal/platform/timeouts"
	"github.com/louisbranch/squadops/internal/squad"
)

// DefaultFlushInterval is the batch cadence.
const DefaultFlushInterval = 5 * time.Second

// Store persists and reloads domain events.
type Store interface {
	// SaveEvents appends a batch. Batches may contain replayed ids;
	// stores upsert by event id.
	SaveEvents(ctx context.Context, events []squad.Event) error
	// LoadRecent returns the events of the most recent matches, oldest
	// first.
	LoadRecent(ctx context.Context, matches int) ([]squad.Event, error)
	// LastEventID returns the highest persisted event id, or 0.
	LastEventID(ctx context.Context) (int64, error)
	Close() error
}

// Writer batches events and flushes them to a store on an interval. A
// final flush runs when the writer stops.
type Writer struct {
	store    Store
	interval time.Duration
	log      zerolog.Logger

	mu  sync.Mutex
	buf []squad.Event
}

// NewWriter returns a writer flushing to store. A zero interval selects
// DefaultFlushInterval.
func NewWriter(store Store, interval time.Duration, logger zerolog.Logger) *Writer {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Writer{
		store:    store,
		interval: interval,
		log:      logger.With().Str("module", "journal").Logger(),
	}
}

// Enqueue buffers one event for the next flush. Safe for concurrent use
// with Run.
func (w *Writer) Enqueue(event squad.Event) {
	w.mu.Lock()
	w.buf = append(w.buf, event)
	w.mu.Unlock()
}

// Run flushes on the configured interval until ctx is canceled, then
// flushes whatever is still buffered.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// The run context is gone; give the final flush its own
			// short deadline.
			flushCtx, cancel := context.WithTimeout(context.Background(), timeouts.JournalFlush)
			err := w.Flush(flushCtx)
			cancel()
			if err != nil {
				w.log.Error().Err(err).Msg("final journal flush failed")
			}
			return ctx.Err()
		case <-ticker.C:
			if err := w.Flush(ctx); err != nil {
				w.log.Warn().Err(err).Msg("journal flush failed, batch retained")
			}
		}
	}
}

// Flush writes the buffered batch. On failure the batch is retained and
// retried on the next flush.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	batch := w.buf
	w.buf = nil
	w.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := w.store.SaveEvents(ctx, batch); err != nil {
		w.mu.Lock()
		w.buf = append(batch, w.buf...)
		w.mu.Unlock()
		return err
	}
	w.log.Debug().Int("events", len(batch)).Msg("journal batch written")
	return nil
}
