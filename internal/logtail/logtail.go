// Package logtail follows a game-server log file and emits complete
// lines as they are written. The file is polled rather than watched:
// server logs are written over network shares where filesystem
// notifications are unreliable.
package logtail

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultPollInterval is how often the file is checked for new bytes.
const DefaultPollInterval = time.Second

// Handler receives one complete log line, without its trailing newline.
type Handler func(line string)

// Tailer polls a log file and feeds new lines to a handler. Lines
// already present when the tailer starts are skipped; only growth is
// reported.
type Tailer struct {
	path     string
	interval time.Duration
	handler  Handler
	log      zerolog.Logger

	offset  int64
	partial strings.Builder
	started bool
}

// New returns a tailer for the file at path. A zero interval selects
// DefaultPollInterval.
func New(path string, interval time.Duration, handler Handler, logger zerolog.Logger) *Tailer {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Tailer{
		path:     path,
		interval: interval,
		handler:  handler,
		log:      logger.With().Str("module", "logtail").Str("path", path).Logger(),
	}
}

// Run polls until ctx is canceled. Transient read errors are logged and
// retried on the next tick; only cancellation ends the loop.
func (t *Tailer) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		if err := t.poll(); err != nil {
			t.log.Warn().Err(err).Msg("log poll failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (t *Tailer) poll() error {
	f, err := os.Open(t.path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()

	if !t.started {
		// First sighting: skip history, tail from the current end.
		t.started = true
		t.offset = size
		return nil
	}
	if size < t.offset {
		// Truncated or rotated; whatever half-line we held is gone.
		t.log.Info().Int64("size", size).Int64("offset", t.offset).Msg("log file shrank, restarting from head")
		t.offset = 0
		t.partial.Reset()
	}
	if size == t.offset {
		return nil
	}

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return err
	}
	grown, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	t.offset += int64(len(grown))
	t.feed(string(grown))
	return nil
}

// feed appends chunk to the carried partial line and emits every
// complete line in it. Bytes after the last newline wait for the next
// poll.
func (t *Tailer) feed(chunk string) {
	t.partial.WriteString(chunk)
	buffered := t.partial.String()
	for {
		idx := strings.IndexByte(buffered, '\n')
		if idx == -1 {
			break
		}
		line := strings.TrimSuffix(buffered[:idx], "\r")
		buffered = buffered[idx+1:]
		if line != "" {
			t.handler(line)
		}
	}
	t.partial.Reset()
	t.partial.WriteString(buffered)
}
