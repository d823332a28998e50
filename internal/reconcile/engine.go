package reconcile

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/squadops/internal/squad"
)

// Savepoint cadence and retention. Together they bound both replay cost
// and how far back an out-of-order event can still be reconciled.
const (
	SavepointInterval = 100
	MaxSavepoints     = 3
)

// savepoint is a deep-copy snapshot of the projection after the first
// index events of the raw buffer were applied.
type savepoint struct {
	index int
	state State
}

// Options configures an Engine.
type Options struct {
	// Emit receives enriched events in reconciled order. After an
	// out-of-order correction the corrected suffix is re-emitted, so
	// consumers must be idempotent keyed by event id.
	Emit   func(Enriched)
	Logger zerolog.Logger
}

// Engine maintains a state projection that is always consistent with
// applying every received event in timestamp order, even though events
// arrive out of order. History is bounded: a few savepoints plus the
// raw/enriched buffers between them are retained, and events older than
// that window are unrecoverable.
//
// An Engine is not safe for concurrent use. The owning instance loop
// serializes all calls; readers only ever receive deep copies.
type Engine struct {
	emit   func(Enriched)
	log    zerolog.Logger
	tracer trace.Tracer

	state State
	// base is the projection at the buffer head; replay with no
	// covering savepoint starts from it.
	base       State
	raw        []squad.Event
	enriched   []Enriched
	savepoints []savepoint
	// trimmed flips once history has been discarded; before that, an
	// event older than everything buffered can still go to index 0.
	trimmed bool

	synced    bool
	connected bool
}

// New returns an empty engine.
func New(opts Options) *Engine {
	if opts.Emit == nil {
		opts.Emit = func(Enriched) {}
	}
	return &Engine{
		emit:      opts.Emit,
		log:       opts.Logger.With().Str("module", "reconcile").Logger(),
		tracer:    otel.Tracer("reconcile"),
		connected: true,
	}
}

// State returns a deep copy of the current projection.
func (e *Engine) State() State { return e.state.Clone() }

// Events returns a copy of the retained enriched buffer, in reconciled
// order.
func (e *Engine) Events() []Enriched {
	out := make([]Enriched, len(e.enriched))
	copy(out, e.enriched)
	return out
}

// LastEventID returns the id of the newest buffered event, or 0 when
// the buffer is empty.
func (e *Engine) LastEventID() int64 {
	if len(e.raw) == 0 {
		return 0
	}
	return e.raw[len(e.raw)-1].EventMeta().ID
}

// Insert reconciles one event into the buffer. Most events append; an
// event with an older timestamp triggers a rollback to the nearest
// savepoint and a replay, re-emitting the corrected suffix. An event
// older than all retained history returns ErrUnrecoverableOutOfOrder
// and leaves the projection untouched.
func (e *Engine) Insert(event squad.Event) error {
	_, span := e.tracer.Start(context.Background(), "insert", trace.WithAttributes(
		attribute.String("kind", event.Kind()),
	))
	defer span.End()

	idx := e.insertionPoint(event)
	if idx == -1 {
		return ErrUnrecoverableOutOfOrder
	}

	if idx == len(e.raw) {
		enriched := apply(&e.state, event)
		e.raw = append(e.raw, event)
		e.enriched = append(e.enriched, enriched)
		e.emit(enriched)
	} else {
		e.rollbackInsert(event, idx)
	}

	e.maybeSavepoint()
	return nil
}

// insertionPoint scans backward for the slot keeping the buffer sorted
// by time, or -1 when the event predates retained history.
func (e *Engine) insertionPoint(event squad.Event) int {
	at := event.EventMeta().Time
	for i := len(e.raw) - 1; i >= 0; i-- {
		if !e.raw[i].EventMeta().Time.After(at) {
			return i + 1
		}
	}
	if e.trimmed {
		return -1
	}
	return 0
}

// rollbackInsert repairs a true out-of-order arrival: reset to the
// newest savepoint at or before idx, splice the event in, and replay
// everything from the savepoint forward through the same projection
// rules an append uses.
func (e *Engine) rollbackInsert(event squad.Event, idx int) {
	base, from := e.restorePoint(idx)
	e.log.Debug().
		Str("kind", event.Kind()).
		Int("index", idx).
		Int("replay_from", from).
		Int("buffered", len(e.raw)).
		Msg("out-of-order event, rolling back")

	replay := make([]squad.Event, 0, len(e.raw)-from+1)
	replay = append(replay, e.raw[from:idx]...)
	replay = append(replay, event)
	replay = append(replay, e.raw[idx:]...)

	// Savepoints past the restore point describe an ordering that no
	// longer exists.
	for len(e.savepoints) > 0 && e.savepoints[len(e.savepoints)-1].index > from {
		e.savepoints = e.savepoints[:len(e.savepoints)-1]
	}

	e.state = base
	e.raw = append(e.raw[:from], replay...)
	e.enriched = e.enriched[:from]
	for i, ev := range replay {
		enriched := apply(&e.state, ev)
		e.enriched = append(e.enriched, enriched)
		if from+i >= idx {
			e.emit(enriched)
		}
	}
}

// restorePoint returns a deep copy of the newest savepoint state at or
// before idx and the buffer index it corresponds to; with no covering
// savepoint the buffer's base state is the restore point.
func (e *Engine) restorePoint(idx int) (State, int) {
	for i := len(e.savepoints) - 1; i >= 0; i-- {
		if e.savepoints[i].index <= idx {
			return e.savepoints[i].state.Clone(), e.savepoints[i].index
		}
	}
	return e.base.Clone(), 0
}

// maybeSavepoint captures a snapshot every SavepointInterval buffered
// events and trims history to the oldest retained savepoint once more
// than MaxSavepoints exist.
func (e *Engine) maybeSavepoint() {
	last := 0
	if len(e.savepoints) > 0 {
		last = e.savepoints[len(e.savepoints)-1].index
	}
	if len(e.raw)-last < SavepointInterval {
		return
	}
	e.savepoints = append(e.savepoints, savepoint{
		index: len(e.raw),
		state: e.state.Clone(),
	})
	if len(e.savepoints) <= MaxSavepoints {
		return
	}

	e.savepoints = e.savepoints[1:]
	cut := e.savepoints[0].index
	e.base = e.savepoints[0].state.Clone()
	e.raw = append([]squad.Event(nil), e.raw[cut:]...)
	e.enriched = append([]Enriched(nil), e.enriched[cut:]...)
	for i := range e.savepoints {
		e.savepoints[i].index -= cut
	}
	e.trimmed = true
}

// Synced marks the instance caught up with the live feed.
func (e *Engine) Synced() {
	e.synced = true
	e.log.Info().Int("buffered", len(e.raw)).Msg("synced with live feed")
}

// ConnectionError records transport loss. Buffered history is kept so a
// prompt reconnect can resume in place.
func (e *Engine) ConnectionError() {
	e.connected = false
	e.log.Warn().Msg("upstream connection lost")
}

// Reconnected resumes after transport loss. When the resumed cursor
// matches the buffer tail the stream continues in place; otherwise the
// resumption point is unknowable and the engine fully resets. The reset
// is a deliberate data-loss boundary.
func (e *Engine) Reconnected(cursor int64) (resumed bool) {
	e.connected = true
	if cursor == e.LastEventID() {
		e.log.Info().Int64("cursor", cursor).Msg("resumed in place")
		return true
	}
	e.log.Warn().
		Int64("cursor", cursor).
		Int64("tail", e.LastEventID()).
		Msg("resumption point unknowable, resetting")
	e.Reset()
	return false
}

// Reset discards all buffered history and the projection.
func (e *Engine) Reset() {
	e.state = State{}
	e.base = State{}
	e.raw = nil
	e.enriched = nil
	e.savepoints = nil
	e.trimmed = false
	e.synced = false
}
