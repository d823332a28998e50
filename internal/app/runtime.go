// Package app wires one game-server instance: the remote console
// client, the log tailer, the event synthesizer, the reconciliation
// engine, and the downstream journal, push and relay consumers.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/louisbranch/squadops/internal/adminlist"
	"github.com/louisbranch/squadops/internal/journal"
	journalsqlite "github.com/louisbranch/squadops/internal/journal/sqlite"
	"github.com/louisbranch/squadops/internal/logtail"
	"github.com/louisbranch/squadops/internal/platform/timeouts"
	"github.com/louisbranch/squadops/internal/push"
	"github.com/louisbranch/squadops/internal/rcon"
	"github.com/louisbranch/squadops/internal/reconcile"
	"github.com/louisbranch/squadops/internal/relay"
	"github.com/louisbranch/squadops/internal/squad"
	"github.com/louisbranch/squadops/internal/squad/queries"
	"github.com/louisbranch/squadops/internal/synth"
)

// RuntimeConfig controls instance startup, dependencies, and loop behavior.
type RuntimeConfig struct {
	RCONAddr     string
	RCONPassword string

	LogPath         string
	LogPollInterval time.Duration

	PollInterval time.Duration

	DBPath        string
	FlushInterval time.Duration
	WarmupMatches int

	HTTPAddr string

	NATSURL           string
	NATSSubjectPrefix string

	// AdminSources lists admin-list locations; http(s) URLs are fetched
	// remotely, everything else is read as a local file.
	AdminSources        []string
	AdminReloadInterval time.Duration

	Logger zerolog.Logger
}

const (
	defaultDBPath              = "data/squadops.db"
	defaultWarmupMatches       = 1
	defaultAdminReloadInterval = 5 * time.Minute
)

// Run starts the instance runtime and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(cfg.RCONAddr) == "" {
		return fmt.Errorf("rcon address is required")
	}
	if strings.TrimSpace(cfg.LogPath) == "" {
		return fmt.Errorf("server log path is required")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultDBPath
	}
	if cfg.WarmupMatches <= 0 {
		cfg.WarmupMatches = defaultWarmupMatches
	}
	if cfg.AdminReloadInterval <= 0 {
		cfg.AdminReloadInterval = defaultAdminReloadInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = synth.DefaultPollInterval
	}
	if cfg.LogPollInterval <= 0 {
		cfg.LogPollInterval = logtail.DefaultPollInterval
	}
	log := cfg.Logger.With().Str("module", "app").Logger()

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create journal dir: %w", err)
		}
	}
	store, err := journalsqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open journal store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("close journal store")
		}
	}()

	inst, err := newInstance(ctx, cfg, store, log)
	if err != nil {
		return err
	}
	defer inst.close()

	return inst.run(ctx)
}

// instance holds the loop-owned state. All event-producing components
// funnel into the single run loop, which serializes access to the
// synthesizer and the engine.
type instance struct {
	cfg RuntimeConfig
	log zerolog.Logger

	counter *squad.Counter
	synth   *synth.Synthesizer
	engine  *reconcile.Engine

	writer *journal.Writer
	hub    *push.Hub
	relay  *relay.Publisher

	admins   adminlist.List
	adminSvc *adminlist.Service

	rcon   *rcon.Client
	tailer *logtail.Tailer

	httpSrv *http.Server

	lines    chan string
	messages chan string

	// ready flips after the journal warm-up replay; earlier emissions
	// are already persisted and must not be re-journaled or re-pushed.
	ready bool
}

func newInstance(ctx context.Context, cfg RuntimeConfig, store journal.Store, log zerolog.Logger) (*instance, error) {
	inst := &instance{
		cfg:      cfg,
		log:      log,
		hub:      push.NewHub(cfg.Logger),
		lines:    make(chan string, 256),
		messages: make(chan string, 256),
	}

	lastID, err := store.LastEventID(ctx)
	if err != nil {
		return nil, fmt.Errorf("read journal cursor: %w", err)
	}
	inst.counter = squad.NewCounter(lastID)

	inst.engine = reconcile.New(reconcile.Options{
		Emit:   inst.handleEnriched,
		Logger: cfg.Logger,
	})

	recent, err := store.LoadRecent(ctx, cfg.WarmupMatches)
	if err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}
	matchID := int64(0)
	for _, event := range recent {
		if err := inst.engine.Insert(event); err != nil {
			log.Warn().Err(err).Int64("event_id", event.EventMeta().ID).Msg("journal replay skipped event")
		}
		matchID = event.EventMeta().MatchID
	}
	inst.engine.Synced()
	inst.ready = true
	log.Info().Int("events", len(recent)).Int64("cursor", lastID).Msg("journal warm-up complete")

	inst.writer = journal.NewWriter(store, cfg.FlushInterval, cfg.Logger)

	inst.rcon = rcon.NewClient(rcon.Options{
		Addr:     cfg.RCONAddr,
		Password: cfg.RCONPassword,
		OnServerMessage: func(frame rcon.Frame) {
			select {
			case inst.messages <- frame.Body:
			default:
				log.Warn().Msg("server message dropped, loop backlogged")
			}
		},
		Logger: cfg.Logger,
	})

	roster := queries.NewClient(inst.rcon, cfg.Logger)
	inst.synth = synth.New(synth.Options{
		Roster:  roster,
		Emit:    inst.handleEvent,
		Counter: inst.counter,
		MatchID: matchID,
		Logger:  cfg.Logger,
	})

	inst.tailer = logtail.New(cfg.LogPath, cfg.LogPollInterval, func(line string) {
		inst.lines <- line
	}, cfg.Logger)

	inst.adminSvc = adminlist.NewService(adminSources(cfg.AdminSources), cfg.Logger)
	inst.admins = inst.adminSvc.Load(ctx)

	if strings.TrimSpace(cfg.NATSURL) != "" {
		pub, err := relay.Connect(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.Logger)
		if err != nil {
			return nil, fmt.Errorf("connect relay: %w", err)
		}
		inst.relay = pub
	}

	if strings.TrimSpace(cfg.HTTPAddr) != "" {
		mux := http.NewServeMux()
		mux.Handle("/events", inst.hub)
		inst.httpSrv = &http.Server{Addr: cfg.HTTPAddr, Handler: mux, ReadHeaderTimeout: timeouts.ReadHeader}
	}

	return inst, nil
}

// run is the instance actor loop. Everything that touches the
// synthesizer or the engine happens here, in arrival order.
func (a *instance) run(ctx context.Context) error {
	a.rcon.Connect(ctx)
	states, unsubscribe := a.rcon.Subscribe()
	defer unsubscribe()

	go a.writer.Run(ctx)
	go func() {
		if err := a.tailer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn().Err(err).Msg("log tailer stopped")
		}
	}()
	if a.httpSrv != nil {
		go func() {
			if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error().Err(err).Str("addr", a.httpSrv.Addr).Msg("push listener failed")
			}
		}()
	}

	pollTicker := time.NewTicker(a.cfg.PollInterval)
	defer pollTicker.Stop()
	adminTicker := time.NewTicker(a.cfg.AdminReloadInterval)
	defer adminTicker.Stop()

	// First roster baseline without waiting a full interval.
	a.synth.Poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-a.lines:
			a.synth.HandleLogLine(ctx, line)
		case body := <-a.messages:
			a.synth.HandleServerMessage(body)
		case state := <-states:
			a.handleConnState(state)
		case <-pollTicker.C:
			a.synth.Poll(ctx)
		case <-adminTicker.C:
			a.admins = a.adminSvc.Load(ctx)
		}
	}
}

func (a *instance) handleConnState(state rcon.State) {
	switch state {
	case rcon.StateDisconnected:
		a.log.Warn().Msg("console disconnected, suspending diffs")
		a.synth.Invalidate()
		a.engine.ConnectionError()
	case rcon.StateAuthenticated:
		if a.engine.Reconnected(a.counter.Last()) {
			a.log.Info().Msg("console reconnected, resuming")
		} else {
			a.log.Warn().Msg("console reconnected past retained history, rebuilding")
			a.synth.Invalidate()
		}
	}
}

// handleEvent receives every synthesized event, already in emission
// order, and fans it into the engine and the journal.
func (a *instance) handleEvent(event squad.Event) {
	a.writer.Enqueue(event)
	if err := a.engine.Insert(event); err != nil {
		if errors.Is(err, reconcile.ErrUnrecoverableOutOfOrder) {
			a.log.Error().Err(err).
				Int64("event_id", event.EventMeta().ID).
				Time("event_time", event.EventMeta().Time).
				Msg("event predates retained history, rebuilding projection")
			a.engine.Reset()
			a.synth.Invalidate()
			return
		}
		a.log.Error().Err(err).Int64("event_id", event.EventMeta().ID).Msg("engine rejected event")
	}
}

// handleEnriched receives reconciled events, including re-emissions of
// the corrected suffix after an out-of-order insert.
func (a *instance) handleEnriched(event reconcile.Enriched) {
	if !a.ready {
		return
	}
	a.hub.Broadcast(event, a.isAdminEvent(event))
	if a.relay != nil {
		a.relay.Publish(event)
	}
}

func (a *instance) isAdminEvent(event reconcile.Enriched) bool {
	if _, ok := event.Event.(squad.AdminBroadcast); ok {
		return true
	}
	if event.Player != nil {
		return a.admins.IsAdmin(event.Player.IDs)
	}
	return false
}

func (a *instance) close() {
	if a.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
			a.log.Warn().Err(err).Msg("push listener shutdown")
		}
	}
	a.hub.Close()
	if a.relay != nil {
		a.relay.Close()
	}
	if err := a.rcon.Close(); err != nil {
		a.log.Warn().Err(err).Msg("close console client")
	}
}

func adminSources(refs []string) []adminlist.Source {
	sources := make([]adminlist.Source, 0, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
			sources = append(sources, adminlist.HTTPSource{URL: ref})
			continue
		}
		sources = append(sources, adminlist.FileSource{Path: ref})
	}
	return sources
}
