// Package synth turns the two raw feeds of a managed server — polled
// roster/squad snapshots and tailed log lines — into discrete domain
// events. Snapshot diffing covers squad membership and detail changes;
// the log stream is authoritative for connects, disconnects and combat.
package synth

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/squadops/internal/logparser"
	"github.com/louisbranch/squadops/internal/squad"
	"github.com/louisbranch/squadops/internal/squad/queries"
)

// DefaultPollInterval is the roster/squad polling cadence.
const DefaultPollInterval = 15 * time.Second

// transitionLayer loads between rounds and never starts a real match.
const transitionLayer = "TransitionMap"

// Roster is the query surface the synthesizer polls.
type Roster interface {
	ListPlayers(ctx context.Context) ([]squad.Player, error)
	ListSquads(ctx context.Context) ([]squad.Squad, error)
}

// Snapshot is one poll's roster and squad listing.
type Snapshot struct {
	Players []squad.Player
	Squads  []squad.Squad
}

// Options configures a Synthesizer.
type Options struct {
	Roster Roster
	// Emit receives every synthesized event, in synthesis order.
	Emit func(squad.Event)
	// Counter allocates event ids; shared with the rest of the instance.
	Counter *squad.Counter
	// MatchID seeds the current match; usually the last persisted one.
	MatchID int64
	// Now is stubbed in tests. Defaults to time.Now.
	Now    func() time.Time
	Logger zerolog.Logger
}

// Synthesizer holds the per-instance synthesis state: the last
// successful snapshot, the set of confirmed-connected players, and the
// pending resolutions described in pending.go.
//
// A Synthesizer is not safe for concurrent use. The owning instance
// loop serializes Poll, HandleLogLine and HandleServerMessage calls.
type Synthesizer struct {
	roster  Roster
	emit    func(squad.Event)
	counter *squad.Counter
	now     func() time.Time
	log     zerolog.Logger
	tracer  trace.Tracer

	snapshot Snapshot
	havePrev bool

	// connected holds the players whose connection has been confirmed,
	// with their last known roster record.
	connected []squad.Player

	// created tracks squads already reported as created this match,
	// whether announced over server messages or discovered in a roster
	// diff, so the differ does not report them a second time or report
	// the creator joining their own squad.
	created []squad.Squad

	// joins maps a log chain id to the identities seen in the pre-auth
	// connect line for that connection attempt.
	joins map[string]squad.OnlineIDs

	// awaiting holds join-confirmed identities until the roster lists
	// them; combat holds kill/wound lines until both sides resolve.
	awaiting []awaitingConnect
	combat   []pendingCombat

	matchID     int64
	roundWinner *squad.TeamOutcome
	roundLoser  *squad.TeamOutcome
}

// New returns a synthesizer emitting to opts.Emit.
func New(opts Options) *Synthesizer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Counter == nil {
		opts.Counter = squad.NewCounter(0)
	}
	return &Synthesizer{
		roster:  opts.Roster,
		emit:    opts.Emit,
		counter: opts.Counter,
		now:     opts.Now,
		log:     opts.Logger.With().Str("module", "synth").Logger(),
		tracer:  otel.Tracer("synth"),
		joins:   map[string]squad.OnlineIDs{},
		matchID: opts.MatchID,
	}
}

// MatchID returns the id of the match currently in progress.
func (s *Synthesizer) MatchID() int64 { return s.matchID }

// Invalidate drops the cached snapshot so the next poll re-baselines
// instead of diffing against pre-disconnect data.
func (s *Synthesizer) Invalidate() {
	s.havePrev = false
}

// Poll fetches the roster and squad listing, resolves pending events
// against the fresh roster, and diffs against the previous snapshot.
// A failed fetch is logged and the previous snapshot retained, so the
// next diff runs against stale-but-consistent data.
func (s *Synthesizer) Poll(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "poll")
	defer span.End()

	players, err := s.roster.ListPlayers(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("player poll failed, keeping previous snapshot")
		return
	}
	squads, err := s.roster.ListSquads(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("squad poll failed, keeping previous snapshot")
		return
	}
	next := Snapshot{Players: players, Squads: squads}
	span.SetAttributes(
		attribute.Int("players", len(players)),
		attribute.Int("squads", len(squads)),
	)

	s.resolveAwaiting(next)
	s.fallbackConnects(next)
	if s.havePrev {
		s.diff(s.snapshot, next)
	}
	s.resolveCombat(next)

	s.snapshot = next
	s.havePrev = true
}

// HandleLogLine matches one tailed log line and folds the result into
// the synthesis state. Unrecognized lines are dropped.
func (s *Synthesizer) HandleLogLine(ctx context.Context, line string) {
	event, ok := logparser.Parse(line)
	if !ok {
		return
	}
	_, span := s.tracer.Start(ctx, "log_event")
	defer span.End()

	switch e := event.(type) {
	case logparser.NewGame:
		s.handleNewGame(e)
	case logparser.RoundDecided:
		s.handleRoundDecided(e)
	case logparser.RoundTeamOutcome:
		s.log.Info().Str("winner", e.Winner).Str("layer", e.Layer).Msg("round winner announced")
	case logparser.RoundEnded:
		s.handleRoundEnded(e)
	case logparser.PlayerConnected:
		s.joins[e.ChainID] = e.IDs
	case logparser.PlayerJoinSucceeded:
		s.handleJoinSucceeded(e)
	case logparser.PlayerDisconnected:
		s.handleDisconnected(e)
	case logparser.PlayerDied:
		s.holdCombat(event)
	case logparser.PlayerWounded:
		s.holdCombat(event)
	}
}

// HandleServerMessage converts one server-message frame body into its
// domain event. Unrecognized bodies are dropped.
func (s *Synthesizer) HandleServerMessage(body string) {
	msg, ok := queries.ParseServerMessage(body)
	if !ok {
		return
	}
	now := s.now()
	switch m := msg.(type) {
	case queries.Chat:
		s.emit(squad.ChatMessage{
			Meta:      s.meta(now),
			Channel:   m.Channel,
			PlayerIDs: m.IDs,
			Name:      m.Name,
			Message:   m.Message,
		})
	case queries.CameraPossessed:
		s.emit(squad.AdminCameraPossessed{Meta: s.meta(now), PlayerIDs: m.IDs, Name: m.Name})
	case queries.CameraUnpossessed:
		s.emit(squad.AdminCameraUnpossessed{Meta: s.meta(now), PlayerIDs: m.IDs, Name: m.Name})
	case queries.Warned:
		s.emit(squad.PlayerWarned{
			Meta:      s.meta(now),
			Name:      m.Name,
			PlayerIDs: s.idsByName(m.Name),
			Reason:    m.Reason,
		})
	case queries.Kicked:
		s.emit(squad.PlayerKicked{Meta: s.meta(now), PlayerID: m.PlayerID, PlayerIDs: m.IDs, Name: m.Name})
	case queries.Banned:
		s.emit(squad.PlayerBanned{
			Meta:      s.meta(now),
			PlayerID:  m.PlayerID,
			PlayerIDs: m.IDs,
			Name:      m.Name,
			Interval:  m.Interval,
		})
	case queries.SquadCreatedMessage:
		s.handleSquadCreated(m, now)
	}
}

// RecordBroadcast reports an admin broadcast issued through this
// instance. Broadcasts are not echoed back over any inbound feed, so
// the command path records them directly.
func (s *Synthesizer) RecordBroadcast(message, from string) {
	s.emit(squad.AdminBroadcast{Meta: s.meta(s.now()), Message: message, From: from})
}

func (s *Synthesizer) handleNewGame(e logparser.NewGame) {
	if e.LayerClassname == transitionLayer {
		return
	}
	s.matchID++
	s.created = nil
	s.roundWinner = nil
	s.roundLoser = nil
	s.emit(squad.NewGame{
		Meta:           s.meta(e.Time),
		MapClassname:   e.MapClassname,
		LayerClassname: e.LayerClassname,
	})
}

func (s *Synthesizer) handleRoundDecided(e logparser.RoundDecided) {
	outcome := &squad.TeamOutcome{
		TeamID:  e.Team,
		Faction: e.Faction,
		Unit:    e.Unit,
		Tickets: e.Tickets,
		Won:     e.Won,
	}
	if e.Won {
		s.roundWinner = outcome
	} else {
		s.roundLoser = outcome
	}
}

func (s *Synthesizer) handleRoundEnded(e logparser.RoundEnded) {
	s.emit(squad.RoundEnded{
		Meta:   s.meta(e.Time),
		Winner: s.roundWinner,
		Loser:  s.roundLoser,
	})
	s.roundWinner = nil
	s.roundLoser = nil
}

func (s *Synthesizer) handleSquadCreated(m queries.SquadCreatedMessage, now time.Time) {
	created := squad.Squad{
		SquadID:     m.SquadID,
		TeamName:    m.TeamName,
		Name:        m.SquadName,
		Size:        1,
		CreatorName: m.PlayerName,
		CreatorIDs:  m.IDs,
	}
	if i := squad.FindPlayer(s.snapshot.Players, m.IDs); i != -1 {
		created.TeamID = s.snapshot.Players[i].TeamID
	} else {
		for _, sq := range s.snapshot.Squads {
			if sq.TeamName == m.TeamName {
				created.TeamID = sq.TeamID
				break
			}
		}
	}
	if created.TeamID != squad.TeamNone {
		s.created = append(s.created, created.Clone())
	}
	s.emit(squad.SquadCreated{Meta: s.meta(now), Squad: created})
}

// meta stamps an event with the next id and the current match.
func (s *Synthesizer) meta(at time.Time) squad.Meta {
	return squad.Meta{ID: s.counter.Next(), Time: at, MatchID: s.matchID}
}

func (s *Synthesizer) idsByName(name string) squad.OnlineIDs {
	for _, p := range s.snapshot.Players {
		if p.Name == name {
			return p.IDs.Clone()
		}
	}
	return nil
}

func (s *Synthesizer) createdSquad(key squad.Key) (squad.Squad, bool) {
	for _, sq := range s.created {
		if sq.Key() == key {
			return sq, true
		}
	}
	return squad.Squad{}, false
}
