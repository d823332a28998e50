package synth

import (
	"time"

	"github.com/louisbranch/squadops/internal/logparser"
	"github.com/louisbranch/squadops/internal/squad"
)

// awaitingConnect is a join-confirmed connection whose identity has not
// yet been listed by the roster. Emitting only after roster confirmation
// guards against connections that immediately drop.
type awaitingConnect struct {
	ids squad.OnlineIDs
	at  time.Time
}

// pendingCombat is a kill or wound line held until both participant
// identities resolve against the roster. Pending entries are retried on
// every poll and never expire: rosters refresh frequently enough that a
// resolvable entry clears within a cycle or two.
type pendingCombat struct {
	event logparser.Event
}

// handleJoinSucceeded pairs a join confirmation with the identities from
// the pre-auth connect line sharing its chain id.
func (s *Synthesizer) handleJoinSucceeded(e logparser.PlayerJoinSucceeded) {
	ids, ok := s.joins[e.ChainID]
	if !ok {
		s.log.Debug().Str("chain_id", e.ChainID).Msg("join succeeded without a matching connect line")
		return
	}
	delete(s.joins, e.ChainID)
	if squad.FindPlayer(s.connected, ids) != -1 {
		return
	}
	if s.connectFromRoster(ids, e.Time) {
		return
	}
	s.awaiting = append(s.awaiting, awaitingConnect{ids: ids, at: e.Time})
}

func (s *Synthesizer) handleDisconnected(e logparser.PlayerDisconnected) {
	ids := squad.OnlineIDs{squad.PlatformEOS: e.EOSID}
	i := squad.FindPlayer(s.connected, ids)
	if i == -1 {
		s.log.Debug().Str("eos_id", e.EOSID).Msg("disconnect for a player never seen connected")
		return
	}
	player := s.connected[i]
	s.connected = append(s.connected[:i], s.connected[i+1:]...)
	s.emit(squad.PlayerDisconnected{Meta: s.meta(e.Time), PlayerIDs: player.IDs.Clone()})
}

func (s *Synthesizer) holdCombat(event logparser.Event) {
	s.combat = append(s.combat, pendingCombat{event: event})
	s.resolveCombat(s.snapshot)
}

// resolveAwaiting emits connects for identities the fresh roster now
// confirms; the rest keep waiting for the next poll.
func (s *Synthesizer) resolveAwaiting(next Snapshot) {
	kept := s.awaiting[:0]
	for _, waiting := range s.awaiting {
		if i := squad.FindPlayer(next.Players, waiting.ids); i != -1 {
			player := next.Players[i].Clone()
			s.connected = append(s.connected, player.Clone())
			s.emit(squad.PlayerConnected{Meta: s.meta(waiting.at), Player: player})
			continue
		}
		kept = append(kept, waiting)
	}
	s.awaiting = kept
}

// connectFromRoster emits a connect immediately when the cached roster
// already lists the identity.
func (s *Synthesizer) connectFromRoster(ids squad.OnlineIDs, at time.Time) bool {
	i := squad.FindPlayer(s.snapshot.Players, ids)
	if i == -1 {
		return false
	}
	player := s.snapshot.Players[i].Clone()
	s.connected = append(s.connected, player.Clone())
	s.emit(squad.PlayerConnected{Meta: s.meta(at), Player: player})
	return true
}

// resolveCombat emits held kill/wound events whose victim and attacker
// both resolve against the given roster.
func (s *Synthesizer) resolveCombat(roster Snapshot) {
	kept := s.combat[:0]
	for _, pending := range s.combat {
		event, ok := s.resolveCombatEvent(roster, pending.event)
		if !ok {
			kept = append(kept, pending)
			continue
		}
		s.emit(event)
	}
	s.combat = kept
}

func (s *Synthesizer) resolveCombatEvent(roster Snapshot, event logparser.Event) (squad.Event, bool) {
	switch e := event.(type) {
	case logparser.PlayerDied:
		victim, attacker, ok := resolveParticipants(roster, e.VictimName, e.AttackerIDs)
		if !ok {
			return nil, false
		}
		return squad.PlayerDied{
			Meta:        s.meta(e.Time),
			VictimName:  e.VictimName,
			VictimIDs:   victim.IDs.Clone(),
			AttackerIDs: attacker.IDs.Clone(),
			Damage:      e.Damage,
			Weapon:      e.Weapon,
		}, true
	case logparser.PlayerWounded:
		victim, attacker, ok := resolveParticipants(roster, e.VictimName, e.AttackerIDs)
		if !ok {
			return nil, false
		}
		return squad.PlayerWounded{
			Meta:        s.meta(e.Time),
			VictimName:  e.VictimName,
			VictimIDs:   victim.IDs.Clone(),
			AttackerIDs: attacker.IDs.Clone(),
			Damage:      e.Damage,
			Weapon:      e.Weapon,
		}, true
	}
	return nil, false
}

func resolveParticipants(roster Snapshot, victimName string, attackerIDs squad.OnlineIDs) (victim, attacker squad.Player, ok bool) {
	vi := -1
	for i, p := range roster.Players {
		if p.Name == victimName {
			vi = i
			break
		}
	}
	if vi == -1 {
		return squad.Player{}, squad.Player{}, false
	}
	ai := squad.FindPlayer(roster.Players, attackerIDs)
	if ai == -1 {
		return squad.Player{}, squad.Player{}, false
	}
	return roster.Players[vi], roster.Players[ai], true
}
