package synth

import (
	"time"

	"github.com/louisbranch/squadops/internal/squad"
)

// diff compares two consecutive snapshots pairwise by player identity
// and emits the membership and detail changes between them. Connects
// and disconnects are deliberately absent here: those come from the log
// stream, so that identity churn is never double-sourced from two
// unsynchronized feeds.
func (s *Synthesizer) diff(prev, next Snapshot) {
	now := s.now()
	for _, player := range next.Players {
		i := squad.FindPlayer(prev.Players, player.IDs)
		if i == -1 {
			continue
		}
		before := prev.Players[i]

		if !player.SameSquad(before) && before.InSquad() {
			s.emit(squad.PlayerLeftSquad{
				Meta:      s.meta(now),
				PlayerIDs: player.IDs.Clone(),
				TeamID:    before.TeamID,
				SquadID:   before.SquadID,
			})
		}
		if player.TeamID != before.TeamID {
			s.emit(squad.PlayerChangedTeam{
				Meta:      s.meta(now),
				PlayerIDs: player.IDs.Clone(),
				NewTeamID: player.TeamID,
			})
		}
		if !player.SameSquad(before) && player.InSquad() {
			s.reportSquadEntry(prev, next, player, now)
		}
		if player.SameSquad(before) && player.IsLeader && !before.IsLeader {
			s.emit(squad.PlayerPromotedToLeader{
				Meta:         s.meta(now),
				NewLeaderIDs: player.IDs.Clone(),
				TeamID:       player.TeamID,
				SquadID:      player.SquadID,
			})
		}
		if player.Details() != before.Details() {
			s.emit(squad.PlayerDetailsChanged{
				Meta:      s.meta(now),
				PlayerIDs: player.IDs.Clone(),
				Details:   player.Details(),
			})
		}
	}

	for _, before := range prev.Squads {
		if squad.FindSquad(next.Squads, before.Key()) != -1 {
			continue
		}
		s.dropCreated(before.Key())
		s.emit(squad.SquadDisbanded{
			Meta:    s.meta(now),
			TeamID:  before.TeamID,
			SquadID: before.SquadID,
		})
	}

	for _, sq := range next.Squads {
		i := squad.FindSquad(prev.Squads, sq.Key())
		if i != -1 && prev.Squads[i].Locked == sq.Locked {
			continue
		}
		// The creation event already carried this locked state.
		if created, ok := s.createdSquad(sq.Key()); ok && i != -1 && created.Locked == sq.Locked {
			continue
		}
		s.emit(squad.SquadDetailsChanged{
			Meta:    s.meta(now),
			TeamID:  sq.TeamID,
			SquadID: sq.SquadID,
			Locked:  sq.Locked,
		})
	}
}

// fallbackConnects reports roster players whose connect was never seen
// on the log stream, so a missed or rotated log never wedges the
// connected set.
func (s *Synthesizer) fallbackConnects(next Snapshot) {
	now := s.now()
	for _, player := range next.Players {
		if squad.FindPlayer(s.connected, player.IDs) != -1 {
			continue
		}
		s.connected = append(s.connected, player.Clone())
		s.emit(squad.PlayerConnected{Meta: s.meta(now), Player: player.Clone()})
	}
}

// reportSquadEntry decides what a player moving into a squad means.
// When the squad is new in this snapshot its first member created it,
// so the move surfaces as a squad-created event, once, and the
// membership is implied. Moves into an already known squad are plain
// joins.
func (s *Synthesizer) reportSquadEntry(prev, next Snapshot, player squad.Player, now time.Time) {
	key := squad.Key{TeamID: player.TeamID, SquadID: player.SquadID}
	if i := squad.FindSquad(next.Squads, key); i != -1 && squad.FindSquad(prev.Squads, key) == -1 {
		if _, ok := s.createdSquad(key); ok {
			return
		}
		created := next.Squads[i].Clone()
		s.created = append(s.created, created)
		s.emit(squad.SquadCreated{Meta: s.meta(now), Squad: created})
		return
	}
	s.emit(squad.PlayerJoinedSquad{
		Meta:      s.meta(now),
		PlayerIDs: player.IDs.Clone(),
		TeamID:    player.TeamID,
		SquadID:   player.SquadID,
	})
}

func (s *Synthesizer) dropCreated(key squad.Key) {
	for i, sq := range s.created {
		if sq.Key() == key {
			s.created = append(s.created[:i], s.created[i+1:]...)
			return
		}
	}
}
