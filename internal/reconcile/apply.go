package reconcile

import (
	"fmt"

	"github.com/louisbranch/squadops/internal/squad"
)

// Enriched is a domain event annotated with the entities it resolved
// against the projection at application time, or marked Noop when it
// could not be resolved. Noops still occupy a buffer slot so ordering
// stays consistent.
type Enriched struct {
	squad.Event

	// Player and Squad are the resolved subject entities, when the
	// variant has one. Combat events resolve both sides separately.
	Player   *squad.Player
	Squad    *squad.Squad
	Victim   *squad.Player
	Attacker *squad.Player

	// NoopReason is non-empty when the event did not apply.
	NoopReason string
}

// Noop reports whether the event was resolved but inapplicable.
func (e Enriched) Noop() bool { return e.NoopReason != "" }

func noop(event squad.Event, format string, args ...any) Enriched {
	return Enriched{Event: event, NoopReason: fmt.Sprintf(format, args...)}
}

// apply folds one event into the state and returns its enrichment. The
// rules here are deterministic and free of I/O: replays after a rollback
// run the exact same function, which is what makes rollback correct.
// Entities are treated as immutable values — an update replaces the
// slice element with a new value so previously handed-out enrichments
// never observe later mutations.
func apply(state *State, event squad.Event) Enriched {
	switch e := event.(type) {
	case squad.NewGame:
		// Squads do not survive a match; players do.
		state.Squads = state.Squads[:0]
		return Enriched{Event: e}

	case squad.RoundEnded:
		return Enriched{Event: e}

	case squad.PlayerConnected:
		if squad.FindPlayer(state.Players, e.Player.IDs) != -1 {
			return noop(e, "player %s already connected", e.Player.IDs)
		}
		player := e.Player.Clone()
		state.Players = append(state.Players, player)
		return Enriched{Event: e, Player: &player}

	case squad.PlayerDisconnected:
		i := squad.FindPlayer(state.Players, e.PlayerIDs)
		if i == -1 {
			return noop(e, "player %s not connected", e.PlayerIDs)
		}
		removed := state.Players[i]
		state.Players = append(state.Players[:i], state.Players[i+1:]...)
		return Enriched{Event: e, Player: &removed}

	case squad.PlayerJoinedSquad:
		si := squad.FindSquad(state.Squads, squad.Key{TeamID: e.TeamID, SquadID: e.SquadID})
		if si == -1 {
			return noop(e, "squad %d/%d does not exist", e.TeamID, e.SquadID)
		}
		pi := squad.FindPlayer(state.Players, e.PlayerIDs)
		if pi == -1 {
			return noop(e, "player %s not connected", e.PlayerIDs)
		}
		player := state.Players[pi].Clone()
		player.TeamID = e.TeamID
		player.SquadID = e.SquadID
		player.IsLeader = false
		state.Players[pi] = player
		joined := state.Squads[si]
		return Enriched{Event: e, Player: &player, Squad: &joined}

	case squad.PlayerLeftSquad:
		pi := squad.FindPlayer(state.Players, e.PlayerIDs)
		if pi == -1 {
			return noop(e, "player %s not connected", e.PlayerIDs)
		}
		player := state.Players[pi].Clone()
		player.SquadID = squad.SquadNone
		player.IsLeader = false
		state.Players[pi] = player
		return Enriched{Event: e, Player: &player}

	case squad.PlayerChangedTeam:
		pi := squad.FindPlayer(state.Players, e.PlayerIDs)
		if pi == -1 {
			return noop(e, "player %s not connected", e.PlayerIDs)
		}
		player := state.Players[pi].Clone()
		player.TeamID = e.NewTeamID
		player.SquadID = squad.SquadNone
		player.IsLeader = false
		state.Players[pi] = player
		return Enriched{Event: e, Player: &player}

	case squad.PlayerPromotedToLeader:
		pi := squad.FindPlayer(state.Players, e.NewLeaderIDs)
		if pi == -1 {
			return noop(e, "player %s not connected", e.NewLeaderIDs)
		}
		// One leader per squad: demote anyone else holding the slot.
		for i, p := range state.Players {
			if i != pi && p.TeamID == e.TeamID && p.SquadID == e.SquadID && p.IsLeader {
				demoted := p.Clone()
				demoted.IsLeader = false
				state.Players[i] = demoted
			}
		}
		player := state.Players[pi].Clone()
		player.TeamID = e.TeamID
		player.SquadID = e.SquadID
		player.IsLeader = true
		state.Players[pi] = player
		return Enriched{Event: e, Player: &player}

	case squad.PlayerDetailsChanged:
		pi := squad.FindPlayer(state.Players, e.PlayerIDs)
		if pi == -1 {
			return noop(e, "player %s not connected", e.PlayerIDs)
		}
		player := state.Players[pi].Clone()
		player.Name = e.Details.Name
		player.Role = e.Details.Role
		state.Players[pi] = player
		return Enriched{Event: e, Player: &player}

	case squad.SquadCreated:
		if squad.FindSquad(state.Squads, e.Squad.Key()) != -1 {
			return noop(e, "squad %d/%d already exists", e.Squad.TeamID, e.Squad.SquadID)
		}
		created := e.Squad.Clone()
		state.Squads = append(state.Squads, created)
		enriched := Enriched{Event: e, Squad: &created}
		if pi := squad.FindPlayer(state.Players, e.Squad.CreatorIDs); pi != -1 {
			creator := state.Players[pi]
			enriched.Player = &creator
		}
		return enriched

	case squad.SquadDisbanded:
		si := squad.FindSquad(state.Squads, squad.Key{TeamID: e.TeamID, SquadID: e.SquadID})
		if si == -1 {
			return noop(e, "squad %d/%d does not exist", e.TeamID, e.SquadID)
		}
		disbanded := state.Squads[si]
		state.Squads = append(state.Squads[:si], state.Squads[si+1:]...)
		return Enriched{Event: e, Squad: &disbanded}

	case squad.SquadDetailsChanged:
		si := squad.FindSquad(state.Squads, squad.Key{TeamID: e.TeamID, SquadID: e.SquadID})
		if si == -1 {
			return noop(e, "squad %d/%d does not exist", e.TeamID, e.SquadID)
		}
		updated := state.Squads[si].Clone()
		updated.Locked = e.Locked
		state.Squads[si] = updated
		return Enriched{Event: e, Squad: &updated}

	case squad.ChatMessage:
		return annotatePlayer(state, e, e.PlayerIDs)
	case squad.AdminBroadcast:
		return Enriched{Event: e}
	case squad.PlayerWarned:
		return annotatePlayer(state, e, e.PlayerIDs)
	case squad.PlayerKicked:
		return annotatePlayer(state, e, e.PlayerIDs)
	case squad.PlayerBanned:
		return annotatePlayer(state, e, e.PlayerIDs)
	case squad.AdminCameraPossessed:
		return annotatePlayer(state, e, e.PlayerIDs)
	case squad.AdminCameraUnpossessed:
		return annotatePlayer(state, e, e.PlayerIDs)

	case squad.PlayerDied:
		return annotateCombat(state, e, e.VictimIDs, e.AttackerIDs)
	case squad.PlayerWounded:
		return annotateCombat(state, e, e.VictimIDs, e.AttackerIDs)
	}
	return noop(event, "unhandled event kind %s", event.Kind())
}

// annotatePlayer resolves the event's subject for annotation-only
// variants. The projection is left untouched either way.
func annotatePlayer(state *State, event squad.Event, ids squad.OnlineIDs) Enriched {
	pi := squad.FindPlayer(state.Players, ids)
	if pi == -1 {
		return noop(event, "player %s not connected", ids)
	}
	player := state.Players[pi]
	return Enriched{Event: event, Player: &player}
}

// annotateCombat resolves both participants independently; either side
// missing makes the event a Noop naming the unresolved side.
func annotateCombat(state *State, event squad.Event, victimIDs, attackerIDs squad.OnlineIDs) Enriched {
	vi := squad.FindPlayer(state.Players, victimIDs)
	if vi == -1 {
		return noop(event, "victim %s not connected", victimIDs)
	}
	ai := squad.FindPlayer(state.Players, attackerIDs)
	if ai == -1 {
		return noop(event, "attacker %s not connected", attackerIDs)
	}
	victim := state.Players[vi]
	attacker := state.Players[ai]
	return Enriched{Event: event, Victim: &victim, Attacker: &attacker}
}
