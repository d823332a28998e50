package reconcile

import "github.com/louisbranch/squadops/internal/squad"

// State is the authoritative current projection: the connected players
// and the live squads. It is mutated only inside the engine's serialized
// insertion path; everything handed out is a deep copy.
type State struct {
	Players []squad.Player
	Squads  []squad.Squad
}

// Clone returns an independent deep copy of the state.
func (s State) Clone() State {
	clone := State{
		Players: make([]squad.Player, len(s.Players)),
		Squads:  make([]squad.Squad, len(s.Squads)),
	}
	for i, p := range s.Players {
		clone.Players[i] = p.Clone()
	}
	for i, sq := range s.Squads {
		clone.Squads[i] = sq.Clone()
	}
	return clone
}
