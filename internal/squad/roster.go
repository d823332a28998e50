package squad

// TeamNone and SquadNone mark the "N/A" roster columns: a player not yet
// assigned to a team, or not in any squad.
const (
	TeamNone  = 0
	SquadNone = 0
)

// Player is one row of the server roster.
type Player struct {
	IDs      OnlineIDs
	PlayerID int
	Name     string
	TeamID   int
	SquadID  int
	IsLeader bool
	Role     string
}

// InSquad reports whether the player currently belongs to a squad.
func (p Player) InSquad() bool {
	return p.SquadID != SquadNone && p.TeamID != TeamNone
}

// SameSquad reports whether both players occupy the same (team, squad) slot.
func (p Player) SameSquad(other Player) bool {
	return p.TeamID == other.TeamID && p.SquadID == other.SquadID
}

// Clone returns an independent copy of the player, including its identity set.
func (p Player) Clone() Player {
	p.IDs = p.IDs.Clone()
	return p
}

// Details holds the roster columns whose changes are reported as a
// details-changed event rather than as lifecycle events.
type Details struct {
	Name string
	Role string
}

// Details extracts the detail columns of the player.
func (p Player) Details() Details {
	return Details{Name: p.Name, Role: p.Role}
}

// Squad is one row of the squad listing. Squad ids are only unique
// within a team, so (TeamID, SquadID) is the identity key.
type Squad struct {
	SquadID     int
	TeamID      int
	TeamName    string
	Name        string
	Size        int
	Locked      bool
	CreatorName string
	CreatorIDs  OnlineIDs
}

// Key identifies a squad within a match.
type Key struct {
	TeamID  int
	SquadID int
}

// Key returns the squad's identity key.
func (s Squad) Key() Key {
	return Key{TeamID: s.TeamID, SquadID: s.SquadID}
}

// Clone returns an independent copy of the squad.
func (s Squad) Clone() Squad {
	s.CreatorIDs = s.CreatorIDs.Clone()
	return s
}

// FindPlayer returns the first player matching ids, or -1.
func FindPlayer(players []Player, ids OnlineIDs) int {
	for i, p := range players {
		if p.IDs.Match(ids) {
			return i
		}
	}
	return -1
}

// FindSquad returns the first squad with the given key, or -1.
func FindSquad(squads []Squad, key Key) int {
	for i, s := range squads {
		if s.Key() == key {
			return i
		}
	}
	return -1
}

// SquadKeys collects the distinct (team, squad) slots occupied by players.
func SquadKeys(players []Player) []Key {
	var keys []Key
	seen := map[Key]struct{}{}
	for _, p := range players {
		if !p.InSquad() {
			continue
		}
		key := Key{TeamID: p.TeamID, SquadID: p.SquadID}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}
