package squad

import (
	"sync/atomic"
	"time"
)

// Meta carries the fields shared by every domain event. IDs are
// monotonic per server instance and MatchID ties the event to the match
// that was in progress when it occurred.
type Meta struct {
	ID      int64
	Time    time.Time
	MatchID int64
}

// EventMeta returns the shared event fields.
func (m Meta) EventMeta() Meta { return m }

// Event is the closed union of domain events produced by the
// synthesizer. The unexported marker keeps the union sealed so that
// switches over it can be checked for exhaustiveness.
type Event interface {
	EventMeta() Meta
	Kind() string
	sealed()
}

// TeamOutcome describes one side's result when a round is decided.
type TeamOutcome struct {
	TeamID  int
	Faction string
	Unit    string
	Tickets int
	Won     bool
}

// NewGame marks a new match starting on the given map and layer.
type NewGame struct {
	Meta
	MapClassname   string
	LayerClassname string
}

// RoundEnded marks the end of a round; Winner and Loser are nil when no
// decisive outcome was observed before the match state changed.
type RoundEnded struct {
	Meta
	Winner *TeamOutcome
	Loser  *TeamOutcome
}

// PlayerConnected reports a fully roster-confirmed connection.
type PlayerConnected struct {
	Meta
	Player Player
}

// PlayerDisconnected reports a connection closing for a known player.
type PlayerDisconnected struct {
	Meta
	PlayerIDs OnlineIDs
}

// PlayerJoinedSquad reports a player entering an existing squad.
type PlayerJoinedSquad struct {
	Meta
	PlayerIDs OnlineIDs
	TeamID    int
	SquadID   int
}

// PlayerLeftSquad reports a player leaving the squad they were in.
type PlayerLeftSquad struct {
	Meta
	PlayerIDs OnlineIDs
	TeamID    int
	SquadID   int
}

// PlayerChangedTeam reports a team switch.
type PlayerChangedTeam struct {
	Meta
	PlayerIDs OnlineIDs
	NewTeamID int
}

// PlayerPromotedToLeader reports a squad leadership change.
type PlayerPromotedToLeader struct {
	Meta
	NewLeaderIDs OnlineIDs
	TeamID       int
	SquadID      int
}

// PlayerDetailsChanged reports a change in the cosmetic roster columns.
type PlayerDetailsChanged struct {
	Meta
	PlayerIDs OnlineIDs
	Details   Details
}

// SquadCreated reports a new squad, including its creator's identity.
type SquadCreated struct {
	Meta
	Squad Squad
}

// SquadDisbanded reports a squad vanishing from the listing.
type SquadDisbanded struct {
	Meta
	TeamID  int
	SquadID int
}

// SquadDetailsChanged reports a change to a squad's mutable details,
// currently the locked flag. It is also emitted once when a squad
// first appears in a snapshot, carrying the initial state.
type SquadDetailsChanged struct {
	Meta
	TeamID  int
	SquadID int
	Locked  bool
}

// ChatMessage is one line of in-game chat.
type ChatMessage struct {
	Meta
	Channel   string
	PlayerIDs OnlineIDs
	Name      string
	Message   string
}

// AdminBroadcast reports a server-wide admin broadcast.
type AdminBroadcast struct {
	Meta
	Message string
	From    string
}

// PlayerWarned reports an admin warning delivered to a player. The
// server only announces the player's name, so PlayerIDs may be empty
// when the name could not be resolved against the roster.
type PlayerWarned struct {
	Meta
	Name      string
	PlayerIDs OnlineIDs
	Reason    string
}

// PlayerKicked reports an admin kick.
type PlayerKicked struct {
	Meta
	PlayerID  string
	PlayerIDs OnlineIDs
	Name      string
}

// PlayerBanned reports an admin ban and its interval.
type PlayerBanned struct {
	Meta
	PlayerID  string
	PlayerIDs OnlineIDs
	Name      string
	Interval  string
}

// AdminCameraPossessed reports an admin entering the admin camera.
type AdminCameraPossessed struct {
	Meta
	PlayerIDs OnlineIDs
	Name      string
}

// AdminCameraUnpossessed reports an admin leaving the admin camera.
type AdminCameraUnpossessed struct {
	Meta
	PlayerIDs OnlineIDs
	Name      string
}

// PlayerDied reports a kill. Attacker identity may only be resolvable
// once the roster has caught up; the synthesizer holds the event back
// until both sides resolve.
type PlayerDied struct {
	Meta
	VictimName  string
	VictimIDs   OnlineIDs
	AttackerIDs OnlineIDs
	Damage      float64
	Weapon      string
}

// PlayerWounded reports an incapacitation, with the same identity
// semantics as PlayerDied.
type PlayerWounded struct {
	Meta
	VictimName  string
	VictimIDs   OnlineIDs
	AttackerIDs OnlineIDs
	Damage      float64
	Weapon      string
}

// Kind names for codec envelopes and logs.
const (
	KindNewGame                = "NEW_GAME"
	KindRoundEnded             = "ROUND_ENDED"
	KindPlayerConnected        = "PLAYER_CONNECTED"
	KindPlayerDisconnected     = "PLAYER_DISCONNECTED"
	KindPlayerJoinedSquad      = "PLAYER_JOINED_SQUAD"
	KindPlayerLeftSquad        = "PLAYER_LEFT_SQUAD"
	KindPlayerChangedTeam      = "PLAYER_CHANGED_TEAM"
	KindPlayerPromotedToLeader = "PLAYER_PROMOTED_TO_LEADER"
	KindPlayerDetailsChanged   = "PLAYER_DETAILS_CHANGED"
	KindSquadCreated           = "SQUAD_CREATED"
	KindSquadDisbanded         = "SQUAD_DISBANDED"
	KindSquadDetailsChanged    = "SQUAD_DETAILS_CHANGED"
	KindChatMessage            = "CHAT_MESSAGE"
	KindAdminBroadcast         = "ADMIN_BROADCAST"
	KindPlayerWarned           = "PLAYER_WARNED"
	KindPlayerKicked           = "PLAYER_KICKED"
	KindPlayerBanned           = "PLAYER_BANNED"
	KindCameraPossessed        = "POSSESSED_ADMIN_CAMERA"
	KindCameraUnpossessed      = "UNPOSSESSED_ADMIN_CAMERA"
	KindPlayerDied             = "PLAYER_DIED"
	KindPlayerWounded          = "PLAYER_WOUNDED"
)

func (NewGame) Kind() string                { return KindNewGame }
func (RoundEnded) Kind() string             { return KindRoundEnded }
func (PlayerConnected) Kind() string        { return KindPlayerConnected }
func (PlayerDisconnected) Kind() string     { return KindPlayerDisconnected }
func (PlayerJoinedSquad) Kind() string      { return KindPlayerJoinedSquad }
func (PlayerLeftSquad) Kind() string        { return KindPlayerLeftSquad }
func (PlayerChangedTeam) Kind() string      { return KindPlayerChangedTeam }
func (PlayerPromotedToLeader) Kind() string { return KindPlayerPromotedToLeader }
func (PlayerDetailsChanged) Kind() string   { return KindPlayerDetailsChanged }
func (SquadCreated) Kind() string           { return KindSquadCreated }
func (SquadDisbanded) Kind() string         { return KindSquadDisbanded }
func (SquadDetailsChanged) Kind() string    { return KindSquadDetailsChanged }
func (ChatMessage) Kind() string            { return KindChatMessage }
func (AdminBroadcast) Kind() string         { return KindAdminBroadcast }
func (PlayerWarned) Kind() string           { return KindPlayerWarned }
func (PlayerKicked) Kind() string           { return KindPlayerKicked }
func (PlayerBanned) Kind() string           { return KindPlayerBanned }
func (AdminCameraPossessed) Kind() string   { return KindCameraPossessed }
func (AdminCameraUnpossessed) Kind() string { return KindCameraUnpossessed }
func (PlayerDied) Kind() string             { return KindPlayerDied }
func (PlayerWounded) Kind() string          { return KindPlayerWounded }

func (NewGame) sealed()                {}
func (RoundEnded) sealed()             {}
func (PlayerConnected) sealed()        {}
func (PlayerDisconnected) sealed()     {}
func (PlayerJoinedSquad) sealed()      {}
func (PlayerLeftSquad) sealed()        {}
func (PlayerChangedTeam) sealed()      {}
func (PlayerPromotedToLeader) sealed() {}
func (PlayerDetailsChanged) sealed()   {}
func (SquadCreated) sealed()           {}
func (SquadDisbanded) sealed()         {}
func (SquadDetailsChanged) sealed()    {}
func (ChatMessage) sealed()            {}
func (AdminBroadcast) sealed()         {}
func (PlayerWarned) sealed()           {}
func (PlayerKicked) sealed()           {}
func (PlayerBanned) sealed()           {}
func (AdminCameraPossessed) sealed()   {}
func (AdminCameraUnpossessed) sealed() {}
func (PlayerDied) sealed()             {}
func (PlayerWounded) sealed()          {}

// Counter allocates monotonic event ids for one server instance.
type Counter struct {
	last atomic.Int64
}

// NewCounter returns a counter whose next id is last+1.
func NewCounter(last int64) *Counter {
	c := &Counter{}
	c.last.Store(last)
	return c
}

// Next returns the next event id.
func (c *Counter) Next() int64 {
	return c.last.Add(1)
}

// Last returns the most recently allocated id.
func (c *Counter) Last() int64 {
	return c.last.Load()
}
