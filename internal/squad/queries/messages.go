package queries

import (
	"regexp"
	"strconv"

	"github.com/louisbranch/squadops/internal/squad"
)

// ServerMessage is the closed union of events announced over
// server-message frames.
type ServerMessage interface {
	serverMessage()
}

// Chat is one chat line with the sender's identity.
type Chat struct {
	Channel string
	IDs     squad.OnlineIDs
	Name    string
	Message string
}

// CameraPossessed reports an admin entering the admin camera.
type CameraPossessed struct {
	IDs  squad.OnlineIDs
	Name string
}

// CameraUnpossessed reports an admin leaving the admin camera.
type CameraUnpossessed struct {
	IDs  squad.OnlineIDs
	Name string
}

// Warned reports a warning shown to a player. The announcement only
// carries the player's name.
type Warned struct {
	Name   string
	Reason string
}

// Kicked reports a player being kicked.
type Kicked struct {
	PlayerID string
	IDs      squad.OnlineIDs
	Name     string
}

// Banned reports a player being banned for an interval.
type Banned struct {
	PlayerID string
	IDs      squad.OnlineIDs
	Name     string
	Interval string
}

// SquadCreatedMessage reports a squad being created, announced before
// the squad listing reflects it.
type SquadCreatedMessage struct {
	PlayerName string
	IDs        squad.OnlineIDs
	SquadID    int
	SquadName  string
	TeamName   string
}

func (Chat) serverMessage()                {}
func (CameraPossessed) serverMessage()     {}
func (CameraUnpossessed) serverMessage()   {}
func (Warned) serverMessage()              {}
func (Kicked) serverMessage()              {}
func (Banned) serverMessage()              {}
func (SquadCreatedMessage) serverMessage() {}

// Server-message formats are a fixed contract with the game server; the
// camera-possessed line really does spell "Ids" differently.
var (
	chatPattern         = regexp.MustCompile(`\[(ChatAll|ChatTeam|ChatSquad|ChatAdmin)] \[Online IDs:([^\]]+)\] (.+?) : (.*)`)
	possessedPattern    = regexp.MustCompile(`\[Online Ids:([^\]]+)\] (.+) has possessed admin camera\.`)
	unpossessedPattern  = regexp.MustCompile(`\[Online IDs:([^\]]+)\] (.+) has unpossessed admin camera\.`)
	warnPattern         = regexp.MustCompile(`Remote admin has warned player (.*)\. Message was "(.*)"`)
	kickPattern         = regexp.MustCompile(`Kicked player ([0-9]+)\. \[Online IDs=([^\]]+)\] (.*)`)
	banPattern          = regexp.MustCompile(`Banned player ([0-9]+)\. \[Online IDs=([^\]]+)\] (.*) for interval (.*)`)
	squadCreatedPattern = regexp.MustCompile(`(?P<playerName>.+) \(Online IDs:([^)]+)\) has created Squad (?P<squadID>\d+) \(Squad Name: (?P<squadName>.+)\) on (?P<teamName>.+)`)
)

// ParseServerMessage matches a server-message body against the known
// announcement formats in priority order. Unrecognized bodies return
// ok=false and are dropped by the caller.
func ParseServerMessage(body string) (ServerMessage, bool) {
	if m := chatPattern.FindStringSubmatch(body); m != nil {
		return Chat{
			Channel: m[1],
			IDs:     squad.ParseOnlineIDs(m[2]),
			Name:    m[3],
			Message: m[4],
		}, true
	}
	if m := possessedPattern.FindStringSubmatch(body); m != nil {
		return CameraPossessed{IDs: squad.ParseOnlineIDs(m[1]), Name: m[2]}, true
	}
	if m := unpossessedPattern.FindStringSubmatch(body); m != nil {
		return CameraUnpossessed{IDs: squad.ParseOnlineIDs(m[1]), Name: m[2]}, true
	}
	if m := warnPattern.FindStringSubmatch(body); m != nil {
		return Warned{Name: m[1], Reason: m[2]}, true
	}
	if m := banPattern.FindStringSubmatch(body); m != nil {
		return Banned{
			PlayerID: m[1],
			IDs:      squad.ParseOnlineIDs(m[2]),
			Name:     m[3],
			Interval: m[4],
		}, true
	}
	if m := kickPattern.FindStringSubmatch(body); m != nil {
		return Kicked{
			PlayerID: m[1],
			IDs:      squad.ParseOnlineIDs(m[2]),
			Name:     m[3],
		}, true
	}
	if m := squadCreatedPattern.FindStringSubmatch(body); m != nil {
		squadID, _ := strconv.Atoi(m[3])
		return SquadCreatedMessage{
			PlayerName: m[1],
			IDs:        squad.ParseOnlineIDs(m[2]),
			SquadID:    squadID,
			SquadName:  m[4],
			TeamName:   m[5],
		}, true
	}
	return nil, false
}
