// Package logparser matches game-server log lines against the fixed
// table of known formats. Line formats are a contract with the game
// server and are matched in priority order; lines matching none of the
// patterns are dropped.
package logparser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/louisbranch/squadops/internal/squad"
)

// Entry carries the fields every log line shares: the raw line, its
// timestamp and the chain id correlating lines of one connection
// attempt.
type Entry struct {
	Raw     string
	Time    time.Time
	ChainID string
}

// Base returns the shared line fields.
func (e Entry) Base() Entry { return e }

// Event is the closed union of recognized log lines.
type Event interface {
	Base() Entry
	logEvent()
}

// NewGame reports a world load for a new match. Transition maps load
// between rounds and are filtered out downstream.
type NewGame struct {
	Entry
	MapClassname   string
	LayerClassname string
}

// RoundTeamOutcome is the winner announcement line that precedes the
// match state change.
type RoundTeamOutcome struct {
	Entry
	Winner string
	Layer  string
}

// RoundDecided reports one team's win/loss with its ticket count. Both
// teams announce separately; the synthesizer consolidates them.
type RoundDecided struct {
	Entry
	Team    int
	Faction string
	Unit    string
	Won     bool
	Tickets int
	Layer   string
	Level   string
}

// RoundEnded is the match state change out of InProgress.
type RoundEnded struct {
	Entry
}

// PlayerConnected is the pre-auth login line. It carries the player's
// platform identities but connection success is only known once the
// same chain id reports a join success.
type PlayerConnected struct {
	Entry
	Controller string
	IP         string
	IDs        squad.OnlineIDs
}

// PlayerJoinSucceeded confirms the connection attempt identified by its
// chain id.
type PlayerJoinSucceeded struct {
	Entry
	Suffix string
}

// PlayerDisconnected is the channel-close line; it only carries the
// player's EOS id.
type PlayerDisconnected struct {
	Entry
	IP         string
	Controller string
	EOSID      string
}

// PlayerDied reports a kill. The victim is named, the attacker is
// identified; roster resolution happens downstream.
type PlayerDied struct {
	Entry
	VictimName   string
	Damage       float64
	AttackerName string
	AttackerIDs  squad.OnlineIDs
	Weapon       string
}

// PlayerWounded reports an incapacitation with the same shape as a kill.
type PlayerWounded struct {
	Entry
	VictimName   string
	Damage       float64
	AttackerName string
	AttackerIDs  squad.OnlineIDs
	Weapon       string
}

func (NewGame) logEvent()             {}
func (RoundTeamOutcome) logEvent()    {}
func (RoundDecided) logEvent()        {}
func (RoundEnded) logEvent()          {}
func (PlayerConnected) logEvent()     {}
func (PlayerJoinSucceeded) logEvent() {}
func (PlayerDisconnected) logEvent()  {}
func (PlayerDied) logEvent()          {}
func (PlayerWounded) logEvent()       {}

var (
	newGamePattern       = regexp.MustCompile(`^\[([0-9.:-]+)]\[([ 0-9]*)]LogWorld: Bringing World /([A-z]+)/(?:Maps/)?([A-z0-9-]+)/(?:.+/)?([A-z0-9-]+)(?:\.[A-z0-9-]+)`)
	teamOutcomePattern   = regexp.MustCompile(`^\[([0-9.:-]+)]\[([ 0-9]*)]LogGame: Winner: (.+) \(Layer: (.+)\)`)
	roundDecidedPattern  = regexp.MustCompile(`^\[([0-9.:-]+)]\[([ 0-9]*)]LogSquadGameEvents: Display: Team ([0-9]), (.*) \( ?(.*?) ?\) has (won|lost) the match with ([0-9]+) Tickets on layer (.*) \(level (.*)\)!`)
	roundEndedPattern    = regexp.MustCompile(`^\[([0-9.:-]+)]\[([ 0-9]*)]LogGameState: Match State Changed from InProgress to WaitingPostMatch`)
	connectedPattern     = regexp.MustCompile(`^\[([0-9.:-]+)]\[([ 0-9]*)]LogSquad: PostLogin: NewPlayer: BP_PlayerController_C .+PersistentLevel\.([^\s]+) \(IP: ([\d.]+) \| Online IDs:([^)|]+)\)`)
	joinSucceededPattern = regexp.MustCompile(`^\[([0-9.:-]+)]\[([ 0-9]*)]LogNet: Join succeeded: (.+)`)
	disconnectedPattern  = regexp.MustCompile(`^\[([0-9.:-]+)]\[([ 0-9]*)]LogNet: UChannel::Close: Sending CloseBunch\. ChIndex == [0-9]+\. Name: \[UChannel\] ChIndex: [0-9]+, Closing: [0-9]+ \[UNetConnection\] RemoteAddr: ([\d.]+):[\d]+, Name: (?:EOSIpNetConnection|SteamNetConnection)_[0-9]+, Driver: GameNetDriver (?:EOSNetDriver|SteamNetDriver)_[0-9]+, IsServer: YES, PC: ([^ ]+PlayerController_C_[0-9]+), Owner: [^ ]+PlayerController_C_[0-9]+, UniqueId: RedpointEOS:([\d\w]+)`)
	diedPattern          = regexp.MustCompile(`^\[([0-9.:-]+)]\[([ 0-9]*)]LogSquadTrace: \[DedicatedServer](?:ASQSoldier::)?Die\(\): Player:(.+) KillingDamage=(?:-)?([0-9.]+) from ([A-z_0-9]+) \(Online IDs:([^)|]+)\| Contoller ID: ([\w\d]+)\) caused by ([A-z_0-9-]+)_C`)
	woundedPattern       = regexp.MustCompile(`^\[([0-9.:-]+)]\[([ 0-9]*)]LogSquadTrace: \[DedicatedServer](?:ASQSoldier::)?Wound\(\): Player:(.+) KillingDamage=(?:-)?([0-9.]+) from ([A-z_0-9]+) \(Online IDs:([^)|]+)\| Player Controller ID: ([\w\d]+)\)caused by ([A-z_0-9-]+)_C`)
)

type matcher struct {
	pattern *regexp.Regexp
	build   func(m []string) Event
}

// The table is ordered by expected frequency; matching stops at the
// first hit.
var matchers = []matcher{
	{diedPattern, func(m []string) Event {
		return PlayerDied{
			Entry:        entry(m),
			VictimName:   strings.TrimSpace(m[3]),
			Damage:       parseFloat(m[4]),
			AttackerName: m[5],
			AttackerIDs:  squad.ParseOnlineIDs(m[6]),
			Weapon:       m[8],
		}
	}},
	{woundedPattern, func(m []string) Event {
		return PlayerWounded{
			Entry:        entry(m),
			VictimName:   strings.TrimSpace(m[3]),
			Damage:       parseFloat(m[4]),
			AttackerName: m[5],
			AttackerIDs:  squad.ParseOnlineIDs(m[6]),
			Weapon:       m[8],
		}
	}},
	{connectedPattern, func(m []string) Event {
		return PlayerConnected{
			Entry:      entry(m),
			Controller: m[3],
			IP:         m[4],
			IDs:        squad.ParseOnlineIDs(m[5]),
		}
	}},
	{joinSucceededPattern, func(m []string) Event {
		return PlayerJoinSucceeded{Entry: entry(m), Suffix: m[3]}
	}},
	{disconnectedPattern, func(m []string) Event {
		return PlayerDisconnected{
			Entry:      entry(m),
			IP:         m[3],
			Controller: m[4],
			EOSID:      m[5],
		}
	}},
	{newGamePattern, func(m []string) Event {
		return NewGame{Entry: entry(m), MapClassname: m[4], LayerClassname: m[5]}
	}},
	{roundDecidedPattern, func(m []string) Event {
		team, _ := strconv.Atoi(m[3])
		tickets, _ := strconv.Atoi(m[7])
		return RoundDecided{
			Entry:   entry(m),
			Team:    team,
			Faction: m[4],
			Unit:    m[5],
			Won:     m[6] == "won",
			Tickets: tickets,
			Layer:   m[8],
			Level:   m[9],
		}
	}},
	{teamOutcomePattern, func(m []string) Event {
		return RoundTeamOutcome{Entry: entry(m), Winner: m[3], Layer: m[4]}
	}},
	{roundEndedPattern, func(m []string) Event {
		return RoundEnded{Entry: entry(m)}
	}},
}

// Parse matches one log line against the known formats. ok is false for
// unrecognized lines.
func Parse(line string) (Event, bool) {
	for _, m := range matchers {
		if groups := m.pattern.FindStringSubmatch(line); groups != nil {
			return m.build(groups), true
		}
	}
	return nil, false
}

func entry(m []string) Entry {
	return Entry{
		Raw:     m[0],
		Time:    parseTimestamp(m[1]),
		ChainID: strings.TrimSpace(m[2]),
	}
}

func parseFloat(raw string) float64 {
	f, _ := strconv.ParseFloat(raw, 64)
	return f
}

// parseTimestamp reads the server's "2006.01.02-15.04.05:ms" stamp,
// which is written in UTC.
func parseTimestamp(raw string) time.Time {
	base := raw
	var millis int
	if idx := strings.LastIndexByte(raw, ':'); idx != -1 {
		base = raw[:idx]
		millis, _ = strconv.Atoi(raw[idx+1:])
	}
	t, err := time.ParseInLocation("2006.01.02-15.04.05", base, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t.Add(time.Duration(millis) * time.Millisecond)
}
