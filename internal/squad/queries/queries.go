// Package queries is the typed command surface over the remote console:
// it issues the server's fixed text commands and parses their
// pipe-delimited responses into domain records.
package queries

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/louisbranch/squadops/internal/rcon"
	"github.com/louisbranch/squadops/internal/squad"
	"github.com/rs/zerolog"
)

// Executor issues one remote-console command and returns its
// reassembled response body.
type Executor interface {
	Execute(ctx context.Context, body string) (string, error)
}

// Client wraps an Executor with the server's command vocabulary.
type Client struct {
	exec Executor
	log  zerolog.Logger
}

// NewClient builds a command client on top of an executor.
func NewClient(exec Executor, log zerolog.Logger) *Client {
	return &Client{exec: exec, log: log.With().Str("module", "squad-rcon").Logger()}
}

// Layer describes a map rotation entry as the server reports it.
type Layer struct {
	Level    string
	Layer    string
	Factions string
}

// ServerInfo is the ShowServerInfo JSON payload. Numeric fields suffixed
// _I arrive as quoted strings.
type ServerInfo struct {
	Name             string `json:"ServerName_s"`
	MaxPlayers       int    `json:"MaxPlayers"`
	PlayerCount      int    `json:"PlayerCount_I,string"`
	PublicQueue      int    `json:"PublicQueue_I,string"`
	PublicQueueLimit int    `json:"PublicQueueLimit_I,string"`
	ReserveCount     int    `json:"PlayerReserveCount_I,string"`
	MapName          string `json:"MapName_s"`
	GameMode         string `json:"GameMode_s"`
	GameVersion      string `json:"GameVersion_s"`
	Licensed         bool   `json:"LICENSEDSERVER_b"`
	Region           string `json:"Region_s"`
	NextLayer        string `json:"NextLayer_s"`
	TeamOne          string `json:"TeamOne_s"`
	TeamTwo          string `json:"TeamTwo_s"`
}

// Response line formats are a fixed contract with the game server.
var (
	currentMapPattern = regexp.MustCompile(`^Current level is (.*), layer is (.*), factions (.*)`)
	nextMapPattern    = regexp.MustCompile(`^Next level is (.*), layer is (.*), factions (.*)`)
	playerPattern     = regexp.MustCompile(`^ID: (?P<playerID>\d+) \| Online IDs:([^|]+)\| Name: (?P<name>.+) \| Team ID: (?P<teamID>\d|N/A) \| Squad ID: (?P<squadID>\d+|N/A) \| Is Leader: (?P<isLeader>True|False) \| Role: (?P<role>.+)$`)
	squadPattern      = regexp.MustCompile(`ID: (?P<squadID>\d+) \| Name: (?P<squadName>.+) \| Size: (?P<size>\d+) \| Locked: (?P<locked>True|False) \| Creator Name: (?P<creatorName>.+) \| Creator Online IDs:([^|]+)`)
	teamSidePattern   = regexp.MustCompile(`Team ID: (\d) \((.+)\)`)
	queuePattern      = regexp.MustCompile(`\[Players in Queue: (\d+)\]`)
)

// CurrentMap reports the level and layer currently being played.
func (c *Client) CurrentMap(ctx context.Context) (Layer, error) {
	response, err := c.exec.Execute(ctx, "ShowCurrentMap")
	if err != nil {
		return Layer{}, err
	}
	layer, ok := parseLayerLine(currentMapPattern, response)
	if !ok {
		return Layer{}, fmt.Errorf("unexpected ShowCurrentMap response %q", response)
	}
	return layer, nil
}

// NextMap reports the next rotation entry, or ok=false when the server
// has not announced one.
func (c *Client) NextMap(ctx context.Context) (Layer, bool, error) {
	response, err := c.exec.Execute(ctx, "ShowNextMap")
	if err != nil {
		return Layer{}, false, err
	}
	layer, ok := parseLayerLine(nextMapPattern, response)
	return layer, ok, nil
}

func parseLayerLine(pattern *regexp.Regexp, response string) (Layer, bool) {
	m := pattern.FindStringSubmatch(response)
	if m == nil {
		return Layer{}, false
	}
	return Layer{Level: m[1], Layer: m[2], Factions: m[3]}, true
}

// ListPlayers fetches and parses the current roster.
func (c *Client) ListPlayers(ctx context.Context) ([]squad.Player, error) {
	response, err := c.exec.Execute(ctx, "ListPlayers")
	if err != nil {
		return nil, err
	}
	return ParsePlayers(response), nil
}

// ParsePlayers parses a ListPlayers response. Lines not matching the
// roster schema (headers, queue counters) are skipped.
func ParsePlayers(response string) []squad.Player {
	var players []squad.Player
	for _, line := range strings.Split(response, "\n") {
		m := playerPattern.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		playerID, _ := strconv.Atoi(m[1])
		player := squad.Player{
			PlayerID: playerID,
			IDs:      squad.ParseOnlineIDs(m[2]),
			Name:     m[3],
			IsLeader: m[6] == "True",
			Role:     m[7],
		}
		if m[4] != "N/A" {
			player.TeamID, _ = strconv.Atoi(m[4])
		}
		if m[5] != "N/A" {
			player.SquadID, _ = strconv.Atoi(m[5])
		}
		players = append(players, player)
	}
	return players
}

// ListSquads fetches and parses the current squad listing.
func (c *Client) ListSquads(ctx context.Context) ([]squad.Squad, error) {
	response, err := c.exec.Execute(ctx, "ListSquads")
	if err != nil {
		return nil, err
	}
	return ParseSquads(response), nil
}

// ParseSquads parses a ListSquads response. Team header lines set the
// side attributed to the squad lines that follow them.
func ParseSquads(response string) []squad.Squad {
	var squads []squad.Squad
	var teamID int
	var teamName string
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimRight(line, "\r")
		if side := teamSidePattern.FindStringSubmatch(line); side != nil {
			teamID, _ = strconv.Atoi(side[1])
			teamName = side[2]
		}
		m := squadPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		squadID, _ := strconv.Atoi(m[1])
		size, _ := strconv.Atoi(m[3])
		squads = append(squads, squad.Squad{
			SquadID:     squadID,
			Name:        m[2],
			Size:        size,
			Locked:      m[4] == "True",
			CreatorName: m[5],
			CreatorIDs:  squad.ParseOnlineIDs(m[6]),
			TeamID:      teamID,
			TeamName:    teamName,
		})
	}
	return squads
}

// QueueLength reports how many players are waiting to join.
func (c *Client) QueueLength(ctx context.Context) (int, error) {
	response, err := c.exec.Execute(ctx, "ListPlayers")
	if err != nil {
		return 0, err
	}
	m := queuePattern.FindStringSubmatch(response)
	if m == nil {
		return 0, nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("parse queue length %q: %w", m[1], err)
	}
	return n, nil
}

// Info fetches and decodes the ShowServerInfo JSON document.
func (c *Client) Info(ctx context.Context) (ServerInfo, error) {
	response, err := c.exec.Execute(ctx, "ShowServerInfo")
	if err != nil {
		return ServerInfo{}, err
	}
	var info ServerInfo
	if err := json.Unmarshal([]byte(response), &info); err != nil {
		return ServerInfo{}, fmt.Errorf("parse server info: %w", err)
	}
	return info, nil
}

// SetNextLayer queues the next layer to play.
func (c *Client) SetNextLayer(ctx context.Context, layer string) error {
	_, err := c.exec.Execute(ctx, "AdminSetNextLayer "+layer)
	return err
}

// SetFogOfWar switches fog-of-war mode.
func (c *Client) SetFogOfWar(ctx context.Context, mode string) error {
	_, err := c.exec.Execute(ctx, "AdminSetFogOfWar "+mode)
	return err
}

// Broadcast shows a message to every connected player. Messages longer
// than one command body are split into multiple broadcasts on rune
// boundaries, preferring spaces.
func (c *Client) Broadcast(ctx context.Context, message string) error {
	const prefix = "AdminBroadcast "
	for _, chunk := range chunkMessage(message, rcon.MaxBodyLen-len(prefix)) {
		c.log.Info().Str("message", chunk).Msg("broadcasting")
		if _, err := c.exec.Execute(ctx, prefix+chunk); err != nil {
			return err
		}
	}
	return nil
}

// chunkMessage splits message into pieces of at most limit bytes
// without cutting a UTF-8 rune, splitting at the last space when one is
// available in the window.
func chunkMessage(message string, limit int) []string {
	if len(message) <= limit {
		return []string{message}
	}
	var chunks []string
	for len(message) > limit {
		cut := limit
		if idx := strings.LastIndexByte(message[:limit], ' '); idx > 0 {
			cut = idx
		} else {
			for cut > 0 && !isRuneStart(message[cut]) {
				cut--
			}
			if cut == 0 {
				cut = limit
			}
		}
		chunks = append(chunks, strings.TrimSpace(message[:cut]))
		message = strings.TrimSpace(message[cut:])
	}
	if message != "" {
		chunks = append(chunks, message)
	}
	return chunks
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// Warn shows an admin warning to the identified player.
func (c *Client) Warn(ctx context.Context, anyID, message string) error {
	_, err := c.exec.Execute(ctx, fmt.Sprintf("AdminWarn %q %s", anyID, message))
	return err
}

// Kick removes the identified player from the server.
func (c *Client) Kick(ctx context.Context, anyID, reason string) error {
	_, err := c.exec.Execute(ctx, fmt.Sprintf("AdminKick %q %s", anyID, reason))
	return err
}

// Ban bans the identified player. Interval uses the server's notation:
// 0 is permanent, 1m one minute, 1d one day, 1M one month.
func (c *Client) Ban(ctx context.Context, anyID, interval, reason string) error {
	_, err := c.exec.Execute(ctx, fmt.Sprintf("AdminBan %q %s %s", anyID, interval, reason))
	return err
}

// ForceTeamChange switches the identified player to the other team.
func (c *Client) ForceTeamChange(ctx context.Context, anyID string) error {
	_, err := c.exec.Execute(ctx, fmt.Sprintf("AdminForceTeamChange %q", anyID))
	return err
}

// RemoveFromSquad forces the player out of their squad.
func (c *Client) RemoveFromSquad(ctx context.Context, playerID int) error {
	_, err := c.exec.Execute(ctx, fmt.Sprintf("AdminForceRemoveFromSquad %d", playerID))
	return err
}

// EndMatch ends the current match.
func (c *Client) EndMatch(ctx context.Context) error {
	_, err := c.exec.Execute(ctx, "AdminEndMatch")
	return err
}
