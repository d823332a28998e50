package queries

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type fakeExecutor struct {
	responses map[string]string
	commands  []string
}

func (f *fakeExecutor) Execute(_ context.Context, body string) (string, error) {
	f.commands = append(f.commands, body)
	return f.responses[body], nil
}

func TestParsePlayers(t *testing.T) {
	response := strings.Join([]string{
		"----- Active Players -----",
		"ID: 3 | Online IDs: EOS: 0002a10186d9414496bf20d22d3860ba steam: 76561198016942077 | Name: some guy | Team ID: 1 | Squad ID: 2 | Is Leader: True | Role: USA_Medic_01",
		"ID: 11 | Online IDs: EOS: 0002b42c55bf43f79e2f5e16c2fcb37a steam: 76561198016942078 | Name: unassigned dude | Team ID: 2 | Squad ID: N/A | Is Leader: False | Role: RGF_Rifleman_01",
		"----- Recently Disconnected Players [Max of 15] -----",
	}, "\n")

	players := ParsePlayers(response)
	if len(players) != 2 {
		t.Fatalf("len(players) = %d, want 2", len(players))
	}

	first := players[0]
	if first.PlayerID != 3 || first.Name != "some guy" || first.TeamID != 1 || first.SquadID != 2 {
		t.Fatalf("first player = %+v", first)
	}
	if !first.IsLeader {
		t.Fatal("first.IsLeader = false, want true")
	}
	if first.IDs["steam"] != "76561198016942077" || first.IDs["eos"] != "0002a10186d9414496bf20d22d3860ba" {
		t.Fatalf("first.IDs = %v", first.IDs)
	}

	second := players[1]
	if second.SquadID != 0 {
		t.Fatalf("second.SquadID = %d, want 0 for N/A", second.SquadID)
	}
	if second.Role != "RGF_Rifleman_01" {
		t.Fatalf("second.Role = %q", second.Role)
	}
}

func TestParseSquadsAttributesTeamSides(t *testing.T) {
	response := strings.Join([]string{
		"----- Active Squads -----",
		"Team ID: 1 (US Army)",
		"ID: 1 | Name: CMD Squad | Size: 3 | Locked: True | Creator Name: boss | Creator Online IDs: EOS: 0002a10186d9414496bf20d22d3860ba steam: 76561198016942077",
		"Team ID: 2 (Russian Ground Forces)",
		"ID: 1 | Name: INF | Size: 9 | Locked: False | Creator Name: other | Creator Online IDs: EOS: 0002b42c55bf43f79e2f5e16c2fcb37a steam: 76561198016942078",
	}, "\n")

	squads := ParseSquads(response)
	if len(squads) != 2 {
		t.Fatalf("len(squads) = %d, want 2", len(squads))
	}
	if squads[0].TeamID != 1 || squads[0].TeamName != "US Army" || !squads[0].Locked {
		t.Fatalf("first squad = %+v", squads[0])
	}
	if squads[1].TeamID != 2 || squads[1].TeamName != "Russian Ground Forces" || squads[1].Size != 9 {
		t.Fatalf("second squad = %+v", squads[1])
	}
}

func TestCurrentMapParsesLayerLine(t *testing.T) {
	exec := &fakeExecutor{responses: map[string]string{
		"ShowCurrentMap": "Current level is Gorodok, layer is Gorodok_RAAS_v1, factions USA RGF",
	}}
	c := NewClient(exec, zerolog.Nop())
	layer, err := c.CurrentMap(context.Background())
	if err != nil {
		t.Fatalf("CurrentMap() error = %v", err)
	}
	if layer.Level != "Gorodok" || layer.Layer != "Gorodok_RAAS_v1" || layer.Factions != "USA RGF" {
		t.Fatalf("layer = %+v", layer)
	}
}

func TestQueueLength(t *testing.T) {
	exec := &fakeExecutor{responses: map[string]string{
		"ListPlayers": "----- Active Players -----\n[Players in Queue: 7]",
	}}
	c := NewClient(exec, zerolog.Nop())
	n, err := c.QueueLength(context.Background())
	if err != nil {
		t.Fatalf("QueueLength() error = %v", err)
	}
	if n != 7 {
		t.Fatalf("QueueLength() = %d, want 7", n)
	}
}

func TestInfoParsesQuotedNumerics(t *testing.T) {
	exec := &fakeExecutor{responses: map[string]string{
		"ShowServerInfo": `{"ServerName_s":"Test Server","MaxPlayers":100,"PlayerCount_I":"93","PublicQueue_I":"4","PublicQueueLimit_I":"25","PlayerReserveCount_I":"8","MapName_s":"Gorodok","GameMode_s":"RAAS","GameVersion_s":"v8.0","LICENSEDSERVER_b":true,"Region_s":"eu"}`,
	}}
	c := NewClient(exec, zerolog.Nop())
	info, err := c.Info(context.Background())
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if info.Name != "Test Server" || info.PlayerCount != 93 || info.PublicQueue != 4 || info.ReserveCount != 8 {
		t.Fatalf("info = %+v", info)
	}
}

func TestBroadcastChunksLongMessages(t *testing.T) {
	exec := &fakeExecutor{responses: map[string]string{}}
	c := NewClient(exec, zerolog.Nop())

	message := strings.Repeat("all players please rejoin the queue ", 200)
	if err := c.Broadcast(context.Background(), message); err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	if len(exec.commands) < 2 {
		t.Fatalf("broadcast used %d commands, want chunking", len(exec.commands))
	}
	var rebuilt []string
	for _, cmd := range exec.commands {
		body, ok := strings.CutPrefix(cmd, "AdminBroadcast ")
		if !ok {
			t.Fatalf("unexpected command %q", cmd)
		}
		if len(cmd) > 4152 {
			t.Fatalf("command length %d exceeds protocol bound", len(cmd))
		}
		rebuilt = append(rebuilt, body)
	}
	if joined := strings.Join(rebuilt, " "); joined != strings.TrimSpace(message) {
		t.Fatalf("chunked broadcast lost content: %d vs %d bytes", len(joined), len(strings.TrimSpace(message)))
	}
}

func TestAdminCommandsUseServerSyntax(t *testing.T) {
	exec := &fakeExecutor{responses: map[string]string{}}
	c := NewClient(exec, zerolog.Nop())
	ctx := context.Background()

	if err := c.Warn(ctx, "76561198016942077", "watch the language"); err != nil {
		t.Fatalf("Warn() error = %v", err)
	}
	if err := c.Ban(ctx, "76561198016942077", "1d", "teamkilling"); err != nil {
		t.Fatalf("Ban() error = %v", err)
	}
	if err := c.RemoveFromSquad(ctx, 14); err != nil {
		t.Fatalf("RemoveFromSquad() error = %v", err)
	}

	want := []string{
		`AdminWarn "76561198016942077" watch the language`,
		`AdminBan "76561198016942077" 1d teamkilling`,
		`AdminForceRemoveFromSquad 14`,
	}
	for i, cmd := range want {
		if exec.commands[i] != cmd {
			t.Fatalf("command[%d] = %q, want %q", i, exec.commands[i], cmd)
		}
	}
}
