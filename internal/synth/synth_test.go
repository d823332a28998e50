package synth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/louisbranch/squadops/internal/squad"
)

type fakeRoster struct {
	players []squad.Player
	squads  []squad.Squad
	err     error
}

func (f *fakeRoster) ListPlayers(context.Context) ([]squad.Player, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]squad.Player, len(f.players))
	for i, p := range f.players {
		out[i] = p.Clone()
	}
	return out, nil
}

func (f *fakeRoster) ListSquads(context.Context) ([]squad.Squad, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]squad.Squad, len(f.squads))
	for i, s := range f.squads {
		out[i] = s.Clone()
	}
	return out, nil
}

func newTestSynth(t *testing.T, roster *fakeRoster) (*Synthesizer, *[]squad.Event) {
	t.Helper()
	var events []squad.Event
	s := New(Options{
		Roster:  roster,
		Emit:    func(e squad.Event) { events = append(events, e) },
		Counter: squad.NewCounter(0),
		Now:     func() time.Time { return time.Date(2025, 1, 15, 15, 0, 0, 0, time.UTC) },
		Logger:  zerolog.Nop(),
	})
	return s, &events
}

func player(name, eos string, team, squadID int, leader bool) squad.Player {
	return squad.Player{
		IDs:      squad.OnlineIDs{squad.PlatformEOS: eos},
		Name:     name,
		TeamID:   team,
		SquadID:  squadID,
		IsLeader: leader,
		Role:     "Rifleman",
	}
}

func kinds(events []squad.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Kind()
	}
	return out
}

func TestPollIdenticalSnapshotsEmitNothing(t *testing.T) {
	roster := &fakeRoster{players: []squad.Player{
		player("alpha", "e1", 1, 1, true),
		player("bravo", "e2", 2, squad.SquadNone, false),
	}}
	s, events := newTestSynth(t, roster)

	s.Poll(context.Background())
	// First poll reports fallback connects for the unseen roster.
	if got := len(*events); got != 2 {
		t.Fatalf("first poll emitted %d events (%v), want 2 connects", got, kinds(*events))
	}
	*events = nil

	s.Poll(context.Background())
	if len(*events) != 0 {
		t.Fatalf("identical snapshot emitted %v, want nothing", kinds(*events))
	}
}

func TestPollDiffsSquadMembership(t *testing.T) {
	roster := &fakeRoster{players: []squad.Player{
		player("alpha", "e1", 1, 1, false),
		player("bravo", "e2", 1, 1, true),
	}}
	s, events := newTestSynth(t, roster)
	s.Poll(context.Background())
	*events = nil

	// alpha leaves squad 1 and joins squad 2 on team 2; bravo keeps the
	// squad but changes name.
	roster.players = []squad.Player{
		player("alpha", "e1", 2, 2, false),
		player("bravo renamed", "e2", 1, 1, true),
	}
	s.Poll(context.Background())

	want := []string{
		squad.KindPlayerLeftSquad,
		squad.KindPlayerChangedTeam,
		squad.KindPlayerJoinedSquad,
		squad.KindPlayerDetailsChanged,
	}
	got := kinds(*events)
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}

	joined := (*events)[2].(squad.PlayerJoinedSquad)
	if joined.TeamID != 2 || joined.SquadID != 2 {
		t.Fatalf("joined = %+v", joined)
	}
}

func TestPollReportsPromotion(t *testing.T) {
	roster := &fakeRoster{players: []squad.Player{player("alpha", "e1", 1, 1, false)}}
	s, events := newTestSynth(t, roster)
	s.Poll(context.Background())
	*events = nil

	roster.players = []squad.Player{player("alpha", "e1", 1, 1, true)}
	s.Poll(context.Background())

	if len(*events) != 1 {
		t.Fatalf("events = %v, want one promotion", kinds(*events))
	}
	promoted, ok := (*events)[0].(squad.PlayerPromotedToLeader)
	if !ok || promoted.TeamID != 1 || promoted.SquadID != 1 {
		t.Fatalf("event = %#v", (*events)[0])
	}
}

func TestPollReportsSquadDisbanded(t *testing.T) {
	roster := &fakeRoster{
		players: []squad.Player{player("alpha", "e1", 1, squad.SquadNone, false)},
		squads:  []squad.Squad{{SquadID: 1, TeamID: 1, Name: "ALPHA"}},
	}
	s, events := newTestSynth(t, roster)
	s.Poll(context.Background())
	*events = nil

	roster.squads = nil
	s.Poll(context.Background())

	if len(*events) != 1 {
		t.Fatalf("events = %v, want one disband", kinds(*events))
	}
	disbanded, ok := (*events)[0].(squad.SquadDisbanded)
	if !ok || disbanded.TeamID != 1 || disbanded.SquadID != 1 {
		t.Fatalf("event = %#v", (*events)[0])
	}
}

func TestSquadCreatedSkipsCreatorJoin(t *testing.T) {
	creator := player("alpha", "e1", 1, squad.SquadNone, false)
	roster := &fakeRoster{players: []squad.Player{creator}}
	s, events := newTestSynth(t, roster)
	s.Poll(context.Background())
	*events = nil

	s.HandleServerMessage("alpha (Online IDs: EOS: e1) has created Squad 3 (Squad Name: CHARLIE) on United States Army")
	if len(*events) != 1 {
		t.Fatalf("events = %v, want one squad created", kinds(*events))
	}
	created := (*events)[0].(squad.SquadCreated)
	if created.Squad.TeamID != 1 || created.Squad.SquadID != 3 {
		t.Fatalf("created = %+v", created.Squad)
	}
	*events = nil

	inSquad := creator
	inSquad.SquadID = 3
	inSquad.IsLeader = true
	roster.players = []squad.Player{inSquad}
	roster.squads = []squad.Squad{{
		SquadID:    3,
		TeamID:     1,
		Name:       "CHARLIE",
		CreatorIDs: creator.IDs,
	}}
	s.Poll(context.Background())
	for _, e := range *events {
		if e.Kind() == squad.KindPlayerJoinedSquad {
			t.Fatalf("creator join reported: %v", kinds(*events))
		}
	}
}

func TestPollSynthesizesSquadCreatedForNewSquads(t *testing.T) {
	creator := player("alpha", "e1", 1, squad.SquadNone, false)
	roster := &fakeRoster{players: []squad.Player{creator}}
	s, events := newTestSynth(t, roster)
	s.Poll(context.Background())
	*events = nil

	// No server message announced the squad; the roster is the only
	// witness to its creation.
	inSquad := creator
	inSquad.SquadID = 1
	inSquad.IsLeader = true
	roster.players = []squad.Player{inSquad}
	roster.squads = []squad.Squad{{
		SquadID:    1,
		TeamID:     1,
		Name:       "ALPHA",
		CreatorIDs: creator.IDs,
	}}
	s.Poll(context.Background())

	var created *squad.SquadCreated
	for _, e := range *events {
		if e.Kind() == squad.KindPlayerJoinedSquad {
			t.Fatalf("creator join reported for new squad: %v", kinds(*events))
		}
		if c, ok := e.(squad.SquadCreated); ok {
			created = &c
		}
	}
	if created == nil {
		t.Fatalf("events = %v, want squad created", kinds(*events))
	}
	if created.Squad.TeamID != 1 || created.Squad.SquadID != 1 || created.Squad.Name != "ALPHA" {
		t.Fatalf("created = %+v", created.Squad)
	}

	// A second poll with the same roster is quiet.
	*events = nil
	s.Poll(context.Background())
	if len(*events) != 0 {
		t.Fatalf("settled squad re-reported: %v", kinds(*events))
	}
}

func TestPollReportsSquadLockChanges(t *testing.T) {
	roster := &fakeRoster{
		players: []squad.Player{player("alpha", "e1", 1, 1, true)},
		squads:  []squad.Squad{{SquadID: 1, TeamID: 1, Name: "ALPHA"}},
	}
	s, events := newTestSynth(t, roster)
	s.Poll(context.Background())
	s.Poll(context.Background())
	*events = nil

	roster.squads = []squad.Squad{{SquadID: 1, TeamID: 1, Name: "ALPHA", Locked: true}}
	s.Poll(context.Background())

	if len(*events) != 1 {
		t.Fatalf("events = %v, want one details change", kinds(*events))
	}
	changed, ok := (*events)[0].(squad.SquadDetailsChanged)
	if !ok || changed.TeamID != 1 || changed.SquadID != 1 || !changed.Locked {
		t.Fatalf("event = %#v", (*events)[0])
	}

	// Unlocking flips it back.
	*events = nil
	roster.squads = []squad.Squad{{SquadID: 1, TeamID: 1, Name: "ALPHA"}}
	s.Poll(context.Background())
	if len(*events) != 1 {
		t.Fatalf("events = %v, want one details change", kinds(*events))
	}
	if changed := (*events)[0].(squad.SquadDetailsChanged); changed.Locked {
		t.Fatalf("event = %+v, want unlocked", changed)
	}
}

func TestSquadAppearingInSnapshotCarriesInitialLockState(t *testing.T) {
	roster := &fakeRoster{players: []squad.Player{player("alpha", "e1", 1, squad.SquadNone, false)}}
	s, events := newTestSynth(t, roster)
	s.Poll(context.Background())
	*events = nil

	locked := player("alpha", "e1", 1, 2, true)
	roster.players = []squad.Player{locked}
	roster.squads = []squad.Squad{{SquadID: 2, TeamID: 1, Name: "BRAVO", Locked: true}}
	s.Poll(context.Background())

	var details *squad.SquadDetailsChanged
	for _, e := range *events {
		if d, ok := e.(squad.SquadDetailsChanged); ok {
			details = &d
		}
	}
	if details == nil {
		t.Fatalf("events = %v, want details for newly listed squad", kinds(*events))
	}
	if !details.Locked {
		t.Fatalf("details = %+v, want locked", details)
	}
}

func TestTwoPhaseConnect(t *testing.T) {
	roster := &fakeRoster{}
	s, events := newTestSynth(t, roster)
	s.Poll(context.Background())
	*events = nil

	connectLine := "[2025.01.15-14.30.01:500][ 67]LogSquad: PostLogin: NewPlayer: BP_PlayerController_C /Game/Maps/Gorodok/Gorodok_RAAS_v1.Gorodok_RAAS_v1:PersistentLevel.BP_PlayerController_C_2146085496 (IP: 192.168.1.10 | Online IDs: EOS: e1 steam: 765)"
	joinLine := "[2025.01.15-14.30.02:600][ 67]LogNet: Join succeeded: alpha"

	s.HandleLogLine(context.Background(), connectLine)
	s.HandleLogLine(context.Background(), joinLine)
	if len(*events) != 0 {
		t.Fatalf("connect emitted before roster confirmation: %v", kinds(*events))
	}

	roster.players = []squad.Player{{
		IDs:  squad.OnlineIDs{squad.PlatformEOS: "e1", squad.PlatformSteam: "765"},
		Name: "alpha",
	}}
	s.Poll(context.Background())

	if len(*events) != 1 {
		t.Fatalf("events = %v, want one connect", kinds(*events))
	}
	connected := (*events)[0].(squad.PlayerConnected)
	if connected.Player.Name != "alpha" {
		t.Fatalf("connected = %+v", connected.Player)
	}
	wantTime := time.Date(2025, 1, 15, 14, 30, 2, 600_000_000, time.UTC)
	if !connected.Time.Equal(wantTime) {
		t.Fatalf("connect time = %v, want join time %v", connected.Time, wantTime)
	}
}

func TestJoinWithoutConnectLineDropped(t *testing.T) {
	roster := &fakeRoster{}
	s, events := newTestSynth(t, roster)
	s.HandleLogLine(context.Background(), "[2025.01.15-14.30.02:600][ 99]LogNet: Join succeeded: ghost")
	if len(*events) != 0 {
		t.Fatalf("events = %v, want nothing", kinds(*events))
	}
}

func TestDisconnect(t *testing.T) {
	roster := &fakeRoster{players: []squad.Player{{
		IDs:  squad.OnlineIDs{squad.PlatformEOS: "0002a10186d9414496bf20d22d3860ba", squad.PlatformSteam: "765"},
		Name: "alpha",
	}}}
	s, events := newTestSynth(t, roster)
	s.Poll(context.Background())
	*events = nil

	line := "[2025.01.15-16.10.11:402][999]LogNet: UChannel::Close: Sending CloseBunch. ChIndex == 10. Name: [UChannel] ChIndex: 10, Closing: 0 [UNetConnection] RemoteAddr: 192.168.1.10:50000, Name: EOSIpNetConnection_2130439491, Driver: GameNetDriver EOSNetDriver_2146314693, IsServer: YES, PC: BP_PlayerController_C_2146085496, Owner: BP_PlayerController_C_2146085496, UniqueId: RedpointEOS:0002a10186d9414496bf20d22d3860ba"
	s.HandleLogLine(context.Background(), line)

	if len(*events) != 1 {
		t.Fatalf("events = %v, want one disconnect", kinds(*events))
	}
	disconnected := (*events)[0].(squad.PlayerDisconnected)
	if disconnected.PlayerIDs[squad.PlatformSteam] != "765" {
		t.Fatalf("disconnect carries %v, want full identity set", disconnected.PlayerIDs)
	}

	// A second close for the same player is a no-op.
	s.HandleLogLine(context.Background(), line)
	if len(*events) != 1 {
		t.Fatalf("repeated disconnect emitted: %v", kinds(*events))
	}
}

func TestCombatHeldUntilBothResolve(t *testing.T) {
	roster := &fakeRoster{players: []squad.Player{{
		IDs:  squad.OnlineIDs{squad.PlatformEOS: "victim-eos"},
		Name: "victim guy",
	}}}
	s, events := newTestSynth(t, roster)
	s.Poll(context.Background())
	*events = nil

	line := "[2025.01.15-15.20.33:700][321]LogSquadTrace: [DedicatedServer]ASQSoldier::Die(): Player:victim guy KillingDamage=127.000000 from attacker_dude (Online IDs: EOS: attacker-eos steam: 111 | Contoller ID: BP_PlayerController_C_214) caused by BP_Soldier_RU_Rifleman_C"
	s.HandleLogLine(context.Background(), line)
	if len(*events) != 0 {
		t.Fatalf("combat emitted with unresolved attacker: %v", kinds(*events))
	}

	roster.players = append(roster.players, squad.Player{
		IDs:  squad.OnlineIDs{squad.PlatformEOS: "attacker-eos", squad.PlatformSteam: "111"},
		Name: "attacker_dude",
	})
	s.Poll(context.Background())

	var died *squad.PlayerDied
	for _, e := range *events {
		if d, ok := e.(squad.PlayerDied); ok {
			died = &d
		}
	}
	if died == nil {
		t.Fatalf("no death emitted after roster resolved: %v", kinds(*events))
	}
	if died.VictimIDs[squad.PlatformEOS] != "victim-eos" || died.AttackerIDs[squad.PlatformEOS] != "attacker-eos" {
		t.Fatalf("died = %+v", died)
	}
}

func TestRoundOutcomeConsolidation(t *testing.T) {
	s, events := newTestSynth(t, &fakeRoster{})
	s.HandleLogLine(context.Background(), "[2025.01.15-15.01.00:001][123]LogSquadGameEvents: Display: Team 1, United States Army ( 3rd Brigade ) has won the match with 250 Tickets on layer Gorodok RAAS v1 (level Gorodok)!")
	s.HandleLogLine(context.Background(), "[2025.01.15-15.01.00:002][123]LogSquadGameEvents: Display: Team 2, Russian Ground Forces ( 49th Army ) has lost the match with 0 Tickets on layer Gorodok RAAS v1 (level Gorodok)!")
	if len(*events) != 0 {
		t.Fatalf("decided lines emitted early: %v", kinds(*events))
	}

	s.HandleLogLine(context.Background(), "[2025.01.15-15.02.00:000][130]LogGameState: Match State Changed from InProgress to WaitingPostMatch")
	if len(*events) != 1 {
		t.Fatalf("events = %v, want one round ended", kinds(*events))
	}
	ended := (*events)[0].(squad.RoundEnded)
	if ended.Winner == nil || ended.Winner.TeamID != 1 || ended.Winner.Tickets != 250 {
		t.Fatalf("winner = %+v", ended.Winner)
	}
	if ended.Loser == nil || ended.Loser.TeamID != 2 || ended.Loser.Won {
		t.Fatalf("loser = %+v", ended.Loser)
	}
}

func TestNewGameSkipsTransitionMap(t *testing.T) {
	s, events := newTestSynth(t, &fakeRoster{})
	s.HandleLogLine(context.Background(), "[2025.01.15-15.05.00:000][140]LogWorld: Bringing World /Game/Maps/TransitionMap.TransitionMap")
	if len(*events) != 0 {
		t.Fatalf("transition map emitted: %v", kinds(*events))
	}

	s.HandleLogLine(context.Background(), "[2025.01.15-15.06.00:000][150]LogWorld: Bringing World /Game/Maps/Gorodok/Gorodok_RAAS_v1.Gorodok_RAAS_v1")
	if len(*events) != 1 {
		t.Fatalf("events = %v, want one new game", kinds(*events))
	}
	game := (*events)[0].(squad.NewGame)
	if game.LayerClassname != "Gorodok_RAAS_v1" {
		t.Fatalf("game = %+v", game)
	}
	if game.MatchID != 1 || s.MatchID() != 1 {
		t.Fatalf("match id = %d/%d, want 1", game.MatchID, s.MatchID())
	}
}

func TestFailedPollRetainsSnapshot(t *testing.T) {
	roster := &fakeRoster{players: []squad.Player{player("alpha", "e1", 1, 1, false)}}
	s, events := newTestSynth(t, roster)
	s.Poll(context.Background())
	*events = nil

	roster.err = errors.New("rcon timeout")
	s.Poll(context.Background())
	if len(*events) != 0 {
		t.Fatalf("failed poll emitted: %v", kinds(*events))
	}

	// Next successful poll diffs against the retained snapshot.
	roster.err = nil
	roster.players = []squad.Player{player("alpha", "e1", 1, 2, false)}
	s.Poll(context.Background())
	var sawJoin bool
	for _, e := range *events {
		if e.Kind() == squad.KindPlayerJoinedSquad {
			sawJoin = true
		}
	}
	if !sawJoin {
		t.Fatalf("events = %v, want squad join against retained snapshot", kinds(*events))
	}
}

func TestChatMessageFromServerFrame(t *testing.T) {
	s, events := newTestSynth(t, &fakeRoster{})
	s.HandleServerMessage("[ChatAll] [Online IDs:EOS: e1 steam: 765] alpha : hello squad")
	if len(*events) != 1 {
		t.Fatalf("events = %v, want one chat", kinds(*events))
	}
	chat := (*events)[0].(squad.ChatMessage)
	if chat.Channel != "ChatAll" || chat.Name != "alpha" || chat.Message != "hello squad" {
		t.Fatalf("chat = %+v", chat)
	}
}

func TestEventIDsAreMonotonic(t *testing.T) {
	roster := &fakeRoster{players: []squad.Player{
		player("alpha", "e1", 1, 1, false),
		player("bravo", "e2", 1, 1, true),
	}}
	s, events := newTestSynth(t, roster)
	s.Poll(context.Background())
	s.HandleServerMessage("[ChatAll] [Online IDs:EOS: e1] alpha : hi")

	var last int64
	for _, e := range *events {
		if id := e.EventMeta().ID; id <= last {
			t.Fatalf("ids not monotonic: %v then %v", last, id)
		} else {
			last = id
		}
	}
}
