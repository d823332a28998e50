package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/squadops/internal/squad"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func chatAt(id, matchID int64, at time.Time, message string) squad.ChatMessage {
	return squad.ChatMessage{
		Meta:      squad.Meta{ID: id, Time: at, MatchID: matchID},
		Channel:   "ChatAll",
		PlayerIDs: squad.OnlineIDs{squad.PlatformEOS: "e1"},
		Name:      "alpha",
		Message:   message,
	}
}

func TestSaveAndLoadRecent(t *testing.T) {
	store := openTempStore(t)
	now := time.Date(2025, 1, 15, 15, 0, 0, 0, time.UTC)

	batch := []squad.Event{
		chatAt(1, 1, now, "old match"),
		chatAt(2, 2, now.Add(time.Minute), "recent one"),
		chatAt(3, 3, now.Add(2*time.Minute), "recent two"),
		chatAt(4, 3, now.Add(3*time.Minute), "recent three"),
	}
	if err := store.SaveEvents(context.Background(), batch); err != nil {
		t.Fatalf("save events: %v", err)
	}

	events, err := store.LoadRecent(context.Background(), 2)
	if err != nil {
		t.Fatalf("load recent: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("events len = %d, want 3", len(events))
	}
	first, ok := events[0].(squad.ChatMessage)
	if !ok || first.Message != "recent one" {
		t.Fatalf("events[0] = %#v", events[0])
	}
	if events[0].EventMeta().ID != 2 || events[2].EventMeta().ID != 4 {
		t.Fatalf("ids = %d..%d, want 2..4", events[0].EventMeta().ID, events[2].EventMeta().ID)
	}
}

func TestSaveEventsUpsertsByID(t *testing.T) {
	store := openTempStore(t)
	now := time.Date(2025, 1, 15, 15, 0, 0, 0, time.UTC)

	if err := store.SaveEvents(context.Background(), []squad.Event{chatAt(1, 1, now, "first")}); err != nil {
		t.Fatalf("save events: %v", err)
	}
	if err := store.SaveEvents(context.Background(), []squad.Event{chatAt(1, 1, now, "replayed")}); err != nil {
		t.Fatalf("save replay: %v", err)
	}

	events, err := store.LoadRecent(context.Background(), 1)
	if err != nil {
		t.Fatalf("load recent: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events len = %d, want 1", len(events))
	}
	if chat := events[0].(squad.ChatMessage); chat.Message != "replayed" {
		t.Fatalf("message = %q, want replayed", chat.Message)
	}
}

func TestLastEventID(t *testing.T) {
	store := openTempStore(t)

	last, err := store.LastEventID(context.Background())
	if err != nil {
		t.Fatalf("last event id: %v", err)
	}
	if last != 0 {
		t.Fatalf("empty journal last id = %d, want 0", last)
	}

	now := time.Date(2025, 1, 15, 15, 0, 0, 0, time.UTC)
	if err := store.SaveEvents(context.Background(), []squad.Event{
		chatAt(7, 1, now, "a"),
		chatAt(9, 1, now.Add(time.Second), "b"),
	}); err != nil {
		t.Fatalf("save events: %v", err)
	}
	last, err = store.LastEventID(context.Background())
	if err != nil {
		t.Fatalf("last event id: %v", err)
	}
	if last != 9 {
		t.Fatalf("last id = %d, want 9", last)
	}
}
