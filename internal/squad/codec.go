package squad

import (
	"encoding/json"
	"fmt"
	"time"
)

// envelope is the persisted form of an event: the shared fields are
// lifted out so stores can index them without knowing every variant.
type envelope struct {
	Kind    string          `json:"kind"`
	ID      int64           `json:"id"`
	Time    time.Time       `json:"time"`
	MatchID int64           `json:"match_id"`
	Data    json.RawMessage `json:"data"`
}

// MarshalEvent encodes an event into its JSON envelope.
func MarshalEvent(event Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event.Kind(), err)
	}
	meta := event.EventMeta()
	return json.Marshal(envelope{
		Kind:    event.Kind(),
		ID:      meta.ID,
		Time:    meta.Time,
		MatchID: meta.MatchID,
		Data:    data,
	})
}

// UnmarshalEvent decodes a JSON envelope back into its concrete variant.
func UnmarshalEvent(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal event envelope: %w", err)
	}
	event, err := decodePayload(env.Kind, env.Data)
	if err != nil {
		return nil, err
	}
	return event, nil
}

func decodeAs[T Event](kind string, data json.RawMessage) (Event, error) {
	var target T
	if err := json.Unmarshal(data, &target); err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", kind, err)
	}
	return target, nil
}

func decodePayload(kind string, data json.RawMessage) (Event, error) {
	switch kind {
	case KindNewGame:
		return decodeAs[NewGame](kind, data)
	case KindRoundEnded:
		return decodeAs[RoundEnded](kind, data)
	case KindPlayerConnected:
		return decodeAs[PlayerConnected](kind, data)
	case KindPlayerDisconnected:
		return decodeAs[PlayerDisconnected](kind, data)
	case KindPlayerJoinedSquad:
		return decodeAs[PlayerJoinedSquad](kind, data)
	case KindPlayerLeftSquad:
		return decodeAs[PlayerLeftSquad](kind, data)
	case KindPlayerChangedTeam:
		return decodeAs[PlayerChangedTeam](kind, data)
	case KindPlayerPromotedToLeader:
		return decodeAs[PlayerPromotedToLeader](kind, data)
	case KindPlayerDetailsChanged:
		return decodeAs[PlayerDetailsChanged](kind, data)
	case KindSquadCreated:
		return decodeAs[SquadCreated](kind, data)
	case KindSquadDisbanded:
		return decodeAs[SquadDisbanded](kind, data)
	case KindSquadDetailsChanged:
		return decodeAs[SquadDetailsChanged](kind, data)
	case KindChatMessage:
		return decodeAs[ChatMessage](kind, data)
	case KindAdminBroadcast:
		return decodeAs[AdminBroadcast](kind, data)
	case KindPlayerWarned:
		return decodeAs[PlayerWarned](kind, data)
	case KindPlayerKicked:
		return decodeAs[PlayerKicked](kind, data)
	case KindPlayerBanned:
		return decodeAs[PlayerBanned](kind, data)
	case KindCameraPossessed:
		return decodeAs[AdminCameraPossessed](kind, data)
	case KindCameraUnpossessed:
		return decodeAs[AdminCameraUnpossessed](kind, data)
	case KindPlayerDied:
		return decodeAs[PlayerDied](kind, data)
	case KindPlayerWounded:
		return decodeAs[PlayerWounded](kind, data)
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
}
