package core

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// envelope is the wire form used on the event bus: the kind tag plus the
// concrete event encoded as JSON.
type envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalEvent encodes a canonical event for the bus.
func MarshalEvent(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("marshal event: nil event")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", ev.Kind(), err)
	}
	return json.Marshal(envelope{Type: ev.Kind(), Data: data})
}

// UnmarshalEvent decodes a bus payload back into its concrete event type.
// Payloads with a type outside the canonical set are rejected.
func UnmarshalEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if _, ok := ParseEventType(string(env.Type)); !ok {
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}

	decode := func(v Event) (Event, error) {
		if err := json.Unmarshal(env.Data, v); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", env.Type, err)
		}
		return v, nil
	}

	switch env.Type {
	case EventChatMessage:
		return decode(&ChatMessage{})
	case EventGift, EventEnvelope:
		return decode(&Gift{})
	case EventFollow:
		return decode(&Follow{})
	case EventShare:
		return decode(&Share{})
	case EventRaid:
		return decode(&Raid{})
	case EventPaypiggy:
		return decode(&Paypiggy{})
	case EventStreamStatus:
		return decode(&StreamStatus{})
	case EventConnection:
		return decode(&Connection{})
	case EventDisconnection:
		return decode(&Disconnection{})
	case EventError:
		return decode(&PlatformError{})
	case EventVFXCommandExecuted:
		return decode(&VFXCommandExecuted{})
	case EventVFXEffectCompleted:
		return decode(&VFXEffectCompleted{})
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
}
