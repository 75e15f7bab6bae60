package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownKind is returned when decoding an envelope whose type is not a
// known Kind.
var ErrUnknownKind = errors.New("unknown event kind")

// Envelope is the JSON form of an event:
//
//	{"sessionId":"42","type":"textComplete","data":{"text":"..."}}
type Envelope struct {
	SessionID string
	Event     Event
}

type wireEnvelope struct {
	SessionID string          `json:"sessionId,omitempty"`
	Type      Kind            `json:"type"`
	Data      json.RawMessage `json:"data"`
}

// MarshalJSON implements json.Marshaler.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Event == nil {
		return nil, errors.New("envelope has no event")
	}
	data, err := json.Marshal(e.Event)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.Event.Kind(), err)
	}
	return json.Marshal(wireEnvelope{SessionID: e.SessionID, Type: e.Event.Kind(), Data: data})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	ev, err := decode(w.Type, w.Data)
	if err != nil {
		return err
	}
	e.SessionID = w.SessionID
	e.Event = ev
	return nil
}

// Marshal encodes ev as {"type":...,"data":...}.
func Marshal(ev Event) ([]byte, error) {
	return json.Marshal(Envelope{Event: ev})
}

// Unmarshal decodes the output of Marshal.
func Unmarshal(b []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	return env.Event, nil
}

func decode(kind Kind, data json.RawMessage) (Event, error) {
	switch kind {
	case KindInit:
		return decodeAs[Init](data)
	case KindStateUpdate:
		return decodeAs[StateUpdate](data)
	case KindText:
		return decodeAs[Text](data)
	case KindTextComplete:
		return decodeAs[TextComplete](data)
	case KindToolInfo:
		return decodeAs[ToolInfo](data)
	case KindToolComplete:
		return decodeAs[ToolComplete](data)
	case KindAskQuestion:
		return decodeAs[AskQuestion](data)
	case KindPermissionRequest:
		return decodeAs[PermissionRequest](data)
	case KindResult:
		return decodeAs[Result](data)
	case KindError:
		return decodeAs[Error](data)
	case KindState:
		return decodeAs[State](data)
	case KindAborted:
		return decodeAs[Aborted](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func decodeAs[T Event](data json.RawMessage) (Event, error) {
	var v T
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", v.Kind(), err)
		}
	}
	return v, nil
}
