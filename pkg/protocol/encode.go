package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimestampFormat is the layout of every timestamp on the wire (UTC, millisecond precision).
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Timestamp formats t for the wire.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// Encode wraps an outbound event in an envelope.
func Encode(ev Outbound) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", ev.Name(), err)
	}
	return json.Marshal(Envelope{Event: ev.Name(), Payload: payload})
}

// EncodeInbound builds a client frame. String-keyed events carry a bare JSON string.
func EncodeInbound(ev Inbound) ([]byte, error) {
	var payload any
	switch e := ev.(type) {
	case JoinProject:
		payload = e.ProjectID
	case LeaveProject:
		payload = e.ProjectID
	case JoinNotifications:
		payload = e.UserID
	case TaskStatusChange:
		payload = e
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", ev.Name(), err)
	}
	return json.Marshal(Envelope{Event: ev.Name(), Payload: raw})
}

// DecodeOutbound parses a server frame into its typed event.
func DecodeOutbound(raw []byte) (Outbound, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}

	var target Outbound
	switch env.Event {
	case EventUserJoined:
		target = &UserJoined{}
	case EventUserLeft:
		target = &UserLeft{}
	case EventTaskUpdated:
		target = &TaskUpdated{}
	case EventProjectActivity:
		target = &ProjectActivity{}
	case EventNewNotification:
		target = &NewNotification{}
	case EventError:
		target = &ErrorReply{}
	default:
		return nil, &DecodeError{Event: string(env.Event), Err: ErrUnknownEvent}
	}
	if err := json.Unmarshal(env.Payload, target); err != nil {
		return nil, &DecodeError{Event: string(env.Event), Err: fmt.Errorf("%w: %v", ErrInvalidPayload, err)}
	}

	switch ev := target.(type) {
	case *UserJoined:
		return *ev, nil
	case *UserLeft:
		return *ev, nil
	case *TaskUpdated:
		return *ev, nil
	case *ProjectActivity:
		return *ev, nil
	case *NewNotification:
		return *ev, nil
	case *ErrorReply:
		return *ev, nil
	}
	return nil, &DecodeError{Event: string(env.Event), Err: ErrUnknownEvent}
}
