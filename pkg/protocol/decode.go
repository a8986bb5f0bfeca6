package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"
)

var (
	ErrMalformed      = errors.New("malformed frame")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrInvalidPayload = errors.New("invalid payload")
)

// DecodeError carries the event name (when it could be read) alongside the cause.
type DecodeError struct {
	Event string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Event == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("event '%s': %v", e.Event, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeInbound parses and validates one client frame. Anything that is not a
// well-formed member of the inbound set is rejected here.
func DecodeInbound(raw []byte) (Inbound, error) {
	if !gjson.ValidBytes(raw) {
		return nil, &DecodeError{Err: ErrMalformed}
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, &DecodeError{Err: fmt.Errorf("%w: frame is not an object", ErrMalformed)}
	}
	name := root.Get("event")
	if name.Type != gjson.String {
		return nil, &DecodeError{Err: fmt.Errorf("%w: missing event name", ErrMalformed)}
	}
	event := name.String()
	payload := root.Get("payload")

	var ev Inbound
	switch EventName(event) {
	case EventJoinProject:
		id, err := stringPayload(payload)
		if err != nil {
			return nil, &DecodeError{Event: event, Err: err}
		}
		ev = JoinProject{ProjectID: id}
	case EventLeaveProject:
		id, err := stringPayload(payload)
		if err != nil {
			return nil, &DecodeError{Event: event, Err: err}
		}
		ev = LeaveProject{ProjectID: id}
	case EventJoinNotifications:
		id, err := stringPayload(payload)
		if err != nil {
			return nil, &DecodeError{Event: event, Err: err}
		}
		ev = JoinNotifications{UserID: id}
	case EventTaskStatusChange:
		if !payload.IsObject() {
			return nil, &DecodeError{Event: event, Err: fmt.Errorf("%w: expected object", ErrInvalidPayload)}
		}
		var change TaskStatusChange
		if err := json.Unmarshal([]byte(payload.Raw), &change); err != nil {
			return nil, &DecodeError{Event: event, Err: fmt.Errorf("%w: %v", ErrInvalidPayload, err)}
		}
		ev = change
	default:
		return nil, &DecodeError{Event: event, Err: ErrUnknownEvent}
	}

	if err := validate.Struct(ev); err != nil {
		return nil, &DecodeError{Event: event, Err: fmt.Errorf("%w: %s", ErrInvalidPayload, describe(err))}
	}
	return ev, nil
}

func stringPayload(v gjson.Result) (string, error) {
	if v.Type != gjson.String {
		return "", fmt.Errorf("%w: expected string", ErrInvalidPayload)
	}
	return v.String(), nil
}

// describe flattens validator errors into "field:tag" pairs.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+":"+fe.Tag())
	}
	return strings.Join(parts, ",")
}
