package router

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/m0nds/teamflow-pro/internal/broker"
	"github.com/m0nds/teamflow-pro/pkg/protocol"
)

// EventContext is what a handler sees for one inbound event. It is only valid
// for the duration of the handler call, on the broker goroutine.
type EventContext struct {
	Hub    *broker.Hub
	Origin uuid.UUID
	Logger *slog.Logger
}

// HandlerFunc reacts to one decoded inbound event.
type HandlerFunc func(ectx *EventContext, ev protocol.Inbound) error
