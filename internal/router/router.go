// Package router turns decoded client events into room membership changes and
// broadcasts. All handlers run on the broker goroutine.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/m0nds/teamflow-pro/internal/broker"
	"github.com/m0nds/teamflow-pro/internal/metrics"
	"github.com/m0nds/teamflow-pro/pkg/protocol"
	"github.com/m0nds/teamflow-pro/pkg/state"
)

type EventRouter struct {
	logger   *slog.Logger
	metrics  *metrics.Collectors
	handlers map[protocol.EventName]HandlerFunc
}

func NewEventRouter(logger *slog.Logger, m *metrics.Collectors) *EventRouter {
	if m == nil {
		m = metrics.New(nil)
	}
	r := &EventRouter{
		logger:   logger.With(slog.String("component", "event_router")),
		metrics:  m,
		handlers: make(map[protocol.EventName]HandlerFunc),
	}
	r.registerCoreHandlers()
	return r
}

func (r *EventRouter) registerCoreHandlers() {
	r.Register(protocol.EventJoinProject, handleJoinProject)
	r.Register(protocol.EventLeaveProject, handleLeaveProject)
	r.Register(protocol.EventJoinNotifications, handleJoinNotifications)
	r.Register(protocol.EventTaskStatusChange, handleTaskStatusChange)
	r.logger.Debug("Registered core handlers", slog.Int("count", len(r.handlers)))
}

// Register binds fn to an inbound event. Registering a name twice panics.
func (r *EventRouter) Register(name protocol.EventName, fn HandlerFunc) {
	if _, exists := r.handlers[name]; exists {
		panic("handler already registered: " + string(name))
	}
	r.handlers[name] = fn
}

// HandleConnect attaches a freshly accepted connection to the broker. It
// returns once the connection is visible to later ops.
func (r *EventRouter) HandleConnect(ctx context.Context, b *broker.Broker, s broker.Sender, info state.ConnInfo) error {
	var attached bool
	if err := b.Do(ctx, func(h *broker.Hub) { attached = h.Attach(s, info) }); err != nil {
		return err
	}
	if !attached {
		return fmt.Errorf("attach %s: duplicate connection id", s.ID())
	}
	return nil
}

// HandleDisconnect purges the connection from every room, telling each
// project room's remaining members that it left. Once this op has run, any
// event still queued for the connection is ignored.
func (r *EventRouter) HandleDisconnect(ctx context.Context, b *broker.Broker, connID uuid.UUID) error {
	return b.Submit(ctx, func(h *broker.Hub) {
		rooms, ok := h.Detach(connID)
		if !ok {
			return
		}
		for _, room := range rooms {
			projectID, isProject := state.ProjectIDFrom(room)
			if !isProject {
				continue
			}
			if _, err := h.Broadcast(room, protocol.UserLeft{UserID: connID.String(), ProjectID: projectID}, uuid.Nil); err != nil {
				r.logger.Error("Failed to broadcast departure", slog.String("room", room), slog.Any("error", err))
			}
		}
		r.logger.Debug("Connection purged", slog.String("connID", connID.String()), slog.Any("rooms", rooms))
	})
}

// HandleMessage decodes one raw frame and queues its handler. Rejected frames
// never reach a handler; the origin gets an error event instead.
func (r *EventRouter) HandleMessage(ctx context.Context, b *broker.Broker, connID uuid.UUID, raw []byte) error {
	ev, err := protocol.DecodeInbound(raw)
	if err != nil {
		return r.reject(ctx, b, connID, err)
	}

	fn, ok := r.handlers[ev.Name()]
	if !ok {
		return r.reject(ctx, b, connID, &protocol.DecodeError{Event: string(ev.Name()), Err: protocol.ErrUnknownEvent})
	}
	r.metrics.InboundEvents.WithLabelValues(string(ev.Name())).Inc()

	return b.Submit(ctx, func(h *broker.Hub) {
		if !h.Connected(connID) {
			// purged already; late frames from a closed connection are dropped
			return
		}
		ectx := &EventContext{Hub: h, Origin: connID, Logger: r.logger}
		r.logger.Debug("Dispatching event", slog.String("event", string(ev.Name())), slog.String("connID", connID.String()))
		if err := fn(ectx, ev); err != nil {
			r.logger.Error("Handler failed", slog.String("event", string(ev.Name())), slog.String("connID", connID.String()), slog.Any("error", err))
		}
	})
}

func (r *EventRouter) reject(ctx context.Context, b *broker.Broker, connID uuid.UUID, err error) error {
	r.metrics.InboundRejected.WithLabelValues(rejectReason(err)).Inc()
	r.logger.Warn("Rejected client frame", slog.String("connID", connID.String()), slog.Any("error", err))

	reply := protocol.ErrorReply{Message: err.Error()}
	var derr *protocol.DecodeError
	if errors.As(err, &derr) {
		reply.Event = derr.Event
	}
	return b.Submit(ctx, func(h *broker.Hub) {
		if err := h.SendTo(connID, reply); err != nil && !errors.Is(err, broker.ErrUnknownConnection) {
			r.logger.Error("Failed to send error reply", slog.String("connID", connID.String()), slog.Any("error", err))
		}
	})
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrMalformed):
		return "malformed"
	case errors.Is(err, protocol.ErrUnknownEvent):
		return "unknown_event"
	case errors.Is(err, protocol.ErrInvalidPayload):
		return "invalid_payload"
	}
	return "other"
}
