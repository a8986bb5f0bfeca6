// Package notify bridges durable notification writes to live pushes.
//
// Delivery is at-most-once: if no broker is running, or nobody is listening
// on the user's room, the push is skipped and the client's periodic fetch
// picks the record up later.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/m0nds/teamflow-pro/internal/broker"
	"github.com/m0nds/teamflow-pro/internal/locator"
	"github.com/m0nds/teamflow-pro/internal/metrics"
	"github.com/m0nds/teamflow-pro/pkg/protocol"
	"github.com/m0nds/teamflow-pro/pkg/state"
)

// Emitter pushes a copy of an already persisted notification to the user's
// live connections.
type Emitter interface {
	Emit(ctx context.Context, userID string, n protocol.NewNotification)
}

type BrokerEmitter struct {
	locator *locator.Locator
	metrics *metrics.Collectors
	logger  *slog.Logger
}

func NewEmitter(logger *slog.Logger, loc *locator.Locator, m *metrics.Collectors) *BrokerEmitter {
	if m == nil {
		m = metrics.New(nil)
	}
	return &BrokerEmitter{
		locator: loc,
		metrics: m,
		logger:  logger.With(slog.String("component", "notification_emitter")),
	}
}

// Emit never blocks and never fails the caller. Problems are logged.
func (e *BrokerEmitter) Emit(_ context.Context, userID string, n protocol.NewNotification) {
	defer func() {
		if r := recover(); r != nil {
			e.failed(userID, n.ID, fmt.Errorf("emit panicked: %v", r))
		}
	}()

	b, ok := e.locator.Get()
	if !ok {
		e.metrics.NotificationsEmitted.WithLabelValues(metrics.OutcomeUnavailable).Inc()
		e.logger.Warn("Broker not running, skipping live notification", slog.String("userId", userID), slog.String("notificationId", n.ID))
		return
	}

	room := state.NotificationRoom(userID)
	err := b.TrySubmit(func(h *broker.Hub) {
		if h.RoomSize(room) == 0 {
			e.metrics.NotificationsEmitted.WithLabelValues(metrics.OutcomeNoRecipient).Inc()
			e.logger.Debug("No live recipient for notification", slog.String("room", room), slog.String("notificationId", n.ID))
		}
		delivered, err := h.Broadcast(room, n, uuid.Nil)
		if err != nil {
			e.failed(userID, n.ID, err)
			return
		}
		if delivered > 0 {
			e.metrics.NotificationsEmitted.WithLabelValues(metrics.OutcomeDelivered).Inc()
			e.logger.Debug("Notification pushed", slog.String("room", room), slog.Int("connections", delivered))
		}
	})
	if err != nil {
		e.failed(userID, n.ID, err)
	}
}

func (e *BrokerEmitter) failed(userID, notificationID string, err error) {
	e.metrics.NotificationsEmitted.WithLabelValues(metrics.OutcomeFailed).Inc()
	e.logger.Error("Failed to push live notification", slog.String("userId", userID), slog.String("notificationId", notificationID), slog.Any("error", err))
}
