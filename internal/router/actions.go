package router

import (
	"fmt"
	"log/slog"

	"github.com/m0nds/teamflow-pro/pkg/protocol"
	"github.com/m0nds/teamflow-pro/pkg/state"
)

func handleJoinProject(ectx *EventContext, ev protocol.Inbound) error {
	join := ev.(protocol.JoinProject)
	room := state.ProjectRoom(join.ProjectID)

	added, err := ectx.Hub.Join(room, ectx.Origin)
	if err != nil {
		return err
	}
	if !added {
		// membership unchanged, presence is announced again anyway
		ectx.Logger.Debug("Repeat join", slog.String("room", room), slog.String("connID", ectx.Origin.String()))
	}

	_, err = ectx.Hub.Broadcast(room, protocol.UserJoined{
		UserID:    ectx.Origin.String(),
		UserName:  state.ConnectionLabel(ectx.Origin),
		ProjectID: join.ProjectID,
	}, ectx.Origin)
	return err
}

func handleLeaveProject(ectx *EventContext, ev protocol.Inbound) error {
	leave := ev.(protocol.LeaveProject)
	room := state.ProjectRoom(leave.ProjectID)

	ectx.Hub.Leave(room, ectx.Origin)
	_, err := ectx.Hub.Broadcast(room, protocol.UserLeft{
		UserID:    ectx.Origin.String(),
		ProjectID: leave.ProjectID,
	}, ectx.Origin)
	return err
}

// handleJoinNotifications points the connection at one user's private room,
// leaving any other notification room it was in.
func handleJoinNotifications(ectx *EventContext, ev protocol.Inbound) error {
	join := ev.(protocol.JoinNotifications)
	room := state.NotificationRoom(join.UserID)

	for _, current := range ectx.Hub.RoomsOf(ectx.Origin) {
		if state.IsNotificationRoom(current) && current != room {
			ectx.Hub.Leave(current, ectx.Origin)
		}
	}
	if _, err := ectx.Hub.Join(room, ectx.Origin); err != nil {
		return fmt.Errorf("join notifications: %w", err)
	}
	return nil
}
