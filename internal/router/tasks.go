package router

import (
	"fmt"

	"github.com/m0nds/teamflow-pro/pkg/protocol"
	"github.com/m0nds/teamflow-pro/pkg/state"
)

// handleTaskStatusChange relays a board move to the project's other viewers.
// Nothing is checked against or written to the store here.
func handleTaskStatusChange(ectx *EventContext, ev protocol.Inbound) error {
	change := ev.(protocol.TaskStatusChange)
	room := state.ProjectRoom(change.ProjectID)

	if _, err := ectx.Hub.Broadcast(room, protocol.TaskUpdated{
		TaskID:    change.TaskID,
		Status:    change.Status,
		ProjectID: change.ProjectID,
		UpdatedBy: ectx.Origin.String(),
	}, ectx.Origin); err != nil {
		return fmt.Errorf("broadcast task update: %w", err)
	}

	_, err := ectx.Hub.Broadcast(room, protocol.ProjectActivity{
		Type:      protocol.ActivityTaskUpdated,
		Message:   fmt.Sprintf("Task status changed to %s", change.Status),
		ProjectID: change.ProjectID,
		Timestamp: protocol.Timestamp(ectx.Hub.Now()),
	}, ectx.Origin)
	return err
}
