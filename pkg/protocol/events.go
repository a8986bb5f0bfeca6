// Package protocol defines the socket wire format: a JSON envelope
// {"event": <name>, "payload": <json>} carrying a closed set of inbound and
// outbound events.
package protocol

import "encoding/json"

type EventName string

// Inbound (client -> server).
const (
	EventJoinProject       EventName = "join-project"
	EventLeaveProject      EventName = "leave-project"
	EventJoinNotifications EventName = "join-notifications"
	EventTaskStatusChange  EventName = "task-status-change"
)

// Outbound (server -> client).
const (
	EventUserJoined      EventName = "user-joined"
	EventUserLeft        EventName = "user-left"
	EventTaskUpdated     EventName = "task-updated"
	EventProjectActivity EventName = "project-activity"
	EventNewNotification EventName = "new-notification"
	EventError           EventName = "error"
)

// Envelope is the frame every message travels in.
type Envelope struct {
	Event   EventName       `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type TaskStatus string

const (
	StatusTodo       TaskStatus = "TODO"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusReview     TaskStatus = "REVIEW"
	StatusDone       TaskStatus = "DONE"
)

// Valid reports whether s is one of the board columns.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusReview, StatusDone:
		return true
	}
	return false
}

type ActivityType string

const (
	ActivityTaskCreated ActivityType = "task_created"
	ActivityTaskUpdated ActivityType = "task_updated"
	ActivityTaskDeleted ActivityType = "task_deleted"
)

// Inbound is implemented by every event a client may send.
type Inbound interface {
	Name() EventName
	inbound()
}

type JoinProject struct {
	ProjectID string `validate:"required,max=256"`
}

type LeaveProject struct {
	ProjectID string `validate:"required,max=256"`
}

type JoinNotifications struct {
	UserID string `validate:"required,max=256"`
}

type TaskStatusChange struct {
	TaskID    string     `json:"taskId" validate:"required,max=256"`
	Status    TaskStatus `json:"status" validate:"required,oneof=TODO IN_PROGRESS REVIEW DONE"`
	ProjectID string     `json:"projectId" validate:"required,max=256"`
}

func (JoinProject) Name() EventName       { return EventJoinProject }
func (LeaveProject) Name() EventName      { return EventLeaveProject }
func (JoinNotifications) Name() EventName { return EventJoinNotifications }
func (TaskStatusChange) Name() EventName  { return EventTaskStatusChange }

func (JoinProject) inbound()       {}
func (LeaveProject) inbound()      {}
func (JoinNotifications) inbound() {}
func (TaskStatusChange) inbound()  {}

// Outbound is implemented by every event the server may push.
type Outbound interface {
	Name() EventName
	outbound()
}

type UserJoined struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	ProjectID string `json:"projectId"`
}

type UserLeft struct {
	UserID    string `json:"userId"`
	ProjectID string `json:"projectId"`
}

type TaskUpdated struct {
	TaskID    string     `json:"taskId"`
	Status    TaskStatus `json:"status"`
	ProjectID string     `json:"projectId"`
	UpdatedBy string     `json:"updatedBy"`
}

type ProjectActivity struct {
	Type      ActivityType `json:"type"`
	Message   string       `json:"message"`
	ProjectID string       `json:"projectId"`
	Timestamp string       `json:"timestamp"`
}

type NewNotification struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Link      string `json:"link,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// ErrorReply is sent only to the connection whose frame was rejected.
type ErrorReply struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

func (UserJoined) Name() EventName      { return EventUserJoined }
func (UserLeft) Name() EventName        { return EventUserLeft }
func (TaskUpdated) Name() EventName     { return EventTaskUpdated }
func (ProjectActivity) Name() EventName { return EventProjectActivity }
func (NewNotification) Name() EventName { return EventNewNotification }
func (ErrorReply) Name() EventName      { return EventError }

func (UserJoined) outbound()      {}
func (UserLeft) outbound()        {}
func (TaskUpdated) outbound()     {}
func (ProjectActivity) outbound() {}
func (NewNotification) outbound() {}
func (ErrorReply) outbound()      {}
