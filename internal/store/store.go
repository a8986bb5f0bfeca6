// Package store persists notifications, projects and tasks. The realtime
// layer never touches it; the HTTP mutation handlers write here first and
// only then push a live copy.
package store

import (
	"context"
	"time"

	"github.com/m0nds/teamflow-pro/pkg/protocol"
)

type NotificationType string

const (
	NotificationTaskAssigned      NotificationType = "TASK_ASSIGNED"
	NotificationTaskStatusChanged NotificationType = "TASK_STATUS_CHANGED"
	NotificationProjectCreated    NotificationType = "PROJECT_CREATED"
	NotificationProjectUpdated    NotificationType = "PROJECT_UPDATED"
)

type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Link      string           `json:"link,omitempty"`
	ProjectID string           `json:"projectId,omitempty"`
	TaskID    string           `json:"taskId,omitempty"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"createdAt"`
}

type Project struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	UserID      string    `json:"userId"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

type Task struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Status      protocol.TaskStatus `json:"status"`
	Priority    Priority            `json:"priority"`
	ProjectID   string              `json:"projectId"`
	AssigneeID  string              `json:"assigneeId,omitempty"`
	DueDate     *time.Time          `json:"dueDate,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// DefaultListLimit caps notification listings when the caller passes 0.
const DefaultListLimit = 50

type NotificationStore interface {
	// CreateNotification fills in ID and CreatedAt when they are empty.
	CreateNotification(ctx context.Context, n *Notification) error
	// ListNotifications returns the newest notifications of userID first.
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	// MarkRead flags one notification of userID. Someone else's id is ErrNotificationNotFound.
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

type ProjectStore interface {
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context, userID string) ([]Project, error)
}

type TaskStore interface {
	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	// ListTasks returns a project's tasks, newest first.
	ListTasks(ctx context.Context, projectID string) ([]Task, error)
	// UpdateTaskStatus moves a task and returns the status it had before.
	UpdateTaskStatus(ctx context.Context, id string, status protocol.TaskStatus) (protocol.TaskStatus, *Task, error)
}

// Store is everything the HTTP layer needs from persistence.
type Store interface {
	NotificationStore
	ProjectStore
	TaskStore
	Ping(ctx context.Context) error
	Close() error
}
