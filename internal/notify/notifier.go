package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/m0nds/teamflow-pro/internal/store"
	"github.com/m0nds/teamflow-pro/pkg/protocol"
)

// Notifier writes notifications and then pushes them live.
type Notifier struct {
	store   store.NotificationStore
	emitter Emitter
	logger  *slog.Logger
}

func NewNotifier(logger *slog.Logger, s store.NotificationStore, e Emitter) *Notifier {
	return &Notifier{
		store:   s,
		emitter: e,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Create persists n and emits it. Only the write can fail; emitting is best
// effort.
func (nt *Notifier) Create(ctx context.Context, n *store.Notification) error {
	if err := nt.store.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("creating notification: %w", err)
	}
	nt.logger.Debug("Notification stored", slog.String("notificationId", n.ID), slog.String("userId", n.UserID), slog.String("type", string(n.Type)))
	nt.emitter.Emit(ctx, n.UserID, Live(n))
	return nil
}

// Live is the push payload for a stored notification.
func Live(n *store.Notification) protocol.NewNotification {
	return protocol.NewNotification{
		ID:        n.ID,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		Link:      n.Link,
		CreatedAt: protocol.Timestamp(n.CreatedAt),
	}
}

func projectLink(projectID string) string {
	return "/dashboard/projects/" + projectID
}

// statusLabel renders a status for people: the first underscore becomes a space.
func statusLabel(s protocol.TaskStatus) string {
	return strings.Replace(string(s), "_", " ", 1)
}

func (nt *Notifier) TaskAssigned(ctx context.Context, assigneeID string, task *store.Task) (*store.Notification, error) {
	n := &store.Notification{
		UserID:    assigneeID,
		Type:      store.NotificationTaskAssigned,
		Title:     "New Task Assigned",
		Message:   "You have been assigned to: " + task.Title,
		Link:      projectLink(task.ProjectID),
		TaskID:    task.ID,
		ProjectID: task.ProjectID,
	}
	return n, nt.Create(ctx, n)
}

// TaskCreated tells the creator about a task nobody was assigned to.
func (nt *Notifier) TaskCreated(ctx context.Context, userID string, task *store.Task, projectTitle string) (*store.Notification, error) {
	n := &store.Notification{
		UserID:    userID,
		Type:      store.NotificationTaskAssigned,
		Title:     "New Task Created",
		Message:   fmt.Sprintf("Task \"%s\" has been created in %s", task.Title, projectTitle),
		Link:      projectLink(task.ProjectID),
		TaskID:    task.ID,
		ProjectID: task.ProjectID,
	}
	return n, nt.Create(ctx, n)
}

func (nt *Notifier) TaskStatusChanged(ctx context.Context, userID string, task *store.Task, from, to protocol.TaskStatus) (*store.Notification, error) {
	n := &store.Notification{
		UserID:    userID,
		Type:      store.NotificationTaskStatusChanged,
		Title:     "Task Status Updated",
		Message:   fmt.Sprintf("\"%s\" moved from %s to %s", task.Title, statusLabel(from), statusLabel(to)),
		Link:      projectLink(task.ProjectID),
		TaskID:    task.ID,
		ProjectID: task.ProjectID,
	}
	return n, nt.Create(ctx, n)
}

type ProjectAction string

const (
	ProjectCreated ProjectAction = "created"
	ProjectUpdated ProjectAction = "updated"
)

func (nt *Notifier) ProjectChanged(ctx context.Context, userID string, project *store.Project, action ProjectAction) (*store.Notification, error) {
	typ, title := store.NotificationProjectCreated, "Project Created"
	if action == ProjectUpdated {
		typ, title = store.NotificationProjectUpdated, "Project Updated"
	}
	n := &store.Notification{
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Message:   fmt.Sprintf("Project \"%s\" has been %s", project.Title, action),
		Link:      projectLink(project.ID),
		ProjectID: project.ID,
	}
	return n, nt.Create(ctx, n)
}
