package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/m0nds/teamflow-pro/internal/notify"
	"github.com/m0nds/teamflow-pro/internal/server/middleware"
	"github.com/m0nds/teamflow-pro/internal/store"
	"github.com/m0nds/teamflow-pro/pkg/protocol"
)

const maxBodyBytes = 1 << 20

type apiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiResponse{Success: false, Error: msg})
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

// bind decodes and validates a request body, answering 400 itself on failure.
func (a *App) bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := readJSON(w, r, dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, describeValidation(err))
		return false
	}
	return true
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Invalid request"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+" failed '"+fe.Tag()+"'")
	}
	return "Invalid request: " + strings.Join(parts, ", ")
}

// userID is guaranteed by the auth middleware on /api routes.
func userID(r *http.Request) string {
	id, _ := middleware.UserIDFrom(r.Context())
	return id
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok"}
	if err := a.store.Ping(r.Context()); err != nil {
		a.logger.Error("Health check: store unreachable", slog.Any("error", err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "store": "unreachable"})
		return
	}
	if b, ok := a.locator.Get(); ok {
		n, err := b.ConnectionCount(r.Context())
		if err == nil {
			status["connections"] = n
		}
		status["broker"] = "running"
	} else {
		status["broker"] = "idle"
	}
	writeJSON(w, http.StatusOK, status)
}

// --- notifications ---

type notificationList struct {
	Notifications []store.Notification `json:"notifications"`
	UnreadCount   int                  `json:"unreadCount"`
}

func (a *App) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	unreadOnly := r.URL.Query().Get("unread") == "true"

	list, err := a.store.ListNotifications(r.Context(), uid, unreadOnly, store.DefaultListLimit)
	if err != nil {
		a.logger.Error("Failed to fetch notifications", slog.String("userId", uid), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch notifications")
		return
	}
	unread, err := a.store.CountUnread(r.Context(), uid)
	if err != nil {
		a.logger.Error("Failed to count notifications", slog.String("userId", uid), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch notifications")
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: notificationList{Notifications: list, UnreadCount: unread}})
}

type markReadRequest struct {
	NotificationID string `json:"notificationId" validate:"required_without=MarkAllRead"`
	MarkAllRead    bool   `json:"markAllRead"`
}

func (a *App) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if !a.bind(w, r, &req) {
		return
	}
	uid := userID(r)

	var marked int64
	var err error
	if req.MarkAllRead {
		marked, err = a.store.MarkAllRead(r.Context(), uid)
	} else {
		err = a.store.MarkRead(r.Context(), uid, req.NotificationID)
		marked = 1
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Notification not found")
		return
	case err != nil:
		a.logger.Error("Failed to mark notifications read", slog.String("userId", uid), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "Failed to update notifications")
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Data:    map[string]int64{"marked": marked},
		Message: "Notifications marked as read",
	})
}

// --- projects ---

type createProjectRequest struct {
	Title       string `json:"title" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
}

func (a *App) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := a.store.ListProjects(r.Context(), userID(r))
	if err != nil {
		a.logger.Error("Failed to fetch projects", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch projects")
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: projects})
}

func (a *App) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if !a.bind(w, r, &req) {
		return
	}
	uid := userID(r)
	project := &store.Project{Title: req.Title, Description: req.Description, UserID: uid}
	if err := a.store.CreateProject(r.Context(), project); err != nil {
		a.logger.Error("Failed to create project", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "Failed to create project")
		return
	}
	if _, err := a.notifier.ProjectChanged(r.Context(), uid, project, notify.ProjectCreated); err != nil {
		a.logger.Error("Failed to create project notification", slog.String("projectId", project.ID), slog.Any("error", err))
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: project})
}

// --- tasks ---

type createTaskRequest struct {
	Title       string         `json:"title" validate:"required,max=200"`
	Description string         `json:"description" validate:"max=1000"`
	Priority    store.Priority `json:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
	ProjectID   string         `json:"projectId" validate:"required"`
	AssigneeID  string         `json:"assigneeId"`
	DueDate     string         `json:"dueDate"`
}

type updateTaskStatusRequest struct {
	TaskID string              `json:"taskId" validate:"required"`
	Status protocol.TaskStatus `json:"status" validate:"required,oneof=TODO IN_PROGRESS REVIEW DONE"`
}

func (a *App) handleListTasks(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("projectId")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "Project ID is required")
		return
	}
	tasks, err := a.store.ListTasks(r.Context(), projectID)
	if err != nil {
		a.logger.Error("Failed to fetch tasks", slog.String("projectId", projectID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch tasks")
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: tasks})
}

func (a *App) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !a.bind(w, r, &req) {
		return
	}
	uid := userID(r)

	project, err := a.store.GetProject(r.Context(), req.ProjectID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Project not found")
		return
	}
	if err != nil {
		a.logger.Error("Failed to load project", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "Failed to create task")
		return
	}

	task := &store.Task{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		ProjectID:   req.ProjectID,
		AssigneeID:  req.AssigneeID,
	}
	if req.DueDate != "" {
		due, err := parseDueDate(req.DueDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid due date")
			return
		}
		task.DueDate = &due
	}
	if err := a.store.CreateTask(r.Context(), task); err != nil {
		a.logger.Error("Failed to create task", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "Failed to create task")
		return
	}

	if task.AssigneeID != "" {
		_, err = a.notifier.TaskAssigned(r.Context(), task.AssigneeID, task)
	} else {
		_, err = a.notifier.TaskCreated(r.Context(), uid, task, project.Title)
	}
	if err != nil {
		a.logger.Error("Failed to create task notification", slog.String("taskId", task.ID), slog.Any("error", err))
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: task})
}

func parseDueDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

// handleUpdateTaskStatus is the durable half of a board move. It does not
// broadcast; connected viewers learn about the move over the socket.
func (a *App) handleUpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req updateTaskStatusRequest
	if !a.bind(w, r, &req) {
		return
	}
	uid := userID(r)

	old, task, err := a.store.UpdateTaskStatus(r.Context(), req.TaskID, req.Status)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	if err != nil {
		a.logger.Error("Failed to update task", slog.String("taskId", req.TaskID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "Failed to update task")
		return
	}

	if _, err := a.notifier.TaskStatusChanged(r.Context(), uid, task, old, req.Status); err != nil {
		a.logger.Error("Failed to create status notification", slog.String("taskId", task.ID), slog.Any("error", err))
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: task})
}
