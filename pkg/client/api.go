// Package client is the consuming side of the realtime layer: a REST client
// for the collaborator endpoints, a socket connection, and the reconcilers
// that merge live pushes with polling and optimistic board moves.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/m0nds/teamflow-pro/pkg/protocol"
)

type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Link      string    `json:"link,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// notificationFrom converts a live push into a list entry. Pushes are always
// unread.
func notificationFrom(ev protocol.NewNotification) Notification {
	created, _ := time.Parse(time.RFC3339, ev.CreatedAt)
	return Notification{
		ID:        ev.ID,
		Type:      ev.Type,
		Title:     ev.Title,
		Message:   ev.Message,
		Link:      ev.Link,
		CreatedAt: created,
	}
}

type Project struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	UserID      string    `json:"userId"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Task struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Status      protocol.TaskStatus `json:"status"`
	Priority    string              `json:"priority"`
	ProjectID   string              `json:"projectId"`
	AssigneeID  string              `json:"assigneeId,omitempty"`
	DueDate     *time.Time          `json:"dueDate,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

type NewTask struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
	ProjectID   string `json:"projectId"`
	AssigneeID  string `json:"assigneeId,omitempty"`
	DueDate     string `json:"dueDate,omitempty"`
}

type NotificationPage struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unreadCount"`
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

type API struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewAPI targets baseURL (scheme and host, no trailing path). A nil hc uses
// a client with a 15s timeout.
func NewAPI(baseURL, token string, hc *http.Client) *API {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &API{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: hc}
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && err != io.EOF {
		if resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("decoding response: %w", err)
	}
	if resp.StatusCode >= 300 || !env.Success {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decoding data: %w", err)
		}
	}
	return nil
}

// Probe asks the server to bring the broker up before the socket is opened.
func (a *API) Probe(ctx context.Context, socketPath string) error {
	return a.do(ctx, http.MethodGet, socketPath, nil, nil)
}

func (a *API) Notifications(ctx context.Context, unreadOnly bool) (*NotificationPage, error) {
	path := "/api/notifications"
	if unreadOnly {
		path += "?unread=true"
	}
	var page NotificationPage
	if err := a.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (a *API) MarkRead(ctx context.Context, notificationID string) error {
	return a.do(ctx, http.MethodPost, "/api/notifications/mark-read", map[string]any{"notificationId": notificationID}, nil)
}

func (a *API) MarkAllRead(ctx context.Context) (int64, error) {
	var out struct {
		Marked int64 `json:"marked"`
	}
	err := a.do(ctx, http.MethodPost, "/api/notifications/mark-read", map[string]any{"markAllRead": true}, &out)
	return out.Marked, err
}

func (a *API) Projects(ctx context.Context) ([]Project, error) {
	var out []Project
	if err := a.do(ctx, http.MethodGet, "/api/projects", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) CreateProject(ctx context.Context, title, description string) (*Project, error) {
	var out Project
	body := map[string]string{"title": title, "description": description}
	if err := a.do(ctx, http.MethodPost, "/api/projects", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) Tasks(ctx context.Context, projectID string) ([]Task, error) {
	var out []Task
	if err := a.do(ctx, http.MethodGet, "/api/tasks?projectId="+url.QueryEscape(projectID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) CreateTask(ctx context.Context, t NewTask) (*Task, error) {
	var out Task
	if err := a.do(ctx, http.MethodPost, "/api/tasks", t, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) UpdateTaskStatus(ctx context.Context, taskID string, status protocol.TaskStatus) (*Task, error) {
	var out Task
	body := map[string]string{"taskId": taskID, "status": string(status)}
	if err := a.do(ctx, http.MethodPatch, "/api/tasks", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
