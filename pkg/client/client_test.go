package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m0nds/teamflow-pro/pkg/logging"
	"github.com/m0nds/teamflow-pro/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu            sync.Mutex
	notifications []Notification
	unread        int
	tasks         []Task
	failPatch     bool
	marked        []string
	fetches       int
	taskFetches   int
}

func (f *fakeAPI) reply(w http.ResponseWriter, status int, data any, errMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{"success": errMsg == ""}
	if data != nil {
		body["data"] = data
	}
	if errMsg != "" {
		body["error"] = errMsg
	}
	_ = json.NewEncoder(w).Encode(body)
}

func (f *fakeAPI) handler() http.Handler {
	mux := newMethodMux()
	mux.HandleFunc("GET /api/notifications", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.fetches++
		f.reply(w, http.StatusOK, NotificationPage{Notifications: f.notifications, UnreadCount: f.unread}, "")
	})
	mux.HandleFunc("POST /api/notifications/mark-read", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			NotificationID string `json:"notificationId"`
			MarkAllRead    bool   `json:"markAllRead"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		defer f.mu.Unlock()
		if req.NotificationID == "gone" {
			f.reply(w, http.StatusNotFound, nil, "Notification not found")
			return
		}
		if req.MarkAllRead {
			f.marked = append(f.marked, "*")
		} else {
			f.marked = append(f.marked, req.NotificationID)
		}
		f.reply(w, http.StatusOK, map[string]int{"marked": 1}, "")
	})
	mux.HandleFunc("GET /api/tasks", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.taskFetches++
		f.reply(w, http.StatusOK, f.tasks, "")
	})
	mux.HandleFunc("PATCH /api/tasks", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TaskID string              `json:"taskId"`
			Status protocol.TaskStatus `json:"status"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failPatch {
			f.reply(w, http.StatusInternalServerError, nil, "Failed to update task")
			return
		}
		for i := range f.tasks {
			if f.tasks[i].ID == req.TaskID {
				f.tasks[i].Status = req.Status
				f.reply(w, http.StatusOK, f.tasks[i], "")
				return
			}
		}
		f.reply(w, http.StatusNotFound, nil, "Task not found")
	})
	return mux
}

// methodMux emulates Go 1.22 "METHOD /path" ServeMux patterns (exact path,
// method dispatch, 405 otherwise) so the fake API runs on older toolchains.
type methodMux struct {
	mux    *http.ServeMux
	routes map[string]map[string]http.HandlerFunc
}

func newMethodMux() *methodMux {
	return &methodMux{mux: http.NewServeMux(), routes: map[string]map[string]http.HandlerFunc{}}
}

func (m *methodMux) HandleFunc(pattern string, h http.HandlerFunc) {
	method, path, _ := strings.Cut(pattern, " ")
	if _, ok := m.routes[path]; !ok {
		byMethod := map[string]http.HandlerFunc{}
		m.routes[path] = byMethod
		m.mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			if h, ok := byMethod[r.Method]; ok {
				h(w, r)
				return
			}
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		})
	}
	m.routes[path][method] = h
}

func (m *methodMux) ServeHTTP(w http.ResponseWriter, r *http.Request) { m.mux.ServeHTTP(w, r) }

func newFake(t *testing.T, f *fakeAPI) *API {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return NewAPI(srv.URL, "token", srv.Client())
}

func push(id string) protocol.NewNotification {
	return protocol.NewNotification{
		ID:        id,
		Type:      "TASK_ASSIGNED",
		Title:     "New Task Assigned",
		Message:   "You have been assigned to: " + id,
		CreatedAt: "2024-05-01T12:30:00.250Z",
	}
}

type recordingEmitter struct {
	mu    sync.Mutex
	moves []protocol.TaskStatusChange
	err   error
}

func (r *recordingEmitter) ChangeTaskStatus(_ context.Context, taskID string, status protocol.TaskStatus, projectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moves = append(r.moves, protocol.TaskStatusChange{TaskID: taskID, Status: status, ProjectID: projectID})
	return r.err
}

func TestFeedApplyIsIdempotentByID(t *testing.T) {
	fake := &fakeAPI{notifications: []Notification{{ID: "n1", Title: "seed"}}, unread: 1}
	var seen []string
	feed := NewNotificationFeed(newFake(t, fake), logging.Discard(), func(n Notification) { seen = append(seen, n.ID) })
	require.NoError(t, feed.Sync(context.Background()))

	assert.False(t, feed.Apply(push("n1")))
	assert.Equal(t, 1, feed.Unread())

	assert.True(t, feed.Apply(push("n2")))
	assert.False(t, feed.Apply(push("n2")))
	assert.Equal(t, 2, feed.Unread())

	items := feed.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "n2", items[0].ID)
	assert.False(t, items[0].Read)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 30, 0, 250_000_000, time.UTC), items[0].CreatedAt.UTC())
	assert.Equal(t, []string{"n2"}, seen)
}

func TestFeedSyncReplacesLocalState(t *testing.T) {
	fake := &fakeAPI{}
	feed := NewNotificationFeed(newFake(t, fake), logging.Discard(), nil)
	feed.Handle(push("n1"))
	feed.Handle(protocol.UserLeft{UserID: "x", ProjectID: "p"})
	assert.Equal(t, 1, feed.Unread())

	fake.mu.Lock()
	fake.notifications = []Notification{{ID: "n2"}, {ID: "n1"}}
	fake.unread = 2
	fake.mu.Unlock()

	require.NoError(t, feed.Sync(context.Background()))
	assert.Equal(t, 2, feed.Unread())
	assert.False(t, feed.Apply(push("n2")), "a push already covered by the fetch is not counted again")
	assert.Equal(t, 2, feed.Unread())
}

func TestFeedMarkRead(t *testing.T) {
	fake := &fakeAPI{notifications: []Notification{{ID: "n1"}, {ID: "n2"}}, unread: 2}
	feed := NewNotificationFeed(newFake(t, fake), logging.Discard(), nil)
	ctx := context.Background()
	require.NoError(t, feed.Sync(ctx))

	require.NoError(t, feed.MarkRead(ctx, "n1"))
	assert.Equal(t, 1, feed.Unread())
	require.NoError(t, feed.MarkRead(ctx, "n1"))
	assert.Equal(t, 1, feed.Unread(), "already read")

	err := feed.MarkRead(ctx, "gone")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "Notification not found", apiErr.Message)
	assert.Equal(t, 1, feed.Unread())

	require.NoError(t, feed.MarkAllRead(ctx))
	assert.Equal(t, 0, feed.Unread())
	for _, n := range feed.Items() {
		assert.True(t, n.Read)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, []string{"n1", "n1", "*"}, fake.marked)
}

func TestFeedPollRefetches(t *testing.T) {
	fake := &fakeAPI{}
	feed := NewNotificationFeed(newFake(t, fake), logging.Discard(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- feed.Poll(ctx, 10*time.Millisecond) }()

	require.Eventually(t, func() bool {
		fake.mu.Lock()
		defer fake.mu.Unlock()
		return fake.fetches >= 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func boardFixture(t *testing.T) (*fakeAPI, *recordingEmitter, *TaskBoard, *[]string) {
	t.Helper()
	fake := &fakeAPI{tasks: []Task{
		{ID: "t1", Title: "Write docs", Status: protocol.StatusTodo, ProjectID: "p1"},
		{ID: "t2", Title: "Ship", Status: protocol.StatusReview, ProjectID: "p1"},
	}}
	em := &recordingEmitter{}
	var notices []string
	board := NewTaskBoard(newFake(t, fake), em, "p1", logging.Discard(), func(s string) { notices = append(notices, s) })
	require.NoError(t, board.Load(context.Background()))
	return fake, em, board, &notices
}

func TestBoardMoveIsOptimisticAndDurable(t *testing.T) {
	fake, em, board, _ := boardFixture(t)

	require.NoError(t, board.Move(context.Background(), "t1", protocol.StatusInProgress))
	assert.Equal(t, protocol.StatusInProgress, board.Tasks()[0].Status)
	assert.Equal(t, []protocol.TaskStatusChange{{TaskID: "t1", Status: protocol.StatusInProgress, ProjectID: "p1"}}, em.moves)
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, protocol.StatusInProgress, fake.tasks[0].Status)
}

func TestBoardMoveSurvivesEmitFailure(t *testing.T) {
	_, em, board, _ := boardFixture(t)
	em.err = errors.New("socket closed")

	require.NoError(t, board.Move(context.Background(), "t2", protocol.StatusDone))
	assert.Equal(t, protocol.StatusDone, board.Tasks()[1].Status)
}

func TestBoardMoveFailureRefetches(t *testing.T) {
	fake, em, board, _ := boardFixture(t)
	fake.mu.Lock()
	fake.failPatch = true
	fake.mu.Unlock()

	err := board.Move(context.Background(), "t1", protocol.StatusDone)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)

	// the live emit already went out; only local state is repaired
	assert.Len(t, em.moves, 1)
	assert.Equal(t, protocol.StatusTodo, board.Tasks()[0].Status)
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, 2, fake.taskFetches)
}

func TestBoardMoveRejectsBadInput(t *testing.T) {
	_, em, board, _ := boardFixture(t)
	assert.ErrorIs(t, board.Move(context.Background(), "nope", protocol.StatusDone), ErrUnknownTask)
	assert.Error(t, board.Move(context.Background(), "t1", protocol.TaskStatus("LOST")))
	assert.Empty(t, em.moves)
}

func TestBoardApplyRemote(t *testing.T) {
	_, _, board, notices := boardFixture(t)

	board.Handle(protocol.TaskUpdated{TaskID: "t1", Status: protocol.StatusInProgress, ProjectID: "p1", UpdatedBy: "c"})
	assert.Equal(t, protocol.StatusInProgress, board.Tasks()[0].Status)

	assert.False(t, board.ApplyRemote(protocol.TaskUpdated{TaskID: "t9", Status: protocol.StatusDone, ProjectID: "p1"}))
	board.Handle(protocol.TaskUpdated{TaskID: "t2", Status: protocol.StatusDone, ProjectID: "p2"})
	assert.Equal(t, protocol.StatusReview, board.Tasks()[1].Status)

	board.Handle(protocol.ProjectActivity{Type: protocol.ActivityTaskUpdated, Message: "Task status changed to IN_PROGRESS", ProjectID: "p1"})
	assert.Equal(t, []string{`"Write docs" moved to IN PROGRESS`, "Task status changed to IN_PROGRESS"}, *notices)
}

func TestBoardTracksPresence(t *testing.T) {
	_, _, board, _ := boardFixture(t)
	board.Handle(protocol.UserJoined{UserID: "c1", UserName: "User-c1c1", ProjectID: "p1"})
	board.Handle(protocol.UserJoined{UserID: "c2", UserName: "User-c2c2", ProjectID: "p1"})
	board.Handle(protocol.UserJoined{UserID: "c3", UserName: "User-c3c3", ProjectID: "other"})
	board.Handle(protocol.UserLeft{UserID: "c1", ProjectID: "p1"})

	assert.Equal(t, map[string]string{"c2": "User-c2c2"}, board.Online())
}
