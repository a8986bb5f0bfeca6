package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/m0nds/teamflow-pro/pkg/protocol"
)

var ErrUnknownTask = errors.New("task not on board")

// StatusEmitter publishes a board move on the live path. *Conn satisfies it.
type StatusEmitter interface {
	ChangeTaskStatus(ctx context.Context, taskID string, status protocol.TaskStatus, projectID string) error
}

// TaskBoard is the local view of one project's tasks. Moves are applied
// optimistically and announced live before the durable write; the two paths
// are independent and a failed write is repaired by refetching.
type TaskBoard struct {
	api       *API
	emitter   StatusEmitter
	projectID string
	logger    *slog.Logger
	notice    func(string)

	mu     sync.Mutex
	tasks  []Task
	online map[string]string
}

// NewTaskBoard builds an empty board; call Load to seed it. notice receives
// transient user-facing messages and may be nil.
func NewTaskBoard(api *API, emitter StatusEmitter, projectID string, logger *slog.Logger, notice func(string)) *TaskBoard {
	if notice == nil {
		notice = func(string) {}
	}
	return &TaskBoard{
		api:       api,
		emitter:   emitter,
		projectID: projectID,
		logger:    logger,
		notice:    notice,
		online:    map[string]string{},
	}
}

// Load replaces the board with the server's tasks.
func (b *TaskBoard) Load(ctx context.Context) error {
	tasks, err := b.api.Tasks(ctx, b.projectID)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.tasks = tasks
	b.mu.Unlock()
	return nil
}

// Move drags a task to a new column. The live emit is best effort; only the
// durable write decides the error, and on failure the board is refetched.
func (b *TaskBoard) Move(ctx context.Context, taskID string, status protocol.TaskStatus) error {
	if !status.Valid() {
		return fmt.Errorf("unknown status %q", status)
	}
	b.mu.Lock()
	i := b.find(taskID)
	if i < 0 {
		b.mu.Unlock()
		return ErrUnknownTask
	}
	b.tasks[i].Status = status
	b.mu.Unlock()

	if b.emitter != nil {
		if err := b.emitter.ChangeTaskStatus(ctx, taskID, status, b.projectID); err != nil {
			b.logger.Warn("Live status emit failed", slog.String("taskId", taskID), slog.Any("error", err))
		}
	}

	if _, err := b.api.UpdateTaskStatus(ctx, taskID, status); err != nil {
		if lerr := b.Load(ctx); lerr != nil {
			return errors.Join(err, fmt.Errorf("refetching tasks: %w", lerr))
		}
		return err
	}
	return nil
}

// ApplyRemote merges a move made by another connection. Tasks not on this
// board are ignored.
func (b *TaskBoard) ApplyRemote(ev protocol.TaskUpdated) bool {
	b.mu.Lock()
	i := b.find(ev.TaskID)
	if i < 0 {
		b.mu.Unlock()
		return false
	}
	b.tasks[i].Status = ev.Status
	title := b.tasks[i].Title
	b.mu.Unlock()

	b.notice(fmt.Sprintf("\"%s\" moved to %s", title, strings.Replace(string(ev.Status), "_", " ", 1)))
	return true
}

// Handle adapts the board to Conn.Run. Events for other projects are ignored.
func (b *TaskBoard) Handle(ev protocol.Outbound) {
	switch e := ev.(type) {
	case protocol.TaskUpdated:
		if e.ProjectID == b.projectID {
			b.ApplyRemote(e)
		}
	case protocol.ProjectActivity:
		if e.ProjectID == b.projectID {
			b.notice(e.Message)
		}
	case protocol.UserJoined:
		if e.ProjectID == b.projectID {
			b.mu.Lock()
			b.online[e.UserID] = e.UserName
			b.mu.Unlock()
		}
	case protocol.UserLeft:
		if e.ProjectID == b.projectID {
			b.mu.Lock()
			delete(b.online, e.UserID)
			b.mu.Unlock()
		}
	}
}

func (b *TaskBoard) find(taskID string) int {
	for i := range b.tasks {
		if b.tasks[i].ID == taskID {
			return i
		}
	}
	return -1
}

func (b *TaskBoard) Tasks() []Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Task(nil), b.tasks...)
}

// Online returns the other connections seen joining this project, keyed by
// connection id.
func (b *TaskBoard) Online() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string, len(b.online))
	for k, v := range b.online {
		out[k] = v
	}
	return out
}
