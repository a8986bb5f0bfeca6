package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m0nds/teamflow-pro/pkg/protocol"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLStore implements Store over database/sql. Queries are written with "?"
// placeholders and rebound for postgres.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func newSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Dialect() Dialect { return s.dialect }

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) q(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	return rebind(query)
}

// rebind rewrites "?" placeholders to "$1", "$2", ...
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *SQLStore) stamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// sqliteTimeFormat is fixed width so that text ordering matches time ordering.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z"

// ts prepares a timestamp argument for the backend.
func (s *SQLStore) ts(t time.Time) any {
	if s.dialect == DialectSQLite {
		return t.UTC().Format(sqliteTimeFormat)
	}
	return t.UTC()
}

// --- Notifications ---

const notificationColumns = `id, user_id, type, title, message, link, project_id, task_id, read, created_at`

func (s *SQLStore) CreateNotification(ctx context.Context, n *Notification) error {
	if n.UserID == "" || n.Title == "" || n.Message == "" {
		return fmt.Errorf("%w: notification needs user, title and message", ErrInvalidEntity)
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.stamp()
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO notifications (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		n.ID, n.UserID, string(n.Type), n.Title, n.Message,
		nullString(n.Link), nullString(n.ProjectID), nullString(n.TaskID), n.Read, s.ts(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting notification: %w", MapError(err))
	}
	return nil
}

func (s *SQLStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = ?`
	args := []any{userID}
	if unreadOnly {
		query += ` AND read = ?`
		args = append(args, false)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", MapError(err))
	}
	defer rows.Close()

	out := make([]Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (s *SQLStore) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND read = ?`), userID, false).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting unread notifications: %w", MapError(err))
	}
	return n, nil
}

func (s *SQLStore) MarkRead(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE notifications SET read = ? WHERE id = ? AND user_id = ?`), true, id, userID)
	if err != nil {
		return fmt.Errorf("marking notification read: %w", MapError(err))
	}
	_, err = checkRowsAffected(res, ErrNotificationNotFound)
	return err
}

func (s *SQLStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE notifications SET read = ? WHERE user_id = ? AND read = ?`), true, userID, false)
	if err != nil {
		return 0, fmt.Errorf("marking all notifications read: %w", MapError(err))
	}
	return checkRowsAffected(res, nil)
}

func scanNotification(sc scanner) (*Notification, error) {
	var (
		n                       Notification
		typ                     string
		link, projectID, taskID sql.NullString
		created                 dbTime
	)
	if err := sc.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &link, &projectID, &taskID, &n.Read, &created); err != nil {
		return nil, fmt.Errorf("scanning notification: %w", MapError(err))
	}
	n.Type = NotificationType(typ)
	n.Link = link.String
	n.ProjectID = projectID.String
	n.TaskID = taskID.String
	n.CreatedAt = created.Time
	return &n, nil
}

// --- Projects ---

func (s *SQLStore) CreateProject(ctx context.Context, p *Project) error {
	if p.Title == "" || p.UserID == "" {
		return fmt.Errorf("%w: project needs a title and an owner", ErrInvalidEntity)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.stamp()
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO projects (id, title, description, user_id, created_at) VALUES (?, ?, ?, ?, ?)`),
		p.ID, p.Title, p.Description, p.UserID, s.ts(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting project: %w", MapError(err))
	}
	return nil
}

func (s *SQLStore) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT id, title, description, user_id, created_at FROM projects WHERE id = ?`), id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProjectNotFound
	}
	return p, err
}

func (s *SQLStore) ListProjects(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, title, description, user_id, created_at FROM projects
		WHERE user_id = ? ORDER BY created_at DESC, id DESC`), userID)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", MapError(err))
	}
	defer rows.Close()

	out := make([]Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanProject(sc scanner) (*Project, error) {
	var (
		p       Project
		created dbTime
	)
	if err := sc.Scan(&p.ID, &p.Title, &p.Description, &p.UserID, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning project: %w", MapError(err))
	}
	p.CreatedAt = created.Time
	return &p, nil
}

// --- Tasks ---

const taskColumns = `id, title, description, status, priority, project_id, assignee_id, due_date, created_at, updated_at`

func (s *SQLStore) CreateTask(ctx context.Context, t *Task) error {
	if t.Title == "" || t.ProjectID == "" {
		return fmt.Errorf("%w: task needs a title and a project", ErrInvalidEntity)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = protocol.StatusTodo
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	now := s.stamp()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = t.CreatedAt

	var due any
	if t.DueDate != nil {
		due = s.ts(*t.DueDate)
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.Title, t.Description, string(t.Status), string(t.Priority), t.ProjectID,
		nullString(t.AssigneeID), due, s.ts(t.CreatedAt), s.ts(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("inserting task: %w", MapError(err))
	}
	return nil
}

func (s *SQLStore) GetTask(ctx context.Context, id string) (*Task, error) {
	return s.getTask(ctx, s.db, id)
}

func (s *SQLStore) getTask(ctx context.Context, q queryer, id string) (*Task, error) {
	row := q.QueryRowContext(ctx, s.q(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`), id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return t, err
}

func (s *SQLStore) ListTasks(ctx context.Context, projectID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+taskColumns+` FROM tasks WHERE project_id = ? ORDER BY created_at DESC, id DESC`), projectID)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", MapError(err))
	}
	defer rows.Close()

	out := make([]Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateTaskStatus(ctx context.Context, id string, status protocol.TaskStatus) (protocol.TaskStatus, *Task, error) {
	if !status.Valid() {
		return "", nil, fmt.Errorf("%w: unknown status %q", ErrInvalidEntity, status)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	before, err := s.getTask(ctx, tx, id)
	if err != nil {
		return "", nil, err
	}
	updatedAt := s.stamp()
	if _, err := tx.ExecContext(ctx, s.q(`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`), string(status), s.ts(updatedAt), id); err != nil {
		return "", nil, fmt.Errorf("updating task status: %w", MapError(err))
	}
	if err := tx.Commit(); err != nil {
		return "", nil, fmt.Errorf("committing task status: %w", err)
	}

	after := *before
	after.Status = status
	after.UpdatedAt = updatedAt
	return before.Status, &after, nil
}

func scanTask(sc scanner) (*Task, error) {
	var (
		t                Task
		status, priority string
		assignee         sql.NullString
		due              dbTime
		created, updated dbTime
	)
	if err := sc.Scan(&t.ID, &t.Title, &t.Description, &status, &priority, &t.ProjectID, &assignee, &due, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning task: %w", MapError(err))
	}
	t.Status = protocol.TaskStatus(status)
	t.Priority = Priority(priority)
	t.AssigneeID = assignee.String
	if due.Valid {
		d := due.Time
		t.DueDate = &d
	}
	t.CreatedAt = created.Time
	t.UpdatedAt = updated.Time
	return &t, nil
}

// --- helpers ---

type scanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// dbTime scans timestamps from either backend: postgres hands back
// time.Time, sqlite may hand back text.
type dbTime struct {
	Time  time.Time
	Valid bool
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	}
	return fmt.Errorf("cannot scan %T into a timestamp", src)
}

func (t *dbTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = parsed.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}

