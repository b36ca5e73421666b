package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"kyri56xcaesar/coachboard/internal/tasktree"
)

// timestamps are fixed-width UTC text so that they sort as strings
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// sqlxExt is satisfied by both the database handle and a transaction.
type sqlxExt interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

type SQLite struct {
	conn *sqlx.DB
	db   sqlxExt
}

var (
	_ tasktree.Repository = (*SQLite)(nil)
	_ tasktree.Transactor = (*SQLite)(nil)
)

// OpenSQLite opens (creating if needed) a database file, or an in-memory
// database for ":memory:". The handle is limited to one connection.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	// modernc.org/sqlite registers itself as "sqlite"
	conn, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	for _, p := range []string{
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return &SQLite{conn: conn, db: conn}, nil
}

func (s *SQLite) Close() error {
	return s.conn.Close()
}

func (s *SQLite) Migrate(ctx context.Context, initSQLPath string) error {
	script, err := Schema("sqlite", initSQLPath)
	if err != nil {
		return err
	}
	zap.L().Info("executing initialization script", zap.String("dialect", "sqlite"))
	for _, st := range statements(script) {
		if _, err := s.db.ExecContext(ctx, st); err != nil {
			return fmt.Errorf("failed to execute init sql: %w", err)
		}
	}
	return nil
}

func (s *SQLite) InTx(ctx context.Context, fn func(tasktree.Repository) error) error {
	if _, ok := s.db.(*sqlx.Tx); ok {
		return fn(s)
	}
	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&SQLite{conn: s.conn, db: tx}); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			zap.L().Warn("rollback failed", zap.Error(rerr))
		}
		return err
	}
	return tx.Commit()
}

type groupRow struct {
	ID      string `db:"id"`
	Title   string `db:"title"`
	Color   string `db:"color"`
	Order   int    `db:"order"`
	OwnerID string `db:"owner_id"`
}

type taskRow struct {
	ID          string         `db:"id"`
	GroupID     string         `db:"group_id"`
	ParentID    sql.NullString `db:"parent_id"`
	Title       string         `db:"title"`
	Description string         `db:"description"`
	Status      string         `db:"status"`
	Priority    string         `db:"priority"`
	Assignee    string         `db:"assignee"`
	DueDate     sql.NullString `db:"due_date"`
	Tags        string         `db:"tags"`
	Order       int            `db:"order"`
	CreatedAt   string         `db:"created_at"`
	UpdatedAt   string         `db:"updated_at"`
}

type resourceRow struct {
	ID         string `db:"id"`
	TaskID     string `db:"task_id"`
	Name       string `db:"name"`
	Type       string `db:"type"`
	URL        string `db:"url"`
	Size       int64  `db:"size"`
	UploadedAt string `db:"uploaded_at"`
	UploadedBy string `db:"uploaded_by"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(sqliteTime, s)
}

func mapTaskRow(row taskRow) (tasktree.Task, error) {
	t := tasktree.Task{
		ID:          row.ID,
		GroupID:     row.GroupID,
		ParentID:    row.ParentID.String,
		Title:       row.Title,
		Description: row.Description,
		Status:      tasktree.Status(row.Status),
		Priority:    tasktree.Priority(row.Priority),
		Assignee:    row.Assignee,
		Order:       row.Order,
	}
	if err := json.Unmarshal([]byte(row.Tags), &t.Tags); err != nil {
		return t, fmt.Errorf("task %s tags: %w", row.ID, err)
	}
	t.Tags = orEmptyTags(t.Tags)
	var err error
	if row.DueDate.Valid {
		d, err := parseTime(row.DueDate.String)
		if err != nil {
			return t, fmt.Errorf("task %s due_date: %w", row.ID, err)
		}
		t.DueDate = &d
	}
	if t.CreatedAt, err = parseTime(row.CreatedAt); err != nil {
		return t, fmt.Errorf("task %s created_at: %w", row.ID, err)
	}
	if t.UpdatedAt, err = parseTime(row.UpdatedAt); err != nil {
		return t, fmt.Errorf("task %s updated_at: %w", row.ID, err)
	}
	return t, nil
}

func taskArgs(t tasktree.Task) ([]any, error) {
	tags, err := json.Marshal(orEmptyTags(t.Tags))
	if err != nil {
		return nil, err
	}
	var due any
	if t.DueDate != nil {
		due = formatTime(*t.DueDate)
	}
	return []any{
		t.GroupID, nullable(t.ParentID), t.Title, t.Description, string(t.Status), string(t.Priority),
		t.Assignee, due, string(tags), t.Order, formatTime(t.CreatedAt), formatTime(t.UpdatedAt), t.ID,
	}, nil
}

func affected(res sql.Result, err error, kind, id string) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(kind, id)
	}
	return nil
}

func (s *SQLite) ListGroups(ctx context.Context, ownerID string) ([]tasktree.Group, error) {
	var rows []groupRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, title, color, "order", owner_id
		FROM task_groups
		WHERE owner_id = ?
		ORDER BY "order", id
	`, ownerID); err != nil {
		return nil, err
	}
	out := make([]tasktree.Group, 0, len(rows))
	for _, r := range rows {
		out = append(out, tasktree.Group{ID: r.ID, Title: r.Title, Color: r.Color, Order: r.Order, OwnerID: r.OwnerID})
	}
	return out, nil
}

func (s *SQLite) CreateGroup(ctx context.Context, g tasktree.Group) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_groups (id, title, color, "order", owner_id) VALUES (?,?,?,?,?)
	`, g.ID, g.Title, g.Color, g.Order, g.OwnerID)
	return err
}

func (s *SQLite) UpdateGroup(ctx context.Context, g tasktree.Group) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE task_groups SET title = ?, color = ?, "order" = ? WHERE id = ?
	`, g.Title, g.Color, g.Order, g.ID)
	return affected(res, err, "group", g.ID)
}

func (s *SQLite) DeleteGroup(ctx context.Context, groupID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM task_groups WHERE id = ?`, groupID)
	return affected(res, err, "group", groupID)
}

func (s *SQLite) listTasks(ctx context.Context, where, arg string) ([]tasktree.Task, error) {
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, group_id, parent_id, title, description, status, priority,
		       assignee, due_date, tags, "order", created_at, updated_at
		FROM tasks
		WHERE `+where+`
		ORDER BY "order", created_at, rowid
	`, arg); err != nil {
		return nil, err
	}
	out := make([]tasktree.Task, 0, len(rows))
	for _, r := range rows {
		t, err := mapTaskRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *SQLite) ListTasks(ctx context.Context, groupID string) ([]tasktree.Task, error) {
	return s.listTasks(ctx, "group_id = ? AND parent_id IS NULL", groupID)
}

func (s *SQLite) ListSubtasks(ctx context.Context, parentID string) ([]tasktree.Task, error) {
	return s.listTasks(ctx, "parent_id = ?", parentID)
}

func (s *SQLite) ListResources(ctx context.Context, taskIDs []string) ([]tasktree.Resource, error) {
	if len(taskIDs) == 0 {
		return nil, nil
	}
	q, args, err := sqlx.In(`
		SELECT id, task_id, name, type, url, size, uploaded_at, uploaded_by
		FROM task_resources
		WHERE task_id IN (?)
		ORDER BY uploaded_at, rowid
	`, taskIDs)
	if err != nil {
		return nil, err
	}
	var rows []resourceRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]tasktree.Resource, 0, len(rows))
	for _, r := range rows {
		at, err := parseTime(r.UploadedAt)
		if err != nil {
			return nil, fmt.Errorf("resource %s uploaded_at: %w", r.ID, err)
		}
		out = append(out, tasktree.Resource{
			ID: r.ID, TaskID: r.TaskID, Name: r.Name, Kind: tasktree.ResourceKind(r.Type),
			URL: r.URL, Size: r.Size, UploadedAt: at, UploadedBy: r.UploadedBy,
		})
	}
	return out, nil
}

func (s *SQLite) CreateTask(ctx context.Context, t tasktree.Task) error {
	args, err := taskArgs(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (group_id, parent_id, title, description, status, priority,
		                   assignee, due_date, tags, "order", created_at, updated_at, id)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, args...)
	return err
}

func (s *SQLite) UpdateTask(ctx context.Context, t tasktree.Task) error {
	args, err := taskArgs(t)
	if err != nil {
		return err
	}
	// created_at is immutable; its argument is dropped
	args = append(args[:10], args[11:]...)
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			group_id = ?, parent_id = ?, title = ?, description = ?, status = ?, priority = ?,
			assignee = ?, due_date = ?, tags = ?, "order" = ?, updated_at = ?
		WHERE id = ?
	`, args...)
	return affected(res, err, "task", t.ID)
}

func (s *SQLite) DeleteTask(ctx context.Context, taskID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, taskID)
	return affected(res, err, "task", taskID)
}

func (s *SQLite) MoveTask(ctx context.Context, taskID, groupID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET group_id = ?, updated_at = ? WHERE id = ? OR parent_id = ?
	`, groupID, formatTime(at), taskID, taskID)
	return affected(res, err, "task", taskID)
}

func (s *SQLite) SetTaskOrder(ctx context.Context, u tasktree.OrderUpdate) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET "order" = ?, group_id = ? WHERE id = ?`,
		u.Order, u.GroupID, u.TaskID)
	return affected(res, err, "task", u.TaskID)
}

// SetTaskOrders applies every update inside one transaction.
func (s *SQLite) SetTaskOrders(ctx context.Context, us []tasktree.OrderUpdate) error {
	return s.InTx(ctx, func(r tasktree.Repository) error {
		for _, u := range us {
			if err := r.SetTaskOrder(ctx, u); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLite) CreateResource(ctx context.Context, r tasktree.Resource) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_resources (id, task_id, name, type, url, size, uploaded_at, uploaded_by)
		VALUES (?,?,?,?,?,?,?,?)
	`, r.ID, r.TaskID, r.Name, string(r.Kind), r.URL, r.Size, formatTime(r.UploadedAt), r.UploadedBy)
	return err
}

func (s *SQLite) DeleteResource(ctx context.Context, resourceID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM task_resources WHERE id = ?`, resourceID)
	return affected(res, err, "resource", resourceID)
}

func (s *SQLite) CopyResources(ctx context.Context, fromTaskID, toTaskID string, at time.Time) ([]tasktree.Resource, error) {
	var out []tasktree.Resource
	err := s.InTx(ctx, func(r tasktree.Repository) error {
		src, err := r.ListResources(ctx, []string{fromTaskID})
		if err != nil {
			return err
		}
		for _, res := range src {
			res.ID = newID()
			res.TaskID = toTaskID
			res.UploadedAt = at
			if err := r.CreateResource(ctx, res); err != nil {
				return err
			}
			out = append(out, res)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("copy resources of %s: %w", fromTaskID, err)
	}
	return out, nil
}
