package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"kyri56xcaesar/coachboard/internal/tasktree"
)

// dbtx is satisfied by both the pool and a transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type Postgres struct {
	pool *pgxpool.Pool
	db   dbtx
}

var (
	_ tasktree.Repository = (*Postgres)(nil)
	_ tasktree.Transactor = (*Postgres)(nil)
)

// ConnectPostgres opens a pool and pings the server.
func ConnectPostgres(ctx context.Context, user, password, address, name string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", user, password, address, name))
	if err != nil {
		return nil, fmt.Errorf("could not connect to the database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping the db: %w", err)
	}
	return pool, nil
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, db: pool}
}

// Migrate applies the init script.
func (p *Postgres) Migrate(ctx context.Context, initSQLPath string) error {
	script, err := Schema("postgres", initSQLPath)
	if err != nil {
		return err
	}
	zap.L().Info("executing initialization script", zap.String("dialect", "postgres"))
	if _, err := p.db.Exec(ctx, script); err != nil {
		return fmt.Errorf("failed to execute init sql: %w", err)
	}
	return nil
}

// InTx runs fn in one transaction; nested calls join the outer one.
func (p *Postgres) InTx(ctx context.Context, fn func(tasktree.Repository) error) error {
	if p.pool == nil {
		return fn(p)
	}
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return fn(&Postgres{db: tx})
	})
}

func (p *Postgres) ListGroups(ctx context.Context, ownerID string) ([]tasktree.Group, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, title, color, "order", owner_id
		FROM task_groups
		WHERE owner_id = $1
		ORDER BY "order", id
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tasktree.Group
	for rows.Next() {
		var g tasktree.Group
		if err := rows.Scan(&g.ID, &g.Title, &g.Color, &g.Order, &g.OwnerID); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateGroup(ctx context.Context, g tasktree.Group) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO task_groups (id, title, color, "order", owner_id)
		VALUES ($1,$2,$3,$4,$5)
	`, g.ID, g.Title, g.Color, g.Order, g.OwnerID)
	return err
}

func (p *Postgres) UpdateGroup(ctx context.Context, g tasktree.Group) error {
	ct, err := p.db.Exec(ctx, `
		UPDATE task_groups SET title = $1, color = $2, "order" = $3 WHERE id = $4
	`, g.Title, g.Color, g.Order, g.ID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return notFound("group", g.ID)
	}
	return nil
}

func (p *Postgres) DeleteGroup(ctx context.Context, groupID string) error {
	ct, err := p.db.Exec(ctx, `DELETE FROM task_groups WHERE id = $1`, groupID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return notFound("group", groupID)
	}
	return nil
}

const pgTaskColumns = `id, group_id, parent_id, title, description, status, priority,
	assignee, due_date, tags, "order", created_at, updated_at`

func (p *Postgres) listTasks(ctx context.Context, where string, arg string) ([]tasktree.Task, error) {
	rows, err := p.db.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM tasks
		WHERE %s
		ORDER BY "order", created_at, id
	`, pgTaskColumns, where), arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tasktree.Task
	for rows.Next() {
		var t tasktree.Task
		var parent *string
		var due *time.Time
		if err := rows.Scan(&t.ID, &t.GroupID, &parent, &t.Title, &t.Description, &t.Status, &t.Priority,
			&t.Assignee, &due, &t.Tags, &t.Order, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if parent != nil {
			t.ParentID = *parent
		}
		if due != nil {
			d := due.UTC()
			t.DueDate = &d
		}
		t.Tags = orEmptyTags(t.Tags)
		t.CreatedAt = t.CreatedAt.UTC()
		t.UpdatedAt = t.UpdatedAt.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) ListTasks(ctx context.Context, groupID string) ([]tasktree.Task, error) {
	return p.listTasks(ctx, "group_id = $1 AND parent_id IS NULL", groupID)
}

func (p *Postgres) ListSubtasks(ctx context.Context, parentID string) ([]tasktree.Task, error) {
	return p.listTasks(ctx, "parent_id = $1", parentID)
}

func (p *Postgres) ListResources(ctx context.Context, taskIDs []string) ([]tasktree.Resource, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, task_id, name, type, url, size, uploaded_at, uploaded_by
		FROM task_resources
		WHERE task_id = ANY($1)
		ORDER BY uploaded_at, id
	`, taskIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tasktree.Resource
	for rows.Next() {
		var r tasktree.Resource
		if err := rows.Scan(&r.ID, &r.TaskID, &r.Name, &r.Kind, &r.URL, &r.Size, &r.UploadedAt, &r.UploadedBy); err != nil {
			return nil, err
		}
		r.UploadedAt = r.UploadedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateTask(ctx context.Context, t tasktree.Task) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO tasks (`+pgTaskColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, t.ID, t.GroupID, nullable(t.ParentID), t.Title, t.Description, t.Status, t.Priority,
		t.Assignee, t.DueDate, orEmptyTags(t.Tags), t.Order, t.CreatedAt, t.UpdatedAt)
	return err
}

func (p *Postgres) UpdateTask(ctx context.Context, t tasktree.Task) error {
	ct, err := p.db.Exec(ctx, `
		UPDATE tasks SET
			group_id = $1, parent_id = $2, title = $3, description = $4, status = $5,
			priority = $6, assignee = $7, due_date = $8, tags = $9, "order" = $10, updated_at = $11
		WHERE id = $12
	`, t.GroupID, nullable(t.ParentID), t.Title, t.Description, t.Status,
		t.Priority, t.Assignee, t.DueDate, orEmptyTags(t.Tags), t.Order, t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return notFound("task", t.ID)
	}
	return nil
}

func (p *Postgres) DeleteTask(ctx context.Context, taskID string) error {
	ct, err := p.db.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, taskID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return notFound("task", taskID)
	}
	return nil
}

func (p *Postgres) MoveTask(ctx context.Context, taskID, groupID string, at time.Time) error {
	ct, err := p.db.Exec(ctx, `
		UPDATE tasks SET group_id = $1, updated_at = $3
		WHERE id = $2 OR parent_id = $2
	`, groupID, taskID, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return notFound("task", taskID)
	}
	return nil
}

const pgSetOrder = `UPDATE tasks SET "order" = $1, group_id = $2 WHERE id = $3`

func (p *Postgres) SetTaskOrder(ctx context.Context, u tasktree.OrderUpdate) error {
	ct, err := p.db.Exec(ctx, pgSetOrder, u.Order, u.GroupID, u.TaskID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return notFound("task", u.TaskID)
	}
	return nil
}

// SetTaskOrders sends every update in one batch.
func (p *Postgres) SetTaskOrders(ctx context.Context, us []tasktree.OrderUpdate) error {
	if len(us) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, u := range us {
		b.Queue(pgSetOrder, u.Order, u.GroupID, u.TaskID)
	}
	br := p.db.SendBatch(ctx, b)
	defer br.Close()
	for _, u := range us {
		ct, err := br.Exec()
		if err != nil {
			return fmt.Errorf("set order of %s: %w", u.TaskID, err)
		}
		if ct.RowsAffected() == 0 {
			return notFound("task", u.TaskID)
		}
	}
	return br.Close()
}

func (p *Postgres) CreateResource(ctx context.Context, r tasktree.Resource) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO task_resources (id, task_id, name, type, url, size, uploaded_at, uploaded_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, r.ID, r.TaskID, r.Name, r.Kind, r.URL, r.Size, r.UploadedAt, r.UploadedBy)
	return err
}

func (p *Postgres) DeleteResource(ctx context.Context, resourceID string) error {
	ct, err := p.db.Exec(ctx, `DELETE FROM task_resources WHERE id = $1`, resourceID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return notFound("resource", resourceID)
	}
	return nil
}

func (p *Postgres) CopyResources(ctx context.Context, fromTaskID, toTaskID string, at time.Time) ([]tasktree.Resource, error) {
	src, err := p.ListResources(ctx, []string{fromTaskID})
	if err != nil {
		return nil, err
	}
	if len(src) == 0 {
		return nil, nil
	}
	out := make([]tasktree.Resource, 0, len(src))
	b := &pgx.Batch{}
	for _, r := range src {
		r.ID = newID()
		r.TaskID = toTaskID
		r.UploadedAt = at
		b.Queue(`
			INSERT INTO task_resources (id, task_id, name, type, url, size, uploaded_at, uploaded_by)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, r.ID, r.TaskID, r.Name, r.Kind, r.URL, r.Size, r.UploadedAt, r.UploadedBy)
		out = append(out, r)
	}
	if err := p.db.SendBatch(ctx, b).Close(); err != nil {
		return nil, fmt.Errorf("copy resources of %s: %w", fromTaskID, err)
	}
	return out, nil
}
