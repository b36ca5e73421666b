// Package tasktree holds the task hierarchy engine: a flat in-memory forest
// of groups, tasks, subtasks and resources, plus the operations that mutate
// it optimistically and persist through a Repository.
package tasktree

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kyri56xcaesar/coachboard/internal/ordering"
)

type Options struct {
	Objects  ObjectStore
	Recorder Recorder
	Now      func() time.Time
	NewID    func() string
	// PersistSiblings makes a reorder write every sibling whose key changed,
	// not only the moved item.
	PersistSiblings bool
}

// Engine owns the board of a single owner.
type Engine struct {
	OwnerID string
	Store   *Store

	Reorder     *Coordinator
	Cascade     *Cascade
	Attachments *Attachments

	repo    Repository
	objects ObjectStore
	rec     Recorder
	now     func() time.Time
	newID   func() string
}

func New(ownerID string, repo Repository, opts Options) *Engine {
	e := &Engine{
		OwnerID: ownerID,
		Store:   NewStore(),
		repo:    repo,
		objects: opts.Objects,
		rec:     opts.Recorder,
		now:     opts.Now,
		newID:   opts.NewID,
	}
	if e.rec == nil {
		e.rec = nopRecorder{}
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	e.Reorder = &Coordinator{e: e, persistSiblings: opts.PersistSiblings}
	e.Cascade = &Cascade{e: e}
	e.Attachments = &Attachments{e: e}
	return e
}

// Load reads the whole board of the owner from the repository and replaces
// the local forest.
func (e *Engine) Load(ctx context.Context) error {
	groups, err := e.repo.ListGroups(ctx, e.OwnerID)
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}
	var tasks []Task
	for _, g := range groups {
		top, err := e.repo.ListTasks(ctx, g.ID)
		if err != nil {
			return fmt.Errorf("list tasks of group %s: %w", g.ID, err)
		}
		for _, t := range top {
			tasks = append(tasks, t)
			subs, err := e.repo.ListSubtasks(ctx, t.ID)
			if err != nil {
				return fmt.Errorf("list subtasks of %s: %w", t.ID, err)
			}
			tasks = append(tasks, subs...)
		}
	}
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	var resources []Resource
	if len(ids) > 0 {
		resources, err = e.repo.ListResources(ctx, ids)
		if err != nil {
			return fmt.Errorf("list resources: %w", err)
		}
	}
	e.Store.Load(groups, tasks, resources)
	return nil
}

// commit applies a local mutation, persists it, and restores the
// pre-mutation snapshot when persisting fails.
func (e *Engine) commit(ctx context.Context, op string, apply func() error, persist func(context.Context) error) error {
	snap := e.Store.Snapshot()
	if err := apply(); err != nil {
		e.Store.Restore(snap)
		e.rec.Mutation(op, OutcomeRejected)
		return err
	}
	err := persist(ctx)
	if err == nil {
		e.rec.Mutation(op, OutcomeCommitted)
		return nil
	}

	e.Store.Restore(snap)
	var partial *PartialCascadeError
	if errors.As(err, &partial) {
		e.rec.Mutation(op, OutcomePartial)
		zap.L().Error("cascade left partial state, reloading board",
			zap.String("op", op), zap.String("owner", e.OwnerID),
			zap.Strings("completed", partial.Completed), zap.Error(partial.Err))
		if lerr := e.Load(ctx); lerr != nil {
			zap.L().Warn("reload after partial cascade failed", zap.String("owner", e.OwnerID), zap.Error(lerr))
		}
		return partial
	}
	e.rec.Mutation(op, OutcomeRolledBack)
	zap.L().Warn("persist failed, local state rolled back",
		zap.String("op", op), zap.String("owner", e.OwnerID), zap.Error(err))
	return &PersistError{Op: op, Err: err}
}

// steps tracks the remote steps of a multi-call operation.
type steps struct {
	done []string
}

func (s *steps) mark(name string) { s.done = append(s.done, name) }

// sequence runs fn inside a transaction when the repository supports one;
// otherwise the calls run one by one and a failure after the first
// committed step is reported as a PartialCascadeError.
func (e *Engine) sequence(ctx context.Context, op string, fn func(Repository, *steps) error) error {
	st := &steps{}
	if tx, ok := e.repo.(Transactor); ok {
		return tx.InTx(ctx, func(r Repository) error { return fn(r, st) })
	}
	err := fn(e.repo, st)
	if err != nil && len(st.done) > 0 {
		return &PartialCascadeError{Op: op, Completed: st.done, Err: err}
	}
	return err
}

// ---- groups ----

func (e *Engine) CreateGroup(ctx context.Context, title, color string) (Group, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Group{}, invalid("title", "required")
	}
	order := 0
	for _, g := range e.Store.Groups() {
		if g.Order >= order {
			order = g.Order + 1
		}
	}
	g := Group{
		ID:      e.newID(),
		Title:   title,
		Color:   strings.TrimSpace(color),
		Order:   order,
		OwnerID: e.OwnerID,
	}
	err := e.commit(ctx, "create_group",
		func() error { e.Store.PutGroup(g); return nil },
		func(ctx context.Context) error { return e.repo.CreateGroup(ctx, g) },
	)
	return g, err
}

func (e *Engine) UpdateGroup(ctx context.Context, groupID string, title, color *string) (Group, error) {
	g, ok := e.Store.Group(groupID)
	if !ok {
		return Group{}, notFound("group", groupID)
	}
	if title != nil {
		t := strings.TrimSpace(*title)
		if t == "" {
			return Group{}, invalid("title", "required")
		}
		g.Title = t
	}
	if color != nil {
		g.Color = strings.TrimSpace(*color)
	}
	err := e.commit(ctx, "update_group",
		func() error { e.Store.PutGroup(g); return nil },
		func(ctx context.Context) error { return e.repo.UpdateGroup(ctx, g) },
	)
	return g, err
}

// ReorderGroups assigns dense display orders following ids, which must name
// every group of the board exactly once. Top-level tasks follow their group
// into its new band.
func (e *Engine) ReorderGroups(ctx context.Context, ids []string) error {
	groups := e.Store.Groups()
	if len(ids) != len(groups) {
		return invalid("groups", "must list every group exactly once")
	}
	seen := map[string]bool{}
	ordered := make([]Group, 0, len(ids))
	for _, id := range ids {
		g, ok := e.Store.Group(id)
		if !ok || seen[id] {
			return invalid("groups", "must list every group exactly once")
		}
		seen[id] = true
		ordered = append(ordered, g)
	}

	plan := e.planGroups(ordered)
	if plan.empty() {
		e.rec.Mutation("reorder_groups", OutcomeNoop)
		return nil
	}
	return e.commit(ctx, "reorder_groups",
		func() error { plan.apply(e.Store); return nil },
		func(ctx context.Context) error {
			return e.sequence(ctx, "reorder_groups", func(r Repository, st *steps) error {
				return plan.persist(ctx, r, st)
			})
		},
	)
}

// groupPlan renumbers groups densely and rebases the keys of their
// top-level tasks into the matching bands.
type groupPlan struct {
	groups  []Group
	orders  map[string]int
	keys    map[string]int
	updates []OrderUpdate
}

// planGroups plans display orders 0..n-1 for groups given in display order.
func (e *Engine) planGroups(ordered []Group) groupPlan {
	p := groupPlan{orders: map[string]int{}, keys: map[string]int{}}
	for i, g := range ordered {
		if g.Order != i {
			g.Order = i
			p.groups = append(p.groups, g)
			p.orders[g.ID] = i
		}
		for _, t := range e.Store.TopLevel(g.ID) {
			key := ordering.Rebase(t.Order, i)
			if key == t.Order {
				continue
			}
			p.keys[t.ID] = key
			p.updates = append(p.updates, OrderUpdate{TaskID: t.ID, GroupID: g.ID, Order: key})
		}
	}
	return p
}

func (p groupPlan) empty() bool { return len(p.groups) == 0 && len(p.updates) == 0 }

func (p groupPlan) apply(s *Store) {
	s.SetGroupOrders(p.orders)
	s.SetOrders(p.keys)
}

func (p groupPlan) persist(ctx context.Context, r Repository, st *steps) error {
	for _, g := range p.groups {
		if err := r.UpdateGroup(ctx, g); err != nil {
			return err
		}
	}
	if len(p.groups) > 0 {
		st.mark("groups")
	}
	if len(p.updates) > 0 {
		if err := r.SetTaskOrders(ctx, p.updates); err != nil {
			return err
		}
		st.mark("task orders")
	}
	return nil
}

// ---- tasks ----

func (e *Engine) buildTask(in NewTask) (Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Task{}, invalid("title", "required")
	}
	status := in.Status
	if status == "" {
		status = StatusPending
	}
	if !status.Valid() {
		return Task{}, invalid("status", fmt.Sprintf("unknown status %q", in.Status))
	}
	priority := in.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	if !priority.Valid() {
		return Task{}, invalid("priority", fmt.Sprintf("unknown priority %q", in.Priority))
	}
	now := e.now()
	t := Task{
		ID:          e.newID(),
		Title:       title,
		Description: in.Description,
		Status:      status,
		Priority:    priority,
		Assignee:    strings.TrimSpace(in.Assignee),
		Tags:        normalizeTags(in.Tags),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.DueDate != nil {
		d := *in.DueDate
		t.DueDate = &d
	}
	return t, nil
}

// CreateTask appends a new top-level task to a group.
func (e *Engine) CreateTask(ctx context.Context, groupID string, in NewTask) (Task, error) {
	if strings.TrimSpace(groupID) == "" {
		return Task{}, invalid("group", "required")
	}
	g, ok := e.Store.Group(groupID)
	if !ok {
		return Task{}, notFound("group", groupID)
	}
	t, err := e.buildTask(in)
	if err != nil {
		return Task{}, err
	}
	t.GroupID = g.ID
	t.Order = ordering.NextTask(g.Order, keys(e.Store.TopLevel(g.ID)))

	err = e.commit(ctx, "create_task",
		func() error { return e.Store.PutTask(t) },
		func(ctx context.Context) error { return e.repo.CreateTask(ctx, t) },
	)
	return t, err
}

// AddSubtask appends a new subtask under a top-level task.
func (e *Engine) AddSubtask(ctx context.Context, parentID string, in NewTask) (Task, error) {
	parent, ok := e.Store.Task(parentID)
	if !ok {
		return Task{}, notFound("task", parentID)
	}
	if parent.IsSubtask() {
		return Task{}, ErrDepthExceeded
	}
	t, err := e.buildTask(in)
	if err != nil {
		return Task{}, err
	}
	t.ParentID = parent.ID
	t.GroupID = parent.GroupID
	t.Order = ordering.NextSubtask(keys(e.Store.Subtasks(parent.ID)))

	err = e.commit(ctx, "add_subtask",
		func() error { return e.Store.PutTask(t) },
		func(ctx context.Context) error { return e.repo.CreateTask(ctx, t) },
	)
	return t, err
}

// UpdateTask applies a partial update to a task or subtask.
func (e *Engine) UpdateTask(ctx context.Context, taskID string, p TaskPatch) (Task, error) {
	t, ok := e.Store.Task(taskID)
	if !ok {
		return Task{}, notFound("task", taskID)
	}
	if p.Empty() {
		return Task{}, invalid("patch", "no fields to update")
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return Task{}, invalid("title", "required")
	}
	if p.Status != nil && !p.Status.Valid() {
		return Task{}, invalid("status", fmt.Sprintf("unknown status %q", *p.Status))
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return Task{}, invalid("priority", fmt.Sprintf("unknown priority %q", *p.Priority))
	}
	p.apply(&t)
	t.UpdatedAt = e.now()

	err := e.commit(ctx, "update_task",
		func() error { return e.Store.PutTask(t) },
		func(ctx context.Context) error { return e.repo.UpdateTask(ctx, t) },
	)
	return t, err
}

// MoveTask reassigns a top-level task to another group and appends it to
// the destination band. Its subtasks follow through the mirrored group_id.
func (e *Engine) MoveTask(ctx context.Context, taskID, groupID string) (Task, error) {
	t, ok := e.Store.Task(taskID)
	if !ok {
		return Task{}, notFound("task", taskID)
	}
	if t.IsSubtask() {
		return Task{}, fmt.Errorf("subtask %s follows its parent: %w", taskID, ErrInvalidMove)
	}
	g, ok := e.Store.Group(groupID)
	if !ok {
		return Task{}, notFound("group", groupID)
	}
	if t.GroupID == groupID {
		e.rec.Mutation("move_task", OutcomeNoop)
		return t, nil
	}
	now := e.now()
	t.GroupID = groupID
	t.Order = ordering.NextTask(g.Order, keys(e.Store.TopLevel(groupID)))
	t.UpdatedAt = now
	kids := e.Store.Subtasks(t.ID)

	err := e.commit(ctx, "move_task",
		func() error {
			if err := e.Store.PutTask(t); err != nil {
				return err
			}
			for _, k := range kids {
				k.UpdatedAt = now
				if err := e.Store.PutTask(k); err != nil {
					return err
				}
			}
			return nil
		},
		func(ctx context.Context) error {
			return e.sequence(ctx, "move_task", func(r Repository, st *steps) error {
				if err := r.MoveTask(ctx, t.ID, groupID, now); err != nil {
					return err
				}
				st.mark("group")
				return r.SetTaskOrder(ctx, OrderUpdate{TaskID: t.ID, GroupID: groupID, Order: t.Order})
			})
		},
	)
	return t, err
}

func keys(ts []Task) []int {
	out := make([]int, len(ts))
	for i, t := range ts {
		out[i] = t.Order
	}
	return out
}
