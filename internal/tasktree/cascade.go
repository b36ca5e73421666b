package tasktree

import (
	"context"
	"time"

	"go.uber.org/zap"

	"kyri56xcaesar/coachboard/internal/ordering"
)

type DeleteMode int

const (
	// DeleteUnspecified is accepted only for tasks without subtasks.
	DeleteUnspecified DeleteMode = iota
	// DeleteAll removes the task together with its subtasks.
	DeleteAll
	// KeepSubtasks promotes the subtasks to top-level tasks of the same group.
	KeepSubtasks
)

type DuplicateMode int

const (
	// DuplicateUnspecified is accepted only for tasks without subtasks.
	DuplicateUnspecified DuplicateMode = iota
	WithSubtasks
	TaskOnly
)

const copySuffix = " (Copy)"

// Cascade implements the multi-record delete and duplicate operations.
type Cascade struct {
	e *Engine
}

// NeedsMode reports whether deleting or duplicating the task requires the
// caller to pick a mode first.
func (c *Cascade) NeedsMode(taskID string) (bool, error) {
	t, ok := c.e.Store.Task(taskID)
	if !ok {
		return false, notFound("task", taskID)
	}
	return !t.IsSubtask() && len(c.e.Store.Subtasks(t.ID)) > 0, nil
}

// Delete removes a task or subtask. Tasks with subtasks need DeleteAll or
// KeepSubtasks; otherwise the mode is ignored.
func (c *Cascade) Delete(ctx context.Context, taskID string, mode DeleteMode) error {
	e := c.e
	t, ok := e.Store.Task(taskID)
	if !ok {
		return notFound("task", taskID)
	}
	kids := e.Store.Subtasks(t.ID)
	if len(kids) > 0 && mode == DeleteUnspecified {
		return ErrModeRequired
	}
	if len(kids) == 0 || mode == DeleteAll {
		return c.deleteAll(ctx, t, kids)
	}
	return c.deleteKeepSubtasks(ctx, t, kids)
}

func (c *Cascade) deleteAll(ctx context.Context, t Task, kids []Task) error {
	e := c.e
	var doomed []Resource
	doomed = append(doomed, e.Store.Resources(t.ID)...)
	for _, k := range kids {
		doomed = append(doomed, e.Store.Resources(k.ID)...)
	}

	err := e.commit(ctx, "delete_task",
		func() error { e.Store.RemoveTask(t.ID); return nil },
		func(ctx context.Context) error {
			return e.sequence(ctx, "delete_task", func(r Repository, st *steps) error {
				for _, res := range doomed {
					if err := r.DeleteResource(ctx, res.ID); err != nil {
						return err
					}
				}
				st.mark("resources")
				for _, k := range kids {
					if err := r.DeleteTask(ctx, k.ID); err != nil {
						return err
					}
				}
				if len(kids) > 0 {
					st.mark("subtasks")
				}
				if err := r.DeleteTask(ctx, t.ID); err != nil {
					return err
				}
				st.mark("task")
				return nil
			})
		},
	)
	if err != nil {
		return err
	}
	e.Attachments.releaseObjects(ctx, doomed)
	return nil
}

func (c *Cascade) deleteKeepSubtasks(ctx context.Context, t Task, kids []Task) error {
	e := c.e
	g, ok := e.Store.Group(t.GroupID)
	if !ok {
		return notFound("group", t.GroupID)
	}
	doomed := e.Store.Resources(t.ID)

	// promoted subtasks are appended to the group in their subtask order
	siblings := keys(e.Store.TopLevel(g.ID))
	now := e.now()
	promoted := make([]Task, 0, len(kids))
	for _, k := range kids {
		k.ParentID = ""
		k.GroupID = g.ID
		k.Order = ordering.NextTask(g.Order, siblings)
		k.UpdatedAt = now
		siblings = append(siblings, k.Order)
		promoted = append(promoted, k)
	}

	err := e.commit(ctx, "delete_task",
		func() error {
			for _, k := range promoted {
				if err := e.Store.PutTask(k); err != nil {
					return err
				}
			}
			e.Store.RemoveTask(t.ID)
			return nil
		},
		func(ctx context.Context) error {
			return e.sequence(ctx, "delete_task", func(r Repository, st *steps) error {
				for _, k := range promoted {
					if err := r.UpdateTask(ctx, k); err != nil {
						return err
					}
				}
				st.mark("promote subtasks")
				for _, res := range doomed {
					if err := r.DeleteResource(ctx, res.ID); err != nil {
						return err
					}
				}
				st.mark("resources")
				if err := r.DeleteTask(ctx, t.ID); err != nil {
					return err
				}
				st.mark("task")
				return nil
			})
		},
	)
	if err != nil {
		return err
	}
	e.Attachments.releaseObjects(ctx, doomed)
	return nil
}

// Duplicate copies a task (or subtask) next to the original with a " (Copy)"
// title, fresh id and timestamps, and copies of its resources. WithSubtasks
// also copies every subtask with its resources; duplicating a subtask ignores
// the mode.
func (c *Cascade) Duplicate(ctx context.Context, taskID string, mode DuplicateMode) (TaskView, error) {
	e := c.e
	src, ok := e.Store.Task(taskID)
	if !ok {
		return TaskView{}, notFound("task", taskID)
	}
	var kids []Task
	if !src.IsSubtask() {
		kids = e.Store.Subtasks(src.ID)
	}
	if len(kids) > 0 && mode == DuplicateUnspecified {
		return TaskView{}, ErrModeRequired
	}
	if mode != WithSubtasks {
		kids = nil
	}

	now := e.now()
	dup := c.copyOf(src, now)
	type pair struct{ from, to Task }
	subs := make([]pair, 0, len(kids))
	for _, k := range kids {
		kc := c.copyOf(k, now)
		kc.ParentID = dup.ID
		kc.GroupID = dup.GroupID
		subs = append(subs, pair{from: k, to: kc})
	}

	var copied []Resource
	err := e.commit(ctx, "duplicate_task",
		func() error {
			if err := e.Store.PutTask(dup); err != nil {
				return err
			}
			for _, p := range subs {
				if err := e.Store.PutTask(p.to); err != nil {
					return err
				}
			}
			return nil
		},
		func(ctx context.Context) error {
			copied = copied[:0]
			return e.sequence(ctx, "duplicate_task", func(r Repository, st *steps) error {
				if err := r.CreateTask(ctx, dup); err != nil {
					return err
				}
				st.mark("task")
				rs, err := r.CopyResources(ctx, src.ID, dup.ID, now)
				if err != nil {
					return err
				}
				copied = append(copied, rs...)
				st.mark("resources")
				for _, p := range subs {
					if err := r.CreateTask(ctx, p.to); err != nil {
						return err
					}
					rs, err := r.CopyResources(ctx, p.from.ID, p.to.ID, now)
					if err != nil {
						return err
					}
					copied = append(copied, rs...)
					st.mark("subtask " + p.to.ID)
				}
				return nil
			})
		},
	)
	if err != nil {
		return TaskView{}, err
	}
	for _, res := range copied {
		if err := e.Store.PutResource(res); err != nil {
			zap.L().Warn("copied resource has no local owner", zap.String("resource", res.ID), zap.Error(err))
		}
	}
	view, _ := e.Store.View(dup.ID)
	return view, nil
}

func (c *Cascade) copyOf(src Task, now time.Time) Task {
	d := src.Clone()
	d.ID = c.e.newID()
	d.Title = src.Title + copySuffix
	d.CreatedAt = now
	d.UpdatedAt = now
	return d
}

// DeleteGroup removes a group with every task, subtask and resource it
// owns: resources first, then subtasks, then tasks, then the group. The
// remaining groups close the gap and their tasks follow into the new bands.
func (c *Cascade) DeleteGroup(ctx context.Context, groupID string) error {
	e := c.e
	gv, ok := e.Store.GroupView(groupID)
	if !ok {
		return notFound("group", groupID)
	}
	var doomed []Resource
	var subIDs, topIDs []string
	for _, tv := range gv.Tasks {
		doomed = append(doomed, tv.Resources...)
		for _, sv := range tv.Subtasks {
			doomed = append(doomed, sv.Resources...)
			subIDs = append(subIDs, sv.ID)
		}
		topIDs = append(topIDs, tv.ID)
	}
	var rest []Group
	for _, g := range e.Store.Groups() {
		if g.ID != groupID {
			rest = append(rest, g)
		}
	}
	plan := e.planGroups(rest)

	err := e.commit(ctx, "delete_group",
		func() error {
			e.Store.RemoveGroup(groupID)
			plan.apply(e.Store)
			return nil
		},
		func(ctx context.Context) error {
			return e.sequence(ctx, "delete_group", func(r Repository, st *steps) error {
				for _, res := range doomed {
					if err := r.DeleteResource(ctx, res.ID); err != nil {
						return err
					}
				}
				st.mark("resources")
				for _, id := range subIDs {
					if err := r.DeleteTask(ctx, id); err != nil {
						return err
					}
				}
				st.mark("subtasks")
				for _, id := range topIDs {
					if err := r.DeleteTask(ctx, id); err != nil {
						return err
					}
				}
				st.mark("tasks")
				if err := r.DeleteGroup(ctx, groupID); err != nil {
					return err
				}
				st.mark("group")
				return plan.persist(ctx, r, st)
			})
		},
	)
	if err != nil {
		return err
	}
	e.Attachments.releaseObjects(ctx, doomed)
	return nil
}
