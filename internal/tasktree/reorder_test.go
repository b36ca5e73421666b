package tasktree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// threeTasks builds a group with A, B, C in that display order.
func threeTasks(t *testing.T, e *Engine) (Group, []Task) {
	t.Helper()
	ctx := context.Background()
	g, err := e.CreateGroup(ctx, "Pipeline", "")
	require.NoError(t, err)
	var out []Task
	for _, title := range []string{"A", "B", "C"} {
		task, err := e.CreateTask(ctx, g.ID, NewTask{Title: title})
		require.NoError(t, err)
		out = append(out, task)
	}
	return g, out
}

func titles(ts []Task) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Title
	}
	return out
}

func TestReorder_DropCFirstPersistsFullRenumbering(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	e := newTestEngine(repo, nil)
	g, tasks := threeTasks(t, e)

	require.NoError(t, e.Reorder.Move(ctx, tasks[2].ID, 0))

	local := e.Store.TopLevel(g.ID)
	assert.Equal(t, []string{"C", "A", "B"}, titles(local))
	assert.Equal(t, []int{1000, 2000, 3000}, keys(local))

	// read back from the repository sorts the same way
	stored, err := repo.ListTasks(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "A", "B"}, titles(stored))
	assert.Equal(t, []int{1000, 2000, 3000}, keys(stored))
}

func TestReorder_IdempotentRenumbering(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(newMemRepo(), nil)
	g, tasks := threeTasks(t, e)

	require.NoError(t, e.Reorder.Move(ctx, tasks[0].ID, 2))
	first := keys(e.Store.TopLevel(g.ID))

	// moving B away and back reproduces the same keys for the same order
	order := titles(e.Store.TopLevel(g.ID))
	require.Equal(t, []string{"B", "C", "A"}, order)
	require.NoError(t, e.Reorder.Move(ctx, tasks[1].ID, 1))
	require.NoError(t, e.Reorder.Move(ctx, tasks[1].ID, 0))
	assert.Equal(t, order, titles(e.Store.TopLevel(g.ID)))
	assert.Equal(t, first, keys(e.Store.TopLevel(g.ID)))
}

func TestReorder_DropOnSelfIsNoop(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	e := newTestEngine(repo, nil)
	_, tasks := threeTasks(t, e)

	g, err := e.Reorder.Begin(tasks[1].ID)
	require.NoError(t, err)
	require.NoError(t, g.Drop(ctx, 1))

	assert.Equal(t, GestureIdle, g.State())
	assert.Equal(t, []GestureState{GestureDragging, GestureDroppedOnSelf, GestureIdle}, g.Trace())
	assert.Zero(t, repo.count("SetTaskOrder"))
}

func TestReorder_GestureStates(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(newMemRepo(), nil)
	_, tasks := threeTasks(t, e)

	g, err := e.Reorder.Begin(tasks[0].ID)
	require.NoError(t, err)
	require.NoError(t, g.Drop(ctx, 2))
	assert.Equal(t, []GestureState{GestureDragging, GestureDroppedOnOther, GestureCommitting, GestureCommitted}, g.Trace())

	var verr *ValidationError
	assert.ErrorAs(t, g.Drop(ctx, 0), &verr, "a finished gesture cannot be dropped again")
}

func TestReorder_FailureRollsBackWholeTree(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	e := newTestEngine(repo, nil)
	g, tasks := threeTasks(t, e)
	before := e.Store.TopLevel(g.ID)

	repo.fail["SetTaskOrder"] = errBackendDown
	gest, err := e.Reorder.Begin(tasks[2].ID)
	require.NoError(t, err)
	err = gest.Drop(ctx, 0)

	var perr *PersistError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, GestureRolledBack, gest.State())
	assert.Equal(t, before, e.Store.TopLevel(g.ID))
}

func TestReorder_MovedItemOnlyWhenSiblingsNotPersisted(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	e := newTestEngine(repo, nil, func(o *Options) { o.PersistSiblings = false })
	g, tasks := threeTasks(t, e)

	require.NoError(t, e.Reorder.Move(ctx, tasks[2].ID, 0))
	assert.Equal(t, 1, repo.count("SetTaskOrder"))
	assert.Zero(t, repo.count("SetTaskOrders"))

	stored, _ := repo.task(tasks[2].ID)
	assert.Equal(t, 1000, stored.Order)
	assert.Equal(t, g.ID, stored.GroupID)
	assert.Equal(t, []string{"C", "A", "B"}, titles(e.Store.TopLevel(g.ID)))
}

func TestReorder_SubtasksUseTheirOwnNamespace(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(newMemRepo(), nil)
	_, _ = e.CreateGroup(ctx, "first", "")
	g, _ := e.CreateGroup(ctx, "second", "")
	parent, _ := e.CreateTask(ctx, g.ID, NewTask{Title: "Parent"})
	var subs []Task
	for _, title := range []string{"x", "y", "z"} {
		s, err := e.AddSubtask(ctx, parent.ID, NewTask{Title: title})
		require.NoError(t, err)
		subs = append(subs, s)
	}

	require.NoError(t, e.Reorder.Move(ctx, subs[0].ID, 2))
	got := e.Store.Subtasks(parent.ID)
	assert.Equal(t, []string{"y", "z", "x"}, titles(got))
	assert.Equal(t, []int{1000, 2000, 3000}, keys(got))

	p, _ := e.Store.Task(parent.ID)
	assert.Equal(t, parent.Order, p.Order, "parent key is independent of subtask keys")
	assert.Equal(t, 10000, p.Order)
}

func TestReorder_TopLevelStaysInGroupBand(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(newMemRepo(), nil)
	_, _ = e.CreateGroup(ctx, "first", "")
	g, _ := e.CreateGroup(ctx, "second", "")
	var ids []string
	for i := 0; i < 12; i++ {
		task, err := e.CreateTask(ctx, g.ID, NewTask{Title: "t"})
		require.NoError(t, err)
		ids = append(ids, task.ID)
	}
	require.NoError(t, e.Reorder.Move(ctx, ids[11], 0))

	got := e.Store.TopLevel(g.ID)
	assert.Equal(t, ids[11], got[0].ID)
	for i, task := range got {
		assert.GreaterOrEqual(t, task.Order, 10000)
		assert.Less(t, task.Order, 20000)
		if i > 0 {
			assert.Less(t, got[i-1].Order, task.Order)
		}
	}
}

func TestReorder_PartialSiblingWriteReloadsStoredState(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	rec := &countingRecorder{}
	e := newTestEngine(repo, nil, func(o *Options) { o.Recorder = rec })
	g, tasks := threeTasks(t, e)

	repo.fail["SetTaskOrders"] = errBackendDown
	err := e.Reorder.Move(ctx, tasks[2].ID, 0)

	var partial *PartialCascadeError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []string{"moved task"}, partial.Completed)
	assert.Equal(t, 1, rec.n("reorder/partial"))

	// the board now mirrors what the repository holds
	stored, _ := repo.ListTasks(ctx, g.ID)
	assert.Equal(t, titles(stored), titles(e.Store.TopLevel(g.ID)))
}

func TestReorder_TransactionalSiblingWriteIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	mem := newMemRepo()
	e := newTestEngine(txRepo{mem}, nil)
	g, tasks := threeTasks(t, e)

	mem.fail["SetTaskOrders"] = errBackendDown
	err := e.Reorder.Move(ctx, tasks[2].ID, 0)

	var perr *PersistError
	require.ErrorAs(t, err, &perr)
	stored, _ := mem.ListTasks(ctx, g.ID)
	assert.Equal(t, []string{"A", "B", "C"}, titles(stored))
	assert.Equal(t, []int{0, 1, 2}, keys(stored))
	assert.Equal(t, []string{"A", "B", "C"}, titles(e.Store.TopLevel(g.ID)))
}
