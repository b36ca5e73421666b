package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kyri56xcaesar/coachboard/internal/tasktree"
)

type txRepository interface {
	tasktree.Repository
	tasktree.Transactor
}

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func fixtureTask(id, groupID, parentID string, order int, at time.Time) tasktree.Task {
	return tasktree.Task{
		ID:        id,
		GroupID:   groupID,
		ParentID:  parentID,
		Title:     "task " + id,
		Status:    tasktree.StatusPending,
		Priority:  tasktree.PriorityMedium,
		Tags:      []string{},
		Order:     order,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func fixtureResource(id, taskID string, kind tasktree.ResourceKind, at time.Time) tasktree.Resource {
	return tasktree.Resource{
		ID:         id,
		TaskID:     taskID,
		Name:       id + ".pdf",
		Kind:       kind,
		URL:        "/files/" + id,
		Size:       42,
		UploadedAt: at,
		UploadedBy: "coach",
	}
}

func taskIDs(ts []tasktree.Task) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.ID
	}
	return out
}

// runContract exercises a Repository implementation against the rules the
// engine relies on. open must return an empty, migrated repository.
func runContract(t *testing.T, open func(t *testing.T) txRepository) {
	ctx := context.Background()

	t.Run("groups by owner", func(t *testing.T) {
		r := open(t)
		require.NoError(t, r.CreateGroup(ctx, tasktree.Group{ID: "g2", Title: "Later", Order: 1, OwnerID: "alice"}))
		require.NoError(t, r.CreateGroup(ctx, tasktree.Group{ID: "g1", Title: "Now", Color: "#ff0000", Order: 0, OwnerID: "alice"}))
		require.NoError(t, r.CreateGroup(ctx, tasktree.Group{ID: "g3", Title: "Other", Order: 0, OwnerID: "bob"}))

		got, err := r.ListGroups(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, tasktree.Group{ID: "g1", Title: "Now", Color: "#ff0000", Order: 0, OwnerID: "alice"}, got[0])
		assert.Equal(t, "g2", got[1].ID)

		require.NoError(t, r.UpdateGroup(ctx, tasktree.Group{ID: "g2", Title: "Soon", Color: "#00ff00", Order: 5, OwnerID: "alice"}))
		got, err = r.ListGroups(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "Soon", got[1].Title)
		assert.Equal(t, 5, got[1].Order)

		assert.ErrorIs(t, r.UpdateGroup(ctx, tasktree.Group{ID: "missing", Title: "x"}), tasktree.ErrNotFound)
		require.NoError(t, r.DeleteGroup(ctx, "g3"))
		assert.ErrorIs(t, r.DeleteGroup(ctx, "g3"), tasktree.ErrNotFound)
	})

	t.Run("tasks and subtasks round trip", func(t *testing.T) {
		r := open(t)
		require.NoError(t, r.CreateGroup(ctx, tasktree.Group{ID: "g", Title: "G", OwnerID: "alice"}))

		due := t0.Add(48 * time.Hour)
		full := fixtureTask("a", "g", "", 7, t0)
		full.Description = "read chapter 3"
		full.Status = tasktree.StatusInProgress
		full.Priority = tasktree.PriorityHigh
		full.Assignee = "student1"
		full.DueDate = &due
		full.Tags = []string{"reading", "week1"}
		require.NoError(t, r.CreateTask(ctx, full))
		require.NoError(t, r.CreateTask(ctx, fixtureTask("b", "g", "", 3, t0.Add(time.Second))))
		require.NoError(t, r.CreateTask(ctx, fixtureTask("s2", "g", "a", 2000, t0.Add(2*time.Second))))
		require.NoError(t, r.CreateTask(ctx, fixtureTask("s1", "g", "a", 1000, t0.Add(3*time.Second))))

		top, err := r.ListTasks(ctx, "g")
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a"}, taskIDs(top))
		assert.Equal(t, full, top[1])

		subs, err := r.ListSubtasks(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []string{"s1", "s2"}, taskIDs(subs))
		assert.Equal(t, "a", subs[0].ParentID)
		assert.Equal(t, "g", subs[0].GroupID)
	})

	t.Run("equal keys fall back to creation time", func(t *testing.T) {
		r := open(t)
		require.NoError(t, r.CreateGroup(ctx, tasktree.Group{ID: "g", Title: "G", OwnerID: "alice"}))
		require.NoError(t, r.CreateTask(ctx, fixtureTask("copy", "g", "", 0, t0.Add(time.Minute))))
		require.NoError(t, r.CreateTask(ctx, fixtureTask("orig", "g", "", 0, t0)))

		top, err := r.ListTasks(ctx, "g")
		require.NoError(t, err)
		assert.Equal(t, []string{"orig", "copy"}, taskIDs(top))
	})

	t.Run("update promotes a subtask", func(t *testing.T) {
		r := open(t)
		require.NoError(t, r.CreateGroup(ctx, tasktree.Group{ID: "g", Title: "G", OwnerID: "alice"}))
		require.NoError(t, r.CreateTask(ctx, fixtureTask("p", "g", "", 0, t0)))
		sub := fixtureTask("s", "g", "p", 1000, t0)
		require.NoError(t, r.CreateTask(ctx, sub))

		sub.ParentID = ""
		sub.Order = 1
		sub.Title = "promoted"
		sub.DueDate = nil
		sub.UpdatedAt = t0.Add(time.Hour)
		require.NoError(t, r.UpdateTask(ctx, sub))

		top, err := r.ListTasks(ctx, "g")
		require.NoError(t, err)
		require.Equal(t, []string{"p", "s"}, taskIDs(top))
		assert.Equal(t, sub, top[1])
		subs, err := r.ListSubtasks(ctx, "p")
		require.NoError(t, err)
		assert.Empty(t, subs)

		missing := fixtureTask("nope", "g", "", 0, t0)
		assert.ErrorIs(t, r.UpdateTask(ctx, missing), tasktree.ErrNotFound)
	})

	t.Run("move mirrors group onto subtasks", func(t *testing.T) {
		r := open(t)
		require.NoError(t, r.CreateGroup(ctx, tasktree.Group{ID: "g1", Title: "1", OwnerID: "alice"}))
		require.NoError(t, r.CreateGroup(ctx, tasktree.Group{ID: "g2", Title: "2", Order: 1, OwnerID: "alice"}))
		require.NoError(t, r.CreateTask(ctx, fixtureTask("p", "g1", "", 0, t0)))
		require.NoError(t, r.CreateTask(ctx, fixtureTask("s", "g1", "p", 1000, t0)))

		movedAt := t0.Add(2 * time.Hour)
		require.NoError(t, r.MoveTask(ctx, "p", "g2", movedAt))

		top, err := r.ListTasks(ctx, "g2")
		require.NoError(t, err)
		assert.Equal(t, []string{"p"}, taskIDs(top))
		assert.True(t, movedAt.Equal(top[0].UpdatedAt), "parent stamped with %v, got %v", movedAt, top[0].UpdatedAt)
		subs, err := r.ListSubtasks(ctx, "p")
		require.NoError(t, err)
		require.Len(t, subs, 1)
		assert.Equal(t, "g2", subs[0].GroupID)
		assert.True(t, movedAt.Equal(subs[0].UpdatedAt), "subtask stamped with %v, got %v", movedAt, subs[0].UpdatedAt)
		assert.ErrorIs(t, r.MoveTask(ctx, "nope", "g2", movedAt), tasktree.ErrNotFound)
	})

	t.Run("order writes", func(t *testing.T) {
		r := open(t)
		require.NoError(t, r.CreateGroup(ctx, tasktree.Group{ID: "g", Title: "G", OwnerID: "alice"}))
		for i, id := range []string{"a", "b", "c"} {
			require.NoError(t, r.CreateTask(ctx, fixtureTask(id, "g", "", i, t0)))
		}

		require.NoError(t, r.SetTaskOrder(ctx, tasktree.OrderUpdate{TaskID: "c", GroupID: "g", Order: 1000}))
		require.NoError(t, r.SetTaskOrders(ctx, []tasktree.OrderUpdate{
			{TaskID: "a", GroupID: "g", Order: 2000},
			{TaskID: "b", GroupID: "g", Order: 3000},
		}))
		top, err := r.ListTasks(ctx, "g")
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "a", "b"}, taskIDs(top))
		assert.Equal(t, 3000, top[2].Order)

		assert.ErrorIs(t, r.SetTaskOrder(ctx, tasktree.OrderUpdate{TaskID: "nope", GroupID: "g"}), tasktree.ErrNotFound)
		require.NoError(t, r.SetTaskOrders(ctx, nil))
	})

	t.Run("resources", func(t *testing.T) {
		r := open(t)
		require.NoError(t, r.CreateGroup(ctx, tasktree.Group{ID: "g", Title: "G", OwnerID: "alice"}))
		require.NoError(t, r.CreateTask(ctx, fixtureTask("a", "g", "", 0, t0)))
		require.NoError(t, r.CreateTask(ctx, fixtureTask("b", "g", "", 1, t0)))
		r1 := fixtureResource("r1", "a", tasktree.ResourceFile, t0)
		r2 := fixtureResource("r2", "a", tasktree.ResourceLink, t0.Add(time.Second))
		r2.Size = 0
		require.NoError(t, r.CreateResource(ctx, r1))
		require.NoError(t, r.CreateResource(ctx, r2))

		got, err := r.ListResources(ctx, []string{"a", "b"})
		require.NoError(t, err)
		assert.Equal(t, []tasktree.Resource{r1, r2}, got)

		at := t0.Add(time.Hour)
		copies, err := r.CopyResources(ctx, "a", "b", at)
		require.NoError(t, err)
		require.Len(t, copies, 2)
		for i, c := range copies {
			src := []tasktree.Resource{r1, r2}[i]
			assert.NotEqual(t, src.ID, c.ID)
			assert.Equal(t, "b", c.TaskID)
			assert.Equal(t, src.Name, c.Name)
			assert.Equal(t, src.Kind, c.Kind)
			assert.Equal(t, src.URL, c.URL)
			assert.Equal(t, src.Size, c.Size)
			assert.Equal(t, at, c.UploadedAt)
		}
		onB, err := r.ListResources(ctx, []string{"b"})
		require.NoError(t, err)
		assert.ElementsMatch(t, copies, onB)

		none, err := r.CopyResources(ctx, "b-does-not-own-anything", "a", at)
		require.NoError(t, err)
		assert.Empty(t, none)

		require.NoError(t, r.DeleteResource(ctx, copies[0].ID))
		assert.ErrorIs(t, r.DeleteResource(ctx, copies[0].ID), tasktree.ErrNotFound)
		onA, err := r.ListResources(ctx, []string{"a"})
		require.NoError(t, err)
		assert.Len(t, onA, 2, "deleting a copy leaves the original")
	})

	t.Run("referential integrity", func(t *testing.T) {
		r := open(t)
		require.NoError(t, r.CreateGroup(ctx, tasktree.Group{ID: "g", Title: "G", OwnerID: "alice"}))
		require.NoError(t, r.CreateTask(ctx, fixtureTask("p", "g", "", 0, t0)))
		require.NoError(t, r.CreateTask(ctx, fixtureTask("s", "g", "p", 0, t0)))
		require.NoError(t, r.CreateResource(ctx, fixtureResource("r", "s", tasktree.ResourceFile, t0)))

		assert.Error(t, r.CreateTask(ctx, fixtureTask("x", "missing", "", 0, t0)))
		assert.Error(t, r.DeleteTask(ctx, "s"), "resource still points at s")
		assert.Error(t, r.DeleteTask(ctx, "p"), "subtask still points at p")
		assert.Error(t, r.DeleteGroup(ctx, "g"), "tasks still point at g")

		require.NoError(t, r.DeleteResource(ctx, "r"))
		require.NoError(t, r.DeleteTask(ctx, "s"))
		require.NoError(t, r.DeleteTask(ctx, "p"))
		require.NoError(t, r.DeleteGroup(ctx, "g"))
		assert.ErrorIs(t, r.DeleteTask(ctx, "p"), tasktree.ErrNotFound)
	})

	t.Run("transaction rolls back", func(t *testing.T) {
		r := open(t)
		boom := errors.New("boom")
		err := r.InTx(ctx, func(tx tasktree.Repository) error {
			if err := tx.CreateGroup(ctx, tasktree.Group{ID: "g", Title: "G", OwnerID: "alice"}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)
		got, err := r.ListGroups(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, got)

		require.NoError(t, r.InTx(ctx, func(tx tasktree.Repository) error {
			return tx.CreateGroup(ctx, tasktree.Group{ID: "g", Title: "G", OwnerID: "alice"})
		}))
		got, err = r.ListGroups(ctx, "alice")
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})
}
