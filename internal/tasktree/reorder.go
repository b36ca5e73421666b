package tasktree

import (
	"context"

	"kyri56xcaesar/coachboard/internal/ordering"
)

// GestureState is the lifecycle of one drag-and-drop reorder.
type GestureState int

const (
	GestureIdle GestureState = iota
	GestureDragging
	GestureDroppedOnSelf
	GestureDroppedOnOther
	GestureCommitting
	GestureCommitted
	GestureRolledBack
)

func (s GestureState) String() string {
	switch s {
	case GestureIdle:
		return "idle"
	case GestureDragging:
		return "dragging"
	case GestureDroppedOnSelf:
		return "dropped-on-self"
	case GestureDroppedOnOther:
		return "dropped-on-other"
	case GestureCommitting:
		return "committing"
	case GestureCommitted:
		return "committed"
	case GestureRolledBack:
		return "rolled-back"
	default:
		return "unknown"
	}
}

// Coordinator turns drag gestures into full renumberings of a sibling set.
type Coordinator struct {
	e               *Engine
	persistSiblings bool
}

// Gesture is one drag of one task within its sibling set.
type Gesture struct {
	c      *Coordinator
	taskID string
	state  GestureState
	trace  []GestureState
}

// Begin starts dragging a task or subtask.
func (c *Coordinator) Begin(taskID string) (*Gesture, error) {
	if _, ok := c.e.Store.Task(taskID); !ok {
		return nil, notFound("task", taskID)
	}
	g := &Gesture{c: c, taskID: taskID, state: GestureIdle}
	g.to(GestureDragging)
	return g, nil
}

func (g *Gesture) State() GestureState { return g.state }

// Trace returns every state the gesture went through.
func (g *Gesture) Trace() []GestureState { return append([]GestureState(nil), g.trace...) }

func (g *Gesture) to(s GestureState) {
	g.state = s
	g.trace = append(g.trace, s)
}

// Drop releases the dragged task at index toIndex of its sibling set,
// indexes being those of the list with the dragged task still in it.
// Dropping on the current position is a no-op.
func (g *Gesture) Drop(ctx context.Context, toIndex int) error {
	if g.state != GestureDragging {
		return invalid("gesture", "not dragging")
	}
	e := g.c.e
	sibs, ok := e.Store.Siblings(g.taskID)
	if !ok {
		g.to(GestureIdle)
		return notFound("task", g.taskID)
	}
	from := -1
	ids := make([]string, len(sibs))
	for i, t := range sibs {
		ids[i] = t.ID
		if t.ID == g.taskID {
			from = i
		}
	}
	if toIndex < 0 {
		toIndex = 0
	}
	if toIndex > len(ids)-1 {
		toIndex = len(ids) - 1
	}
	if toIndex == from {
		g.to(GestureDroppedOnSelf)
		g.to(GestureIdle)
		e.rec.Mutation("reorder", OutcomeNoop)
		return nil
	}
	g.to(GestureDroppedOnOther)

	moved := sibs[from]
	base := 0
	if !moved.IsSubtask() {
		grp, _ := e.Store.Group(moved.GroupID)
		base = ordering.BaseFor(grp.Order)
	}
	final := ordering.Move(ids, from, toIndex)
	keys := ordering.Renumber(base, len(final))

	current := map[string]int{}
	for _, t := range sibs {
		current[t.ID] = t.Order
	}
	orders := make(map[string]int, len(final))
	var others []OrderUpdate
	for i, id := range final {
		orders[id] = keys[i]
		if id != moved.ID && current[id] != keys[i] {
			others = append(others, OrderUpdate{TaskID: id, GroupID: moved.GroupID, Order: keys[i]})
		}
	}
	head := OrderUpdate{TaskID: moved.ID, GroupID: moved.GroupID, Order: orders[moved.ID]}

	g.to(GestureCommitting)
	err := e.commit(ctx, "reorder",
		func() error { e.Store.SetOrders(orders); return nil },
		func(ctx context.Context) error {
			if !g.c.persistSiblings || len(others) == 0 {
				return e.repo.SetTaskOrder(ctx, head)
			}
			return e.sequence(ctx, "reorder", func(r Repository, st *steps) error {
				if err := r.SetTaskOrder(ctx, head); err != nil {
					return err
				}
				st.mark("moved task")
				return r.SetTaskOrders(ctx, others)
			})
		},
	)
	if err != nil {
		g.to(GestureRolledBack)
		return err
	}
	g.to(GestureCommitted)
	return nil
}

// Move is a whole gesture in one call.
func (c *Coordinator) Move(ctx context.Context, taskID string, toIndex int) error {
	g, err := c.Begin(taskID)
	if err != nil {
		return err
	}
	return g.Drop(ctx, toIndex)
}
