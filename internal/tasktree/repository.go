package tasktree

import (
	"context"
	"io"
	"time"
)

// OrderUpdate assigns a new key (and group) to one task.
type OrderUpdate struct {
	TaskID  string
	GroupID string
	Order   int
}

// Repository is the persistence surface consumed by the engine. Every call
// is a separate round trip; implementations need not provide atomicity
// across calls unless they also implement Transactor.
type Repository interface {
	ListGroups(ctx context.Context, ownerID string) ([]Group, error)
	CreateGroup(ctx context.Context, g Group) error
	UpdateGroup(ctx context.Context, g Group) error
	DeleteGroup(ctx context.Context, groupID string) error

	// ListTasks returns the top-level tasks of a group.
	ListTasks(ctx context.Context, groupID string) ([]Task, error)
	// ListSubtasks returns the subtasks of a parent task.
	ListSubtasks(ctx context.Context, parentID string) ([]Task, error)
	// ListResources returns the resources owned by the given tasks.
	ListResources(ctx context.Context, taskIDs []string) ([]Resource, error)

	CreateTask(ctx context.Context, t Task) error
	UpdateTask(ctx context.Context, t Task) error
	DeleteTask(ctx context.Context, taskID string) error
	// MoveTask sets group_id on a task and mirrors it onto its subtasks,
	// stamping updated_at with at.
	MoveTask(ctx context.Context, taskID, groupID string, at time.Time) error
	SetTaskOrder(ctx context.Context, u OrderUpdate) error
	SetTaskOrders(ctx context.Context, us []OrderUpdate) error

	CreateResource(ctx context.Context, r Resource) error
	DeleteResource(ctx context.Context, resourceID string) error
	// CopyResources duplicates every resource of fromTaskID onto toTaskID
	// with fresh ids and the given upload time, returning the copies.
	CopyResources(ctx context.Context, fromTaskID, toTaskID string, at time.Time) ([]Resource, error)
}

// Transactor is implemented by repositories able to run several calls in a
// single transaction. fn receives a Repository bound to that transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(Repository) error) error
}

// ObjectStore holds the binaries behind file resources.
type ObjectStore interface {
	// Put stores the object and returns a retrievable URL and the byte size.
	Put(ctx context.Context, name string, r io.Reader) (url string, size int64, err error)
	// Owns reports whether url points into the storage area.
	Owns(url string) bool
	Delete(ctx context.Context, url string) error
}

// Recorder observes engine mutations. outcome is one of the Outcome values.
type Recorder interface {
	Mutation(op string, outcome Outcome)
}

type Outcome string

const (
	OutcomeCommitted  Outcome = "committed"
	OutcomeRolledBack Outcome = "rolled_back"
	OutcomePartial    Outcome = "partial"
	OutcomeNoop       Outcome = "noop"
	OutcomeRejected   Outcome = "rejected"
)

type nopRecorder struct{}

func (nopRecorder) Mutation(string, Outcome) {}
