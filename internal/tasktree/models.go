package tasktree

import (
	"slices"
	"strings"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusInProgress || s == StatusCompleted
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

type ResourceKind string

const (
	ResourceFile ResourceKind = "file"
	ResourceLink ResourceKind = "link"
)

// Group is an ordered, colored bucket of top-level tasks.
type Group struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Color   string `json:"color"`
	Order   int    `json:"order"`
	OwnerID string `json:"owner_id"`
}

// Task is a row of the tasks table. ParentID is empty for top-level tasks;
// for subtasks GroupID mirrors the parent's group and is never authoritative.
type Task struct {
	ID          string     `json:"id"`
	GroupID     string     `json:"group_id"`
	ParentID    string     `json:"parent_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	Assignee    string     `json:"assignee,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Tags        []string   `json:"tags"`
	Order       int        `json:"order"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (t Task) IsSubtask() bool {
	return t.ParentID != ""
}

// Clone returns a copy that shares no mutable state with t.
func (t Task) Clone() Task {
	c := t
	c.Tags = slices.Clone(t.Tags)
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	return c
}

// Resource is a file or link owned by exactly one task or subtask.
type Resource struct {
	ID         string       `json:"id"`
	TaskID     string       `json:"task_id"`
	Name       string       `json:"name"`
	Kind       ResourceKind `json:"type"`
	URL        string       `json:"url"`
	Size       int64        `json:"size"`
	UploadedAt time.Time    `json:"uploaded_at"`
	UploadedBy string       `json:"uploaded_by"`
}

// TaskPatch carries a partial update; nil fields are left untouched.
type TaskPatch struct {
	Title       *string
	Description *string
	Status      *Status
	Priority    *Priority
	Assignee    *string
	DueDate     *time.Time
	ClearDue    bool
	Tags        []string
	SetTags     bool
}

func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil &&
		p.Priority == nil && p.Assignee == nil && p.DueDate == nil &&
		!p.ClearDue && !p.SetTags
}

func (p TaskPatch) apply(t *Task) {
	if p.Title != nil {
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Assignee != nil {
		t.Assignee = strings.TrimSpace(*p.Assignee)
	}
	if p.ClearDue {
		t.DueDate = nil
	} else if p.DueDate != nil {
		d := *p.DueDate
		t.DueDate = &d
	}
	if p.SetTags {
		t.Tags = normalizeTags(p.Tags)
	}
}

// NewTask holds the caller-supplied fields of a task or subtask.
type NewTask struct {
	Title       string
	Description string
	Status      Status
	Priority    Priority
	Assignee    string
	DueDate     *time.Time
	Tags        []string
}

// normalizeTags trims, drops empties and duplicates while keeping first-seen order.
func normalizeTags(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// SubtaskView is a subtask with its resources.
type SubtaskView struct {
	Task
	Resources []Resource `json:"resources"`
}

// TaskView is a top-level task with its resources and ordered subtasks.
type TaskView struct {
	Task
	Resources []Resource    `json:"resources"`
	Subtasks  []SubtaskView `json:"subtasks"`
}

// GroupView is a group with its ordered top-level tasks.
type GroupView struct {
	Group
	Tasks []TaskView `json:"tasks"`
}
