package mtask

import (
	"time"

	"kyri56xcaesar/coachboard/internal/authmw"
	"kyri56xcaesar/coachboard/internal/tasktree"
)

type CreateGroupRequest struct {
	Title string `json:"title" form:"title" binding:"required,min=1,max=120"`
	Color string `json:"color" form:"color" binding:"max=32"`
}

type UpdateGroupRequest struct {
	Title *string `json:"title" form:"title" binding:"omitempty,min=1,max=120"`
	Color *string `json:"color" form:"color" binding:"omitempty,max=32"`
}

type ReorderGroupsRequest struct {
	GroupIDs []string `json:"group_ids" binding:"required,min=1,dive,required"`
}

type CreateTaskRequest struct {
	GroupID     string     `json:"group_id" form:"group_id"`
	Title       string     `json:"title" form:"title" binding:"required,min=1,max=200"`
	Description string     `json:"description" form:"description" binding:"max=5000"`
	Status      string     `json:"status" form:"status" binding:"omitempty,oneof=pending in_progress completed"`
	Priority    string     `json:"priority" form:"priority" binding:"omitempty,oneof=low medium high"`
	Assignee    string     `json:"assignee" form:"assignee" binding:"max=128"`
	DueDate     *time.Time `json:"due_date" form:"due_date"`
	Tags        []string   `json:"tags" form:"tags" binding:"max=32,dive,max=64"`
}

func (r CreateTaskRequest) toNewTask() tasktree.NewTask {
	return tasktree.NewTask{
		Title:       r.Title,
		Description: r.Description,
		Status:      tasktree.Status(r.Status),
		Priority:    tasktree.Priority(r.Priority),
		Assignee:    r.Assignee,
		DueDate:     r.DueDate,
		Tags:        r.Tags,
	}
}

type UpdateTaskRequest struct {
	Title       *string    `json:"title" binding:"omitempty,min=1,max=200"`
	Description *string    `json:"description" binding:"omitempty,max=5000"`
	Status      *string    `json:"status" binding:"omitempty,oneof=pending in_progress completed"`
	Priority    *string    `json:"priority" binding:"omitempty,oneof=low medium high"`
	Assignee    *string    `json:"assignee" binding:"omitempty,max=128"`
	DueDate     *time.Time `json:"due_date"`
	ClearDue    bool       `json:"clear_due_date"`
	Tags        *[]string  `json:"tags" binding:"omitempty,max=32,dive,max=64"`
}

func (r UpdateTaskRequest) toPatch() tasktree.TaskPatch {
	p := tasktree.TaskPatch{
		Title:       r.Title,
		Description: r.Description,
		Assignee:    r.Assignee,
		DueDate:     r.DueDate,
		ClearDue:    r.ClearDue,
	}
	if r.Status != nil {
		s := tasktree.Status(*r.Status)
		p.Status = &s
	}
	if r.Priority != nil {
		pr := tasktree.Priority(*r.Priority)
		p.Priority = &pr
	}
	if r.Tags != nil {
		p.Tags = *r.Tags
		p.SetTags = true
	}
	return p
}

// touchesFields reports whether the update changes anything besides status.
func (r UpdateTaskRequest) touchesFields() bool {
	return r.Title != nil || r.Description != nil || r.Priority != nil || r.Assignee != nil ||
		r.DueDate != nil || r.ClearDue || r.Tags != nil
}

type MoveTaskRequest struct {
	GroupID string `json:"group_id" binding:"required"`
}

type ReorderRequest struct {
	TaskID  string `json:"taskid" binding:"required"`
	ToIndex *int   `json:"to_index" binding:"required"`
}

type LinkRequest struct {
	Name string `json:"name" form:"name" binding:"max=200"`
	URL  string `json:"url" form:"url" binding:"required,max=2048"`
}

type BoardResponse struct {
	Owner  string               `json:"owner"`
	Groups []tasktree.GroupView `json:"groups"`
}

type MeResponse struct {
	authmw.Principal
	Capabilities authmw.Capabilities `json:"capabilities"`
}
