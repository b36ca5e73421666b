package mtask

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kyri56xcaesar/coachboard/internal/authmw"
	"kyri56xcaesar/coachboard/internal/objstore"
	"kyri56xcaesar/coachboard/internal/tasktree"
	"kyri56xcaesar/coachboard/pkg/apierrors"
)

var (
	errForbidden       = errors.New("forbidden")
	errUnknownAssignee = errors.New("unknown assignee")
	errInvalidMode     = errors.New("invalid mode")
)

// userDirectory checks assignees against the identity provider.
type userDirectory interface {
	UserExists(ctx context.Context, username string) (bool, error)
}

type server struct {
	boards    *workspaces
	directory userDirectory
	maxUpload int64
}

// withBoard resolves the board owner, then runs fn on that board. fn writes
// the success response; errors are mapped by respondError.
func (s *server) withBoard(c *gin.Context, fn func(e *tasktree.Engine, p authmw.Principal) error) {
	p, ok := authmw.PrincipalFrom(c)
	if !ok || p.Username == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, apierrors.CreateError(http.StatusUnauthorized, apierrors.MsgForbidden, GetLang(c)))
		return
	}
	owner := p.Username
	if o := strings.TrimSpace(c.Query("owner")); o != "" && o != p.Username {
		if !p.Can().CanActForOthers {
			respondError(c, fmt.Errorf("board of %s: %w", o, errForbidden))
			return
		}
		owner = o
	}
	err := s.boards.do(c.Request.Context(), owner, c.Query("refresh") == "1", func(e *tasktree.Engine) error {
		return fn(e, p)
	})
	if err != nil {
		respondError(c, err)
	}
}

func allow(ok bool, what string) error {
	if !ok {
		return fmt.Errorf("%s: %w", what, errForbidden)
	}
	return nil
}

// checkAssignee lets anyone assign themselves; assigning others needs the
// capability and, when a directory is configured, an existing user.
func (s *server) checkAssignee(ctx context.Context, p authmw.Principal, assignee string) error {
	assignee = strings.TrimSpace(assignee)
	if assignee == "" || assignee == p.Username {
		return nil
	}
	if err := allow(p.Can().CanAssign, "assign to others"); err != nil {
		return err
	}
	if s.directory == nil {
		return nil
	}
	exists, err := s.directory.UserExists(ctx, assignee)
	if err != nil {
		return fmt.Errorf("look up assignee %s: %w", assignee, err)
	}
	if !exists {
		return fmt.Errorf("%s: %w", assignee, errUnknownAssignee)
	}
	return nil
}

func bindError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest,
		apierrors.CreateError(http.StatusBadRequest, apierrors.MsgInvalidPayload, GetLang(c)).WithDetail(err.Error()))
}

func respondError(c *gin.Context, err error) {
	var (
		verr    *tasktree.ValidationError
		partial *tasktree.PartialCascadeError
		perr    *tasktree.PersistError
	)
	status, key, detail := http.StatusInternalServerError, apierrors.MsgInternal, ""
	switch {
	case errors.As(err, &verr):
		status, key, detail = http.StatusBadRequest, apierrors.MsgInvalidPayload, verr.Error()
	case errors.Is(err, errForbidden):
		status, key = http.StatusForbidden, apierrors.MsgForbidden
	case errors.Is(err, errUnknownAssignee):
		status, key, detail = http.StatusBadRequest, apierrors.MsgUnknownAssignee, err.Error()
	case errors.Is(err, errInvalidMode):
		status, key, detail = http.StatusBadRequest, apierrors.MsgInvalidMode, err.Error()
	case errors.Is(err, tasktree.ErrModeRequired):
		status, key = http.StatusConflict, apierrors.MsgModeRequired
	case errors.Is(err, tasktree.ErrDepthExceeded):
		status, key = http.StatusBadRequest, apierrors.MsgDepthExceeded
	case errors.Is(err, tasktree.ErrInvalidMove):
		status, key = http.StatusBadRequest, apierrors.MsgInvalidMove
	case errors.Is(err, objstore.ErrTooLarge):
		status, key = http.StatusRequestEntityTooLarge, apierrors.MsgFileTooLarge
	case errors.Is(err, tasktree.ErrNoObjectStore):
		status, key = http.StatusNotImplemented, apierrors.MsgNoStorage
	case errors.As(err, &partial):
		status, key, detail = http.StatusInternalServerError, apierrors.MsgPartialCascade, strings.Join(partial.Completed, ", ")
	case errors.As(err, &perr):
		status, key = http.StatusServiceUnavailable, apierrors.MsgPersistFailed
	case errors.Is(err, tasktree.ErrNotFound):
		status, key, detail = http.StatusNotFound, apierrors.MsgNotFound, err.Error()
	}
	if status >= http.StatusInternalServerError {
		zap.L().Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, apierrors.CreateError(status, key, GetLang(c)).WithDetail(detail))
}

func (s *server) handleMe(c *gin.Context) {
	p, _ := authmw.PrincipalFrom(c)
	c.JSON(http.StatusOK, MeResponse{Principal: p, Capabilities: p.Can()})
}

func (s *server) handleBoard(c *gin.Context) {
	s.withBoard(c, func(e *tasktree.Engine, _ authmw.Principal) error {
		c.JSON(http.StatusOK, BoardResponse{Owner: e.OwnerID, Groups: e.Store.Board()})
		return nil
	})
}

func (s *server) handleSearch(c *gin.Context) {
	q := c.Query("q")
	s.withBoard(c, func(e *tasktree.Engine, _ authmw.Principal) error {
		c.JSON(http.StatusOK, gin.H{"query": q, "items": e.Store.Search(q)})
		return nil
	})
}

func (s *server) handleTaskGet(c *gin.Context) {
	id := c.Param("taskid")
	s.withBoard(c, func(e *tasktree.Engine, _ authmw.Principal) error {
		view, ok := e.Store.View(id)
		if !ok {
			return fmt.Errorf("task %q: %w", id, tasktree.ErrNotFound)
		}
		c.JSON(http.StatusOK, view)
		return nil
	})
}

// ---- groups ----

func (s *server) handleGroupCreate(c *gin.Context) {
	var req CreateGroupRequest
	if err := c.ShouldBind(&req); err != nil {
		bindError(c, err)
		return
	}
	s.withBoard(c, func(e *tasktree.Engine, p authmw.Principal) error {
		if err := allow(p.Can().CanManageGroups, "manage groups"); err != nil {
			return err
		}
		g, err := e.CreateGroup(c.Request.Context(), req.Title, req.Color)
		if err != nil {
			return err
		}
		c.JSON(http.StatusCreated, g)
		return nil
	})
}

func (s *server) handleGroupUpdate(c *gin.Context) {
	var req UpdateGroupRequest
	if err := c.ShouldBind(&req); err != nil {
		bindError(c, err)
		return
	}
	id := c.Param("groupid")
	s.withBoard(c, func(e *tasktree.Engine, p authmw.Principal) error {
		if err := allow(p.Can().CanManageGroups, "manage groups"); err != nil {
			return err
		}
		g, err := e.UpdateGroup(c.Request.Context(), id, req.Title, req.Color)
		if err != nil {
			return err
		}
		c.JSON(http.StatusOK, g)
		return nil
	})
}

func (s *server) handleGroupDelete(c *gin.Context) {
	id := c.Param("groupid")
	s.withBoard(c, func(e *tasktree.Engine, p authmw.Principal) error {
		caps := p.Can()
		if err := allow(caps.CanManageGroups && caps.CanDelete, "delete groups"); err != nil {
			return err
		}
		if err := e.Cascade.DeleteGroup(c.Request.Context(), id); err != nil {
			return err
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return nil
	})
}

func (s *server) handleGroupReorder(c *gin.Context) {
	var req ReorderGroupsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	s.withBoard(c, func(e *tasktree.Engine, p authmw.Principal) error {
		if err := allow(p.Can().CanManageGroups, "manage groups"); err != nil {
			return err
		}
		if err := e.ReorderGroups(c.Request.Context(), req.GroupIDs); err != nil {
			return err
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "groups": e.Store.Groups()})
		return nil
	})
}

// ---- tasks ----

func (s *server) handleTaskCreate(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBind(&req); err != nil {
		bindError(c, err)
		return
	}
	s.withBoard(c, func(e *tasktree.Engine, p authmw.Principal) error {
		if err := s.checkAssignee(c.Request.Context(), p, req.Assignee); err != nil {
			return err
		}
		t, err := e.CreateTask(c.Request.Context(), req.GroupID, req.toNewTask())
		if err != nil {
			return err
		}
		c.JSON(http.StatusCreated, t)
		return nil
	})
}

func (s *server) handleSubtaskCreate(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBind(&req); err != nil {
		bindError(c, err)
		return
	}
	parentID := c.Param("taskid")
	s.withBoard(c, func(e *tasktree.Engine, p authmw.Principal) error {
		if err := s.checkAssignee(c.Request.Context(), p, req.Assignee); err != nil {
			return err
		}
		t, err := e.AddSubtask(c.Request.Context(), parentID, req.toNewTask())
		if err != nil {
			return err
		}
		c.JSON(http.StatusCreated, t)
		return nil
	})
}

func (s *server) handleTaskUpdate(c *gin.Context) {
	var req UpdateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	id := c.Param("taskid")
	s.withBoard(c, func(e *tasktree.Engine, p authmw.Principal) error {
		caps := p.Can()
		if req.Status != nil {
			if err := allow(caps.CanEditStatus, "edit status"); err != nil {
				return err
			}
		}
		if req.touchesFields() {
			if err := allow(caps.CanEditFields, "edit fields"); err != nil {
				return err
			}
		}
		if req.Assignee != nil {
			if err := s.checkAssignee(c.Request.Context(), p, *req.Assignee); err != nil {
				return err
			}
		}
		t, err := e.UpdateTask(c.Request.Context(), id, req.toPatch())
		if err != nil {
			return err
		}
		c.JSON(http.StatusOK, t)
		return nil
	})
}

func parseDeleteMode(s string) (tasktree.DeleteMode, error) {
	switch s {
	case "":
		return tasktree.DeleteUnspecified, nil
	case "all":
		return tasktree.DeleteAll, nil
	case "keep":
		return tasktree.KeepSubtasks, nil
	}
	return 0, fmt.Errorf("delete mode %q: %w", s, errInvalidMode)
}

func parseDuplicateMode(s string) (tasktree.DuplicateMode, error) {
	switch s {
	case "":
		return tasktree.DuplicateUnspecified, nil
	case "with_subtasks":
		return tasktree.WithSubtasks, nil
	case "task_only":
		return tasktree.TaskOnly, nil
	}
	return 0, fmt.Errorf("duplicate mode %q: %w", s, errInvalidMode)
}

func (s *server) handleTaskDelete(c *gin.Context) {
	mode, err := parseDeleteMode(c.Query("mode"))
	if err != nil {
		respondError(c, err)
		return
	}
	id := c.Param("taskid")
	s.withBoard(c, func(e *tasktree.Engine, p authmw.Principal) error {
		if err := allow(p.Can().CanDelete, "delete tasks"); err != nil {
			return err
		}
		if err := e.Cascade.Delete(c.Request.Context(), id, mode); err != nil {
			return err
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return nil
	})
}

func (s *server) handleTaskDuplicate(c *gin.Context) {
	mode, err := parseDuplicateMode(c.Query("mode"))
	if err != nil {
		respondError(c, err)
		return
	}
	id := c.Param("taskid")
	s.withBoard(c, func(e *tasktree.Engine, _ authmw.Principal) error {
		view, err := e.Cascade.Duplicate(c.Request.Context(), id, mode)
		if err != nil {
			return err
		}
		c.JSON(http.StatusCreated, view)
		return nil
	})
}

func (s *server) handleTaskMove(c *gin.Context) {
	var req MoveTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	id := c.Param("taskid")
	s.withBoard(c, func(e *tasktree.Engine, _ authmw.Principal) error {
		t, err := e.MoveTask(c.Request.Context(), id, req.GroupID)
		if err != nil {
			return err
		}
		c.JSON(http.StatusOK, t)
		return nil
	})
}

func (s *server) handleReorder(c *gin.Context) {
	var req ReorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	s.withBoard(c, func(e *tasktree.Engine, _ authmw.Principal) error {
		if err := e.Reorder.Move(c.Request.Context(), req.TaskID, *req.ToIndex); err != nil {
			return err
		}
		siblings, _ := e.Store.Siblings(req.TaskID)
		c.JSON(http.StatusOK, gin.H{"status": "ok", "siblings": siblings})
		return nil
	})
}

// ---- resources ----

func (s *server) handleFileUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload+1<<20)
	fh, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			respondError(c, fmt.Errorf("%w: %v", objstore.ErrTooLarge, err))
			return
		}
		bindError(c, err)
		return
	}
	taskID := c.Param("taskid")
	s.withBoard(c, func(e *tasktree.Engine, p authmw.Principal) error {
		f, err := fh.Open()
		if err != nil {
			return err
		}
		defer f.Close()
		r, err := e.Attachments.Upload(c.Request.Context(), taskID, fh.Filename, f, p.Username)
		if err != nil {
			return err
		}
		c.JSON(http.StatusCreated, r)
		return nil
	})
}

func (s *server) handleLinkCreate(c *gin.Context) {
	var req LinkRequest
	if err := c.ShouldBind(&req); err != nil {
		bindError(c, err)
		return
	}
	taskID := c.Param("taskid")
	s.withBoard(c, func(e *tasktree.Engine, p authmw.Principal) error {
		r, err := e.Attachments.Link(c.Request.Context(), taskID, req.Name, req.URL, p.Username)
		if err != nil {
			return err
		}
		c.JSON(http.StatusCreated, r)
		return nil
	})
}

func (s *server) handleResourceDelete(c *gin.Context) {
	id := c.Param("resourceid")
	s.withBoard(c, func(e *tasktree.Engine, p authmw.Principal) error {
		if err := allow(p.Can().CanDelete, "delete resources"); err != nil {
			return err
		}
		if err := e.Attachments.Detach(c.Request.Context(), id); err != nil {
			return err
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return nil
	})
}
