package mtask

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"kyri56xcaesar/coachboard/internal/tasktree"
)

// workspaces holds one engine per board owner. Operations on one board are
// serialized; different boards proceed in parallel.
type workspaces struct {
	repo tasktree.Repository
	opts tasktree.Options
	m    *metrics

	mu     sync.Mutex
	boards map[string]*workspace
}

type workspace struct {
	mu     sync.Mutex
	engine *tasktree.Engine
	loaded bool
}

func newWorkspaces(repo tasktree.Repository, opts tasktree.Options, m *metrics) *workspaces {
	return &workspaces{repo: repo, opts: opts, m: m, boards: map[string]*workspace{}}
}

func (w *workspaces) get(owner string) *workspace {
	w.mu.Lock()
	defer w.mu.Unlock()
	ws, ok := w.boards[owner]
	if !ok {
		ws = &workspace{engine: tasktree.New(owner, w.repo, w.opts)}
		w.boards[owner] = ws
		if w.m != nil {
			w.m.boards.Inc()
		}
	}
	return ws
}

// do runs fn against the owner's engine, loading the board from the
// repository first when it is not in memory yet or refresh is set.
func (w *workspaces) do(ctx context.Context, owner string, refresh bool, fn func(*tasktree.Engine) error) error {
	ws := w.get(owner)
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if !ws.loaded || refresh {
		if err := ws.engine.Load(ctx); err != nil {
			zap.L().Error("failed to load board", zap.String("owner", owner), zap.Error(err))
			return err
		}
		ws.loaded = true
	}
	return fn(ws.engine)
}
