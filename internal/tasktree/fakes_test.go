package tasktree

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

var errBackendDown = errors.New("backend unavailable")

// memRepo is an in-memory Repository enforcing the same referential rules
// as the SQL schema: no task deleted while resources or subtasks point at it.
type memRepo struct {
	mu        sync.Mutex
	groups    map[string]Group
	tasks     map[string]Task
	resources map[string]Resource
	seq       map[string]int
	n         int
	copies    int

	calls []string
	fail  map[string]error
}

func newMemRepo() *memRepo {
	return &memRepo{
		groups:    map[string]Group{},
		tasks:     map[string]Task{},
		resources: map[string]Resource{},
		seq:       map[string]int{},
		fail:      map[string]error{},
	}
}

func (m *memRepo) call(name string) error {
	m.calls = append(m.calls, name)
	return m.fail[name]
}

func (m *memRepo) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (m *memRepo) stamp(id string) {
	if _, ok := m.seq[id]; !ok {
		m.n++
		m.seq[id] = m.n
	}
}

func (m *memRepo) ListGroups(_ context.Context, ownerID string) ([]Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ListGroups"); err != nil {
		return nil, err
	}
	var out []Group
	for _, g := range m.groups {
		if g.OwnerID == ownerID {
			out = append(out, g)
		}
	}
	slices.SortFunc(out, func(a, b Group) int { return a.Order - b.Order })
	return out, nil
}

func (m *memRepo) CreateGroup(_ context.Context, g Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("CreateGroup"); err != nil {
		return err
	}
	m.groups[g.ID] = g
	m.stamp(g.ID)
	return nil
}

func (m *memRepo) UpdateGroup(_ context.Context, g Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("UpdateGroup"); err != nil {
		return err
	}
	if _, ok := m.groups[g.ID]; !ok {
		return ErrNotFound
	}
	m.groups[g.ID] = g
	return nil
}

func (m *memRepo) DeleteGroup(_ context.Context, groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("DeleteGroup"); err != nil {
		return err
	}
	for _, t := range m.tasks {
		if t.GroupID == groupID {
			return fmt.Errorf("group %s still has task %s", groupID, t.ID)
		}
	}
	delete(m.groups, groupID)
	return nil
}

func (m *memRepo) sorted(keep func(Task) bool) []Task {
	var out []Task
	for _, t := range m.tasks {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	slices.SortFunc(out, func(a, b Task) int {
		if a.Order != b.Order {
			return a.Order - b.Order
		}
		return m.seq[a.ID] - m.seq[b.ID]
	})
	return out
}

func (m *memRepo) ListTasks(_ context.Context, groupID string) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ListTasks"); err != nil {
		return nil, err
	}
	return m.sorted(func(t Task) bool { return t.GroupID == groupID && t.ParentID == "" }), nil
}

func (m *memRepo) ListSubtasks(_ context.Context, parentID string) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ListSubtasks"); err != nil {
		return nil, err
	}
	return m.sorted(func(t Task) bool { return t.ParentID == parentID }), nil
}

func (m *memRepo) ListResources(_ context.Context, taskIDs []string) ([]Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ListResources"); err != nil {
		return nil, err
	}
	var out []Resource
	for _, r := range m.resources {
		if slices.Contains(taskIDs, r.TaskID) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b Resource) int { return m.seq[a.ID] - m.seq[b.ID] })
	return out, nil
}

func (m *memRepo) CreateTask(_ context.Context, t Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("CreateTask"); err != nil {
		return err
	}
	if _, ok := m.groups[t.GroupID]; !ok {
		return fmt.Errorf("group %s missing", t.GroupID)
	}
	if t.ParentID != "" {
		if _, ok := m.tasks[t.ParentID]; !ok {
			return fmt.Errorf("parent %s missing", t.ParentID)
		}
	}
	m.tasks[t.ID] = t.Clone()
	m.stamp(t.ID)
	return nil
}

func (m *memRepo) UpdateTask(_ context.Context, t Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("UpdateTask"); err != nil {
		return err
	}
	if _, ok := m.tasks[t.ID]; !ok {
		return ErrNotFound
	}
	m.tasks[t.ID] = t.Clone()
	return nil
}

func (m *memRepo) DeleteTask(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("DeleteTask"); err != nil {
		return err
	}
	for _, r := range m.resources {
		if r.TaskID == taskID {
			return fmt.Errorf("task %s still owns resource %s", taskID, r.ID)
		}
	}
	for _, t := range m.tasks {
		if t.ParentID == taskID {
			return fmt.Errorf("task %s still has subtask %s", taskID, t.ID)
		}
	}
	if _, ok := m.tasks[taskID]; !ok {
		return ErrNotFound
	}
	delete(m.tasks, taskID)
	return nil
}

func (m *memRepo) MoveTask(_ context.Context, taskID, groupID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("MoveTask"); err != nil {
		return err
	}
	if _, ok := m.tasks[taskID]; !ok {
		return ErrNotFound
	}
	for id, t := range m.tasks {
		if id == taskID || t.ParentID == taskID {
			t.GroupID = groupID
			t.UpdatedAt = at
			m.tasks[id] = t
		}
	}
	return nil
}

func (m *memRepo) SetTaskOrder(_ context.Context, u OrderUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("SetTaskOrder"); err != nil {
		return err
	}
	return m.setOrder(u)
}

func (m *memRepo) setOrder(u OrderUpdate) error {
	t, ok := m.tasks[u.TaskID]
	if !ok {
		return ErrNotFound
	}
	t.Order = u.Order
	t.GroupID = u.GroupID
	m.tasks[u.TaskID] = t
	return nil
}

func (m *memRepo) SetTaskOrders(_ context.Context, us []OrderUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("SetTaskOrders"); err != nil {
		return err
	}
	for _, u := range us {
		if err := m.setOrder(u); err != nil {
			return err
		}
	}
	return nil
}

func (m *memRepo) CreateResource(_ context.Context, r Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("CreateResource"); err != nil {
		return err
	}
	if _, ok := m.tasks[r.TaskID]; !ok {
		return fmt.Errorf("task %s missing", r.TaskID)
	}
	m.resources[r.ID] = r
	m.stamp(r.ID)
	return nil
}

func (m *memRepo) DeleteResource(_ context.Context, resourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("DeleteResource"); err != nil {
		return err
	}
	delete(m.resources, resourceID)
	return nil
}

func (m *memRepo) CopyResources(_ context.Context, fromTaskID, toTaskID string, at time.Time) ([]Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("CopyResources"); err != nil {
		return nil, err
	}
	var src []Resource
	for _, r := range m.resources {
		if r.TaskID == fromTaskID {
			src = append(src, r)
		}
	}
	slices.SortFunc(src, func(a, b Resource) int { return m.seq[a.ID] - m.seq[b.ID] })
	out := make([]Resource, 0, len(src))
	for _, r := range src {
		m.copies++
		r.ID = fmt.Sprintf("copy-%d", m.copies)
		r.TaskID = toTaskID
		r.UploadedAt = at
		m.resources[r.ID] = r
		m.stamp(r.ID)
		out = append(out, r)
	}
	return out, nil
}

func (m *memRepo) resourcesOf(taskID string) []Resource {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Resource
	for _, r := range m.resources {
		if r.TaskID == taskID {
			out = append(out, r)
		}
	}
	return out
}

func (m *memRepo) task(id string) (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	return t, ok
}

// txRepo adds all-or-nothing transactions on top of memRepo.
type txRepo struct {
	*memRepo
}

func (r txRepo) InTx(ctx context.Context, fn func(Repository) error) error {
	r.mu.Lock()
	groups, tasks, resources := maps.Clone(r.groups), maps.Clone(r.tasks), maps.Clone(r.resources)
	r.mu.Unlock()

	if err := fn(r.memRepo); err != nil {
		r.mu.Lock()
		r.groups, r.tasks, r.resources = groups, tasks, resources
		r.mu.Unlock()
		return err
	}
	return nil
}

// memObjects is an ObjectStore keeping blobs in memory under /files/.
type memObjects struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	n       int
	failDel error
}

func newMemObjects() *memObjects { return &memObjects{blobs: map[string][]byte{}} }

func (o *memObjects) Put(_ context.Context, name string, r io.Reader) (string, int64, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, r)
	if err != nil {
		return "", 0, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.n++
	u := fmt.Sprintf("/files/%d/%s", o.n, name)
	o.blobs[u] = buf.Bytes()
	return u, n, nil
}

func (o *memObjects) Owns(u string) bool { return strings.HasPrefix(u, "/files/") }

func (o *memObjects) Delete(_ context.Context, u string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failDel != nil {
		return o.failDel
	}
	delete(o.blobs, u)
	return nil
}

func (o *memObjects) has(u string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.blobs[u]
	return ok
}

type countingRecorder struct {
	mu  sync.Mutex
	got map[string]int
}

func (c *countingRecorder) Mutation(op string, outcome Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.got == nil {
		c.got = map[string]int{}
	}
	c.got[op+"/"+string(outcome)]++
}

func (c *countingRecorder) n(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.got[key]
}

// newTestEngine wires an engine with deterministic ids and a ticking clock.
func newTestEngine(repo Repository, objects ObjectStore, opts ...func(*Options)) *Engine {
	var n int
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	o := Options{
		Objects: objects,
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%03d", n)
		},
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
		PersistSiblings: true,
	}
	for _, f := range opts {
		f(&o)
	}
	return New("coach", repo, o)
}

func taskIDsOf(ts []Task) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.ID
	}
	return out
}
