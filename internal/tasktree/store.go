package tasktree

import (
	"cmp"
	"maps"
	"slices"
	"strings"
	"sync"
)

// Store is the in-memory forest of one board: groups, top-level tasks,
// subtasks and their resources. Records are kept flat in id-keyed arenas
// with parent and owner indexes; nested views are assembled on read.
//
// Reads and writes are guarded by a mutex, but a Store provides no ordering
// between a slow persistence call and a later mutation of the same record:
// the last write wins.
type Store struct {
	mu sync.RWMutex

	groups    map[string]Group
	tasks     map[string]Task
	resources map[string]Resource

	// roots indexes top-level task ids by group, kids subtask ids by parent,
	// owned resource ids by task.
	roots map[string][]string
	kids  map[string][]string
	owned map[string][]string

	seq  map[string]uint64
	next uint64
}

func NewStore() *Store {
	s := &Store{}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.groups = map[string]Group{}
	s.tasks = map[string]Task{}
	s.resources = map[string]Resource{}
	s.roots = map[string][]string{}
	s.kids = map[string][]string{}
	s.owned = map[string][]string{}
	s.seq = map[string]uint64{}
	s.next = 0
}

// Load replaces the whole forest. Subtasks whose parent is missing and
// resources whose owner is missing are dropped.
func (s *Store) Load(groups []Group, tasks []Task, resources []Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset()
	for _, g := range groups {
		s.putGroup(g)
	}
	// parents before children regardless of input order
	for _, t := range tasks {
		if !t.IsSubtask() {
			_ = s.putTask(t)
		}
	}
	for _, t := range tasks {
		if t.IsSubtask() {
			_ = s.putTask(t)
		}
	}
	for _, r := range resources {
		_ = s.putResource(r)
	}
}

func (s *Store) stamp(id string) {
	if _, ok := s.seq[id]; ok {
		return
	}
	s.next++
	s.seq[id] = s.next
}

// ---- reads ----

func (s *Store) Group(id string) (Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	return g, ok
}

// Groups returns the groups in display order.
func (s *Store) Groups() []Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedGroups()
}

func (s *Store) sortedGroups() []Group {
	out := slices.Collect(maps.Values(s.groups))
	slices.SortStableFunc(out, func(a, b Group) int {
		if c := cmp.Compare(a.Order, b.Order); c != 0 {
			return c
		}
		return cmp.Compare(s.seq[a.ID], s.seq[b.ID])
	})
	return out
}

// Task looks a task up by id, top-level or subtask.
func (s *Store) Task(id string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return t.Clone(), true
}

// TopLevel returns the top-level tasks of a group in display order.
func (s *Store) TopLevel(groupID string) []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedTasks(s.roots[groupID])
}

// Subtasks returns the subtasks of a parent in display order.
func (s *Store) Subtasks(parentID string) []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedTasks(s.kids[parentID])
}

// Siblings returns the sibling set that contains the task, in display order.
func (s *Store) Siblings(taskID string) ([]Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, false
	}
	return s.sortedTasks(s.siblingIDs(t)), true
}

func (s *Store) siblingIDs(t Task) []string {
	if t.IsSubtask() {
		return s.kids[t.ParentID]
	}
	return s.roots[t.GroupID]
}

func (s *Store) sortedTasks(ids []string) []Task {
	out := make([]Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.tasks[id]; ok {
			out = append(out, t.Clone())
		}
	}
	slices.SortStableFunc(out, func(a, b Task) int {
		if c := cmp.Compare(a.Order, b.Order); c != 0 {
			return c
		}
		return cmp.Compare(s.seq[a.ID], s.seq[b.ID])
	})
	return out
}

func (s *Store) Resource(id string) (Resource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[id]
	return r, ok
}

// Resources returns the resources owned by a task in attachment order.
func (s *Store) Resources(taskID string) []Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedResources(taskID)
}

func (s *Store) sortedResources(taskID string) []Resource {
	ids := s.owned[taskID]
	out := make([]Resource, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.resources[id]; ok {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b Resource) int {
		if c := a.UploadedAt.Compare(b.UploadedAt); c != 0 {
			return c
		}
		return cmp.Compare(s.seq[a.ID], s.seq[b.ID])
	})
	return out
}

// Board returns every group with its tasks, subtasks and resources.
func (s *Store) Board() []GroupView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	groups := s.sortedGroups()
	out := make([]GroupView, 0, len(groups))
	for _, g := range groups {
		out = append(out, s.groupView(g))
	}
	return out
}

// GroupView returns one group with its tasks.
func (s *Store) GroupView(groupID string) (GroupView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupID]
	if !ok {
		return GroupView{}, false
	}
	return s.groupView(g), true
}

// View returns a top-level task with its subtasks, or a subtask wrapped
// with no subtasks of its own.
func (s *Store) View(taskID string) (TaskView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return TaskView{}, false
	}
	return s.taskView(t.Clone()), true
}

func (s *Store) groupView(g Group) GroupView {
	tasks := s.sortedTasks(s.roots[g.ID])
	gv := GroupView{Group: g, Tasks: make([]TaskView, 0, len(tasks))}
	for _, t := range tasks {
		gv.Tasks = append(gv.Tasks, s.taskView(t))
	}
	return gv
}

func (s *Store) taskView(t Task) TaskView {
	tv := TaskView{
		Task:      t,
		Resources: s.sortedResources(t.ID),
		Subtasks:  []SubtaskView{},
	}
	for _, st := range s.sortedTasks(s.kids[t.ID]) {
		tv.Subtasks = append(tv.Subtasks, SubtaskView{Task: st, Resources: s.sortedResources(st.ID)})
	}
	return tv
}

// Search returns the top-level tasks where the query matches, case
// insensitively, the title, description, a tag, the assignee or the status
// of the task or of any of its subtasks. An empty query matches everything.
func (s *Store) Search(query string) []TaskView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(query))
	out := []TaskView{}
	for _, g := range s.sortedGroups() {
		for _, t := range s.sortedTasks(s.roots[g.ID]) {
			if q == "" || matches(t, q) || s.anySubtaskMatches(t.ID, q) {
				out = append(out, s.taskView(t))
			}
		}
	}
	return out
}

func (s *Store) anySubtaskMatches(parentID, q string) bool {
	for _, id := range s.kids[parentID] {
		if matches(s.tasks[id], q) {
			return true
		}
	}
	return false
}

func matches(t Task, q string) bool {
	fields := []string{t.Title, t.Description, t.Assignee, string(t.Status)}
	fields = append(fields, t.Tags...)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

// Count returns the number of groups, tasks (both levels) and resources.
func (s *Store) Count() (groups, tasks, resources int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.groups), len(s.tasks), len(s.resources)
}

// ---- writes ----

// PutGroup inserts or replaces a group.
func (s *Store) PutGroup(g Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putGroup(g)
}

func (s *Store) putGroup(g Group) {
	s.groups[g.ID] = g
	s.stamp(g.ID)
}

// RemoveGroup drops a group and everything it transitively owns.
func (s *Store) RemoveGroup(groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range slices.Clone(s.roots[groupID]) {
		for _, kid := range slices.Clone(s.kids[id]) {
			s.removeTask(kid)
		}
		s.removeTask(id)
	}
	delete(s.roots, groupID)
	delete(s.groups, groupID)
	delete(s.seq, groupID)
}

// PutTask inserts or replaces a task, re-indexing it when its group or
// parent changed. A subtask must point at an existing top-level task.
func (s *Store) PutTask(t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putTask(t)
}

func (s *Store) putTask(t Task) error {
	if t.IsSubtask() {
		if t.ParentID == t.ID {
			return ErrDepthExceeded
		}
		parent, ok := s.tasks[t.ParentID]
		if !ok {
			return notFound("parent task", t.ParentID)
		}
		if parent.IsSubtask() {
			return ErrDepthExceeded
		}
		if len(s.kids[t.ID]) > 0 {
			return ErrDepthExceeded
		}
		t.GroupID = parent.GroupID
	}
	if _, ok := s.groups[t.GroupID]; !ok {
		return notFound("group", t.GroupID)
	}
	if old, ok := s.tasks[t.ID]; ok {
		s.unlinkTask(old)
	}
	s.tasks[t.ID] = t.Clone()
	s.linkTask(t)
	s.stamp(t.ID)
	// group_id on subtasks is a mirror of the parent's
	for _, kid := range s.kids[t.ID] {
		k := s.tasks[kid]
		k.GroupID = t.GroupID
		s.tasks[kid] = k
	}
	return nil
}

func (s *Store) linkTask(t Task) {
	if t.IsSubtask() {
		s.kids[t.ParentID] = append(s.kids[t.ParentID], t.ID)
		return
	}
	s.roots[t.GroupID] = append(s.roots[t.GroupID], t.ID)
}

func (s *Store) unlinkTask(t Task) {
	if t.IsSubtask() {
		s.kids[t.ParentID] = without(s.kids[t.ParentID], t.ID)
		return
	}
	s.roots[t.GroupID] = without(s.roots[t.GroupID], t.ID)
}

// RemoveTask drops a task and its resources. Subtasks of a removed parent
// must have been removed or promoted first; any left are removed too.
func (s *Store) RemoveTask(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kid := range slices.Clone(s.kids[taskID]) {
		s.removeTask(kid)
	}
	s.removeTask(taskID)
}

func (s *Store) removeTask(taskID string) {
	t, ok := s.tasks[taskID]
	if !ok {
		return
	}
	for _, rid := range slices.Clone(s.owned[taskID]) {
		s.removeResource(rid)
	}
	s.unlinkTask(t)
	delete(s.owned, taskID)
	delete(s.kids, taskID)
	delete(s.tasks, taskID)
	delete(s.seq, taskID)
}

// SetOrders assigns new keys to existing tasks.
func (s *Store) SetOrders(orders map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, o := range orders {
		if t, ok := s.tasks[id]; ok {
			t.Order = o
			s.tasks[id] = t
		}
	}
}

// SetGroupOrders assigns new display orders to existing groups.
func (s *Store) SetGroupOrders(orders map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, o := range orders {
		if g, ok := s.groups[id]; ok {
			g.Order = o
			s.groups[id] = g
		}
	}
}

// PutResource attaches or replaces a resource.
func (s *Store) PutResource(r Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putResource(r)
}

func (s *Store) putResource(r Resource) error {
	if _, ok := s.tasks[r.TaskID]; !ok {
		return notFound("task", r.TaskID)
	}
	if old, ok := s.resources[r.ID]; ok {
		s.owned[old.TaskID] = without(s.owned[old.TaskID], old.ID)
	}
	s.resources[r.ID] = r
	s.owned[r.TaskID] = append(s.owned[r.TaskID], r.ID)
	s.stamp(r.ID)
	return nil
}

func (s *Store) RemoveResource(resourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeResource(resourceID)
}

func (s *Store) removeResource(resourceID string) {
	r, ok := s.resources[resourceID]
	if !ok {
		return
	}
	s.owned[r.TaskID] = without(s.owned[r.TaskID], resourceID)
	delete(s.resources, resourceID)
	delete(s.seq, resourceID)
}

func without(ids []string, id string) []string {
	return slices.DeleteFunc(slices.Clone(ids), func(v string) bool { return v == id })
}

// ---- snapshots ----

// Snapshot is an opaque copy of the store used to undo optimistic writes.
type Snapshot struct {
	groups    map[string]Group
	tasks     map[string]Task
	resources map[string]Resource
	roots     map[string][]string
	kids      map[string][]string
	owned     map[string][]string
	seq       map[string]uint64
	next      uint64
}

// Snapshot captures the current state. Task values are never mutated in
// place, so copying the maps is enough; index slices are cloned.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		groups:    maps.Clone(s.groups),
		tasks:     maps.Clone(s.tasks),
		resources: maps.Clone(s.resources),
		roots:     cloneIndex(s.roots),
		kids:      cloneIndex(s.kids),
		owned:     cloneIndex(s.owned),
		seq:       maps.Clone(s.seq),
		next:      s.next,
	}
}

// Restore puts the store back to a previous snapshot.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups = maps.Clone(snap.groups)
	s.tasks = maps.Clone(snap.tasks)
	s.resources = maps.Clone(snap.resources)
	s.roots = cloneIndex(snap.roots)
	s.kids = cloneIndex(snap.kids)
	s.owned = cloneIndex(snap.owned)
	s.seq = maps.Clone(snap.seq)
	s.next = snap.next
}

func cloneIndex(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = slices.Clone(v)
	}
	return out
}
