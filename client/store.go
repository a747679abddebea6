package client

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

// API is the server surface the Store mirrors. *Client implements it.
type API interface {
	ListTasks(ctx context.Context, f domain.Filter) ([]domain.Task, error)
	CreateTask(ctx context.Context, in domain.CreateInput, idempotencyKey string) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, p domain.Patch) (domain.Task, error)
	MoveTask(ctx context.Context, id string, to domain.Status, position int) (domain.Task, error)
	ReorderColumn(ctx context.Context, st domain.Status, ids []string) error
	DeleteTask(ctx context.Context, id string) error
}

// Store keeps the last known board in memory and derives filtered views
// from it. Every request is stamped with a sequence number and a response
// is only applied when nothing newer has been applied since it was issued.
type Store struct {
	api    API
	logger *log.Logger

	mu      sync.Mutex
	tasks   []domain.Task
	filter  domain.Filter
	err     error
	loading int
	issued  uint64
	applied uint64
}

type StoreOption func(*Store)

func WithStoreLogger(l *log.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewStore(api API, opts ...StoreOption) *Store {
	s := &Store{api: api, logger: log.StandardLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	return s.issued
}

// commit runs apply when seq is newer than the applied state.
func (s *Store) commit(seq uint64, apply func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.applied {
		s.logger.WithField("seq", seq).Debug("discarding stale response")
		return false
	}
	apply()
	s.applied = seq
	s.err = nil
	return true
}

func (s *Store) fail(err error) error {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.logger.WithError(err).Warn("board request failed")
	return err
}

// Load replaces the mirror with the server's full task list.
func (s *Store) Load(ctx context.Context) error {
	seq := s.next()
	s.mu.Lock()
	s.loading++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.loading--
		s.mu.Unlock()
	}()

	tasks, err := s.api.ListTasks(ctx, domain.Filter{})
	if err != nil {
		return s.fail(err)
	}
	s.commit(seq, func() { s.tasks = cloneAll(tasks) })
	return nil
}

// Create adds a task. Single-task responses are stamped when they arrive, so
// a list issued earlier but finishing later cannot drop the new task.
func (s *Store) Create(ctx context.Context, in domain.CreateInput) (domain.Task, error) {
	task, err := s.api.CreateTask(ctx, in, uuid.NewString())
	if err != nil {
		return domain.Task{}, s.fail(err)
	}
	s.commit(s.next(), func() { s.upsertLocked(task) })
	return task, nil
}

// Update applies a patch. Status or position changes shift other tasks on the
// server, so those reload the whole list.
func (s *Store) Update(ctx context.Context, id string, p domain.Patch) (domain.Task, error) {
	task, err := s.api.UpdateTask(ctx, id, p)
	if err != nil {
		return domain.Task{}, s.fail(err)
	}
	if p.Status != nil || p.Position != nil {
		return task, s.Load(ctx)
	}
	s.commit(s.next(), func() { s.upsertLocked(task) })
	return task, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	seq := s.next()
	if err := s.api.DeleteTask(ctx, id); err != nil {
		return s.fail(err)
	}
	s.commit(seq, func() {
		i := s.indexLocked(id)
		if i < 0 {
			return
		}
		st := s.tasks[i].Status
		s.tasks = slices.Delete(s.tasks, i, i+1)
		s.renumberLocked(st)
	})
	return nil
}

// speculate applies a local change ahead of the server and returns a func
// that puts back the list it replaced, unless something newer has landed.
func (s *Store) speculate(seq uint64, apply func()) (rollback func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.applied {
		return func() {}
	}
	prevTasks, prevApplied := cloneAll(s.tasks), s.applied
	apply()
	s.applied = seq
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.applied == seq {
			s.tasks, s.applied = prevTasks, prevApplied
		}
	}
}

// settle reloads after a rejected optimistic change. If the reload fails too
// the list from before the change is restored. The server error is kept.
func (s *Store) settle(ctx context.Context, err error, rollback func()) error {
	s.fail(err)
	if lerr := s.Load(ctx); lerr != nil {
		s.logger.WithError(lerr).Warn("reload after rejected change failed")
		rollback()
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	return err
}

// Move places the task locally first, then asks the server. Success or
// failure, the authoritative list is reloaded afterwards; a failed move is
// never undone by local arithmetic.
func (s *Store) Move(ctx context.Context, id string, to domain.Status, index int) error {
	rollback := s.speculate(s.next(), func() { s.moveLocked(id, to, index) })
	if _, err := s.api.MoveTask(ctx, id, to, index); err != nil {
		return s.settle(ctx, err, rollback)
	}
	return s.Load(ctx)
}

// Reorder sets a column's order locally, persists it and reloads.
func (s *Store) Reorder(ctx context.Context, st domain.Status, ids []string) error {
	rollback := s.speculate(s.next(), func() {
		for pos, id := range ids {
			if i := s.indexLocked(id); i >= 0 && s.tasks[i].Status == st {
				s.tasks[i].Position = pos
			}
		}
	})
	if err := s.api.ReorderColumn(ctx, st, ids); err != nil {
		return s.settle(ctx, err, rollback)
	}
	return s.Load(ctx)
}

func (s *Store) moveLocked(id string, to domain.Status, index int) {
	i := s.indexLocked(id)
	if i < 0 {
		return
	}
	from := s.tasks[i].Status
	column := s.columnLocked(to, id)
	if index < 0 {
		index = 0
	}
	if index > len(column) {
		index = len(column)
	}
	column = slices.Insert(column, index, id)
	s.tasks[i].Status = to
	for pos, cid := range column {
		s.tasks[s.indexLocked(cid)].Position = pos
	}
	if from != to {
		s.renumberLocked(from)
	}
}

// columnLocked returns the ids of a column in position order, minus skip.
func (s *Store) columnLocked(st domain.Status, skip string) []string {
	var col []domain.Task
	for _, t := range s.tasks {
		if t.Status == st && t.ID != skip {
			col = append(col, t)
		}
	}
	sortByPosition(col)
	ids := make([]string, len(col))
	for i, t := range col {
		ids[i] = t.ID
	}
	return ids
}

func (s *Store) renumberLocked(st domain.Status) {
	for pos, id := range s.columnLocked(st, "") {
		s.tasks[s.indexLocked(id)].Position = pos
	}
}

func (s *Store) indexLocked(id string) int {
	return slices.IndexFunc(s.tasks, func(t domain.Task) bool { return t.ID == id })
}

func (s *Store) upsertLocked(t domain.Task) {
	if i := s.indexLocked(t.ID); i >= 0 {
		s.tasks[i] = t.Clone()
		return
	}
	s.tasks = append(s.tasks, t.Clone())
}

// SetFilter changes the view filter. The underlying list is untouched.
func (s *Store) SetFilter(f domain.Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = f
}

func (s *Store) Filter() domain.Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}

// Tasks returns a copy of the full, unfiltered list.
func (s *Store) Tasks() []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.tasks)
}

// Filtered returns the tasks passing the current filter.
func (s *Store) Filtered() []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter.Apply(cloneAll(s.tasks))
}

// TasksByStatus returns the filtered tasks of one column sorted by position.
func (s *Store) TasksByStatus(st domain.Status) []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Task
	for _, t := range s.tasks {
		if t.Status == st && s.filter.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	sortByPosition(out)
	return out
}

// Tags lists every tag on the board, deduplicated and sorted.
func (s *Store) Tags() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, t := range s.tasks {
		out = append(out, t.Tags...)
	}
	return sortedUnique(out)
}

// Assignees lists every non-empty assignee, deduplicated and sorted.
func (s *Store) Assignees() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, t := range s.tasks {
		if t.Assignee != "" {
			out = append(out, t.Assignee)
		}
	}
	return sortedUnique(out)
}

func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading > 0
}

// Err returns the last request failure, cleared by the next applied response.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func sortByPosition(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].Position < tasks[j].Position })
}

func sortedUnique(values []string) []string {
	slices.Sort(values)
	return slices.Compact(values)
}

func cloneAll(tasks []domain.Task) []domain.Task {
	out := make([]domain.Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}
