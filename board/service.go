// Package board is the single writer of task records and column order.
package board

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
	"kanban-api/ordering"
	"kanban-api/storage"
)

const maxIDAttempts = 5

// RecordStore persists one record per task.
type RecordStore interface {
	Create(ctx context.Context, t domain.Task) error
	Read(ctx context.Context, id string) (domain.Task, error)
	Update(ctx context.Context, id string, mutate storage.Mutator) (domain.Task, error)
	Relocate(ctx context.Context, id string, to domain.Status, mutate storage.Mutator) (domain.Task, error)
	Delete(ctx context.Context, id string) error
	Discard(ctx context.Context, id string, st domain.Status) error
	ListByStatus(ctx context.Context, st domain.Status) ([]domain.Task, error)
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides task id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithNotifier registers a receiver for committed events.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notify = n }
}

func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service coordinates the record store and the ordering index. Every
// operation holds the exclusive sections of the columns it touches for its
// whole duration.
type Service struct {
	store  RecordStore
	index  *ordering.Index
	notify Notifier
	now    func() time.Time
	newID  func() string
	logger *log.Logger
}

func NewService(store RecordStore, index *ordering.Index, opts ...Option) *Service {
	if store == nil {
		panic("board.NewService: store is nil")
	}
	if index == nil {
		index = ordering.New()
	}
	s := &Service{
		store:  store,
		index:  index,
		now:    time.Now,
		newID:  NewTaskID,
		logger: log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewTaskID returns a short random id such as "task-1f3a9c0b".
func NewTaskID() string {
	return "task-" + uuid.NewString()[:8]
}

// CreateTask validates in, files the task at the end of its column and
// returns it.
func (s *Service) CreateTask(ctx context.Context, in domain.CreateInput) (domain.Task, error) {
	if err := in.Normalize(); err != nil {
		return domain.Task{}, err
	}
	t, err := s.createTask(ctx, in)
	if err != nil {
		return domain.Task{}, err
	}
	s.publish(ctx, domain.Event{Type: domain.TaskCreated, TaskID: t.ID, Status: t.Status, Position: t.Position, Task: eventTask(t), Time: t.CreatedAt})
	return t, nil
}

func (s *Service) createTask(ctx context.Context, in domain.CreateInput) (domain.Task, error) {
	release := s.index.Acquire(in.Status)
	defer release()

	now := s.now().UTC()
	t := domain.Task{
		Title:          in.Title,
		Description:    in.Description,
		Status:         in.Status,
		Priority:       in.Priority,
		Tags:           in.Tags,
		Assignee:       in.Assignee,
		EstimatedHours: in.EstimatedHours,
		ParentID:       in.ParentID,
		Position:       s.index.Len(in.Status),
		CreatedAt:      now,
		UpdatedAt:      now,
		Content:        in.Content,
	}
	if in.DueDate != nil {
		due := in.DueDate.UTC()
		t.DueDate = &due
	}
	if strings.TrimSpace(t.Content) == "" {
		t.Content = DefaultBody(t.Title, t.Description)
	}

	var err error
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		t.ID = s.newID()
		if err = s.store.Create(ctx, t); !errors.Is(err, domain.ErrDuplicateID) {
			break
		}
		s.logger.WithField("id", t.ID).Warn("task id collision, retrying")
	}
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.index.Insert(t.Status, t.ID, t.Position); err != nil {
		if rmErr := s.store.Delete(ctx, t.ID); rmErr != nil {
			s.logger.WithError(rmErr).WithField("id", t.ID).Error("unable to remove unindexed task record")
		}
		return domain.Task{}, err
	}
	return t, nil
}

// GetTask returns the current snapshot of one task.
func (s *Service) GetTask(ctx context.Context, id string) (domain.Task, error) {
	st, release, err := s.lockTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	defer release()

	t, err := s.store.Read(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	_, pos, _ := s.index.Locate(id)
	t.Status = st
	t.Position = pos
	return t, nil
}

// ListTasks returns tasks in board order (column, then position) with the
// filter applied. Positions come from the index.
func (s *Service) ListTasks(ctx context.Context, filter domain.Filter) ([]domain.Task, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	statuses := domain.Statuses
	if filter.Status != "" {
		statuses = []domain.Status{filter.Status}
	}
	release := s.index.Acquire(statuses...)
	defer release()

	tasks := []domain.Task{}
	for _, st := range statuses {
		col, err := s.column(ctx, st)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, col...)
	}
	return filter.Apply(tasks), nil
}

func (s *Service) column(ctx context.Context, st domain.Status) ([]domain.Task, error) {
	records, err := s.store.ListByStatus(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", st, err)
	}
	byID := make(map[string]domain.Task, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}
	ids := s.index.IDs(st)
	out := make([]domain.Task, 0, len(ids))
	for pos, id := range ids {
		r, ok := byID[id]
		if !ok {
			s.logger.WithFields(log.Fields{"id": id, "status": st}).Warn("indexed task has no readable record")
			continue
		}
		delete(byID, id)
		r.Position = pos
		out = append(out, r)
	}
	for id := range byID {
		s.logger.WithFields(log.Fields{"id": id, "status": st}).Warn("task record is not indexed")
	}
	return out, nil
}

// UpdateTask applies a partial update. A status change relocates the task
// (to patch.Position, or the end of the target column) and writes the other
// fields in the same step. A position alone reorders within the column.
func (s *Service) UpdateTask(ctx context.Context, id string, patch domain.Patch) (domain.Task, error) {
	if err := patch.Validate(); err != nil {
		return domain.Task{}, err
	}
	t, ev, err := s.updateTask(ctx, id, patch)
	if err != nil {
		return domain.Task{}, err
	}
	s.publish(ctx, ev)
	return t, nil
}

func (s *Service) updateTask(ctx context.Context, id string, patch domain.Patch) (domain.Task, domain.Event, error) {
	var extra []domain.Status
	if patch.Status != nil {
		extra = append(extra, *patch.Status)
	}
	st, release, err := s.lockTask(ctx, id, extra...)
	if err != nil {
		return domain.Task{}, domain.Event{}, err
	}
	defer release()

	if patch.Status != nil && *patch.Status != st {
		at := s.index.Len(*patch.Status)
		if patch.Position != nil {
			at = *patch.Position
		}
		return s.relocateLocked(ctx, id, st, *patch.Status, at, &patch)
	}
	if patch.Position != nil {
		return s.repositionLocked(ctx, id, st, *patch.Position, &patch)
	}

	_, pos, _ := s.index.Locate(id)
	now := s.now()
	t, err := s.store.Update(ctx, id, func(t *domain.Task) error {
		patch.ApplyFields(t)
		t.Position = pos
		t.Touch(now)
		return nil
	})
	if err != nil {
		return domain.Task{}, domain.Event{}, err
	}
	return t, domain.Event{Type: domain.TaskUpdated, TaskID: id, Status: st, Position: pos, Task: eventTask(t), Time: t.UpdatedAt}, nil
}

// MoveTask places a task at position at of column to. Within one column it
// is a reorder; across columns the record is relocated and the index is
// rolled back if relocation fails.
func (s *Service) MoveTask(ctx context.Context, id string, to domain.Status, at int) (domain.Task, error) {
	if !to.Valid() {
		return domain.Task{}, domain.Validationf("unknown status %q", to)
	}
	t, ev, err := s.moveTask(ctx, id, to, at)
	if err != nil {
		return domain.Task{}, err
	}
	s.publish(ctx, ev)
	return t, nil
}

func (s *Service) moveTask(ctx context.Context, id string, to domain.Status, at int) (domain.Task, domain.Event, error) {
	from, release, err := s.lockTask(ctx, id, to)
	if err != nil {
		return domain.Task{}, domain.Event{}, err
	}
	defer release()

	if from == to {
		return s.repositionLocked(ctx, id, from, at, nil)
	}
	return s.relocateLocked(ctx, id, from, to, at, nil)
}

func (s *Service) relocateLocked(ctx context.Context, id string, from, to domain.Status, at int, patch *domain.Patch) (domain.Task, domain.Event, error) {
	snap := s.index.Snapshot(from, to)
	pos, err := s.index.MoveAcrossColumns(id, from, to, at)
	if err != nil {
		return domain.Task{}, domain.Event{}, err
	}
	now := s.now()
	t, err := s.store.Relocate(ctx, id, to, func(t *domain.Task) error {
		if patch != nil {
			patch.ApplyFields(t)
		}
		t.Position = pos
		t.Touch(now)
		return nil
	})
	if err != nil {
		s.index.Restore(snap)
		s.logger.WithError(err).WithFields(log.Fields{"id": id, "from": from, "to": to}).Error("task relocation failed, order restored")
		return domain.Task{}, domain.Event{}, err
	}
	s.syncLogged(ctx, from, to)
	return t, domain.Event{Type: domain.TaskMoved, TaskID: id, Status: to, FromStatus: from, Position: pos, Task: eventTask(t), Time: t.UpdatedAt}, nil
}

func (s *Service) repositionLocked(ctx context.Context, id string, st domain.Status, at int, patch *domain.Patch) (domain.Task, domain.Event, error) {
	snap := s.index.Snapshot(st)
	pos, err := s.index.Move(st, id, at)
	if err != nil {
		return domain.Task{}, domain.Event{}, err
	}
	now := s.now()
	t, err := s.store.Update(ctx, id, func(t *domain.Task) error {
		if patch != nil {
			patch.ApplyFields(t)
		}
		t.Position = pos
		t.Touch(now)
		return nil
	})
	if err != nil {
		s.index.Restore(snap)
		return domain.Task{}, domain.Event{}, err
	}
	s.syncLogged(ctx, st)
	return t, domain.Event{Type: domain.TaskMoved, TaskID: id, Status: st, FromStatus: st, Position: pos, Task: eventTask(t), Time: t.UpdatedAt}, nil
}

// ReorderColumn replaces the order of column st. ids must name exactly the
// column's current tasks.
func (s *Service) ReorderColumn(ctx context.Context, st domain.Status, ids []string) error {
	if !st.Valid() {
		return domain.Validationf("unknown status %q", st)
	}
	if err := s.reorderColumn(ctx, st, ids); err != nil {
		return err
	}
	s.publish(ctx, domain.Event{Type: domain.ColumnReordered, Status: st, IDs: append([]string(nil), ids...)})
	return nil
}

func (s *Service) reorderColumn(ctx context.Context, st domain.Status, ids []string) error {
	release := s.index.Acquire(st)
	defer release()

	snap := s.index.Snapshot(st)
	if err := s.index.Reorder(st, ids); err != nil {
		return err
	}
	if err := s.syncPositions(ctx, true, st); err != nil {
		s.index.Restore(snap)
		if rerr := s.syncPositions(ctx, false, st); rerr != nil {
			s.logger.WithError(rerr).WithField("status", st).Error("unable to restore stored positions")
		}
		return err
	}
	return nil
}

// DeleteTask removes a task and closes the gap in its column.
func (s *Service) DeleteTask(ctx context.Context, id string) error {
	ev, err := s.deleteTask(ctx, id)
	if err != nil {
		return err
	}
	s.publish(ctx, ev)
	return nil
}

func (s *Service) deleteTask(ctx context.Context, id string) (domain.Event, error) {
	st, release, err := s.lockTask(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		// Not indexed, but a record may still sit on disk.
		if err := s.store.Delete(ctx, id); err != nil {
			return domain.Event{}, err
		}
		return domain.Event{Type: domain.TaskDeleted, TaskID: id}, nil
	}
	if err != nil {
		return domain.Event{}, err
	}
	defer release()

	if err := s.store.Delete(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Event{}, err
	}
	pos, _ := s.index.Remove(st, id)
	s.syncLogged(ctx, st)
	return domain.Event{Type: domain.TaskDeleted, TaskID: id, Status: st, Position: pos}, nil
}

// Rebuild reloads every column from disk, ordering each by stored position
// (then creation time, then id), and rewrites positions that drifted. It
// returns the number of tasks indexed.
func (s *Service) Rebuild(ctx context.Context) (int, error) {
	release := s.index.Acquire(domain.Statuses...)
	defer release()

	listings := make(map[domain.Status][]domain.Task, len(domain.Statuses))
	winner := make(map[string]domain.Task)
	var stale []domain.Task
	for _, st := range domain.Statuses {
		records, err := s.store.ListByStatus(ctx, st)
		if err != nil {
			return 0, fmt.Errorf("list %s: %w", st, err)
		}
		listings[st] = records
		for _, r := range records {
			if prev, dup := winner[r.ID]; dup {
				s.logger.WithFields(log.Fields{"id": r.ID, "first": prev.Status, "second": r.Status}).Error("task filed under two statuses, keeping the newer record")
				if !r.UpdatedAt.After(prev.UpdatedAt) {
					stale = append(stale, r)
					continue
				}
				stale = append(stale, prev)
			}
			winner[r.ID] = r
		}
	}
	// Left behind by an interrupted relocation. Only one copy may stay on disk.
	for _, r := range stale {
		if err := s.store.Discard(ctx, r.ID, r.Status); err != nil {
			return 0, fmt.Errorf("discard stale copy of %s in %s: %w", r.ID, r.Status, err)
		}
		s.logger.WithFields(log.Fields{"id": r.ID, "status": r.Status}).Warn("removed stale task copy")
	}

	s.index.Reset()
	total := 0
	for _, st := range domain.Statuses {
		col := make([]domain.Task, 0, len(listings[st]))
		for _, r := range listings[st] {
			if winner[r.ID].Status == st {
				col = append(col, r)
			}
		}
		sort.SliceStable(col, func(i, j int) bool {
			a, b := col[i], col[j]
			if a.Position != b.Position {
				return a.Position < b.Position
			}
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.ID < b.ID
		})
		ids := make([]string, len(col))
		for i, r := range col {
			ids[i] = r.ID
		}
		if err := s.index.Load(st, ids); err != nil {
			return 0, err
		}
		total += len(ids)
	}
	if err := s.syncPositions(ctx, false, domain.Statuses...); err != nil {
		return total, err
	}
	return total, nil
}

// lockTask finds the column holding id and enters its section together with
// any extra columns, retrying if the task moved while waiting.
func (s *Service) lockTask(ctx context.Context, id string, extra ...domain.Status) (domain.Status, func(), error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}
		st, _, ok := s.index.Locate(id)
		if !ok {
			return "", nil, domain.NotFound(id)
		}
		release := s.index.Acquire(append([]domain.Status{st}, extra...)...)
		if cur, _, ok := s.index.Locate(id); ok && cur == st {
			return st, release, nil
		}
		release()
	}
}

// syncPositions rewrites stored positions that differ from the index. With
// touch set the rewritten tasks also get a new updated_at.
func (s *Service) syncPositions(ctx context.Context, touch bool, statuses ...domain.Status) error {
	now := s.now()
	for _, st := range statuses {
		records, err := s.store.ListByStatus(ctx, st)
		if err != nil {
			return fmt.Errorf("list %s: %w", st, err)
		}
		stored := make(map[string]int, len(records))
		for _, r := range records {
			stored[r.ID] = r.Position
		}
		for pos, id := range s.index.IDs(st) {
			cur, ok := stored[id]
			if !ok || cur == pos {
				continue
			}
			if _, err := s.store.Update(ctx, id, func(t *domain.Task) error {
				t.Position = pos
				if touch {
					t.Touch(now)
				}
				return nil
			}); err != nil {
				return fmt.Errorf("persist position of %s: %w", id, err)
			}
		}
	}
	return nil
}

// syncLogged persists follower positions after a committed change. Failures
// leave the index authoritative and are repaired by the next Rebuild.
func (s *Service) syncLogged(ctx context.Context, statuses ...domain.Status) {
	if err := s.syncPositions(ctx, false, statuses...); err != nil {
		s.logger.WithError(err).WithField("statuses", statuses).Error("unable to persist column positions")
	}
}

func (s *Service) publish(ctx context.Context, ev domain.Event) {
	if s.notify == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = s.now().UTC()
	}
	if err := s.notify.Publish(ctx, ev); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{"event": ev.Type, "id": ev.TaskID}).Warn("unable to publish board event")
	}
}

func eventTask(t domain.Task) *domain.Task {
	cp := t.Clone()
	return &cp
}
