package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

const recordExt = ".md"

// Mutator edits a task in place before it is written back.
type Mutator func(t *domain.Task) error

// FileStore keeps one front-matter file per task under a directory named
// after the task's status.
type FileStore struct {
	root   string
	locks  *keyedMutex
	logger *log.Logger
}

// FileStoreOption customizes a FileStore during construction.
type FileStoreOption func(*FileStore)

// WithLogger overrides the logger used to report skipped records.
func WithLogger(logger *log.Logger) FileStoreOption {
	return func(s *FileStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// OpenFileStore prepares the status directories under root.
func OpenFileStore(root string, opts ...FileStoreOption) (*FileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage: tasks dir required")
	}
	s := &FileStore{root: root, locks: newKeyedMutex(), logger: log.StandardLogger()}
	for _, opt := range opts {
		opt(s)
	}
	for _, st := range domain.Statuses {
		if err := os.MkdirAll(s.dir(st), 0o755); err != nil {
			return nil, fmt.Errorf("storage: ensure %s dir: %w", st, err)
		}
	}
	return s, nil
}

// Root returns the directory the store was opened on.
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) dir(st domain.Status) string {
	return filepath.Join(s.root, string(st))
}

// Path returns where a task with the given id and status is filed.
func (s *FileStore) Path(id string, st domain.Status) string {
	return filepath.Join(s.dir(st), id+recordExt)
}

// Create writes a new record. The id must not exist in any status directory.
func (s *FileStore) Create(ctx context.Context, t domain.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkID(t.ID); err != nil {
		return err
	}
	if !t.Status.Valid() {
		return domain.Validationf("unknown status %q", t.Status)
	}
	unlock := s.locks.Lock(t.ID)
	defer unlock()

	if _, _, err := s.locate(t.ID); err == nil {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateID, t.ID)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	data, err := EncodeRecord(t)
	if err != nil {
		return err
	}
	return writeAtomic(s.Path(t.ID, t.Status), data)
}

// Read loads a task from whichever status directory holds it.
func (s *FileStore) Read(ctx context.Context, id string) (domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return domain.Task{}, err
	}
	if err := checkID(id); err != nil {
		return domain.Task{}, err
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	t, _, err := s.readLocked(id)
	return t, err
}

// Update applies mutate and writes the record back to the same location.
// Status changes are rejected here; use Relocate for those.
func (s *FileStore) Update(ctx context.Context, id string, mutate Mutator) (domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return domain.Task{}, err
	}
	if err := checkID(id); err != nil {
		return domain.Task{}, err
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	t, path, err := s.readLocked(id)
	if err != nil {
		return domain.Task{}, err
	}
	status := t.Status
	if mutate != nil {
		if err := mutate(&t); err != nil {
			return domain.Task{}, err
		}
	}
	if t.ID != id {
		return domain.Task{}, domain.Validationf("task id is immutable")
	}
	if t.Status != status {
		return domain.Task{}, domain.Validationf("status change for %s requires relocation", id)
	}
	data, err := EncodeRecord(t)
	if err != nil {
		return domain.Task{}, err
	}
	if err := writeAtomic(path, data); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// Relocate moves a record into the directory of status to, applying mutate
// in the same write. The new file is written before the old one is removed;
// on failure the original record is left untouched.
func (s *FileStore) Relocate(ctx context.Context, id string, to domain.Status, mutate Mutator) (domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return domain.Task{}, err
	}
	if err := checkID(id); err != nil {
		return domain.Task{}, err
	}
	if !to.Valid() {
		return domain.Task{}, domain.Validationf("unknown status %q", to)
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	t, oldPath, err := s.readLocked(id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status == to {
		return domain.Task{}, domain.Validationf("task %s is already %s", id, to)
	}
	t.Status = to
	if mutate != nil {
		if err := mutate(&t); err != nil {
			return domain.Task{}, err
		}
	}
	if t.ID != id || t.Status != to {
		return domain.Task{}, domain.Validationf("relocation mutator may not change id or status")
	}
	data, err := EncodeRecord(t)
	if err != nil {
		return domain.Task{}, err
	}
	newPath := s.Path(id, to)
	if err := writeAtomic(newPath, data); err != nil {
		return domain.Task{}, fmt.Errorf("%w: %s to %s: %v", domain.ErrRelocationFailed, id, to, err)
	}
	if err := os.Remove(oldPath); err != nil {
		if rmErr := os.Remove(newPath); rmErr != nil {
			s.logger.WithError(rmErr).WithField("path", newPath).Error("relocation cleanup failed")
		}
		return domain.Task{}, fmt.Errorf("%w: %s to %s: %v", domain.ErrRelocationFailed, id, to, err)
	}
	return t, nil
}

// Delete removes the record for id.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkID(id); err != nil {
		return err
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	_, path, err := s.locate(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.NotFound(id)
		}
		return err
	}
	return nil
}

// Discard removes the copy of id filed under st, leaving copies in other
// status directories alone. It is used to clean up duplicates.
func (s *FileStore) Discard(ctx context.Context, id string, st domain.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkID(id); err != nil {
		return err
	}
	if !st.Valid() {
		return domain.Validationf("unknown status %q", st)
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	if err := os.Remove(s.Path(id, st)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.NotFound(id)
		}
		return err
	}
	return nil
}

// ListByStatus returns every readable record filed under st in directory
// order. Records that fail to decode are logged and skipped.
func (s *FileStore) ListByStatus(ctx context.Context, st domain.Status) ([]domain.Task, error) {
	if !st.Valid() {
		return nil, domain.Validationf("unknown status %q", st)
	}
	entries, err := os.ReadDir(s.dir(st))
	if err != nil {
		return nil, err
	}
	tasks := make([]domain.Task, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != recordExt {
			continue
		}
		path := filepath.Join(s.dir(st), name)
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		t, err := DecodeRecord(data)
		if err != nil {
			s.logger.WithError(err).WithFields(log.Fields{"file": path, "status": st}).Warn("skipping unreadable task record")
			continue
		}
		if want := strings.TrimSuffix(name, recordExt); t.ID != want {
			s.logger.WithFields(log.Fields{"file": path, "id": t.ID}).Warn("skipping task record with mismatched file name")
			continue
		}
		s.alignStatus(&t, st, path)
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (s *FileStore) locate(id string) (domain.Status, string, error) {
	for _, st := range domain.Statuses {
		path := s.Path(id, st)
		if _, err := os.Stat(path); err == nil {
			return st, path, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", "", err
		}
	}
	return "", "", domain.NotFound(id)
}

func (s *FileStore) readLocked(id string) (domain.Task, string, error) {
	st, path, err := s.locate(id)
	if err != nil {
		return domain.Task{}, "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.Task{}, "", domain.NotFound(id)
		}
		return domain.Task{}, "", err
	}
	t, err := DecodeRecord(data)
	if err != nil {
		return domain.Task{}, "", fmt.Errorf("read %s: %w", id, err)
	}
	s.alignStatus(&t, st, path)
	return t, path, nil
}

// alignStatus treats the directory as authoritative when a hand-edited
// header disagrees with where the file lives.
func (s *FileStore) alignStatus(t *domain.Task, st domain.Status, path string) {
	if t.Status == st {
		return
	}
	s.logger.WithFields(log.Fields{"file": path, "header": t.Status, "dir": st}).Warn("task header status disagrees with location")
	t.Status = st
}

func checkID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return domain.Validationf("invalid task id %q", id)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }
	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		cleanup()
		return err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
