// Package ordering keeps the authoritative display order of every board
// column in memory.
package ordering

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"kanban-api/domain"
)

// Index holds one ordered id sequence per status. A task's position is its
// offset in that sequence, so positions are always 0..n-1.
//
// Each column also owns an exclusive section that callers take with Acquire
// to span a whole operation, file I/O included. The index methods themselves
// are safe to call with or without it.
type Index struct {
	mu       sync.Mutex
	columns  map[domain.Status][]string
	where    map[string]domain.Status
	sections map[domain.Status]*sync.Mutex
}

// Snapshot is a copy of some columns taken for rollback.
type Snapshot map[domain.Status][]string

func New() *Index {
	idx := &Index{
		columns:  make(map[domain.Status][]string, len(domain.Statuses)),
		where:    make(map[string]domain.Status),
		sections: make(map[domain.Status]*sync.Mutex, len(domain.Statuses)),
	}
	for _, st := range domain.Statuses {
		idx.columns[st] = []string{}
		idx.sections[st] = &sync.Mutex{}
	}
	return idx
}

// Acquire enters the exclusive sections of the given columns in
// lexicographic order and returns a func that leaves them.
func (x *Index) Acquire(statuses ...domain.Status) func() {
	keys := make([]string, 0, len(statuses))
	for _, st := range statuses {
		if _, ok := x.sections[st]; !ok {
			continue
		}
		if !slices.Contains(keys, string(st)) {
			keys = append(keys, string(st))
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		x.sections[domain.Status(k)].Lock()
	}
	return func() {
		for i := len(keys) - 1; i >= 0; i-- {
			x.sections[domain.Status(keys[i])].Unlock()
		}
	}
}

// Insert places id in column st at position at, clamped to [0, len].
func (x *Index) Insert(st domain.Status, id string, at int) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.checkStatus(st); err != nil {
		return 0, err
	}
	if cur, ok := x.where[id]; ok {
		return 0, fmt.Errorf("%w: %s already in %s", domain.ErrDuplicateID, id, cur)
	}
	pos := x.insertLocked(st, id, at)
	return pos, nil
}

// Remove drops id from column st and closes the gap. It reports the former
// position and whether id was present.
func (x *Index) Remove(st domain.Status, id string) (int, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.removeLocked(st, id)
}

// Move repositions id within its own column.
func (x *Index) Move(st domain.Status, id string, at int) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.checkStatus(st); err != nil {
		return 0, err
	}
	if _, ok := x.removeLocked(st, id); !ok {
		return 0, domain.NotFound(id)
	}
	return x.insertLocked(st, id, at), nil
}

// MoveAcrossColumns takes id out of from and inserts it into to at the
// clamped position, as one step. Nothing changes when id is not in from.
func (x *Index) MoveAcrossColumns(id string, from, to domain.Status, at int) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.checkStatus(from); err != nil {
		return 0, err
	}
	if err := x.checkStatus(to); err != nil {
		return 0, err
	}
	if _, ok := x.removeLocked(from, id); !ok {
		return 0, fmt.Errorf("%w: %s not in %s", domain.ErrNotFound, id, from)
	}
	return x.insertLocked(to, id, at), nil
}

// Reorder replaces column st with ids, which must be a permutation of the
// column's current members.
func (x *Index) Reorder(st domain.Status, ids []string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.checkStatus(st); err != nil {
		return err
	}
	cur := x.columns[st]
	if len(ids) != len(cur) {
		return fmt.Errorf("%w: %s holds %d tasks, got %d ids", domain.ErrSetMismatch, st, len(cur), len(ids))
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %s listed twice", domain.ErrSetMismatch, id)
		}
		seen[id] = struct{}{}
		if x.where[id] != st {
			return fmt.Errorf("%w: %s is not in %s", domain.ErrSetMismatch, id, st)
		}
	}
	x.columns[st] = slices.Clone(ids)
	return nil
}

// IDs returns a copy of column st in order.
func (x *Index) IDs(st domain.Status) []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return slices.Clone(x.columns[st])
}

// Locate finds the column and position of id.
func (x *Index) Locate(id string) (domain.Status, int, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	st, ok := x.where[id]
	if !ok {
		return "", 0, false
	}
	return st, slices.Index(x.columns[st], id), true
}

func (x *Index) Len(st domain.Status) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.columns[st])
}

// Load replaces column st wholesale. Ids already filed under another column
// are rejected.
func (x *Index) Load(st domain.Status, ids []string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.checkStatus(st); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %s listed twice", domain.ErrDuplicateID, id)
		}
		seen[id] = struct{}{}
		if cur, ok := x.where[id]; ok && cur != st {
			return fmt.Errorf("%w: %s already in %s", domain.ErrDuplicateID, id, cur)
		}
	}
	x.setLocked(st, slices.Clone(ids))
	return nil
}

// Reset empties every column.
func (x *Index) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	for st := range x.columns {
		x.columns[st] = []string{}
	}
	clear(x.where)
}

// Snapshot copies the given columns, or all of them when none are named.
func (x *Index) Snapshot(statuses ...domain.Status) Snapshot {
	x.mu.Lock()
	defer x.mu.Unlock()
	if len(statuses) == 0 {
		statuses = domain.Statuses
	}
	snap := make(Snapshot, len(statuses))
	for _, st := range statuses {
		if col, ok := x.columns[st]; ok {
			snap[st] = slices.Clone(col)
		}
	}
	return snap
}

// Restore puts back the columns captured in snap.
func (x *Index) Restore(snap Snapshot) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for st := range snap {
		for _, id := range x.columns[st] {
			if x.where[id] == st {
				delete(x.where, id)
			}
		}
	}
	for st, ids := range snap {
		x.columns[st] = slices.Clone(ids)
		for _, id := range ids {
			x.where[id] = st
		}
	}
}

func (x *Index) checkStatus(st domain.Status) error {
	if _, ok := x.columns[st]; !ok {
		return domain.Validationf("unknown status %q", st)
	}
	return nil
}

func (x *Index) insertLocked(st domain.Status, id string, at int) int {
	col := x.columns[st]
	at = max(0, min(at, len(col)))
	x.columns[st] = slices.Insert(col, at, id)
	x.where[id] = st
	return at
}

func (x *Index) removeLocked(st domain.Status, id string) (int, bool) {
	if x.where[id] != st {
		return 0, false
	}
	col := x.columns[st]
	pos := slices.Index(col, id)
	if pos < 0 {
		return 0, false
	}
	x.columns[st] = slices.Delete(col, pos, pos+1)
	delete(x.where, id)
	return pos, true
}

func (x *Index) setLocked(st domain.Status, ids []string) {
	for _, id := range x.columns[st] {
		delete(x.where, id)
	}
	x.columns[st] = ids
	for _, id := range ids {
		x.where[id] = st
	}
}
