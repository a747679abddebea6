package ordering

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kanban-api/domain"
)

func TestInsertClampsPosition(t *testing.T) {
	idx := New()

	pos, err := idx.Insert(domain.StatusTodo, "a", 5)
	require.NoError(t, err)
	assert.Equal(t, 0, pos)

	pos, err = idx.Insert(domain.StatusTodo, "b", -3)
	require.NoError(t, err)
	assert.Equal(t, 0, pos)

	pos, err = idx.Insert(domain.StatusTodo, "c", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	assert.Equal(t, []string{"b", "c", "a"}, idx.IDs(domain.StatusTodo))
}

func TestInsertRejectsKnownID(t *testing.T) {
	idx := New()
	_, err := idx.Insert(domain.StatusTodo, "a", 0)
	require.NoError(t, err)

	_, err = idx.Insert(domain.StatusDone, "a", 0)
	assert.ErrorIs(t, err, domain.ErrDuplicateID)
	assert.Equal(t, 0, idx.Len(domain.StatusDone))
}

func TestInsertUnknownStatus(t *testing.T) {
	_, err := New().Insert("archived", "a", 0)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRemoveClosesGap(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Load(domain.StatusTodo, []string{"t2", "t1", "t3"}))

	pos, ok := idx.Remove(domain.StatusTodo, "t2")
	require.True(t, ok)
	assert.Equal(t, 0, pos)
	assert.Equal(t, []string{"t1", "t3"}, idx.IDs(domain.StatusTodo))

	_, ok = idx.Remove(domain.StatusTodo, "t2")
	assert.False(t, ok)
	_, ok = idx.Remove(domain.StatusDone, "t1")
	assert.False(t, ok, "remove must respect the column")
}

func TestMoveWithinColumn(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Load(domain.StatusTodo, []string{"t1", "t2"}))

	pos, err := idx.Move(domain.StatusTodo, "t1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
	assert.Equal(t, []string{"t2", "t1"}, idx.IDs(domain.StatusTodo))

	pos, err = idx.Move(domain.StatusTodo, "t1", 99)
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	_, err = idx.Move(domain.StatusTodo, "missing", 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMoveAcrossColumns(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Load(domain.StatusTodo, []string{"t2", "t1"}))

	pos, err := idx.MoveAcrossColumns("t1", domain.StatusTodo, domain.StatusInProgress, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, pos)
	assert.Equal(t, []string{"t2"}, idx.IDs(domain.StatusTodo))
	assert.Equal(t, []string{"t1"}, idx.IDs(domain.StatusInProgress))

	st, at, ok := idx.Locate("t1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusInProgress, st)
	assert.Equal(t, 0, at)
}

func TestMoveAcrossColumnsMissingLeavesIndex(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Load(domain.StatusTodo, []string{"t1"}))
	require.NoError(t, idx.Load(domain.StatusDone, []string{"t9"}))

	_, err := idx.MoveAcrossColumns("t9", domain.StatusTodo, domain.StatusInProgress, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, []string{"t1"}, idx.IDs(domain.StatusTodo))
	assert.Equal(t, []string{"t9"}, idx.IDs(domain.StatusDone))
	assert.Empty(t, idx.IDs(domain.StatusInProgress))
}

func TestReorder(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Load(domain.StatusTodo, []string{"a", "b", "c"}))

	require.NoError(t, idx.Reorder(domain.StatusTodo, []string{"c", "a", "b"}))
	assert.Equal(t, []string{"c", "a", "b"}, idx.IDs(domain.StatusTodo))
}

func TestReorderSetMismatchLeavesColumn(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Load(domain.StatusTodo, []string{"a", "b", "c"}))
	require.NoError(t, idx.Load(domain.StatusDone, []string{"z"}))

	cases := map[string][]string{
		"omitted":   {"a", "b"},
		"added":     {"a", "b", "c", "d"},
		"duplicate": {"a", "a", "b"},
		"foreign":   {"a", "b", "z"},
		"unknown":   {"a", "b", "x"},
	}
	for name, ids := range cases {
		t.Run(name, func(t *testing.T) {
			err := idx.Reorder(domain.StatusTodo, ids)
			assert.ErrorIs(t, err, domain.ErrSetMismatch)
			assert.Equal(t, []string{"a", "b", "c"}, idx.IDs(domain.StatusTodo))
		})
	}
}

func TestLoadRejectsIDsFromOtherColumns(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Load(domain.StatusTodo, []string{"a"}))
	assert.ErrorIs(t, idx.Load(domain.StatusDone, []string{"a"}), domain.ErrDuplicateID)
	assert.ErrorIs(t, idx.Load(domain.StatusDone, []string{"b", "b"}), domain.ErrDuplicateID)

	require.NoError(t, idx.Load(domain.StatusTodo, []string{"b"}))
	_, _, ok := idx.Locate("a")
	assert.False(t, ok, "reloading a column drops its previous members")
}

func TestSnapshotRestore(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Load(domain.StatusTodo, []string{"a", "b"}))
	require.NoError(t, idx.Load(domain.StatusDone, []string{"c"}))

	snap := idx.Snapshot(domain.StatusTodo, domain.StatusDone)
	_, err := idx.MoveAcrossColumns("a", domain.StatusTodo, domain.StatusDone, 0)
	require.NoError(t, err)
	idx.Restore(snap)

	assert.Equal(t, []string{"a", "b"}, idx.IDs(domain.StatusTodo))
	assert.Equal(t, []string{"c"}, idx.IDs(domain.StatusDone))
	st, pos, ok := idx.Locate("a")
	require.True(t, ok)
	assert.Equal(t, domain.StatusTodo, st)
	assert.Equal(t, 0, pos)
}

func TestIDsReturnsCopy(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Load(domain.StatusTodo, []string{"a", "b"}))
	ids := idx.IDs(domain.StatusTodo)
	ids[0] = "mutated"
	assert.Equal(t, []string{"a", "b"}, idx.IDs(domain.StatusTodo))
}

// Positions stay contiguous and every id lives in exactly one column under
// any mix of operations.
func TestRandomOperationsKeepColumnsConsistent(t *testing.T) {
	idx := New()
	rng := rand.New(rand.NewSource(42))
	live := map[string]bool{}
	next := 0

	for step := 0; step < 2000; step++ {
		st := domain.Statuses[rng.Intn(len(domain.Statuses))]
		switch rng.Intn(5) {
		case 0, 1:
			id := fmt.Sprintf("t%d", next)
			next++
			_, err := idx.Insert(st, id, rng.Intn(8)-2)
			require.NoError(t, err)
			live[id] = true
		case 2:
			ids := idx.IDs(st)
			if len(ids) == 0 {
				continue
			}
			id := ids[rng.Intn(len(ids))]
			_, ok := idx.Remove(st, id)
			require.True(t, ok)
			delete(live, id)
		case 3:
			ids := idx.IDs(st)
			if len(ids) == 0 {
				continue
			}
			to := domain.Statuses[rng.Intn(len(domain.Statuses))]
			if to == st {
				_, err := idx.Move(st, ids[rng.Intn(len(ids))], rng.Intn(len(ids)+2))
				require.NoError(t, err)
				continue
			}
			_, err := idx.MoveAcrossColumns(ids[rng.Intn(len(ids))], st, to, rng.Intn(6))
			require.NoError(t, err)
		case 4:
			ids := idx.IDs(st)
			rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
			require.NoError(t, idx.Reorder(st, ids))
		}

		seen := map[string]bool{}
		for _, col := range domain.Statuses {
			for pos, id := range idx.IDs(col) {
				require.False(t, seen[id], "id %s filed twice", id)
				seen[id] = true
				gotSt, gotPos, ok := idx.Locate(id)
				require.True(t, ok)
				require.Equal(t, col, gotSt)
				require.Equal(t, pos, gotPos)
			}
		}
		require.Equal(t, len(live), len(seen))
	}
}

func TestAcquireOrdersSections(t *testing.T) {
	idx := New()
	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			release := idx.Acquire(domain.StatusTodo, domain.StatusDone)
			release()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			release := idx.Acquire(domain.StatusDone, domain.StatusTodo, domain.StatusDone)
			release()
		}
	}()
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("opposite acquisition orders deadlocked")
	}
}

func TestAcquireExcludesConcurrentHolders(t *testing.T) {
	idx := New()
	release := idx.Acquire(domain.StatusInProgress)

	entered := make(chan struct{})
	go func() {
		r := idx.Acquire(domain.StatusInProgress)
		close(entered)
		r()
	}()

	select {
	case <-entered:
		t.Fatal("second holder entered while section was held")
	case <-time.After(50 * time.Millisecond):
	}
	release()
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("second holder never entered")
	}
}
