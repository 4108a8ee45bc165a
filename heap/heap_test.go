package heap

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/VictoriaMetrics/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/joshuapare/pheap/pool"
	"github.com/joshuapare/pheap/pool/dirty"
)

const testPoolSize = 2 << 20

var errTest = errors.New("test failure")

// openTestHeap opens a heap in a temp directory. Fatal errors fail the test
// and automatic collection is off unless opts turn it back on.
func openTestHeap(t *testing.T, opts ...Option) (*Heap, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.pool")
	h := openAt(t, path, opts...)
	return h, path
}

func openAt(t *testing.T, path string, opts ...Option) *Heap {
	t.Helper()
	base := []Option{
		WithPoolOptions(pool.WithFlushMode(dirty.FlushNone)),
		WithOnFatal(func(err error) { t.Errorf("unexpected fatal error: %v", err) }),
		WithCollectThreshold(0),
	}
	h, err := Open(path, testPoolSize, append(base, opts...)...)
	require.NoError(t, err, "open heap")
	t.Cleanup(func() {
		for h.Pool().OpenCount() > 0 {
			_ = h.Close()
		}
	})
	return h
}

func update(t *testing.T, h *Heap, fn func(tx *Tx) error) {
	t.Helper()
	require.NoError(t, h.Update(fn))
}

func view(t *testing.T, h *Heap, fn func(tx *Tx) error) {
	t.Helper()
	require.NoError(t, h.View(fn))
}

// snapshot copies the whole mapped region.
func snapshot(t *testing.T, h *Heap) []byte {
	t.Helper()
	var out []byte
	view(t, h, func(tx *Tx) error {
		out = append([]byte(nil), tx.Bytes(0, int(h.Pool().Size()))...)
		return nil
	})
	return out
}

func allocated(t *testing.T, h *Heap) uint64 {
	t.Helper()
	st, err := h.Pool().Stats()
	require.NoError(t, err)
	return st.Allocated
}

func newLong(t *testing.T, tx *Tx, v int64) Ref {
	t.Helper()
	l, err := tx.NewLong("", v)
	require.NoError(t, err)
	return l.Ref()
}

func inObjectList(tx *Tx, ref Ref) bool {
	found := false
	_ = tx.Objects(func(r Ref) error {
		if r == ref {
			found = true
		}
		return nil
	})
	return found
}

// TestOpen_CreatesRoot tests that a new heap gets a root with an empty
// directory.
func TestOpen_CreatesRoot(t *testing.T) {
	h, _ := openTestHeap(t)
	require.NotZero(t, h.Root())

	view(t, h, func(tx *Tx) error {
		dir := tx.Directory()
		assert.True(t, tx.IsLive(dir.Ref()))
		assert.Equal(t, KindSortedMap, tx.Kind(dir.Ref()))
		assert.Zero(t, dir.Size(tx))
		assert.Equal(t, map[Kind]int{KindSortedMap: 1}, tx.Counts())
		return nil
	})
}

// TestOpen_SamePathSharesHeap tests that opening an open path returns the
// same heap until the last Close.
func TestOpen_SamePathSharesHeap(t *testing.T) {
	h, path := openTestHeap(t)
	h2 := openAt(t, path)
	assert.Same(t, h, h2)
	assert.Equal(t, 2, h.Pool().OpenCount())

	require.NoError(t, h2.Close())
	assert.Equal(t, 1, h.Pool().OpenCount())
	update(t, h, func(tx *Tx) error {
		_, err := tx.NewLong("", 1)
		return err
	})
}

// TestRefCount_Scenario tests the documented lifecycle of a single record.
func TestRefCount_Scenario(t *testing.T) {
	set := metrics.NewSet()
	h, _ := openTestHeap(t, WithMetricsSet(set))
	destroyed := set.GetOrCreateCounter(fmt.Sprintf("pheap_objects_destroyed_total{pool=%q}", h.Pool().Path()))

	var x Ref
	update(t, h, func(tx *Tx) error {
		x = newLong(t, tx, 7)
		tx.ReleaseVolatileHandle(x)
		return nil
	})

	update(t, h, func(tx *Tx) error {
		assert.EqualValues(t, 1, tx.RefCount(x))
		tx.IncRef(x, 1)
		assert.EqualValues(t, 2, tx.RefCount(x))
		tx.DecRef(x, 1)
		assert.EqualValues(t, 1, tx.RefCount(x))
		assert.Equal(t, Purple, tx.Color(x))
		assert.True(t, tx.IsCandidate(x))
		assert.True(t, inObjectList(tx, x))
		return nil
	})
	assert.Zero(t, destroyed.Get())

	update(t, h, func(tx *Tx) error {
		tx.DecRef(x, 1)
		return nil
	})
	assert.EqualValues(t, 1, destroyed.Get())
	view(t, h, func(tx *Tx) error {
		assert.False(t, tx.IsLive(x))
		assert.False(t, inObjectList(tx, x))
		return nil
	})
}

// TestRefCount_NetZero tests that a record survives any sequence of
// increments and decrements that never brings its count to zero.
func TestRefCount_NetZero(t *testing.T) {
	h, _ := openTestHeap(t)
	var x Ref
	update(t, h, func(tx *Tx) error {
		x = newLong(t, tx, 1)
		return nil
	})

	deltas := []int{3, -2, 5, -4, -1, 2, -3}
	update(t, h, func(tx *Tx) error {
		for _, d := range deltas {
			if d > 0 {
				tx.IncRef(x, uint32(d))
			} else {
				tx.DecRef(x, uint32(-d))
			}
			require.True(t, tx.IsLive(x))
		}
		assert.EqualValues(t, 1, tx.RefCount(x))
		return nil
	})

	before := allocated(t, h)
	update(t, h, func(tx *Tx) error {
		tx.Release(x)
		return nil
	})
	assert.Less(t, allocated(t, h), before)
}

// TestRefCount_ReleaseFreesGraph tests that releasing the last reference to
// an aggregate releases everything it holds.
func TestRefCount_ReleaseFreesGraph(t *testing.T) {
	h, _ := openTestHeap(t)
	before := allocated(t, h)

	var a Aggregate
	update(t, h, func(tx *Tx) error {
		var err error
		a, err = tx.NewAggregate("Pair", 2)
		require.NoError(t, err)
		l := newLong(t, tx, 10)
		s, err := tx.NewString("left")
		require.NoError(t, err)
		require.NoError(t, a.SetField(tx, 0, l))
		require.NoError(t, a.SetField(tx, 1, s.Ref()))
		tx.Release(l)
		tx.Release(s.Ref())
		assert.EqualValues(t, 1, tx.RefCount(l))
		return nil
	})

	update(t, h, func(tx *Tx) error {
		tx.Release(a.Ref())
		return nil
	})
	assert.Equal(t, before, allocated(t, h))
	view(t, h, func(tx *Tx) error {
		assert.Equal(t, map[Kind]int{KindSortedMap: 1}, tx.Counts())
		return nil
	})
}

// TestRefCount_FaultAtomicity tests that an injected fault at any write of
// an inc/dec transaction leaves the heap unchanged.
func TestRefCount_FaultAtomicity(t *testing.T) {
	h, _ := openTestHeap(t)
	var a Aggregate
	var l Ref
	update(t, h, func(tx *Tx) error {
		var err error
		a, err = tx.NewAggregate("Box", 1)
		require.NoError(t, err)
		l = newLong(t, tx, 99)
		return a.SetField(tx, 0, l)
	})
	before := snapshot(t, h)

	op := func(tx *Tx) error {
		tx.IncRef(l, 2)
		tx.DecRef(l, 1)
		tx.Release(a.Ref())
		return nil
	}

	for n := 1; ; n++ {
		h.Pool().SetFaultAfter(n)
		err := h.Update(op)
		if err == nil {
			break
		}
		require.ErrorIs(t, err, pool.ErrInjectedFault, "fault %d", n)
		require.Equal(t, before, snapshot(t, h), "state changed by fault at write %d", n)
		require.Less(t, n, 10000)
	}
	h.Pool().SetFaultAfter(0)

	view(t, h, func(tx *Tx) error {
		assert.False(t, tx.IsLive(a.Ref()))
		assert.EqualValues(t, 2, tx.RefCount(l))
		return nil
	})
}

// TestFatal_Underflow tests that a decrement below zero reaches the fatal
// handler and rolls back the transaction.
func TestFatal_Underflow(t *testing.T) {
	var fatals []error
	h, _ := openTestHeap(t, WithOnFatal(func(err error) { fatals = append(fatals, err) }))

	var x Ref
	update(t, h, func(tx *Tx) error {
		x = newLong(t, tx, 5)
		return nil
	})
	before := snapshot(t, h)

	err := h.Update(func(tx *Tx) error {
		tx.IncRef(x, 1)
		tx.DecRef(x, 3)
		return nil
	})
	require.ErrorIs(t, err, ErrRefUnderflow)
	require.Len(t, fatals, 1)
	assert.ErrorIs(t, fatals[0], ErrRefUnderflow)
	assert.Equal(t, before, snapshot(t, h))
}

// TestFatal_ReleaseUnknownHandle tests that releasing a handle that was
// never registered is fatal.
func TestFatal_ReleaseUnknownHandle(t *testing.T) {
	var fatals []error
	h, _ := openTestHeap(t, WithOnFatal(func(err error) { fatals = append(fatals, err) }))

	var x Ref
	update(t, h, func(tx *Tx) error {
		x = newLong(t, tx, 5)
		tx.ReleaseVolatileHandle(x)
		return nil
	})

	err := h.Update(func(tx *Tx) error {
		tx.ReleaseVolatileHandle(x)
		return nil
	})
	require.ErrorIs(t, err, ErrNoHandle)
	assert.Len(t, fatals, 1)
}

// TestLiveness_Counts tests handle registration bookkeeping.
func TestLiveness_Counts(t *testing.T) {
	h, _ := openTestHeap(t)
	update(t, h, func(tx *Tx) error {
		x := newLong(t, tx, 1)
		assert.EqualValues(t, 1, tx.LiveHandles(x))

		tx.Retain(x)
		assert.EqualValues(t, 2, tx.LiveHandles(x))
		assert.EqualValues(t, 2, tx.RefCount(x))

		tx.Release(x)
		tx.Release(x)
		assert.Zero(t, tx.LiveHandles(x))
		assert.False(t, tx.IsLive(x))
		return nil
	})
}

// TestOpen_SweepsStaleHandles tests that handles left behind by a previous
// process are returned on the next open.
func TestOpen_SweepsStaleHandles(t *testing.T) {
	h, path := openTestHeap(t)

	var kept, dropped Ref
	update(t, h, func(tx *Tx) error {
		kept = newLong(t, tx, 1)
		dropped = newLong(t, tx, 2)
		tx.Retain(kept)
		return tx.PutNamed("kept", kept)
	})
	view(t, h, func(tx *Tx) error {
		assert.EqualValues(t, 3, tx.RefCount(kept))
		return nil
	})
	require.NoError(t, h.Close())

	h2 := openAt(t, path)
	view(t, h2, func(tx *Tx) error {
		assert.True(t, tx.IsLive(kept))
		assert.EqualValues(t, 1, tx.RefCount(kept))
		assert.Zero(t, tx.LiveHandles(kept))
		assert.False(t, tx.IsLive(dropped))

		got, ok, err := tx.GetNamed("kept")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, kept, got)
		return nil
	})
}

// TestReconstruct tests that the reconstructor sees a retained record and
// its class name.
func TestReconstruct(t *testing.T) {
	rebuild := func(ref Ref, kind Kind, className string) (any, error) {
		if className == "" {
			return nil, errTest
		}
		return fmt.Sprintf("%s/%s", kind, className), nil
	}
	h, _ := openTestHeap(t, WithReconstructor(rebuild))

	var named, anon Ref
	update(t, h, func(tx *Tx) error {
		l, err := tx.NewLong("Counter", 3)
		require.NoError(t, err)
		named = l.Ref()
		anon = newLong(t, tx, 4)
		return nil
	})

	v, err := h.Reconstruct(named)
	require.NoError(t, err)
	assert.Equal(t, "long/Counter", v)

	_, err = h.Reconstruct(anon)
	require.ErrorIs(t, err, errTest)

	view(t, h, func(tx *Tx) error {
		assert.EqualValues(t, 2, tx.RefCount(named))
		assert.EqualValues(t, 2, tx.LiveHandles(named))
		assert.EqualValues(t, 1, tx.RefCount(anon))
		return nil
	})
}

// TestReconstruct_NoCallback tests the error without a reconstructor.
func TestReconstruct_NoCallback(t *testing.T) {
	h, _ := openTestHeap(t)
	var x Ref
	update(t, h, func(tx *Tx) error {
		x = newLong(t, tx, 1)
		return nil
	})
	_, err := h.Reconstruct(x)
	require.ErrorIs(t, err, ErrNoReconstructor)
}

// TestClassName_Normalized tests that class names are stored in NFC.
func TestClassName_Normalized(t *testing.T) {
	h, _ := openTestHeap(t)
	update(t, h, func(tx *Tx) error {
		a, err := tx.NewAggregate("Cafe\u0301", 0)
		require.NoError(t, err)
		assert.Equal(t, "Caf\u00e9", tx.ClassName(a.Ref()))
		return nil
	})
}

// TestConcurrentUpdates tests that parallel writers touching a shared map
// and a shared record leave consistent counts.
func TestConcurrentUpdates(t *testing.T) {
	h, _ := openTestHeap(t)

	var m HashMap
	var shared Ref
	update(t, h, func(tx *Tx) error {
		var err error
		m, err = tx.NewHashMap("", 0, true)
		require.NoError(t, err)
		shared = newLong(t, tx, 0)
		return nil
	})

	const workers, perWorker = 8, 25
	var g errgroup.Group
	for w := range workers {
		g.Go(func() error {
			for i := range perWorker {
				err := h.Update(func(tx *Tx) error {
					tx.IncRef(shared, 1)
					l, err := tx.NewLong("", int64(w*perWorker+i))
					if err != nil {
						return err
					}
					if _, err := m.Put(tx, uint64(w*perWorker+i), l.Ref()); err != nil {
						return err
					}
					tx.Release(l.Ref())
					return nil
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	view(t, h, func(tx *Tx) error {
		assert.EqualValues(t, workers*perWorker, m.Count(tx))
		assert.EqualValues(t, 1+workers*perWorker, tx.RefCount(shared))
		for k := range uint64(workers * perWorker) {
			v, ok, err := m.Get(tx, k)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, int64(k), Long(v).Value(tx))
			assert.EqualValues(t, 1, tx.RefCount(v))
		}
		return nil
	})
}

// TestDump tests the object listing.
func TestDump(t *testing.T) {
	h, _ := openTestHeap(t)
	update(t, h, func(tx *Tx) error {
		_, err := tx.NewString("hello")
		require.NoError(t, err)
		_, err = tx.NewLong("Counter", 42)
		require.NoError(t, err)
		_, err = tx.NewHashMap("", 4, false)
		return err
	})

	var quiet, loud, tables strings.Builder
	require.NoError(t, h.Dump(&quiet, 0))
	require.NoError(t, h.Dump(&loud, 1))
	require.NoError(t, h.Dump(&tables, 2))

	assert.Contains(t, quiet.String(), "sorted maps 1, hash maps 1, byte arrays 1, byte buffers 0, longs 1, aggregates 0")
	assert.NotContains(t, quiet.String(), "refCount")
	assert.Contains(t, loud.String(), `content "hello"`)
	assert.Contains(t, loud.String(), `class "Counter"`)
	assert.Contains(t, loud.String(), "value 42")
	assert.Contains(t, tables.String(), "count = 0, buckets = 4")
}
