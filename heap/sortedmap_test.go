package heap

import (
	"cmp"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// putLongs stores v -> v*10 for every v, releasing the test's handles.
func putLongs(t *testing.T, tx *Tx, m SortedMap, vs ...int64) {
	t.Helper()
	for _, v := range vs {
		k, val := newLong(t, tx, v), newLong(t, tx, v*10)
		old, err := m.Put(tx, k, val)
		require.NoError(t, err)
		require.True(t, old.IsNull())
		tx.Release(k)
		tx.Release(val)
	}
}

func keyValue(tx *Tx, n Node) int64 { return Long(n.Key(tx)).Value(tx) }

// TestSortedMap_Order tests navigation over the keys 5, 3, 8, 1, 4.
func TestSortedMap_Order(t *testing.T) {
	h, _ := openTestHeap(t)

	update(t, h, func(tx *Tx) error {
		m, err := tx.NewSortedMap("index")
		require.NoError(t, err)
		defer tx.Release(m.Ref())
		putLongs(t, tx, m, 5, 3, 8, 1, 4)

		require.EqualValues(t, 5, m.Size(tx))
		require.NoError(t, m.Check(tx))

		var keys []int64
		for n := m.First(tx); !n.IsNull(); n = m.Successor(tx, n) {
			keys = append(keys, keyValue(tx, n))
			assert.Equal(t, keyValue(tx, n)*10, Long(n.Value(tx)).Value(tx))
		}
		assert.Equal(t, []int64{1, 3, 4, 5, 8}, keys)

		keys = keys[:0]
		for n := m.Last(tx); !n.IsNull(); n = m.Predecessor(tx, n) {
			keys = append(keys, keyValue(tx, n))
		}
		assert.Equal(t, []int64{8, 5, 4, 3, 1}, keys)

		for _, tc := range []struct {
			key        int64
			succ, pred int64 // 0 means none
		}{
			{key: 4, succ: 5, pred: 3},
			{key: 6, succ: 8, pred: 5},
			{key: 8, succ: 0, pred: 5},
			{key: 1, succ: 3, pred: 0},
			{key: 0, succ: 1, pred: 0},
		} {
			k := newLong(t, tx, tc.key)
			n, err := m.SuccessorOf(tx, k)
			require.NoError(t, err)
			if tc.succ == 0 {
				assert.True(t, n.IsNull(), "successor of %d", tc.key)
			} else {
				assert.Equal(t, tc.succ, keyValue(tx, n), "successor of %d", tc.key)
			}
			n, err = m.PredecessorOf(tx, k)
			require.NoError(t, err)
			if tc.pred == 0 {
				assert.True(t, n.IsNull(), "predecessor of %d", tc.key)
			} else {
				assert.Equal(t, tc.pred, keyValue(tx, n), "predecessor of %d", tc.key)
			}
			tx.Release(k)
		}
		return nil
	})
}

// TestSortedMap_GetByEqualKey tests that lookups match by key content, not
// by record identity.
func TestSortedMap_GetByEqualKey(t *testing.T) {
	h, _ := openTestHeap(t)

	update(t, h, func(tx *Tx) error {
		m, err := tx.NewSortedMap("")
		require.NoError(t, err)
		defer tx.Release(m.Ref())

		k, err := tx.NewString("alpha")
		require.NoError(t, err)
		v := newLong(t, tx, 7)
		_, err = m.Put(tx, k.Ref(), v)
		require.NoError(t, err)

		probe, err := tx.NewString("alpha")
		require.NoError(t, err)
		n, err := m.Get(tx, probe.Ref())
		require.NoError(t, err)
		require.False(t, n.IsNull())
		assert.Equal(t, k.Ref(), n.Key(tx))
		assert.Equal(t, v, n.Value(tx))

		missing, err := tx.NewString("beta")
		require.NoError(t, err)
		n, err = m.Get(tx, missing.Ref())
		require.NoError(t, err)
		assert.True(t, n.IsNull())

		for _, r := range []Ref{k.Ref(), v, probe.Ref(), missing.Ref()} {
			tx.Release(r)
		}
		return nil
	})
}

// TestSortedMap_ReplaceOwnership tests reference counts across insert,
// replace and remove.
func TestSortedMap_ReplaceOwnership(t *testing.T) {
	h, _ := openTestHeap(t)
	before := allocated(t, h)

	update(t, h, func(tx *Tx) error {
		m, err := tx.NewSortedMap("")
		require.NoError(t, err)

		k1, v1 := newLong(t, tx, 1), newLong(t, tx, 100)
		old, err := m.Put(tx, k1, v1)
		require.NoError(t, err)
		assert.True(t, old.IsNull())
		assert.EqualValues(t, 2, tx.RefCount(k1))
		assert.EqualValues(t, 2, tx.RefCount(v1))
		tx.Release(v1)

		// An equal key replaces the value and leaves the stored key alone.
		k2, v2 := newLong(t, tx, 1), newLong(t, tx, 200)
		old, err = m.Put(tx, k2, v2)
		require.NoError(t, err)
		assert.Equal(t, v1, old)
		assert.EqualValues(t, 1, tx.RefCount(k2))
		assert.EqualValues(t, 1, tx.LiveHandles(v1))
		assert.EqualValues(t, 1, tx.RefCount(v1))
		tx.Release(old)
		assert.False(t, tx.IsLive(v1))

		n, err := m.Get(tx, k2)
		require.NoError(t, err)
		assert.Equal(t, k1, n.Key(tx))
		assert.Equal(t, v2, n.Value(tx))

		// Null values are allowed.
		k3 := newLong(t, tx, 3)
		_, err = m.Put(tx, k3, 0)
		require.NoError(t, err)
		n, err = m.Get(tx, k3)
		require.NoError(t, err)
		assert.True(t, n.Value(tx).IsNull())

		old, found, err := m.Remove(tx, k2)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, v2, old)
		assert.EqualValues(t, 1, tx.RefCount(k1), "map's key reference dropped")
		assert.EqualValues(t, 2, tx.RefCount(v2))
		tx.Release(old)

		_, found, err = m.Remove(tx, k2)
		require.NoError(t, err)
		assert.False(t, found)

		for _, r := range []Ref{k1, k2, v2, k3, m.Ref()} {
			tx.Release(r)
		}
		return nil
	})
	assert.Equal(t, before, allocated(t, h))
}

// TestSortedMap_KeyKindMismatch tests that keys of different kinds cannot
// share a map and that the failed put changes nothing.
func TestSortedMap_KeyKindMismatch(t *testing.T) {
	h, _ := openTestHeap(t)

	update(t, h, func(tx *Tx) error {
		m, err := tx.NewSortedMap("")
		require.NoError(t, err)
		putLongs(t, tx, m, 1)

		s, err := tx.NewString("one")
		require.NoError(t, err)
		_, err = m.Put(tx, s.Ref(), 0)
		require.ErrorIs(t, err, ErrKeyKindMismatch)
		var opErr *OpError
		require.True(t, errors.As(err, &opErr))
		assert.Equal(t, "sorted map put", opErr.Op)

		assert.EqualValues(t, 1, m.Size(tx))
		assert.EqualValues(t, 1, tx.RefCount(s.Ref()))

		_, err = m.Get(tx, s.Ref())
		assert.ErrorIs(t, err, ErrKeyKindMismatch)

		hm, err := tx.NewHashMap("", 0, false)
		require.NoError(t, err)
		_, err = tx.Compare(hm.Ref(), hm.Ref())
		assert.ErrorIs(t, err, ErrNotComparable)

		tx.Release(hm.Ref())
		tx.Release(s.Ref())
		tx.Release(m.Ref())
		return nil
	})
}

// TestSortedMap_AggregateKeys tests aggregate keys with and without a
// comparator.
func TestSortedMap_AggregateKeys(t *testing.T) {
	newKey := func(t *testing.T, tx *Tx, v int64) Ref {
		t.Helper()
		a, err := tx.NewAggregate("Key", 1)
		require.NoError(t, err)
		l := newLong(t, tx, v)
		require.NoError(t, a.SetField(tx, 0, l))
		tx.Release(l)
		return a.Ref()
	}

	t.Run("no comparator", func(t *testing.T) {
		h, _ := openTestHeap(t)
		err := h.Update(func(tx *Tx) error {
			m, err := tx.NewSortedMap("")
			require.NoError(t, err)
			// The first key needs no comparison.
			_, err = m.Put(tx, newKey(t, tx, 1), 0)
			require.NoError(t, err)
			_, err = m.Put(tx, newKey(t, tx, 2), 0)
			return err
		})
		assert.ErrorIs(t, err, ErrNoComparator)
	})

	t.Run("comparator", func(t *testing.T) {
		byField := func(tx *Tx, a, b Ref) (int, error) {
			fa, err := Aggregate(a).Field(tx, 0)
			if err != nil {
				return 0, err
			}
			fb, err := Aggregate(b).Field(tx, 0)
			if err != nil {
				return 0, err
			}
			return cmp.Compare(Long(fa).Value(tx), Long(fb).Value(tx)), nil
		}
		h, _ := openTestHeap(t, WithComparator(byField))
		update(t, h, func(tx *Tx) error {
			m, err := tx.NewSortedMap("")
			require.NoError(t, err)
			for _, v := range []int64{3, 1, 2} {
				k := newKey(t, tx, v)
				_, err = m.Put(tx, k, 0)
				require.NoError(t, err)
				tx.Release(k)
			}
			require.NoError(t, m.Check(tx))

			var got []int64
			require.NoError(t, m.ForEach(tx, func(k, _ Ref) error {
				f, err := Aggregate(k).Field(tx, 0)
				got = append(got, Long(f).Value(tx))
				return err
			}))
			assert.Equal(t, []int64{1, 2, 3}, got)
			tx.Release(m.Ref())
			return nil
		})
	})
}

// TestSortedMap_Bulk tests PutAll and RemoveAll.
func TestSortedMap_Bulk(t *testing.T) {
	h, _ := openTestHeap(t)
	before := allocated(t, h)

	update(t, h, func(tx *Tx) error {
		m, err := tx.NewSortedMap("")
		require.NoError(t, err)
		putLongs(t, tx, m, 2)

		var keys, values []Ref
		for _, v := range []int64{1, 2, 3} {
			keys = append(keys, newLong(t, tx, v))
			values = append(values, newLong(t, tx, -v))
		}
		replaced, err := m.Get(tx, keys[1])
		require.NoError(t, err)
		oldValue := replaced.Value(tx)

		require.ErrorIs(t, m.PutAll(tx, keys, values[:2]), ErrLengthMismatch)

		require.NoError(t, m.PutAll(tx, keys, values))
		assert.EqualValues(t, 3, m.Size(tx))
		assert.False(t, tx.IsLive(oldValue), "replaced value released")
		for i, k := range keys {
			n, err := m.Get(tx, k)
			require.NoError(t, err)
			assert.Equal(t, values[i], n.Value(tx))
			assert.EqualValues(t, 2, tx.RefCount(values[i]))
		}
		assert.EqualValues(t, 2, tx.RefCount(keys[0]))
		assert.EqualValues(t, 1, tx.RefCount(keys[1]), "existing key kept")

		missing := newLong(t, tx, 9)
		require.NoError(t, m.RemoveAll(tx, []Ref{keys[0], keys[2], missing}))
		assert.EqualValues(t, 1, m.Size(tx))
		assert.EqualValues(t, 1, tx.RefCount(keys[0]))
		assert.EqualValues(t, 1, tx.RefCount(values[2]))
		require.NoError(t, m.Check(tx))

		for _, r := range append(append(keys, values...), missing, m.Ref()) {
			tx.Release(r)
		}
		return nil
	})
	assert.Equal(t, before, allocated(t, h))
}

// TestSortedMap_Clear tests that Clear drops every entry reference and that
// a cleared map can be refilled.
func TestSortedMap_Clear(t *testing.T) {
	h, _ := openTestHeap(t)
	before := allocated(t, h)

	var m SortedMap
	update(t, h, func(tx *Tx) error {
		var err error
		m, err = tx.NewSortedMap("")
		require.NoError(t, err)
		putLongs(t, tx, m, 4, 2, 6, 1, 3, 5, 7)
		return nil
	})
	update(t, h, func(tx *Tx) error {
		require.NoError(t, m.Clear(tx))
		assert.Zero(t, m.Size(tx))
		assert.True(t, m.First(tx).IsNull())
		assert.Equal(t, map[Kind]int{KindSortedMap: 2}, tx.Counts())

		putLongs(t, tx, m, 1)
		assert.EqualValues(t, 1, m.Size(tx))
		tx.Release(m.Ref())
		return nil
	})
	assert.Equal(t, before, allocated(t, h))
}

// TestSortedMap_WrongKind tests that operations reject records that are
// not sorted maps.
func TestSortedMap_WrongKind(t *testing.T) {
	h, _ := openTestHeap(t)

	update(t, h, func(tx *Tx) error {
		l := newLong(t, tx, 1)
		_, err := SortedMap(l).Put(tx, l, l)
		assert.ErrorIs(t, err, ErrWrongKind)
		_, err = SortedMap(l).Get(tx, l)
		assert.ErrorIs(t, err, ErrWrongKind)
		tx.Release(l)
		return nil
	})
}
