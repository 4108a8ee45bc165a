package heap

import (
	"github.com/joshuapare/pheap/internal/format"
	"github.com/joshuapare/pheap/treemap"
)

// SortedMap is a persistent ordered map record. Keys are records compared
// with Tx.Compare; values are records or null. The map holds one reference
// to every key and non-null value it stores.
type SortedMap Ref

// Node is an entry of a SortedMap. The zero Node means "no entry".
type Node treemap.Node

// Key returns the entry's key. The reference is borrowed from the map.
func (n Node) Key(tx *Tx) Ref { return Ref(treemap.Node(n).Key(tx.Tx)) }

// Value returns the entry's value. The reference is borrowed from the map.
func (n Node) Value(tx *Tx) Ref { return Ref(treemap.Node(n).Value(tx.Tx)) }

// IsNull reports whether n is the zero Node.
func (n Node) IsNull() bool { return n == 0 }

// NewSortedMap creates an empty sorted map owned by the caller.
func (tx *Tx) NewSortedMap(className string) (SortedMap, error) {
	m, err := tx.newSortedMap(className)
	if err != nil {
		return 0, opError("new sorted map", err)
	}
	tx.adopt(Ref(m))
	return m, nil
}

func (tx *Tx) newSortedMap(className string) (SortedMap, error) {
	var m SortedMap
	err := tx.run(func() error {
		ref, err := tx.newRecord(KindSortedMap, className, format.SortedMapSize-format.HeaderSize, 0)
		if err != nil {
			return err
		}
		t, err := treemap.New(tx.Tx)
		if err != nil {
			return err
		}
		tx.PutU64(ref.off()+format.SortedMapTreeOffset, uint64(t))
		m = SortedMap(ref)
		return nil
	})
	return m, err
}

// Ref returns the map as a plain reference.
func (m SortedMap) Ref() Ref { return Ref(m) }

func (m SortedMap) valid(tx *Tx) error { return tx.check(Ref(m), KindSortedMap) }

// Put stores value under key. If key was present, the previous value is
// returned and its reference passes to the caller; end it with Release.
func (m SortedMap) Put(tx *Tx, key, value Ref) (Ref, error) {
	var old Ref
	err := tx.run(func() error {
		if err := m.valid(tx); err != nil {
			return err
		}
		tx.Lock(Ref(m).off())
		prev, replaced, err := m.put(tx, key, value)
		if err != nil {
			return err
		}
		if replaced {
			old = tx.adopt(prev)
		}
		return nil
	})
	return old, opError("sorted map put", err)
}

// put inserts without handing out the old value. The map keeps its
// reference to an existing key and gains one to a new key and to value.
func (m SortedMap) put(tx *Tx, key, value Ref) (Ref, bool, error) {
	if err := tx.check(key, KindInvalid); err != nil {
		return 0, false, err
	}
	if !value.IsNull() {
		if err := tx.check(value, KindInvalid); err != nil {
			return 0, false, err
		}
	}
	t := m.tree(tx)
	cmp := tx.compareFunc()
	n, err := t.Get(tx.Tx, uint64(key), cmp)
	if err != nil {
		return 0, false, err
	}
	if n == 0 {
		tx.IncRef(key, 1)
	}
	tx.IncRef(value, 1)
	old, replaced, err := t.Insert(tx.Tx, uint64(key), uint64(value), cmp)
	if err != nil {
		return 0, false, err
	}
	return Ref(old), replaced, nil
}

// Get returns the entry for key, or the zero Node.
func (m SortedMap) Get(tx *Tx, key Ref) (Node, error) {
	if err := m.valid(tx); err != nil {
		return 0, opError("sorted map get", err)
	}
	if err := tx.check(key, KindInvalid); err != nil {
		return 0, opError("sorted map get", err)
	}
	n, err := m.tree(tx).Get(tx.Tx, uint64(key), tx.compareFunc())
	return Node(n), opError("sorted map get", err)
}

// Remove deletes key. The removed value's reference passes to the caller;
// end it with Release. found is false if key was absent.
func (m SortedMap) Remove(tx *Tx, key Ref) (old Ref, found bool, err error) {
	err = tx.run(func() error {
		if err := m.valid(tx); err != nil {
			return err
		}
		if err := tx.check(key, KindInvalid); err != nil {
			return err
		}
		tx.Lock(Ref(m).off())
		k, v, ok, err := m.tree(tx).Remove(tx.Tx, uint64(key), tx.compareFunc())
		if err != nil || !ok {
			return err
		}
		found = true
		tx.DecRef(Ref(k), 1)
		old = tx.adopt(Ref(v))
		return nil
	})
	if err != nil {
		return 0, false, opError("sorted map remove", err)
	}
	return old, found, nil
}

// Size returns the number of entries.
func (m SortedMap) Size(tx *Tx) uint64 { return m.tree(tx).Size(tx.Tx) }

// First returns the entry with the smallest key.
func (m SortedMap) First(tx *Tx) Node { return Node(m.tree(tx).First(tx.Tx)) }

// Last returns the entry with the largest key.
func (m SortedMap) Last(tx *Tx) Node { return Node(m.tree(tx).Last(tx.Tx)) }

// Successor returns the entry after n.
func (m SortedMap) Successor(tx *Tx, n Node) Node {
	return Node(m.tree(tx).Successor(tx.Tx, treemap.Node(n)))
}

// Predecessor returns the entry before n.
func (m SortedMap) Predecessor(tx *Tx, n Node) Node {
	return Node(m.tree(tx).Predecessor(tx.Tx, treemap.Node(n)))
}

// SuccessorOf returns the first entry whose key is greater than key. key
// need not be present.
func (m SortedMap) SuccessorOf(tx *Tx, key Ref) (Node, error) {
	if err := tx.check(key, KindInvalid); err != nil {
		return 0, opError("sorted map successor", err)
	}
	n, err := m.tree(tx).Higher(tx.Tx, uint64(key), tx.compareFunc())
	return Node(n), opError("sorted map successor", err)
}

// PredecessorOf returns the last entry whose key is less than key.
func (m SortedMap) PredecessorOf(tx *Tx, key Ref) (Node, error) {
	if err := tx.check(key, KindInvalid); err != nil {
		return 0, opError("sorted map predecessor", err)
	}
	n, err := m.tree(tx).Lower(tx.Tx, uint64(key), tx.compareFunc())
	return Node(n), opError("sorted map predecessor", err)
}

// ForEach calls fn for every entry in key order.
func (m SortedMap) ForEach(tx *Tx, fn func(key, value Ref) error) error {
	return m.tree(tx).ForEach(tx.Tx, func(k, v uint64) error { return fn(Ref(k), Ref(v)) })
}

// Clear removes every entry, releasing the map's references.
func (m SortedMap) Clear(tx *Tx) error {
	err := tx.run(func() error {
		if err := m.valid(tx); err != nil {
			return err
		}
		ls, err := tx.newLockSet(int(m.Size(tx)) + 1)
		if err != nil {
			return err
		}
		if err := ls.track(Ref(m)); err != nil {
			return err
		}
		if err := m.ForEach(tx, func(k, v Ref) error {
			if err := ls.track(k); err != nil {
				return err
			}
			return ls.track(v)
		}); err != nil {
			return err
		}
		if err := ls.acquire(); err != nil {
			return err
		}
		if err := m.tree(tx).Clear(tx.Tx, tx.releaseEntry); err != nil {
			return err
		}
		return ls.release()
	})
	return opError("sorted map clear", err)
}

// PutAll stores values[i] under keys[i] for every i as one atomic step.
// Replaced values are released.
func (m SortedMap) PutAll(tx *Tx, keys, values []Ref) error {
	if len(keys) != len(values) {
		return opError("sorted map put all", ErrLengthMismatch)
	}
	err := tx.run(func() error {
		if err := m.valid(tx); err != nil {
			return err
		}
		ls, err := m.lockBulk(tx, keys, values)
		if err != nil {
			return err
		}
		for i, k := range keys {
			old, replaced, err := m.put(tx, k, values[i])
			if err != nil {
				return err
			}
			if replaced {
				tx.DecRef(old, 1)
			}
		}
		return ls.release()
	})
	return opError("sorted map put all", err)
}

// RemoveAll deletes every key as one atomic step, releasing the removed
// keys and values. Absent keys are skipped.
func (m SortedMap) RemoveAll(tx *Tx, keys []Ref) error {
	err := tx.run(func() error {
		if err := m.valid(tx); err != nil {
			return err
		}
		ls, err := m.lockBulk(tx, keys, nil)
		if err != nil {
			return err
		}
		cmp := tx.compareFunc()
		for _, key := range keys {
			if err := tx.check(key, KindInvalid); err != nil {
				return err
			}
			k, v, ok, err := m.tree(tx).Remove(tx.Tx, uint64(key), cmp)
			if err != nil {
				return err
			}
			if ok {
				tx.DecRef(Ref(k), 1)
				tx.DecRef(Ref(v), 1)
			}
		}
		return ls.release()
	})
	return opError("sorted map remove all", err)
}

// lockBulk locks the map, the given records and the entries they replace
// or remove.
func (m SortedMap) lockBulk(tx *Tx, keys, values []Ref) (*lockSet, error) {
	ls, err := tx.newLockSet(2*len(keys) + 1)
	if err != nil {
		return nil, err
	}
	if err := ls.track(Ref(m)); err != nil {
		return nil, err
	}
	t, cmp := m.tree(tx), tx.compareFunc()
	for i, k := range keys {
		if err := tx.check(k, KindInvalid); err != nil {
			return nil, err
		}
		if err := ls.track(k); err != nil {
			return nil, err
		}
		if values != nil && !values[i].IsNull() {
			if err := tx.check(values[i], KindInvalid); err != nil {
				return nil, err
			}
			if err := ls.track(values[i]); err != nil {
				return nil, err
			}
		}
		n, err := t.Get(tx.Tx, uint64(k), cmp)
		if err != nil {
			return nil, err
		}
		if n != 0 {
			if err := ls.track(Ref(n.Key(tx.Tx))); err != nil {
				return nil, err
			}
			if err := ls.track(Ref(n.Value(tx.Tx))); err != nil {
				return nil, err
			}
		}
	}
	return ls, ls.acquire()
}

// Check verifies the map's tree invariants.
func (m SortedMap) Check(tx *Tx) error {
	if err := m.valid(tx); err != nil {
		return err
	}
	return m.tree(tx).Check(tx.Tx, tx.compareFunc())
}
