package heap

import (
	"github.com/joshuapare/pheap/hashmap"
	"github.com/joshuapare/pheap/internal/format"
)

// HashMap is a persistent hash map record keyed by 64-bit integers. Values
// are records or null; the map holds one reference to each non-null value.
type HashMap Ref

// NewHashMap creates an empty hash map owned by the caller. initSize 0
// selects the default bucket count.
func (tx *Tx) NewHashMap(className string, initSize int, resizable bool) (HashMap, error) {
	var m HashMap
	err := tx.run(func() error {
		ref, err := tx.newRecord(KindHashMap, className, format.HashMapSize-format.HeaderSize, 0)
		if err != nil {
			return err
		}
		t, err := hashmap.New(tx.Tx, initSize, resizable, 0)
		if err != nil {
			return err
		}
		tx.PutU64(ref.off()+format.HashMapTableOffset, uint64(t))
		m = HashMap(tx.adopt(ref))
		return nil
	})
	return m, opError("new hash map", err)
}

// Ref returns the map as a plain reference.
func (m HashMap) Ref() Ref { return Ref(m) }

func (m HashMap) valid(tx *Tx) error { return tx.check(Ref(m), KindHashMap) }

// Put stores value under key and returns the previous value, whose
// reference passes to the caller.
func (m HashMap) Put(tx *Tx, key uint64, value Ref) (Ref, error) {
	var old Ref
	err := tx.run(func() error {
		if err := m.valid(tx); err != nil {
			return err
		}
		if !value.IsNull() {
			if err := tx.check(value, KindInvalid); err != nil {
				return err
			}
		}
		tx.Lock(Ref(m).off())
		tx.IncRef(value, 1)
		prev, existed, err := m.table(tx).Insert(tx.Tx, key, uint64(value))
		if err != nil {
			return err
		}
		if existed {
			old = tx.adopt(Ref(prev))
		}
		return nil
	})
	return old, opError("hash map put", err)
}

// Get returns the value stored under key.
func (m HashMap) Get(tx *Tx, key uint64) (Ref, bool, error) {
	if err := m.valid(tx); err != nil {
		return 0, false, opError("hash map get", err)
	}
	v, ok := m.table(tx).Get(tx.Tx, key)
	return Ref(v), ok, nil
}

// Contains reports whether key is present.
func (m HashMap) Contains(tx *Tx, key uint64) bool {
	return m.table(tx).Contains(tx.Tx, key)
}

// Remove deletes key. The removed value's reference passes to the caller.
func (m HashMap) Remove(tx *Tx, key uint64) (old Ref, found bool, err error) {
	err = tx.run(func() error {
		if err := m.valid(tx); err != nil {
			return err
		}
		tx.Lock(Ref(m).off())
		v, ok, err := m.table(tx).Remove(tx.Tx, key)
		if err != nil || !ok {
			return err
		}
		found = true
		old = tx.adopt(Ref(v))
		return nil
	})
	if err != nil {
		return 0, false, opError("hash map remove", err)
	}
	return old, found, nil
}

// Count returns the number of entries.
func (m HashMap) Count(tx *Tx) uint64 { return m.table(tx).Count(tx.Tx) }

// ForEach calls fn for every entry in bucket order.
func (m HashMap) ForEach(tx *Tx, fn func(key uint64, value Ref) error) error {
	return m.table(tx).ForEach(tx.Tx, func(k, v uint64) error { return fn(k, Ref(v)) })
}

// Clear removes every entry, releasing the stored values.
func (m HashMap) Clear(tx *Tx) error {
	err := tx.run(func() error {
		if err := m.valid(tx); err != nil {
			return err
		}
		tx.Lock(Ref(m).off())
		t := m.table(tx)
		var values []Ref
		if err := t.ForEach(tx.Tx, func(_, v uint64) error {
			values = append(values, Ref(v))
			return nil
		}); err != nil {
			return err
		}
		if err := t.Clear(tx.Tx); err != nil {
			return err
		}
		for _, v := range values {
			tx.DecRef(v, 1)
		}
		return nil
	})
	return opError("hash map clear", err)
}
