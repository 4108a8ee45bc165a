package heap

import (
	"bytes"
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/joshuapare/pheap/treemap"
)

// The directory is the root sorted map. It maps names, stored as string
// records, to the objects an application wants to find again after a
// restart.

// nameCompare orders directory keys against name. Key 0 stands for name
// itself so lookups need no key record.
func (tx *Tx) nameCompare(name []byte) treemap.Compare {
	key := func(off uint64) ([]byte, error) {
		if off == 0 {
			return name, nil
		}
		if k := tx.Kind(Ref(off)); k != KindByteArray {
			return nil, fmt.Errorf("directory key %#x is %s: %w", off, k, ErrKeyKindMismatch)
		}
		return tx.arrayBytes(Ref(off)), nil
	}
	return func(a, b uint64) (int, error) {
		ka, err := key(a)
		if err != nil {
			return 0, err
		}
		kb, err := key(b)
		if err != nil {
			return 0, err
		}
		return bytes.Compare(ka, kb), nil
	}
}

// PutNamed binds name to ref, replacing and releasing any previous binding.
// The directory takes its own reference to ref.
func (tx *Tx) PutNamed(name string, ref Ref) error {
	err := tx.run(func() error {
		if err := tx.check(ref, KindInvalid); err != nil {
			return err
		}
		dir := tx.Directory()
		tx.Lock(Ref(dir).off())
		t := dir.tree(tx)
		n := norm.NFC.Bytes([]byte(name))
		cmp := tx.nameCompare(n)

		node, err := t.Get(tx.Tx, 0, cmp)
		if err != nil {
			return err
		}
		tx.IncRef(ref, 1)
		if node != 0 {
			old := Ref(node.Value(tx.Tx))
			if _, _, err := t.Insert(tx.Tx, node.Key(tx.Tx), uint64(ref), cmp); err != nil {
				return err
			}
			tx.DecRef(old, 1)
			return nil
		}

		key, err := tx.newByteArray(StringClass, len(n))
		if err != nil {
			return err
		}
		tx.Write(ByteArray(key).data(), n)
		_, _, err = t.Insert(tx.Tx, uint64(key), uint64(ref), cmp)
		return err
	})
	return opError("put named "+name, err)
}

// GetNamed returns the object bound to name. The reference is borrowed from
// the directory.
func (tx *Tx) GetNamed(name string) (Ref, bool, error) {
	n := norm.NFC.Bytes([]byte(name))
	node, err := tx.Directory().tree(tx).Get(tx.Tx, 0, tx.nameCompare(n))
	if err != nil {
		return 0, false, opError("get named "+name, err)
	}
	if node == 0 {
		return 0, false, nil
	}
	return Ref(node.Value(tx.Tx)), true, nil
}

// RemoveNamed unbinds name, releasing the directory's references.
func (tx *Tx) RemoveNamed(name string) (bool, error) {
	var found bool
	err := tx.run(func() error {
		dir := tx.Directory()
		tx.Lock(Ref(dir).off())
		n := norm.NFC.Bytes([]byte(name))
		k, v, ok, err := dir.tree(tx).Remove(tx.Tx, 0, tx.nameCompare(n))
		if err != nil || !ok {
			return err
		}
		found = true
		tx.DecRef(Ref(k), 1)
		tx.DecRef(Ref(v), 1)
		return nil
	})
	return found, opError("remove named "+name, err)
}

// Names calls fn for every binding in name order.
func (tx *Tx) Names(fn func(name string, ref Ref) error) error {
	return tx.Directory().ForEach(tx, func(k, v Ref) error {
		return fn(string(tx.arrayBytes(k)), v)
	})
}

// PutNamed binds name to ref in its own transaction.
func (h *Heap) PutNamed(name string, ref Ref) error {
	return h.Update(func(tx *Tx) error { return tx.PutNamed(name, ref) })
}

// GetNamed looks name up and retains the result for the caller, who ends
// the reference with Release.
func (h *Heap) GetNamed(name string) (Ref, bool, error) {
	var ref Ref
	var ok bool
	err := h.Update(func(tx *Tx) error {
		var err error
		if ref, ok, err = tx.GetNamed(name); err != nil || !ok {
			return err
		}
		tx.Retain(ref)
		return nil
	})
	return ref, ok, err
}

// RemoveNamed unbinds name in its own transaction.
func (h *Heap) RemoveNamed(name string) (bool, error) {
	var found bool
	err := h.Update(func(tx *Tx) error {
		var err error
		found, err = tx.RemoveNamed(name)
		return err
	})
	return found, err
}
