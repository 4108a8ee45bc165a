package heap

import (
	"fmt"
	"io"
	"strconv"
)

// Counts returns the number of live records of each kind.
func (tx *Tx) Counts() map[Kind]int {
	counts := make(map[Kind]int)
	_ = tx.Objects(func(ref Ref) error {
		counts[tx.Kind(ref)]++
		return nil
	})
	return counts
}

// Dump writes the object list to w, newest first. Verbosity 0 prints only
// the totals, 1 adds one line per record and 2 adds hash map tables.
func (tx *Tx) Dump(w io.Writer, verbosity int) error {
	counts := make(map[Kind]int)
	err := tx.Objects(func(ref Ref) error {
		kind := tx.Kind(ref)
		counts[kind]++
		if verbosity < 1 {
			return nil
		}
		if _, err := fmt.Fprintf(w, "%s at %#x: refCount %d, color %s, handles %d%s\n",
			kind, ref.off(), tx.RefCount(ref), tx.Color(ref), tx.LiveHandles(ref), tx.describe(ref)); err != nil {
			return err
		}
		if verbosity > 1 && kind == KindHashMap {
			return HashMap(ref).table(tx).Debug(tx.Tx, w)
		}
		return nil
	})
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "%s\nsorted maps %d, hash maps %d, byte arrays %d, byte buffers %d, longs %d, aggregates %d\n",
		"==========================================================",
		counts[KindSortedMap], counts[KindHashMap], counts[KindByteArray],
		counts[KindByteBuffer], counts[KindLong], counts[KindAggregate])
	return err
}

// describe returns the kind-specific part of a dump line.
func (tx *Tx) describe(ref Ref) string {
	s := ""
	if name := tx.ClassName(ref); name != "" {
		s += ", class " + strconv.Quote(name)
	}
	switch tx.Kind(ref) {
	case KindSortedMap:
		s += fmt.Sprintf(", size %d", SortedMap(ref).Size(tx))
	case KindHashMap:
		s += fmt.Sprintf(", count %d", HashMap(ref).Count(tx))
	case KindByteArray:
		b := tx.arrayBytes(ref)
		if len(b) > 32 {
			b = b[:32]
		}
		s += fmt.Sprintf(", length %d, content %q", ByteArray(ref).Len(tx), b)
	case KindByteBuffer:
		st := ByteBuffer(ref).State(tx)
		s += fmt.Sprintf(", array %#x, position %d, limit %d, capacity %d",
			tx.child(ref, 0).off(), st.Position, st.Limit, st.Capacity)
	case KindLong:
		s += fmt.Sprintf(", value %d", Long(ref).Value(tx))
	case KindAggregate:
		s += fmt.Sprintf(", fields %d", tx.FieldCount(ref))
	}
	return s
}

// Dump writes the object list in a read-only transaction.
func (h *Heap) Dump(w io.Writer, verbosity int) error {
	return h.View(func(tx *Tx) error { return tx.Dump(w, verbosity) })
}
