package heap

import (
	"bytes"
	"cmp"
	"fmt"
)

// Compare orders two keys of the same kind. Byte arrays compare as unsigned
// bytes, byte buffers over their remaining ranges (shorter first on a tie),
// longs numerically and aggregates through the comparator set with
// WithComparator.
func (tx *Tx) Compare(a, b Ref) (int, error) {
	if err := tx.check(a, KindInvalid); err != nil {
		return 0, err
	}
	if err := tx.check(b, KindInvalid); err != nil {
		return 0, err
	}
	ka, kb := tx.Kind(a), tx.Kind(b)
	if ka != kb {
		return 0, fmt.Errorf("%s vs %s: %w", ka, kb, ErrKeyKindMismatch)
	}

	switch ka {
	case KindByteArray:
		return bytes.Compare(tx.arrayBytes(a), tx.arrayBytes(b)), nil
	case KindByteBuffer:
		return bytes.Compare(ByteBuffer(a).remaining(tx), ByteBuffer(b).remaining(tx)), nil
	case KindLong:
		return cmp.Compare(Long(a).Value(tx), Long(b).Value(tx)), nil
	case KindAggregate:
		if tx.h.opts.compare == nil {
			return 0, ErrNoComparator
		}
		return tx.h.opts.compare(tx, a, b)
	case KindSortedMap, KindHashMap:
		return 0, fmt.Errorf("%s: %w", ka, ErrNotComparable)
	}
	tx.fatal(fmt.Errorf("compare %#x: %s: %w", a.off(), ka, ErrCorrupt))
	return 0, nil
}

// compareFunc adapts Compare to the tree's comparator.
func (tx *Tx) compareFunc() func(a, b uint64) (int, error) {
	return func(a, b uint64) (int, error) { return tx.Compare(Ref(a), Ref(b)) }
}
