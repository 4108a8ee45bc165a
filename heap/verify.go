package heap

import (
	"errors"
	"fmt"
)

// Verify cross-checks the whole heap: every reference must point at a live
// record, every count must equal the references held by records, map
// entries, the root and volatile handles, no record may be left gray or
// white, every sorted map must satisfy its tree invariants and every
// allocator free list link must name a free block. All
// problems found are returned joined; each wraps ErrCorrupt.
func (tx *Tx) Verify() error {
	var (
		errs   []error
		live   = make(map[Ref]bool)
		expect = make(map[Ref]uint32)
	)
	problem := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format+": %w", append(args, ErrCorrupt)...))
	}
	ref := func(from, to Ref) {
		if to.IsNull() {
			return
		}
		if !tx.IsLive(to) {
			problem("%#x references %#x, which is not a record", from.off(), to.off())
			return
		}
		expect[to]++
	}

	expect[Ref(tx.Directory())]++
	err := tx.Objects(func(r Ref) error {
		live[r] = true
		if c := tx.Color(r); c == Gray || c == White {
			problem("%#x left %s", r.off(), c)
		}
		for _, c := range tx.children(r) {
			ref(r, c)
		}
		switch tx.Kind(r) {
		case KindSortedMap:
			m := SortedMap(r)
			if err := m.Check(tx); err != nil {
				problem("sorted map %#x: %v", r.off(), err)
			}
			return m.ForEach(tx, func(k, v Ref) error {
				ref(r, k)
				ref(r, v)
				return nil
			})
		case KindHashMap:
			return HashMap(r).ForEach(tx, func(_ uint64, v Ref) error {
				ref(r, v)
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := tx.h.liveness.ForEach(tx.Tx, func(k, n uint64) error {
		if !live[Ref(k)] {
			problem("volatile handle on %#x, which is not a record", k)
			return nil
		}
		expect[Ref(k)] += uint32(n)
		return nil
	}); err != nil {
		return err
	}

	if err := tx.CheckFreeLists(); err != nil {
		for _, e := range unjoin(err) {
			problem("allocator: %v", e)
		}
	}

	for r := range live {
		if rc, want := tx.RefCount(r), expect[r]; rc != want {
			problem("%s %#x has count %d, %d references found", tx.Kind(r), r.off(), rc, want)
		}
	}
	for r := range expect {
		if !live[r] {
			problem("%#x is referenced but not in the object list", r.off())
		}
	}
	return errors.Join(errs...)
}

// unjoin splits an errors.Join result into its parts.
func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}
