package heap

import (
	"fmt"

	"github.com/joshuapare/pheap/internal/logger"
)

// CollectStats summarizes one collection.
type CollectStats struct {
	Candidates int // Flagged records examined
	Collected  int // Records reclaimed as cyclic garbage
}

// Collect runs synchronous trial deletion over every flagged candidate and
// reclaims the garbage cycles it finds. It runs inside tx; any failure is
// fatal.
//
// Only child slots are graph edges for the collector. Map entries hold
// ordinary references that are never trial-deleted, so a record referenced
// from a live map entry can never be garbage.
func (tx *Tx) Collect() (CollectStats, error) {
	var st CollectStats
	err := tx.run(func() error {
		tx.Lock(tx.h.root)
		tx.freed = nil

		var candidates []Ref
		_ = tx.Objects(func(ref Ref) error {
			if tx.IsCandidate(ref) {
				candidates = append(candidates, ref)
			}
			return nil
		})
		st.Candidates = len(candidates)

		// Mark.
		roots := candidates[:0]
		for _, c := range candidates {
			if tx.wasFreed(c) {
				continue
			}
			if tx.Color(c) == Purple {
				tx.markGray(c)
				roots = append(roots, c)
				continue
			}
			tx.setCandidate(c, false)
			if tx.Color(c) == Black && tx.RefCount(c) == 0 {
				tx.destroy(c)
			}
		}

		// Scan.
		for _, r := range roots {
			if !tx.wasFreed(r) {
				tx.scan(r)
			}
		}

		// Collect.
		var garbage []Ref
		for _, r := range roots {
			if tx.wasFreed(r) {
				continue
			}
			tx.setCandidate(r, false)
			garbage = tx.gatherWhite(r, garbage)
		}
		tx.reclaim(garbage)
		st.Collected = len(garbage)
		return nil
	})
	if err != nil {
		tx.fatal(fmt.Errorf("collect: %w", err))
	}

	m := tx.h.metrics
	tx.OnCommit(func() {
		m.collections.Inc()
		m.collected.Add(st.Collected)
	})
	return st, nil
}

// markGray colors the subgraph under ref gray, removing the contribution of
// every traversed edge from its target's count.
func (tx *Tx) markGray(ref Ref) {
	stack := []Ref{ref}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if tx.Color(n) == Gray {
			continue
		}
		tx.setColor(n, Gray)
		for _, c := range tx.children(n) {
			rc := tx.RefCount(c)
			if rc == 0 {
				tx.fatal(fmt.Errorf("trial delete edge %#x -> %#x: %w", n.off(), c.off(), ErrRefUnderflow))
			}
			tx.setRefCount(c, rc-1)
			stack = append(stack, c)
		}
	}
}

// scan turns gray records still referenced from outside the subgraph black
// again and the rest white.
func (tx *Tx) scan(ref Ref) {
	stack := []Ref{ref}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if tx.Color(n) != Gray {
			continue
		}
		if tx.RefCount(n) > 0 {
			tx.scanBlack(n)
			continue
		}
		tx.setColor(n, White)
		stack = append(stack, tx.children(n)...)
	}
}

// scanBlack restores the counts markGray removed below ref.
func (tx *Tx) scanBlack(ref Ref) {
	tx.setColor(ref, Black)
	stack := []Ref{ref}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range tx.children(n) {
			tx.setRefCount(c, tx.RefCount(c)+1)
			if tx.Color(c) != Black {
				tx.setColor(c, Black)
				stack = append(stack, c)
			}
		}
	}
}

// gatherWhite appends the white records reachable from ref that are not
// waiting candidates, coloring them black so each is taken once.
func (tx *Tx) gatherWhite(ref Ref, garbage []Ref) []Ref {
	stack := []Ref{ref}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if tx.Color(n) != White || tx.IsCandidate(n) {
			continue
		}
		tx.setColor(n, Black)
		garbage = append(garbage, n)
		stack = append(stack, tx.children(n)...)
	}
	return garbage
}

// reclaim frees the garbage set. Slot edges inside it were already removed
// by trial deletion; map entries are released once every record of the set
// is gone.
func (tx *Tx) reclaim(garbage []Ref) {
	var entries []Ref
	keep := func(refs ...uint64) {
		for _, r := range refs {
			if r != 0 {
				entries = append(entries, Ref(r))
			}
		}
	}

	for _, g := range garbage {
		kind := tx.Kind(g)
		tx.unlink(g)
		var err error
		switch kind {
		case KindSortedMap:
			err = SortedMap(g).tree(tx).Delete(tx.Tx, func(k, v uint64) error {
				keep(k, v)
				return nil
			})
		case KindHashMap:
			m := HashMap(g).table(tx)
			err = m.ForEach(tx.Tx, func(_, v uint64) error {
				keep(v)
				return nil
			})
			if err == nil {
				err = m.Delete(tx.Tx)
			}
		case KindByteArray, KindByteBuffer, KindLong, KindAggregate:
		default:
			err = fmt.Errorf("%s: %w", kind, ErrCorrupt)
		}
		if err == nil {
			err = tx.free(g)
		}
		if err != nil {
			tx.fatal(fmt.Errorf("reclaim %#x: %w", g.off(), err))
		}
	}

	for _, e := range entries {
		if !tx.wasFreed(e) {
			tx.DecRef(e, 1)
		}
	}
	if len(garbage) > 0 {
		logger.Debug("reclaimed garbage cycles", "records", len(garbage), "entries", len(entries))
	}
}
