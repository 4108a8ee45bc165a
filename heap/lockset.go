package heap

import (
	"slices"

	"github.com/joshuapare/pheap/hashmap"
)

// lockSet collects every record a bulk operation touches, then locks them
// in ascending offset order before any count changes. The set itself is a
// transient hash map that lives only inside the operation's transaction.
type lockSet struct {
	tx       *Tx
	set      hashmap.Map
	acquired []uint64
}

func (tx *Tx) newLockSet(n int) (*lockSet, error) {
	set, err := hashmap.New(tx.Tx, max(n, 1), false, 0)
	if err != nil {
		return nil, err
	}
	return &lockSet{tx: tx, set: set}, nil
}

// track adds ref and every record reachable through its child slots.
func (ls *lockSet) track(ref Ref) error {
	stack := []Ref{ref}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.IsNull() || ls.set.Contains(ls.tx.Tx, n.off()) {
			continue
		}
		if _, _, err := ls.set.Insert(ls.tx.Tx, n.off(), 0); err != nil {
			return err
		}
		stack = append(stack, ls.tx.children(n)...)
	}
	return nil
}

// acquire locks the tracked records in ascending offset order.
func (ls *lockSet) acquire() error {
	keys := make([]uint64, 0, ls.set.Count(ls.tx.Tx))
	if err := ls.set.ForEach(ls.tx.Tx, func(k, _ uint64) error {
		keys = append(keys, k)
		return nil
	}); err != nil {
		return err
	}
	slices.Sort(keys)
	for _, k := range keys {
		if ls.tx.Lock(k) {
			ls.acquired = append(ls.acquired, k)
		}
	}
	return nil
}

// release unlocks what acquire took and frees the set.
func (ls *lockSet) release() error {
	for i := len(ls.acquired) - 1; i >= 0; i-- {
		ls.tx.Unlock(ls.acquired[i])
	}
	ls.acquired = nil
	return ls.set.Delete(ls.tx.Tx)
}
