package treemap

import (
	"errors"
	"fmt"

	"github.com/joshuapare/pheap/pool"
)

// ErrCorrupt is returned by Check when a structural or red-black invariant
// does not hold.
var ErrCorrupt = errors.New("treemap: invariant violated")

// Check verifies the tree: sentinel and fake root shape, parent links, no
// red node with a red child, equal black height on every path, strictly
// ascending keys under cmp, and the stored size.
func (t Tree) Check(tx *pool.Tx, cmp Compare) error {
	s, r := t.sentinel(tx), t.fakeRoot(tx)
	if color(tx, s) != black || child(tx, s, left) != s || child(tx, s, right) != s {
		return fmt.Errorf("sentinel %#x: %w", s, ErrCorrupt)
	}
	if color(tx, r) != black || child(tx, r, right) != s {
		return fmt.Errorf("fake root %#x: %w", r, ErrCorrupt)
	}
	top := t.top(tx)
	if top != s {
		if color(tx, top) != black {
			return fmt.Errorf("root %#x is red: %w", top, ErrCorrupt)
		}
		if parent(tx, top) != r {
			return fmt.Errorf("root %#x parent %#x: %w", top, parent(tx, top), ErrCorrupt)
		}
	}

	var count uint64
	if _, err := t.checkNode(tx, top, s, &count); err != nil {
		return err
	}
	if size := t.Size(tx); size != count {
		return fmt.Errorf("size %d, counted %d nodes: %w", size, count, ErrCorrupt)
	}

	var prev Node
	for n := t.First(tx); n != 0; n = t.Successor(tx, n) {
		if prev != 0 {
			c, err := cmp(prev.Key(tx), n.Key(tx))
			if err != nil {
				return err
			}
			if c >= 0 {
				return fmt.Errorf("node %#x out of order: %w", uint64(n), ErrCorrupt)
			}
		}
		prev = n
	}
	return nil
}

// checkNode returns the black height of the subtree at n.
func (t Tree) checkNode(tx *pool.Tx, n, s uint64, count *uint64) (int, error) {
	if n == s {
		return 1, nil
	}
	*count++

	heights := [2]int{}
	for dir := left; dir <= right; dir++ {
		c := child(tx, n, dir)
		if c != s {
			if parent(tx, c) != n {
				return 0, fmt.Errorf("node %#x parent %#x, want %#x: %w", c, parent(tx, c), n, ErrCorrupt)
			}
			if color(tx, n) == red && color(tx, c) == red {
				return 0, fmt.Errorf("red node %#x has red child %#x: %w", n, c, ErrCorrupt)
			}
		}
		h, err := t.checkNode(tx, c, s, count)
		if err != nil {
			return 0, err
		}
		heights[dir] = h
	}
	if heights[left] != heights[right] {
		return 0, fmt.Errorf("node %#x black heights %d/%d: %w", n, heights[left], heights[right], ErrCorrupt)
	}
	if color(tx, n) == black {
		return heights[left] + 1, nil
	}
	return heights[left], nil
}
