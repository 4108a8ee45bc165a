// Package treemap implements a persistent red-black tree keyed by record
// offsets and ordered by a caller-supplied comparator.
//
// The tree uses a real, allocated sentinel node (black, self-linked) for
// every nil leaf and a fake root node whose left child is the real root, so
// rotations and repairs never special-case the top of the tree. Every
// mutator runs inside one nested transaction; all node fields are written
// through logged accessors.
package treemap

import (
	"github.com/joshuapare/pheap/internal/format"
	"github.com/joshuapare/pheap/pool"
)

// Compare orders two keys. It returns a negative number, zero or a positive
// number, or an error when the keys cannot be compared.
type Compare func(a, b uint64) (int, error)

// Tree is the pool offset of a tree core. The zero Tree is invalid.
type Tree uint64

// Node is the pool offset of a tree node. The zero Node means "none".
type Node uint64

const (
	left  = 0
	right = 1
)

const (
	black uint8 = 0
	red   uint8 = 1
)

// Key returns the key stored in the node.
func (n Node) Key(tx *pool.Tx) uint64 { return tx.ReadU64(uint64(n) + format.NodeKeyOffset) }

// Value returns the value stored in the node.
func (n Node) Value(tx *pool.Tx) uint64 { return tx.ReadU64(uint64(n) + format.NodeValueOffset) }

func slotOffset(dir int) uint64 {
	if dir == left {
		return format.NodeLeftOffset
	}
	return format.NodeRightOffset
}

func child(tx *pool.Tx, n uint64, dir int) uint64 { return tx.ReadU64(n + slotOffset(dir)) }

func setChild(tx *pool.Tx, n uint64, dir int, c uint64) { tx.PutU64(n+slotOffset(dir), c) }

func parent(tx *pool.Tx, n uint64) uint64 { return tx.ReadU64(n + format.NodeParentOffset) }

func setParent(tx *pool.Tx, n, p uint64) { tx.PutU64(n+format.NodeParentOffset, p) }

func grandparent(tx *pool.Tx, n uint64) uint64 { return parent(tx, parent(tx, n)) }

func color(tx *pool.Tx, n uint64) uint8 { return tx.ReadU8(n + format.NodeColorOffset) }

func setColor(tx *pool.Tx, n uint64, c uint8) { tx.PutU8(n+format.NodeColorOffset, c) }

func nodeKey(tx *pool.Tx, n uint64) uint64 { return tx.ReadU64(n + format.NodeKeyOffset) }

func nodeValue(tx *pool.Tx, n uint64) uint64 { return tx.ReadU64(n + format.NodeValueOffset) }

func setValue(tx *pool.Tx, n, v uint64) { tx.PutU64(n+format.NodeValueOffset, v) }

func opposite(dir int) int { return 1 - dir }

// location reports which child of its parent n is.
func location(tx *pool.Tx, n uint64) int {
	if child(tx, parent(tx, n), right) == n {
		return right
	}
	return left
}

func (t Tree) sentinel(tx *pool.Tx) uint64 { return tx.ReadU64(uint64(t) + format.TreeSentinelOffset) }
func (t Tree) fakeRoot(tx *pool.Tx) uint64 { return tx.ReadU64(uint64(t) + format.TreeRootOffset) }

// top returns the real root, the fake root's left child.
func (t Tree) top(tx *pool.Tx) uint64 { return child(tx, t.fakeRoot(tx), left) }

// New allocates an empty tree.
func New(tx *pool.Tx) (Tree, error) {
	var t Tree
	err := tx.Run(func(tx *pool.Tx) error {
		off, err := tx.Alloc(format.TreeCoreSize)
		if err != nil {
			return err
		}
		t = Tree(off)
		return t.reset(tx)
	})
	if err != nil {
		return 0, err
	}
	return t, nil
}

// reset installs a fresh sentinel and fake root and zeroes the size.
func (t Tree) reset(tx *pool.Tx) error {
	s, err := tx.Alloc(format.NodeSize)
	if err != nil {
		return err
	}
	setParent(tx, s, s)
	setChild(tx, s, left, s)
	setChild(tx, s, right, s)

	r, err := tx.Alloc(format.NodeSize)
	if err != nil {
		return err
	}
	setParent(tx, r, s)
	setChild(tx, r, left, s)
	setChild(tx, r, right, s)

	tx.PutU64(uint64(t)+format.TreeSentinelOffset, s)
	tx.PutU64(uint64(t)+format.TreeRootOffset, r)
	tx.PutU64(uint64(t)+format.TreeSizeOffset, 0)
	return nil
}

// Size returns the number of entries.
func (t Tree) Size(tx *pool.Tx) uint64 { return tx.ReadU64(uint64(t) + format.TreeSizeOffset) }

func (t Tree) setSize(tx *pool.Tx, n uint64) { tx.PutU64(uint64(t)+format.TreeSizeOffset, n) }

// rotate turns the subtree at node in direction dir: node's opposite child
// takes node's place and node becomes that child's dir child.
func (t Tree) rotate(tx *pool.Tx, node uint64, dir int) {
	s := t.sentinel(tx)
	ch := child(tx, node, opposite(dir))
	inner := child(tx, ch, dir)

	setChild(tx, node, opposite(dir), inner)
	if inner != s {
		setParent(tx, inner, node)
	}
	setParent(tx, ch, parent(tx, node))
	setChild(tx, parent(tx, node), location(tx, node), ch)
	setChild(tx, ch, dir, node)
	setParent(tx, node, ch)
}

// Insert stores value under key. When an equal key is already present its
// value is replaced in place and returned with replaced set; the stored key
// is kept.
func (t Tree) Insert(tx *pool.Tx, key, value uint64, cmp Compare) (old uint64, replaced bool, err error) {
	err = tx.Run(func(tx *pool.Tx) error {
		s := t.sentinel(tx)
		p := t.fakeRoot(tx)
		link := p + format.NodeLeftOffset

		for cur := tx.ReadU64(link); cur != s; cur = tx.ReadU64(link) {
			c, err := cmp(key, nodeKey(tx, cur))
			if err != nil {
				return err
			}
			if c == 0 {
				old, replaced = nodeValue(tx, cur), true
				setValue(tx, cur, value)
				return nil
			}
			p = cur
			if c > 0 {
				link = cur + format.NodeRightOffset
			} else {
				link = cur + format.NodeLeftOffset
			}
		}

		n, err := tx.Alloc(format.NodeSize)
		if err != nil {
			return err
		}
		setParent(tx, n, p)
		setChild(tx, n, left, s)
		setChild(tx, n, right, s)
		tx.PutU64(n+format.NodeKeyOffset, key)
		setValue(tx, n, value)
		setColor(tx, n, red)
		tx.PutU64(link, n)
		t.setSize(tx, t.Size(tx)+1)

		for color(tx, parent(tx, n)) == red {
			n = t.recolor(tx, n, location(tx, parent(tx, n)))
		}
		setColor(tx, t.top(tx), black)
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return old, replaced, nil
}

// recolor fixes a red-red violation at n whose parent is the dir child of
// the grandparent. It returns the node to continue from.
func (t Tree) recolor(tx *pool.Tx, n uint64, dir int) uint64 {
	uncle := child(tx, grandparent(tx, n), opposite(dir))
	if color(tx, uncle) == red {
		setColor(tx, uncle, black)
		setColor(tx, parent(tx, n), black)
		setColor(tx, grandparent(tx, n), red)
		return grandparent(tx, n)
	}

	if child(tx, parent(tx, n), opposite(dir)) == n {
		n = parent(tx, n)
		t.rotate(tx, n, dir)
	}
	setColor(tx, parent(tx, n), black)
	setColor(tx, grandparent(tx, n), red)
	t.rotate(tx, grandparent(tx, n), opposite(dir))
	return n
}

// find returns the node holding key or 0.
func (t Tree) find(tx *pool.Tx, key uint64, cmp Compare) (uint64, error) {
	s := t.sentinel(tx)
	for cur := t.top(tx); cur != s; {
		c, err := cmp(key, nodeKey(tx, cur))
		if err != nil {
			return 0, err
		}
		if c == 0 {
			return cur, nil
		}
		if c > 0 {
			cur = child(tx, cur, right)
		} else {
			cur = child(tx, cur, left)
		}
	}
	return 0, nil
}

// Get returns the node holding key, or the zero Node.
func (t Tree) Get(tx *pool.Tx, key uint64, cmp Compare) (Node, error) {
	n, err := t.find(tx, key, cmp)
	return Node(n), err
}

// Higher returns the node with the smallest key strictly greater than key.
func (t Tree) Higher(tx *pool.Tx, key uint64, cmp Compare) (Node, error) {
	return t.bound(tx, key, cmp, right)
}

// Lower returns the node with the largest key strictly less than key.
func (t Tree) Lower(tx *pool.Tx, key uint64, cmp Compare) (Node, error) {
	return t.bound(tx, key, cmp, left)
}

func (t Tree) bound(tx *pool.Tx, key uint64, cmp Compare, dir int) (Node, error) {
	s := t.sentinel(tx)
	var best uint64
	for cur := t.top(tx); cur != s; {
		c, err := cmp(key, nodeKey(tx, cur))
		if err != nil {
			return 0, err
		}
		if (dir == right && c < 0) || (dir == left && c > 0) {
			best = cur
			cur = child(tx, cur, opposite(dir))
		} else {
			cur = child(tx, cur, dir)
		}
	}
	return Node(best), nil
}

// extreme walks from the real root to the far end in direction dir.
func (t Tree) extreme(tx *pool.Tx, dir int) Node {
	s := t.sentinel(tx)
	cur := t.top(tx)
	if cur == s {
		return 0
	}
	for next := child(tx, cur, dir); next != s; next = child(tx, cur, dir) {
		cur = next
	}
	return Node(cur)
}

// First returns the node with the smallest key.
func (t Tree) First(tx *pool.Tx) Node { return t.extreme(tx, left) }

// Last returns the node with the largest key.
func (t Tree) Last(tx *pool.Tx) Node { return t.extreme(tx, right) }

// step returns the in-order neighbour of n in direction dir (right for the
// successor).
func (t Tree) step(tx *pool.Tx, n uint64, dir int) uint64 {
	s := t.sentinel(tx)
	if dst := child(tx, n, dir); dst != s {
		for next := child(tx, dst, opposite(dir)); next != s; next = child(tx, dst, opposite(dir)) {
			dst = next
		}
		return dst
	}
	dst := parent(tx, n)
	for dst != s && n == child(tx, dst, dir) {
		n = dst
		dst = parent(tx, dst)
	}
	if dst == s || dst == t.fakeRoot(tx) {
		return 0
	}
	return dst
}

// Successor returns the next node in key order, or the zero Node.
func (t Tree) Successor(tx *pool.Tx, n Node) Node {
	if n == 0 {
		return 0
	}
	return Node(t.step(tx, uint64(n), right))
}

// Predecessor returns the previous node in key order, or the zero Node.
func (t Tree) Predecessor(tx *pool.Tx, n Node) Node {
	if n == 0 {
		return 0
	}
	return Node(t.step(tx, uint64(n), left))
}

// Remove deletes key. It returns the stored key and value so the caller can
// release them.
func (t Tree) Remove(tx *pool.Tx, key uint64, cmp Compare) (k, v uint64, found bool, err error) {
	err = tx.Run(func(tx *pool.Tx) error {
		n, err := t.find(tx, key, cmp)
		if err != nil || n == 0 {
			return err
		}
		found = true
		k, v = nodeKey(tx, n), nodeValue(tx, n)

		s, r := t.sentinel(tx), t.fakeRoot(tx)

		y := n
		if child(tx, n, left) != s && child(tx, n, right) != s {
			y = t.step(tx, n, right)
		}
		x := child(tx, y, left)
		if x == s {
			x = child(tx, y, right)
		}

		setParent(tx, x, parent(tx, y))
		if parent(tx, x) == r {
			setChild(tx, r, left, x)
		} else {
			setChild(tx, parent(tx, y), location(tx, y), x)
		}

		if color(tx, y) == black {
			t.repair(tx, x)
		}

		if y != n {
			setChild(tx, y, left, child(tx, n, left))
			setChild(tx, y, right, child(tx, n, right))
			setParent(tx, y, parent(tx, n))
			setColor(tx, y, color(tx, n))
			setParent(tx, child(tx, n, left), y)
			setParent(tx, child(tx, n, right), y)
			setChild(tx, parent(tx, n), location(tx, n), y)
		}

		if err := tx.Free(n); err != nil {
			return err
		}
		t.setSize(tx, t.Size(tx)-1)
		return nil
	})
	if err != nil {
		return 0, 0, false, err
	}
	return k, v, found, nil
}

// repair restores the black-height after a black node was spliced out
// above n.
func (t Tree) repair(tx *pool.Tx, n uint64) {
	for n != t.top(tx) && color(tx, n) == black {
		n = t.repairBranch(tx, n, location(tx, n))
	}
	setColor(tx, n, black)
}

// repairBranch handles one step of the delete fix-up for n, the dir child
// of its parent.
func (t Tree) repairBranch(tx *pool.Tx, n uint64, dir int) uint64 {
	sb := child(tx, parent(tx, n), opposite(dir))
	if color(tx, sb) == red {
		setColor(tx, sb, black)
		setColor(tx, parent(tx, n), red)
		t.rotate(tx, parent(tx, n), dir)
		sb = child(tx, parent(tx, n), opposite(dir))
	}

	if color(tx, child(tx, sb, right)) == black && color(tx, child(tx, sb, left)) == black {
		setColor(tx, sb, red)
		return parent(tx, n)
	}

	if color(tx, child(tx, sb, opposite(dir))) == black {
		setColor(tx, child(tx, sb, dir), black)
		setColor(tx, sb, red)
		t.rotate(tx, sb, opposite(dir))
		sb = child(tx, parent(tx, n), opposite(dir))
	}
	setColor(tx, sb, color(tx, parent(tx, n)))
	setColor(tx, parent(tx, n), black)
	setColor(tx, child(tx, sb, opposite(dir)), black)
	t.rotate(tx, parent(tx, n), dir)
	return t.top(tx)
}

// ForEach calls fn for every entry in key order. A non-nil error from fn
// stops the walk and is returned.
func (t Tree) ForEach(tx *pool.Tx, fn func(key, value uint64) error) error {
	for n := t.First(tx); n != 0; n = t.Successor(tx, n) {
		if err := fn(n.Key(tx), n.Value(tx)); err != nil {
			return err
		}
	}
	return nil
}

// freeNodes frees the subtree at n in post order, handing every entry to
// release first. release may be nil.
func (t Tree) freeNodes(tx *pool.Tx, n, s uint64, release func(key, value uint64) error) error {
	if n == s {
		return nil
	}
	if err := t.freeNodes(tx, child(tx, n, left), s, release); err != nil {
		return err
	}
	if err := t.freeNodes(tx, child(tx, n, right), s, release); err != nil {
		return err
	}
	if release != nil {
		if err := release(nodeKey(tx, n), nodeValue(tx, n)); err != nil {
			return err
		}
	}
	return tx.Free(n)
}

// Clear removes every entry, handing each to release, and replaces the
// sentinel and fake root with fresh nodes.
func (t Tree) Clear(tx *pool.Tx, release func(key, value uint64) error) error {
	return tx.Run(func(tx *pool.Tx) error {
		if err := t.freeAll(tx, release); err != nil {
			return err
		}
		return t.reset(tx)
	})
}

// Delete releases every entry and frees the whole tree including its core.
func (t Tree) Delete(tx *pool.Tx, release func(key, value uint64) error) error {
	return tx.Run(func(tx *pool.Tx) error {
		if err := t.freeAll(tx, release); err != nil {
			return err
		}
		return tx.Free(uint64(t))
	})
}

func (t Tree) freeAll(tx *pool.Tx, release func(key, value uint64) error) error {
	s, r := t.sentinel(tx), t.fakeRoot(tx)
	if err := t.freeNodes(tx, child(tx, r, left), s, release); err != nil {
		return err
	}
	if err := tx.Free(r); err != nil {
		return err
	}
	return tx.Free(s)
}
