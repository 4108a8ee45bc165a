package alloc

import "errors"

var (
	// ErrNoSpace indicates that no free block large enough was found and the
	// bump region is exhausted.
	ErrNoSpace = errors.New("alloc: out of pool space")

	// ErrBadRef indicates an invalid or out-of-bounds block reference.
	ErrBadRef = errors.New("alloc: bad block reference")

	// ErrNotUsed indicates an attempt to free a block that is not allocated.
	ErrNotUsed = errors.New("alloc: block not in use")

	// ErrBadSize indicates a non-positive or oversized request.
	ErrBadSize = errors.New("alloc: bad allocation size")

	// ErrClassMismatch indicates a pool formatted with a different size class table.
	ErrClassMismatch = errors.New("alloc: size class table mismatch")

	// ErrFreeList indicates a free list link that does not name a free block
	// of its class.
	ErrFreeList = errors.New("alloc: free list corrupt")
)
