package pool

import (
	"fmt"

	"github.com/joshuapare/pheap/internal/format"
)

// span returns the mapped bytes [off, off+n) or aborts the transaction.
func (tx *Tx) span(off uint64, n int) []byte {
	if n < 0 || off > uint64(len(tx.data)) || uint64(n) > uint64(len(tx.data))-off {
		tx.Abort(fmt.Errorf("%#x+%d (pool size %d): %w", off, n, len(tx.data), ErrOutOfRange))
	}
	return tx.data[off : off+uint64(n)]
}

// logged saves the pre-image of [off, off+n) and returns it for writing.
func (tx *Tx) logged(off uint64, n int) []byte {
	if !tx.writable {
		tx.Abort(ErrReadOnly)
	}
	if left := tx.p.faultAfter.Load(); left > 0 && tx.p.faultAfter.Add(-1) == 0 {
		tx.Abort(fmt.Errorf("write %#x+%d: %w", off, n, ErrInjectedFault))
	}
	b := tx.span(off, n)
	tx.undo = append(tx.undo, undoEntry{off: off, start: len(tx.arena), n: n})
	tx.arena = append(tx.arena, b...)
	tx.dirty.Add(int(off), n)
	return b
}

// Bytes returns the mapped bytes [off, off+n). The slice is only valid
// inside the transaction and must not be modified; use Write.
func (tx *Tx) Bytes(off uint64, n int) []byte { return tx.span(off, n) }

func (tx *Tx) ReadU8(off uint64) uint8   { return tx.span(off, 1)[0] }
func (tx *Tx) ReadU16(off uint64) uint16 { return format.ReadU16(tx.span(off, 2), 0) }
func (tx *Tx) ReadU32(off uint64) uint32 { return format.ReadU32(tx.span(off, 4), 0) }
func (tx *Tx) ReadI32(off uint64) int32  { return format.ReadI32(tx.span(off, 4), 0) }
func (tx *Tx) ReadU64(off uint64) uint64 { return format.ReadU64(tx.span(off, 8), 0) }
func (tx *Tx) ReadI64(off uint64) int64  { return format.ReadI64(tx.span(off, 8), 0) }

func (tx *Tx) PutU8(off uint64, v uint8)   { tx.logged(off, 1)[0] = v }
func (tx *Tx) PutU16(off uint64, v uint16) { format.PutU16(tx.logged(off, 2), 0, v) }
func (tx *Tx) PutU32(off uint64, v uint32) { format.PutU32(tx.logged(off, 4), 0, v) }
func (tx *Tx) PutI32(off uint64, v int32)  { format.PutI32(tx.logged(off, 4), 0, v) }
func (tx *Tx) PutU64(off uint64, v uint64) { format.PutU64(tx.logged(off, 8), 0, v) }
func (tx *Tx) PutI64(off uint64, v int64)  { format.PutI64(tx.logged(off, 8), 0, v) }

// Write copies b to off.
func (tx *Tx) Write(off uint64, b []byte) {
	if len(b) == 0 {
		return
	}
	copy(tx.logged(off, len(b)), b)
}

// Zero clears n bytes at off.
func (tx *Tx) Zero(off uint64, n int) {
	if n == 0 {
		return
	}
	clear(tx.logged(off, n))
}

// Unchecked returns the mapped bytes [off, off+n) for direct modification.
// Direct writes are not undone by a rollback and reach the file only for
// ranges announced with Persist.
func (tx *Tx) Unchecked(off uint64, n int) []byte {
	if !tx.writable {
		tx.Abort(ErrReadOnly)
	}
	return tx.span(off, n)
}

// Persist includes [off, off+n) in the commit without logging a pre-image.
func (tx *Tx) Persist(off uint64, n int) {
	if !tx.writable {
		tx.Abort(ErrReadOnly)
	}
	tx.span(off, n)
	tx.dirty.Add(int(off), n)
}

// Alloc allocates a zeroed block of at least n bytes and returns its offset.
func (tx *Tx) Alloc(n int) (uint64, error) {
	if !tx.writable {
		return 0, ErrReadOnly
	}
	return tx.p.alloc.Alloc(tx, n)
}

// Free releases the block at off.
func (tx *Tx) Free(off uint64) error {
	if !tx.writable {
		return ErrReadOnly
	}
	return tx.p.alloc.Free(tx, off)
}

// CheckFreeLists validates the allocator free lists.
func (tx *Tx) CheckFreeLists() error { return tx.p.alloc.Check(tx) }

// IsAllocated reports whether off is the start of an allocated block.
func (tx *Tx) IsAllocated(off uint64) bool {
	return tx.p.alloc.IsAllocated(tx, off)
}

// Root returns the offset of the root record (0 before SetRoot).
func (tx *Tx) Root() uint64 { return tx.ReadU64(format.SBRootOffset) }

// SetRoot records the root record offset in the superblock.
func (tx *Tx) SetRoot(off uint64) { tx.PutU64(format.SBRootOffset, off) }
