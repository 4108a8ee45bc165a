// Package alloc implements the persistent block allocator of a pool.
//
// # Overview
//
// The allocator hands out 16-byte aligned blocks from the heap area of the
// pool. All of its state lives inside the pool itself (free list heads and
// the bump pointer in the superblock, block headers in front of every
// payload), and every state change goes through Mem. When Mem is a pool
// transaction the allocator is therefore exactly as atomic as the
// transaction: an aborted transaction also un-allocates and un-frees.
//
// # Block layout
//
//	[size u64 | tag u64 | payload ...]
//
// Free blocks keep the payload offset of the next free block of the same
// class in the first payload word.
//
// # Strategy
//
//   - Segregated free lists, one per size class, plus a large list
//   - First fit inside the exact class, head of the first non-empty larger class
//   - Split when the remainder is at least MinBlockSize
//   - Bump allocation from never-used space when every list misses
//
// Bytes at or beyond the bump pointer are always zero, so bump allocations are
// handed out without clearing; recycled blocks are zeroed.
package alloc

import (
	"errors"
	"fmt"

	"github.com/joshuapare/pheap/internal/format"
)

// Mem is the logged view of pool memory the allocator mutates.
type Mem interface {
	ReadU64(off uint64) uint64
	PutU64(off uint64, v uint64)
	Zero(off uint64, n int)
}

// Stats describes allocator occupancy.
type Stats struct {
	HeapStart uint64
	HeapTop   uint64
	HeapEnd   uint64
	Allocated uint64 // Bytes in allocated blocks, headers included
	FreeBytes uint64 // Bytes in free lists
	FreeCount int    // Blocks in free lists
}

// Allocator is stateless apart from its size class table.
type Allocator struct {
	table *sizeClassTable
}

// New creates an allocator for the given size class configuration.
func New(config SizeClassConfig) *Allocator {
	return &Allocator{table: newSizeClassTable(config)}
}

// NumClasses returns the number of size classes (excluding the large list).
func (a *Allocator) NumClasses() int { return a.table.numClasses }

// Validate checks that the pool was formatted with the same class table.
func (a *Allocator) Validate(numClasses uint32) error {
	if int(numClasses) != a.table.numClasses {
		return fmt.Errorf("pool has %d classes, allocator %d: %w", numClasses, a.table.numClasses, ErrClassMismatch)
	}
	return nil
}

// BlockSize returns the block size needed for a payload of need bytes.
func BlockSize(need int) int {
	size := format.Align16(need + format.BlockHeaderSize)
	if size < format.MinBlockSize {
		size = format.MinBlockSize
	}
	return size
}

// Alloc returns the payload offset of a zeroed block of at least need bytes.
func (a *Allocator) Alloc(m Mem, need int) (uint64, error) {
	if need <= 0 {
		return 0, fmt.Errorf("alloc %d bytes: %w", need, ErrBadSize)
	}
	end := m.ReadU64(format.SBHeapEndOffset)
	if uint64(need) >= end {
		return 0, fmt.Errorf("alloc %d bytes: %w", need, ErrBadSize)
	}
	size := BlockSize(need)

	c := a.table.classOf(size)
	for k := c; k <= a.table.numClasses; k++ {
		// Only the exact class and the large list can hold blocks too small.
		firstFit := k == c || k == a.table.numClasses
		if p := a.take(m, k, uint64(size), firstFit); p != 0 {
			return p, nil
		}
	}

	// Bump allocation from never-used space.
	top := m.ReadU64(format.SBHeapTopOffset)
	if top+uint64(size) > end {
		return 0, fmt.Errorf("alloc %d bytes (top %#x, end %#x): %w", need, top, end, ErrNoSpace)
	}
	m.PutU64(format.SBHeapTopOffset, top+uint64(size))
	m.PutU64(top+format.BlockSizeOffset, uint64(size))
	m.PutU64(top+format.BlockTagOffset, format.BlockTagUsed)
	a.account(m, int64(size))
	return top + format.BlockHeaderSize, nil
}

// take unlinks a block of at least size bytes from class k, or returns 0.
func (a *Allocator) take(m Mem, k int, size uint64, firstFit bool) uint64 {
	link := uint64(format.FreeHeadOffset(k))
	for p := m.ReadU64(link); p != 0; p = m.ReadU64(link) {
		blk := p - format.BlockHeaderSize
		bsize := m.ReadU64(blk + format.BlockSizeOffset)
		if bsize < size {
			if !firstFit {
				return 0
			}
			link = p + format.BlockNextOffset
			continue
		}

		m.PutU64(link, m.ReadU64(p+format.BlockNextOffset))

		if rest := bsize - size; rest >= format.MinBlockSize {
			r := blk + size
			m.PutU64(r+format.BlockSizeOffset, rest)
			a.push(m, r, rest)
			m.PutU64(blk+format.BlockSizeOffset, size)
			bsize = size
		}
		m.PutU64(blk+format.BlockTagOffset, format.BlockTagUsed)
		m.Zero(p, int(bsize-format.BlockHeaderSize))
		a.account(m, int64(bsize))
		return p
	}
	return 0
}

// push tags the block at blk free and links it at the head of its class.
func (a *Allocator) push(m Mem, blk, size uint64) {
	head := uint64(format.FreeHeadOffset(a.table.classOf(int(size))))
	p := blk + format.BlockHeaderSize
	m.PutU64(blk+format.BlockTagOffset, format.BlockTagFree)
	m.PutU64(p+format.BlockNextOffset, m.ReadU64(head))
	m.PutU64(head, p)
}

// Free returns the block whose payload starts at p to its free list.
func (a *Allocator) Free(m Mem, p uint64) error {
	size, err := a.blockSize(m, p)
	if err != nil {
		return err
	}
	a.push(m, p-format.BlockHeaderSize, size)
	a.account(m, -int64(size))
	return nil
}

// UsableSize returns the payload capacity of the allocated block at p.
func (a *Allocator) UsableSize(m Mem, p uint64) (int, error) {
	size, err := a.blockSize(m, p)
	if err != nil {
		return 0, err
	}
	return int(size - format.BlockHeaderSize), nil
}

// IsAllocated reports whether p is the payload offset of an allocated block.
func (a *Allocator) IsAllocated(m Mem, p uint64) bool {
	_, err := a.blockSize(m, p)
	return err == nil
}

func (a *Allocator) blockSize(m Mem, p uint64) (uint64, error) {
	start := m.ReadU64(format.SBHeapStartOffset)
	top := m.ReadU64(format.SBHeapTopOffset)
	if p%16 != 0 || p < start+format.BlockHeaderSize || p >= top {
		return 0, fmt.Errorf("block %#x: %w", p, ErrBadRef)
	}
	blk := p - format.BlockHeaderSize
	tag := m.ReadU64(blk + format.BlockTagOffset)
	switch tag {
	case format.BlockTagUsed:
	case format.BlockTagFree:
		return 0, fmt.Errorf("block %#x: %w", p, ErrNotUsed)
	default:
		return 0, fmt.Errorf("block %#x tag %#x: %w", p, tag, ErrBadRef)
	}
	size := m.ReadU64(blk + format.BlockSizeOffset)
	if size < format.MinBlockSize || blk+size > top {
		return 0, fmt.Errorf("block %#x size %d: %w", p, size, ErrBadRef)
	}
	return size, nil
}

func (a *Allocator) account(m Mem, delta int64) {
	cur := m.ReadU64(format.SBAllocatedOffset)
	m.PutU64(format.SBAllocatedOffset, uint64(int64(cur)+delta))
}

// Stats walks the free lists and reports occupancy.
func (a *Allocator) Stats(m Mem) Stats {
	st := Stats{
		HeapStart: m.ReadU64(format.SBHeapStartOffset),
		HeapTop:   m.ReadU64(format.SBHeapTopOffset),
		HeapEnd:   m.ReadU64(format.SBHeapEndOffset),
		Allocated: m.ReadU64(format.SBAllocatedOffset),
	}
	for k := 0; k <= a.table.numClasses; k++ {
		for p := m.ReadU64(uint64(format.FreeHeadOffset(k))); p != 0; p = m.ReadU64(p + format.BlockNextOffset) {
			st.FreeBytes += m.ReadU64(p - format.BlockHeaderSize + format.BlockSizeOffset)
			st.FreeCount++
		}
	}
	return st
}

// Check walks every free list and reports links that leave the heap, name a
// block not tagged free, sit in the wrong class or loop. A list is not
// followed past its first bad link.
func (a *Allocator) Check(m Mem) error {
	start := m.ReadU64(format.SBHeapStartOffset)
	top := m.ReadU64(format.SBHeapTopOffset)
	maxBlocks := (top - start) / format.MinBlockSize

	var errs []error
	for k := 0; k <= a.table.numClasses; k++ {
		var n uint64
		for p := m.ReadU64(uint64(format.FreeHeadOffset(k))); p != 0; p = m.ReadU64(p + format.BlockNextOffset) {
			if n++; n > maxBlocks {
				errs = append(errs, fmt.Errorf("class %d: more than %d blocks, list loops: %w", k, maxBlocks, ErrFreeList))
				break
			}
			if p%16 != 0 || p < start+format.BlockHeaderSize || p >= top {
				errs = append(errs, fmt.Errorf("class %d: link %#x outside heap [%#x, %#x): %w", k, p, start, top, ErrFreeList))
				break
			}
			blk := p - format.BlockHeaderSize
			if tag := m.ReadU64(blk + format.BlockTagOffset); tag != format.BlockTagFree {
				errs = append(errs, fmt.Errorf("class %d: block %#x tag %#x: %w", k, p, tag, ErrFreeList))
				break
			}
			size := m.ReadU64(blk + format.BlockSizeOffset)
			if size < format.MinBlockSize || blk+size > top || a.table.classOf(int(size)) != k {
				errs = append(errs, fmt.Errorf("class %d: block %#x size %d: %w", k, p, size, ErrFreeList))
				break
			}
		}
	}
	return errors.Join(errs...)
}
