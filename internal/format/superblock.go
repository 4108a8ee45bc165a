package format

import (
	"bytes"
	"fmt"
)

// Superblock captures the fields of page 0 that are read on open. See the
// layout table in consts.go.
type Superblock struct {
	Version      uint32
	PoolSize     uint64
	PoolID       uint64
	PrimarySeq   uint32
	SecondarySeq uint32
	Root         uint64
	HeapStart    uint64
	HeapTop      uint64
	HeapEnd      uint64
	Created      int64
	Allocated    uint64
	NumClasses   uint32
}

// ParseSuperblock validates the magic and version and extracts the fields.
func ParseSuperblock(b []byte) (Superblock, error) {
	if len(b) < SuperblockSize {
		return Superblock{}, fmt.Errorf("superblock: %w", ErrTruncated)
	}
	if !bytes.Equal(b[SBMagicOffset:SBMagicOffset+len(PoolMagic)], PoolMagic) {
		return Superblock{}, fmt.Errorf("superblock: %w", ErrSignatureMismatch)
	}
	sb := Superblock{
		Version:      ReadU32(b, SBVersionOffset),
		PoolSize:     ReadU64(b, SBPoolSizeOffset),
		PoolID:       ReadU64(b, SBPoolIDOffset),
		PrimarySeq:   ReadU32(b, SBPrimarySeqOffset),
		SecondarySeq: ReadU32(b, SBSecondarySeqOffset),
		Root:         ReadU64(b, SBRootOffset),
		HeapStart:    ReadU64(b, SBHeapStartOffset),
		HeapTop:      ReadU64(b, SBHeapTopOffset),
		HeapEnd:      ReadU64(b, SBHeapEndOffset),
		Created:      ReadI64(b, SBCreatedOffset),
		Allocated:    ReadU64(b, SBAllocatedOffset),
		NumClasses:   ReadU32(b, SBNumClassesOffset),
	}
	if sb.Version != LayoutVersion {
		return sb, fmt.Errorf("superblock version %d: %w", sb.Version, ErrUnsupported)
	}
	return sb, nil
}

// PutSuperblock writes a fresh superblock into b. Free list heads are zeroed.
func PutSuperblock(b []byte, sb Superblock) {
	clear(b[:SuperblockSize])
	copy(b[SBMagicOffset:], PoolMagic)
	PutU32(b, SBVersionOffset, LayoutVersion)
	PutU64(b, SBPoolSizeOffset, sb.PoolSize)
	PutU64(b, SBPoolIDOffset, sb.PoolID)
	PutU32(b, SBPrimarySeqOffset, sb.PrimarySeq)
	PutU32(b, SBSecondarySeqOffset, sb.SecondarySeq)
	PutU64(b, SBRootOffset, sb.Root)
	PutU64(b, SBHeapStartOffset, sb.HeapStart)
	PutU64(b, SBHeapTopOffset, sb.HeapTop)
	PutU64(b, SBHeapEndOffset, sb.HeapEnd)
	PutI64(b, SBCreatedOffset, sb.Created)
	PutU64(b, SBAllocatedOffset, sb.Allocated)
	PutU32(b, SBNumClassesOffset, sb.NumClasses)
}

// IsClean reports whether the last transaction that bumped the primary
// sequence number also completed its commit.
func (sb Superblock) IsClean() bool {
	return sb.PrimarySeq == sb.SecondarySeq
}

// FreeHeadOffset returns the superblock offset of the free list head for
// size class c (c == NumClasses is the large list).
func FreeHeadOffset(c int) int {
	return SBFreeHeadsOffset + c*8
}
