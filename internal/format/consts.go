// Package format houses the on-disk layout of a pool file: the superblock,
// allocator block headers, the managed record header, and the fixed layouts of
// the persistent collections. Offsets are relative to the start of the
// structure they describe; every multi-byte field is little-endian.
package format

// PoolMagic is the eight-byte signature at the start of every pool file.
var PoolMagic = []byte{'P', 'H', 'E', 'A', 'P', 'v', '0', '1'}

const (
	// LayoutVersion is bumped whenever any layout below changes.
	LayoutVersion = 1

	// PageSize is the size of the superblock and the unit the pool size is
	// rounded to.
	PageSize = 4096
	PageMask = PageSize - 1

	Align8Mask  = 7
	Align16Mask = 15

	// Null is the reserved "no object" offset.
	Null = 0
)

// Superblock layout (page 0).
//
//	Offset  Size  Description
//	------  ----  -------------------------------------------------
//	 0x000   8    "PHEAPv01"
//	 0x008   4    Layout version
//	 0x00C   4    Flags (reserved)
//	 0x010   8    Pool size in bytes
//	 0x018   8    Pool id (random, assigned at create)
//	 0x020   4    Primary sequence number
//	 0x024   4    Secondary sequence number
//	 0x028   8    Root record offset
//	 0x030   8    Heap start
//	 0x038   8    Bump pointer (first never-allocated byte)
//	 0x040   8    Heap end
//	 0x048   8    Creation time (unix nanoseconds)
//	 0x050   8    Allocated bytes (blocks in use, including headers)
//	 0x058   4    Number of allocator size classes
//	 0x05C   4    Reserved
//	 0x060   8*N  Free list heads, N = size classes + 1 (large list last)
const (
	SBMagicOffset        = 0x00
	SBVersionOffset      = 0x08
	SBFlagsOffset        = 0x0C
	SBPoolSizeOffset     = 0x10
	SBPoolIDOffset       = 0x18
	SBPrimarySeqOffset   = 0x20
	SBSecondarySeqOffset = 0x24
	SBRootOffset         = 0x28
	SBHeapStartOffset    = 0x30
	SBHeapTopOffset      = 0x38
	SBHeapEndOffset      = 0x40
	SBCreatedOffset      = 0x48
	SBAllocatedOffset    = 0x50
	SBNumClassesOffset   = 0x58
	SBFreeHeadsOffset    = 0x60

	// MaxSizeClasses bounds the free list head table stored in the superblock.
	MaxSizeClasses = 64

	SuperblockSize = PageSize

	// MinPoolSize leaves room for the superblock plus a usable heap.
	MinPoolSize = 64 * 1024
)

// Allocator block layout. Payload offsets handed out by the allocator point
// just past this header.
//
//	Offset  Size  Description
//	------  ----  -------------------------------------------------
//	 0x00    8    Block size including this header
//	 0x08    8    Tag (BlockTagUsed or BlockTagFree)
//	 0x10    8    Next free block payload (free blocks only)
const (
	BlockHeaderSize = 16
	BlockSizeOffset = 0x00
	BlockTagOffset  = 0x08
	BlockNextOffset = 0x00 // relative to payload

	// MinBlockSize is the smallest block the allocator creates or splits off.
	MinBlockSize = 32

	BlockTagUsed uint64 = 0xA110C8ED00000001
	BlockTagFree uint64 = 0xF4EEB10C00000002
)

// Managed record header. Child slots (u64 offsets) follow at HeaderSize.
//
//	Offset  Size  Description
//	------  ----  -------------------------------------------------
//	 0x00    4    Header version
//	 0x04    4    Reference count
//	 0x08    2    Kind
//	 0x0A    1    Collector color
//	 0x0B    1    Candidate flag
//	 0x0C    4    Field (child slot) count
//	 0x10    8    Previous record in the object list (older)
//	 0x18    8    Next record in the object list (newer)
//	 0x20    8    Class name blob offset (0 = none)
const (
	HeaderVersion = 1

	HdrVersionOffset    = 0x00
	HdrRefCountOffset   = 0x04
	HdrKindOffset       = 0x08
	HdrColorOffset      = 0x0A
	HdrCandidateOffset  = 0x0B
	HdrFieldCountOffset = 0x0C
	HdrPrevOffset       = 0x10
	HdrNextOffset       = 0x18
	HdrClassNameOffset  = 0x20

	HeaderSize = 0x28
	SlotSize   = 8
)

// Record bodies, relative to the record offset.
const (
	// Sorted map: header, tree core offset.
	SortedMapTreeOffset = HeaderSize
	SortedMapSize       = HeaderSize + 8

	// Hash map: header, table core offset.
	HashMapTableOffset = HeaderSize
	HashMapSize        = HeaderSize + 8

	// Byte array: header, length, bytes.
	ByteArrayLenOffset  = HeaderSize
	ByteArrayDataOffset = HeaderSize + 8

	// Byte buffer: header, array slot, position, limit, capacity, mark, start.
	ByteBufferArrayOffset    = HeaderSize
	ByteBufferPositionOffset = HeaderSize + 8
	ByteBufferLimitOffset    = HeaderSize + 12
	ByteBufferCapacityOffset = HeaderSize + 16
	ByteBufferMarkOffset     = HeaderSize + 20
	ByteBufferStartOffset    = HeaderSize + 24
	ByteBufferSize           = HeaderSize + 32

	// Long: header, value.
	LongValueOffset = HeaderSize
	LongSize        = HeaderSize + 8

	// Class name blob: length, bytes.
	NameLenOffset  = 0
	NameDataOffset = 4
)

// Root record.
const (
	RootDirectoryOffset = 0x00
	RootLivenessOffset  = 0x08
	RootNewestOffset    = 0x10
	RootSize            = 0x18
)

// Red-black tree core and node layouts.
const (
	TreeSentinelOffset = 0x00
	TreeRootOffset     = 0x08
	TreeSizeOffset     = 0x10
	TreeCoreSize       = 0x18

	NodeParentOffset = 0x00
	NodeLeftOffset   = 0x08
	NodeRightOffset  = 0x10
	NodeKeyOffset    = 0x18
	NodeValueOffset  = 0x20
	NodeColorOffset  = 0x28
	NodeSize         = 0x30
)

// Chained hash table core, bucket array and entry layouts.
const (
	HashSeedOffset     = 0x00
	HashAOffset        = 0x04
	HashBOffset        = 0x08
	HashFlagsOffset    = 0x0C
	HashPOffset        = 0x10
	HashCountOffset    = 0x18
	HashBucketsOffset  = 0x20
	HashInitSizeOffset = 0x28
	HashCoreSize       = 0x30

	HashFlagResizable = 1

	BucketsCountOffset = 0x00
	BucketsSlotsOffset = 0x08

	EntryKeyOffset   = 0x00
	EntryValueOffset = 0x08
	EntryNextOffset  = 0x10
	EntrySize        = 0x18
)
