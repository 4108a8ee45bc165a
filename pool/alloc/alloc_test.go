package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/pheap/internal/format"
)

// sliceMem is an unlogged Mem over a plain byte slice.
type sliceMem []byte

func (s sliceMem) ReadU64(off uint64) uint64    { return format.ReadU64(s, int(off)) }
func (s sliceMem) PutU64(off uint64, v uint64) { format.PutU64(s, int(off), v) }
func (s sliceMem) Zero(off uint64, n int)      { clear(s[off : off+uint64(n)]) }

func newTestMem(t *testing.T, size int) (sliceMem, *Allocator) {
	t.Helper()
	m := make(sliceMem, size)
	a := New(DefaultConfig)
	format.PutSuperblock(m, format.Superblock{
		PoolSize:   uint64(size),
		HeapStart:  format.SuperblockSize,
		HeapTop:    format.SuperblockSize,
		HeapEnd:    uint64(size),
		NumClasses: uint32(a.NumClasses()),
	})
	return m, a
}

// TestSizeClasses tests the default class table boundaries.
func TestSizeClasses(t *testing.T) {
	tbl := newSizeClassTable(DefaultConfig)
	assert.Equal(t, 20, tbl.numClasses)
	assert.Equal(t, 0, tbl.classOf(32))
	assert.Equal(t, 0, tbl.classOf(63))
	assert.Equal(t, 1, tbl.classOf(64))
	assert.Equal(t, 14, tbl.classOf(511))
	assert.Equal(t, 15, tbl.classOf(512))
	assert.Equal(t, tbl.numClasses, tbl.classOf(16384))
}

// TestAlloc_Bump tests sequential bump allocation and alignment.
func TestAlloc_Bump(t *testing.T) {
	m, a := newTestMem(t, 64*1024)

	var prev uint64
	for i := 1; i <= 10; i++ {
		p, err := a.Alloc(m, i*7)
		require.NoError(t, err, "alloc %d", i)
		assert.Zero(t, p%16, "payload must be 16-byte aligned")
		assert.Greater(t, p, prev)
		n, err := a.UsableSize(m, p)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, i*7)
		prev = p
	}
	require.NoError(t, a.Validate(20))
}

// TestAlloc_FreeReuse tests that a freed block is handed out again, zeroed.
func TestAlloc_FreeReuse(t *testing.T) {
	m, a := newTestMem(t, 64*1024)

	p, err := a.Alloc(m, 40)
	require.NoError(t, err)
	m.PutU64(p+8, 0xDEADBEEF)
	require.NoError(t, a.Free(m, p))
	assert.False(t, a.IsAllocated(m, p))

	q, err := a.Alloc(m, 40)
	require.NoError(t, err)
	assert.Equal(t, p, q)
	assert.Zero(t, m.ReadU64(q+8), "recycled block must be zeroed")
}

// TestAlloc_Split tests that a large free block is split for a small request.
func TestAlloc_Split(t *testing.T) {
	m, a := newTestMem(t, 64*1024)

	big, err := a.Alloc(m, 4000)
	require.NoError(t, err)
	require.NoError(t, a.Free(m, big))

	small, err := a.Alloc(m, 100)
	require.NoError(t, err)
	assert.Equal(t, big, small)

	st := a.Stats(m)
	assert.Equal(t, 1, st.FreeCount, "remainder should be on a free list")
	assert.Equal(t, uint64(BlockSize(4000)-BlockSize(100)), st.FreeBytes)
}

// TestAlloc_Errors tests double free, bad refs, and exhaustion.
func TestAlloc_Errors(t *testing.T) {
	m, a := newTestMem(t, 16*1024)

	p, err := a.Alloc(m, 64)
	require.NoError(t, err)
	require.NoError(t, a.Free(m, p))
	require.ErrorIs(t, a.Free(m, p), ErrNotUsed)
	require.ErrorIs(t, a.Free(m, p+8), ErrBadRef)
	require.ErrorIs(t, a.Free(m, 0), ErrBadRef)

	_, err = a.Alloc(m, 0)
	require.ErrorIs(t, err, ErrBadSize)

	_, err = a.Alloc(m, 15*1024)
	require.ErrorIs(t, err, ErrNoSpace)

	require.ErrorIs(t, a.Validate(3), ErrClassMismatch)
}

// TestAlloc_Accounting tests the allocated-bytes counter.
func TestAlloc_Accounting(t *testing.T) {
	m, a := newTestMem(t, 64*1024)

	p1, err := a.Alloc(m, 24)
	require.NoError(t, err)
	p2, err := a.Alloc(m, 200)
	require.NoError(t, err)
	want := uint64(BlockSize(24) + BlockSize(200))
	assert.Equal(t, want, a.Stats(m).Allocated)

	require.NoError(t, a.Free(m, p1))
	require.NoError(t, a.Free(m, p2))
	assert.Zero(t, a.Stats(m).Allocated)
}

// TestAlloc_Check tests that Check accepts healthy free lists and reports
// links that leave the heap, name a used block or loop.
func TestAlloc_Check(t *testing.T) {
	m, a := newTestMem(t, 64*1024)

	var ps []uint64
	for range 4 {
		p, err := a.Alloc(m, 40)
		require.NoError(t, err)
		ps = append(ps, p)
	}
	require.NoError(t, a.Free(m, ps[0]))
	require.NoError(t, a.Free(m, ps[2]))
	require.NoError(t, a.Check(m))

	tests := []struct {
		name string
		link uint64
		want string
	}{
		{name: "outside heap", link: 0xfffffff0, want: "outside heap"},
		{name: "used block", link: ps[1], want: "tag"},
		{name: "loop", link: ps[2], want: "loops"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// ps[2] was freed last, so it heads the list and links to ps[0].
			saved := m.ReadU64(ps[2] + format.BlockNextOffset)
			t.Cleanup(func() { m.PutU64(ps[2]+format.BlockNextOffset, saved) })
			m.PutU64(ps[2]+format.BlockNextOffset, tt.link)

			err := a.Check(m)
			require.ErrorIs(t, err, ErrFreeList)
			assert.ErrorContains(t, err, tt.want)
		})
	}
	require.NoError(t, a.Check(m))
}
