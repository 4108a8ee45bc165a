package format

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuperblock_RoundTrip(t *testing.T) {
	b := make([]byte, SuperblockSize)
	PutSuperblock(b, Superblock{
		PoolSize:   1 << 20,
		PoolID:     42,
		Root:       0x2000,
		HeapStart:  SuperblockSize,
		HeapTop:    SuperblockSize,
		HeapEnd:    1 << 20,
		NumClasses: 20,
	})

	sb, err := ParseSuperblock(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(LayoutVersion), sb.Version)
	assert.Equal(t, uint64(1<<20), sb.PoolSize)
	assert.Equal(t, uint64(42), sb.PoolID)
	assert.Equal(t, uint64(0x2000), sb.Root)
	assert.Equal(t, uint32(20), sb.NumClasses)
	assert.True(t, sb.IsClean())
}

func TestSuperblock_Errors(t *testing.T) {
	_, err := ParseSuperblock(make([]byte, 16))
	require.True(t, errors.Is(err, ErrTruncated))

	_, err = ParseSuperblock(make([]byte, SuperblockSize))
	require.True(t, errors.Is(err, ErrSignatureMismatch))

	b := make([]byte, SuperblockSize)
	PutSuperblock(b, Superblock{})
	PutU32(b, SBVersionOffset, 99)
	_, err = ParseSuperblock(b)
	require.True(t, errors.Is(err, ErrUnsupported))
}

func TestAlign(t *testing.T) {
	tests := []struct {
		n, a8, a16, page int
	}{
		{1, 8, 16, 4096},
		{8, 8, 16, 4096},
		{9, 16, 16, 4096},
		{17, 24, 32, 4096},
		{4097, 4104, 4112, 8192},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.a8, Align8(tt.n), "Align8(%d)", tt.n)
		assert.Equal(t, tt.a16, Align16(tt.n), "Align16(%d)", tt.n)
		assert.Equal(t, tt.page, AlignPage(tt.n), "AlignPage(%d)", tt.n)
	}
}

func TestUintWidths(t *testing.T) {
	b := make([]byte, 16)
	for _, w := range []int{1, 2, 4, 8} {
		require.True(t, PutUint(b, 3, w, 0xFEDCBA9876543210))
		v, ok := ReadUint(b, 3, w)
		require.True(t, ok)
		mask := uint64(1)<<(8*w) - 1
		if w == 8 {
			mask = ^uint64(0)
		}
		assert.Equal(t, uint64(0xFEDCBA9876543210)&mask, v, "width %d", w)
	}
	assert.False(t, PutUint(b, 0, 3, 1))
	_, ok := ReadUint(b, 0, 5)
	assert.False(t, ok)
}
