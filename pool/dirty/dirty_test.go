package dirty

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTracker_Alignment tests that ranges are widened to the granularity.
func TestTracker_Alignment(t *testing.T) {
	tr := NewTracker(8)
	tr.Add(13, 2)

	got := tr.Ranges()
	require.Len(t, got, 1)
	assert.Equal(t, Range{Off: 8, Len: 8}, got[0])
}

// TestTracker_CoalesceAdjacent tests that touching ranges merge.
func TestTracker_CoalesceAdjacent(t *testing.T) {
	tr := NewTracker(8)
	tr.Add(64, 8)
	tr.Add(72, 16)
	tr.Add(16, 8)

	got := tr.Ranges()
	require.Len(t, got, 2)
	assert.Equal(t, Range{Off: 16, Len: 8}, got[0])
	assert.Equal(t, Range{Off: 64, Len: 24}, got[1])
	assert.Equal(t, int64(32), tr.Bytes())
}

// TestTracker_CoalesceContained tests that a range inside another is absorbed.
func TestTracker_CoalesceContained(t *testing.T) {
	tr := NewTracker(0)
	tr.Add(0, 128)
	tr.Add(32, 8)

	got := tr.Ranges()
	require.Len(t, got, 1)
	assert.Equal(t, Range{Off: 0, Len: 128}, got[0])
}

// TestTracker_TruncateAndReset tests savepoint truncation.
func TestTracker_TruncateAndReset(t *testing.T) {
	tr := NewTracker(8)
	tr.Add(0, 8)
	mark := tr.Len()
	tr.Add(800, 8)
	tr.Add(0, 0)
	require.Equal(t, 2, tr.Len())

	tr.Truncate(mark)
	assert.Equal(t, []Range{{Off: 0, Len: 8}}, tr.Ranges())

	tr.Reset()
	assert.Nil(t, tr.Ranges())
}

// TestWriteBack tests that only dirty ranges reach the file.
func TestWriteBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool")
	require.NoError(t, os.WriteFile(path, make([]byte, 256), 0644))

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()

	image := make([]byte, 256)
	for i := range image {
		image[i] = 0xAB
	}

	tr := NewTracker(8)
	tr.Add(8, 8)
	tr.Add(200, 4)
	require.NoError(t, WriteBack(context.Background(), f, image, tr.Ranges(), FlushAuto))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, byte(0), got[0])
	assert.Equal(t, byte(0xAB), got[8])
	assert.Equal(t, byte(0xAB), got[15])
	assert.Equal(t, byte(0), got[16])
	assert.Equal(t, byte(0xAB), got[200])
	assert.Equal(t, byte(0xAB), got[207])
	assert.Equal(t, byte(0), got[208])
}

// TestWriteBack_Cancelled tests that a cancelled context stops before writing.
func TestWriteBack_Cancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool")
	require.NoError(t, os.WriteFile(path, make([]byte, 64), 0644))
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = WriteBack(ctx, f, make([]byte, 64), []Range{{Off: 0, Len: 8}}, FlushNone)
	require.ErrorIs(t, err, context.Canceled)
}
