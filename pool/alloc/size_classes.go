package alloc

import "slices"

// SizeClassConfig maps block sizes (header included) onto free lists. Sizes
// from Min up to LinearMax are split into classes Step bytes wide; above
// that each class doubles until Max. Blocks of Max bytes or more share the
// large list. The class count is recorded in the superblock, so a pool must
// be reopened with the configuration it was formatted with.
type SizeClassConfig struct {
	Min       int
	Step      int
	LinearMax int
	Max       int
}

// DefaultConfig gives tree nodes, hash entries and small records their own
// 32-byte classes (15 up to 512) and doubles from there to 16K (5 more).
var DefaultConfig = SizeClassConfig{
	Min:       32,
	Step:      32,
	LinearMax: 512,
	Max:       16384,
}

type sizeClassTable struct {
	upper      []int // inclusive upper size of each class, ascending
	numClasses int
}

func newSizeClassTable(cfg SizeClassConfig) *sizeClassTable {
	var upper []int
	size := cfg.Min
	for ; cfg.Step > 0 && size < cfg.LinearMax; size += cfg.Step {
		upper = append(upper, size+cfg.Step-1)
	}
	for size = max(size, cfg.Min); size > 0 && size < cfg.Max; size *= 2 {
		upper = append(upper, 2*size-1)
	}
	return &sizeClassTable{upper: upper, numClasses: len(upper)}
}

// classOf returns the free list index for a block of size bytes;
// numClasses names the large list.
func (t *sizeClassTable) classOf(size int) int {
	i, _ := slices.BinarySearch(t.upper, size)
	return i
}
