package format

// Record payloads start on 8-byte boundaries so u64 slots are single loads.
// Allocator blocks are 16-byte aligned and the pool file is a whole number of
// pages.

func alignUp(n, mask int) int { return (n + mask) &^ mask }

// Align8 rounds n up to a multiple of 8.
func Align8(n int) int { return alignUp(n, Align8Mask) }

// Align16 rounds n up to a multiple of 16.
func Align16(n int) int { return alignUp(n, Align16Mask) }

// AlignPage rounds n up to a multiple of PageSize.
func AlignPage(n int) int { return alignUp(n, PageMask) }
