// Package dirty tracks the byte ranges of a pool mapping modified by a
// transaction and writes them back to the pool file at commit.
//
// Ranges are recorded raw as writes happen and widened to word granularity,
// sorted and merged only when the commit asks for them.
package dirty

import (
	"cmp"
	"context"
	"os"
	"slices"
)

const (
	initialRanges = 64

	// DefaultGranularity rounds ranges to 8-byte words. Every pool field is
	// word aligned, so nothing smaller is ever useful.
	DefaultGranularity = 8
)

// FlushMode controls durability guarantees for transaction commits.
type FlushMode int

const (
	// FlushAuto writes ranges and calls fdatasync() (fsync on macOS).
	FlushAuto FlushMode = iota

	// FlushNone writes ranges but never syncs. Data survives a process
	// crash but not a power loss. Intended for tests and bulk loads.
	FlushNone

	// FlushFull writes ranges and calls fsync(), using F_FULLFSYNC on macOS.
	// Use this for power-loss sensitive workflows.
	FlushFull
)

// Range is a span of pool offsets [Off, Off+Len).
type Range struct {
	Off int64
	Len int64
}

// End returns the first offset past the range.
func (r Range) End() int64 { return r.Off + r.Len }

// Tracker accumulates the ranges written by one transaction. It is owned by
// that transaction and not safe for concurrent use.
type Tracker struct {
	ranges []Range
	gran   int64
}

// NewTracker creates a tracker that aligns ranges to granularity bytes.
// A granularity <= 0 selects DefaultGranularity.
func NewTracker(granularity int) *Tracker {
	if granularity <= 0 {
		granularity = DefaultGranularity
	}
	return &Tracker{
		ranges: make([]Range, 0, initialRanges),
		gran:   int64(granularity),
	}
}

// Add records a dirty range. Zero-length ranges are ignored.
func (t *Tracker) Add(off, length int) {
	if length <= 0 {
		return
	}
	t.ranges = append(t.ranges, Range{Off: int64(off), Len: int64(length)})
}

// Len returns the number of raw (uncoalesced) ranges recorded.
func (t *Tracker) Len() int { return len(t.ranges) }

// Truncate drops ranges recorded after the first n. Used to forget the
// writes of a rolled back savepoint.
func (t *Tracker) Truncate(n int) {
	if n < len(t.ranges) {
		t.ranges = t.ranges[:n]
	}
}

// Reset clears all tracked ranges.
func (t *Tracker) Reset() {
	t.ranges = t.ranges[:0]
}

// Ranges returns the coalesced dirty ranges: aligned, sorted, and merged.
func (t *Tracker) Ranges() []Range {
	return t.coalesce()
}

// Bytes returns the number of bytes covered by the coalesced ranges.
func (t *Tracker) Bytes() int64 {
	var n int64
	for _, r := range t.coalesce() {
		n += r.Len
	}
	return n
}

// coalesce widens every range to the granularity, then merges ranges that
// overlap or touch. The result is sorted and does not alias t.ranges.
func (t *Tracker) coalesce() []Range {
	if len(t.ranges) == 0 {
		return nil
	}
	g := t.gran
	out := make([]Range, 0, len(t.ranges))
	for _, r := range t.ranges {
		lo := r.Off - r.Off%g
		hi := (r.End() + g - 1) / g * g
		out = append(out, Range{Off: lo, Len: hi - lo})
	}
	slices.SortFunc(out, func(a, b Range) int { return cmp.Compare(a.Off, b.Off) })

	n := 0
	for _, r := range out[1:] {
		if last := &out[n]; r.Off <= last.End() {
			last.Len = max(last.End(), r.End()) - last.Off
			continue
		}
		n++
		out[n] = r
	}
	return out[:n+1]
}

// WriteBack copies every range of data (the pool image) into f and syncs
// according to mode.
//
// The context is checked between ranges. If cancelled mid-way, some ranges
// may have been written while others have not; the redo log covers that case.
func WriteBack(ctx context.Context, f *os.File, data []byte, ranges []Range, mode FlushMode) error {
	for _, r := range ranges {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := r.End()
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		if r.Off >= end {
			continue
		}
		if err := pwrite(f, data[r.Off:end], r.Off); err != nil {
			return err
		}
	}

	if mode == FlushNone {
		return nil
	}
	return fdatasync(f, mode == FlushFull)
}
