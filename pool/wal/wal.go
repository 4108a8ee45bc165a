// Package wal implements the redo log that makes pool commits atomic.
//
// A commit appends exactly one batch record describing every byte range the
// transaction changed, syncs the log, writes the ranges into the pool file,
// and truncates the log. On open, a complete batch left in the log is replayed
// into the pool file; a torn or corrupt batch is discarded because the pool
// file was never touched for it.
//
// Log file
//
//	────────────────────────────────────────────
//	| LSN (8) | LEN (4) | CRC (4) | DATA (LEN) |
//	────────────────────────────────────────────
//
// DATA is a sequence of ranges:
//
//	| OFF (8) | N (4) | BYTES (N) |
//
// The CRC is CRC-32C over the LSN and DATA.
package wal

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/joshuapare/pheap/internal/format"
	"github.com/joshuapare/pheap/pool/dirty"
)

const (
	// RecordHeaderSize is the LSN + LEN + CRC prefix.
	RecordHeaderSize = 16
	rangeHeaderSize  = 12
)

var (
	// ErrCorrupt indicates a batch whose framing or checksum is invalid.
	ErrCorrupt = errors.New("wal: corrupt batch")

	castagnoli = crc32.MakeTable(crc32.Castagnoli)
)

// Log is the redo log sidecar of one pool file.
//
// NOT thread-safe. The pool serializes commits.
type Log struct {
	f    *os.File
	path string
	mode dirty.FlushMode
	buf  []byte
}

// Open opens or creates the log at path.
func Open(path string, mode dirty.FlushMode) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	return &Log{f: f, path: path, mode: mode}, nil
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

// Append writes one batch covering ranges of image and syncs it. When Append
// returns nil the batch is durable and will be replayed after a crash.
func (l *Log) Append(ctx context.Context, lsn uint64, ranges []dirty.Range, image []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	size := RecordHeaderSize
	for _, r := range ranges {
		size += rangeHeaderSize + int(r.Len)
	}
	if cap(l.buf) < size {
		l.buf = make([]byte, size)
	}
	buf := l.buf[:size]

	p := RecordHeaderSize
	for _, r := range ranges {
		format.PutU64(buf, p, uint64(r.Off))
		format.PutU32(buf, p+8, uint32(r.Len))
		p += rangeHeaderSize
		p += copy(buf[p:], image[r.Off:r.End()])
	}
	format.PutU64(buf, 0, lsn)
	format.PutU32(buf, 8, uint32(size-RecordHeaderSize))
	format.PutU32(buf, 12, checksum(lsn, buf[RecordHeaderSize:]))

	if err := l.f.Truncate(0); err != nil {
		return 0, fmt.Errorf("wal: truncate: %w", err)
	}
	if _, err := l.f.WriteAt(buf, 0); err != nil {
		return 0, fmt.Errorf("wal: write batch %d: %w", lsn, err)
	}
	if l.mode != dirty.FlushNone {
		if err := l.f.Sync(); err != nil {
			return 0, fmt.Errorf("wal: sync batch %d: %w", lsn, err)
		}
	}
	return size, nil
}

// Reset discards the log contents after a batch has been applied.
func (l *Log) Reset() error {
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("wal: reset: %w", err)
	}
	return nil
}

// Replay reads the batch left in the log, if any, and hands every range to
// apply in log order. A torn or corrupt batch is reported as ErrCorrupt
// without calling apply.
func (l *Log) Replay(apply func(off int64, b []byte) error) (lsn uint64, ok bool, err error) {
	st, err := l.f.Stat()
	if err != nil {
		return 0, false, err
	}
	if st.Size() == 0 {
		return 0, false, nil
	}
	if st.Size() < RecordHeaderSize {
		return 0, false, fmt.Errorf("wal: short header: %w", ErrCorrupt)
	}

	hdr := make([]byte, RecordHeaderSize)
	if _, err := l.f.ReadAt(hdr, 0); err != nil {
		return 0, false, err
	}
	lsn = format.ReadU64(hdr, 0)
	n := int64(format.ReadU32(hdr, 8))
	crc := format.ReadU32(hdr, 12)
	if RecordHeaderSize+n > st.Size() {
		return lsn, false, fmt.Errorf("wal: batch %d torn: %w", lsn, ErrCorrupt)
	}

	data := make([]byte, n)
	if _, err := l.f.ReadAt(data, RecordHeaderSize); err != nil && !errors.Is(err, io.EOF) {
		return lsn, false, err
	}
	if checksum(lsn, data) != crc {
		return lsn, false, fmt.Errorf("wal: batch %d checksum: %w", lsn, ErrCorrupt)
	}

	// Validate framing before applying anything.
	for p := 0; p < len(data); {
		if p+rangeHeaderSize > len(data) {
			return lsn, false, fmt.Errorf("wal: batch %d range header: %w", lsn, ErrCorrupt)
		}
		rl := int(format.ReadU32(data, p+8))
		p += rangeHeaderSize + rl
		if p > len(data) {
			return lsn, false, fmt.Errorf("wal: batch %d range body: %w", lsn, ErrCorrupt)
		}
	}
	for p := 0; p < len(data); {
		off := int64(format.ReadU64(data, p))
		rl := int(format.ReadU32(data, p+8))
		p += rangeHeaderSize
		if err := apply(off, data[p:p+rl]); err != nil {
			return lsn, false, err
		}
		p += rl
	}
	return lsn, true, nil
}

// Close closes the log file.
func (l *Log) Close() error {
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

func checksum(lsn uint64, data []byte) uint32 {
	var b [8]byte
	format.PutU64(b[:], 0, lsn)
	c := crc32.Update(0, castagnoli, b[:])
	return crc32.Update(c, castagnoli, data)
}
