//go:build !linux && !darwin && !freebsd

package pool

import (
	"io"
	"os"
)

// mapRegion loads the pool into memory on platforms without mmap support.
// Commits write back through the file exactly as on unix.
func mapRegion(f *os.File, size int64) ([]byte, error) {
	data := make([]byte, size)
	if _, err := f.ReadAt(data, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return data, nil
}

func unmapRegion([]byte) error { return nil }

func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) error { return nil }
