//go:build linux || darwin || freebsd

package pool

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mapRegion maps the pool file copy-on-write. Stores land in private pages
// and reach the file only through the commit write-back, so an aborted or
// crashed transaction never touches the file.
func mapRegion(f *os.File, size int64) ([]byte, error) {
	if size > int64(^uint(0)>>1) {
		return nil, fmt.Errorf("pool: file too large to map (%d bytes)", size)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("pool: mmap failed: %w", err)
	}
	return data, nil
}

func unmapRegion(data []byte) error {
	if data == nil {
		return nil
	}
	err := unix.Munmap(data)
	if errors.Is(err, unix.EINVAL) {
		// Treat double-unmap as no-op for callers.
		return nil
	}
	return err
}

// lockFile takes an exclusive advisory lock so a second process cannot map
// the same pool.
func lockFile(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return ErrLocked
		}
		return fmt.Errorf("pool: flock: %w", err)
	}
	return nil
}

func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
