//go:build linux || freebsd

package dirty

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// pwrite writes b at off, retrying short writes.
func pwrite(f *os.File, b []byte, off int64) error {
	fd := int(f.Fd())
	for len(b) > 0 {
		n, err := unix.Pwrite(fd, b, off)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		b = b[n:]
		off += int64(n)
	}
	return nil
}

// fdatasync performs file descriptor sync.
//
// On Linux/FreeBSD, fdatasync() provides sufficient guarantees; full selects
// fsync() so that metadata such as the file size is flushed too.
func fdatasync(f *os.File, full bool) error {
	if full {
		return unix.Fsync(int(f.Fd()))
	}
	return unix.Fdatasync(int(f.Fd()))
}
