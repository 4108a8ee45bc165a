//go:build !linux && !freebsd && !darwin

package dirty

import "os"

func pwrite(f *os.File, b []byte, off int64) error {
	_, err := f.WriteAt(b, off)
	return err
}

func fdatasync(f *os.File, _ bool) error {
	return f.Sync()
}
