package heap

import (
	"fmt"

	"github.com/joshuapare/pheap/internal/format"
)

// ByteArray is a fixed-length persistent byte sequence.
type ByteArray Ref

// NewByteArray creates a zeroed array of n bytes owned by the caller.
func (tx *Tx) NewByteArray(className string, n int) (ByteArray, error) {
	ref, err := tx.newByteArray(className, n)
	if err != nil {
		return 0, opError("new byte array", err)
	}
	return ByteArray(tx.adopt(ref)), nil
}

// NewByteArrayFrom creates an array holding a copy of b.
func (tx *Tx) NewByteArrayFrom(className string, b []byte) (ByteArray, error) {
	var a ByteArray
	err := tx.run(func() error {
		ref, err := tx.newByteArray(className, len(b))
		if err != nil {
			return err
		}
		tx.Write(ref.off()+format.ByteArrayDataOffset, b)
		a = ByteArray(tx.adopt(ref))
		return nil
	})
	return a, opError("new byte array", err)
}

func (tx *Tx) newByteArray(className string, n int) (Ref, error) {
	if n < 0 {
		return 0, fmt.Errorf("length %d: %w", n, ErrIndex)
	}
	var ref Ref
	err := tx.run(func() error {
		var err error
		ref, err = tx.newRecord(KindByteArray, className, format.ByteArrayDataOffset-format.HeaderSize+n, 0)
		if err != nil {
			return err
		}
		tx.PutU64(ref.off()+format.ByteArrayLenOffset, uint64(n))
		return nil
	})
	return ref, err
}

// arrayBytes returns the contents of the byte array at ref.
func (tx *Tx) arrayBytes(ref Ref) []byte {
	n := tx.ReadU64(ref.off() + format.ByteArrayLenOffset)
	return tx.Bytes(ref.off()+format.ByteArrayDataOffset, int(n))
}

// Ref returns the array as a plain reference.
func (a ByteArray) Ref() Ref { return Ref(a) }

func (a ByteArray) data() uint64 { return Ref(a).off() + format.ByteArrayDataOffset }

// Len returns the array length.
func (a ByteArray) Len(tx *Tx) int { return int(tx.ReadU64(Ref(a).off() + format.ByteArrayLenOffset)) }

// Bytes returns the array contents. The slice aliases the pool and is only
// valid inside tx; modify the array with WriteAt.
func (a ByteArray) Bytes(tx *Tx) []byte { return tx.arrayBytes(Ref(a)) }

// span validates [off, off+n) and returns its pool offset.
func (a ByteArray) span(tx *Tx, off, n int) (uint64, error) {
	if err := tx.check(Ref(a), KindByteArray); err != nil {
		return 0, err
	}
	if off < 0 || n < 0 || off+n > a.Len(tx) {
		return 0, fmt.Errorf("[%d, %d) of %d: %w", off, off+n, a.Len(tx), ErrIndex)
	}
	return Ref(a).off() + format.ByteArrayDataOffset + uint64(off), nil
}

// ReadAt returns a copy of n bytes at off.
func (a ByteArray) ReadAt(tx *Tx, off, n int) ([]byte, error) {
	p, err := a.span(tx, off, n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), tx.Bytes(p, n)...), nil
}

// WriteAt copies b to off.
func (a ByteArray) WriteAt(tx *Tx, off int, b []byte) error {
	p, err := a.span(tx, off, len(b))
	if err != nil {
		return err
	}
	tx.Write(p, b)
	return nil
}

// GetUint reads a little-endian integer of width bytes at off.
func (a ByteArray) GetUint(tx *Tx, off, width int) (uint64, error) {
	if err := checkWidth(width); err != nil {
		return 0, err
	}
	p, err := a.span(tx, off, width)
	if err != nil {
		return 0, err
	}
	v, _ := format.ReadUint(tx.Bytes(p, width), 0, width)
	return v, nil
}

// PutUint writes the low width bytes of v at off, little-endian.
func (a ByteArray) PutUint(tx *Tx, off, width int, v uint64) error {
	if err := checkWidth(width); err != nil {
		return err
	}
	p, err := a.span(tx, off, width)
	if err != nil {
		return err
	}
	tx.Write(p, encodeUint(width, v))
	return nil
}

func checkWidth(width int) error {
	switch width {
	case 1, 2, 4, 8:
		return nil
	}
	return fmt.Errorf("width %d: %w", width, ErrWidth)
}

func encodeUint(width int, v uint64) []byte {
	buf := make([]byte, width)
	format.PutUint(buf, 0, width, v)
	return buf
}

// Unchecked returns [off, off+n) of the array for direct writes. They are
// not rolled back and reach the pool file only through Persist.
func (a ByteArray) Unchecked(tx *Tx, off, n int) ([]byte, error) {
	p, err := a.span(tx, off, n)
	if err != nil {
		return nil, err
	}
	return tx.Tx.Unchecked(p, n), nil
}

// Persist includes [off, off+n) of the array in the commit.
func (a ByteArray) Persist(tx *Tx, off, n int) error {
	p, err := a.span(tx, off, n)
	if err != nil {
		return err
	}
	tx.Tx.Persist(p, n)
	return nil
}
