package heap

import "github.com/joshuapare/pheap/internal/format"

// Long is an immutable persistent int64.
type Long Ref

// NewLong creates a long holding v, owned by the caller.
func (tx *Tx) NewLong(className string, v int64) (Long, error) {
	var l Long
	err := tx.run(func() error {
		ref, err := tx.newRecord(KindLong, className, format.LongSize-format.HeaderSize, 0)
		if err != nil {
			return err
		}
		tx.PutI64(ref.off()+format.LongValueOffset, v)
		l = Long(tx.adopt(ref))
		return nil
	})
	return l, opError("new long", err)
}

// Ref returns the long as a plain reference.
func (l Long) Ref() Ref { return Ref(l) }

// Value returns the stored integer.
func (l Long) Value(tx *Tx) int64 { return tx.ReadI64(Ref(l).off() + format.LongValueOffset) }
