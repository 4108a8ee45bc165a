package heap

import (
	"fmt"

	"github.com/joshuapare/pheap/internal/format"
)

// Aggregate is a record of n reference fields, each a record or null. The
// fields are the record's child slots, so the cycle collector sees them.
type Aggregate Ref

// NewAggregate creates an aggregate with n null fields, owned by the caller.
func (tx *Tx) NewAggregate(className string, n int) (Aggregate, error) {
	if n < 0 {
		return 0, opError("new aggregate", fmt.Errorf("%d fields: %w", n, ErrIndex))
	}
	var a Aggregate
	err := tx.run(func() error {
		ref, err := tx.newRecord(KindAggregate, className, n*format.SlotSize, n)
		if err != nil {
			return err
		}
		a = Aggregate(tx.adopt(ref))
		return nil
	})
	return a, opError("new aggregate", err)
}

// Ref returns the aggregate as a plain reference.
func (a Aggregate) Ref() Ref { return Ref(a) }

// FieldCount returns the number of fields.
func (a Aggregate) FieldCount(tx *Tx) int { return tx.FieldCount(Ref(a)) }

func (a Aggregate) index(tx *Tx, i int) error {
	if err := tx.check(Ref(a), KindAggregate); err != nil {
		return err
	}
	if n := a.FieldCount(tx); i < 0 || i >= n {
		return fmt.Errorf("field %d of %d: %w", i, n, ErrIndex)
	}
	return nil
}

// Field returns field i. The reference is borrowed from the aggregate.
func (a Aggregate) Field(tx *Tx, i int) (Ref, error) {
	if err := a.index(tx, i); err != nil {
		return 0, err
	}
	return tx.child(Ref(a), i), nil
}

// SetField stores v in field i, taking a reference to v and releasing the
// previous value.
func (a Aggregate) SetField(tx *Tx, i int, v Ref) error {
	return tx.run(func() error {
		if err := a.index(tx, i); err != nil {
			return err
		}
		if !v.IsNull() {
			if err := tx.check(v, KindInvalid); err != nil {
				return err
			}
		}
		tx.Lock(Ref(a).off())
		old := tx.child(Ref(a), i)
		if old == v {
			return nil
		}
		tx.IncRef(v, 1)
		tx.setChild(Ref(a), i, v)
		tx.DecRef(old, 1)
		return nil
	})
}
