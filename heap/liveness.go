package heap

import "fmt"

// RegisterVolatileHandle records that an in-process handle references ref.
// The count is persisted so the next process to open the heap can return
// the references of handles that never got released.
func (tx *Tx) RegisterVolatileHandle(ref Ref) {
	if ref.IsNull() {
		return
	}
	live := tx.h.liveness
	tx.Lock(uint64(live))
	n, _ := live.Get(tx.Tx, ref.off())
	if _, _, err := live.Insert(tx.Tx, ref.off(), n+1); err != nil {
		tx.fatal(fmt.Errorf("register handle %#x: %w", ref.off(), err))
	}
}

// ReleaseVolatileHandle drops one handle count of ref. Releasing a handle
// that was never registered is fatal.
func (tx *Tx) ReleaseVolatileHandle(ref Ref) {
	if ref.IsNull() {
		return
	}
	live := tx.h.liveness
	tx.Lock(uint64(live))
	n, ok := live.Get(tx.Tx, ref.off())
	if !ok || n == 0 {
		tx.fatal(fmt.Errorf("release handle %#x: %w", ref.off(), ErrNoHandle))
	}
	var err error
	if n == 1 {
		_, _, err = live.Remove(tx.Tx, ref.off())
	} else {
		_, _, err = live.Insert(tx.Tx, ref.off(), n-1)
	}
	if err != nil {
		tx.fatal(fmt.Errorf("release handle %#x: %w", ref.off(), err))
	}
}

// Retain takes a strong reference to ref on behalf of an in-process
// handle.
func (tx *Tx) Retain(ref Ref) {
	tx.IncRef(ref, 1)
	tx.RegisterVolatileHandle(ref)
}

// Release ends a handle taken by Retain or handed out by a constructor.
func (tx *Tx) Release(ref Ref) {
	tx.ReleaseVolatileHandle(ref)
	tx.DecRef(ref, 1)
}

// adopt registers the reference a constructor hands to its caller.
func (tx *Tx) adopt(ref Ref) Ref {
	tx.RegisterVolatileHandle(ref)
	return ref
}

// LiveHandles returns the number of registered handles of ref.
func (tx *Tx) LiveHandles(ref Ref) uint64 {
	n, _ := tx.h.liveness.Get(tx.Tx, ref.off())
	return n
}

// Reconstruct retains ref and hands it to the registered Reconstructor.
// The reference belongs to the returned value; end it with Release.
func (tx *Tx) Reconstruct(ref Ref) (any, error) {
	fn := tx.h.opts.reconstruct
	if fn == nil {
		return nil, ErrNoReconstructor
	}
	if err := tx.check(ref, KindInvalid); err != nil {
		return nil, opError("reconstruct", err)
	}
	tx.Retain(ref)
	v, err := fn(ref, tx.Kind(ref), tx.ClassName(ref))
	if err != nil {
		tx.Release(ref)
		return nil, opError("reconstruct", err)
	}
	return v, nil
}

// Reconstruct runs Tx.Reconstruct in its own transaction.
func (h *Heap) Reconstruct(ref Ref) (any, error) {
	var v any
	err := h.Update(func(tx *Tx) error {
		var err error
		v, err = tx.Reconstruct(ref)
		return err
	})
	return v, err
}
