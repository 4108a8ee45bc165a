package heap

import (
	"errors"

	"github.com/joshuapare/pheap/pool"
)

// Tx is a heap transaction: a pool transaction plus the heap it runs on.
// All record operations take a *Tx; refs read through a Tx are only
// meaningful while it runs.
type Tx struct {
	*pool.Tx
	h *Heap

	freed  map[uint64]struct{} // Records destroyed in this transaction
	marked int                 // Cycle candidates marked in this transaction
	failed bool                // The fatal handler already ran
}

func (h *Heap) newTx(ptx *pool.Tx) *Tx {
	return &Tx{Tx: ptx, h: h}
}

// Heap returns the heap the transaction runs on.
func (tx *Tx) Heap() *Heap { return tx.h }

// run executes fn as a nested transaction.
func (tx *Tx) run(fn func() error) error {
	return tx.Tx.Run(func(*pool.Tx) error { return fn() })
}

// fatal reports an unrecoverable error. If the handler returns, the
// transaction aborts with err. Injected faults only abort: they stand in
// for a crash, not for a damaged heap.
func (tx *Tx) fatal(err error) {
	if !tx.failed && !errors.Is(err, pool.ErrInjectedFault) {
		tx.failed = true
		tx.h.opts.onFatal(err)
	}
	tx.Abort(err)
}

func (tx *Tx) markFreed(ref Ref) {
	if tx.freed == nil {
		tx.freed = make(map[uint64]struct{})
	}
	tx.freed[uint64(ref)] = struct{}{}
}

func (tx *Tx) wasFreed(ref Ref) bool {
	_, ok := tx.freed[uint64(ref)]
	return ok
}
