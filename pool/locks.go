package pool

import "sync"

// Lock acquires the volatile mutex identified by key (an object offset, by
// convention) for the rest of the transaction. It is re-entrant per
// transaction and reports whether this call acquired the mutex. Read-only
// transactions never lock: Update excludes them already.
//
// Callers that lock several keys must lock them in ascending order.
func (tx *Tx) Lock(key uint64) bool {
	if !tx.writable {
		return false
	}
	if _, ok := tx.held[key]; ok {
		return false
	}
	mu, _ := tx.p.locks.LoadOrCompute(key, func() *sync.Mutex { return new(sync.Mutex) })
	mu.Lock()
	tx.held[key] = mu
	return true
}

// Unlock releases a mutex acquired by Lock before the transaction ends.
func (tx *Tx) Unlock(key uint64) {
	if mu, ok := tx.held[key]; ok {
		delete(tx.held, key)
		mu.Unlock()
	}
}

// Holds reports whether the transaction holds the mutex for key.
func (tx *Tx) Holds(key uint64) bool {
	_, ok := tx.held[key]
	return ok
}

// Forget drops the mutex for key from the lock table when the transaction
// ends. Used when the object the key names is freed.
func (tx *Tx) Forget(key uint64) {
	if tx.writable {
		tx.forget = append(tx.forget, key)
	}
}
