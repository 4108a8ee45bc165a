// Package pool manages a crash-consistent, file-backed memory region.
//
// # Overview
//
// A pool is a single file mapped copy-on-write into the process. Data inside
// the pool is addressed by byte offset, which stays valid across restarts.
// The first page is the superblock; the rest is carved into blocks by the
// persistent allocator in pool/alloc.
//
// # Transactions
//
// All access happens inside a transaction:
//
//	err := p.Update(func(tx *pool.Tx) error {
//	    off, err := tx.Alloc(64)
//	    if err != nil {
//	        return err
//	    }
//	    tx.PutU64(off, 42)
//	    tx.SetRoot(off)
//	    return nil
//	})
//
// Update transactions are serialized and either commit completely or leave
// no trace. Nested transactions (Tx.Run) behave as savepoints: a failing
// inner closure undoes only its own writes.
//
// # Durability Protocol
//
//  1. Begin: PrimarySeq++ (logged like any other write)
//  2. Mutations record pre-images (undo, in memory) and dirty ranges
//  3. Commit: SecondarySeq = PrimarySeq, append the dirty ranges to the
//     redo log (<pool>.wal) and sync it
//  4. Write the ranges into the pool file, sync, reset the redo log
//
// On open, a complete redo batch is replayed; a torn batch is discarded.
//
// # Object Locks
//
// Tx.Lock provides per-object mutual exclusion keyed by offset. The mutexes
// are volatile (they live in a per-pool table, not in the file) and are
// released when the transaction ends.
package pool
