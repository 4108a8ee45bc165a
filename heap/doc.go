// Package heap implements a persistent, reference-counted object heap on top
// of a pool.
//
// # Overview
//
// Every managed record starts with a fixed header: kind, reference count,
// collector color, candidate flag, child slot count, links into the object
// list and an optional class name. The record kinds are:
//
//   - SortedMap: a red-black tree keyed by records (package treemap)
//   - HashMap: a chained hash table keyed by integers (package hashmap)
//   - ByteArray: fixed-length bytes; strings are NFC byte arrays
//   - ByteBuffer: a cursor window over a shared ByteArray
//   - Long: an int64
//   - Aggregate: n reference fields
//
// # Opening a Heap
//
//	h, err := heap.Open("/var/lib/app/objects.pool", 64<<20)
//	if err != nil {
//	    return err
//	}
//	defer h.Close()
//
//	err = h.Update(func(tx *heap.Tx) error {
//	    m, err := tx.NewSortedMap("index")
//	    if err != nil {
//	        return err
//	    }
//	    defer tx.Release(m.Ref())
//	    return tx.PutNamed("index", m.Ref())
//	})
//
// # Ownership
//
// Constructors return a record whose single reference belongs to the
// caller and is registered in the liveness table as a volatile handle. End
// it with Tx.Release. Maps, aggregates and buffers take their own
// references to what they store. References read out of a container
// (Node.Key, Aggregate.Field, Tx.GetNamed) are borrowed and only valid
// inside the transaction unless retained with Tx.Retain.
//
// When a process exits without releasing its handles, the next Open returns
// the outstanding counts and clears the table.
//
// # Cycle Collection
//
// A DecRef that leaves a positive count marks the record as a cycle
// candidate. Tx.Collect (or Heap.Collect) runs synchronous trial deletion
// over the candidates and frees garbage cycles. Updates trigger a
// collection automatically once enough candidates accumulate; see
// WithCollectThreshold.
//
// # Failures
//
// Errors from map operations are returned as *OpError. Inconsistent
// counts, a damaged object list or an unknown kind are fatal: the handler
// set with WithOnFatal runs (by default the process exits) and the
// transaction rolls back.
package heap
