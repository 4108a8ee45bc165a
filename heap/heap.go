package heap

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/joshuapare/pheap/hashmap"
	"github.com/joshuapare/pheap/internal/format"
	"github.com/joshuapare/pheap/internal/logger"
	"github.com/joshuapare/pheap/pool"
)

// heaps holds the open heaps of this process keyed by pool path.
var heaps = xsync.NewMapOf[string, *Heap]()

// Heap is an open persistent object heap.
type Heap struct {
	p       *pool.Pool
	opts    options
	metrics *heapMetrics

	root     uint64      // Root record offset
	liveness hashmap.Map // Volatile handle counts
	refs     int         // Guarded by the heaps registry entry

	pending atomic.Int64 // Cycle candidates marked since the last collection
}

// Open opens the heap stored in the pool file at path, creating the pool and
// the root record if needed. Opening a path that is already open returns the
// same *Heap; options of later calls are ignored.
//
// The first open in a process applies every volatile handle count left in
// the liveness table by a previous process as a decrement, then clears it.
func Open(path string, size int64, opts ...Option) (*Heap, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	p, err := pool.Open(path, size, o.pool...)
	if err != nil {
		return nil, fmt.Errorf("open heap: %w", err)
	}

	var openErr error
	h, _ := heaps.Compute(p.Path(), func(old *Heap, loaded bool) (*Heap, bool) {
		if loaded {
			old.refs++
			return old, false
		}
		h := &Heap{p: p, opts: o, refs: 1, metrics: newHeapMetrics(o.metrics, p.Path())}
		if openErr = h.init(); openErr != nil {
			h.metrics.unregister()
			return nil, true
		}
		return h, false
	})
	if openErr != nil {
		_ = p.Close()
		return nil, fmt.Errorf("open heap %s: %w", path, openErr)
	}
	return h, nil
}

// MustOpen is Open with the fatal failure policy: an error is reported
// through the fatal handler.
func MustOpen(path string, size int64, opts ...Option) *Heap {
	h, err := Open(path, size, opts...)
	if err != nil {
		o := defaultOptions()
		for _, opt := range opts {
			opt(&o)
		}
		o.onFatal(err)
	}
	return h
}

// init creates the root record on first use and sweeps stale handles.
func (h *Heap) init() error {
	var swept, handles int
	err := h.p.Update(func(ptx *pool.Tx) error {
		tx := h.newTx(ptx)
		if ptx.Root() == format.Null {
			if err := tx.createRoot(); err != nil {
				return err
			}
		}
		h.root = ptx.Root()
		h.liveness = hashmap.Map(ptx.ReadU64(h.root + format.RootLivenessOffset))

		var stale []struct{ ref, n uint64 }
		_ = h.liveness.ForEach(ptx, func(k, v uint64) error {
			stale = append(stale, struct{ ref, n uint64 }{k, v})
			return nil
		})
		for _, e := range stale {
			tx.DecRef(Ref(e.ref), uint32(e.n))
			handles += int(e.n)
		}
		swept = len(stale)
		if swept == 0 {
			return nil
		}
		return h.liveness.Clear(ptx)
	})
	if err != nil {
		return err
	}
	logger.Info("heap opened", "path", h.p.Path(), "instance", h.p.InstanceID(),
		"stale_objects", swept, "stale_handles", handles)
	return nil
}

// createRoot allocates the root record, the directory map and the liveness
// table.
func (tx *Tx) createRoot() error {
	root, err := tx.Alloc(format.RootSize)
	if err != nil {
		return err
	}
	tx.SetRoot(root)
	tx.h.root = root

	live, err := hashmap.New(tx.Tx, 0, true, 0)
	if err != nil {
		return err
	}
	tx.PutU64(root+format.RootLivenessOffset, uint64(live))

	dir, err := tx.newSortedMap("")
	if err != nil {
		return err
	}
	tx.PutU64(root+format.RootDirectoryOffset, uint64(dir))
	logger.Debug("heap root created", "root", root, "directory", uint64(dir))
	return nil
}

// Close drops one reference to the heap and closes the pool with it.
func (h *Heap) Close() error {
	last := false
	heaps.Compute(h.p.Path(), func(old *Heap, loaded bool) (*Heap, bool) {
		if !loaded || old != h {
			return old, !loaded
		}
		h.refs--
		if h.refs > 0 {
			return h, false
		}
		last = true
		return nil, true
	})
	if last {
		h.metrics.unregister()
	}
	return h.p.Close()
}

// Pool returns the underlying pool.
func (h *Heap) Pool() *pool.Pool { return h.p }

// Root returns the root record offset.
func (h *Heap) Root() uint64 { return h.root }

// Update runs fn in a durable read-write transaction. After it commits, a
// collection runs if enough cycle candidates have accumulated.
func (h *Heap) Update(fn func(*Tx) error) error {
	return h.UpdateContext(context.Background(), fn)
}

// UpdateContext is Update with a context.
func (h *Heap) UpdateContext(ctx context.Context, fn func(*Tx) error) error {
	var marked int
	err := h.p.UpdateContext(ctx, func(ptx *pool.Tx) error {
		tx := h.newTx(ptx)
		if err := fn(tx); err != nil {
			return err
		}
		marked = tx.marked
		return nil
	})
	if err != nil {
		return err
	}
	if marked == 0 {
		return nil
	}
	n := h.pending.Add(int64(marked))
	if t := h.opts.collectThreshold; t > 0 && n >= int64(t) {
		if _, err := h.Collect(); err != nil {
			logger.Warn("automatic collection failed", "path", h.p.Path(), "error", err)
		}
	}
	return nil
}

// View runs fn in a read-only transaction.
func (h *Heap) View(fn func(*Tx) error) error {
	return h.p.View(func(ptx *pool.Tx) error {
		return fn(h.newTx(ptx))
	})
}

// Collect runs the cycle collector in its own transaction.
func (h *Heap) Collect() (CollectStats, error) {
	var st CollectStats
	err := h.p.Update(func(ptx *pool.Tx) error {
		var err error
		st, err = h.newTx(ptx).Collect()
		return err
	})
	if err != nil {
		return CollectStats{}, err
	}
	h.pending.Store(0)
	logger.Debug("collection finished", "path", h.p.Path(),
		"candidates", st.Candidates, "collected", st.Collected)
	return st, nil
}

// Directory returns the root sorted map used for named objects.
func (tx *Tx) Directory() SortedMap {
	return SortedMap(tx.ReadU64(tx.h.root + format.RootDirectoryOffset))
}
