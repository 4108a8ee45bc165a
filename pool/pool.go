package pool

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/joshuapare/pheap/internal/format"
	"github.com/joshuapare/pheap/internal/logger"
	"github.com/joshuapare/pheap/pool/alloc"
	"github.com/joshuapare/pheap/pool/wal"
)

// registry holds every pool open in this process, keyed by absolute path.
var registry = xsync.NewMapOf[string, *Pool]()

// Pool is an open pool file.
//
// Update transactions are serialized; View transactions run concurrently
// with each other but never with an Update.
type Pool struct {
	path string
	size int64
	opts options

	mu     sync.RWMutex // Update (exclusive) vs View (shared)
	refs   int          // Open count, guarded by the registry entry
	closed bool

	f     *os.File
	data  []byte
	log   *wal.Log
	alloc *alloc.Allocator

	locks *xsync.MapOf[uint64, *sync.Mutex] // Volatile object locks

	id         uint64
	instanceID uint64

	faultAfter    atomic.Int64
	crashAfterLog bool  // Test hook: stop commits after the redo batch
	poisoned      error // Set when a durable batch could not be applied

	metrics *poolMetrics
}

// Open opens the pool file at path, creating it with the given size if it
// does not exist. A size of 0 opens an existing file at whatever size it has.
//
// Open is idempotent per process: opening a path that is already open returns
// the same *Pool and increments its open count. Each successful Open must be
// paired with a Close.
func Open(path string, size int64, opts ...Option) (*Pool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if size != 0 {
		size = int64(format.AlignPage(int(size)))
	}

	var openErr error
	p, _ := registry.Compute(abs, func(old *Pool, loaded bool) (*Pool, bool) {
		if loaded {
			if size != 0 && size != old.size {
				openErr = fmt.Errorf("%s is open with size %d, requested %d: %w", abs, old.size, size, ErrIncompatible)
				return old, false
			}
			old.refs++
			return old, false
		}
		np, err := openPool(abs, size, o)
		if err != nil {
			openErr = err
			return nil, true
		}
		np.refs = 1
		return np, false
	})
	if openErr != nil {
		return nil, openErr
	}
	return p, nil
}

func openPool(path string, size int64, o options) (*Pool, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	var (
		log  *wal.Log
		m    *poolMetrics
		data []byte
	)
	fail := func(err error) (*Pool, error) {
		if data != nil {
			_ = unmapRegion(data)
		}
		if log != nil {
			_ = log.Close()
		}
		if m != nil {
			m.unregister(path)
		}
		_ = unlockFile(f)
		_ = f.Close()
		return nil, err
	}

	a := alloc.New(o.classes)

	st, err := f.Stat()
	if err != nil {
		return fail(err)
	}
	if st.Size() == 0 {
		if err := create(f, size, a); err != nil {
			return fail(err)
		}
		logger.Info("created pool", "path", path, "size", size)
	} else if size != 0 && st.Size() != size {
		return fail(fmt.Errorf("%s has size %d, requested %d: %w", path, st.Size(), size, ErrIncompatible))
	}

	if log, err = wal.Open(path+".wal", o.flush); err != nil {
		return fail(err)
	}
	m = newPoolMetrics(o.metricsSet, path)

	// Replay a committed batch whose write-back may not have finished.
	lsn, replayed, err := log.Replay(func(off int64, b []byte) error {
		_, err := f.WriteAt(b, off)
		return err
	})
	switch {
	case err == nil && replayed:
		if err := f.Sync(); err != nil {
			return fail(err)
		}
		m.replays.Inc()
		logger.Info("replayed redo batch", "path", path, "lsn", lsn)
	case errors.Is(err, wal.ErrCorrupt):
		logger.Warn("discarding torn redo batch", "path", path, "lsn", lsn, "error", err)
	case err != nil:
		return fail(err)
	}
	if err := log.Reset(); err != nil {
		return fail(err)
	}

	if st, err = f.Stat(); err != nil {
		return fail(err)
	}
	if data, err = mapRegion(f, st.Size()); err != nil {
		return fail(err)
	}

	sb, err := validate(data, a)
	if err != nil {
		return fail(fmt.Errorf("%s: %w", path, err))
	}

	p := &Pool{
		path:       path,
		size:       st.Size(),
		opts:       o,
		f:          f,
		data:       data,
		log:        log,
		alloc:      a,
		locks:      xsync.NewMapOf[uint64, *sync.Mutex](),
		id:         sb.PoolID,
		instanceID: rand.Uint64(),
		metrics:    m,
	}
	m.allocated.Store(sb.Allocated)
	logger.Debug("opened pool", "path", path, "size", p.size, "seq", sb.PrimarySeq, "instance", p.instanceID)
	return p, nil
}

// create formats an empty file as a pool of the given size.
func create(f *os.File, size int64, a *alloc.Allocator) error {
	if size < format.MinPoolSize {
		return fmt.Errorf("size %d (minimum %d): %w", size, format.MinPoolSize, ErrPoolSize)
	}
	if err := f.Truncate(size); err != nil {
		return err
	}
	sb := make([]byte, format.SuperblockSize)
	format.PutSuperblock(sb, format.Superblock{
		PoolSize:   uint64(size),
		PoolID:     rand.Uint64(),
		HeapStart:  format.SuperblockSize,
		HeapTop:    format.SuperblockSize,
		HeapEnd:    uint64(size),
		Created:    time.Now().UnixNano(),
		NumClasses: uint32(a.NumClasses()),
	})
	if _, err := f.WriteAt(sb, 0); err != nil {
		return err
	}
	return f.Sync()
}

func validate(data []byte, a *alloc.Allocator) (format.Superblock, error) {
	sb, err := format.ParseSuperblock(data)
	if err != nil {
		return sb, err
	}
	if sb.PoolSize != uint64(len(data)) || sb.HeapEnd != sb.PoolSize {
		return sb, fmt.Errorf("superblock size %d, file %d: %w", sb.PoolSize, len(data), ErrIncompatible)
	}
	if sb.HeapStart != format.SuperblockSize || sb.HeapTop < sb.HeapStart || sb.HeapTop > sb.HeapEnd {
		return sb, fmt.Errorf("heap bounds [%#x %#x %#x]: %w", sb.HeapStart, sb.HeapTop, sb.HeapEnd, format.ErrTruncated)
	}
	if !sb.IsClean() {
		return sb, fmt.Errorf("sequence %d/%d: %w", sb.PrimarySeq, sb.SecondarySeq, ErrDirty)
	}
	if err := a.Validate(sb.NumClasses); err != nil {
		return sb, err
	}
	return sb, nil
}

// Close decrements the open count and releases the pool at zero.
func (p *Pool) Close() error {
	var closeErr error
	registry.Compute(p.path, func(old *Pool, loaded bool) (*Pool, bool) {
		if !loaded || old != p {
			closeErr = ErrClosed
			return old, !loaded
		}
		old.refs--
		if old.refs > 0 {
			return old, false
		}
		closeErr = old.release()
		return nil, true
	})
	return closeErr
}

func (p *Pool) release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true

	errs := []error{unmapRegion(p.data), p.log.Close(), unlockFile(p.f), p.f.Close()}
	p.data = nil
	p.metrics.unregister(p.path)
	logger.Debug("closed pool", "path", p.path)
	return errors.Join(errs...)
}

// OpenCount returns how many unpaired Opens reference this pool.
func (p *Pool) OpenCount() int {
	refs := 0
	registry.Compute(p.path, func(old *Pool, loaded bool) (*Pool, bool) {
		if loaded && old == p {
			refs = old.refs
		}
		return old, !loaded
	})
	return refs
}

// Path returns the absolute path of the pool file.
func (p *Pool) Path() string { return p.path }

// Size returns the pool size in bytes.
func (p *Pool) Size() int64 { return p.size }

// ID returns the persistent pool id assigned at creation.
func (p *Pool) ID() uint64 { return p.id }

// InstanceID returns a random id chosen on every open of the pool. Volatile
// objects that cache pool state compare it to detect a reopen.
func (p *Pool) InstanceID() uint64 { return p.instanceID }

// SetFaultAfter arms fault injection: the n-th logged write of the following
// transactions fails with ErrInjectedFault and aborts. n <= 0 disarms it.
func (p *Pool) SetFaultAfter(n int) {
	if n < 0 {
		n = 0
	}
	p.faultAfter.Store(int64(n))
}

// Stats reports pool occupancy.
type Stats struct {
	Path       string
	Size       int64
	ID         uint64
	InstanceID uint64
	Sequence   uint32
	Root       uint64
	Created    time.Time
	Commits    uint64
	Aborts     uint64
	alloc.Stats
}

// Stats reads the superblock and allocator state under a read transaction.
func (p *Pool) Stats() (Stats, error) {
	var st Stats
	err := p.View(func(tx *Tx) error {
		st = Stats{
			Path:       p.path,
			Size:       p.size,
			ID:         p.id,
			InstanceID: p.instanceID,
			Sequence:   tx.ReadU32(format.SBPrimarySeqOffset),
			Root:       tx.Root(),
			Created:    time.Unix(0, tx.ReadI64(format.SBCreatedOffset)),
			Commits:    p.metrics.commits.Get(),
			Aborts:     p.metrics.aborts.Get(),
			Stats:      p.alloc.Stats(tx),
		}
		return nil
	})
	return st, err
}
