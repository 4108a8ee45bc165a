package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/joshuapare/pheap/internal/format"
	"github.com/joshuapare/pheap/internal/logger"
	"github.com/joshuapare/pheap/pool/dirty"
)

// Tx is a pool transaction.
//
// Every mutation goes through the logged accessors (PutU64, Write, Zero, ...),
// which save the pre-image of the bytes before changing them. Rolling back a
// transaction, or a nested Run, restores those pre-images in reverse order.
// Committed transactions write their dirty ranges through the redo log.
//
// A Tx must only be used by the goroutine running its closure.
type Tx struct {
	p        *Pool
	ctx      context.Context
	data     []byte
	writable bool

	undo  []undoEntry
	arena []byte // Pre-image bytes referenced by undo
	dirty *dirty.Tracker

	held   map[uint64]*sync.Mutex
	forget []uint64
	seq    uint32

	onCommit []func()
}

type undoEntry struct {
	off   uint64
	start int // Offset of the pre-image in arena
	n     int
}

// savepoint marks the state a nested Run rolls back to.
type savepoint struct {
	undo  int
	arena int
	dirty int
	hooks int
}

// txAbort carries an error out of a logged accessor to the enclosing Run.
type txAbort struct{ err error }

// Update runs fn in a read-write transaction and commits it durably.
//
// If fn returns an error or panics, every write it made is undone and the
// error (or panic) is propagated. Update transactions are serialized.
func (p *Pool) Update(fn func(*Tx) error) error {
	return p.UpdateContext(context.Background(), fn)
}

// UpdateContext is Update with a context checked before the transaction
// begins and before commit I/O.
func (p *Pool) UpdateContext(ctx context.Context, fn func(*Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.poisoned != nil {
		return fmt.Errorf("%w: %v", ErrPoisoned, p.poisoned)
	}

	tx := p.newTx(ctx, true)
	defer tx.end()

	err = tx.Run(func(tx *Tx) error {
		tx.begin()
		return fn(tx)
	})
	if err != nil {
		p.metrics.aborts.Inc()
		return err
	}
	if err = tx.commit(); err != nil {
		p.metrics.aborts.Inc()
		return err
	}
	p.metrics.commits.Inc()
	for _, hook := range tx.onCommit {
		hook()
	}
	return nil
}

// View runs fn in a read-only transaction. Writes abort with ErrReadOnly.
func (p *Pool) View(fn func(*Tx) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	tx := p.newTx(context.Background(), false)
	defer tx.end()
	return tx.Run(fn)
}

func (p *Pool) newTx(ctx context.Context, writable bool) *Tx {
	tx := &Tx{
		p:        p,
		ctx:      ctx,
		data:     p.data,
		writable: writable,
	}
	if writable {
		tx.dirty = dirty.NewTracker(dirty.DefaultGranularity)
		tx.held = make(map[uint64]*sync.Mutex)
	}
	return tx
}

// Run executes fn as a nested transaction. If fn fails, only the writes made
// inside fn are undone and the error is returned to the caller, who may
// recover from it or propagate it to abort the enclosing transaction.
func (tx *Tx) Run(fn func(*Tx) error) (err error) {
	sp := tx.mark()
	defer func() {
		if r := recover(); r != nil {
			tx.rollbackTo(sp)
			if a, ok := r.(txAbort); ok {
				err = a.err
				return
			}
			panic(r)
		}
		if err != nil {
			tx.rollbackTo(sp)
		}
	}()
	return fn(tx)
}

// Abort stops the transaction immediately with err, as if the innermost
// Run closure had returned it.
func (tx *Tx) Abort(err error) {
	panic(txAbort{err: err})
}

// Context returns the context the transaction was started with.
func (tx *Tx) Context() context.Context { return tx.ctx }

// Pool returns the pool the transaction runs on.
func (tx *Tx) Pool() *Pool { return tx.p }

// Writable reports whether this is an Update transaction.
func (tx *Tx) Writable() bool { return tx.writable }

// OnCommit registers fn to run after the transaction commits. Hooks
// registered inside a nested Run that rolls back are discarded.
func (tx *Tx) OnCommit(fn func()) {
	if tx.writable {
		tx.onCommit = append(tx.onCommit, fn)
	}
}

func (tx *Tx) mark() savepoint {
	sp := savepoint{undo: len(tx.undo), arena: len(tx.arena), hooks: len(tx.onCommit)}
	if tx.dirty != nil {
		sp.dirty = tx.dirty.Len()
	}
	return sp
}

func (tx *Tx) rollbackTo(sp savepoint) {
	for i := len(tx.undo) - 1; i >= sp.undo; i-- {
		u := tx.undo[i]
		copy(tx.data[u.off:u.off+uint64(u.n)], tx.arena[u.start:u.start+u.n])
	}
	tx.undo = tx.undo[:sp.undo]
	tx.arena = tx.arena[:sp.arena]
	tx.onCommit = tx.onCommit[:sp.hooks]
	if tx.dirty != nil {
		tx.dirty.Truncate(sp.dirty)
	}
}

// begin bumps the primary sequence number; it stays ahead of the secondary
// one until the commit record is written.
func (tx *Tx) begin() {
	tx.seq = tx.ReadU32(format.SBPrimarySeqOffset) + 1
	tx.PutU32(format.SBPrimarySeqOffset, tx.seq)
}

// commit makes the transaction durable:
//
//  1. Set SecondarySeq = PrimarySeq (transaction complete marker)
//  2. Append the coalesced dirty ranges to the redo log and sync it
//  3. Write the ranges into the pool file and sync it
//  4. Reset the redo log
//
// A failure before step 2 completes rolls the transaction back. A failure in
// step 3 leaves the batch in the redo log; the pool refuses further updates
// until it is reopened and the batch replayed.
func (tx *Tx) commit() error {
	p := tx.p

	// Only the sequence bump: nothing to persist.
	if len(tx.undo) == 1 && tx.dirty.Len() == 1 {
		tx.rollbackTo(savepoint{})
		return nil
	}

	if err := tx.Run(func(tx *Tx) error {
		tx.PutU32(format.SBSecondarySeqOffset, tx.seq)
		return nil
	}); err != nil {
		tx.rollbackTo(savepoint{})
		return err
	}
	if err := tx.ctx.Err(); err != nil {
		tx.rollbackTo(savepoint{})
		return err
	}

	ranges := tx.dirty.Ranges()
	n, err := p.log.Append(tx.ctx, uint64(tx.seq), ranges, tx.data)
	if err != nil {
		tx.rollbackTo(savepoint{})
		if rerr := p.log.Reset(); rerr != nil {
			logger.Warn("redo log reset after failed append", "path", p.path, "error", rerr)
		}
		return fmt.Errorf("commit %d: %w", tx.seq, err)
	}
	p.metrics.walBytes.Add(n)

	if p.crashAfterLog {
		p.poisoned = errSimulatedCrash
		return errSimulatedCrash
	}

	// From here on the transaction is committed; it survives in the log.
	if err := dirty.WriteBack(context.WithoutCancel(tx.ctx), p.f, tx.data, ranges, p.opts.flush); err != nil {
		p.poisoned = err
		logger.Error("commit write-back failed", "path", p.path, "seq", tx.seq, "error", err)
		return fmt.Errorf("commit %d: %w", tx.seq, err)
	}
	if err := p.log.Reset(); err != nil {
		logger.Warn("redo log reset after commit", "path", p.path, "seq", tx.seq, "error", err)
	}
	p.metrics.allocated.Store(tx.ReadU64(format.SBAllocatedOffset))
	return nil
}

// end releases the object locks still held by the transaction.
func (tx *Tx) end() {
	for key, mu := range tx.held {
		mu.Unlock()
		delete(tx.held, key)
	}
	for _, key := range tx.forget {
		tx.p.locks.Delete(key)
	}
	tx.forget = nil
	tx.data = nil
}
