package pool

import "errors"

var (
	// ErrClosed indicates use of a pool after its last Close.
	ErrClosed = errors.New("pool: closed")

	// ErrIncompatible indicates an open request whose size does not match
	// the existing pool file or the already-open pool.
	ErrIncompatible = errors.New("pool: incompatible pool")

	// ErrPoolSize indicates a requested size below MinPoolSize.
	ErrPoolSize = errors.New("pool: size too small")

	// ErrLocked indicates another process holds the pool file.
	ErrLocked = errors.New("pool: file locked by another process")

	// ErrDirty indicates a pool file whose last transaction never completed
	// and for which no redo batch survives.
	ErrDirty = errors.New("pool: incomplete transaction without redo log")

	// ErrReadOnly indicates a write attempted inside a View transaction.
	ErrReadOnly = errors.New("pool: write in read-only transaction")

	// ErrOutOfRange indicates an access outside the mapped pool.
	ErrOutOfRange = errors.New("pool: offset out of range")

	// ErrInjectedFault is raised by the write armed with SetFaultAfter.
	ErrInjectedFault = errors.New("pool: injected fault")

	// ErrPoisoned indicates a commit whose redo batch is durable but whose
	// write-back failed; the pool must be reopened to replay it.
	ErrPoisoned = errors.New("pool: commit write-back failed, reopen required")

	// errSimulatedCrash stops a commit after its redo batch is durable.
	errSimulatedCrash = errors.New("pool: simulated crash after redo log")
)
