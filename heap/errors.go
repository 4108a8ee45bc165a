package heap

import "errors"

var (
	// ErrNullRef indicates a null reference where a record is required.
	ErrNullRef = errors.New("pheap: null reference")

	// ErrNotRecord indicates an offset that is not a live record.
	ErrNotRecord = errors.New("pheap: not a live record")

	// ErrWrongKind indicates a record of an unexpected kind.
	ErrWrongKind = errors.New("pheap: wrong record kind")

	// ErrKeyKindMismatch indicates two keys of different kinds were compared.
	ErrKeyKindMismatch = errors.New("pheap: key kinds differ")

	// ErrNotComparable indicates a key kind with no ordering.
	ErrNotComparable = errors.New("pheap: kind has no ordering")

	// ErrNoComparator indicates aggregate keys without Options comparator.
	ErrNoComparator = errors.New("pheap: no comparator for aggregate keys")

	// ErrNoReconstructor indicates Reconstruct without a registered callback.
	ErrNoReconstructor = errors.New("pheap: no reconstructor registered")

	// ErrRefUnderflow indicates a decrement below zero.
	ErrRefUnderflow = errors.New("pheap: reference count underflow")

	// ErrNoHandle indicates releasing a volatile handle that was never taken.
	ErrNoHandle = errors.New("pheap: no volatile handle")

	// ErrCorrupt indicates an inconsistent object list or header.
	ErrCorrupt = errors.New("pheap: heap corrupt")

	// ErrIndex indicates an index outside a record.
	ErrIndex = errors.New("pheap: index out of range")

	// ErrWidth indicates an integer width other than 1, 2, 4 or 8.
	ErrWidth = errors.New("pheap: integer width must be 1, 2, 4 or 8")

	// ErrBufferUnderflow indicates a relative get past the limit.
	ErrBufferUnderflow = errors.New("pheap: buffer underflow")

	// ErrBufferOverflow indicates a relative put past the limit.
	ErrBufferOverflow = errors.New("pheap: buffer overflow")

	// ErrInvalidMark indicates Reset on a buffer without a mark.
	ErrInvalidMark = errors.New("pheap: invalid mark")

	// ErrBadState indicates buffer state outside 0 <= mark <= position <= limit <= capacity.
	ErrBadState = errors.New("pheap: invalid buffer state")

	// ErrLengthMismatch indicates bulk keys and values of different lengths.
	ErrLengthMismatch = errors.New("pheap: keys and values differ in length")
)

// OpError is returned by user-facing map operations. It carries the
// operation name and the underlying storage or comparison error.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string { return "pheap: " + e.Op + ": " + e.Err.Error() }

func (e *OpError) Unwrap() error { return e.Err }

func opError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Err: err}
}
