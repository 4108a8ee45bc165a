package heap

import (
	"fmt"
	"math"

	"github.com/joshuapare/pheap/internal/format"
)

// ByteBuffer is a persistent cursor over a byte array window. Its array is
// held through child slot 0; slices and duplicates share it.
type ByteBuffer Ref

// BufferState is the persisted cursor of a ByteBuffer. Mark is -1 when
// unset.
type BufferState struct {
	Position int
	Limit    int
	Mark     int
	Capacity int
}

func (s BufferState) valid() bool {
	return s.Position >= 0 && s.Position <= s.Limit && s.Limit <= s.Capacity &&
		s.Mark >= -1 && s.Mark <= s.Position
}

// NewByteBuffer creates a buffer over a new zeroed array of capacity bytes.
func (tx *Tx) NewByteBuffer(className string, capacity int) (ByteBuffer, error) {
	if capacity < 0 || capacity > math.MaxInt32 {
		return 0, opError("new byte buffer", fmt.Errorf("capacity %d: %w", capacity, ErrIndex))
	}
	var b ByteBuffer
	err := tx.run(func() error {
		arr, err := tx.newByteArray("", capacity)
		if err != nil {
			return err
		}
		ref, err := tx.newBuffer(className, arr, 0, BufferState{Limit: capacity, Mark: -1, Capacity: capacity})
		if err != nil {
			return err
		}
		b = ByteBuffer(tx.adopt(ref))
		return nil
	})
	return b, opError("new byte buffer", err)
}

// newBuffer creates a buffer record over arr. The caller supplies the
// array reference the buffer keeps.
func (tx *Tx) newBuffer(className string, arr Ref, start int, st BufferState) (Ref, error) {
	if start < 0 || start > math.MaxInt32 || st.Capacity > math.MaxInt32-start {
		return 0, fmt.Errorf("window [%d, %d+%d) exceeds int32: %w", start, start, st.Capacity, ErrIndex)
	}
	ref, err := tx.newRecord(KindByteBuffer, className, format.ByteBufferSize-format.HeaderSize, 1)
	if err != nil {
		return 0, err
	}
	tx.setChild(ref, 0, arr)
	tx.PutI32(ref.off()+format.ByteBufferStartOffset, int32(start))
	tx.PutI32(ref.off()+format.ByteBufferCapacityOffset, int32(st.Capacity))
	ByteBuffer(ref).store(tx, st)
	return ref, nil
}

// Ref returns the buffer as a plain reference.
func (b ByteBuffer) Ref() Ref { return Ref(b) }

func (b ByteBuffer) off() uint64 { return Ref(b).off() }

// Array returns the backing array. The reference is borrowed.
func (b ByteBuffer) Array(tx *Tx) ByteArray { return ByteArray(tx.child(Ref(b), 0)) }

func (b ByteBuffer) start(tx *Tx) int { return int(tx.ReadI32(b.off() + format.ByteBufferStartOffset)) }

func (b ByteBuffer) Position(tx *Tx) int {
	return int(tx.ReadI32(b.off() + format.ByteBufferPositionOffset))
}

func (b ByteBuffer) Limit(tx *Tx) int { return int(tx.ReadI32(b.off() + format.ByteBufferLimitOffset)) }

func (b ByteBuffer) Capacity(tx *Tx) int {
	return int(tx.ReadI32(b.off() + format.ByteBufferCapacityOffset))
}

// Remaining returns Limit - Position.
func (b ByteBuffer) Remaining(tx *Tx) int { return b.Limit(tx) - b.Position(tx) }

// State returns the persisted cursor.
func (b ByteBuffer) State(tx *Tx) BufferState {
	return BufferState{
		Position: b.Position(tx),
		Limit:    b.Limit(tx),
		Mark:     int(tx.ReadI32(b.off() + format.ByteBufferMarkOffset)),
		Capacity: b.Capacity(tx),
	}
}

// SetState persists position, limit and mark. Capacity is fixed and must
// match.
func (b ByteBuffer) SetState(tx *Tx, st BufferState) error {
	if err := tx.check(Ref(b), KindByteBuffer); err != nil {
		return err
	}
	if st.Capacity != b.Capacity(tx) || !st.valid() {
		return fmt.Errorf("%+v: %w", st, ErrBadState)
	}
	b.store(tx, st)
	return nil
}

func (b ByteBuffer) store(tx *Tx, st BufferState) {
	tx.PutI32(b.off()+format.ByteBufferPositionOffset, int32(st.Position))
	tx.PutI32(b.off()+format.ByteBufferLimitOffset, int32(st.Limit))
	tx.PutI32(b.off()+format.ByteBufferMarkOffset, int32(st.Mark))
}

// SetPosition moves the cursor, dropping a mark beyond it.
func (b ByteBuffer) SetPosition(tx *Tx, pos int) error {
	st := b.State(tx)
	st.Position = pos
	if st.Mark > pos {
		st.Mark = -1
	}
	return b.SetState(tx, st)
}

// SetLimit moves the limit, pulling the position and mark back if needed.
func (b ByteBuffer) SetLimit(tx *Tx, limit int) error {
	st := b.State(tx)
	st.Limit = limit
	if st.Position > limit {
		st.Position = limit
	}
	if st.Mark > limit {
		st.Mark = -1
	}
	return b.SetState(tx, st)
}

// Mark remembers the current position.
func (b ByteBuffer) Mark(tx *Tx) error {
	st := b.State(tx)
	st.Mark = st.Position
	return b.SetState(tx, st)
}

// Reset moves the position back to the mark. The mark is kept.
func (b ByteBuffer) Reset(tx *Tx) error {
	st := b.State(tx)
	if st.Mark < 0 {
		return ErrInvalidMark
	}
	st.Position = st.Mark
	return b.SetState(tx, st)
}

// Clear readies the buffer for writing: position 0, limit capacity.
func (b ByteBuffer) Clear(tx *Tx) error {
	st := b.State(tx)
	return b.SetState(tx, BufferState{Limit: st.Capacity, Mark: -1, Capacity: st.Capacity})
}

// Flip readies the buffer for reading what was written.
func (b ByteBuffer) Flip(tx *Tx) error {
	st := b.State(tx)
	return b.SetState(tx, BufferState{Limit: st.Position, Mark: -1, Capacity: st.Capacity})
}

// Rewind moves the position to 0 and drops the mark.
func (b ByteBuffer) Rewind(tx *Tx) error {
	st := b.State(tx)
	st.Position, st.Mark = 0, -1
	return b.SetState(tx, st)
}

// at returns the pool offset of buffer index i.
func (b ByteBuffer) at(tx *Tx, i int) uint64 {
	arr := tx.child(Ref(b), 0)
	return arr.off() + format.ByteArrayDataOffset + uint64(b.start(tx)+i)
}

// remaining returns the bytes between position and limit.
func (b ByteBuffer) remaining(tx *Tx) []byte {
	return tx.Bytes(b.at(tx, b.Position(tx)), b.Remaining(tx))
}

// advance validates a relative access of n bytes and moves the position
// past it, returning where it started.
func (b ByteBuffer) advance(tx *Tx, n int, short error) (int, error) {
	if err := tx.check(Ref(b), KindByteBuffer); err != nil {
		return 0, err
	}
	pos := b.Position(tx)
	if n < 0 || n > b.Limit(tx)-pos {
		return 0, fmt.Errorf("%d bytes at %d, limit %d: %w", n, pos, b.Limit(tx), short)
	}
	tx.PutI32(b.off()+format.ByteBufferPositionOffset, int32(pos+n))
	return pos, nil
}

// absolute validates an access of n bytes at index i.
func (b ByteBuffer) absolute(tx *Tx, i, n int) error {
	if err := tx.check(Ref(b), KindByteBuffer); err != nil {
		return err
	}
	if i < 0 || n < 0 || i+n > b.Limit(tx) {
		return fmt.Errorf("[%d, %d), limit %d: %w", i, i+n, b.Limit(tx), ErrIndex)
	}
	return nil
}

// Get reads n bytes at the position and advances it.
func (b ByteBuffer) Get(tx *Tx, n int) ([]byte, error) {
	var out []byte
	err := tx.run(func() error {
		pos, err := b.advance(tx, n, ErrBufferUnderflow)
		if err != nil {
			return err
		}
		out = append([]byte(nil), tx.Bytes(b.at(tx, pos), n)...)
		return nil
	})
	return out, opError("byte buffer get", err)
}

// GetAt reads n bytes at index i without moving the position.
func (b ByteBuffer) GetAt(tx *Tx, i, n int) ([]byte, error) {
	if err := b.absolute(tx, i, n); err != nil {
		return nil, opError("byte buffer get at", err)
	}
	return append([]byte(nil), tx.Bytes(b.at(tx, i), n)...), nil
}

// Put writes p at the position and advances it.
func (b ByteBuffer) Put(tx *Tx, p []byte) error {
	err := tx.run(func() error {
		pos, err := b.advance(tx, len(p), ErrBufferOverflow)
		if err != nil {
			return err
		}
		tx.Write(b.at(tx, pos), p)
		return nil
	})
	return opError("byte buffer put", err)
}

// PutAt writes p at index i without moving the position.
func (b ByteBuffer) PutAt(tx *Tx, i int, p []byte) error {
	if err := b.absolute(tx, i, len(p)); err != nil {
		return opError("byte buffer put at", err)
	}
	tx.Write(b.at(tx, i), p)
	return nil
}

// PutBuffer copies the remaining bytes of src into b, advancing both.
func (b ByteBuffer) PutBuffer(tx *Tx, src ByteBuffer) error {
	if src == b {
		return opError("byte buffer put buffer", fmt.Errorf("into itself: %w", ErrBadState))
	}
	err := tx.run(func() error {
		if err := tx.check(Ref(src), KindByteBuffer); err != nil {
			return err
		}
		n := src.Remaining(tx)
		data := append([]byte(nil), src.remaining(tx)...)
		pos, err := b.advance(tx, n, ErrBufferOverflow)
		if err != nil {
			return err
		}
		if _, err := src.advance(tx, n, ErrBufferUnderflow); err != nil {
			return err
		}
		tx.Write(b.at(tx, pos), data)
		return nil
	})
	return opError("byte buffer put buffer", err)
}

// GetUint reads a little-endian integer of width bytes at the position.
func (b ByteBuffer) GetUint(tx *Tx, width int) (uint64, error) {
	if err := checkWidth(width); err != nil {
		return 0, opError("byte buffer get", err)
	}
	p, err := b.Get(tx, width)
	if err != nil {
		return 0, err
	}
	v, _ := format.ReadUint(p, 0, width)
	return v, nil
}

// PutUint writes the low width bytes of v at the position.
func (b ByteBuffer) PutUint(tx *Tx, width int, v uint64) error {
	if err := checkWidth(width); err != nil {
		return opError("byte buffer put", err)
	}
	return b.Put(tx, encodeUint(width, v))
}

// GetUintAt reads a little-endian integer of width bytes at index i.
func (b ByteBuffer) GetUintAt(tx *Tx, i, width int) (uint64, error) {
	if err := checkWidth(width); err != nil {
		return 0, opError("byte buffer get at", err)
	}
	p, err := b.GetAt(tx, i, width)
	if err != nil {
		return 0, err
	}
	v, _ := format.ReadUint(p, 0, width)
	return v, nil
}

// PutUintAt writes the low width bytes of v at index i.
func (b ByteBuffer) PutUintAt(tx *Tx, i, width int, v uint64) error {
	if err := checkWidth(width); err != nil {
		return opError("byte buffer put at", err)
	}
	return b.PutAt(tx, i, encodeUint(width, v))
}

// Slice returns a new buffer over the remaining bytes of b, sharing its
// array. Index 0 of the slice is the current position of b.
func (b ByteBuffer) Slice(tx *Tx) (ByteBuffer, error) {
	var s ByteBuffer
	err := tx.run(func() error {
		if err := tx.check(Ref(b), KindByteBuffer); err != nil {
			return err
		}
		n, arr := b.Remaining(tx), tx.child(Ref(b), 0)
		tx.IncRef(arr, 1)
		ref, err := tx.newBuffer(tx.ClassName(Ref(b)), arr, b.start(tx)+b.Position(tx),
			BufferState{Limit: n, Mark: -1, Capacity: n})
		if err != nil {
			return err
		}
		s = ByteBuffer(tx.adopt(ref))
		return nil
	})
	return s, opError("slice byte buffer", err)
}

// Duplicate returns a new buffer with the same window and cursor as b,
// sharing its array.
func (b ByteBuffer) Duplicate(tx *Tx) (ByteBuffer, error) {
	var d ByteBuffer
	err := tx.run(func() error {
		if err := tx.check(Ref(b), KindByteBuffer); err != nil {
			return err
		}
		arr := tx.child(Ref(b), 0)
		tx.IncRef(arr, 1)
		ref, err := tx.newBuffer(tx.ClassName(Ref(b)), arr, b.start(tx), b.State(tx))
		if err != nil {
			return err
		}
		d = ByteBuffer(tx.adopt(ref))
		return nil
	})
	return d, opError("duplicate byte buffer", err)
}

// Persist includes buffer bytes [i, i+n) in the commit after direct writes
// through the array's Unchecked view.
func (b ByteBuffer) Persist(tx *Tx, i, n int) error {
	if err := tx.check(Ref(b), KindByteBuffer); err != nil {
		return err
	}
	if i < 0 || n < 0 || i+n > b.Capacity(tx) {
		return fmt.Errorf("[%d, %d) of %d: %w", i, i+n, b.Capacity(tx), ErrIndex)
	}
	return b.Array(tx).Persist(tx, b.start(tx)+i, n)
}
