package heap

import (
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/joshuapare/pheap/hashmap"
	"github.com/joshuapare/pheap/internal/format"
	"github.com/joshuapare/pheap/treemap"
)

// Ref is the pool offset of a managed record. The zero Ref is null.
type Ref uint64

// IsNull reports whether r is the null reference.
func (r Ref) IsNull() bool { return r == format.Null }

func (r Ref) off() uint64 { return uint64(r) }

// Header accessors.

func (tx *Tx) Kind(ref Ref) Kind { return Kind(tx.ReadU16(ref.off() + format.HdrKindOffset)) }

func (tx *Tx) RefCount(ref Ref) uint32 { return tx.ReadU32(ref.off() + format.HdrRefCountOffset) }

func (tx *Tx) Color(ref Ref) Color { return Color(tx.ReadU8(ref.off() + format.HdrColorOffset)) }

func (tx *Tx) IsCandidate(ref Ref) bool { return tx.ReadU8(ref.off()+format.HdrCandidateOffset) != 0 }

func (tx *Tx) FieldCount(ref Ref) int {
	return int(tx.ReadU32(ref.off() + format.HdrFieldCountOffset))
}

func (tx *Tx) setRefCount(ref Ref, n uint32) { tx.PutU32(ref.off()+format.HdrRefCountOffset, n) }

func (tx *Tx) setColor(ref Ref, c Color) {
	if tx.Color(ref) != c {
		tx.PutU8(ref.off()+format.HdrColorOffset, uint8(c))
	}
}

func (tx *Tx) setCandidate(ref Ref, on bool) {
	var v uint8
	if on {
		v = 1
	}
	if tx.ReadU8(ref.off()+format.HdrCandidateOffset) != v {
		tx.PutU8(ref.off()+format.HdrCandidateOffset, v)
	}
}

func slotOffset(ref Ref, i int) uint64 {
	return ref.off() + format.HeaderSize + uint64(i)*format.SlotSize
}

// child returns child slot i.
func (tx *Tx) child(ref Ref, i int) Ref { return Ref(tx.ReadU64(slotOffset(ref, i))) }

func (tx *Tx) setChild(ref Ref, i int, c Ref) { tx.PutU64(slotOffset(ref, i), uint64(c)) }

// children returns the non-null child slots of ref.
func (tx *Tx) children(ref Ref) []Ref {
	n := tx.FieldCount(ref)
	out := make([]Ref, 0, n)
	for i := range n {
		if c := tx.child(ref, i); !c.IsNull() {
			out = append(out, c)
		}
	}
	return out
}

// Size returns the bytes ref accounts for: the record, its class name and,
// for maps, the tree or table behind it. Allocator block overhead is not
// included.
func (tx *Tx) Size(ref Ref) uint64 {
	var n uint64
	switch tx.Kind(ref) {
	case KindSortedMap:
		m := SortedMap(ref)
		n = format.SortedMapSize + format.TreeCoreSize + (m.Size(tx)+2)*format.NodeSize
	case KindHashMap:
		t := HashMap(ref).table(tx)
		n = format.HashMapSize + format.HashCoreSize +
			format.BucketsSlotsOffset + t.Buckets(tx.Tx)*format.SlotSize + t.Count(tx.Tx)*format.EntrySize
	case KindByteArray:
		n = format.ByteArrayDataOffset + uint64(ByteArray(ref).Len(tx))
	case KindByteBuffer:
		n = format.ByteBufferSize
	case KindLong:
		n = format.LongSize
	case KindAggregate:
		n = format.HeaderSize + uint64(tx.FieldCount(ref))*format.SlotSize
	}
	if blob := tx.ReadU64(ref.off() + format.HdrClassNameOffset); blob != format.Null {
		n += format.NameDataOffset + uint64(tx.ReadU32(blob+format.NameLenOffset))
	}
	return n
}

// ClassName returns the class name recorded at creation ("" if none).
func (tx *Tx) ClassName(ref Ref) string {
	blob := tx.ReadU64(ref.off() + format.HdrClassNameOffset)
	if blob == format.Null {
		return ""
	}
	n := tx.ReadU32(blob + format.NameLenOffset)
	return string(tx.Bytes(blob+format.NameDataOffset, int(n)))
}

// IsLive reports whether ref is the offset of a live record.
func (tx *Tx) IsLive(ref Ref) bool {
	if ref.IsNull() || !tx.IsAllocated(ref.off()) {
		return false
	}
	return tx.ReadU32(ref.off()+format.HdrVersionOffset) == format.HeaderVersion && tx.Kind(ref).Valid()
}

// check verifies that ref is a live record of kind want (any kind when want
// is KindInvalid).
func (tx *Tx) check(ref Ref, want Kind) error {
	if ref.IsNull() {
		return ErrNullRef
	}
	if !tx.IsLive(ref) {
		return fmt.Errorf("%#x: %w", ref.off(), ErrNotRecord)
	}
	if want != KindInvalid {
		if k := tx.Kind(ref); k != want {
			return fmt.Errorf("%#x is %s, want %s: %w", ref.off(), k, want, ErrWrongKind)
		}
	}
	return nil
}

// newRecord allocates a record with refCount 1, links it into the object
// list and returns it. body is the size after the header.
func (tx *Tx) newRecord(kind Kind, className string, body int, fields int) (Ref, error) {
	off, err := tx.Alloc(format.HeaderSize + body)
	if err != nil {
		return 0, err
	}
	ref := Ref(off)
	tx.PutU32(off+format.HdrVersionOffset, format.HeaderVersion)
	tx.setRefCount(ref, 1)
	tx.PutU16(off+format.HdrKindOffset, uint16(kind))
	tx.PutU32(off+format.HdrFieldCountOffset, uint32(fields))

	if className != "" {
		name := norm.NFC.String(className)
		blob, err := tx.Alloc(format.NameDataOffset + len(name))
		if err != nil {
			return 0, err
		}
		tx.PutU32(blob+format.NameLenOffset, uint32(len(name)))
		tx.Write(blob+format.NameDataOffset, []byte(name))
		tx.PutU64(off+format.HdrClassNameOffset, blob)
	}

	tx.link(ref)
	tx.OnCommit(tx.h.metrics.created.Inc)
	return ref, nil
}

// link makes ref the newest entry of the object list.
func (tx *Tx) link(ref Ref) {
	root := tx.h.root
	tx.Lock(root)
	head := tx.ReadU64(root + format.RootNewestOffset)
	if head != format.Null {
		tx.PutU64(head+format.HdrNextOffset, ref.off())
	}
	tx.PutU64(ref.off()+format.HdrPrevOffset, head)
	tx.PutU64(ref.off()+format.HdrNextOffset, format.Null)
	tx.PutU64(root+format.RootNewestOffset, ref.off())
}

// unlink removes ref from the object list.
func (tx *Tx) unlink(ref Ref) {
	root := tx.h.root
	tx.Lock(root)
	prev := tx.ReadU64(ref.off() + format.HdrPrevOffset)
	next := tx.ReadU64(ref.off() + format.HdrNextOffset)

	if prev != format.Null {
		if got := tx.ReadU64(prev + format.HdrNextOffset); got != ref.off() {
			tx.fatal(fmt.Errorf("object list: %#x.next = %#x, want %#x: %w", prev, got, ref.off(), ErrCorrupt))
		}
		tx.PutU64(prev+format.HdrNextOffset, next)
	}
	if next != format.Null {
		if got := tx.ReadU64(next + format.HdrPrevOffset); got != ref.off() {
			tx.fatal(fmt.Errorf("object list: %#x.prev = %#x, want %#x: %w", next, got, ref.off(), ErrCorrupt))
		}
		tx.PutU64(next+format.HdrPrevOffset, prev)
	} else {
		if got := tx.ReadU64(root + format.RootNewestOffset); got != ref.off() {
			tx.fatal(fmt.Errorf("object list: newest = %#x, want %#x: %w", got, ref.off(), ErrCorrupt))
		}
		tx.PutU64(root+format.RootNewestOffset, prev)
	}
	tx.PutU64(ref.off()+format.HdrPrevOffset, format.Null)
	tx.PutU64(ref.off()+format.HdrNextOffset, format.Null)
}

// Objects calls fn for every record from newest to oldest. fn must not
// destroy records.
func (tx *Tx) Objects(fn func(Ref) error) error {
	for off := tx.ReadU64(tx.h.root + format.RootNewestOffset); off != format.Null; {
		prev := tx.ReadU64(off + format.HdrPrevOffset)
		if err := fn(Ref(off)); err != nil {
			return err
		}
		off = prev
	}
	return nil
}

// IncRef adds amount to the reference count of ref and marks it in use.
// A ref that is not a live record aborts the transaction with an *OpError.
func (tx *Tx) IncRef(ref Ref, amount uint32) {
	if ref.IsNull() || amount == 0 {
		return
	}
	tx.mustBeLive("incref", ref)
	tx.Lock(ref.off())
	tx.setRefCount(ref, tx.RefCount(ref)+amount)
	tx.setColor(ref, Black)
}

// DecRef subtracts amount from the reference count of ref. A record
// reaching zero is destroyed; otherwise it becomes a cycle candidate.
// Stale refs abort like IncRef.
func (tx *Tx) DecRef(ref Ref, amount uint32) {
	if ref.IsNull() || amount == 0 {
		return
	}
	tx.mustBeLive("decref", ref)
	tx.Lock(ref.off())
	rc := tx.RefCount(ref)
	if amount > rc {
		tx.fatal(fmt.Errorf("decref %#x by %d (count %d): %w", ref.off(), amount, rc, ErrRefUnderflow))
	}
	rc -= amount
	tx.setRefCount(ref, rc)
	if rc == 0 {
		tx.destroy(ref)
		return
	}
	tx.addCandidate(ref)
}

// mustBeLive aborts the transaction unless ref is a live record. Writing a
// count into a freed block would overwrite its free list link.
func (tx *Tx) mustBeLive(op string, ref Ref) {
	if err := tx.check(ref, KindInvalid); err != nil {
		tx.Abort(opError(op, err))
	}
}

func (tx *Tx) addCandidate(ref Ref) {
	if tx.Color(ref) == Purple {
		return
	}
	tx.setColor(ref, Purple)
	tx.setCandidate(ref, true)
	tx.marked++
}

// destroy unlinks ref, releases what it owns and frees it.
func (tx *Tx) destroy(ref Ref) {
	kind := tx.Kind(ref)
	if !kind.Valid() {
		tx.fatal(fmt.Errorf("destroy %#x: %s: %w", ref.off(), kind, ErrCorrupt))
	}
	tx.unlink(ref)

	var err error
	switch kind {
	case KindSortedMap:
		err = SortedMap(ref).tree(tx).Delete(tx.Tx, tx.releaseEntry)
	case KindHashMap:
		m := HashMap(ref).table(tx)
		err = m.ForEach(tx.Tx, func(_, v uint64) error {
			tx.DecRef(Ref(v), 1)
			return nil
		})
		if err == nil {
			err = m.Delete(tx.Tx)
		}
	case KindByteBuffer, KindAggregate:
		for _, c := range tx.children(ref) {
			tx.DecRef(c, 1)
		}
	case KindByteArray, KindLong:
	}
	if err == nil {
		err = tx.free(ref)
	}
	if err != nil {
		tx.fatal(fmt.Errorf("destroy %#x (%s): %w", ref.off(), kind, err))
	}
}

// releaseEntry drops the references a map entry holds.
func (tx *Tx) releaseEntry(k, v uint64) error {
	tx.DecRef(Ref(k), 1)
	tx.DecRef(Ref(v), 1)
	return nil
}

// free returns the record and its class name to the allocator.
func (tx *Tx) free(ref Ref) error {
	if blob := tx.ReadU64(ref.off() + format.HdrClassNameOffset); blob != format.Null {
		if err := tx.Free(blob); err != nil {
			return err
		}
	}
	if err := tx.Free(ref.off()); err != nil {
		return err
	}
	tx.Forget(ref.off())
	tx.markFreed(ref)
	tx.OnCommit(tx.h.metrics.destroyed.Inc)
	return nil
}

// tree and table resolve the collection cores of map records.
func (m SortedMap) tree(tx *Tx) treemap.Tree {
	return treemap.Tree(tx.ReadU64(Ref(m).off() + format.SortedMapTreeOffset))
}

func (m HashMap) table(tx *Tx) hashmap.Map {
	return hashmap.Map(tx.ReadU64(Ref(m).off() + format.HashMapTableOffset))
}
