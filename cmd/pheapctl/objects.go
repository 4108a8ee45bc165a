package main

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/joshuapare/pheap/heap"
)

// object is the printable form of a named record.
type object struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Offset   string `json:"offset"`
	Class    string `json:"class,omitempty"`
	RefCount uint32 `json:"ref_count"`
	Value    string `json:"value,omitempty"`
}

// describe collects the printable fields of ref.
func describe(tx *heap.Tx, name string, ref heap.Ref) object {
	o := object{
		Name:     name,
		Kind:     tx.Kind(ref).String(),
		Offset:   fmt.Sprintf("%#x", uint64(ref)),
		Class:    tx.ClassName(ref),
		RefCount: tx.RefCount(ref),
	}
	switch tx.Kind(ref) {
	case heap.KindByteArray:
		if o.Class == heap.StringClass {
			s, _ := tx.ReadString(ref)
			o.Value = strconv.Quote(s)
		} else {
			o.Value = hex.EncodeToString(heap.ByteArray(ref).Bytes(tx))
		}
	case heap.KindLong:
		o.Value = strconv.FormatInt(heap.Long(ref).Value(tx), 10)
	case heap.KindSortedMap:
		o.Value = fmt.Sprintf("%d entries", heap.SortedMap(ref).Size(tx))
	case heap.KindHashMap:
		o.Value = fmt.Sprintf("%d entries", heap.HashMap(ref).Count(tx))
	case heap.KindByteBuffer:
		st := heap.ByteBuffer(ref).State(tx)
		o.Value = fmt.Sprintf("position %d, limit %d, capacity %d", st.Position, st.Limit, st.Capacity)
	case heap.KindAggregate:
		o.Value = fmt.Sprintf("%d fields", tx.FieldCount(ref))
	}
	return o
}

func (o object) String() string {
	s := fmt.Sprintf("%s\t%s", o.Name, o.Kind)
	if o.Class != "" && o.Class != heap.StringClass {
		s += "(" + o.Class + ")"
	}
	if o.Value != "" {
		s += "\t" + o.Value
	}
	return s
}
