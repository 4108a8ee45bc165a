package heap

import "fmt"

// Kind is the record type tag stored in every header.
type Kind uint16

const (
	KindInvalid Kind = iota
	KindSortedMap
	KindHashMap
	KindByteArray
	KindByteBuffer
	KindLong
	KindAggregate
)

var kindNames = [...]string{
	KindInvalid:    "invalid",
	KindSortedMap:  "sorted-map",
	KindHashMap:    "hash-map",
	KindByteArray:  "byte-array",
	KindByteBuffer: "byte-buffer",
	KindLong:       "long",
	KindAggregate:  "aggregate",
}

// Valid reports whether k names a record kind.
func (k Kind) Valid() bool { return k > KindInvalid && k <= KindAggregate }

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint16(k))
}

// Color is the cycle collector state of a record.
type Color uint8

const (
	Black  Color = iota // In use or unknown
	Purple              // Possible root of a garbage cycle
	Gray                // Under trial deletion
	White               // Garbage
)

func (c Color) String() string {
	switch c {
	case Black:
		return "black"
	case Purple:
		return "purple"
	case Gray:
		return "gray"
	case White:
		return "white"
	}
	return fmt.Sprintf("color(%d)", uint8(c))
}
