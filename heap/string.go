package heap

import (
	"golang.org/x/text/unicode/norm"
)

// StringClass is the class name of string records.
const StringClass = "string"

// NewString stores s, normalized to NFC, as a byte array of class
// StringClass owned by the caller.
func (tx *Tx) NewString(s string) (ByteArray, error) {
	return tx.NewByteArrayFrom(StringClass, norm.NFC.Bytes([]byte(s)))
}

// ReadString returns the contents of a string record.
func (tx *Tx) ReadString(ref Ref) (string, error) {
	if err := tx.check(ref, KindByteArray); err != nil {
		return "", err
	}
	return string(tx.arrayBytes(ref)), nil
}
