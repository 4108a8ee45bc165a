package hashmap

import (
	"fmt"
	"io"
	"strings"

	"github.com/joshuapare/pheap/internal/format"
	"github.com/joshuapare/pheap/pool"
)

// Debug writes the hash parameters and every bucket chain to w:
//
//	a = 17, b = 4211, p = 32212254719
//	count = 3, buckets = 10
//	  3: 12 2
//	  7: 5
func (m Map) Debug(tx *pool.Tx, w io.Writer) error {
	b := m.buckets(tx)
	n := m.Buckets(tx)

	_, err := fmt.Fprintf(w, "a = %d, b = %d, p = %d\ncount = %d, buckets = %d\n",
		tx.ReadU32(m.off()+format.HashAOffset), tx.ReadU32(m.off()+format.HashBOffset), tx.ReadU64(m.off()+format.HashPOffset),
		m.Count(tx), n)
	if err != nil {
		return err
	}

	var sb strings.Builder
	for i := range n {
		e := tx.ReadU64(slot(b, i))
		if e == 0 {
			continue
		}
		sb.Reset()
		fmt.Fprintf(&sb, "%3d:", i)
		for ; e != 0; e = tx.ReadU64(e + format.EntryNextOffset) {
			fmt.Fprintf(&sb, " %d", tx.ReadU64(e+format.EntryKeyOffset))
		}
		sb.WriteByte('\n')
		if _, err := io.WriteString(w, sb.String()); err != nil {
			return err
		}
	}
	return nil
}
