// Package hashmap implements a persistent chained hash map from u64 keys to
// u64 values inside a pool.
//
// Keys are hashed with a universal hash h(k) = ((a*k + b) mod p) mod n whose
// parameters a and b are drawn from a per-map seed at creation. Buckets hold
// singly linked chains with new entries at the head. A resizable map doubles
// its bucket array when a chain grows long and halves it when it becomes
// sparse; every rebuild happens inside the caller's transaction.
//
// Core layout (see internal/format):
//
//	seed u32 | a u32 | b u32 | flags u32 | p u64 | count u64 | buckets u64 | initSize u64
package hashmap

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/joshuapare/pheap/internal/format"
	"github.com/joshuapare/pheap/pool"
)

const (
	// Prime is the modulus of the universal hash.
	Prime uint64 = 32212254719

	// DefaultBuckets is used when New is called with initSize 0.
	DefaultBuckets = 10

	// MinThreshold and MaxThreshold bound chain length for resizing.
	MinThreshold = 5
	MaxThreshold = 10
)

// ErrBadSize indicates a bucket count of zero.
var ErrBadSize = errors.New("hashmap: bucket count must be positive")

// Map is the pool offset of a hash map core. The zero Map is invalid.
type Map uint64

// New allocates an empty map with initSize buckets (0 selects
// DefaultBuckets). A zero seed draws a random one.
func New(tx *pool.Tx, initSize int, resizable bool, seed uint32) (Map, error) {
	if initSize < 0 {
		return 0, fmt.Errorf("new map with %d buckets: %w", initSize, ErrBadSize)
	}
	if initSize == 0 {
		initSize = DefaultBuckets
	}
	for seed == 0 {
		seed = rand.Uint32()
	}
	a, b := params(seed)

	var m Map
	err := tx.Run(func(tx *pool.Tx) error {
		off, err := tx.Alloc(format.HashCoreSize)
		if err != nil {
			return err
		}
		m = Map(off)
		tx.PutU32(off+format.HashSeedOffset, seed)
		tx.PutU32(off+format.HashAOffset, a)
		tx.PutU32(off+format.HashBOffset, b)
		if resizable {
			tx.PutU32(off+format.HashFlagsOffset, format.HashFlagResizable)
		}
		tx.PutU64(off+format.HashPOffset, Prime)
		tx.PutU64(off+format.HashInitSizeOffset, uint64(initSize))

		buckets, err := allocBuckets(tx, uint64(initSize))
		if err != nil {
			return err
		}
		tx.PutU64(off+format.HashBucketsOffset, buckets)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return m, nil
}

// params derives the hash coefficients a in [1, 1000] and b in [0, 100000).
func params(seed uint32) (a, b uint32) {
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)*0x9E3779B97F4A7C15))
	return 1 + rng.Uint32N(1000), rng.Uint32N(100000)
}

func allocBuckets(tx *pool.Tx, n uint64) (uint64, error) {
	if n == 0 {
		return 0, ErrBadSize
	}
	off, err := tx.Alloc(int(format.BucketsSlotsOffset + n*8))
	if err != nil {
		return 0, err
	}
	tx.PutU64(off+format.BucketsCountOffset, n)
	return off, nil
}

func (m Map) off() uint64 { return uint64(m) }

func (m Map) buckets(tx *pool.Tx) uint64 {
	return tx.ReadU64(m.off() + format.HashBucketsOffset)
}

func slot(buckets, i uint64) uint64 {
	return buckets + format.BucketsSlotsOffset + i*8
}

// hash maps key onto [0, n).
func (m Map) hash(tx *pool.Tx, key, n uint64) uint64 {
	a := uint64(tx.ReadU32(m.off() + format.HashAOffset))
	b := uint64(tx.ReadU32(m.off() + format.HashBOffset))
	p := tx.ReadU64(m.off() + format.HashPOffset)
	return ((a*key + b) % p) % n
}

// Resizable reports whether the map resizes itself.
func (m Map) Resizable(tx *pool.Tx) bool {
	return tx.ReadU32(m.off()+format.HashFlagsOffset)&format.HashFlagResizable != 0
}

// Count returns the number of entries.
func (m Map) Count(tx *pool.Tx) uint64 {
	return tx.ReadU64(m.off() + format.HashCountOffset)
}

// Buckets returns the current bucket count.
func (m Map) Buckets(tx *pool.Tx) uint64 {
	return tx.ReadU64(m.buckets(tx) + format.BucketsCountOffset)
}

// BucketOf returns the bucket key hashes to with the current bucket count.
func (m Map) BucketOf(tx *pool.Tx, key uint64) uint64 {
	return m.hash(tx, key, m.Buckets(tx))
}

// Get returns the value stored for key.
func (m Map) Get(tx *pool.Tx, key uint64) (uint64, bool) {
	b := m.buckets(tx)
	h := m.hash(tx, key, tx.ReadU64(b+format.BucketsCountOffset))
	for e := tx.ReadU64(slot(b, h)); e != 0; e = tx.ReadU64(e + format.EntryNextOffset) {
		if tx.ReadU64(e+format.EntryKeyOffset) == key {
			return tx.ReadU64(e + format.EntryValueOffset), true
		}
	}
	return 0, false
}

// Contains reports whether key is present.
func (m Map) Contains(tx *pool.Tx, key uint64) bool {
	_, ok := m.Get(tx, key)
	return ok
}

// Insert stores value under key. If the key was present its previous value
// is returned with existed set.
func (m Map) Insert(tx *pool.Tx, key, value uint64) (old uint64, existed bool, err error) {
	err = tx.Run(func(tx *pool.Tx) error {
		b := m.buckets(tx)
		n := tx.ReadU64(b + format.BucketsCountOffset)
		h := m.hash(tx, key, n)

		var num uint64
		for e := tx.ReadU64(slot(b, h)); e != 0; e = tx.ReadU64(e + format.EntryNextOffset) {
			if tx.ReadU64(e+format.EntryKeyOffset) == key {
				old, existed = tx.ReadU64(e+format.EntryValueOffset), true
				tx.PutU64(e+format.EntryValueOffset, value)
				return nil
			}
			num++
		}

		e, err := tx.Alloc(format.EntrySize)
		if err != nil {
			return err
		}
		tx.PutU64(e+format.EntryKeyOffset, key)
		tx.PutU64(e+format.EntryValueOffset, value)
		tx.PutU64(e+format.EntryNextOffset, tx.ReadU64(slot(b, h)))
		tx.PutU64(slot(b, h), e)

		count := m.Count(tx) + 1
		tx.PutU64(m.off()+format.HashCountOffset, count)
		num++

		if m.Resizable(tx) && (num > MaxThreshold || (num > MinThreshold && count > 2*n)) {
			return m.Rebuild(tx, 2*n)
		}
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("hashmap insert %d: %w", key, err)
	}
	return old, existed, nil
}

// Remove deletes key and returns the value it held.
func (m Map) Remove(tx *pool.Tx, key uint64) (old uint64, existed bool, err error) {
	err = tx.Run(func(tx *pool.Tx) error {
		b := m.buckets(tx)
		n := tx.ReadU64(b + format.BucketsCountOffset)
		link := slot(b, m.hash(tx, key, n))

		for e := tx.ReadU64(link); e != 0; e = tx.ReadU64(link) {
			if tx.ReadU64(e+format.EntryKeyOffset) != key {
				link = e + format.EntryNextOffset
				continue
			}
			old, existed = tx.ReadU64(e+format.EntryValueOffset), true
			tx.PutU64(link, tx.ReadU64(e+format.EntryNextOffset))
			if err := tx.Free(e); err != nil {
				return err
			}
			count := m.Count(tx) - 1
			tx.PutU64(m.off()+format.HashCountOffset, count)

			if m.Resizable(tx) && count < n && n > 2*MaxThreshold {
				return m.Rebuild(tx, n/2)
			}
			return nil
		}
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("hashmap remove %d: %w", key, err)
	}
	return old, existed, nil
}

// Rebuild moves every entry into a fresh bucket array of newLen buckets.
// Entries are relinked, not copied.
func (m Map) Rebuild(tx *pool.Tx, newLen uint64) error {
	return tx.Run(func(tx *pool.Tx) error {
		old := m.buckets(tx)
		n := tx.ReadU64(old + format.BucketsCountOffset)

		nb, err := allocBuckets(tx, newLen)
		if err != nil {
			return err
		}
		for i := range n {
			for e := tx.ReadU64(slot(old, i)); e != 0; {
				next := tx.ReadU64(e + format.EntryNextOffset)
				h := m.hash(tx, tx.ReadU64(e+format.EntryKeyOffset), newLen)
				tx.PutU64(e+format.EntryNextOffset, tx.ReadU64(slot(nb, h)))
				tx.PutU64(slot(nb, h), e)
				e = next
			}
		}
		tx.PutU64(m.off()+format.HashBucketsOffset, nb)
		return tx.Free(old)
	})
}

// ForEach calls fn for every entry in bucket order. A non-nil error from fn
// stops the iteration and is returned.
func (m Map) ForEach(tx *pool.Tx, fn func(key, value uint64) error) error {
	b := m.buckets(tx)
	n := tx.ReadU64(b + format.BucketsCountOffset)
	for i := range n {
		for e := tx.ReadU64(slot(b, i)); e != 0; {
			next := tx.ReadU64(e + format.EntryNextOffset)
			if err := fn(tx.ReadU64(e+format.EntryKeyOffset), tx.ReadU64(e+format.EntryValueOffset)); err != nil {
				return err
			}
			e = next
		}
	}
	return nil
}

// freeEntries frees every entry and the bucket array.
func (m Map) freeEntries(tx *pool.Tx) error {
	b := m.buckets(tx)
	n := tx.ReadU64(b + format.BucketsCountOffset)
	for i := range n {
		for e := tx.ReadU64(slot(b, i)); e != 0; {
			next := tx.ReadU64(e + format.EntryNextOffset)
			if err := tx.Free(e); err != nil {
				return err
			}
			e = next
		}
	}
	return tx.Free(b)
}

// Clear removes every entry and restores the initial bucket count. The hash
// parameters are kept.
func (m Map) Clear(tx *pool.Tx) error {
	return tx.Run(func(tx *pool.Tx) error {
		if err := m.freeEntries(tx); err != nil {
			return err
		}
		nb, err := allocBuckets(tx, tx.ReadU64(m.off()+format.HashInitSizeOffset))
		if err != nil {
			return err
		}
		tx.PutU64(m.off()+format.HashBucketsOffset, nb)
		tx.PutU64(m.off()+format.HashCountOffset, 0)
		return nil
	})
}

// Delete frees the entries, the bucket array and the core.
func (m Map) Delete(tx *pool.Tx) error {
	return tx.Run(func(tx *pool.Tx) error {
		if err := m.freeEntries(tx); err != nil {
			return err
		}
		return tx.Free(m.off())
	})
}
