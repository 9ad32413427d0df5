// Package util contains internal helpers (identity hashing, sharding, padded counters).
//
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

import "hash/maphash"

// Hasher maps comparable identities (session ids, container pointers) to
// 64-bit hashes used for shard selection.
//
// Strings and integer widths take an allocation-free FNV-1a path so that
// hashes are stable across processes. Everything else (pointers, structs,
// arrays) goes through maphash.Comparable with a per-Hasher random seed.
type Hasher[K comparable] struct {
	seed maphash.Seed
}

// NewHasher returns a Hasher with a fresh random seed.
func NewHasher[K comparable]() Hasher[K] {
	return Hasher[K]{seed: maphash.MakeSeed()}
}

// Sum returns the hash of k.
func (h Hasher[K]) Sum(k K) uint64 {
	switch v := any(k).(type) {
	case string:
		return fnvString(v)
	case int:
		return fnvUint64(uint64(v))
	case int64:
		return fnvUint64(uint64(v))
	case int32:
		return fnvUint64(uint64(uint32(v)))
	case uint:
		return fnvUint64(uint64(v))
	case uint64:
		return fnvUint64(v)
	case uint32:
		return fnvUint64(uint64(v))
	case uintptr:
		return fnvUint64(uint64(v))
	default:
		return maphash.Comparable(h.seed, k)
	}
}

const (
	fnvOffset64 = 1469598103934665603
	fnvPrime64  = 1099511628211
)

func fnvString(s string) uint64 {
	h := uint64(fnvOffset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= fnvPrime64
	}
	return h
}

// fnvUint64 hashes the 8 little-endian bytes of u.
func fnvUint64(u uint64) uint64 {
	h := uint64(fnvOffset64)
	for i := 0; i < 8; i++ {
		h ^= uint64(byte(u))
		h *= fnvPrime64
		u >>= 8
	}
	return h
}
