package util

import "runtime"

const (
	// autoShards bounds the automatic shard count; registries hold one
	// small map per shard, so more than this buys nothing but idle memory.
	autoShards = 256

	// MaxShards is the largest shard count a caller may request. Larger
	// requests are clamped to it.
	MaxShards = 4096
)

// ShardCount normalizes a requested shard count to a power of two.
// requested <= 0 selects an automatic value of 2*GOMAXPROCS, clamped
// to [1..256]. Explicit requests are rounded up and clamped to MaxShards.
func ShardCount(requested int) int {
	if requested <= 0 {
		p := max(runtime.GOMAXPROCS(0), 1)
		return min(nextPow2(2*p), autoShards)
	}
	return nextPow2(min(requested, MaxShards))
}

// ShardIndex maps a hash onto one of n shards, n a power of two.
func ShardIndex(hash uint64, n int) int {
	if n <= 1 {
		return 0
	}
	return int(hash & uint64(n-1))
}

// nextPow2 returns the smallest power of two >= x (1 for x <= 1).
// x must not exceed MaxShards.
func nextPow2(x int) int {
	n := 1
	for n < x {
		n <<= 1
	}
	return n
}
