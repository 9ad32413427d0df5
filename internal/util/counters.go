package util

import (
	"sync/atomic"
	"unsafe"
)

// CacheLineSize is a reasonable default for most modern CPUs.
const CacheLineSize = 64

// CacheLinePad separates groups of hot fields into distinct cache lines.
type CacheLinePad struct{ _ [CacheLineSize]byte }

// Counter is a monotonically increasing atomic counter occupying one
// cache line, so neighbouring counters updated by different goroutines
// do not false-share.
type Counter struct {
	n atomic.Int64
	_ [CacheLineSize - 8]byte
}

// Inc adds one and returns the new value.
func (c *Counter) Inc() int64 { return c.n.Add(1) }

// Load returns the current value.
func (c *Counter) Load() int64 { return c.n.Load() }

// Gauge is a padded atomic value that can move in both directions.
type Gauge struct {
	n atomic.Int64
	_ [CacheLineSize - 8]byte
}

// Add applies delta and returns the new value.
func (g *Gauge) Add(delta int64) int64 { return g.n.Add(delta) }

// Load returns the current value.
func (g *Gauge) Load() int64 { return g.n.Load() }

var (
	_ [CacheLineSize - int(unsafe.Sizeof(Counter{}))]byte
	_ [CacheLineSize - int(unsafe.Sizeof(Gauge{}))]byte
)
