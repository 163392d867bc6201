// Package pools provides size-classed byte buffers for the relay paths,
// so sustained proxying does not churn the allocator.
package pools

import "sync"

// BytePool is a multi-tiered byte slice pool.
type BytePool struct {
	pools []*sync.Pool
	sizes []int
}

// Size classes tuned for proxy relay buffers.
var defaultSizes = []int{
	2048,
	8192,
	32768,
}

// NewBytePool creates a byte pool with the standard size tiers.
func NewBytePool() *BytePool {
	bp := &BytePool{
		pools: make([]*sync.Pool, len(defaultSizes)),
		sizes: defaultSizes,
	}
	for i, size := range defaultSizes {
		sz := size
		bp.pools[i] = &sync.Pool{
			New: func() any {
				buf := make([]byte, sz)
				return &buf
			},
		}
	}
	return bp
}

// Get returns a byte slice of at least the requested size.
func (bp *BytePool) Get(size int) []byte {
	for i, poolSize := range bp.sizes {
		if size <= poolSize {
			bufPtr := bp.pools[i].Get().(*[]byte)
			return (*bufPtr)[:poolSize]
		}
	}
	return make([]byte, size)
}

// Put returns a byte slice to its tier. Foreign sizes are dropped.
func (bp *BytePool) Put(buf []byte) {
	c := cap(buf)
	for i, poolSize := range bp.sizes {
		if c == poolSize {
			full := buf[:c]
			bp.pools[i].Put(&full)
			return
		}
	}
}

// Relay is the shared pool used by the proxy's copy loops.
var Relay = NewBytePool()
