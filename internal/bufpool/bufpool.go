// Package bufpool provides pooled byte slices for assembling a DEQUEUE
// reply's concatenated record payload, avoiding a fresh allocation per
// batch on the reader's hot path. Adapted from the teacher's
// internal/queue.BufferPool, re-bucketed for changelog record batches
// (a handful of bytes to a few hundred KB) instead of block-device I/O
// buffers (128KB-1MB).
package bufpool

import "sync"

const (
	size4k   = 4 * 1024
	size32k  = 32 * 1024
	size128k = 128 * 1024
)

var globalPool = struct {
	pool4k   sync.Pool
	pool32k  sync.Pool
	pool128k sync.Pool
}{
	pool4k:   sync.Pool{New: func() any { b := make([]byte, size4k); return &b }},
	pool32k:  sync.Pool{New: func() any { b := make([]byte, size32k); return &b }},
	pool128k: sync.Pool{New: func() any { b := make([]byte, size128k); return &b }},
}

// Get returns a buffer of length size, drawn from the smallest bucket
// that fits it (or a fresh, unpooled allocation if size exceeds every
// bucket). Put it back with Put once the caller is done with it.
func Get(size int) []byte {
	switch {
	case size <= size4k:
		return (*globalPool.pool4k.Get().(*[]byte))[:size]
	case size <= size32k:
		return (*globalPool.pool32k.Get().(*[]byte))[:size]
	case size <= size128k:
		return (*globalPool.pool128k.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
}

// Put returns buf to the pool matching its capacity. Buffers whose
// capacity doesn't match a bucket exactly (the default make([]byte, size)
// case in Get) are simply dropped.
func Put(buf []byte) {
	switch cap(buf) {
	case size4k:
		b := buf[:size4k]
		globalPool.pool4k.Put(&b)
	case size32k:
		b := buf[:size32k]
		globalPool.pool32k.Put(&b)
	case size128k:
		b := buf[:size128k]
		globalPool.pool128k.Put(&b)
	}
}
