package bikeserial

import (
	"sync"

	"go.uber.org/atomic"
)

const (
	// readChunkSize is the size of a single driver read.
	readChunkSize = 256

	// maxLineSize bounds a frame; longer lines are dropped.
	maxLineSize = 4 * 1024
)

// BufferPool manages reusable byte buffers for I/O operations
type BufferPool struct {
	pool sync.Pool
	size int

	gets    atomic.Int64
	puts    atomic.Int64
	creates atomic.Int64
}

// NewBufferPool creates a buffer pool with fixed-size buffers
func NewBufferPool(bufferSize int) *BufferPool {
	bp := &BufferPool{
		size: bufferSize,
	}
	bp.pool = sync.Pool{
		New: func() interface{} {
			bp.creates.Inc()
			return make([]byte, bufferSize)
		},
	}
	return bp
}

// Get retrieves a buffer from the pool
func (bp *BufferPool) Get() []byte {
	bp.gets.Inc()
	return bp.pool.Get().([]byte)
}

// Put returns a buffer to the pool (clears it first)
func (bp *BufferPool) Put(buf []byte) {
	if len(buf) != bp.size {
		return
	}
	bp.puts.Inc()

	clear(buf)
	bp.pool.Put(buf)
}

// Stats returns pool usage statistics
func (bp *BufferPool) Stats() PoolStats {
	return PoolStats{
		Size:    bp.size,
		Gets:    bp.gets.Load(),
		Puts:    bp.puts.Load(),
		Creates: bp.creates.Load(),
	}
}

// PoolStats contains buffer pool usage statistics
type PoolStats struct {
	Size    int
	Gets    int64
	Puts    int64
	Creates int64
}

// HitRatio is the share of Get calls served without allocating.
func (ps PoolStats) HitRatio() float64 {
	if ps.Gets == 0 {
		return 0
	}
	hits := ps.Gets - ps.Creates
	if hits < 0 {
		hits = 0
	}
	return float64(hits) / float64(ps.Gets)
}

var readBufPool = NewBufferPool(readChunkSize)

func getReadBuf() []byte { return readBufPool.Get() }

func putReadBuf(b []byte) { readBufPool.Put(b) }
