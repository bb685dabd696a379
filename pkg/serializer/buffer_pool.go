package serializer

import (
	"sync"

	"github.com/ncw/directio"
)

// bufferPool hands out reusable block-sized buffers that satisfy the
// alignment requirements of direct I/O. Buffers are recycled through a
// sync.Pool, so that steady state write traffic does not allocate.
type bufferPool struct {
	bufferSizeBytes int64
	pool            sync.Pool
}

func newBufferPool(maxBlockSizeBytes, slotAlignmentBytes int64) *bufferPool {
	bufferSizeBytes := alignSlotSize(maxBlockSizeBytes, slotAlignmentBytes)
	if bufferSizeBytes < int64(directio.BlockSize) {
		bufferSizeBytes = int64(directio.BlockSize)
	}
	bp := &bufferPool{
		bufferSizeBytes: bufferSizeBytes,
	}
	bp.pool.New = func() any {
		// AlignedBlock() over-allocates to be able to shift the
		// start of the slice to an alignment boundary. Cap the
		// slice so that release() can recognize pool buffers by
		// their capacity.
		b := directio.AlignedBlock(int(bufferSizeBytes))
		return b[:bufferSizeBytes:bufferSizeBytes]
	}
	return bp
}

func (bp *bufferPool) allocate() []byte {
	return bp.pool.Get().([]byte)
}

func (bp *bufferPool) release(b []byte) {
	if int64(cap(b)) != bp.bufferSizeBytes {
		panic("Attempted to release a buffer that was not allocated by this pool")
	}
	bp.pool.Put(b[:bp.bufferSizeBytes])
}
