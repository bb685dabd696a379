package serializer

import (
	"sync/atomic"
)

// BlockToken is a reference counted handle to a block stored on disk.
// A token is created by BlockWrites() with a single reference owned by
// the caller. Entering the token into the index through IndexWrite()
// transfers ownership of a reference to the index, which holds it until
// the entry is deleted or overwritten. The space occupied by the block
// can only be reclaimed once the last reference is dropped.
type BlockToken struct {
	serializer *Serializer
	refcount   atomic.Int64

	blockID          BlockID
	extent           uint32
	offsetBytes      int64
	payloadSizeBytes int64
}

// BlockID returns the identifier under which the block was written.
func (t *BlockToken) BlockID() BlockID {
	return t.blockID
}

// SizeBytes returns the size of the block's payload.
func (t *BlockToken) SizeBytes() int64 {
	return t.payloadSizeBytes
}

// Acquire adds a reference to the token. It may only be called by a
// party that already holds a reference.
func (t *BlockToken) Acquire() *BlockToken {
	if t.refcount.Add(1) < 2 {
		panic("Attempted to acquire a block token that was already released")
	}
	return t
}

// Release drops a reference to the token. When the last reference is
// dropped, the slot occupied by the block becomes eligible for
// reclamation. Release must not be called while holding the
// serializer's bookkeeping lock.
func (t *BlockToken) Release() {
	c := t.refcount.Add(-1)
	if c < 0 {
		panic("Attempted to release a block token that was already released")
	}
	if c == 0 {
		t.serializer.releaseBlockToken(t)
	}
}

// releaseLocked is the variant of Release used on code paths that
// already hold the serializer's bookkeeping lock.
func (t *BlockToken) releaseLocked() {
	c := t.refcount.Add(-1)
	if c < 0 {
		panic("Attempted to release a block token that was already released")
	}
	if c == 0 {
		t.serializer.releaseBlockTokenLocked(t)
	}
}

func (t *BlockToken) slotSizeBytes(slotAlignmentBytes int64) int64 {
	return alignSlotSize(t.payloadSizeBytes, slotAlignmentBytes)
}
