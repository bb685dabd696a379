package serializer

import (
	"github.com/google/uuid"
)

// Superblock holds the identity and static parameters of a store. It
// is written once by Create() and validated against the store header on
// the data device on every open.
type Superblock struct {
	StoreUUID          uuid.UUID
	MaxBlockSizeBytes  int64
	ExtentSizeBytes    int64
	SlotAlignmentBytes int64

	// HashSeed seeds all checksums of the store. Using a random
	// per-store seed causes structures belonging to a different
	// store to fail validation, even if they are otherwise well
	// formed.
	HashSeed uint64
}

// IndexJournal is an append-only log of index write batches. A batch
// becomes durable, and thereby visible after a crash, once AppendBatch
// returns successfully. Batches are atomic: a batch that was torn by a
// crash or truncated by an interrupted append is discarded in its
// entirety during replay.
//
// AppendBatch may be called concurrently; implementations serialize
// appends internally. Replay and Reset may not run concurrently with
// appends; the serializer guards these with its checkpoint lock.
type IndexJournal interface {
	// AppendBatch durably appends a batch of index records with the
	// given sequence number.
	AppendBatch(records []IndexRecord, sequence uint64) error

	// Replay invokes the callback for every valid batch in the
	// journal, in append order. Replay stops silently at the first
	// invalid batch, as anything beyond it was not confirmed
	// durable.
	Replay(callback func(records []IndexRecord, sequence uint64) error) error

	// Reset discards all batches, to be called after their effects
	// have been captured by a checkpoint.
	Reset() error

	// SizeBytes returns the current size of the journal.
	SizeBytes() int64
}

// PersistentStateStore provides access to the non-payload state of a
// store: the superblock, the index checkpoint and the index journal.
// Payload data lives on the ExtentDevice; everything needed to
// interpret it after a restart lives here. Recovery reads only this
// state and never scans the data extents.
//
// Implementations must write the superblock and checkpoint atomically:
// after a crash, either the previous or the new version must be read
// back, never a mixture.
type PersistentStateStore interface {
	// ReadSuperblock returns the store's superblock, or a NotFound
	// error if the store has not been created yet.
	ReadSuperblock() (*Superblock, error)

	// WriteSuperblock atomically replaces the superblock.
	WriteSuperblock(superblock *Superblock) error

	// ReadCheckpoint returns the most recent index checkpoint and
	// its sequence number. A store without a checkpoint returns an
	// empty record list and sequence zero.
	ReadCheckpoint() ([]IndexRecord, uint64, error)

	// WriteCheckpoint atomically replaces the index checkpoint.
	// All journal batches with a sequence number not greater than
	// the given one are reflected in the records.
	WriteCheckpoint(records []IndexRecord, sequence uint64) error

	// OpenJournal opens the store's index journal, creating it if
	// necessary.
	OpenJournal() (IndexJournal, error)
}
