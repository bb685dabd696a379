package serializer

import (
	"math"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// StaticConfig holds the parameters of a store that are fixed at
// creation time and persisted in the store header. Opening a store
// always uses the values recorded on disk; the ones provided to
// Create() only take effect for freshly initialized stores.
type StaticConfig struct {
	// MaxBlockSizeBytes is the maximum payload size of a single
	// block.
	MaxBlockSizeBytes int64

	// ExtentSizeBytes is the size of a single extent, the unit of
	// space allocation and reclamation. Must be large enough to
	// hold at least one maximum-size block together with its slot
	// header.
	ExtentSizeBytes int64

	// SlotAlignmentBytes is the alignment of block slots within an
	// extent. When the store is placed on a direct I/O device, this
	// must be a multiple of the device's alignment requirement.
	SlotAlignmentBytes int64
}

// DefaultStaticConfig returns the static configuration used when fields
// are left at their zero values.
func DefaultStaticConfig() StaticConfig {
	return StaticConfig{
		MaxBlockSizeBytes:  4 * 1024,
		ExtentSizeBytes:    1 * 1024 * 1024,
		SlotAlignmentBytes: 512,
	}
}

func (c *StaticConfig) applyDefaults() {
	d := DefaultStaticConfig()
	if c.MaxBlockSizeBytes == 0 {
		c.MaxBlockSizeBytes = d.MaxBlockSizeBytes
	}
	if c.ExtentSizeBytes == 0 {
		c.ExtentSizeBytes = d.ExtentSizeBytes
	}
	if c.SlotAlignmentBytes == 0 {
		c.SlotAlignmentBytes = d.SlotAlignmentBytes
	}
}

func (c *StaticConfig) validate() error {
	if c.SlotAlignmentBytes < slotHeaderSizeBytes || c.SlotAlignmentBytes&(c.SlotAlignmentBytes-1) != 0 {
		return status.Errorf(codes.InvalidArgument, "Slot alignment %d is not a power of two of at least %d bytes", c.SlotAlignmentBytes, slotHeaderSizeBytes)
	}
	if c.ExtentSizeBytes%c.SlotAlignmentBytes != 0 {
		return status.Errorf(codes.InvalidArgument, "Extent size %d is not a multiple of the slot alignment %d", c.ExtentSizeBytes, c.SlotAlignmentBytes)
	}
	if c.MaxBlockSizeBytes < 1 || c.MaxBlockSizeBytes > math.MaxUint32 {
		return status.Errorf(codes.InvalidArgument, "Maximum block size %d cannot be represented in the 32-bit slot length field", c.MaxBlockSizeBytes)
	}
	if alignSlotSize(c.MaxBlockSizeBytes, c.SlotAlignmentBytes) > c.ExtentSizeBytes {
		return status.Errorf(codes.InvalidArgument, "Extent size %d cannot hold a block of the maximum size %d", c.ExtentSizeBytes, c.MaxBlockSizeBytes)
	}
	return nil
}

// DynamicConfig holds the parameters that may differ between openings
// of the same store: scheduling concurrency, garbage collection pacing
// and checkpointing behavior.
type DynamicConfig struct {
	// StoreName is used to label Prometheus metrics.
	StoreName string

	// IOConcurrency is the number of I/O requests the account
	// scheduler admits in parallel.
	IOConcurrency int

	// GCInterval is the pause between garbage collection cycles.
	GCInterval time.Duration

	// GCLivenessThreshold is the live-byte fraction below which an
	// old extent becomes a compaction candidate.
	GCLivenessThreshold float64

	// GCBudgetBytes bounds the number of live bytes the garbage
	// collector relocates per cycle.
	GCBudgetBytes int64

	// YoungExtentEpochLag is the number of index-write epochs that
	// must pass after an extent fills up before it is considered
	// old. Higher values retain extents in the young state longer,
	// giving in-flight index writes more time to land.
	YoungExtentEpochLag uint64

	// CheckpointInterval is the pause between index checkpoints.
	// Checkpointing bounds the size of the index journal and the
	// time needed to reopen the store.
	CheckpointInterval time.Duration
}

// DefaultDynamicConfig returns the dynamic configuration used when
// fields are left at their zero values.
func DefaultDynamicConfig() DynamicConfig {
	return DynamicConfig{
		StoreName:           "default",
		IOConcurrency:       16,
		GCInterval:          10 * time.Second,
		GCLivenessThreshold: 0.5,
		GCBudgetBytes:       64 * 1024 * 1024,
		YoungExtentEpochLag: 2,
		CheckpointInterval:  time.Minute,
	}
}

func (c *DynamicConfig) applyDefaults() {
	d := DefaultDynamicConfig()
	if c.StoreName == "" {
		c.StoreName = d.StoreName
	}
	if c.IOConcurrency == 0 {
		c.IOConcurrency = d.IOConcurrency
	}
	if c.GCInterval == 0 {
		c.GCInterval = d.GCInterval
	}
	if c.GCLivenessThreshold == 0 {
		c.GCLivenessThreshold = d.GCLivenessThreshold
	}
	if c.GCBudgetBytes == 0 {
		c.GCBudgetBytes = d.GCBudgetBytes
	}
	if c.YoungExtentEpochLag == 0 {
		c.YoungExtentEpochLag = d.YoungExtentEpochLag
	}
	if c.CheckpointInterval == 0 {
		c.CheckpointInterval = d.CheckpointInterval
	}
}
