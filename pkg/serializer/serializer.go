package serializer

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/tessera-db/tessera/pkg/clock"
	"github.com/tessera-db/tessera/pkg/extentdevice"
	"github.com/tessera-db/tessera/pkg/ioaccount"
	"github.com/tessera-db/tessera/pkg/random"
	"github.com/tessera-db/tessera/pkg/util"

	"github.com/google/uuid"
	"github.com/ncw/directio"
	"github.com/prometheus/client_golang/prometheus"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	serializerMetrics sync.Once

	serializerBlocksWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tessera",
			Subsystem: "serializer",
			Name:      "blocks_written_total",
			Help:      "Number of blocks written to data extents.",
		},
		[]string{"store"})
	serializerBlocksWrittenSizeBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tessera",
			Subsystem: "serializer",
			Name:      "blocks_written_size_bytes_total",
			Help:      "Total payload size of blocks written to data extents.",
		},
		[]string{"store"})
	serializerBlocksRead = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tessera",
			Subsystem: "serializer",
			Name:      "blocks_read_total",
			Help:      "Number of blocks read from data extents.",
		},
		[]string{"store"})
	serializerIndexOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tessera",
			Subsystem: "serializer",
			Name:      "index_operations_total",
			Help:      "Number of index operations, partitioned by whether their timestamp caused them to take effect.",
		},
		[]string{"store", "outcome"})
	serializerJournalSizeBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tessera",
			Subsystem: "serializer",
			Name:      "index_journal_size_bytes",
			Help:      "Size of the index journal since the last checkpoint.",
		},
		[]string{"store"})
)

// BlockWrite describes a single block to be written by BlockWrites().
type BlockWrite struct {
	BlockID BlockID
	Data    []byte
}

// IndexWriteOp describes a single entry of an index write batch. A nil
// Token marks the block identifier as deleted. A zero Timestamp makes
// the serializer assign the next internal timestamp.
type IndexWriteOp struct {
	BlockID   BlockID
	Timestamp Timestamp
	Token     *BlockToken
}

// Serializer is a log-structured block store. Blocks are appended to
// fixed-size extents on a data device and identified by reference
// counted tokens. A persistent index maps block identifiers to tokens;
// index updates are written in atomic, durable batches. Space is
// reclaimed one whole extent at a time, with a background garbage
// collector relocating the remaining live blocks out of mostly-empty
// extents.
type Serializer struct {
	device      extentdevice.ExtentDevice
	stateStore  PersistentStateStore
	journal     IndexJournal
	scheduler   *ioaccount.WeightedFairScheduler
	gcAccount   *ioaccount.Account
	clock       clock.Clock
	errorLogger util.ErrorLogger
	bufferPool  *bufferPool

	storeName          string
	storeUUID          uuid.UUID
	maxBlockSizeBytes  int64
	extentSizeBytes    int64
	slotAlignmentBytes int64
	hashSeed           uint64

	gcInterval          time.Duration
	gcLivenessThreshold float64
	gcBudgetBytes       int64
	checkpointInterval  time.Duration

	// journalLock serializes checkpointing against journal appends.
	// Index write batches hold it shared; the checkpointer holds it
	// exclusively while it snapshots the index and resets the
	// journal.
	journalLock sync.RWMutex

	// lock guards all bookkeeping state below. No device or journal
	// I/O is performed while holding it.
	lock             sync.Mutex
	index            *blockIndex
	extents          *extentTable
	timestampCounter Timestamp
	writeSequence    uint64
	epoch            uint64
	journalSequence  uint64
	lastIdleSequence uint64
	closed           bool

	inFlightWrites sync.WaitGroup

	blocksWritten          prometheus.Counter
	blocksWrittenSizeBytes prometheus.Counter
	blocksRead             prometheus.Counter
	indexApplied           prometheus.Counter
	indexIgnored           prometheus.Counter
	journalSizeBytes       prometheus.Gauge
}

func headerSlotSizeBytes(slotAlignmentBytes int64) int64 {
	return (storeHeaderSizeBytes + slotAlignmentBytes - 1) / slotAlignmentBytes * slotAlignmentBytes
}

// Create initializes a new store on an empty extent device. It writes
// the store header to extent 0 and records the superblock in the
// persistent state store. Create fails if the state store already holds
// a superblock.
func Create(device extentdevice.ExtentDevice, stateStore PersistentStateStore, staticConfig StaticConfig) error {
	staticConfig.applyDefaults()
	if err := staticConfig.validate(); err != nil {
		return err
	}
	if device.ExtentSizeBytes() != staticConfig.ExtentSizeBytes {
		return status.Errorf(codes.InvalidArgument, "Extent device has extent size %d, while the store is configured for %d", device.ExtentSizeBytes(), staticConfig.ExtentSizeBytes)
	}
	if _, err := stateStore.ReadSuperblock(); err == nil {
		return status.Error(codes.AlreadyExists, "State store already contains a superblock")
	} else if status.Code(err) != codes.NotFound {
		return util.StatusWrap(err, "Failed to check for an existing superblock")
	}

	storeUUID := util.Must(uuid.NewRandom())
	var seed [8]byte
	random.CryptoThreadSafeGenerator.Read(seed[:])
	hashSeed := binary.LittleEndian.Uint64(seed[:])

	header := storeHeader{
		storeUUID:          storeUUID,
		maxBlockSizeBytes:  staticConfig.MaxBlockSizeBytes,
		extentSizeBytes:    staticConfig.ExtentSizeBytes,
		slotAlignmentBytes: staticConfig.SlotAlignmentBytes,
	}
	b := directio.AlignedBlock(int(headerSlotSizeBytes(staticConfig.SlotAlignmentBytes)))
	copy(b, header.marshal())
	if _, err := device.WriteAt(b, 0); err != nil {
		return util.StatusWrap(err, "Failed to write store header")
	}
	if err := device.Sync(); err != nil {
		return util.StatusWrap(err, "Failed to synchronize store header")
	}

	if err := stateStore.WriteSuperblock(&Superblock{
		StoreUUID:          storeUUID,
		MaxBlockSizeBytes:  staticConfig.MaxBlockSizeBytes,
		ExtentSizeBytes:    staticConfig.ExtentSizeBytes,
		SlotAlignmentBytes: staticConfig.SlotAlignmentBytes,
		HashSeed:           hashSeed,
	}); err != nil {
		return util.StatusWrap(err, "Failed to write superblock")
	}
	return nil
}

// New opens an existing store. The index is rebuilt from the
// checkpoint and the journal held by the persistent state store; data
// extents are never scanned. Any block writes that were still in
// flight when the previous process terminated never entered the index
// and are treated as dead.
func New(device extentdevice.ExtentDevice, stateStore PersistentStateStore, clk clock.Clock, errorLogger util.ErrorLogger, dynamicConfig DynamicConfig) (*Serializer, error) {
	dynamicConfig.applyDefaults()

	superblock, err := stateStore.ReadSuperblock()
	if err != nil {
		return nil, util.StatusWrap(err, "Failed to read superblock")
	}
	if device.ExtentSizeBytes() != superblock.ExtentSizeBytes {
		return nil, status.Errorf(codes.FailedPrecondition, "Extent device has extent size %d, while the store was created with %d", device.ExtentSizeBytes(), superblock.ExtentSizeBytes)
	}

	headerBuffer := directio.AlignedBlock(int(headerSlotSizeBytes(superblock.SlotAlignmentBytes)))
	if _, err := device.ReadAt(headerBuffer, 0); err != nil {
		return nil, util.StatusWrap(err, "Failed to read store header")
	}
	header, err := unmarshalStoreHeader(headerBuffer)
	if err != nil {
		return nil, err
	}
	if header.storeUUID != superblock.StoreUUID {
		return nil, status.Errorf(codes.FailedPrecondition, "Extent device belongs to store %s, while the state store belongs to store %s", header.storeUUID, superblock.StoreUUID)
	}

	serializerMetrics.Do(func() {
		prometheus.MustRegister(serializerBlocksWritten)
		prometheus.MustRegister(serializerBlocksWrittenSizeBytes)
		prometheus.MustRegister(serializerBlocksRead)
		prometheus.MustRegister(serializerIndexOperations)
		prometheus.MustRegister(serializerJournalSizeBytes)
	})

	scheduler := ioaccount.NewWeightedFairScheduler(dynamicConfig.IOConcurrency, dynamicConfig.StoreName)
	s := &Serializer{
		device:      device,
		stateStore:  stateStore,
		scheduler:   scheduler,
		gcAccount:   scheduler.NewAccount(1),
		clock:       clk,
		errorLogger: errorLogger,
		bufferPool:  newBufferPool(superblock.MaxBlockSizeBytes, superblock.SlotAlignmentBytes),

		storeName:          dynamicConfig.StoreName,
		storeUUID:          superblock.StoreUUID,
		maxBlockSizeBytes:  superblock.MaxBlockSizeBytes,
		extentSizeBytes:    superblock.ExtentSizeBytes,
		slotAlignmentBytes: superblock.SlotAlignmentBytes,
		hashSeed:           superblock.HashSeed,

		gcInterval:          dynamicConfig.GCInterval,
		gcLivenessThreshold: dynamicConfig.GCLivenessThreshold,
		gcBudgetBytes:       dynamicConfig.GCBudgetBytes,
		checkpointInterval:  dynamicConfig.CheckpointInterval,

		index:   newBlockIndex(),
		extents: newExtentTable(dynamicConfig.StoreName, device, dynamicConfig.YoungExtentEpochLag),

		blocksWritten:          serializerBlocksWritten.WithLabelValues(dynamicConfig.StoreName),
		blocksWrittenSizeBytes: serializerBlocksWrittenSizeBytes.WithLabelValues(dynamicConfig.StoreName),
		blocksRead:             serializerBlocksRead.WithLabelValues(dynamicConfig.StoreName),
		indexApplied:           serializerIndexOperations.WithLabelValues(dynamicConfig.StoreName, "applied"),
		indexIgnored:           serializerIndexOperations.WithLabelValues(dynamicConfig.StoreName, "ignored"),
		journalSizeBytes:       serializerJournalSizeBytes.WithLabelValues(dynamicConfig.StoreName),
	}

	if err := s.recover(); err != nil {
		return nil, util.StatusWrap(err, "Failed to recover index")
	}
	s.journalSizeBytes.Set(float64(s.journal.SizeBytes()))
	return s, nil
}

func (s *Serializer) recover() error {
	journal, err := s.stateStore.OpenJournal()
	if err != nil {
		return util.StatusWrap(err, "Failed to open journal")
	}
	s.journal = journal

	checkpointRecords, checkpointSequence, err := s.stateStore.ReadCheckpoint()
	if err != nil {
		return util.StatusWrap(err, "Failed to read checkpoint")
	}
	state := map[BlockID]IndexRecord{}
	for _, record := range checkpointRecords {
		state[record.BlockID] = record
	}
	lastSequence := checkpointSequence
	if err := journal.Replay(func(records []IndexRecord, sequence uint64) error {
		// Batches that predate the checkpoint can linger if the
		// previous process crashed between checkpointing and
		// resetting the journal.
		if sequence > checkpointSequence {
			for _, record := range records {
				applyRecordToRecoveryState(state, record)
			}
			if sequence > lastSequence {
				lastSequence = sequence
			}
		}
		return nil
	}); err != nil {
		return util.StatusWrap(err, "Failed to replay journal")
	}

	for _, record := range state {
		if record.Timestamp > s.timestampCounter {
			s.timestampCounter = record.Timestamp
		}
		entry := &indexEntry{
			timestamp: record.Timestamp,
			deleted:   record.Deleted,
		}
		if !record.Deleted {
			token := &BlockToken{
				serializer:       s,
				blockID:          record.BlockID,
				extent:           record.Extent,
				offsetBytes:      record.OffsetBytes,
				payloadSizeBytes: record.PayloadSizeBytes,
			}
			token.refcount.Store(1)
			entry.token = token
			s.extents.recoverSlotLocked(record.Extent, record.OffsetBytes, token.slotSizeBytes(s.slotAlignmentBytes))
		}
		s.index.entries[record.BlockID] = entry
	}
	s.extents.finishRecoveryLocked()
	s.journalSequence = lastSequence + 1
	return nil
}

// MaxBlockSize returns the maximum payload size of a single block.
func (s *Serializer) MaxBlockSize() int64 {
	return s.maxBlockSizeBytes
}

// AllocateBuffer returns a reusable buffer that is large enough to hold
// a maximum-size block and satisfies the alignment requirements of the
// data device.
func (s *Serializer) AllocateBuffer() []byte {
	return s.bufferPool.allocate()
}

// ReleaseBuffer returns a buffer obtained through AllocateBuffer() to
// the pool.
func (s *Serializer) ReleaseBuffer(b []byte) {
	s.bufferPool.release(b)
}

// NewIOAccount creates a scheduling account. All I/O submitted against
// the same account shares its priority weight; bandwidth is divided
// between accounts proportionally to their weights.
func (s *Serializer) NewIOAccount(weight uint32) *ioaccount.Account {
	return s.scheduler.NewAccount(weight)
}

type pendingBlockWrite struct {
	write  BlockWrite
	token  *BlockToken
	header slotHeader
}

// BlockWrites appends a batch of blocks to the store. It returns one
// token per block as soon as space has been reserved; the device writes
// proceed in the background and completion is invoked exactly once with
// their combined result. The written blocks are not findable by block
// identifier until the tokens are entered into the index through
// IndexWrite(). Callers must keep the Data slices unmodified until
// completion has been invoked.
func (s *Serializer) BlockWrites(ctx context.Context, writes []BlockWrite, account *ioaccount.Account, completion func(error)) ([]*BlockToken, error) {
	for _, write := range writes {
		if int64(len(write.Data)) > s.maxBlockSizeBytes {
			return nil, status.Errorf(codes.InvalidArgument, "Block %d has size %d, which exceeds the maximum block size %d", write.BlockID, len(write.Data), s.maxBlockSizeBytes)
		}
	}

	pending := make([]pendingBlockWrite, 0, len(writes))
	tokens := make([]*BlockToken, 0, len(writes))
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return nil, status.Error(codes.Unavailable, "Store is closed for writing")
	}
	for _, write := range writes {
		slotSizeBytes := alignSlotSize(int64(len(write.Data)), s.slotAlignmentBytes)
		extent, offsetBytes, err := s.extents.allocateSlotLocked(slotSizeBytes, s.epoch)
		if err != nil {
			// Roll back the slots already reserved for this
			// batch.
			for _, p := range pending {
				s.extents.writeFinishedLocked(p.token.extent, s.epoch)
				s.extents.releaseSlotLocked(p.token.extent, p.token.slotSizeBytes(s.slotAlignmentBytes))
			}
			s.lock.Unlock()
			return nil, util.StatusWrap(err, "Failed to allocate a block slot")
		}
		token := &BlockToken{
			serializer:       s,
			blockID:          write.BlockID,
			extent:           extent,
			offsetBytes:      offsetBytes,
			payloadSizeBytes: int64(len(write.Data)),
		}
		token.refcount.Store(1)
		pending = append(pending, pendingBlockWrite{
			write: write,
			token: token,
			header: slotHeader{
				blockID:          write.BlockID,
				payloadSizeBytes: int64(len(write.Data)),
				writeSequence:    s.writeSequence,
			},
		})
		s.writeSequence++
		tokens = append(tokens, token)
	}
	s.inFlightWrites.Add(1)
	s.lock.Unlock()

	go func() {
		defer s.inFlightWrites.Done()
		err := s.performBlockWrites(ctx, pending, account)
		s.lock.Lock()
		for _, p := range pending {
			s.extents.writeFinishedLocked(p.token.extent, s.epoch)
		}
		s.lock.Unlock()
		if err != nil {
			s.errorLogger.Log(util.StatusWrap(err, "Block write batch failed"))
		}
		completion(err)
	}()
	return tokens, nil
}

func (s *Serializer) performBlockWrites(ctx context.Context, pending []pendingBlockWrite, account *ioaccount.Account) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, p := range pending {
		group.Go(func() error {
			slotSizeBytes := p.token.slotSizeBytes(s.slotAlignmentBytes)
			return s.scheduler.Submit(groupCtx, account, slotSizeBytes, func() error {
				buffer := s.bufferPool.allocate()
				defer s.bufferPool.release(buffer)
				headerBytes := p.header.marshal(s.hashSeed)
				copy(buffer, headerBytes[:])
				copy(buffer[slotHeaderSizeBytes:], p.write.Data)
				for i := slotHeaderSizeBytes + len(p.write.Data); int64(i) < slotSizeBytes; i++ {
					buffer[i] = 0
				}
				offsetBytes := int64(p.token.extent)*s.extentSizeBytes + p.token.offsetBytes
				if _, err := s.device.WriteAt(buffer[:slotSizeBytes], offsetBytes); err != nil {
					return util.StatusWrapf(err, "Failed to write block %d", p.write.BlockID)
				}
				s.blocksWritten.Inc()
				s.blocksWrittenSizeBytes.Add(float64(len(p.write.Data)))
				return nil
			})
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	if err := s.device.Sync(); err != nil {
		return util.StatusWrap(err, "Failed to synchronize data device")
	}
	return nil
}

// IndexWrite atomically applies a batch of index operations. The batch
// is first made durable in the journal and then applied to the
// in-memory index; either all operations of the batch survive a crash
// or none do. Operations whose timestamp is not strictly newer than
// the entry they would replace are silent no-ops. The index acquires
// its own references to the tokens it retains; the caller's references
// remain owned by the caller.
func (s *Serializer) IndexWrite(ctx context.Context, ops []IndexWriteOp, account *ioaccount.Account) error {
	if len(ops) == 0 {
		return nil
	}
	for _, op := range ops {
		if op.Token != nil && op.Token.blockID != op.BlockID {
			return status.Errorf(codes.InvalidArgument, "Token for block %d used in an operation for block %d", op.Token.blockID, op.BlockID)
		}
	}

	s.journalLock.RLock()
	defer s.journalLock.RUnlock()

	records := make([]IndexRecord, len(ops))
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return status.Error(codes.Unavailable, "Store is closed for writing")
	}
	for i, op := range ops {
		timestamp := op.Timestamp
		if timestamp == 0 {
			s.timestampCounter++
			timestamp = s.timestampCounter
		} else if timestamp > s.timestampCounter {
			s.timestampCounter = timestamp
		}
		records[i] = IndexRecord{
			BlockID:   op.BlockID,
			Timestamp: timestamp,
		}
		if op.Token == nil {
			records[i].Deleted = true
		} else {
			records[i].Extent = op.Token.extent
			records[i].OffsetBytes = op.Token.offsetBytes
			records[i].PayloadSizeBytes = op.Token.payloadSizeBytes
		}
	}
	sequence := s.journalSequence
	s.journalSequence++
	s.lock.Unlock()

	if err := s.scheduler.Submit(ctx, account, int64(len(records))*indexRecordSizeBytes, func() error {
		return s.journal.AppendBatch(records, sequence)
	}); err != nil {
		return util.StatusWrap(err, "Failed to append index write batch to journal")
	}
	s.journalSizeBytes.Set(float64(s.journal.SizeBytes()))

	s.lock.Lock()
	for i, op := range ops {
		if records[i].Deleted {
			s.countIndexOutcome(s.index.applyDeleteLocked(records[i].BlockID, records[i].Timestamp))
		} else {
			token := op.Token.Acquire()
			applied := s.index.applyWriteLocked(records[i].BlockID, records[i].Timestamp, token)
			if !applied {
				token.releaseLocked()
			}
			s.countIndexOutcome(applied)
		}
	}
	s.epoch++
	s.extents.promoteYoungLocked(s.epoch)
	s.lock.Unlock()
	return nil
}

func (s *Serializer) countIndexOutcome(applied bool) {
	if applied {
		s.indexApplied.Inc()
	} else {
		s.indexIgnored.Inc()
	}
}

// ReadBlock reads the payload of a block through its token into p,
// which must be large enough to hold it. The caller must hold a
// reference to the token for the full duration of the call.
func (s *Serializer) ReadBlock(ctx context.Context, token *BlockToken, p []byte, account *ioaccount.Account) (int, error) {
	if int64(len(p)) < token.payloadSizeBytes {
		return 0, status.Errorf(codes.InvalidArgument, "Buffer of size %d cannot hold the block's %d bytes", len(p), token.payloadSizeBytes)
	}
	slotSizeBytes := token.slotSizeBytes(s.slotAlignmentBytes)
	if err := s.scheduler.Submit(ctx, account, slotSizeBytes, func() error {
		buffer := s.bufferPool.allocate()
		defer s.bufferPool.release(buffer)
		offsetBytes := int64(token.extent)*s.extentSizeBytes + token.offsetBytes
		if _, err := s.device.ReadAt(buffer[:slotSizeBytes], offsetBytes); err != nil {
			return util.StatusWrapf(err, "Failed to read block %d", token.blockID)
		}
		header, err := unmarshalSlotHeader(buffer, s.hashSeed)
		if err != nil {
			return util.StatusWrapf(err, "Failed to validate block %d", token.blockID)
		}
		if header.blockID != token.blockID || header.payloadSizeBytes != token.payloadSizeBytes {
			return status.Errorf(codes.DataLoss, "Slot of block %d contains block %d", token.blockID, header.blockID)
		}
		copy(p, buffer[slotHeaderSizeBytes:slotHeaderSizeBytes+token.payloadSizeBytes])
		s.blocksRead.Inc()
		return nil
	}); err != nil {
		return 0, err
	}
	return int(token.payloadSizeBytes), nil
}

// GetBlock looks up a block identifier in the index and reads its
// payload into p. It returns NOT_FOUND for identifiers that are absent
// or deleted.
func (s *Serializer) GetBlock(ctx context.Context, blockID BlockID, p []byte, account *ioaccount.Account) (int, error) {
	s.lock.Lock()
	token, ok := s.index.getLocked(blockID)
	if !ok {
		s.lock.Unlock()
		return 0, status.Errorf(codes.NotFound, "Block %d does not exist", blockID)
	}
	token.Acquire()
	s.lock.Unlock()
	defer token.Release()
	return s.ReadBlock(ctx, token, p, account)
}

// GetBlockToken looks up a block identifier in the index and returns
// its token with an additional reference that the caller must release.
func (s *Serializer) GetBlockToken(blockID BlockID) (*BlockToken, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	token, ok := s.index.getLocked(blockID)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "Block %d does not exist", blockID)
	}
	return token.Acquire(), nil
}

func (s *Serializer) releaseBlockToken(t *BlockToken) {
	s.lock.Lock()
	s.extents.releaseSlotLocked(t.extent, t.slotSizeBytes(s.slotAlignmentBytes))
	s.lock.Unlock()
}

func (s *Serializer) releaseBlockTokenLocked(t *BlockToken) {
	s.extents.releaseSlotLocked(t.extent, t.slotSizeBytes(s.slotAlignmentBytes))
}

// Checkpoint captures the full index in the persistent state store
// and resets the journal. Index write batches are blocked while the
// snapshot is taken, so that the checkpoint can never miss a batch that
// was already applied.
func (s *Serializer) Checkpoint() error {
	s.journalLock.Lock()
	defer s.journalLock.Unlock()

	s.lock.Lock()
	records := s.index.snapshotLocked()
	sequence := s.journalSequence - 1
	s.lock.Unlock()

	if err := s.stateStore.WriteCheckpoint(records, sequence); err != nil {
		return util.StatusWrap(err, "Failed to write checkpoint")
	}
	if err := s.journal.Reset(); err != nil {
		return util.StatusWrap(err, "Failed to reset journal")
	}
	s.journalSizeBytes.Set(0)
	return nil
}

// Run executes the background maintenance of the store: periodic
// garbage collection and index checkpointing. It is meant to be run as
// a program routine and returns once the context is canceled.
func (s *Serializer) Run(ctx context.Context) error {
	gcTicker, gcChan := s.clock.NewTicker(s.gcInterval)
	defer gcTicker.Stop()
	checkpointTicker, checkpointChan := s.clock.NewTicker(s.checkpointInterval)
	defer checkpointTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-gcChan:
			s.advanceEpochIfIdle()
			if err := s.CollectGarbage(ctx); err != nil && status.Code(err) != codes.Canceled {
				s.errorLogger.Log(util.StatusWrap(err, "Garbage collection failed"))
			}
		case <-checkpointChan:
			if s.journal.SizeBytes() > 0 {
				if err := s.Checkpoint(); err != nil {
					s.errorLogger.Log(err)
				}
			}
		}
	}
}

// advanceEpochIfIdle lets young extents age out during periods without
// index write traffic. The epoch is only advanced if no index write
// batch was started since the previous garbage collection cycle.
func (s *Serializer) advanceEpochIfIdle() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.journalSequence == s.lastIdleSequence {
		s.epoch++
		s.extents.promoteYoungLocked(s.epoch)
	}
	s.lastIdleSequence = s.journalSequence
}

// Close marks the store as closed for writing, waits for in-flight
// block writes to drain and takes a final checkpoint. Blocks remain
// readable through previously obtained tokens.
func (s *Serializer) Close() error {
	s.lock.Lock()
	alreadyClosed := s.closed
	s.closed = true
	s.lock.Unlock()
	if alreadyClosed {
		return nil
	}
	s.inFlightWrites.Wait()
	if err := s.Checkpoint(); err != nil {
		return util.StatusWrap(err, "Failed to take final checkpoint")
	}
	return nil
}
