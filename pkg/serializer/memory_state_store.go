package serializer

import (
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type memoryStateStore struct {
	lock           sync.Mutex
	superblock     *Superblock
	checkpoint     []IndexRecord
	checkpointSeq  uint64
	journalBatches []memoryJournalBatch
}

type memoryJournalBatch struct {
	records  []IndexRecord
	sequence uint64
}

// NewMemoryStateStore creates a PersistentStateStore that keeps all
// state in memory. It provides no durability across process restarts
// and is only intended for testing and ephemeral stores.
func NewMemoryStateStore() PersistentStateStore {
	return &memoryStateStore{}
}

func (ss *memoryStateStore) ReadSuperblock() (*Superblock, error) {
	ss.lock.Lock()
	defer ss.lock.Unlock()
	if ss.superblock == nil {
		return nil, status.Error(codes.NotFound, "Store has not been created yet")
	}
	s := *ss.superblock
	return &s, nil
}

func (ss *memoryStateStore) WriteSuperblock(superblock *Superblock) error {
	ss.lock.Lock()
	defer ss.lock.Unlock()
	s := *superblock
	ss.superblock = &s
	return nil
}

func (ss *memoryStateStore) ReadCheckpoint() ([]IndexRecord, uint64, error) {
	ss.lock.Lock()
	defer ss.lock.Unlock()
	records := make([]IndexRecord, len(ss.checkpoint))
	copy(records, ss.checkpoint)
	return records, ss.checkpointSeq, nil
}

func (ss *memoryStateStore) WriteCheckpoint(records []IndexRecord, sequence uint64) error {
	ss.lock.Lock()
	defer ss.lock.Unlock()
	ss.checkpoint = make([]IndexRecord, len(records))
	copy(ss.checkpoint, records)
	ss.checkpointSeq = sequence
	return nil
}

func (ss *memoryStateStore) OpenJournal() (IndexJournal, error) {
	return &memoryIndexJournal{stateStore: ss}, nil
}

type memoryIndexJournal struct {
	stateStore *memoryStateStore
}

func (j *memoryIndexJournal) AppendBatch(records []IndexRecord, sequence uint64) error {
	ss := j.stateStore
	ss.lock.Lock()
	defer ss.lock.Unlock()
	batch := memoryJournalBatch{
		records:  make([]IndexRecord, len(records)),
		sequence: sequence,
	}
	copy(batch.records, records)
	ss.journalBatches = append(ss.journalBatches, batch)
	return nil
}

func (j *memoryIndexJournal) Replay(callback func(records []IndexRecord, sequence uint64) error) error {
	ss := j.stateStore
	ss.lock.Lock()
	batches := ss.journalBatches
	ss.lock.Unlock()
	for _, batch := range batches {
		if err := callback(batch.records, batch.sequence); err != nil {
			return err
		}
	}
	return nil
}

func (j *memoryIndexJournal) Reset() error {
	ss := j.stateStore
	ss.lock.Lock()
	defer ss.lock.Unlock()
	ss.journalBatches = nil
	return nil
}

func (j *memoryIndexJournal) SizeBytes() int64 {
	ss := j.stateStore
	ss.lock.Lock()
	defer ss.lock.Unlock()
	size := int64(0)
	for _, batch := range ss.journalBatches {
		size += journalBatchHeaderBytes + int64(len(batch.records))*indexRecordSizeBytes
	}
	return size
}
