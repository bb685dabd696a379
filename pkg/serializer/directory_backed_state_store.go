package serializer

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/tessera-db/tessera/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	superblockFileName    = "superblock"
	checkpointFileName    = "checkpoint"
	journalFileName       = "journal"
	superblockSizeBytes   = 4 + 4 + 16 + 8 + 8 + 8 + 8 + 8
	checkpointHeaderBytes = 4 + 8 + 8 + 8
	journalBatchHeaderBytes = 4 + 8 + 4 + 8
)

type directoryBackedStateStore struct {
	directory string

	superblockLock   sync.Mutex
	cachedSuperblock *Superblock
}

// NewDirectoryBackedStateStore creates a PersistentStateStore that
// keeps the superblock, checkpoint and journal as separate files inside
// a directory. The superblock and checkpoint are replaced atomically by
// writing to a temporary file, synchronizing it and renaming it over
// the previous version.
func NewDirectoryBackedStateStore(directory string) PersistentStateStore {
	return &directoryBackedStateStore{
		directory: directory,
	}
}

// writeFileAtomically writes a blob to a file in such a way that a
// crash leaves either the previous version or the new version in place.
func (ss *directoryBackedStateStore) writeFileAtomically(name string, data []byte) error {
	finalPath := filepath.Join(ss.directory, name)
	newPath := finalPath + ".new"
	if err := os.Remove(newPath); err != nil && !os.IsNotExist(err) {
		return util.StatusWrapWithCode(err, codes.Internal, "Failed to remove previous temporary file")
	}
	f, err := os.OpenFile(newPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		return util.StatusWrapWithCode(err, codes.Internal, "Failed to create temporary file")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return util.StatusWrapWithCode(err, codes.Internal, "Failed to write to temporary file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return util.StatusWrapWithCode(err, codes.Internal, "Failed to synchronize temporary file")
	}
	if err := f.Close(); err != nil {
		return util.StatusWrapWithCode(err, codes.Internal, "Failed to close temporary file")
	}
	if err := os.Rename(newPath, finalPath); err != nil {
		return util.StatusWrapWithCode(err, codes.Internal, "Failed to rename temporary file")
	}
	d, err := os.Open(ss.directory)
	if err != nil {
		return util.StatusWrapWithCode(err, codes.Internal, "Failed to open directory")
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return util.StatusWrapWithCode(err, codes.Internal, "Failed to synchronize directory")
	}
	return nil
}

func (ss *directoryBackedStateStore) ReadSuperblock() (*Superblock, error) {
	ss.superblockLock.Lock()
	defer ss.superblockLock.Unlock()
	return ss.readSuperblockLocked()
}

func (ss *directoryBackedStateStore) readSuperblockLocked() (*Superblock, error) {
	if ss.cachedSuperblock != nil {
		s := *ss.cachedSuperblock
		return &s, nil
	}
	b, err := os.ReadFile(filepath.Join(ss.directory, superblockFileName))
	if os.IsNotExist(err) {
		return nil, status.Error(codes.NotFound, "Store has not been created yet")
	}
	if err != nil {
		return nil, util.StatusWrapWithCode(err, codes.Internal, "Failed to read superblock")
	}
	if len(b) != superblockSizeBytes ||
		binary.LittleEndian.Uint32(b) != storeHeaderMagic ||
		binary.LittleEndian.Uint32(b[4:]) != storeFormatVersion ||
		fnv1a(storeHeaderMagic, b[:superblockSizeBytes-8]) != binary.LittleEndian.Uint64(b[superblockSizeBytes-8:]) {
		return nil, status.Error(codes.Internal, "Superblock is corrupted")
	}
	superblock := &Superblock{
		MaxBlockSizeBytes:  int64(binary.LittleEndian.Uint64(b[24:])),
		ExtentSizeBytes:    int64(binary.LittleEndian.Uint64(b[32:])),
		SlotAlignmentBytes: int64(binary.LittleEndian.Uint64(b[40:])),
		HashSeed:           binary.LittleEndian.Uint64(b[48:]),
	}
	copy(superblock.StoreUUID[:], b[8:])
	ss.cachedSuperblock = superblock
	s := *superblock
	return &s, nil
}

func (ss *directoryBackedStateStore) WriteSuperblock(superblock *Superblock) error {
	b := make([]byte, superblockSizeBytes)
	binary.LittleEndian.PutUint32(b, storeHeaderMagic)
	binary.LittleEndian.PutUint32(b[4:], storeFormatVersion)
	copy(b[8:], superblock.StoreUUID[:])
	binary.LittleEndian.PutUint64(b[24:], uint64(superblock.MaxBlockSizeBytes))
	binary.LittleEndian.PutUint64(b[32:], uint64(superblock.ExtentSizeBytes))
	binary.LittleEndian.PutUint64(b[40:], uint64(superblock.SlotAlignmentBytes))
	binary.LittleEndian.PutUint64(b[48:], superblock.HashSeed)
	binary.LittleEndian.PutUint64(b[superblockSizeBytes-8:], fnv1a(storeHeaderMagic, b[:superblockSizeBytes-8]))

	if err := ss.writeFileAtomically(superblockFileName, b); err != nil {
		return util.StatusWrap(err, "Failed to write superblock")
	}
	ss.superblockLock.Lock()
	s := *superblock
	ss.cachedSuperblock = &s
	ss.superblockLock.Unlock()
	return nil
}

func (ss *directoryBackedStateStore) hashSeed() (uint64, error) {
	ss.superblockLock.Lock()
	defer ss.superblockLock.Unlock()
	superblock, err := ss.readSuperblockLocked()
	if err != nil {
		return 0, util.StatusWrap(err, "Failed to determine hash seed")
	}
	return superblock.HashSeed, nil
}

func (ss *directoryBackedStateStore) ReadCheckpoint() ([]IndexRecord, uint64, error) {
	seed, err := ss.hashSeed()
	if err != nil {
		return nil, 0, err
	}
	b, err := os.ReadFile(filepath.Join(ss.directory, checkpointFileName))
	if os.IsNotExist(err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, util.StatusWrapWithCode(err, codes.Internal, "Failed to read checkpoint")
	}
	if len(b) < checkpointHeaderBytes || binary.LittleEndian.Uint32(b) != checkpointMagic {
		return nil, 0, status.Error(codes.Internal, "Checkpoint is corrupted")
	}
	sequence := binary.LittleEndian.Uint64(b[4:])
	count := binary.LittleEndian.Uint64(b[12:])
	checksum := binary.LittleEndian.Uint64(b[20:])
	payload := b[checkpointHeaderBytes:]
	if uint64(len(payload)) != count*indexRecordSizeBytes || fnv1a(seed, payload) != checksum {
		return nil, 0, status.Error(codes.Internal, "Checkpoint is corrupted")
	}
	return unmarshalIndexRecords(payload), sequence, nil
}

func (ss *directoryBackedStateStore) WriteCheckpoint(records []IndexRecord, sequence uint64) error {
	seed, err := ss.hashSeed()
	if err != nil {
		return err
	}
	payload := marshalIndexRecords(records)
	b := make([]byte, checkpointHeaderBytes, checkpointHeaderBytes+len(payload))
	binary.LittleEndian.PutUint32(b, checkpointMagic)
	binary.LittleEndian.PutUint64(b[4:], sequence)
	binary.LittleEndian.PutUint64(b[12:], uint64(len(records)))
	binary.LittleEndian.PutUint64(b[20:], fnv1a(seed, payload))
	b = append(b, payload...)
	if err := ss.writeFileAtomically(checkpointFileName, b); err != nil {
		return util.StatusWrap(err, "Failed to write checkpoint")
	}
	return nil
}

func (ss *directoryBackedStateStore) OpenJournal() (IndexJournal, error) {
	seed, err := ss.hashSeed()
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(ss.directory, journalFileName), os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, util.StatusWrapWithCode(err, codes.Internal, "Failed to open journal")
	}
	return &fileIndexJournal{
		file: f,
		seed: seed,
	}, nil
}

// fileIndexJournal is an IndexJournal backed by a plain file. Appends
// are written at a tracked offset that only advances after the batch
// has been synchronized, so that a failed or torn append is overwritten
// by the next one and never replayed.
type fileIndexJournal struct {
	file *os.File
	seed uint64

	lock        sync.Mutex
	offsetBytes int64
	initialized bool
}

func journalBatchSeed(seed, sequence uint64) uint64 {
	return seed ^ sequence
}

// initializeLocked determines the append offset by scanning the
// existing journal contents for its last valid batch.
func (j *fileIndexJournal) initializeLocked() error {
	if j.initialized {
		return nil
	}
	if err := j.replayLocked(func([]IndexRecord, uint64) error { return nil }); err != nil {
		return err
	}
	j.initialized = true
	return nil
}

func (j *fileIndexJournal) replayLocked(callback func(records []IndexRecord, sequence uint64) error) error {
	if _, err := j.file.Seek(0, io.SeekStart); err != nil {
		return util.StatusWrapWithCode(err, codes.Internal, "Failed to rewind journal")
	}
	data, err := io.ReadAll(j.file)
	if err != nil {
		return util.StatusWrapWithCode(err, codes.Internal, "Failed to read journal")
	}
	offset := int64(0)
	for {
		remaining := data[offset:]
		if len(remaining) < journalBatchHeaderBytes || binary.LittleEndian.Uint32(remaining) != journalBatchMagic {
			break
		}
		sequence := binary.LittleEndian.Uint64(remaining[4:])
		count := binary.LittleEndian.Uint32(remaining[12:])
		checksum := binary.LittleEndian.Uint64(remaining[16:])
		payloadSize := int64(count) * indexRecordSizeBytes
		if int64(len(remaining)) < journalBatchHeaderBytes+payloadSize {
			break
		}
		payload := remaining[journalBatchHeaderBytes : journalBatchHeaderBytes+payloadSize]
		if fnv1a(journalBatchSeed(j.seed, sequence), payload) != checksum {
			break
		}
		if err := callback(unmarshalIndexRecords(payload), sequence); err != nil {
			return err
		}
		offset += journalBatchHeaderBytes + payloadSize
	}
	j.offsetBytes = offset
	return nil
}

func (j *fileIndexJournal) AppendBatch(records []IndexRecord, sequence uint64) error {
	payload := marshalIndexRecords(records)
	b := make([]byte, journalBatchHeaderBytes, journalBatchHeaderBytes+len(payload))
	binary.LittleEndian.PutUint32(b, journalBatchMagic)
	binary.LittleEndian.PutUint64(b[4:], sequence)
	binary.LittleEndian.PutUint32(b[12:], uint32(len(records)))
	binary.LittleEndian.PutUint64(b[16:], fnv1a(journalBatchSeed(j.seed, sequence), payload))
	b = append(b, payload...)

	j.lock.Lock()
	defer j.lock.Unlock()
	if err := j.initializeLocked(); err != nil {
		return err
	}
	if _, err := j.file.WriteAt(b, j.offsetBytes); err != nil {
		return util.StatusWrapWithCode(err, codes.Internal, "Failed to append to journal")
	}
	if err := j.file.Sync(); err != nil {
		return util.StatusWrapWithCode(err, codes.Internal, "Failed to synchronize journal")
	}
	// Only advance the append offset once the batch is durable.
	j.offsetBytes += int64(len(b))
	return nil
}

func (j *fileIndexJournal) Replay(callback func(records []IndexRecord, sequence uint64) error) error {
	j.lock.Lock()
	defer j.lock.Unlock()
	if err := j.replayLocked(callback); err != nil {
		return err
	}
	j.initialized = true
	return nil
}

func (j *fileIndexJournal) Reset() error {
	j.lock.Lock()
	defer j.lock.Unlock()
	if err := j.file.Truncate(0); err != nil {
		return util.StatusWrapWithCode(err, codes.Internal, "Failed to truncate journal")
	}
	if err := j.file.Sync(); err != nil {
		return util.StatusWrapWithCode(err, codes.Internal, "Failed to synchronize journal")
	}
	j.offsetBytes = 0
	j.initialized = true
	return nil
}

func (j *fileIndexJournal) SizeBytes() int64 {
	j.lock.Lock()
	defer j.lock.Unlock()
	return j.offsetBytes
}
