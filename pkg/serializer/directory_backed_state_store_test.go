package serializer_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tessera-db/tessera/pkg/clock"
	"github.com/tessera-db/tessera/pkg/extentdevice"
	"github.com/tessera-db/tessera/pkg/serializer"
	"github.com/tessera-db/tessera/pkg/testutil"
	"github.com/tessera-db/tessera/pkg/util"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestDirectoryBackedStateStoreSuperblock(t *testing.T) {
	directory := t.TempDir()
	stateStore := serializer.NewDirectoryBackedStateStore(directory)

	_, err := stateStore.ReadSuperblock()
	require.Equal(t, codes.NotFound, status.Code(err))

	superblock := &serializer.Superblock{
		StoreUUID:          uuid.Must(uuid.NewRandom()),
		MaxBlockSizeBytes:  4096,
		ExtentSizeBytes:    1 << 20,
		SlotAlignmentBytes: 512,
		HashSeed:           0xdeadbeefcafef00d,
	}
	require.NoError(t, stateStore.WriteSuperblock(superblock))

	// A separate instance must read back the same contents from
	// disk.
	read, err := serializer.NewDirectoryBackedStateStore(directory).ReadSuperblock()
	require.NoError(t, err)
	require.Equal(t, superblock, read)

	t.Run("Corruption", func(t *testing.T) {
		path := filepath.Join(directory, "superblock")
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		b[20] ^= 0x01
		require.NoError(t, os.WriteFile(path, b, 0o666))

		_, err = serializer.NewDirectoryBackedStateStore(directory).ReadSuperblock()
		testutil.RequireEqualStatus(t, status.Error(codes.Internal, "Superblock is corrupted"), err)
	})
}

func TestDirectoryBackedStateStoreCheckpoint(t *testing.T) {
	directory := t.TempDir()
	stateStore := serializer.NewDirectoryBackedStateStore(directory)
	require.NoError(t, stateStore.WriteSuperblock(&serializer.Superblock{
		StoreUUID:          uuid.Must(uuid.NewRandom()),
		MaxBlockSizeBytes:  4096,
		ExtentSizeBytes:    1 << 20,
		SlotAlignmentBytes: 512,
		HashSeed:           42,
	}))

	// A store without a checkpoint starts out empty.
	records, sequence, err := stateStore.ReadCheckpoint()
	require.NoError(t, err)
	require.Empty(t, records)
	require.Equal(t, uint64(0), sequence)

	want := []serializer.IndexRecord{
		{BlockID: 1, Timestamp: 10, Extent: 2, OffsetBytes: 512, PayloadSizeBytes: 100},
		{BlockID: 2, Timestamp: 20, Deleted: true},
		{BlockID: 3, Timestamp: 5, Extent: 1, OffsetBytes: 0, PayloadSizeBytes: 4096, Relocated: true},
	}
	require.NoError(t, stateStore.WriteCheckpoint(want, 17))

	records, sequence, err = stateStore.ReadCheckpoint()
	require.NoError(t, err)
	require.Equal(t, want, records)
	require.Equal(t, uint64(17), sequence)

	t.Run("Corruption", func(t *testing.T) {
		path := filepath.Join(directory, "checkpoint")
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		b[len(b)-1] ^= 0x80
		require.NoError(t, os.WriteFile(path, b, 0o666))

		_, _, err = serializer.NewDirectoryBackedStateStore(directory).ReadCheckpoint()
		testutil.RequireEqualStatus(t, status.Error(codes.Internal, "Checkpoint is corrupted"), err)
	})
}

func TestDirectoryBackedStateStoreJournal(t *testing.T) {
	directory := t.TempDir()
	stateStore := serializer.NewDirectoryBackedStateStore(directory)
	require.NoError(t, stateStore.WriteSuperblock(&serializer.Superblock{
		StoreUUID:          uuid.Must(uuid.NewRandom()),
		MaxBlockSizeBytes:  4096,
		ExtentSizeBytes:    1 << 20,
		SlotAlignmentBytes: 512,
		HashSeed:           123456789,
	}))

	journal, err := stateStore.OpenJournal()
	require.NoError(t, err)
	require.Equal(t, int64(0), journal.SizeBytes())

	batch1 := []serializer.IndexRecord{
		{BlockID: 1, Timestamp: 1, Extent: 1, OffsetBytes: 0, PayloadSizeBytes: 100},
		{BlockID: 2, Timestamp: 2, Extent: 1, OffsetBytes: 512, PayloadSizeBytes: 200},
	}
	batch2 := []serializer.IndexRecord{
		{BlockID: 1, Timestamp: 3, Deleted: true},
	}
	require.NoError(t, journal.AppendBatch(batch1, 1))
	require.NoError(t, journal.AppendBatch(batch2, 2))

	replay := func(t *testing.T, journal serializer.IndexJournal) ([][]serializer.IndexRecord, []uint64) {
		var batches [][]serializer.IndexRecord
		var sequences []uint64
		require.NoError(t, journal.Replay(func(records []serializer.IndexRecord, sequence uint64) error {
			batches = append(batches, records)
			sequences = append(sequences, sequence)
			return nil
		}))
		return batches, sequences
	}

	t.Run("ReplayInOrder", func(t *testing.T) {
		journal, err := serializer.NewDirectoryBackedStateStore(directory).OpenJournal()
		require.NoError(t, err)
		batches, sequences := replay(t, journal)
		require.Equal(t, [][]serializer.IndexRecord{batch1, batch2}, batches)
		require.Equal(t, []uint64{1, 2}, sequences)
	})

	t.Run("TornBatchDiscarded", func(t *testing.T) {
		// A batch that was only partially written before a crash
		// must be dropped in its entirety, while the batches
		// before it stay intact.
		path := filepath.Join(directory, "journal")
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, b[:len(b)-10], 0o666))

		journal, err := serializer.NewDirectoryBackedStateStore(directory).OpenJournal()
		require.NoError(t, err)
		batches, sequences := replay(t, journal)
		require.Equal(t, [][]serializer.IndexRecord{batch1}, batches)
		require.Equal(t, []uint64{1}, sequences)

		// Appending resumes over the discarded bytes.
		require.NoError(t, journal.AppendBatch(batch2, 5))
		batches, sequences = replay(t, journal)
		require.Equal(t, [][]serializer.IndexRecord{batch1, batch2}, batches)
		require.Equal(t, []uint64{1, 5}, sequences)
	})

	t.Run("Reset", func(t *testing.T) {
		journal, err := serializer.NewDirectoryBackedStateStore(directory).OpenJournal()
		require.NoError(t, err)
		require.NoError(t, journal.Reset())
		require.Equal(t, int64(0), journal.SizeBytes())
		batches, _ := replay(t, journal)
		require.Empty(t, batches)
	})
}

// Exercises the serializer against real files, covering journal replay
// and checkpointing through the directory backed state store.
func TestSerializerWithDirectoryBackedStateStore(t *testing.T) {
	directory := t.TempDir()
	staticConfig := serializer.StaticConfig{
		MaxBlockSizeBytes:  1024,
		ExtentSizeBytes:    8192,
		SlotAlignmentBytes: 512,
	}
	dataPath := filepath.Join(directory, "data")
	openDevice := func(t *testing.T) extentdevice.ExtentDevice {
		device, err := extentdevice.NewFileExtentDevice(dataPath, staticConfig.ExtentSizeBytes, 4, false)
		require.NoError(t, err)
		return device
	}
	stateStore := serializer.NewDirectoryBackedStateStore(filepath.Join(directory, "state"))
	require.NoError(t, os.Mkdir(filepath.Join(directory, "state"), 0o777))

	device := openDevice(t)
	require.NoError(t, serializer.Create(device, stateStore, staticConfig))
	s, err := serializer.New(device, stateStore, clock.SystemClock, util.DefaultErrorLogger, serializer.DynamicConfig{
		StoreName: "directory_backed",
	})
	require.NoError(t, err)
	account := s.NewIOAccount(1)
	ctx := context.Background()

	checkpointedToken := writeBlock(t, s, account, 1, []byte("In the checkpoint"))
	require.NoError(t, s.IndexWrite(ctx, []serializer.IndexWriteOp{
		{BlockID: 1, Token: checkpointedToken},
	}, account))
	checkpointedToken.Release()
	require.NoError(t, s.Checkpoint())

	journaledToken := writeBlock(t, s, account, 2, []byte("In the journal"))
	require.NoError(t, s.IndexWrite(ctx, []serializer.IndexWriteOp{
		{BlockID: 2, Token: journaledToken},
	}, account))
	journaledToken.Release()
	account.Close()

	// Reopen without calling Close(), as if the process had been
	// killed. Recovery must come purely from the files.
	s, err = serializer.New(openDevice(t), serializer.NewDirectoryBackedStateStore(filepath.Join(directory, "state")), clock.SystemClock, util.DefaultErrorLogger, serializer.DynamicConfig{
		StoreName: "directory_backed",
	})
	require.NoError(t, err)
	account = s.NewIOAccount(1)
	defer account.Close()

	data, err := readBlock(t, s, account, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("In the checkpoint"), data)
	data, err = readBlock(t, s, account, 2)
	require.NoError(t, err)
	require.Equal(t, []byte("In the journal"), data)
	require.NoError(t, s.Close())
}
