package serializer_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/tessera-db/tessera/internal/mock"
	"github.com/tessera-db/tessera/pkg/clock"
	"github.com/tessera-db/tessera/pkg/extentdevice"
	"github.com/tessera-db/tessera/pkg/ioaccount"
	"github.com/tessera-db/tessera/pkg/serializer"
	"github.com/tessera-db/tessera/pkg/testutil"
	"github.com/tessera-db/tessera/pkg/util"

	"github.com/stretchr/testify/require"

	"go.uber.org/mock/gomock"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var testStaticConfig = serializer.StaticConfig{
	MaxBlockSizeBytes:  1024,
	ExtentSizeBytes:    8192,
	SlotAlignmentBytes: 512,
}

func newStoreForTesting(t *testing.T, storeName string) (*serializer.Serializer, extentdevice.ExtentDevice, serializer.PersistentStateStore) {
	device := extentdevice.NewMemoryExtentDevice(testStaticConfig.ExtentSizeBytes, 4)
	stateStore := serializer.NewMemoryStateStore()
	require.NoError(t, serializer.Create(device, stateStore, testStaticConfig))
	s, err := serializer.New(device, stateStore, clock.SystemClock, util.DefaultErrorLogger, serializer.DynamicConfig{
		StoreName: storeName,
	})
	require.NoError(t, err)
	return s, device, stateStore
}

func writeBlock(t *testing.T, s *serializer.Serializer, account *ioaccount.Account, blockID serializer.BlockID, data []byte) *serializer.BlockToken {
	done := make(chan error, 1)
	tokens, err := s.BlockWrites(context.Background(), []serializer.BlockWrite{
		{BlockID: blockID, Data: data},
	}, account, func(err error) { done <- err })
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Len(t, tokens, 1)
	return tokens[0]
}

func readBlock(t *testing.T, s *serializer.Serializer, account *ioaccount.Account, blockID serializer.BlockID) ([]byte, error) {
	b := s.AllocateBuffer()
	defer s.ReleaseBuffer(b)
	n, err := s.GetBlock(context.Background(), blockID, b, account)
	if err != nil {
		return nil, err
	}
	data := make([]byte, n)
	copy(data, b)
	return data, nil
}

func TestSerializerCreate(t *testing.T) {
	device := extentdevice.NewMemoryExtentDevice(testStaticConfig.ExtentSizeBytes, 4)
	stateStore := serializer.NewMemoryStateStore()
	require.NoError(t, serializer.Create(device, stateStore, testStaticConfig))

	t.Run("AlreadyExists", func(t *testing.T) {
		testutil.RequireEqualStatus(
			t,
			status.Error(codes.AlreadyExists, "State store already contains a superblock"),
			serializer.Create(device, stateStore, testStaticConfig))
	})

	t.Run("ExtentSizeMismatch", func(t *testing.T) {
		smallDevice := extentdevice.NewMemoryExtentDevice(4096, 4)
		testutil.RequireEqualStatus(
			t,
			status.Error(codes.InvalidArgument, "Extent device has extent size 4096, while the store is configured for 8192"),
			serializer.Create(smallDevice, serializer.NewMemoryStateStore(), testStaticConfig))
	})

	t.Run("OversizedMaxBlockSize", func(t *testing.T) {
		// Slot headers and index records encode the payload
		// length in 32 bits.
		testutil.RequireEqualStatus(
			t,
			status.Error(codes.InvalidArgument, "Maximum block size 5368709120 cannot be represented in the 32-bit slot length field"),
			serializer.Create(device, serializer.NewMemoryStateStore(), serializer.StaticConfig{
				MaxBlockSizeBytes:  5 << 30,
				ExtentSizeBytes:    8192,
				SlotAlignmentBytes: 512,
			}))
	})

	t.Run("ForeignDataDevice", func(t *testing.T) {
		// Opening a store against the data device of a
		// different store must be refused.
		otherDevice := extentdevice.NewMemoryExtentDevice(testStaticConfig.ExtentSizeBytes, 4)
		otherStateStore := serializer.NewMemoryStateStore()
		require.NoError(t, serializer.Create(otherDevice, otherStateStore, testStaticConfig))

		_, err := serializer.New(otherDevice, stateStore, clock.SystemClock, util.DefaultErrorLogger, serializer.DynamicConfig{
			StoreName: "create_foreign",
		})
		require.Equal(t, codes.FailedPrecondition, status.Code(err))
	})
}

func TestSerializerBlockWriteReadRoundTrip(t *testing.T) {
	s, _, _ := newStoreForTesting(t, "round_trip")
	account := s.NewIOAccount(1)
	defer account.Close()
	ctx := context.Background()

	require.Equal(t, int64(1024), s.MaxBlockSize())

	done := make(chan error, 1)
	tokens, err := s.BlockWrites(ctx, []serializer.BlockWrite{
		{BlockID: 1, Data: []byte("The first block")},
		{BlockID: 2, Data: []byte("The second block")},
		{BlockID: 3, Data: []byte("The third block")},
	}, account, func(err error) { done <- err })
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Len(t, tokens, 3)

	// Blocks are not findable by identifier until their tokens have
	// been entered into the index.
	_, err = readBlock(t, s, account, 2)
	require.Equal(t, codes.NotFound, status.Code(err))

	// Reading through the token works immediately.
	b := s.AllocateBuffer()
	n, err := s.ReadBlock(ctx, tokens[1], b, account)
	require.NoError(t, err)
	require.Equal(t, []byte("The second block"), b[:n])
	s.ReleaseBuffer(b)

	require.NoError(t, s.IndexWrite(ctx, []serializer.IndexWriteOp{
		{BlockID: 1, Token: tokens[0]},
		{BlockID: 2, Token: tokens[1]},
		{BlockID: 3, Token: tokens[2]},
	}, account))
	for _, token := range tokens {
		token.Release()
	}

	for blockID, want := range map[serializer.BlockID]string{
		1: "The first block",
		2: "The second block",
		3: "The third block",
	} {
		data, err := readBlock(t, s, account, blockID)
		require.NoError(t, err)
		require.Equal(t, []byte(want), data)
	}

	t.Run("BlockTooLarge", func(t *testing.T) {
		_, err := s.BlockWrites(ctx, []serializer.BlockWrite{
			{BlockID: 4, Data: make([]byte, 1025)},
		}, account, func(error) {
			t.Error("Completion should not run when setup fails")
		})
		testutil.RequireEqualStatus(
			t,
			status.Error(codes.InvalidArgument, "Block 4 has size 1025, which exceeds the maximum block size 1024"),
			err)
	})

	t.Run("TokenForWrongBlock", func(t *testing.T) {
		token := writeBlock(t, s, account, 5, []byte("Stray"))
		testutil.RequireEqualStatus(
			t,
			status.Error(codes.InvalidArgument, "Token for block 5 used in an operation for block 6"),
			s.IndexWrite(ctx, []serializer.IndexWriteOp{
				{BlockID: 6, Token: token},
			}, account))
		token.Release()
	})
}

func TestSerializerBufferPoolRecycling(t *testing.T) {
	s, _, _ := newStoreForTesting(t, "buffer_pool")

	// Buffers handed out by the pool must be returnable, including
	// after the caller shrank the slice to the bytes it used.
	for i := 0; i < 4; i++ {
		b := s.AllocateBuffer()
		require.GreaterOrEqual(t, int64(len(b)), s.MaxBlockSize())
		s.ReleaseBuffer(b[:1])
	}

	require.Panics(t, func() { s.ReleaseBuffer(make([]byte, 10)) })
}

func TestSerializerTimestampConflictResolution(t *testing.T) {
	s, _, _ := newStoreForTesting(t, "conflict_resolution")
	account := s.NewIOAccount(1)
	defer account.Close()
	ctx := context.Background()

	index := func(blockID serializer.BlockID, timestamp serializer.Timestamp, token *serializer.BlockToken) {
		require.NoError(t, s.IndexWrite(ctx, []serializer.IndexWriteOp{
			{BlockID: blockID, Timestamp: timestamp, Token: token},
		}, account))
		if token != nil {
			token.Release()
		}
	}
	expect := func(want string) {
		data, err := readBlock(t, s, account, 1)
		require.NoError(t, err)
		require.Equal(t, []byte(want), data)
	}

	index(1, 10, writeBlock(t, s, account, 1, []byte("first")))
	expect("first")

	// Writes carrying an equal or older timestamp are no-ops.
	index(1, 10, writeBlock(t, s, account, 1, []byte("equal")))
	expect("first")
	index(1, 5, writeBlock(t, s, account, 1, []byte("older")))
	expect("first")

	index(1, 20, writeBlock(t, s, account, 1, []byte("newer")))
	expect("newer")

	// A deletion that lost the race against a newer write is a
	// no-op as well.
	index(1, 15, nil)
	expect("newer")

	index(1, 25, nil)
	_, err := readBlock(t, s, account, 1)
	require.Equal(t, codes.NotFound, status.Code(err))

	// The deletion's timestamp keeps winning against older writes,
	// even though the entry is gone.
	index(1, 22, writeBlock(t, s, account, 1, []byte("stale")))
	_, err = readBlock(t, s, account, 1)
	require.Equal(t, codes.NotFound, status.Code(err))

	index(1, 30, writeBlock(t, s, account, 1, []byte("reborn")))
	expect("reborn")
}

func TestSerializerDeletedBlockRemainsReadableThroughToken(t *testing.T) {
	s, _, _ := newStoreForTesting(t, "deleted_readable")
	account := s.NewIOAccount(1)
	defer account.Close()
	ctx := context.Background()

	token := writeBlock(t, s, account, 1, []byte("Lingering"))
	require.NoError(t, s.IndexWrite(ctx, []serializer.IndexWriteOp{
		{BlockID: 1, Timestamp: 1, Token: token},
	}, account))
	require.NoError(t, s.IndexWrite(ctx, []serializer.IndexWriteOp{
		{BlockID: 1, Timestamp: 2},
	}, account))

	// The identifier is gone, but the caller still holds a
	// reference. The slot must not be recycled underneath it.
	_, err := readBlock(t, s, account, 1)
	require.Equal(t, codes.NotFound, status.Code(err))

	b := s.AllocateBuffer()
	n, err := s.ReadBlock(ctx, token, b, account)
	require.NoError(t, err)
	require.Equal(t, []byte("Lingering"), b[:n])
	s.ReleaseBuffer(b)
	token.Release()
}

func TestSerializerBlockTokenReferenceCounting(t *testing.T) {
	s, _, _ := newStoreForTesting(t, "token_refcount")
	account := s.NewIOAccount(1)
	defer account.Close()
	ctx := context.Background()

	token := writeBlock(t, s, account, 1, []byte("Counted"))
	extra := token.Acquire()
	require.Same(t, token, extra)

	b := s.AllocateBuffer()
	token.Release()
	n, err := s.ReadBlock(ctx, extra, b, account)
	require.NoError(t, err)
	require.Equal(t, []byte("Counted"), b[:n])
	s.ReleaseBuffer(b)
	extra.Release()

	// The final release handed the slot back. Using the token
	// afterwards is a programming error that must be caught.
	require.Panics(t, func() { token.Release() })
	require.Panics(t, func() { token.Acquire() })
}

func TestSerializerIndexWriteBatchAtomicity(t *testing.T) {
	ctrl := gomock.NewController(t)

	device := extentdevice.NewMemoryExtentDevice(testStaticConfig.ExtentSizeBytes, 4)
	bootstrapStateStore := serializer.NewMemoryStateStore()
	require.NoError(t, serializer.Create(device, bootstrapStateStore, testStaticConfig))
	superblock, err := bootstrapStateStore.ReadSuperblock()
	require.NoError(t, err)

	stateStore := mock.NewMockPersistentStateStore(ctrl)
	journal := mock.NewMockIndexJournal(ctrl)
	stateStore.EXPECT().ReadSuperblock().Return(superblock, nil)
	stateStore.EXPECT().OpenJournal().Return(journal, nil)
	stateStore.EXPECT().ReadCheckpoint().Return(nil, uint64(0), nil)
	journal.EXPECT().Replay(gomock.Any()).Return(nil)
	journal.EXPECT().SizeBytes().Return(int64(0)).AnyTimes()

	s, err := serializer.New(device, stateStore, clock.SystemClock, util.DefaultErrorLogger, serializer.DynamicConfig{
		StoreName: "batch_atomicity",
	})
	require.NoError(t, err)
	account := s.NewIOAccount(1)
	defer account.Close()
	ctx := context.Background()

	tokenA := writeBlock(t, s, account, 1, []byte("Block A"))
	tokenB := writeBlock(t, s, account, 2, []byte("Block B"))

	// If the journal rejects the batch, none of its operations may
	// be applied to the index.
	journal.EXPECT().AppendBatch(gomock.Len(2), uint64(1)).
		Return(status.Error(codes.Unavailable, "Journal disk unplugged"))
	testutil.RequireEqualStatus(
		t,
		status.Error(codes.Unavailable, "Failed to append index write batch to journal: Journal disk unplugged"),
		s.IndexWrite(ctx, []serializer.IndexWriteOp{
			{BlockID: 1, Token: tokenA},
			{BlockID: 2, Token: tokenB},
		}, account))
	for _, blockID := range []serializer.BlockID{1, 2} {
		_, err := readBlock(t, s, account, blockID)
		require.Equal(t, codes.NotFound, status.Code(err))
	}

	// Retrying against a healthy journal applies the whole batch.
	journal.EXPECT().AppendBatch(gomock.Len(2), uint64(2)).Return(nil)
	require.NoError(t, s.IndexWrite(ctx, []serializer.IndexWriteOp{
		{BlockID: 1, Token: tokenA},
		{BlockID: 2, Token: tokenB},
	}, account))
	tokenA.Release()
	tokenB.Release()

	data, err := readBlock(t, s, account, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("Block A"), data)
	data, err = readBlock(t, s, account, 2)
	require.NoError(t, err)
	require.Equal(t, []byte("Block B"), data)
}

func TestSerializerPersistence(t *testing.T) {
	device := extentdevice.NewMemoryExtentDevice(testStaticConfig.ExtentSizeBytes, 4)
	stateStore := serializer.NewMemoryStateStore()
	require.NoError(t, serializer.Create(device, stateStore, testStaticConfig))
	ctx := context.Background()

	s, err := serializer.New(device, stateStore, clock.SystemClock, util.DefaultErrorLogger, serializer.DynamicConfig{
		StoreName: "persistence",
	})
	require.NoError(t, err)
	account := s.NewIOAccount(1)

	indexedToken := writeBlock(t, s, account, 1, []byte("Durable"))
	require.NoError(t, s.IndexWrite(ctx, []serializer.IndexWriteOp{
		{BlockID: 1, Timestamp: 10, Token: indexedToken},
	}, account))
	indexedToken.Release()

	deletedToken := writeBlock(t, s, account, 2, []byte("Deleted"))
	require.NoError(t, s.IndexWrite(ctx, []serializer.IndexWriteOp{
		{BlockID: 2, Timestamp: 10, Token: deletedToken},
	}, account))
	deletedToken.Release()
	require.NoError(t, s.IndexWrite(ctx, []serializer.IndexWriteOp{
		{BlockID: 2, Timestamp: 20},
	}, account))

	// A block whose token was never entered into the index must not
	// come back after reopening.
	unindexedToken := writeBlock(t, s, account, 3, []byte("Ephemeral"))
	unindexedToken.Release()

	account.Close()
	require.NoError(t, s.Close())

	s, err = serializer.New(device, stateStore, clock.SystemClock, util.DefaultErrorLogger, serializer.DynamicConfig{
		StoreName: "persistence",
	})
	require.NoError(t, err)
	account = s.NewIOAccount(1)
	defer account.Close()

	data, err := readBlock(t, s, account, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("Durable"), data)

	for _, blockID := range []serializer.BlockID{2, 3} {
		_, err := readBlock(t, s, account, blockID)
		require.Equal(t, codes.NotFound, status.Code(err))
	}

	// The deletion's timestamp must survive reopening as well.
	staleToken := writeBlock(t, s, account, 2, []byte("Stale"))
	require.NoError(t, s.IndexWrite(ctx, []serializer.IndexWriteOp{
		{BlockID: 2, Timestamp: 15, Token: staleToken},
	}, account))
	staleToken.Release()
	_, err = readBlock(t, s, account, 2)
	require.Equal(t, codes.NotFound, status.Code(err))

	require.NoError(t, s.Close())
}

func TestSerializerCheckpointBoundsJournal(t *testing.T) {
	device := extentdevice.NewMemoryExtentDevice(testStaticConfig.ExtentSizeBytes, 4)
	stateStore := serializer.NewMemoryStateStore()
	require.NoError(t, serializer.Create(device, stateStore, testStaticConfig))
	ctx := context.Background()

	s, err := serializer.New(device, stateStore, clock.SystemClock, util.DefaultErrorLogger, serializer.DynamicConfig{
		StoreName: "checkpoint",
	})
	require.NoError(t, err)
	account := s.NewIOAccount(1)

	writeAndIndex := func(blockID serializer.BlockID, data string) {
		token := writeBlock(t, s, account, blockID, []byte(data))
		require.NoError(t, s.IndexWrite(ctx, []serializer.IndexWriteOp{
			{BlockID: blockID, Token: token},
		}, account))
		token.Release()
	}

	writeAndIndex(1, "Before checkpoint")
	require.NoError(t, s.Checkpoint())
	writeAndIndex(2, "After checkpoint")
	account.Close()
	require.NoError(t, s.Close())

	// Entries from both the checkpoint and the journal must be
	// visible after reopening.
	s, err = serializer.New(device, stateStore, clock.SystemClock, util.DefaultErrorLogger, serializer.DynamicConfig{
		StoreName: "checkpoint",
	})
	require.NoError(t, err)
	account = s.NewIOAccount(1)
	defer account.Close()

	data, err := readBlock(t, s, account, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("Before checkpoint"), data)
	data, err = readBlock(t, s, account, 2)
	require.NoError(t, err)
	require.Equal(t, []byte("After checkpoint"), data)
	require.NoError(t, s.Close())
}

func TestSerializerGarbageCollectionCompactsExtents(t *testing.T) {
	device := extentdevice.NewMemoryExtentDevice(testStaticConfig.ExtentSizeBytes, 4)
	stateStore := serializer.NewMemoryStateStore()
	require.NoError(t, serializer.Create(device, stateStore, testStaticConfig))
	ctx := context.Background()

	s, err := serializer.New(device, stateStore, clock.SystemClock, util.DefaultErrorLogger, serializer.DynamicConfig{
		StoreName:           "garbage_collection",
		GCLivenessThreshold: 0.9,
		YoungExtentEpochLag: 2,
	})
	require.NoError(t, err)
	account := s.NewIOAccount(1)
	defer account.Close()

	// Fill several extents with blocks of around half a kilobyte,
	// then delete seven out of every eight.
	blockData := func(i int) []byte {
		return []byte(fmt.Sprintf("Block number %d padded %0440d", i, i))
	}
	for i := 0; i < 64; i++ {
		token := writeBlock(t, s, account, serializer.BlockID(i), blockData(i))
		require.NoError(t, s.IndexWrite(ctx, []serializer.IndexWriteOp{
			{BlockID: serializer.BlockID(i), Token: token},
		}, account))
		token.Release()
	}
	for i := 0; i < 64; i++ {
		if i%8 != 0 {
			require.NoError(t, s.IndexWrite(ctx, []serializer.IndexWriteOp{
				{BlockID: serializer.BlockID(i)},
			}, account))
		}
	}
	// Compact repeatedly. The index writes in between age the
	// young extents into old ones.
	for i := 0; i < 8; i++ {
		require.NoError(t, s.CollectGarbage(ctx))
		require.NoError(t, s.IndexWrite(ctx, []serializer.IndexWriteOp{
			{BlockID: 1000, Timestamp: serializer.Timestamp(1000 + i)},
		}, account))
	}

	// All survivors must still be readable, now from relocated
	// slots.
	for i := 0; i < 64; i += 8 {
		data, err := readBlock(t, s, account, serializer.BlockID(i))
		require.NoError(t, err)
		require.Equal(t, blockData(i), data)
	}

	// Compaction must have freed enough extents for a second wave
	// of writes to proceed without growing the device further.
	grownExtentCount := device.ExtentCount()
	for i := 100; i < 132; i++ {
		token := writeBlock(t, s, account, serializer.BlockID(i), blockData(i))
		require.NoError(t, s.IndexWrite(ctx, []serializer.IndexWriteOp{
			{BlockID: serializer.BlockID(i), Token: token},
		}, account))
		token.Release()
	}
	require.Equal(t, grownExtentCount, device.ExtentCount())

	// Relocations must also survive reopening the store.
	require.NoError(t, s.Close())
	s, err = serializer.New(device, stateStore, clock.SystemClock, util.DefaultErrorLogger, serializer.DynamicConfig{
		StoreName: "garbage_collection",
	})
	require.NoError(t, err)
	reopenedAccount := s.NewIOAccount(1)
	defer reopenedAccount.Close()
	for i := 0; i < 64; i += 8 {
		data, err := readBlock(t, s, reopenedAccount, serializer.BlockID(i))
		require.NoError(t, err)
		require.Equal(t, blockData(i), data)
	}
	require.NoError(t, s.Close())
}

// Blocks that were written but never indexed pin their extent's space
// through their tokens alone. A garbage collection cycle finds nothing
// to relocate in such an extent and must move on to other work instead
// of picking the same extent again.
func TestSerializerGarbageCollectionSkipsTokenPinnedExtents(t *testing.T) {
	s, _, _ := newStoreForTesting(t, "gc_token_pinned")
	account := s.NewIOAccount(1)
	defer account.Close()
	ctx := context.Background()

	// Fill the first data extent with unindexed blocks; one further
	// write rotates it into the young state.
	data := make([]byte, 960)
	var tokens []*serializer.BlockToken
	for i := 0; i < 9; i++ {
		tokens = append(tokens, writeBlock(t, s, account, serializer.BlockID(i), data))
	}
	// Drop all but one of the extent's references, leaving it mostly
	// dead but still pinned below the liveness threshold.
	for _, token := range tokens[1:8] {
		token.Release()
	}
	// Age the filled extent into the old state.
	for i := 0; i < 2; i++ {
		require.NoError(t, s.IndexWrite(ctx, []serializer.IndexWriteOp{
			{BlockID: 1000, Timestamp: serializer.Timestamp(1 + i)},
		}, account))
	}

	require.NoError(t, s.CollectGarbage(ctx))

	// The cycle must leave the pinned block in place.
	b := s.AllocateBuffer()
	n, err := s.ReadBlock(ctx, tokens[0], b, account)
	require.NoError(t, err)
	require.Equal(t, data, b[:n])
	s.ReleaseBuffer(b)
	tokens[0].Release()
	tokens[8].Release()
}

// An extent whose blocks have all been released can look like pure
// garbage while it is still young. It must not be handed back to the
// allocator until the epoch lag has promoted it, as index writes still
// in flight may reference its slots.
func TestSerializerYoungExtentsDeferReclamation(t *testing.T) {
	device := extentdevice.NewMemoryExtentDevice(testStaticConfig.ExtentSizeBytes, 4)
	stateStore := serializer.NewMemoryStateStore()
	require.NoError(t, serializer.Create(device, stateStore, testStaticConfig))
	ctx := context.Background()

	s, err := serializer.New(device, stateStore, clock.SystemClock, util.DefaultErrorLogger, serializer.DynamicConfig{
		StoreName:           "young_deferral",
		YoungExtentEpochLag: 2,
	})
	require.NoError(t, err)
	account := s.NewIOAccount(1)
	defer account.Close()

	data := make([]byte, 960)
	var pinned []*serializer.BlockToken
	pin := func(blockID serializer.BlockID) {
		pinned = append(pinned, writeBlock(t, s, account, blockID, data))
	}

	// Fill the first data extent, rotate it out with one further
	// write, then release all of its blocks while it is young.
	var youngTokens []*serializer.BlockToken
	for i := 0; i < 8; i++ {
		youngTokens = append(youngTokens, writeBlock(t, s, account, serializer.BlockID(i), data))
	}
	pin(100)
	for _, token := range youngTokens {
		token.Release()
	}

	// Exhaust the remaining free extents. The emptied extent is
	// still young, so the allocator must grow the device rather than
	// reuse it.
	for i := serializer.BlockID(101); i < 116; i++ {
		pin(i)
	}
	require.Equal(t, uint32(4), device.ExtentCount())
	pin(116)
	require.Equal(t, uint32(5), device.ExtentCount())

	// Two index write epochs promote the young extents, at which
	// point the empty one is reclaimed and the next rotation reuses
	// it instead of growing the device again.
	for i := 0; i < 2; i++ {
		require.NoError(t, s.IndexWrite(ctx, []serializer.IndexWriteOp{
			{BlockID: 1000, Timestamp: serializer.Timestamp(1 + i)},
		}, account))
	}
	for i := serializer.BlockID(200); i < 208; i++ {
		pin(i)
	}
	require.Equal(t, uint32(5), device.ExtentCount())

	for _, token := range pinned {
		token.Release()
	}
}

// Repeatedly writing and discarding blocks while garbage collection
// runs in between stresses the extent lifecycle: freshly filled extents
// must not be reclaimed or compacted before the index writes that could
// reference them have settled.
func TestSerializerAddDeleteRepeatedly(t *testing.T) {
	for _, variant := range []string{"DiscardWithoutIndexing", "IndexThenDelete"} {
		t.Run(variant, func(t *testing.T) {
			device := extentdevice.NewMemoryExtentDevice(testStaticConfig.ExtentSizeBytes, 4)
			stateStore := serializer.NewMemoryStateStore()
			require.NoError(t, serializer.Create(device, stateStore, testStaticConfig))
			ctx := context.Background()

			s, err := serializer.New(device, stateStore, clock.SystemClock, util.DefaultErrorLogger, serializer.DynamicConfig{
				StoreName:           "add_delete_" + variant,
				GCLivenessThreshold: 0.9,
				YoungExtentEpochLag: 2,
			})
			require.NoError(t, err)
			account := s.NewIOAccount(1)
			defer account.Close()

			anchorData := []byte("The block that must survive it all")
			anchorToken := writeBlock(t, s, account, 1, anchorData)
			require.NoError(t, s.IndexWrite(ctx, []serializer.IndexWriteOp{
				{BlockID: 1, Token: anchorToken},
			}, account))
			anchorToken.Release()

			for i := 0; i < 2000; i++ {
				data := []byte(fmt.Sprintf("Transient block contents of iteration %d padded %0500d", i, i))
				token := writeBlock(t, s, account, 7, data)
				switch variant {
				case "DiscardWithoutIndexing":
					token.Release()
				case "IndexThenDelete":
					require.NoError(t, s.IndexWrite(ctx, []serializer.IndexWriteOp{
						{BlockID: 7, Token: token},
					}, account))
					token.Release()
					require.NoError(t, s.IndexWrite(ctx, []serializer.IndexWriteOp{
						{BlockID: 7},
					}, account))
				}

				if i%16 == 15 {
					// Index write traffic that ages the
					// young extents.
					require.NoError(t, s.IndexWrite(ctx, []serializer.IndexWriteOp{
						{BlockID: 2},
					}, account))
				}
				if i%64 == 63 {
					require.NoError(t, s.CollectGarbage(ctx))
				}
				if i%256 == 255 {
					require.NoError(t, s.Checkpoint())

					data, err := readBlock(t, s, account, 1)
					require.NoError(t, err)
					require.Equal(t, anchorData, data)
				}
			}

			data, err := readBlock(t, s, account, 1)
			require.NoError(t, err)
			require.Equal(t, anchorData, data)
			require.NoError(t, s.Close())
		})
	}
}

func TestSerializerRunBackgroundMaintenance(t *testing.T) {
	ctrl := gomock.NewController(t)

	device := extentdevice.NewMemoryExtentDevice(testStaticConfig.ExtentSizeBytes, 4)
	stateStore := serializer.NewMemoryStateStore()
	require.NoError(t, serializer.Create(device, stateStore, testStaticConfig))
	ctx := context.Background()

	clk := mock.NewMockClock(ctrl)
	s, err := serializer.New(device, stateStore, clk, util.DefaultErrorLogger, serializer.DynamicConfig{
		StoreName: "run_maintenance",
	})
	require.NoError(t, err)
	account := s.NewIOAccount(1)
	defer account.Close()

	token := writeBlock(t, s, account, 1, []byte("Maintained"))
	require.NoError(t, s.IndexWrite(ctx, []serializer.IndexWriteOp{
		{BlockID: 1, Token: token},
	}, account))
	token.Release()

	gcTicker := mock.NewMockTicker(ctrl)
	gcChan := make(chan time.Time)
	checkpointTicker := mock.NewMockTicker(ctrl)
	checkpointChan := make(chan time.Time)
	clk.EXPECT().NewTicker(10 * time.Second).Return(gcTicker, gcChan)
	clk.EXPECT().NewTicker(time.Minute).Return(checkpointTicker, checkpointChan)
	gcTicker.EXPECT().Stop()
	checkpointTicker.EXPECT().Stop()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- s.Run(runCtx) }()

	// Unbuffered channels make sure both maintenance branches have
	// executed before the loop is asked to stop.
	gcChan <- time.Unix(1000, 0)
	checkpointChan <- time.Unix(1001, 0)
	gcChan <- time.Unix(1002, 0)
	cancel()
	require.NoError(t, <-done)

	// The checkpoint tick must have persisted the index: reopening
	// with an empty journal still finds the block.
	require.NoError(t, s.Close())
	s, err = serializer.New(device, stateStore, clock.SystemClock, util.DefaultErrorLogger, serializer.DynamicConfig{
		StoreName: "run_maintenance",
	})
	require.NoError(t, err)
	reopenedAccount := s.NewIOAccount(1)
	defer reopenedAccount.Close()
	data, err := readBlock(t, s, reopenedAccount, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("Maintained"), data)
	require.NoError(t, s.Close())
}
