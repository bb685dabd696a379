package extentdevice_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/tessera-db/tessera/internal/mock"
	"github.com/tessera-db/tessera/pkg/extentdevice"

	"github.com/stretchr/testify/require"

	"go.uber.org/mock/gomock"
	"golang.org/x/sync/semaphore"
)

func TestWriteConcurrencyLimitingExtentDevice(t *testing.T) {
	ctrl := gomock.NewController(t)

	baseDevice := mock.NewMockExtentDevice(ctrl)
	device := extentdevice.NewWriteConcurrencyLimitingExtentDevice(baseDevice, semaphore.NewWeighted(1))

	t.Run("ReadsUnaffected", func(t *testing.T) {
		baseDevice.EXPECT().ReadAt(gomock.Len(5), int64(100)).Return(5, nil)

		n, err := device.ReadAt(make([]byte, 5), 100)
		require.NoError(t, err)
		require.Equal(t, 5, n)
	})

	t.Run("WritesSerialized", func(t *testing.T) {
		var writing, maxWriting atomic.Int64
		baseDevice.EXPECT().WriteAt(gomock.Len(10), gomock.Any()).DoAndReturn(
			func(p []byte, off int64) (int, error) {
				n := writing.Add(1)
				for {
					m := maxWriting.Load()
					if n <= m || maxWriting.CompareAndSwap(m, n) {
						break
					}
				}
				writing.Add(-1)
				return len(p), nil
			}).Times(10)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				n, err := device.WriteAt(make([]byte, 10), int64(i)*10)
				require.NoError(t, err)
				require.Equal(t, 10, n)
			}(i)
		}
		wg.Wait()
		require.Equal(t, int64(1), maxWriting.Load())
	})
}
