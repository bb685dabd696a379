package extentdevice_test

import (
	"testing"

	"github.com/tessera-db/tessera/pkg/extentdevice"

	"github.com/stretchr/testify/require"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestMemoryExtentDevice(t *testing.T) {
	device := extentdevice.NewMemoryExtentDevice(1024, 2)
	require.Equal(t, int64(1024), device.ExtentSizeBytes())
	require.Equal(t, uint32(2), device.ExtentCount())

	t.Run("ReadWriteRoundTrip", func(t *testing.T) {
		n, err := device.WriteAt([]byte("Hello world"), 1500)
		require.NoError(t, err)
		require.Equal(t, 11, n)

		var b [11]byte
		n, err = device.ReadAt(b[:], 1500)
		require.NoError(t, err)
		require.Equal(t, 11, n)
		require.Equal(t, []byte("Hello world"), b[:])
	})

	t.Run("OutOfBounds", func(t *testing.T) {
		_, err := device.WriteAt(make([]byte, 100), 2000)
		require.Equal(t, codes.InvalidArgument, status.Code(err))

		_, err = device.ReadAt(make([]byte, 100), -1)
		require.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("Extend", func(t *testing.T) {
		require.NoError(t, device.Extend(3))
		require.Equal(t, uint32(5), device.ExtentCount())

		// Previously written data must survive growth, and the
		// new extents must read as zero bytes.
		var b [11]byte
		_, err := device.ReadAt(b[:], 1500)
		require.NoError(t, err)
		require.Equal(t, []byte("Hello world"), b[:])

		var z [1024]byte
		_, err = device.ReadAt(z[:], 4096)
		require.NoError(t, err)
		require.Equal(t, make([]byte, 1024), z[:])
	})
}
