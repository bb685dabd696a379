package extentdevice

import (
	"io"
)

// ExtentDevice is an interface for the storage medium underneath a
// serializer. The medium is partitioned into fixed-size extents that
// are stored consecutively. Extents support random access reads and
// writes, but their contents only become crash-safe once Sync() has
// completed.
//
// Unlike plain files, an ExtentDevice has an explicit size that only
// changes through Extend(). Implementations must preserve previously
// written bytes until they are overwritten, and must not reorder a
// Sync() with respect to writes issued before it.
type ExtentDevice interface {
	io.ReaderAt
	io.WriterAt

	// ExtentSizeBytes returns the size of a single extent. This
	// value is fixed for the lifetime of the device.
	ExtentSizeBytes() int64

	// ExtentCount returns the current number of extents provided by
	// the device.
	ExtentCount() uint32

	// Extend grows the device by the given number of extents. The
	// new extents read as zero bytes.
	Extend(extentCount uint32) error

	// Sync blocks until all previously written data has been stored
	// durably.
	Sync() error
}
