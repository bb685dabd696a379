package extentdevice

import (
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type memoryExtentDevice struct {
	extentSizeBytes int64

	lock sync.RWMutex
	data []byte
}

// NewMemoryExtentDevice creates an ExtentDevice that is backed by a
// byte slice held in memory. Contents are lost on process termination,
// making this device suitable for tests and volatile stores only.
func NewMemoryExtentDevice(extentSizeBytes int64, extentCount uint32) ExtentDevice {
	return &memoryExtentDevice{
		extentSizeBytes: extentSizeBytes,
		data:            make([]byte, extentSizeBytes*int64(extentCount)),
	}
}

func (d *memoryExtentDevice) ReadAt(p []byte, off int64) (int, error) {
	d.lock.RLock()
	defer d.lock.RUnlock()

	if off < 0 || off+int64(len(p)) > int64(len(d.data)) {
		return 0, status.Errorf(codes.InvalidArgument, "Read of %d bytes at offset %d is outside device bounds", len(p), off)
	}
	return copy(p, d.data[off:]), nil
}

func (d *memoryExtentDevice) WriteAt(p []byte, off int64) (int, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if off < 0 || off+int64(len(p)) > int64(len(d.data)) {
		return 0, status.Errorf(codes.InvalidArgument, "Write of %d bytes at offset %d is outside device bounds", len(p), off)
	}
	return copy(d.data[off:], p), nil
}

func (d *memoryExtentDevice) ExtentSizeBytes() int64 {
	return d.extentSizeBytes
}

func (d *memoryExtentDevice) ExtentCount() uint32 {
	d.lock.RLock()
	defer d.lock.RUnlock()

	return uint32(int64(len(d.data)) / d.extentSizeBytes)
}

func (d *memoryExtentDevice) Extend(extentCount uint32) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.data = append(d.data, make([]byte, d.extentSizeBytes*int64(extentCount))...)
	return nil
}

func (d *memoryExtentDevice) Sync() error {
	return nil
}
