//go:build darwin || freebsd || linux
// +build darwin freebsd linux

package extentdevice

import (
	"os"
	"sync/atomic"

	"github.com/tessera-db/tessera/pkg/util"

	"golang.org/x/sys/unix"
)

type fileExtentDevice struct {
	file            *os.File
	extentSizeBytes int64
	extentCount     atomic.Uint32
}

// NewFileExtentDevice creates an ExtentDevice that is backed by a
// regular file stored in a file system. The file is grown to hold at
// least the requested number of extents.
//
// This approach tends to have more overhead than devices created using
// NewDirectFileExtentDevice, but is often easier to set up and does not
// impose any alignment requirements on I/O.
func NewFileExtentDevice(path string, extentSizeBytes int64, minimumExtentCount uint32, zeroInitialize bool) (ExtentDevice, error) {
	flags := unix.O_CREAT | unix.O_RDWR
	if zeroInitialize {
		flags |= unix.O_TRUNC
	}
	fd, err := unix.Open(path, flags, 0o666)
	if err != nil {
		return nil, util.StatusWrapf(err, "Failed to open file %#v", path)
	}
	file := os.NewFile(uintptr(fd), path)

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, util.StatusWrapf(err, "Failed to obtain size of file %#v", path)
	}
	extentCount := uint32(info.Size() / extentSizeBytes)
	if extentCount < minimumExtentCount {
		extentCount = minimumExtentCount
	}
	if err := file.Truncate(extentSizeBytes * int64(extentCount)); err != nil {
		file.Close()
		return nil, util.StatusWrapf(err, "Failed to truncate file %#v to %d extents", path, extentCount)
	}

	d := &fileExtentDevice{
		file:            file,
		extentSizeBytes: extentSizeBytes,
	}
	d.extentCount.Store(extentCount)
	return d, nil
}

func (d *fileExtentDevice) ReadAt(p []byte, off int64) (int, error) {
	return d.file.ReadAt(p, off)
}

func (d *fileExtentDevice) WriteAt(p []byte, off int64) (int, error) {
	return d.file.WriteAt(p, off)
}

func (d *fileExtentDevice) ExtentSizeBytes() int64 {
	return d.extentSizeBytes
}

func (d *fileExtentDevice) ExtentCount() uint32 {
	return d.extentCount.Load()
}

func (d *fileExtentDevice) Extend(extentCount uint32) error {
	newCount := d.extentCount.Load() + extentCount
	if err := d.file.Truncate(d.extentSizeBytes * int64(newCount)); err != nil {
		return util.StatusWrapf(err, "Failed to grow device to %d extents", newCount)
	}
	d.extentCount.Store(newCount)
	return nil
}

func (d *fileExtentDevice) Sync() error {
	return d.file.Sync()
}
