package extentdevice

import (
	"context"

	"golang.org/x/sync/semaphore"
)

type writeConcurrencyLimitingExtentDevice struct {
	ExtentDevice
	semaphore *semaphore.Weighted
}

// NewWriteConcurrencyLimitingExtentDevice is a decorator for
// ExtentDevice that limits the number of calls to WriteAt() that may
// run in parallel. This can be used to prevent exhaustion of operating
// system level threads, which can cause the Go runtime to crash the
// process.
func NewWriteConcurrencyLimitingExtentDevice(base ExtentDevice, semaphore *semaphore.Weighted) ExtentDevice {
	return &writeConcurrencyLimitingExtentDevice{
		ExtentDevice: base,
		semaphore:    semaphore,
	}
}

func (d *writeConcurrencyLimitingExtentDevice) WriteAt(p []byte, off int64) (int, error) {
	if err := d.semaphore.Acquire(context.Background(), 1); err != nil {
		panic("acquiring semaphore with background context should never fail")
	}
	defer d.semaphore.Release(1)

	return d.ExtentDevice.WriteAt(p, off)
}
