package driver

import "github.com/cockroachdb/errors"

// Result sentinels. Backends mark their native error codes with these so
// callers can test with errors.Is.
var (
	ErrOutOfHostMemory      = errors.New("out of host memory")
	ErrOutOfDeviceMemory    = errors.New("out of device memory")
	ErrOutOfPoolMemory      = errors.New("out of pool memory")
	ErrDeviceLost           = errors.New("device lost")
	ErrOutOfDate            = errors.New("surface out of date")
	ErrSuboptimal           = errors.New("surface suboptimal")
	ErrSurfaceLost          = errors.New("surface lost")
	ErrTimeout              = errors.New("timeout")
	ErrNotReady             = errors.New("not ready")
	ErrInitializationFailed = errors.New("initialization failed")
	ErrFormatNotSupported   = errors.New("format not supported")
	ErrMemoryMapFailed      = errors.New("memory map failed")
	ErrInvalidFormat        = errors.New("invalid format")
)

// IsOutOfMemory reports host, device and pool exhaustion.
func IsOutOfMemory(err error) bool {
	return errors.IsAny(err, ErrOutOfHostMemory, ErrOutOfDeviceMemory, ErrOutOfPoolMemory)
}
