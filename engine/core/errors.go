package core

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrSwapchainBooting is the recoverable "recreate" signal: the surface is
	// out of date, suboptimal or has zero area. Only the frame orchestrator
	// reacts to it.
	ErrSwapchainBooting = errors.New("swapchain resized or recreated, booting")
	// ErrFatal marks out-of-memory, device-lost, creation failures and stuck
	// driver timeouts. Nothing retries these.
	ErrFatal = errors.New("fatal renderer error")
	// ErrPrecondition marks programmer errors such as drawing without a bound
	// pipeline.
	ErrPrecondition = errors.New("precondition violated")
	ErrUnknown      = errors.New("unknown")
)

// Fatal marks err as fatal while keeping its message and stack.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrFatal)
}

// Fatalf creates a new fatal error.
func Fatalf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrFatal)
}

// Preconditionf creates a new precondition violation.
func Preconditionf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrPrecondition)
}

// Booting wraps err as the recreate signal.
func Booting(err error) error {
	if err == nil {
		return ErrSwapchainBooting
	}
	return errors.Mark(err, ErrSwapchainBooting)
}

func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

func IsBooting(err error) bool {
	return errors.Is(err, ErrSwapchainBooting)
}

func IsPrecondition(err error) bool {
	return errors.Is(err, ErrPrecondition)
}
