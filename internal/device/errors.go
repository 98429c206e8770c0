package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidName is returned when a device name is empty or too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidRecord is returned when a persisted device cannot be rebuilt.
	ErrInvalidRecord = errors.New("device: invalid record")

	// ErrConnectionNotFound is returned when a connection is not part of the device.
	ErrConnectionNotFound = errors.New("device: connection not found")
)
