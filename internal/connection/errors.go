package connection

import "errors"

// Domain errors for the connection package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, connection.ErrNotConnected) {
//	    // the link is down
//	}
var (
	// ErrNotConnected is returned when an operation requires a Connected link.
	ErrNotConnected = errors.New("connection: not connected")

	// ErrAddressInvalid is returned when a transport address is malformed.
	ErrAddressInvalid = errors.New("connection: invalid address")

	// ErrTransportUnavailable is returned when the underlying radio or network
	// stack is not ready, or no transport exists for a kind.
	ErrTransportUnavailable = errors.New("connection: transport unavailable")

	// ErrIOFailure is returned when an open, close, read or write fails.
	ErrIOFailure = errors.New("connection: i/o failure")

	// ErrNotFound is returned when a connection ID is unknown to the registry.
	ErrNotFound = errors.New("connection: not found")
)
