package mqttrelay

import (
	"context"
	"errors"

	"github.com/nicholastmosher/easycom-sub000/internal/connection"
	"github.com/nicholastmosher/easycom-sub000/internal/service"
)

// Domain errors for the MQTT relay package.
var (
	// ErrInvalidOptions is returned by New when a required collaborator is missing.
	ErrInvalidOptions = errors.New("mqttrelay: invalid options")

	// ErrInvalidCommand is returned for malformed or unknown commands.
	ErrInvalidCommand = errors.New("mqttrelay: invalid command")

	// ErrInvalidPayload is returned when a send command carries no body.
	ErrInvalidPayload = errors.New("mqttrelay: invalid payload")
)

// errorCode maps a command error to the code carried in AckError.
func errorCode(err error) string {
	switch {
	case errors.Is(err, connection.ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, connection.ErrNotConnected):
		return ErrCodeNotConnected
	case errors.Is(err, connection.ErrAddressInvalid):
		return ErrCodeAddressInvalid
	case errors.Is(err, connection.ErrTransportUnavailable):
		return ErrCodeTransportUnavailable
	case errors.Is(err, connection.ErrIOFailure):
		return ErrCodeIOFailure
	case errors.Is(err, ErrInvalidPayload):
		return ErrCodeInvalidPayload
	case errors.Is(err, ErrInvalidCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, service.ErrClosed), errors.Is(err, context.Canceled):
		return ErrCodeUnavailable
	default:
		return ErrCodeInternal
	}
}
