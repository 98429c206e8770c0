//go:build !linux

package rfcomm

import (
	"context"
	"runtime"

	"github.com/nicholastmosher/easycom-sub000/internal/connection"
)

type platformState struct{}

// Ready implements connection.Transport.
func (t *Transport) Ready(_ context.Context) error {
	return unavailable("bluetooth serial is not supported on %s", runtime.GOOS)
}

// Open implements connection.Transport.
func (t *Transport) Open(_ context.Context, _ connection.Address) (connection.Handle, error) {
	return nil, unavailable("bluetooth serial is not supported on %s", runtime.GOOS)
}

// Close releases transport resources.
func (t *Transport) Close() error { return nil }
