package connection

import (
	"context"
	"io"
)

// Handle is an open byte stream to a peer, owned by exactly one Connection.
type Handle interface {
	io.ReadWriteCloser

	// IsOpen reports whether the stream is still usable. Implementations
	// flip it to false on Close and on terminal read/write errors.
	IsOpen() bool
}

// Transport opens handles for one transport kind.
//
// Open may return a non-nil Handle together with an error when the
// underlying stack reports a failure but the stream is in fact usable;
// callers decide by asking the handle (see the connection service).
type Transport interface {
	// Kind returns the transport kind this implementation serves.
	Kind() Kind

	// Ready checks that the radio or network stack can be used.
	// It returns ErrTransportUnavailable (wrapped) when it cannot.
	Ready(ctx context.Context) error

	// Open establishes a stream to addr. Blocks until connected, failed or
	// ctx is done.
	Open(ctx context.Context, addr Address) (Handle, error)
}
