package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nicholastmosher/easycom-sub000/internal/connection"
)

// Default dial settings.
const (
	defaultDialTimeout = 10 * time.Second
	defaultKeepAlive   = 30 * time.Second
)

// Config holds TCP transport settings.
type Config struct {
	// DialTimeout bounds a single connect attempt.
	// Default: 10 seconds.
	DialTimeout time.Duration

	// KeepAlive is the TCP keep-alive period. Negative disables it.
	// Default: 30 seconds.
	KeepAlive time.Duration

	// WriteTimeout bounds each Write. Zero means no deadline.
	WriteTimeout time.Duration
}

// Ensure Transport implements connection.Transport.
var _ connection.Transport = (*Transport)(nil)

// Transport opens TCP streams.
type Transport struct {
	cfg    Config
	dialer net.Dialer
}

// New creates a TCP transport.
func New(cfg Config) *Transport {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	return &Transport{
		cfg: cfg,
		dialer: net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: cfg.KeepAlive,
		},
	}
}

// Kind implements connection.Transport.
func (t *Transport) Kind() connection.Kind { return connection.KindTCPIP }

// Ready implements connection.Transport. The host network stack is always
// assumed available.
func (t *Transport) Ready(_ context.Context) error { return nil }

// Open implements connection.Transport.
func (t *Transport) Open(ctx context.Context, addr connection.Address) (connection.Handle, error) {
	tcpAddr, ok := addr.(connection.TCPAddress)
	if !ok {
		return nil, fmt.Errorf("%w: tcp transport cannot dial %s address", connection.ErrAddressInvalid, addr.Kind())
	}

	conn, err := t.dialer.DialContext(ctx, "tcp", tcpAddr.String())
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", connection.ErrIOFailure, tcpAddr, err)
	}
	return newHandle(conn, t.cfg.WriteTimeout), nil
}

// Handle is an open TCP stream.
type Handle struct {
	conn         net.Conn
	writeTimeout time.Duration

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newHandle(conn net.Conn, writeTimeout time.Duration) *Handle {
	return &Handle{conn: conn, writeTimeout: writeTimeout}
}

// Read implements io.Reader.
func (h *Handle) Read(p []byte) (int, error) {
	n, err := h.conn.Read(p)
	if err != nil && isTerminal(err) {
		h.closed.Store(true)
	}
	return n, err
}

// Write implements io.Writer.
func (h *Handle) Write(p []byte) (int, error) {
	if h.writeTimeout > 0 {
		if err := h.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
			return 0, fmt.Errorf("set write deadline: %w", err)
		}
	}
	n, err := h.conn.Write(p)
	if err != nil && isTerminal(err) {
		h.closed.Store(true)
	}
	return n, err
}

// Close implements io.Closer. Safe to call multiple times.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeErr = h.conn.Close()
	})
	return h.closeErr
}

// IsOpen implements connection.Handle.
func (h *Handle) IsOpen() bool {
	return !h.closed.Load()
}

// RemoteAddr returns the peer's network address.
func (h *Handle) RemoteAddr() net.Addr {
	return h.conn.RemoteAddr()
}

// isTerminal reports whether err means the stream can no longer be used.
func isTerminal(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNABORTED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false
	}
	return true
}
