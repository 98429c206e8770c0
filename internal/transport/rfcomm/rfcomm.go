package rfcomm

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nicholastmosher/easycom-sub000/internal/connection"
)

const (
	// SPPUUID is the Serial Port Profile UUID.
	SPPUUID = "00001101-0000-1000-8000-00805f9b34fb"

	defaultAdapter        = "hci0"
	defaultConnectTimeout = 20 * time.Second
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Config holds Bluetooth transport settings.
type Config struct {
	// Adapter is the BlueZ adapter name.
	// Default: "hci0".
	Adapter string

	// ProfileUUID is the service profile to connect.
	// Default: SPPUUID.
	ProfileUUID string

	// ConnectTimeout bounds one ConnectProfile round trip.
	// Default: 20 seconds.
	ConnectTimeout time.Duration

	// Pair asks BlueZ to pair unpaired peers before connecting.
	Pair bool
}

func (c Config) withDefaults() Config {
	if c.Adapter == "" {
		c.Adapter = defaultAdapter
	}
	if c.ProfileUUID == "" {
		c.ProfileUUID = SPPUUID
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	return c
}

// Ensure Transport implements connection.Transport.
var _ connection.Transport = (*Transport)(nil)

// Transport opens RFCOMM streams. Create with New and release with Close.
type Transport struct {
	cfg Config

	mu    sync.Mutex
	state platformState

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a Bluetooth transport. No system resources are acquired until
// the first Ready or Open call.
func New(cfg Config) *Transport {
	return &Transport{cfg: cfg.withDefaults()}
}

// Kind implements connection.Transport.
func (t *Transport) Kind() connection.Kind { return connection.KindBluetooth }

// SetLogger sets the logger for this transport.
func (t *Transport) SetLogger(logger Logger) {
	t.loggerMu.Lock()
	t.logger = logger
	t.loggerMu.Unlock()
}

func (t *Transport) logDebug(msg string, keysAndValues ...any) {
	t.loggerMu.RLock()
	logger := t.logger
	t.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// AdapterPath returns the BlueZ object path for an adapter name.
func AdapterPath(adapter string) string {
	return "/org/bluez/" + adapter
}

// DevicePath returns the BlueZ object path of a peer on adapter.
func DevicePath(adapter string, addr connection.BluetoothAddress) string {
	return AdapterPath(adapter) + "/dev_" + strings.ReplaceAll(addr.MAC(), ":", "_")
}

// MACFromPath extracts the peer MAC from a BlueZ device object path.
// Returns "" when the path does not name a device.
func MACFromPath(path string) string {
	idx := strings.LastIndex(path, "/dev_")
	if idx < 0 {
		return ""
	}
	return strings.ReplaceAll(path[idx+len("/dev_"):], "_", ":")
}

// Handle is an open RFCOMM stream.
type Handle struct {
	file *os.File
	mac  string

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newHandle(file *os.File, mac string) *Handle {
	return &Handle{file: file, mac: mac}
}

// Read implements io.Reader.
func (h *Handle) Read(p []byte) (int, error) {
	n, err := h.file.Read(p)
	if err != nil && isTerminal(err) {
		h.closed.Store(true)
	}
	return n, err
}

// Write implements io.Writer.
func (h *Handle) Write(p []byte) (int, error) {
	n, err := h.file.Write(p)
	if err != nil && isTerminal(err) {
		h.closed.Store(true)
	}
	return n, err
}

// Close implements io.Closer. Safe to call multiple times.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeErr = h.file.Close()
	})
	return h.closeErr
}

// IsOpen implements connection.Handle.
func (h *Handle) IsOpen() bool { return !h.closed.Load() }

// MAC returns the peer address.
func (h *Handle) MAC() string { return h.mac }

// isTerminal reports whether err ends the stream. Only deadline errors are
// recoverable on an RFCOMM socket.
func isTerminal(err error) bool {
	return !errors.Is(err, os.ErrDeadlineExceeded)
}

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", connection.ErrTransportUnavailable, fmt.Sprintf(format, args...))
}
