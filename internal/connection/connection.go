package connection

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// maxNameLength bounds connection labels.
const maxNameLength = 128

// Connection is one addressable link to a remote peer.
//
// Identity (ID, Kind, Address) is fixed at construction. Name may change at
// any time. Status and the transport handle are driven by the connection
// service through BeginConnect, Attach, Fail and Detach.
//
// Thread Safety: All methods are safe for concurrent use.
type Connection struct {
	id        string
	kind      Kind
	addr      Address
	createdAt time.Time

	mu       sync.Mutex
	name     string
	status   Status
	handle   Handle
	deviceID string
}

// New creates a Disconnected connection with a fresh identifier.
func New(name string, addr Address) (*Connection, error) {
	return newWithID(uuid.NewString(), name, addr)
}

// Restore recreates a connection with a known identifier, for example when
// loading a persisted device. The connection starts Disconnected.
func Restore(id, name string, addr Address) (*Connection, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: id %q is not a uuid", ErrAddressInvalid, id)
	}
	return newWithID(id, name, addr)
}

func newWithID(id, name string, addr Address) (*Connection, error) {
	if addr == nil {
		return nil, fmt.Errorf("%w: address is required", ErrAddressInvalid)
	}
	name = clampName(name)
	if name == "" {
		name = addr.String()
	}
	return &Connection{
		id:        id,
		kind:      addr.Kind(),
		addr:      addr,
		createdAt: time.Now().UTC(),
		name:      name,
		status:    StatusDisconnected,
	}, nil
}

// clampName trims name and cuts it to at most maxNameLength bytes without
// splitting a rune.
func clampName(name string) string {
	name = strings.TrimSpace(name)
	if len(name) <= maxNameLength {
		return name
	}
	cut := maxNameLength
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}

// ID returns the immutable identifier.
func (c *Connection) ID() string { return c.id }

// Kind returns the transport kind.
func (c *Connection) Kind() Kind { return c.kind }

// Address returns the immutable peer address.
func (c *Connection) Address() Address { return c.addr }

// CreatedAt returns when this instance was constructed.
func (c *Connection) CreatedAt() time.Time { return c.createdAt }

// Name returns the human-readable label.
func (c *Connection) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// SetName changes the label. Empty names fall back to the address.
func (c *Connection) SetName(name string) {
	name = clampName(name)
	if name == "" {
		name = c.addr.String()
	}
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
}

// DeviceID returns the owning device's ID, or "" when unowned.
func (c *Connection) DeviceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID
}

// SetDeviceID records the back-reference to an owning device.
func (c *Connection) SetDeviceID(id string) {
	c.mu.Lock()
	c.deviceID = id
	c.mu.Unlock()
}

// Status returns the current status.
//
// If the status is Connected but the handle reports itself closed, the
// connection reconciles to Disconnected and releases the stale handle
// before returning.
func (c *Connection) Status() Status {
	c.mu.Lock()
	if c.status != StatusConnected || c.handle == nil || c.handle.IsOpen() {
		s := c.status
		c.mu.Unlock()
		return s
	}
	stale := c.handle
	c.handle = nil
	c.status = StatusDisconnected
	c.mu.Unlock()

	_ = stale.Close() //nolint:errcheck // already closed from the peer side
	return StatusDisconnected
}

// IsConnected reports whether Status is Connected.
func (c *Connection) IsConnected() bool {
	return c.Status() == StatusConnected
}

// Reader returns the inbound byte stream.
// Returns ErrNotConnected unless the connection is Connected.
func (c *Connection) Reader() (io.Reader, error) {
	h, err := c.liveHandle()
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Writer returns the outbound byte stream.
// Returns ErrNotConnected unless the connection is Connected.
func (c *Connection) Writer() (io.Writer, error) {
	h, err := c.liveHandle()
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (c *Connection) liveHandle() (Handle, error) {
	if c.Status() != StatusConnected {
		return nil, ErrNotConnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return nil, ErrNotConnected
	}
	return c.handle, nil
}

// IsVersionOf reports whether other is the same logical link (same ID).
func (c *Connection) IsVersionOf(other *Connection) bool {
	if c == nil || other == nil {
		return false
	}
	return c.id == other.id
}

// Equal reports structural equality over identity and mutable fields.
// Use IsVersionOf for identity comparisons.
func (c *Connection) Equal(other *Connection) bool {
	if c == nil || other == nil {
		return c == other
	}
	if c == other {
		return true
	}
	a, b := c.Info(), other.Info()
	return a == b
}

// BeginConnect moves a Disconnected or ConnectFailed connection to
// Connecting. It returns false, leaving the status untouched, when the
// connection is already Connecting or Connected.
func (c *Connection) BeginConnect() bool {
	if c.Status() == StatusConnected {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.status {
	case StatusDisconnected, StatusConnectFailed:
		c.status = StatusConnecting
		return true
	default:
		return false
	}
}

// Attach installs an open handle and marks the connection Connected.
// Any previous handle is closed.
func (c *Connection) Attach(h Handle) {
	c.mu.Lock()
	prev := c.handle
	c.handle = h
	c.status = StatusConnected
	c.mu.Unlock()

	if prev != nil && prev != h {
		_ = prev.Close() //nolint:errcheck // superseded handle
	}
}

// Fail marks a connect cycle as exhausted.
func (c *Connection) Fail() {
	c.mu.Lock()
	c.status = StatusConnectFailed
	c.mu.Unlock()
}

// Abort returns a Connecting connection to Disconnected, used when a connect
// cycle is cancelled before it produced a handle.
func (c *Connection) Abort() {
	c.mu.Lock()
	if c.status == StatusConnecting {
		c.status = StatusDisconnected
	}
	c.mu.Unlock()
}

// CurrentHandle returns the attached handle, or nil.
func (c *Connection) CurrentHandle() Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// Detach removes h if it is still the attached handle and marks the
// connection Disconnected. It reports whether h was detached. Detaching
// after lazy reconciliation already dropped the handle returns false.
func (c *Connection) Detach(h Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil || c.handle != h {
		return false
	}
	c.handle = nil
	c.status = StatusDisconnected
	return true
}

// inSession reports whether a connect cycle or a connected session is
// running on this instance.
func (c *Connection) inSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status == StatusConnecting || (c.status == StatusConnected && c.handle != nil)
}

// takeMetadata copies other's name, and its device back-reference when set,
// onto c. Status and handle are left alone.
func (c *Connection) takeMetadata(other *Connection) {
	other.mu.Lock()
	name, deviceID := other.name, other.deviceID
	other.mu.Unlock()

	c.mu.Lock()
	c.name = name
	if deviceID != "" {
		c.deviceID = deviceID
	}
	c.mu.Unlock()
}

// String implements fmt.Stringer for logs.
func (c *Connection) String() string {
	return fmt.Sprintf("%s(%s %s)", c.id, c.kind, c.addr)
}

// Info is the serialisable form of a Connection. It carries only stable
// identity and descriptive fields; the transport handle never crosses a
// boundary. Use Registry.Lookup(Info.ID) to get the live connection back.
type Info struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Kind     Kind   `json:"kind"`
	Address  string `json:"address"`
	Status   Status `json:"status"`
	DeviceID string `json:"device_id,omitempty"`
}

// Info returns a snapshot of the connection.
func (c *Connection) Info() Info {
	status := c.Status()
	c.mu.Lock()
	defer c.mu.Unlock()
	return Info{
		ID:       c.id,
		Name:     c.name,
		Kind:     c.kind,
		Address:  c.addr.String(),
		Status:   status,
		DeviceID: c.deviceID,
	}
}
