package device

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nicholastmosher/easycom-sub000/internal/connection"
)

// ChangeKind describes how a device's connection list changed.
type ChangeKind string

// Change kinds.
const (
	ChangeAdded    ChangeKind = "added"
	ChangeReplaced ChangeKind = "replaced"
	ChangeRemoved  ChangeKind = "removed"
	ChangeRenamed  ChangeKind = "renamed"
)

// Change is a device-level notification. It is separate from the status
// bus: it reports membership, not link state.
type Change struct {
	DeviceID     string
	Kind         ChangeKind
	ConnectionID string
}

// Device is a logical peer grouping zero or more connections.
//
// The connection list is ordered and unique by connection identity.
// Adding a connection whose ID is already present replaces that entry in
// place, so the last added instance wins.
type Device struct {
	id        string
	createdAt time.Time

	mu    sync.RWMutex
	name  string
	conns []*connection.Connection

	listenersMu sync.Mutex
	listeners   map[uint64]func(Change)
	nextID      uint64
}

// New creates a device with a fresh ID.
func New(name string) (*Device, error) {
	return restore(GenerateID(), name, time.Now().UTC())
}

// Restore rebuilds a device with a known ID.
func Restore(id, name string, createdAt time.Time) (*Device, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: id %q: %w", ErrInvalidRecord, id, err)
	}
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return restore(id, name, createdAt)
}

func restore(id, name string, createdAt time.Time) (*Device, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return &Device{
		id:        id,
		name:      strings.TrimSpace(name),
		createdAt: createdAt,
		listeners: make(map[uint64]func(Change)),
	}, nil
}

// ID returns the immutable device identifier.
func (d *Device) ID() string { return d.id }

// CreatedAt returns when the device was first created.
func (d *Device) CreatedAt() time.Time { return d.createdAt }

// Name returns the display name.
func (d *Device) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.name
}

// Slug returns the URL-safe form of the name.
func (d *Device) Slug() string {
	return GenerateSlug(d.Name())
}

// SetName renames the device.
func (d *Device) SetName(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	d.mu.Lock()
	d.name = strings.TrimSpace(name)
	d.mu.Unlock()

	d.notify(Change{DeviceID: d.id, Kind: ChangeRenamed})
	return nil
}

// Connections returns a copy of the ordered connection list.
func (d *Device) Connections() []*connection.Connection {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*connection.Connection, len(d.conns))
	copy(out, d.conns)
	return out
}

// Connection returns the member with the given ID.
func (d *Device) Connection(id string) (*connection.Connection, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if i := d.indexLocked(id); i >= 0 {
		return d.conns[i], true
	}
	return nil, false
}

// Len returns the number of connections.
func (d *Device) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.conns)
}

// AddConnection adds c, replacing an existing entry with the same identity.
// It sets c's device back-reference and returns the kind of change made.
func (d *Device) AddConnection(c *connection.Connection) ChangeKind {
	d.mu.Lock()
	kind := ChangeAdded
	if i := d.indexLocked(c.ID()); i >= 0 {
		prev := d.conns[i]
		d.conns[i] = c
		kind = ChangeReplaced
		if prev != c {
			prev.SetDeviceID("")
		}
	} else {
		d.conns = append(d.conns, c)
	}
	d.mu.Unlock()

	c.SetDeviceID(d.id)
	d.notify(Change{DeviceID: d.id, Kind: kind, ConnectionID: c.ID()})
	return kind
}

// RemoveConnection removes the member with c's identity and clears its
// back-reference. It reports whether anything was removed; removing an
// unknown connection is a no-op and emits nothing.
func (d *Device) RemoveConnection(c *connection.Connection) bool {
	d.mu.Lock()
	i := d.indexLocked(c.ID())
	if i < 0 {
		d.mu.Unlock()
		return false
	}
	removed := d.conns[i]
	d.conns = append(d.conns[:i], d.conns[i+1:]...)
	d.mu.Unlock()

	removed.SetDeviceID("")
	if removed != c {
		c.SetDeviceID("")
	}
	d.notify(Change{DeviceID: d.id, Kind: ChangeRemoved, ConnectionID: c.ID()})
	return true
}

func (d *Device) indexLocked(id string) int {
	for i, c := range d.conns {
		if c.ID() == id {
			return i
		}
	}
	return -1
}

// OnChange registers fn for device-level notifications. Listeners run
// synchronously after the mutation, outside the device lock.
func (d *Device) OnChange(fn func(Change)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	d.listenersMu.Lock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = fn
	d.listenersMu.Unlock()

	return func() {
		d.listenersMu.Lock()
		delete(d.listeners, id)
		d.listenersMu.Unlock()
	}
}

func (d *Device) notify(ch Change) {
	d.listenersMu.Lock()
	fns := make([]func(Change), 0, len(d.listeners))
	for _, fn := range d.listeners {
		fns = append(fns, fn)
	}
	d.listenersMu.Unlock()

	for _, fn := range fns {
		fn(ch)
	}
}

// Record is the persisted form of a device. Connections are stored as
// Info values, so no transport handle is ever written out.
type Record struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Slug        string            `json:"slug"`
	Connections []connection.Info `json:"connections"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at,omitzero"`
}

// Record returns a snapshot for persistence or serialisation.
func (d *Device) Record() Record {
	d.mu.RLock()
	defer d.mu.RUnlock()

	infos := make([]connection.Info, len(d.conns))
	for i, c := range d.conns {
		infos[i] = c.Info()
	}
	return Record{
		ID:          d.id,
		Name:        d.name,
		Slug:        GenerateSlug(d.name),
		Connections: infos,
		CreatedAt:   d.createdAt,
	}
}

// FromRecord rebuilds a device and its connections.
//
// Connections that cannot be restored are skipped; the returned error
// joins their problems while the device itself is still returned. A nil
// device means the record itself was unusable.
func FromRecord(rec Record) (*Device, error) {
	d, err := Restore(rec.ID, rec.Name, rec.CreatedAt)
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, info := range rec.Connections {
		c, err := connection.RestoreInfo(info)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: connection %s: %w", ErrInvalidRecord, info.ID, err))
			continue
		}
		d.conns = append(d.conns, c)
		c.SetDeviceID(d.id)
	}
	return d, errors.Join(errs...)
}
