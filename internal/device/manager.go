package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nicholastmosher/easycom-sub000/internal/connection"
)

// saveTimeout bounds repository writes triggered by change notifications.
const saveTimeout = 5 * time.Second

// Logger defines the logging interface used by the Manager.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager owns the application's devices and keeps the connection
// Registry in step with them.
//
// The registry only holds weak references, so the Manager is the strong
// owner that keeps each device's connections addressable. Connections that
// are not part of any device can be adopted; they live until Forget.
//
// Every connection-list change is saved through the Repository. Repository
// failures are logged, never returned.
//
// All public methods are thread-safe.
type Manager struct {
	repo     Repository
	registry *connection.Registry

	mu      sync.RWMutex
	devices map[string]*Device
	unsubs  map[string]func()
	loose   map[string]*connection.Connection

	logger   Logger
	loggerMu sync.RWMutex
}

// NewManager creates a device manager.
func NewManager(repo Repository, registry *connection.Registry) *Manager {
	return &Manager{
		repo:     repo,
		registry: registry,
		devices:  make(map[string]*Device),
		unsubs:   make(map[string]func()),
		loose:    make(map[string]*connection.Connection),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.loggerMu.Lock()
	m.logger = logger
	m.loggerMu.Unlock()
}

func (m *Manager) log() Logger {
	m.loggerMu.RLock()
	defer m.loggerMu.RUnlock()
	return m.logger
}

// Load reads every persisted device, rebuilds its connections and
// registers them. Records that cannot be rebuilt are logged and skipped.
// It returns the number of devices loaded.
func (m *Manager) Load(ctx context.Context) (int, error) {
	records, err := m.repo.ListDevices(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading devices: %w", err)
	}

	loaded := 0
	for _, rec := range records {
		d, err := FromRecord(rec)
		if d == nil {
			m.log().Warn("skipping device record", "id", rec.ID, "error", err)
			continue
		}
		if err != nil {
			m.log().Warn("device record has invalid connections", "id", rec.ID, "error", err)
		}
		m.track(d)
		loaded++
	}

	m.log().Info("devices loaded", "count", loaded)
	return loaded, nil
}

// track starts owning d: registers its connections and persists future
// changes.
func (m *Manager) track(d *Device) {
	for _, c := range d.Connections() {
		m.registry.Register(c)
	}
	unsub := d.OnChange(func(ch Change) {
		m.log().Debug("device changed", "id", ch.DeviceID, "change", string(ch.Kind), "connection_id", ch.ConnectionID)
		m.save(d)
	})

	m.mu.Lock()
	m.devices[d.ID()] = d
	m.unsubs[d.ID()] = unsub
	m.mu.Unlock()
}

func (m *Manager) save(d *Device) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := m.repo.SaveDevice(ctx, d); err != nil {
		m.log().Error("saving device failed", "id", d.ID(), "error", err)
	}
}

// CreateDevice creates, tracks and persists a new empty device.
func (m *Manager) CreateDevice(name string) (*Device, error) {
	d, err := New(name)
	if err != nil {
		return nil, err
	}
	m.track(d)
	m.save(d)

	m.log().Info("device created", "id", d.ID(), "name", d.Name())
	return d, nil
}

// GetDevice returns the device with the given ID.
func (m *Manager) GetDevice(id string) (*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return d, nil
}

// ListDevices returns all devices ordered by name, then ID.
func (m *Manager) ListDevices() []*Device {
	m.mu.RLock()
	out := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if a, b := out[i].Name(), out[j].Name(); a != b {
			return a < b
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// RenameDevice changes a device's name.
func (m *Manager) RenameDevice(id, name string) (*Device, error) {
	d, err := m.GetDevice(id)
	if err != nil {
		return nil, err
	}
	if err := d.SetName(name); err != nil {
		return nil, err
	}
	return d, nil
}

// DeleteDevice stops tracking a device, unregisters its connections and
// removes it from the repository. Callers should disconnect the
// connections first.
func (m *Manager) DeleteDevice(id string) (*Device, error) {
	m.mu.Lock()
	d, ok := m.devices[id]
	unsub := m.unsubs[id]
	delete(m.devices, id)
	delete(m.unsubs, id)
	m.mu.Unlock()

	if !ok {
		return nil, ErrDeviceNotFound
	}
	if unsub != nil {
		unsub()
	}

	for _, c := range d.Connections() {
		m.registry.Unregister(c.ID())
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := m.repo.DeleteDevice(ctx, d); err != nil {
		m.log().Error("deleting device failed", "id", id, "error", err)
	}

	m.log().Info("device deleted", "id", id)
	return d, nil
}

// AddConnection registers c and adds it to the device. A connection with
// the same ID already on the device is replaced; one owned by another
// device, or adopted, is moved.
//
// If an instance with c's ID is Connecting or Connected, that instance
// stays the member and only takes c's name, so its session can still be
// disconnected.
func (m *Manager) AddConnection(deviceID string, c *connection.Connection) (ChangeKind, error) {
	d, err := m.GetDevice(deviceID)
	if err != nil {
		return "", err
	}

	owners := []string{c.DeviceID()}
	if cur, err := m.registry.Lookup(c.ID()); err == nil {
		owners = append(owners, cur.DeviceID())
	}
	live := m.registry.Register(c)

	for _, prev := range owners {
		if prev == "" || prev == deviceID {
			continue
		}
		if owner, err := m.GetDevice(prev); err == nil {
			owner.RemoveConnection(live)
		}
	}
	m.mu.Lock()
	delete(m.loose, c.ID())
	m.mu.Unlock()

	return d.AddConnection(live), nil
}

// AddCandidate turns a discovery result into a connection. With a device
// ID it joins that device; without one it is adopted.
func (m *Manager) AddCandidate(deviceID string, cand connection.Candidate) (*connection.Connection, error) {
	if deviceID != "" {
		if _, err := m.GetDevice(deviceID); err != nil {
			return nil, err
		}
	}

	c, err := connection.FromCandidate(cand)
	if err != nil {
		return nil, err
	}

	if deviceID == "" {
		m.Adopt(c)
		return c, nil
	}
	if _, err := m.AddConnection(deviceID, c); err != nil {
		return nil, err
	}
	return c, nil
}

// RemoveConnection removes a connection from its device and unregisters it.
func (m *Manager) RemoveConnection(deviceID, connectionID string) error {
	d, err := m.GetDevice(deviceID)
	if err != nil {
		return err
	}
	c, ok := d.Connection(connectionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, connectionID)
	}
	d.RemoveConnection(c)
	m.registry.Unregister(connectionID)
	return nil
}

// Adopt registers a connection that belongs to no device and keeps it
// alive until Forget.
func (m *Manager) Adopt(c *connection.Connection) {
	live := m.registry.Register(c)
	m.mu.Lock()
	m.loose[live.ID()] = live
	m.mu.Unlock()
}

// Forget drops a connection wherever it is held: from its device, or from
// the adopted set. The registry entry is removed.
func (m *Manager) Forget(connectionID string) error {
	m.mu.Lock()
	_, adopted := m.loose[connectionID]
	delete(m.loose, connectionID)
	m.mu.Unlock()

	if adopted {
		m.registry.Unregister(connectionID)
		return nil
	}

	d, _, err := m.FindConnection(connectionID)
	if err != nil {
		return err
	}
	return m.RemoveConnection(d.ID(), connectionID)
}

// FindConnection returns a connection and its owning device. The device
// is nil for adopted connections.
func (m *Manager) FindConnection(connectionID string) (*Device, *connection.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if c, ok := m.loose[connectionID]; ok {
		return nil, c, nil
	}
	for _, d := range m.devices {
		if c, ok := d.Connection(connectionID); ok {
			return d, c, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: %s", connection.ErrNotFound, connectionID)
}

// RenameConnection changes a connection's label and persists its device.
func (m *Manager) RenameConnection(connectionID, name string) (*connection.Connection, error) {
	d, c, err := m.FindConnection(connectionID)
	if err != nil {
		return nil, err
	}
	c.SetName(name)
	if d != nil {
		m.save(d)
	}
	return c, nil
}

// Connections returns every owned connection: device members in device
// order, then adopted ones.
func (m *Manager) Connections() []*connection.Connection {
	var out []*connection.Connection
	for _, d := range m.ListDevices() {
		out = append(out, d.Connections()...)
	}

	m.mu.RLock()
	loose := make([]*connection.Connection, 0, len(m.loose))
	for _, c := range m.loose {
		loose = append(loose, c)
	}
	m.mu.RUnlock()

	sort.Slice(loose, func(i, j int) bool { return loose[i].ID() < loose[j].ID() })
	return append(out, loose...)
}

// Stats returns manager statistics for monitoring.
type Stats struct {
	Devices     int
	Connections int
	Adopted     int
	ByKind      map[connection.Kind]int
	ByStatus    map[connection.Status]int
}

// GetStats returns current manager statistics.
func (m *Manager) GetStats() Stats {
	stats := Stats{
		ByKind:   make(map[connection.Kind]int),
		ByStatus: make(map[connection.Status]int),
	}

	m.mu.RLock()
	stats.Devices = len(m.devices)
	stats.Adopted = len(m.loose)
	m.mu.RUnlock()

	for _, c := range m.Connections() {
		stats.Connections++
		stats.ByKind[c.Kind()]++
		stats.ByStatus[c.Status()]++
	}
	return stats
}
