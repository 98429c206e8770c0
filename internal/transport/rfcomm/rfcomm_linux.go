//go:build linux

package rfcomm

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	dbus "github.com/godbus/dbus/v5"

	"github.com/nicholastmosher/easycom-sub000/internal/connection"
)

const (
	bluezService        = "org.bluez"
	profileIface        = "org.bluez.Profile1"
	profileManagerIface = "org.bluez.ProfileManager1"
	deviceIface         = "org.bluez.Device1"
	adapterIface        = "org.bluez.Adapter1"
	propsIface          = "org.freedesktop.DBus.Properties"
)

var pathCounter atomic.Uint64

type platformState struct {
	bus         *dbus.Conn
	profile     *clientProfile
	profilePath dbus.ObjectPath
	closed      bool
}

// clientProfile implements org.bluez.Profile1 and hands each delivered
// socket to the Open call waiting for that device. BlueZ names only the
// device, so at most one Open per device may be waiting.
type clientProfile struct {
	mu      sync.Mutex
	waiters map[dbus.ObjectPath]chan int
}

func newClientProfile() *clientProfile {
	return &clientProfile{waiters: make(map[dbus.ObjectPath]chan int)}
}

// Release is called by BlueZ when the profile is unregistered.
func (p *clientProfile) Release() *dbus.Error { return nil }

// Cancel is called when a pending request is cancelled.
func (p *clientProfile) Cancel() *dbus.Error { return nil }

// RequestDisconnection is ignored; the connection service closes handles.
func (p *clientProfile) RequestDisconnection(_ dbus.ObjectPath) *dbus.Error { return nil }

// NewConnection receives the RFCOMM socket for dev.
func (p *clientProfile) NewConnection(dev dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	p.mu.Lock()
	ch, ok := p.waiters[dev]
	p.mu.Unlock()

	if ok {
		select {
		case ch <- int(fd):
			return nil
		default:
		}
	}
	_ = os.NewFile(uintptr(fd), "rfcomm").Close() //nolint:errcheck // rejected socket
	return &dbus.Error{Name: "org.bluez.Error.Rejected", Body: []any{"no pending connect"}}
}

func (p *clientProfile) expect(dev dbus.ObjectPath) (chan int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.waiters[dev]; busy {
		return nil, unavailable("connect to %s already in progress", dev)
	}
	ch := make(chan int, 1)
	p.waiters[dev] = ch
	return ch, nil
}

// forget stops waiting for dev and closes a socket that arrived too late.
func (p *clientProfile) forget(dev dbus.ObjectPath, ch chan int) {
	p.mu.Lock()
	if p.waiters[dev] == ch {
		delete(p.waiters, dev)
	}
	p.mu.Unlock()

	select {
	case fd := <-ch:
		_ = os.NewFile(uintptr(fd), "rfcomm").Close() //nolint:errcheck // orphaned socket
	default:
	}
}

// busConn returns the private system bus connection, dialling it on first use.
func (t *Transport) busConn() (*dbus.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.busConnLocked()
}

func (t *Transport) busConnLocked() (*dbus.Conn, error) {
	if t.state.closed {
		return nil, unavailable("transport closed")
	}
	if t.state.bus != nil {
		return t.state.bus, nil
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, unavailable("system bus: %v", err)
	}
	t.state.bus = conn
	return conn, nil
}

// ensureProfile exports and registers the client profile once.
func (t *Transport) ensureProfile() (*dbus.Conn, *clientProfile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	bus, err := t.busConnLocked()
	if err != nil {
		return nil, nil, err
	}
	if t.state.profile != nil {
		return bus, t.state.profile, nil
	}

	prof := newClientProfile()
	path := dbus.ObjectPath("/org/easycom/rfcomm/client/p" + strconv.FormatUint(pathCounter.Add(1), 10))
	if err := bus.Export(prof, path, profileIface); err != nil {
		return nil, nil, unavailable("export profile: %v", err)
	}

	opts := map[string]dbus.Variant{
		"Role": dbus.MakeVariant("client"),
	}
	pm := bus.Object(bluezService, dbus.ObjectPath("/org/bluez"))
	if call := pm.Call(profileManagerIface+".RegisterProfile", 0, path, t.cfg.ProfileUUID, opts); call.Err != nil {
		_ = bus.Export(nil, path, profileIface) //nolint:errcheck // best-effort unexport
		return nil, nil, unavailable("register profile: %v", call.Err)
	}

	t.state.profile = prof
	t.state.profilePath = path
	t.logDebug("rfcomm profile registered", "path", string(path), "uuid", t.cfg.ProfileUUID)
	return bus, prof, nil
}

// Ready implements connection.Transport by checking Adapter1.Powered.
func (t *Transport) Ready(ctx context.Context) error {
	bus, err := t.busConn()
	if err != nil {
		return err
	}

	obj := bus.Object(bluezService, dbus.ObjectPath(AdapterPath(t.cfg.Adapter)))
	var v dbus.Variant
	if err := obj.CallWithContext(ctx, propsIface+".Get", 0, adapterIface, "Powered").Store(&v); err != nil {
		return unavailable("adapter %s: %v", t.cfg.Adapter, err)
	}
	powered, ok := v.Value().(bool)
	if !ok || !powered {
		return unavailable("adapter %s is powered off", t.cfg.Adapter)
	}
	return nil
}

// Open implements connection.Transport.
func (t *Transport) Open(ctx context.Context, addr connection.Address) (connection.Handle, error) {
	bt, ok := addr.(connection.BluetoothAddress)
	if !ok {
		return nil, fmt.Errorf("%w: rfcomm transport cannot dial %s address", connection.ErrAddressInvalid, addr.Kind())
	}

	bus, prof, err := t.ensureProfile()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()

	devPath := dbus.ObjectPath(DevicePath(t.cfg.Adapter, bt))
	devObj := bus.Object(bluezService, devPath)

	if t.cfg.Pair {
		if err := pairIfNeeded(ctx, devObj); err != nil {
			return nil, fmt.Errorf("%w: pair %s: %w", connection.ErrIOFailure, bt, err)
		}
	}

	ch, err := prof.expect(devPath)
	if err != nil {
		return nil, err
	}
	defer prof.forget(devPath, ch)

	callErr := devObj.CallWithContext(ctx, deviceIface+".ConnectProfile", 0, t.cfg.ProfileUUID).Err
	if callErr != nil {
		// BlueZ can fail the call after the socket was already handed over.
		select {
		case fd := <-ch:
			h := newHandle(os.NewFile(uintptr(fd), "rfcomm:"+bt.MAC()), bt.MAC())
			return h, fmt.Errorf("%w: connect profile %s: %w", connection.ErrIOFailure, bt, callErr)
		default:
			return nil, fmt.Errorf("%w: connect profile %s: %w", connection.ErrIOFailure, bt, callErr)
		}
	}

	select {
	case fd := <-ch:
		return newHandle(os.NewFile(uintptr(fd), "rfcomm:"+bt.MAC()), bt.MAC()), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for socket from %s: %w", connection.ErrIOFailure, bt, ctx.Err())
	}
}

func pairIfNeeded(ctx context.Context, devObj dbus.BusObject) error {
	var v dbus.Variant
	if err := devObj.CallWithContext(ctx, propsIface+".Get", 0, deviceIface, "Paired").Store(&v); err != nil {
		return err
	}
	if paired, ok := v.Value().(bool); ok && paired {
		return nil
	}
	return devObj.CallWithContext(ctx, deviceIface+".Pair", 0).Err
}

// Close unregisters the profile and closes the bus connection.
// Safe to call multiple times.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.closed {
		return nil
	}
	t.state.closed = true

	if t.state.bus == nil {
		return nil
	}
	if t.state.profile != nil {
		pm := t.state.bus.Object(bluezService, dbus.ObjectPath("/org/bluez"))
		_ = pm.Call(profileManagerIface+".UnregisterProfile", 0, t.state.profilePath).Err //nolint:errcheck // best-effort
		_ = t.state.bus.Export(nil, t.state.profilePath, profileIface)                   //nolint:errcheck // best-effort
	}
	return t.state.bus.Close()
}
