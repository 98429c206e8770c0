// Package rfcomm implements the Bluetooth serial (SPP over RFCOMM) transport
// for the connection service.
//
// On Linux the transport talks to BlueZ over the system D-Bus:
//
//   - Ready reads org.bluez.Adapter1.Powered on the configured adapter.
//   - Open registers a client org.bluez.Profile1 for the Serial Port Profile
//     (once per transport), calls org.bluez.Device1.ConnectProfile on the
//     peer and waits for BlueZ to hand the RFCOMM socket over through
//     Profile1.NewConnection. The descriptor is wrapped in an *os.File.
//
// BlueZ sometimes reports a ConnectProfile error after it already delivered a
// working socket. In that case Open returns both the handle and the error so
// the connection service can keep the open handle.
//
// On other platforms Ready and Open return connection.ErrTransportUnavailable.
package rfcomm
