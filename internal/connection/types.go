package connection

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

// Kind identifies the transport a connection uses.
type Kind string

// Transport kinds. USB and WiFi are reserved for future transports.
const (
	KindBluetooth Kind = "bluetooth"
	KindTCPIP     Kind = "tcp_ip"
	KindUSB       Kind = "usb"
	KindWiFi      Kind = "wifi"
)

// AllKinds returns every declared transport kind.
func AllKinds() []Kind {
	return []Kind{KindBluetooth, KindTCPIP, KindUSB, KindWiFi}
}

// ParseKind converts a string into a Kind.
// It accepts the canonical names plus a few common spellings ("tcp", "bt").
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bluetooth", "bt", "rfcomm":
		return KindBluetooth, nil
	case "tcp_ip", "tcp", "tcpip":
		return KindTCPIP, nil
	case "usb":
		return KindUSB, nil
	case "wifi":
		return KindWiFi, nil
	default:
		return "", fmt.Errorf("%w: unknown transport kind %q", ErrTransportUnavailable, s)
	}
}

// Status is the lifecycle state of a connection.
type Status string

// Connection statuses.
const (
	StatusDisconnected  Status = "disconnected"
	StatusConnecting    Status = "connecting"
	StatusConnected     Status = "connected"
	StatusConnectFailed Status = "connect_failed"
)

// Address is a transport-specific peer address.
// Implementations are immutable value types.
type Address interface {
	// Kind returns the transport this address belongs to.
	Kind() Kind

	// String returns the canonical textual form.
	String() string
}

var macPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}$`)

// BluetoothAddress is a MAC-style radio address in canonical
// XX:XX:XX:XX:XX:XX form.
type BluetoothAddress struct {
	mac string
}

// ParseBluetoothAddress validates and normalises a MAC address.
// Both ':' and '-' separators are accepted; the result is upper case with ':'.
func ParseBluetoothAddress(s string) (BluetoothAddress, error) {
	s = strings.TrimSpace(s)
	if !macPattern.MatchString(s) {
		return BluetoothAddress{}, fmt.Errorf("%w: bluetooth address %q", ErrAddressInvalid, s)
	}
	return BluetoothAddress{mac: strings.ToUpper(strings.ReplaceAll(s, "-", ":"))}, nil
}

// Kind implements Address.
func (a BluetoothAddress) Kind() Kind { return KindBluetooth }

// String implements Address.
func (a BluetoothAddress) String() string { return a.mac }

// MAC returns the canonical MAC string.
func (a BluetoothAddress) MAC() string { return a.mac }

// TCPAddress is a host and port pair.
type TCPAddress struct {
	host string
	port int
}

// NewTCPAddress validates a host and port.
func NewTCPAddress(host string, port int) (TCPAddress, error) {
	host = strings.TrimSpace(host)
	if host == "" || strings.ContainsAny(host, " \t/") {
		return TCPAddress{}, fmt.Errorf("%w: tcp host %q", ErrAddressInvalid, host)
	}
	if port < 1 || port > 65535 {
		return TCPAddress{}, fmt.Errorf("%w: tcp port %d out of range", ErrAddressInvalid, port)
	}
	return TCPAddress{host: host, port: port}, nil
}

// ParseTCPAddress parses "host:port" (IPv6 hosts in brackets).
func ParseTCPAddress(s string) (TCPAddress, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return TCPAddress{}, fmt.Errorf("%w: %w", ErrAddressInvalid, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return TCPAddress{}, fmt.Errorf("%w: tcp port %q", ErrAddressInvalid, portStr)
	}
	return NewTCPAddress(host, port)
}

// Kind implements Address.
func (a TCPAddress) Kind() Kind { return KindTCPIP }

// String implements Address.
func (a TCPAddress) String() string { return net.JoinHostPort(a.host, strconv.Itoa(a.port)) }

// Host returns the host part.
func (a TCPAddress) Host() string { return a.host }

// Port returns the port part.
func (a TCPAddress) Port() int { return a.port }

// ParseAddress parses raw into the address variant for kind.
func ParseAddress(kind Kind, raw string) (Address, error) {
	switch kind {
	case KindBluetooth:
		return ParseBluetoothAddress(raw)
	case KindTCPIP:
		return ParseTCPAddress(raw)
	default:
		return nil, fmt.Errorf("%w: no address format for %q", ErrTransportUnavailable, kind)
	}
}
