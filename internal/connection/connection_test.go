package connection

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"
)

// fakeHandle is an in-memory Handle.
type fakeHandle struct {
	mu     sync.Mutex
	open   bool
	closes int
	buf    bytes.Buffer
}

func newFakeHandle() *fakeHandle { return &fakeHandle{open: true} }

func (h *fakeHandle) Read(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buf.Read(p)
}

func (h *fakeHandle) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buf.Write(p)
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.open = false
	h.closes++
	return nil
}

func (h *fakeHandle) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.open
}

func (h *fakeHandle) peerClose() {
	h.mu.Lock()
	h.open = false
	h.mu.Unlock()
}

func mustTCP(t *testing.T, host string, port int) TCPAddress {
	t.Helper()
	a, err := NewTCPAddress(host, port)
	if err != nil {
		t.Fatalf("NewTCPAddress() error = %v", err)
	}
	return a
}

func TestParseBluetoothAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "colon upper", input: "00:1A:7D:DA:71:13", want: "00:1A:7D:DA:71:13"},
		{name: "colon lower", input: "00:1a:7d:da:71:13", want: "00:1A:7D:DA:71:13"},
		{name: "dash separated", input: "00-1a-7d-da-71-13", want: "00:1A:7D:DA:71:13"},
		{name: "surrounding space", input: "  00:1a:7d:da:71:13 ", want: "00:1A:7D:DA:71:13"},
		{name: "too short", input: "00:1a:7d:da:71", wantErr: true},
		{name: "not hex", input: "zz:1a:7d:da:71:13", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBluetoothAddress(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrAddressInvalid) {
					t.Errorf("ParseBluetoothAddress() error = %v, want ErrAddressInvalid", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseBluetoothAddress() unexpected error: %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("String() = %q, want %q", got.String(), tt.want)
			}
			if got.Kind() != KindBluetooth {
				t.Errorf("Kind() = %q, want %q", got.Kind(), KindBluetooth)
			}
		})
	}
}

func TestParseTCPAddress(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{name: "ipv4", input: "127.0.0.1:9000", wantHost: "127.0.0.1", wantPort: 9000},
		{name: "hostname", input: "printer.local:23", wantHost: "printer.local", wantPort: 23},
		{name: "ipv6", input: "[::1]:8080", wantHost: "::1", wantPort: 8080},
		{name: "missing port", input: "127.0.0.1", wantErr: true},
		{name: "port zero", input: "127.0.0.1:0", wantErr: true},
		{name: "port too large", input: "127.0.0.1:70000", wantErr: true},
		{name: "port not numeric", input: "127.0.0.1:http", wantErr: true},
		{name: "empty host", input: ":9000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTCPAddress(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrAddressInvalid) {
					t.Errorf("ParseTCPAddress() error = %v, want ErrAddressInvalid", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTCPAddress() unexpected error: %v", err)
			}
			if got.Host() != tt.wantHost || got.Port() != tt.wantPort {
				t.Errorf("got %s:%d, want %s:%d", got.Host(), got.Port(), tt.wantHost, tt.wantPort)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		input   string
		want    Kind
		wantErr bool
	}{
		{input: "bluetooth", want: KindBluetooth},
		{input: "BT", want: KindBluetooth},
		{input: "tcp", want: KindTCPIP},
		{input: "tcp_ip", want: KindTCPIP},
		{input: "usb", want: KindUSB},
		{input: "wifi", want: KindWiFi},
		{input: "zigbee", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseKind(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseKind(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseKind(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewConnection(t *testing.T) {
	addr := mustTCP(t, "127.0.0.1", 9000)

	c, err := New("bench scope", addr)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.ID() == "" {
		t.Error("ID() is empty")
	}
	if c.Status() != StatusDisconnected {
		t.Errorf("Status() = %q, want %q", c.Status(), StatusDisconnected)
	}
	if c.Kind() != KindTCPIP {
		t.Errorf("Kind() = %q, want %q", c.Kind(), KindTCPIP)
	}

	other, _ := New("bench scope", addr)
	if c.ID() == other.ID() {
		t.Error("two connections share an ID")
	}

	unnamed, _ := New("  ", addr)
	if unnamed.Name() != "127.0.0.1:9000" {
		t.Errorf("Name() = %q, want address fallback", unnamed.Name())
	}

	if _, err := New("x", nil); !errors.Is(err, ErrAddressInvalid) {
		t.Errorf("New(nil address) error = %v, want ErrAddressInvalid", err)
	}
}

func TestConnectionStreamsRequireConnected(t *testing.T) {
	c, _ := New("a", mustTCP(t, "127.0.0.1", 9000))

	if r, err := c.Reader(); !errors.Is(err, ErrNotConnected) || r != nil {
		t.Errorf("Reader() = (%v, %v), want (nil, ErrNotConnected)", r, err)
	}
	if w, err := c.Writer(); !errors.Is(err, ErrNotConnected) || w != nil {
		t.Errorf("Writer() = (%v, %v), want (nil, ErrNotConnected)", w, err)
	}

	h := newFakeHandle()
	c.BeginConnect()
	c.Attach(h)

	w, err := c.Writer()
	if err != nil {
		t.Fatalf("Writer() error = %v", err)
	}
	if _, err := w.Write([]byte("ping")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	r, err := c.Reader()
	if err != nil {
		t.Fatalf("Reader() error = %v", err)
	}
	buf := make([]byte, 8)
	n, _ := r.Read(buf)
	if string(buf[:n]) != "ping" {
		t.Errorf("Read() = %q, want %q", buf[:n], "ping")
	}
}

func TestConnectionLazyReconciliation(t *testing.T) {
	c, _ := New("a", mustTCP(t, "127.0.0.1", 9000))
	h := newFakeHandle()
	c.BeginConnect()
	c.Attach(h)

	if got := c.Status(); got != StatusConnected {
		t.Fatalf("Status() = %q, want connected", got)
	}

	h.peerClose()

	if got := c.Status(); got != StatusDisconnected {
		t.Errorf("Status() after peer close = %q, want disconnected", got)
	}
	if c.CurrentHandle() != nil {
		t.Error("stale handle was not released")
	}
	if h.closes != 1 {
		t.Errorf("stale handle closed %d times, want 1", h.closes)
	}
	if _, err := c.Writer(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Writer() error = %v, want ErrNotConnected", err)
	}
}

func TestConnectionBeginConnect(t *testing.T) {
	c, _ := New("a", mustTCP(t, "127.0.0.1", 9000))

	if !c.BeginConnect() {
		t.Fatal("BeginConnect() from disconnected = false")
	}
	if c.BeginConnect() {
		t.Error("BeginConnect() while connecting = true")
	}

	c.Fail()
	if c.Status() != StatusConnectFailed {
		t.Fatalf("Status() = %q, want connect_failed", c.Status())
	}
	if !c.BeginConnect() {
		t.Error("BeginConnect() after failure = false")
	}

	c.Attach(newFakeHandle())
	if c.BeginConnect() {
		t.Error("BeginConnect() while connected = true")
	}
}

func TestConnectionDetach(t *testing.T) {
	c, _ := New("a", mustTCP(t, "127.0.0.1", 9000))
	h := newFakeHandle()
	c.BeginConnect()
	c.Attach(h)

	if c.Detach(newFakeHandle()) {
		t.Error("Detach(other handle) = true")
	}
	if !c.Detach(h) {
		t.Fatal("Detach(current handle) = false")
	}
	if c.Status() != StatusDisconnected {
		t.Errorf("Status() = %q, want disconnected", c.Status())
	}
	if c.Detach(h) {
		t.Error("second Detach() = true")
	}
}

func TestConnectionIdentity(t *testing.T) {
	addr := mustTCP(t, "127.0.0.1", 9000)
	a, _ := New("A", addr)
	aPrime, err := Restore(a.ID(), "A prime", addr)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	b, _ := New("A", addr)

	if !a.IsVersionOf(aPrime) || !aPrime.IsVersionOf(a) {
		t.Error("connections with the same ID are not versions of each other")
	}
	if a.Equal(aPrime) {
		t.Error("Equal() ignores differing names")
	}
	if a.IsVersionOf(b) {
		t.Error("connections with different IDs are versions of each other")
	}

	aPrime.SetName("A")
	if !a.Equal(aPrime) {
		t.Error("Equal() = false for structurally identical connections")
	}
	if a.IsVersionOf(nil) {
		t.Error("IsVersionOf(nil) = true")
	}
}

func TestRestoreRejectsBadID(t *testing.T) {
	if _, err := Restore("not-a-uuid", "x", mustTCP(t, "h", 1)); err == nil {
		t.Error("Restore() with invalid id should fail")
	}
}

func TestFromCandidate(t *testing.T) {
	tests := []struct {
		name    string
		cand    Candidate
		want    Kind
		wantErr error
	}{
		{
			name: "tcp",
			cand: Candidate{Name: "A", Address: "127.0.0.1:9000", Kind: KindTCPIP},
			want: KindTCPIP,
		},
		{
			name: "bluetooth",
			cand: Candidate{Name: "HC-05", Address: "98:d3:31:fb:12:34", Kind: KindBluetooth},
			want: KindBluetooth,
		},
		{
			name:    "bad mac",
			cand:    Candidate{Name: "x", Address: "98:d3", Kind: KindBluetooth},
			wantErr: ErrAddressInvalid,
		},
		{
			name:    "empty address",
			cand:    Candidate{Name: "x", Kind: KindTCPIP},
			wantErr: ErrAddressInvalid,
		},
		{
			name:    "usb has no address format",
			cand:    Candidate{Name: "x", Address: "/dev/ttyUSB0", Kind: KindUSB},
			wantErr: ErrTransportUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := FromCandidate(tt.cand)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("FromCandidate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("FromCandidate() error = %v", err)
			}
			if c.Kind() != tt.want {
				t.Errorf("Kind() = %q, want %q", c.Kind(), tt.want)
			}
			if c.Name() != tt.cand.Name {
				t.Errorf("Name() = %q, want %q", c.Name(), tt.cand.Name)
			}
		})
	}
}

func TestRestoreInfoRoundTrip(t *testing.T) {
	c, _ := New("A", mustTCP(t, "10.0.0.5", 4001))
	c.SetDeviceID("dev-1")

	restored, err := RestoreInfo(c.Info())
	if err != nil {
		t.Fatalf("RestoreInfo() error = %v", err)
	}
	if !restored.Equal(c) {
		t.Errorf("restored = %+v, want %+v", restored.Info(), c.Info())
	}
}

func TestConnectionNameKeepsRunesWhole(t *testing.T) {
	addr := mustTCP(t, "127.0.0.1", 9000)
	// 127 ASCII bytes then a two-byte rune straddling the limit.
	long := strings.Repeat("a", maxNameLength-1) + "é" + "tail"

	c, err := New(long, addr)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !utf8.ValidString(c.Name()) {
		t.Fatalf("Name() = %q is not valid UTF-8", c.Name())
	}
	if c.Name() != strings.Repeat("a", maxNameLength-1) {
		t.Errorf("Name() length = %d, want %d", len(c.Name()), maxNameLength-1)
	}

	c.SetName(strings.Repeat("ü", maxNameLength))
	if !utf8.ValidString(c.Name()) || len(c.Name()) > maxNameLength {
		t.Errorf("SetName() stored %d bytes, valid=%v", len(c.Name()), utf8.ValidString(c.Name()))
	}
	if len(c.Name()) != maxNameLength {
		t.Errorf("SetName() length = %d, want %d", len(c.Name()), maxNameLength)
	}
}
