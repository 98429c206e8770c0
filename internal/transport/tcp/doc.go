// Package tcp implements the TCP/IP transport for the connection service.
//
// A Transport dials peers described by connection.TCPAddress. The returned
// handle wraps the net.Conn and tracks whether the stream is still usable:
// it reports itself closed after Close, after the peer closes (io.EOF) and
// after a reset or any other terminal network error. Read timeouts are not
// terminal.
//
// Usage:
//
//	tr := tcp.New(tcp.Config{DialTimeout: 5 * time.Second})
//	h, err := tr.Open(ctx, addr)
package tcp
