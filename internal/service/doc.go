// Package service is the connection service: it executes connect,
// disconnect and send commands off the caller's goroutine, applies the
// bounded retry policy, runs one background reader per live connection and
// publishes every status transition on the status bus.
//
// # Command surface
//
//	svc.Connect(id)          // non-blocking, no-op if Connected or Connecting
//	svc.Disconnect(id)       // non-blocking, cancels an in-flight connect
//	svc.Send(id, payload)    // non-blocking, ErrNotConnected if not Connected
//	svc.Subscribe(observer)  // status bus subscription
//
// Every command resolves the ID through the connection registry first and
// returns connection.ErrNotFound synchronously for unknown IDs. Accepted
// commands return a *Completion the caller may wait on for the local result.
//
// # Connect cycle
//
//	Disconnected/ConnectFailed ──Connect──▶ Connecting
//	    │  publish Connecting
//	    │  loop: Ready (logged on failure) → Open
//	    │     ok, or error with an open handle ─▶ Connected (publish)
//	    │     error, attempts < MaxRetries     ─▶ retry silently
//	    │     error, retries exhausted         ─▶ ConnectFailed (publish once)
//	    │     cancelled                        ─▶ Disconnected (publish)
//
// # Ordering
//
// Commands for one connection run in issue order on a per-connection
// executor; global concurrency is bounded by a weighted semaphore. The
// reader is started by the service's own bus observer after Connected has
// been delivered, and Disconnected is only published once the reader has
// exited, so observers always see Connected, then DataReceived events, then
// Disconnected.
package service
