// Package statusbus is the typed publish/subscribe channel for connection
// lifecycle and data events.
//
// Publishers (the connection service and its readers) never know who is
// listening. Observers (the service's own reader starter, the websocket hub,
// the MQTT relay, telemetry, event history) subscribe independently.
//
// Delivery is synchronous: Publish returns after every observer subscribed at
// publish time has been called. Each observer runs under its own recover, so a
// panicking observer is logged and skipped. Events for one connection are
// delivered in publish order; events for different connections may
// interleave.
//
// Observers must not call Publish for the same connection from inside
// HandleEvent. Slow observers should hand the event to their own queue.
package statusbus
