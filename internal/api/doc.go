// Package api implements the HTTP REST API and WebSocket server for easycom.
//
// This package provides:
//   - REST endpoints for connections, devices and their event history
//   - Connect, disconnect and send commands routed to the connection service
//   - WebSocket hub streaming status bus events to subscribed clients
//   - JWT bearer authentication with admin and operator roles
//   - Middleware stack (request ID, logging, recovery, CORS, rate limit)
//   - Prometheus and JSON metrics endpoints
//
// # Architecture
//
// The server sits beside the MQTT relay as a second front end to the
// connection service. Commands flow from HTTP handlers into the service;
// lifecycle and data events flow back through the status bus, where the
// WebSocket hub is just another observer.
//
// # Security
//
// Every route except /health requires a bearer token when
// security.jwt.secret is set. Browsers cannot set headers on a WebSocket
// upgrade, so /ws also accepts the token in the access_token query
// parameter. With no secret configured the API is open; that mode is
// meant for a loopback-only listener.
//
// # Graceful Degradation
//
// History, MQTT and Prometheus are optional. Without them the matching
// endpoints return 503 or omit their section; everything else keeps
// working.
package api
