// Package telemetry turns status bus events into metrics.
//
// Two observers live here:
//
//   - InfluxRecorder writes connection_status and connection_data points
//     through the non-blocking InfluxDB client.
//   - Metrics keeps Prometheus counters per transition and kind, plus
//     scrape-time gauges over the connection registry and service stats.
//
// Both label events with the connection's transport kind, looked up in the
// registry; connections that are gone are labelled "unknown".
package telemetry
