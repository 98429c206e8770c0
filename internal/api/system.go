package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	Connections   ServiceMetrics  `json:"connections"`
	Devices       DeviceMetrics   `json:"devices"`
	MQTT          *MQTTMetrics    `json:"mqtt,omitempty"`
	History       *HistoryMetrics `json:"history,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// ServiceMetrics contains connection service counters.
type ServiceMetrics struct {
	Registered      int    `json:"registered"`
	ConnectAttempts uint64 `json:"connect_attempts"`
	ConnectFailures uint64 `json:"connect_failures"`
	SendFailures    uint64 `json:"send_failures"`
	BytesSent       uint64 `json:"bytes_sent"`
	BytesReceived   uint64 `json:"bytes_received"`
	ActiveReaders   int    `json:"active_readers"`
}

// DeviceMetrics contains device manager statistics.
type DeviceMetrics struct {
	Total       int            `json:"total"`
	Connections int            `json:"connections"`
	Adopted     int            `json:"adopted"`
	ByKind      map[string]int `json:"by_kind"`
	ByStatus    map[string]int `json:"by_status"`
}

// MQTTMetrics contains MQTT client and relay statistics.
type MQTTMetrics struct {
	Connected       bool   `json:"connected"`
	EventsRelayed   uint64 `json:"events_relayed"`
	EventsDropped   uint64 `json:"events_dropped"`
	PublishFailures uint64 `json:"publish_failures"`
	CommandsHandled uint64 `json:"commands_handled"`
}

// HistoryMetrics contains event recorder statistics.
type HistoryMetrics struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// bytesPerMB converts runtime byte counts for display.
const bytesPerMB = 1024 * 1024

// handleSystemMetrics returns service, device and runtime metrics as JSON.
func (s *Server) handleSystemMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	svc := s.service.Stats()
	dev := s.devices.GetStats()

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / bytesPerMB,
			MemoryTotalMB: float64(memStats.TotalAlloc) / bytesPerMB,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Connections: ServiceMetrics{
			Registered:      s.registry.Len(),
			ConnectAttempts: svc.ConnectAttempts,
			ConnectFailures: svc.ConnectFailures,
			SendFailures:    svc.SendFailures,
			BytesSent:       svc.BytesSent,
			BytesReceived:   svc.BytesReceived,
			ActiveReaders:   svc.ActiveReaders,
		},
		Devices: DeviceMetrics{
			Total:       dev.Devices,
			Connections: dev.Connections,
			Adopted:     dev.Adopted,
			ByKind:      make(map[string]int, len(dev.ByKind)),
			ByStatus:    make(map[string]int, len(dev.ByStatus)),
		},
	}
	for k, n := range dev.ByKind {
		metrics.Devices.ByKind[string(k)] = n
	}
	for st, n := range dev.ByStatus {
		metrics.Devices.ByStatus[string(st)] = n
	}

	if s.mqtt != nil {
		metrics.MQTT = &MQTTMetrics{Connected: s.mqtt.IsConnected()}
		if s.relay != nil {
			rs := s.relay.Stats()
			metrics.MQTT.EventsRelayed = rs.EventsRelayed
			metrics.MQTT.EventsDropped = rs.EventsDropped
			metrics.MQTT.PublishFailures = rs.PublishFailures
			metrics.MQTT.CommandsHandled = rs.CommandsHandled
		}
	}

	if s.recorder != nil {
		hs := s.recorder.Stats()
		metrics.History = &HistoryMetrics{
			Written: hs.Written,
			Dropped: hs.Dropped,
			Failed:  hs.Failed,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}

// handlePrometheus serves the Prometheus exposition format.
func (s *Server) handlePrometheus(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "metrics are disabled")
		return
	}
	s.metrics.Handler().ServeHTTP(w, r)
}
