package telemetry

import (
	"time"

	"github.com/nicholastmosher/easycom-sub000/internal/connection"
	"github.com/nicholastmosher/easycom-sub000/internal/statusbus"
)

// unknownKind labels events for connections no longer in the registry.
const unknownKind = "unknown"

// PointWriter writes connection points to a time-series store.
// It is satisfied by *influxdb.Client.
type PointWriter interface {
	WriteConnectionStatus(connectionID, kind, transition string, code int, at time.Time)
	WriteConnectionData(connectionID, kind string, bytes int, at time.Time)
}

// InfluxRecorder is a bus observer that records every event as a point.
// The writer is expected to buffer, so HandleEvent does not block on I/O.
type InfluxRecorder struct {
	writer PointWriter
	conns  *connection.Registry
}

// NewInfluxRecorder creates a recorder. conns may be nil, in which case
// points are tagged with kind "unknown".
func NewInfluxRecorder(w PointWriter, conns *connection.Registry) *InfluxRecorder {
	return &InfluxRecorder{writer: w, conns: conns}
}

// HandleEvent implements statusbus.Observer.
func (r *InfluxRecorder) HandleEvent(e statusbus.Event) {
	kind := kindOf(r.conns, e.ConnectionID)
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}

	if e.Transition == statusbus.DataReceived {
		r.writer.WriteConnectionData(e.ConnectionID, kind, len(e.Data), at)
		return
	}
	r.writer.WriteConnectionStatus(e.ConnectionID, kind, string(e.Transition), StatusCode(e.Transition), at)
}

// StatusCode maps a lifecycle transition to a number for graphing:
// 0 disconnected, 1 connecting, 2 connected, -1 connect failed.
func StatusCode(t statusbus.Transition) int {
	switch t {
	case statusbus.Connecting:
		return 1
	case statusbus.Connected:
		return 2
	case statusbus.ConnectFailed:
		return -1
	default:
		return 0
	}
}

func kindOf(conns *connection.Registry, id string) string {
	if conns == nil {
		return unknownKind
	}
	c, err := conns.Lookup(id)
	if err != nil {
		return unknownKind
	}
	return string(c.Kind())
}
