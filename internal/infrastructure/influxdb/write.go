package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements written by easycom.
const (
	MeasurementStatus = "connection_status"
	MeasurementData   = "connection_data"
)

// WriteConnectionStatus records a lifecycle transition.
//
// Tags carry the connection id and transport kind; the transition is
// stored both as a string field and as a numeric code so dashboards can
// graph it.
func (c *Client) WriteConnectionStatus(connectionID, kind, transition string, code int, at time.Time) {
	c.WritePointWithTime(MeasurementStatus,
		map[string]string{
			"connection_id": connectionID,
			"kind":          kind,
		},
		map[string]any{
			"transition":  transition,
			"status_code": code,
		},
		at,
	)
}

// WriteConnectionData records the size of one received chunk.
func (c *Client) WriteConnectionData(connectionID, kind string, bytes int, at time.Time) {
	c.WritePointWithTime(MeasurementData,
		map[string]string{
			"connection_id": connectionID,
			"kind":          kind,
		},
		map[string]any{
			"bytes": bytes,
		},
		at,
	)
}

// WritePoint writes a point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a point with an explicit timestamp. It is a
// no-op when the client is not connected.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
