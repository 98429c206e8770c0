// Package influxdb provides InfluxDB connectivity for easycom.
//
// It wraps the official influxdb-client-go v2 library for link telemetry:
// every lifecycle transition becomes a connection_status point and every
// received chunk a connection_data point.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteConnectionData(id, "tcp_ip", len(chunk), time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are batched according to
// batch_size and flush_interval and never block the caller; failures are
// reported through SetOnError.
package influxdb
