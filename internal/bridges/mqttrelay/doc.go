// Package mqttrelay mirrors connection events to MQTT and accepts remote
// commands over MQTT.
//
// # Architecture
//
//	┌─────────────────┐  events   ┌─────────────────┐   MQTT
//	│  statusbus.Bus  │──────────►│      Relay      │◄────────► broker
//	└─────────────────┘           │   (this pkg)    │
//	┌─────────────────┐  commands │                 │
//	│ service.Service │◄──────────│                 │
//	└─────────────────┘           └─────────────────┘
//
// # Topics
//
//	{prefix}/status/{connection_id}   StatusMessage, retained, QoS 1
//	{prefix}/data/{connection_id}     DataMessage, QoS 0
//	{prefix}/command/{connection_id}  CommandMessage (subscribed)
//	{prefix}/ack/{connection_id}      AckMessage, QoS 1
//	{prefix}/system/health            HealthMessage, retained, QoS 1
//
// The broker session itself (LWT, presence, reconnect) belongs to the
// infrastructure mqtt package.
//
// # Commands
//
//	{"id": "c1", "command": "connect"}
//	{"id": "c2", "command": "send", "text": "hello"}
//	{"id": "c3", "command": "send", "payload": "aGVsbG8="}
//
// Connect and disconnect are acknowledged as soon as the service accepts
// them; their outcome follows on the status topic. Send is acknowledged
// once the bytes were written, or failed with an error code.
//
// # Usage
//
//	relay, err := mqttrelay.New(mqttrelay.Options{
//	    MQTTClient:  mqttClient,
//	    Commander:   svc,
//	    Registry:    registry,
//	    TopicPrefix: cfg.MQTT.TopicPrefix,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := relay.Start(ctx); err != nil {
//	    return err
//	}
//	unsubscribe := svc.Subscribe(relay)
//	defer func() { unsubscribe(); relay.Stop() }()
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package mqttrelay
