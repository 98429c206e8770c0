// Package mqtt provides the MQTT client easycom uses to mirror connection
// events to a broker and accept remote commands.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS and retained flags
//   - Wildcard subscriptions restored after reconnect
//   - Retained online/offline presence with a Last Will
//
// # Topics
//
// Every topic lives under the configured prefix (mqtt.topic_prefix), see
// Topics for the layout.
//
// # Security Considerations
//
//   - Enable cfg.Broker.TLS outside a trusted network
//   - Prefer EASYCOM_MQTT_PASSWORD over a password in the config file
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Publish(topics.Status(id), payload, 1, true)
package mqtt
