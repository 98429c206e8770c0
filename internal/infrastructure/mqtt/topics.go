package mqtt

import "strings"

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "easycom"

// Topics builds easycom MQTT topics under a configurable prefix.
//
// Layout:
//
//	{prefix}/status/{connection_id}    retained lifecycle state
//	{prefix}/data/{connection_id}      received bytes
//	{prefix}/command/{connection_id}   connect, disconnect, send requests
//	{prefix}/ack/{connection_id}       command results
//	{prefix}/system/status             online/offline (LWT)
//	{prefix}/system/health             periodic service stats
//
// The zero value uses DefaultTopicPrefix.
type Topics struct {
	Prefix string
}

func (t Topics) join(parts ...string) string {
	prefix := strings.TrimSuffix(t.Prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return prefix + "/" + strings.Join(parts, "/")
}

// Status returns the retained status topic for a connection.
func (t Topics) Status(connectionID string) string {
	return t.join("status", connectionID)
}

// Data returns the topic carrying bytes received on a connection.
func (t Topics) Data(connectionID string) string {
	return t.join("data", connectionID)
}

// Command returns the topic remote clients publish commands to.
func (t Topics) Command(connectionID string) string {
	return t.join("command", connectionID)
}

// Ack returns the topic command results are published on.
func (t Topics) Ack(connectionID string) string {
	return t.join("ack", connectionID)
}

// SystemStatus returns the online/offline topic used for the LWT.
func (t Topics) SystemStatus() string {
	return t.join("system", "status")
}

// SystemHealth returns the periodic health topic.
func (t Topics) SystemHealth() string {
	return t.join("system", "health")
}

// AllCommands matches every connection's command topic.
func (t Topics) AllCommands() string {
	return t.join("command", "+")
}

// AllStatus matches every connection's status topic.
func (t Topics) AllStatus() string {
	return t.join("status", "+")
}

// ConnectionIDFromTopic returns the last level of topic. It is how command
// handlers recover the connection id from a wildcard match.
func ConnectionIDFromTopic(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}
