package mqttrelay

import (
	"fmt"
	"time"

	"github.com/nicholastmosher/easycom-sub000/internal/connection"
	"github.com/nicholastmosher/easycom-sub000/internal/statusbus"
)

// MQTT message types exchanged between easycom and remote clients.

// StatusMessage mirrors one lifecycle transition of a connection.
// Topic: {prefix}/status/{connection_id}
// QoS: 1, Retained: Yes
type StatusMessage struct {
	// ConnectionID is the stable connection identifier.
	ConnectionID string `json:"connection_id"`

	// Name, Kind, Address and DeviceID are filled from the registry when
	// the connection is still known.
	Name     string          `json:"name,omitempty"`
	Kind     connection.Kind `json:"kind,omitempty"`
	Address  string          `json:"address,omitempty"`
	DeviceID string          `json:"device_id,omitempty"`

	// Status is the status the transition moved the connection into.
	Status connection.Status `json:"status"`

	// Transition is the bus transition that produced this message.
	Transition statusbus.Transition `json:"transition"`

	// Timestamp is when the transition happened (UTC).
	Timestamp time.Time `json:"timestamp"`
}

// DataMessage carries bytes received on a connection.
// Topic: {prefix}/data/{connection_id}
// QoS: 0, Retained: No
type DataMessage struct {
	ConnectionID string    `json:"connection_id"`
	Timestamp    time.Time `json:"timestamp"`
	Size         int       `json:"size"`

	// Payload is base64 encoded on the wire.
	Payload []byte `json:"payload"`
}

// CommandType names an operation a remote client can request.
type CommandType string

// Supported commands.
const (
	CommandConnect    CommandType = "connect"
	CommandDisconnect CommandType = "disconnect"
	CommandSend       CommandType = "send"
)

// CommandMessage is sent by a remote client to drive a connection.
// Topic: {prefix}/command/{connection_id}
type CommandMessage struct {
	// ID correlates the command with its acknowledgment.
	ID string `json:"id"`

	// Timestamp is when the command was issued.
	Timestamp time.Time `json:"timestamp,omitzero"`

	// Command is connect, disconnect or send.
	Command CommandType `json:"command"`

	// Payload is the base64 encoded body for send.
	Payload []byte `json:"payload,omitempty"`

	// Text is a plain text alternative to Payload for send.
	Text string `json:"text,omitempty"`

	// Source indicates where the command originated (e.g. "dashboard").
	Source string `json:"source,omitempty"`
}

// Validate checks that the command is well formed.
func (c CommandMessage) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidCommand)
	}
	switch c.Command {
	case CommandConnect, CommandDisconnect:
		return nil
	case CommandSend:
		if len(c.Payload) == 0 && c.Text == "" {
			return fmt.Errorf("%w: send requires payload or text", ErrInvalidPayload)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", ErrInvalidCommand, c.Command)
	}
}

// Body returns the bytes to send: Payload when set, otherwise Text.
func (c CommandMessage) Body() []byte {
	if len(c.Payload) > 0 {
		return c.Payload
	}
	return []byte(c.Text)
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was accepted. For send it also
	// means the bytes were written.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the local result did not arrive in time.
	AckTimeout AckStatus = "timeout"
)

// AckMessage acknowledges a command.
// Topic: {prefix}/ack/{connection_id}
// QoS: 1, Retained: No
type AckMessage struct {
	CommandID    string      `json:"command_id"`
	ConnectionID string      `json:"connection_id"`
	Command      CommandType `json:"command"`
	Status       AckStatus   `json:"status"`
	Timestamp    time.Time   `json:"timestamp"`
	Error        *AckError   `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is a stable error code such as NOT_CONNECTED.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeNotConnected         = "NOT_CONNECTED"
	ErrCodeInvalidCommand       = "INVALID_COMMAND"
	ErrCodeInvalidPayload       = "INVALID_PAYLOAD"
	ErrCodeAddressInvalid       = "ADDRESS_INVALID"
	ErrCodeTransportUnavailable = "TRANSPORT_UNAVAILABLE"
	ErrCodeIOFailure            = "IO_FAILURE"
	ErrCodeTimeout              = "TIMEOUT"
	ErrCodeUnavailable          = "SERVICE_UNAVAILABLE"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// HealthStatus represents the operational status of the relay.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports relay and service statistics.
// Topic: {prefix}/system/health
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Service       string           `json:"service"`
	Timestamp     time.Time        `json:"timestamp"`
	Status        HealthStatus     `json:"status"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Connections   ConnectionCounts `json:"connections"`
	Statistics    *RelayStatistics `json:"statistics,omitempty"`
	Reason        string           `json:"reason,omitempty"`
}

// ConnectionCounts summarises the registry by status.
type ConnectionCounts struct {
	Total      int `json:"total"`
	Connected  int `json:"connected"`
	Connecting int `json:"connecting"`
}

// RelayStatistics contains operational counters.
type RelayStatistics struct {
	ConnectAttempts uint64 `json:"connect_attempts"`
	ConnectFailures uint64 `json:"connect_failures"`
	SendFailures    uint64 `json:"send_failures"`
	BytesSent       uint64 `json:"bytes_sent"`
	BytesReceived   uint64 `json:"bytes_received"`
	ActiveReaders   int    `json:"active_readers"`
	EventsRelayed   uint64 `json:"events_relayed"`
	EventsDropped   uint64 `json:"events_dropped"`
	CommandsHandled uint64 `json:"commands_handled"`
}

// statusFor maps a lifecycle transition to the status it produces.
func statusFor(t statusbus.Transition) connection.Status {
	switch t {
	case statusbus.Connecting:
		return connection.StatusConnecting
	case statusbus.Connected:
		return connection.StatusConnected
	case statusbus.ConnectFailed:
		return connection.StatusConnectFailed
	default:
		return connection.StatusDisconnected
	}
}

// NewStatusMessage builds a StatusMessage from a lifecycle event.
func NewStatusMessage(e statusbus.Event) StatusMessage {
	return StatusMessage{
		ConnectionID: e.ConnectionID,
		Status:       statusFor(e.Transition),
		Transition:   e.Transition,
		Timestamp:    e.Time,
	}
}

// NewDataMessage builds a DataMessage from a DataReceived event.
func NewDataMessage(e statusbus.Event) DataMessage {
	return DataMessage{
		ConnectionID: e.ConnectionID,
		Timestamp:    e.Time,
		Size:         len(e.Data),
		Payload:      e.Data,
	}
}

// NewAckMessage creates an acknowledgment for a command.
func NewAckMessage(cmd CommandMessage, connectionID string, status AckStatus) AckMessage {
	return AckMessage{
		CommandID:    cmd.ID,
		ConnectionID: connectionID,
		Command:      cmd.Command,
		Status:       status,
		Timestamp:    time.Now().UTC(),
	}
}

// NewAckError creates an acknowledgment with error details.
func NewAckError(cmd CommandMessage, connectionID, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	ack := NewAckMessage(cmd, connectionID, status)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}
