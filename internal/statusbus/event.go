package statusbus

import "time"

// Transition is what happened to a connection.
type Transition string

// Transitions carried by the bus.
const (
	Connecting    Transition = "connecting"
	Connected     Transition = "connected"
	Disconnected  Transition = "disconnected"
	ConnectFailed Transition = "connect_failed"
	DataReceived  Transition = "data_received"
)

// IsLifecycle reports whether t is a status change rather than data.
func (t Transition) IsLifecycle() bool {
	return t != DataReceived
}

// Event is one immutable notification about a connection.
type Event struct {
	ConnectionID string     `json:"connection_id"`
	Transition   Transition `json:"transition"`
	Data         []byte     `json:"data,omitempty"`
	Time         time.Time  `json:"time"`
}

// NewEvent builds a lifecycle event stamped with the current time.
func NewEvent(connectionID string, t Transition) Event {
	return Event{ConnectionID: connectionID, Transition: t, Time: time.Now().UTC()}
}

// NewDataEvent builds a DataReceived event. data is copied.
func NewDataEvent(connectionID string, data []byte) Event {
	cp := make([]byte, len(data))
	copy(cp, data)
	return Event{ConnectionID: connectionID, Transition: DataReceived, Data: cp, Time: time.Now().UTC()}
}

// Observer receives events.
type Observer interface {
	HandleEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// HandleEvent implements Observer.
func (f ObserverFunc) HandleEvent(e Event) { f(e) }
