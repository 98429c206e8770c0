package mqttrelay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nicholastmosher/easycom-sub000/internal/connection"
	"github.com/nicholastmosher/easycom-sub000/internal/infrastructure/mqtt"
	"github.com/nicholastmosher/easycom-sub000/internal/service"
	"github.com/nicholastmosher/easycom-sub000/internal/statusbus"
)

// Relay operation constants.
const (
	// DefaultQueueSize bounds events waiting to be published.
	DefaultQueueSize = 256

	// defaultCommandTimeout bounds how long a send command waits for its
	// local result before acknowledging with a timeout.
	defaultCommandTimeout = 10 * time.Second

	// dropLogEvery throttles the queue overflow warning.
	dropLogEvery = 100

	statusQoS  byte = 1
	dataQoS    byte = 0
	commandQoS byte = 1
	ackQoS     byte = 1
)

// MQTTClient is the interface for MQTT operations.
// It is satisfied by *mqtt.Client and mocked in tests.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// Unsubscribe removes a subscription.
	Unsubscribe(topic string) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Commander executes connection commands. It is satisfied by
// *service.Service.
type Commander interface {
	Connect(id string) (*service.Completion, error)
	Disconnect(id string) (*service.Completion, error)
	Send(id string, payload []byte) (*service.Completion, error)
	Stats() service.Stats
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options holds configuration for creating a relay.
type Options struct {
	// MQTTClient is the broker session. Required.
	MQTTClient MQTTClient

	// Commander executes remote commands. Required.
	Commander Commander

	// Registry enriches status messages and health counts. Optional.
	Registry *connection.Registry

	// TopicPrefix is the root of every topic. Default: "easycom".
	TopicPrefix string

	// QueueSize bounds events waiting to be published. Default: 256.
	QueueSize int

	// CommandTimeout bounds how long a send waits for its result.
	// Default: 10 seconds.
	CommandTimeout time.Duration

	// HealthInterval is how often health is published. Default: 30 seconds.
	HealthInterval time.Duration

	// Version is reported in health messages.
	Version string

	// Logger is optional.
	Logger Logger
}

// Stats holds relay counters.
type Stats struct {
	EventsRelayed   uint64
	EventsDropped   uint64
	PublishFailures uint64
	CommandsHandled uint64
}

// Relay mirrors status bus events to MQTT and executes commands received
// from MQTT.
//
// HandleEvent never blocks. Lifecycle transitions go to a pending list
// that is never shed, so the retained status topic always ends on the last
// transition. Data events share a bounded queue and are dropped (and
// counted) when it is full. A single worker publishes both, pending
// transitions first.
//
// Thread Safety: All methods are safe for concurrent use.
type Relay struct {
	mqtt      MQTTClient
	commander Commander
	registry  *connection.Registry
	topics    mqtt.Topics
	health    *HealthReporter
	timeout   time.Duration

	queue chan statusbus.Event

	statusMu sync.Mutex
	pending  []statusbus.Event
	wake     chan struct{}

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	stateMu   sync.RWMutex
	stopped   bool
	ctx       context.Context
	ctxCancel context.CancelFunc

	relayed         atomic.Uint64
	dropped         atomic.Uint64
	publishFailures atomic.Uint64
	commands        atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a relay. Call Start to begin operation and subscribe the
// relay to the status bus.
func New(opts Options) (*Relay, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("%w: MQTT client is required", ErrInvalidOptions)
	}
	if opts.Commander == nil {
		return nil, fmt.Errorf("%w: commander is required", ErrInvalidOptions)
	}

	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	timeout := opts.CommandTimeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	r := &Relay{
		mqtt:      opts.MQTTClient,
		commander: opts.Commander,
		registry:  opts.Registry,
		topics:    mqtt.Topics{Prefix: opts.TopicPrefix},
		timeout:   timeout,
		queue:     make(chan statusbus.Event, queueSize),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	r.health = NewHealthReporter(HealthReporterConfig{
		Service:   "easycom",
		Version:   opts.Version,
		Topic:     r.topics.SystemHealth(),
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Source:    r,
	})
	if opts.Logger != nil {
		r.health.SetLogger(opts.Logger)
	}

	return r, nil
}

// Start subscribes to command topics, starts the publishing worker and
// begins health reporting.
func (r *Relay) Start(ctx context.Context) error {
	if err := r.health.PublishStarting(); err != nil {
		r.logError("failed to publish starting status", err)
	}

	commandTopic := r.topics.AllCommands()
	if err := r.mqtt.Subscribe(commandTopic, commandQoS, r.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	r.logInfo("subscribed to commands", "topic", commandTopic)

	r.wg.Add(1)
	go r.publishLoop()

	r.health.Start(ctx)

	r.logInfo("relay started", "prefix", r.topics.Prefix)
	return nil
}

// Stop unsubscribes from commands, publishes the events already queued,
// waits for in-flight commands and publishes a final "stopping" health
// status. Safe to call multiple times.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() {
		r.stateMu.Lock()
		r.stopped = true
		r.stateMu.Unlock()

		close(r.done)
		r.ctxCancel()

		if r.mqtt.IsConnected() {
			if err := r.mqtt.Unsubscribe(r.topics.AllCommands()); err != nil {
				r.logWarn("failed to unsubscribe from commands", "error", err)
			}
		}

		r.wg.Wait()
		r.health.Stop()

		r.logInfo("relay stopped",
			"relayed", r.relayed.Load(),
			"dropped", r.dropped.Load())
	})
}

// HandleEvent queues an event for publishing. It implements
// statusbus.Observer.
func (r *Relay) HandleEvent(e statusbus.Event) {
	select {
	case <-r.done:
		return
	default:
	}

	if e.Transition.IsLifecycle() {
		r.statusMu.Lock()
		r.pending = append(r.pending, e)
		r.statusMu.Unlock()
		select {
		case r.wake <- struct{}{}:
		default:
		}
		return
	}

	select {
	case r.queue <- e:
	default:
		n := r.dropped.Add(1)
		if n == 1 || n%dropLogEvery == 0 {
			r.logWarn("relay queue full, event dropped",
				"connection_id", e.ConnectionID,
				"transition", string(e.Transition),
				"dropped_total", n)
		}
	}
}

// publishLoop publishes queued events until Stop, then drains what is left.
func (r *Relay) publishLoop() {
	defer r.wg.Done()

	for {
		r.publishPending()
		select {
		case e := <-r.queue:
			r.publishEvent(e)
		case <-r.wake:
		case <-r.done:
			for {
				r.publishPending()
				select {
				case e := <-r.queue:
					r.publishEvent(e)
				default:
					return
				}
			}
		}
	}
}

// publishPending publishes every queued lifecycle transition in order.
func (r *Relay) publishPending() {
	r.statusMu.Lock()
	pending := r.pending
	r.pending = nil
	r.statusMu.Unlock()

	for _, e := range pending {
		r.publishEvent(e)
	}
}

func (r *Relay) publishEvent(e statusbus.Event) {
	var (
		topic    string
		payload  []byte
		qos      byte
		retained bool
		err      error
	)

	if e.Transition.IsLifecycle() {
		topic = r.topics.Status(e.ConnectionID)
		payload, err = json.Marshal(r.statusMessage(e))
		qos, retained = statusQoS, true
	} else {
		topic = r.topics.Data(e.ConnectionID)
		payload, err = json.Marshal(NewDataMessage(e))
		qos = dataQoS
	}
	if err != nil {
		r.logError("failed to marshal event", err)
		return
	}

	if err := r.mqtt.Publish(topic, payload, qos, retained); err != nil {
		r.publishFailures.Add(1)
		r.logWarn("failed to publish event",
			"topic", topic,
			"error", err)
		return
	}
	r.relayed.Add(1)
}

// statusMessage adds the connection's metadata when it is still registered.
func (r *Relay) statusMessage(e statusbus.Event) StatusMessage {
	msg := NewStatusMessage(e)
	if r.registry == nil {
		return msg
	}
	conn, err := r.registry.Lookup(e.ConnectionID)
	if err != nil {
		return msg
	}
	info := conn.Info()
	msg.Name = info.Name
	msg.Kind = info.Kind
	msg.Address = info.Address
	msg.DeviceID = info.DeviceID
	return msg
}

// handleMQTTMessage routes a command topic to handleCommand.
func (r *Relay) handleMQTTMessage(topic string, payload []byte) error {
	id := mqtt.ConnectionIDFromTopic(topic)
	if id == "" || id == "+" {
		return fmt.Errorf("%w: no connection id in topic %q", ErrInvalidCommand, topic)
	}
	r.handleCommand(id, payload)
	return nil
}

// handleCommand parses, executes and acknowledges one command.
func (r *Relay) handleCommand(connectionID string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		r.logWarn("failed to parse command", "connection_id", connectionID, "error", err)
		r.publishAckError(cmd, connectionID, ErrCodeInvalidCommand, "malformed command: "+err.Error())
		return
	}
	if err := cmd.Validate(); err != nil {
		r.publishAckError(cmd, connectionID, errorCode(err), err.Error())
		return
	}

	r.commands.Add(1)
	r.logDebug("received command",
		"command_id", cmd.ID,
		"connection_id", connectionID,
		"command", string(cmd.Command),
		"source", cmd.Source)

	var (
		done *service.Completion
		err  error
	)
	switch cmd.Command {
	case CommandConnect:
		done, err = r.commander.Connect(connectionID)
	case CommandDisconnect:
		done, err = r.commander.Disconnect(connectionID)
	case CommandSend:
		done, err = r.commander.Send(connectionID, cmd.Body())
	}
	if err != nil {
		r.publishAckError(cmd, connectionID, errorCode(err), err.Error())
		return
	}

	// Connect and disconnect results are reported on the status topic.
	if cmd.Command != CommandSend {
		r.publishAck(cmd, connectionID)
		return
	}

	r.stateMu.RLock()
	if r.stopped {
		r.stateMu.RUnlock()
		r.publishAckError(cmd, connectionID, ErrCodeUnavailable, "relay stopping")
		return
	}
	r.wg.Add(1)
	r.stateMu.RUnlock()

	go r.awaitSend(cmd, connectionID, done)
}

// awaitSend acknowledges a send once its local result is known.
func (r *Relay) awaitSend(cmd CommandMessage, connectionID string, done *service.Completion) {
	defer r.wg.Done()

	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	if err := done.Wait(ctx); err != nil {
		r.publishAckError(cmd, connectionID, errorCode(err), err.Error())
		return
	}
	r.publishAck(cmd, connectionID)
}

func (r *Relay) publishAck(cmd CommandMessage, connectionID string) {
	r.sendAck(NewAckMessage(cmd, connectionID, AckAccepted))
}

func (r *Relay) publishAckError(cmd CommandMessage, connectionID, code, message string) {
	r.sendAck(NewAckError(cmd, connectionID, code, message))
	r.logWarn("command failed",
		"command_id", cmd.ID,
		"connection_id", connectionID,
		"code", code,
		"message", message)
}

func (r *Relay) sendAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		r.logError("failed to marshal ack", err)
		return
	}
	if err := r.mqtt.Publish(r.topics.Ack(ack.ConnectionID), payload, ackQoS, false); err != nil {
		r.logError("failed to publish ack", err)
	}
}

// Stats returns relay counters.
func (r *Relay) Stats() Stats {
	return Stats{
		EventsRelayed:   r.relayed.Load(),
		EventsDropped:   r.dropped.Load(),
		PublishFailures: r.publishFailures.Load(),
		CommandsHandled: r.commands.Load(),
	}
}

// HealthSnapshot implements StatsSource.
func (r *Relay) HealthSnapshot() (ConnectionCounts, RelayStatistics) {
	var counts ConnectionCounts
	if r.registry != nil {
		for _, conn := range r.registry.Snapshot() {
			counts.Total++
			switch conn.Status() {
			case connection.StatusConnected:
				counts.Connected++
			case connection.StatusConnecting:
				counts.Connecting++
			}
		}
	}

	svc := r.commander.Stats()
	return counts, RelayStatistics{
		ConnectAttempts: svc.ConnectAttempts,
		ConnectFailures: svc.ConnectFailures,
		SendFailures:    svc.SendFailures,
		BytesSent:       svc.BytesSent,
		BytesReceived:   svc.BytesReceived,
		ActiveReaders:   svc.ActiveReaders,
		EventsRelayed:   r.relayed.Load(),
		EventsDropped:   r.dropped.Load(),
		CommandsHandled: r.commands.Load(),
	}
}

// SetLogger sets the logger for the relay and its health reporter.
func (r *Relay) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()

	r.health.SetLogger(logger)
}

func (r *Relay) getLogger() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}

func (r *Relay) logInfo(msg string, keysAndValues ...any) {
	if logger := r.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (r *Relay) logWarn(msg string, keysAndValues ...any) {
	if logger := r.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (r *Relay) logDebug(msg string, keysAndValues ...any) {
	if logger := r.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (r *Relay) logError(msg string, err error) {
	if logger := r.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}
