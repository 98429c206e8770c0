package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nicholastmosher/easycom-sub000/internal/connection"
	"github.com/nicholastmosher/easycom-sub000/internal/statusbus"
)

// Default service settings.
const (
	// DefaultMaxRetries is the number of silent reattempts in one connect cycle.
	DefaultMaxRetries = 3

	defaultReadInterval      = 50 * time.Millisecond
	defaultReadBufferSize    = 1024
	defaultReaderStopTimeout = 2 * time.Second
	defaultWorkers           = 8
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Config holds connection service tuning.
type Config struct {
	// MaxRetries is how many times a failed open is retried within one
	// connect cycle. Zero selects DefaultMaxRetries; negative disables retries.
	MaxRetries int

	// RetryDelay is the pause between attempts. Default: none.
	RetryDelay time.Duration

	// ReadInterval is the fixed delay between reader iterations.
	// Default: 50ms.
	ReadInterval time.Duration

	// ReadBufferSize is the size of one read.
	// Default: 1024 bytes.
	ReadBufferSize int

	// ReaderStopTimeout bounds how long a disconnect waits for the reader.
	// Default: 2 seconds.
	ReaderStopTimeout time.Duration

	// Workers bounds how many commands run at once across all connections.
	// Default: 8.
	Workers int
}

func (c Config) withDefaults() Config {
	switch {
	case c.MaxRetries == 0:
		c.MaxRetries = DefaultMaxRetries
	case c.MaxRetries < 0:
		c.MaxRetries = 0
	}
	if c.ReadInterval <= 0 {
		c.ReadInterval = defaultReadInterval
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = defaultReadBufferSize
	}
	if c.ReaderStopTimeout <= 0 {
		c.ReaderStopTimeout = defaultReaderStopTimeout
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	return c
}

// Options holds the collaborators for New.
type Options struct {
	// Registry resolves connection IDs. Required.
	Registry *connection.Registry

	// Bus receives every status event. Required.
	Bus *statusbus.Bus

	// Transports are dispatched by connection kind. A connect for a kind
	// without a transport fails with ConnectFailed.
	Transports []connection.Transport

	// Config tunes retries, readers and concurrency.
	Config Config

	// Logger is optional.
	Logger Logger
}

// Stats holds service counters.
type Stats struct {
	ConnectAttempts uint64
	ConnectFailures uint64
	SendFailures    uint64
	BytesSent       uint64
	BytesReceived   uint64
	ActiveReaders   int
}

// Service executes connection commands asynchronously.
//
// Thread Safety: All methods are safe for concurrent use.
type Service struct {
	cfg        Config
	registry   *connection.Registry
	bus        *statusbus.Bus
	transports map[connection.Kind]connection.Transport

	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted

	linksMu sync.Mutex
	links   map[string]*link

	// closeMu guards closed and every tasks.Add so Close can wait safely.
	closeMu sync.RWMutex
	closed  bool
	tasks   sync.WaitGroup
	readers sync.WaitGroup

	unsubscribe func()

	logger   Logger
	loggerMu sync.RWMutex

	connectAttempts atomic.Uint64
	connectFailures atomic.Uint64
	sendFailures    atomic.Uint64
	bytesSent       atomic.Uint64
	bytesReceived   atomic.Uint64
	activeReaders   atomic.Int64
}

// New creates a service and subscribes its reader supervisor to the bus.
func New(opts Options) (*Service, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("%w: registry is required", ErrInvalidOptions)
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("%w: bus is required", ErrInvalidOptions)
	}

	cfg := opts.Config.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		cfg:        cfg,
		registry:   opts.Registry,
		bus:        opts.Bus,
		transports: make(map[connection.Kind]connection.Transport, len(opts.Transports)),
		ctx:        ctx,
		cancel:     cancel,
		sem:        semaphore.NewWeighted(int64(cfg.Workers)),
		links:      make(map[string]*link),
		logger:     opts.Logger,
	}
	for _, tr := range opts.Transports {
		if tr != nil {
			s.transports[tr.Kind()] = tr
		}
	}

	s.unsubscribe = s.bus.Subscribe(statusbus.ObserverFunc(s.superviseReaders))
	s.registry.OnPrune(s.forgetLink)

	return s, nil
}

// SetLogger sets the logger for this service.
func (s *Service) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// Subscribe registers an observer on the status bus.
func (s *Service) Subscribe(o statusbus.Observer) (unsubscribe func()) {
	return s.bus.Subscribe(o)
}

// Status returns the current status of a connection.
func (s *Service) Status(id string) (connection.Status, error) {
	conn, err := s.registry.Lookup(id)
	if err != nil {
		return "", fmt.Errorf("status %s: %w", id, err)
	}
	return conn.Status(), nil
}

// Connect starts a connect cycle for id.
//
// It returns immediately. A connection that is already Connected or
// Connecting is left alone and no event is published.
//
// Returns:
//   - *Completion: finishes with nil once Connected, or with the last open
//     error once ConnectFailed
//   - error: connection.ErrNotFound for unknown IDs, ErrClosed after Close
func (s *Service) Connect(id string) (*Completion, error) {
	conn, err := s.registry.Lookup(id)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", id, err)
	}
	if s.isClosed() {
		return nil, ErrClosed
	}

	if !conn.BeginConnect() {
		s.logDebug("connect ignored", "connection_id", id, "status", string(conn.Status()))
		return Completed(nil), nil
	}

	l := s.link(id)
	ctx, cancel := context.WithCancel(s.ctx)
	c := l.beginCycle(cancel)

	done := newCompletion()
	if err := s.enqueue(l, func() {
		done.finish(s.runConnect(ctx, l, c, conn))
	}); err != nil {
		l.endCycle(c)
		conn.Abort()
		return nil, err
	}
	return done, nil
}

// Disconnect closes a Connected connection, or cancels an in-flight
// connect. Any other status is a no-op.
//
// Returns:
//   - *Completion: finishes with the local close result
//   - error: connection.ErrNotFound for unknown IDs, ErrClosed after Close
func (s *Service) Disconnect(id string) (*Completion, error) {
	conn, err := s.registry.Lookup(id)
	if err != nil {
		return nil, fmt.Errorf("disconnect %s: %w", id, err)
	}
	if s.isClosed() {
		return nil, ErrClosed
	}

	l := s.link(id)
	switch conn.Status() {
	case connection.StatusConnecting:
		// The queued disconnect runs after the connect task, so a cycle
		// that won the race and attached a handle is still torn down.
		l.cancelCycle()
		s.logDebug("connect cancelled", "connection_id", id)
	case connection.StatusConnected:
	default:
		return Completed(nil), nil
	}

	done := newCompletion()
	if err := s.enqueue(l, func() {
		done.finish(s.runDisconnect(l, conn))
	}); err != nil {
		return nil, err
	}
	return done, nil
}

// Send writes payload to a Connected connection.
//
// Empty payloads are ignored without error. Write failures are logged and
// reported through the Completion; they are never published on the bus.
//
// Returns:
//   - *Completion: finishes with nil, or an error wrapping
//     connection.ErrIOFailure
//   - error: connection.ErrNotFound, connection.ErrNotConnected, ErrClosed
func (s *Service) Send(id string, payload []byte) (*Completion, error) {
	conn, err := s.registry.Lookup(id)
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", id, err)
	}
	if s.isClosed() {
		return nil, ErrClosed
	}
	if len(payload) == 0 {
		s.logDebug("empty payload ignored", "connection_id", id)
		return Completed(nil), nil
	}
	if conn.Status() != connection.StatusConnected {
		return nil, fmt.Errorf("send %s: %w", id, connection.ErrNotConnected)
	}

	data := make([]byte, len(payload))
	copy(data, payload)

	l := s.link(id)
	done := newCompletion()
	if err := s.enqueue(l, func() {
		done.finish(s.runSend(conn, data))
	}); err != nil {
		return nil, err
	}
	return done, nil
}

// Close cancels in-flight connects, disconnects every Connected connection,
// stops all readers and waits for queued commands. Safe to call multiple
// times.
func (s *Service) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	s.closeMu.Unlock()

	s.cancel()
	s.tasks.Wait()

	for _, conn := range s.registry.Snapshot() {
		if conn.Status() != connection.StatusConnected {
			continue
		}
		if err := s.runDisconnect(s.link(conn.ID()), conn); err != nil {
			s.logWarn("disconnect on shutdown failed", "connection_id", conn.ID(), "error", err)
		}
	}

	s.linksMu.Lock()
	for _, l := range s.links {
		l.signalReader()
	}
	s.linksMu.Unlock()

	s.readers.Wait()
	s.unsubscribe()

	s.logInfo("connection service stopped")
	return nil
}

// Stats returns current counters.
func (s *Service) Stats() Stats {
	return Stats{
		ConnectAttempts: s.connectAttempts.Load(),
		ConnectFailures: s.connectFailures.Load(),
		SendFailures:    s.sendFailures.Load(),
		BytesSent:       s.bytesSent.Load(),
		BytesReceived:   s.bytesReceived.Load(),
		ActiveReaders:   int(s.activeReaders.Load()),
	}
}

func (s *Service) isClosed() bool {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	return s.closed
}

// link returns the runtime state for id, creating it on first use.
func (s *Service) link(id string) *link {
	s.linksMu.Lock()
	defer s.linksMu.Unlock()

	l, ok := s.links[id]
	if !ok {
		l = newLink(id)
		s.links[id] = l
	}
	return l
}

// forgetLink drops runtime state for a connection that left the registry.
func (s *Service) forgetLink(id string) {
	s.linksMu.Lock()
	l, ok := s.links[id]
	delete(s.links, id)
	s.linksMu.Unlock()

	if ok {
		l.cancelCycle()
		l.signalReader()
	}
}

// enqueue appends task to the link's executor, starting a drain goroutine
// when the link is idle.
func (s *Service) enqueue(l *link, task func()) error {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	l.execMu.Lock()
	l.queue = append(l.queue, task)
	if l.running {
		l.execMu.Unlock()
		return nil
	}
	l.running = true
	s.tasks.Add(1)
	l.execMu.Unlock()

	go s.drain(l)
	return nil
}

// drain runs queued tasks for one link in order.
func (s *Service) drain(l *link) {
	defer s.tasks.Done()

	for {
		l.execMu.Lock()
		if len(l.queue) == 0 {
			l.running = false
			l.execMu.Unlock()
			return
		}
		task := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.execMu.Unlock()

		if err := s.sem.Acquire(context.Background(), 1); err != nil {
			s.logError("worker slot unavailable", err)
			task()
			continue
		}
		s.runTask(l.id, task)
		s.sem.Release(1)
	}
}

// runTask calls task, containing any panic so the executor keeps draining.
func (s *Service) runTask(id string, task func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logError("command panic", fmt.Errorf("%v", r), "connection_id", id)
		}
	}()
	task()
}

func (s *Service) publish(id string, t statusbus.Transition) {
	s.bus.Publish(statusbus.NewEvent(id, t))
}

func (s *Service) logDebug(msg string, keysAndValues ...any) {
	if logger := s.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (s *Service) logInfo(msg string, keysAndValues ...any) {
	if logger := s.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (s *Service) logWarn(msg string, keysAndValues ...any) {
	if logger := s.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (s *Service) logError(msg string, err error, keysAndValues ...any) {
	if logger := s.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}

func (s *Service) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}
