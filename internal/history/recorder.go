package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nicholastmosher/easycom-sub000/internal/connection"
	"github.com/nicholastmosher/easycom-sub000/internal/statusbus"
)

// Recorder defaults.
const (
	defaultQueueSize     = 512
	defaultPruneInterval = time.Hour
	writeTimeout         = 5 * time.Second
)

// ErrInvalidOptions is returned by NewRecorder when required options are missing.
var ErrInvalidOptions = errors.New("history: invalid options")

// Logger interface for optional logging.
type Logger interface {
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// RecorderOptions holds configuration for a Recorder.
type RecorderOptions struct {
	// Repository stores events. Required.
	Repository Repository

	// Registry supplies name, kind and address at the time of the event.
	// Optional.
	Registry *connection.Registry

	// QueueSize bounds events waiting to be written. Default: 512.
	QueueSize int

	// Retention is how long events are kept. Zero keeps them forever.
	Retention time.Duration

	// PruneInterval is how often old events are deleted. Default: 1 hour.
	PruneInterval time.Duration

	// Logger is optional.
	Logger Logger
}

// Recorder is a bus observer that persists lifecycle transitions.
//
// HandleEvent only snapshots the connection and queues; a single worker
// performs the inserts. DataReceived events are ignored.
type Recorder struct {
	repo          Repository
	conns         *connection.Registry
	queue         chan Event
	retention     time.Duration
	pruneInterval time.Duration

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewRecorder creates a recorder. Call Start to begin writing.
func NewRecorder(opts RecorderOptions) (*Recorder, error) {
	if opts.Repository == nil {
		return nil, fmt.Errorf("%w: repository is required", ErrInvalidOptions)
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	interval := opts.PruneInterval
	if interval <= 0 {
		interval = defaultPruneInterval
	}
	return &Recorder{
		repo:          opts.Repository,
		conns:         opts.Registry,
		queue:         make(chan Event, size),
		retention:     opts.Retention,
		pruneInterval: interval,
		done:          make(chan struct{}),
		logger:        opts.Logger,
	}, nil
}

// Start launches the write worker and, when a retention is set, the prune
// loop. ctx bounds pruning only: the writer keeps recording until Stop, so
// events published during shutdown are still written.
func (r *Recorder) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.writeLoop()

	if r.retention > 0 {
		r.wg.Add(1)
		go r.pruneLoop(ctx)
	}
}

// Stop writes what is already queued and stops the workers. Safe to call
// multiple times.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

// HandleEvent implements statusbus.Observer.
func (r *Recorder) HandleEvent(e statusbus.Event) {
	if !e.Transition.IsLifecycle() {
		return
	}
	select {
	case <-r.done:
		return
	default:
	}

	rec := Event{
		ConnectionID: e.ConnectionID,
		Transition:   string(e.Transition),
		CreatedAt:    e.Time,
	}
	if r.conns != nil {
		if c, err := r.conns.Lookup(e.ConnectionID); err == nil {
			rec.ConnectionName = c.Name()
			rec.Kind = string(c.Kind())
			rec.Address = c.Address().String()
		}
	}

	select {
	case r.queue <- rec:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			r.logWarn("history queue full, event dropped",
				"connection_id", e.ConnectionID,
				"dropped_total", n)
		}
	}
}

func (r *Recorder) writeLoop() {
	defer r.wg.Done()

	for {
		select {
		case e := <-r.queue:
			r.write(e)
		case <-r.done:
			for {
				select {
				case e := <-r.queue:
					r.write(e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.repo.Create(ctx, &e); err != nil {
		r.failed.Add(1)
		r.logError("failed to record connection event", err, "connection_id", e.ConnectionID)
		return
	}
	r.written.Add(1)
}

func (r *Recorder) pruneLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pruneInterval)
	defer ticker.Stop()

	r.Prune(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			r.Prune(ctx)
		}
	}
}

// Prune deletes events older than the retention period. It is a no-op when
// no retention is configured.
func (r *Recorder) Prune(ctx context.Context) {
	if r.retention <= 0 {
		return
	}
	n, err := r.repo.DeleteOlderThan(ctx, time.Now().Add(-r.retention))
	if err != nil {
		r.logError("failed to prune connection events", err)
		return
	}
	if n > 0 {
		r.logInfo("pruned connection events", "deleted", n)
	}
}

// RecorderStats holds recorder counters.
type RecorderStats struct {
	Written uint64
	Dropped uint64
	Failed  uint64
}

// Stats returns recorder counters.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Written: r.written.Load(),
		Dropped: r.dropped.Load(),
		Failed:  r.failed.Load(),
	}
}

// SetLogger sets the logger for this recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

func (r *Recorder) getLogger() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}

func (r *Recorder) logInfo(msg string, keysAndValues ...any) {
	if l := r.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (r *Recorder) logWarn(msg string, keysAndValues ...any) {
	if l := r.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (r *Recorder) logError(msg string, err error, keysAndValues ...any) {
	if l := r.getLogger(); l != nil {
		l.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
