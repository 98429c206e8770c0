package statusbus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Stats holds bus counters.
type Stats struct {
	Published      uint64
	Delivered      uint64
	ObserverPanics uint64
	Subscribers    int
}

type subscription struct {
	id       uint64
	observer Observer
}

// lane serialises fan-out for one connection.
type lane struct {
	mu   sync.Mutex
	refs int
}

// Bus fans events out to subscribed observers.
//
// Thread Safety: All methods are safe for concurrent use.
type Bus struct {
	subsMu sync.RWMutex
	subs   []subscription
	nextID uint64

	lanesMu sync.Mutex
	lanes   map[string]*lane

	logger   Logger
	loggerMu sync.RWMutex

	published      atomic.Uint64
	delivered      atomic.Uint64
	observerPanics atomic.Uint64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{lanes: make(map[string]*lane)}
}

// SetLogger sets the logger used to report observer panics.
func (b *Bus) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

// Subscribe adds o and returns a function that removes it again.
// The returned function is idempotent.
func (b *Bus) Subscribe(o Observer) (unsubscribe func()) {
	if o == nil {
		return func() {}
	}

	b.subsMu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, observer: o})
	b.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

// SubscribeFunc is Subscribe for a plain function.
func (b *Bus) SubscribeFunc(fn func(Event)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	return b.Subscribe(ObserverFunc(fn))
}

func (b *Bus) remove(id uint64) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			// Copy on remove so in-flight snapshots stay valid.
			next := make([]subscription, 0, len(b.subs)-1)
			next = append(next, b.subs[:i]...)
			next = append(next, b.subs[i+1:]...)
			b.subs = next
			return
		}
	}
}

// Publish delivers e to every current observer before returning.
// Events for the same connection are delivered one publish at a time.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	b.published.Add(1)

	l := b.acquireLane(e.ConnectionID)
	defer b.releaseLane(e.ConnectionID, l)

	b.subsMu.RLock()
	subs := b.subs
	b.subsMu.RUnlock()

	for _, s := range subs {
		b.deliver(s.observer, e)
	}
}

// deliver calls one observer, containing any panic.
func (b *Bus) deliver(o Observer, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.observerPanics.Add(1)
			b.logError("observer panic",
				fmt.Errorf("%v", r),
				"connection_id", e.ConnectionID,
				"transition", string(e.Transition))
		}
	}()
	o.HandleEvent(e)
	b.delivered.Add(1)
}

func (b *Bus) acquireLane(id string) *lane {
	b.lanesMu.Lock()
	l, ok := b.lanes[id]
	if !ok {
		l = &lane{}
		b.lanes[id] = l
	}
	l.refs++
	b.lanesMu.Unlock()

	l.mu.Lock()
	return l
}

func (b *Bus) releaseLane(id string, l *lane) {
	l.mu.Unlock()

	b.lanesMu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(b.lanes, id)
	}
	b.lanesMu.Unlock()
}

// Stats returns current counters.
func (b *Bus) Stats() Stats {
	b.subsMu.RLock()
	n := len(b.subs)
	b.subsMu.RUnlock()

	return Stats{
		Published:      b.published.Load(),
		Delivered:      b.delivered.Load(),
		ObserverPanics: b.observerPanics.Load(),
		Subscribers:    n,
	}
}

func (b *Bus) logError(msg string, err error, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
