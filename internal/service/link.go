package service

import (
	"context"
	"sync"
	"time"
)

// link is the service's runtime state for one connection.
//
// Commands for the same connection run one after another on the link's
// executor queue; commands for different connections run in parallel,
// bounded by the service's worker semaphore.
type link struct {
	id string

	execMu  sync.Mutex
	queue   []func()
	running bool

	stateMu  sync.Mutex
	attempts int
	cycle    *cycle
	reader   *reader
	session  *session
}

func newLink(id string) *link {
	return &link{id: id}
}

// cycle is one in-flight connect attempt sequence.
type cycle struct {
	cancel context.CancelFunc
}

// beginCycle resets the attempt counter and records the cancel function of
// a new connect cycle.
func (l *link) beginCycle(cancel context.CancelFunc) *cycle {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	l.attempts = 0
	l.cycle = &cycle{cancel: cancel}
	return l.cycle
}

// endCycle releases c once its connect task has returned.
func (l *link) endCycle(c *cycle) {
	l.stateMu.Lock()
	if l.cycle == c {
		l.cycle = nil
	}
	l.stateMu.Unlock()
	c.cancel()
}

// cancelCycle cancels the in-flight connect cycle, if any.
func (l *link) cancelCycle() {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	if l.cycle != nil {
		l.cycle.cancel()
	}
}

// nextAttempt counts a failed attempt. It returns false, resetting the
// counter, once max retries have been used.
func (l *link) nextAttempt(max int) (attempt int, retry bool) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	if l.attempts >= max {
		l.attempts = 0
		return 0, false
	}
	l.attempts++
	return l.attempts, true
}

func (l *link) attemptCount() int {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.attempts
}

func (l *link) setSession(s *session) {
	l.stateMu.Lock()
	l.session = s
	l.stateMu.Unlock()
}

// current returns the active reader and session.
func (l *link) current() (*reader, *session) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.reader, l.session
}

func (l *link) signalReader() {
	l.stateMu.Lock()
	r := l.reader
	l.stateMu.Unlock()
	if r != nil {
		r.signal()
	}
}

// session spans one Connected period. Its Disconnected event is published
// exactly once, and no DataReceived is published after it.
type session struct {
	mu       sync.Mutex
	finished bool
}

// reader is the handle on one background read loop.
type reader struct {
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newReader() *reader {
	return &reader{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (r *reader) signal() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *reader) stopped() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// await waits up to timeout for the loop to exit.
func (r *reader) await(timeout time.Duration) bool {
	if r == nil {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-r.done:
		return true
	case <-timer.C:
		return false
	}
}
