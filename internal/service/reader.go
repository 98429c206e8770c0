package service

import (
	"time"

	"github.com/nicholastmosher/easycom-sub000/internal/connection"
	"github.com/nicholastmosher/easycom-sub000/internal/statusbus"
)

// superviseReaders starts and stops background readers from the bus.
func (s *Service) superviseReaders(e statusbus.Event) {
	switch e.Transition {
	case statusbus.Connected:
		s.startReader(e.ConnectionID)
	case statusbus.Disconnected, statusbus.ConnectFailed:
		s.linksMu.Lock()
		l, ok := s.links[e.ConnectionID]
		s.linksMu.Unlock()
		if ok {
			l.signalReader()
		}
	}
}

// startReader replaces the connection's reader. The new loop does not read
// until the previous one has exited.
func (s *Service) startReader(id string) {
	conn, err := s.registry.Lookup(id)
	if err != nil {
		s.logDebug("reader not started", "connection_id", id, "error", err)
		return
	}

	l := s.link(id)
	r := newReader()

	l.stateMu.Lock()
	prev := l.reader
	sess := l.session
	l.reader = r
	l.stateMu.Unlock()

	if prev != nil {
		prev.signal()
	}

	s.readers.Add(1)
	go s.readLoop(conn, r, prev, sess)
}

func (s *Service) readLoop(conn *connection.Connection, r, prev *reader, sess *session) {
	defer s.readers.Done()
	defer close(r.done)

	s.activeReaders.Add(1)
	defer s.activeReaders.Add(-1)

	id := conn.ID()

	if prev != nil {
		select {
		case <-prev.done:
		case <-r.stop:
			return
		}
	}

	s.logDebug("reader started", "connection_id", id)
	buf := make([]byte, s.cfg.ReadBufferSize)

	for {
		if r.stopped() {
			s.logDebug("reader stopped", "connection_id", id)
			return
		}
		if conn.Status() != connection.StatusConnected {
			break
		}

		rd, err := conn.Reader()
		if err != nil {
			break
		}

		n, err := rd.Read(buf)
		if n > 0 && !r.stopped() {
			s.bytesReceived.Add(uint64(n))
			s.publishData(id, sess, buf[:n])
		}
		if err != nil && !r.stopped() {
			s.logDebug("read failed", "connection_id", id, "error", err)
		}

		timer := time.NewTimer(s.cfg.ReadInterval)
		select {
		case <-timer.C:
		case <-r.stop:
			timer.Stop()
		}
	}

	// The link dropped underneath the reader; it publishes the transition.
	s.logInfo("connection lost", "connection_id", id)
	s.finishSession(id, sess)
}

// publishData publishes inbound bytes unless the session has ended.
func (s *Service) publishData(id string, sess *session, data []byte) {
	if sess == nil {
		s.bus.Publish(statusbus.NewDataEvent(id, data))
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.finished {
		return
	}
	s.bus.Publish(statusbus.NewDataEvent(id, data))
}

// finishSession publishes Disconnected for sess exactly once.
func (s *Service) finishSession(id string, sess *session) {
	if sess == nil {
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.finished {
		return
	}
	sess.finished = true
	s.publish(id, statusbus.Disconnected)
}
