package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/nicholastmosher/easycom-sub000/internal/connection"
	"github.com/nicholastmosher/easycom-sub000/internal/statusbus"
)

// runConnect executes one connect cycle: up to MaxRetries+1 opens, with
// only the final outcome published.
func (s *Service) runConnect(ctx context.Context, l *link, c *cycle, conn *connection.Connection) error {
	defer l.endCycle(c)

	id := conn.ID()
	s.settlePrevious(l, id)
	s.publish(id, statusbus.Connecting)

	tr, ok := s.transports[conn.Kind()]
	if !ok {
		return s.failConnect(conn, fmt.Errorf("%w: no transport for %s", connection.ErrTransportUnavailable, conn.Kind()))
	}

	for {
		if err := ctx.Err(); err != nil {
			return s.abortConnect(conn, err)
		}

		if err := tr.Ready(ctx); err != nil {
			s.logWarn("transport not ready", "connection_id", id, "kind", string(conn.Kind()), "error", err)
		}

		s.connectAttempts.Add(1)
		h, err := tr.Open(ctx, conn.Address())

		// An error racing with a handle that is already open counts as success.
		if h != nil && h.IsOpen() {
			if err != nil {
				s.logDebug("open reported error on live handle", "connection_id", id, "error", err)
			}
			return s.completeConnect(ctx, l, conn, h)
		}
		if h != nil {
			_ = h.Close() //nolint:errcheck // never became usable
		}
		if err == nil {
			err = fmt.Errorf("%w: transport returned no open handle", connection.ErrIOFailure)
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return s.abortConnect(conn, ctxErr)
		}

		attempt, retry := l.nextAttempt(s.cfg.MaxRetries)
		if !retry {
			return s.failConnect(conn, err)
		}
		s.logDebug("connect attempt failed, retrying",
			"connection_id", id,
			"attempt", attempt,
			"max_retries", s.cfg.MaxRetries,
			"error", err,
		)

		if s.cfg.RetryDelay > 0 {
			timer := time.NewTimer(s.cfg.RetryDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
			}
		}
	}
}

// settlePrevious stops the reader of an earlier session and closes that
// session, so its Disconnected precedes the new cycle's events.
func (s *Service) settlePrevious(l *link, id string) {
	r, sess := l.current()
	if r != nil {
		r.signal()
		if !r.await(s.cfg.ReaderStopTimeout) {
			s.logWarn("previous reader did not stop in time", "connection_id", id)
		}
	}
	s.finishSession(id, sess)
}

func (s *Service) completeConnect(ctx context.Context, l *link, conn *connection.Connection, h connection.Handle) error {
	if err := ctx.Err(); err != nil {
		_ = h.Close() //nolint:errcheck // cycle was cancelled
		return s.abortConnect(conn, err)
	}

	l.setSession(&session{})
	conn.Attach(h)

	s.logInfo("connected", "connection_id", conn.ID(), "address", conn.Address().String())
	s.publish(conn.ID(), statusbus.Connected)
	return nil
}

func (s *Service) abortConnect(conn *connection.Connection, cause error) error {
	conn.Abort()
	s.logInfo("connect cancelled", "connection_id", conn.ID())
	s.publish(conn.ID(), statusbus.Disconnected)
	return fmt.Errorf("connect %s: %w", conn.ID(), cause)
}

func (s *Service) failConnect(conn *connection.Connection, cause error) error {
	conn.Fail()
	s.connectFailures.Add(1)
	s.logWarn("connect failed", "connection_id", conn.ID(), "error", cause)
	s.publish(conn.ID(), statusbus.ConnectFailed)
	return fmt.Errorf("connect %s: %w", conn.ID(), cause)
}

// runDisconnect closes the handle, waits for the reader and publishes
// Disconnected. A connection that is no longer Connected is left alone.
func (s *Service) runDisconnect(l *link, conn *connection.Connection) error {
	id := conn.ID()
	if conn.Status() != connection.StatusConnected {
		return nil
	}

	h := conn.CurrentHandle()
	r, sess := l.current()
	if r != nil {
		r.signal()
	}

	var closeErr error
	if h != nil {
		if closeErr = h.Close(); closeErr != nil {
			s.logWarn("close failed", "connection_id", id, "error", closeErr)
		}
	}

	if !r.await(s.cfg.ReaderStopTimeout) {
		s.logWarn("reader did not stop in time", "connection_id", id)
	}

	if h != nil && h.IsOpen() {
		return fmt.Errorf("disconnect %s: %w: handle still open", id, connection.ErrIOFailure)
	}

	conn.Detach(h)
	s.finishSession(id, sess)
	s.logInfo("disconnected", "connection_id", id)

	if closeErr != nil {
		return fmt.Errorf("disconnect %s: %w: %w", id, connection.ErrIOFailure, closeErr)
	}
	return nil
}

// runSend writes data in full. A failure is returned to the caller only;
// if it closed the link, the reader publishes the resulting Disconnected.
func (s *Service) runSend(conn *connection.Connection, data []byte) error {
	id := conn.ID()

	w, err := conn.Writer()
	if err != nil {
		return fmt.Errorf("send %s: %w", id, err)
	}

	n, err := writeAll(w, data)
	s.bytesSent.Add(uint64(n))
	if err != nil {
		s.sendFailures.Add(1)
		s.logWarn("send failed", "connection_id", id, "bytes", len(data), "written", n, "error", err)
		conn.Status()
		return fmt.Errorf("send %s: %w: %w", id, connection.ErrIOFailure, err)
	}

	s.logDebug("sent", "connection_id", id, "bytes", n)
	return nil
}

func writeAll(w io.Writer, data []byte) (int, error) {
	total := 0
	for total < len(data) {
		n, err := w.Write(data[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}
