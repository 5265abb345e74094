package http1

import (
	"bytes"
	"strconv"

	"github.com/heishamon/webserver/http"
	"github.com/heishamon/webserver/http/status"
)

// SendStatic enqueues the data without copying it.
func (s *Session) SendStatic(data []byte) error {
	return s.enqueue(data, false)
}

// SendOwned enqueues a private copy of the data.
func (s *Session) SendOwned(data []byte) error {
	return s.enqueue(data, true)
}

// enqueue never transmits anything, this is done by drain only. Running out of the queue
// limits is treated as an allocation failure, which is fatal.
func (s *Session) enqueue(data []byte, owned bool) error {
	if len(data) == 0 {
		return nil
	}

	limits := s.cfg.Send
	if s.queue.Len() >= limits.MaxSegments || (owned && s.queue.owned+len(data) > limits.MaxOwnedBytes) {
		s.step = http.StepClose
		s.failed = status.ErrOutOfMemory
		s.fatal(s.failed)
		return s.failed
	}

	if owned {
		data = bytes.Clone(data)
	}

	s.queue.Push(data, owned)

	return nil
}

// Acknowledged is called every time the transport confirms previously written data. The first
// acknowledgement after the header block lets the handler produce the output, following ones
// drain the send queue. A returned error means the connection must be closed, which also
// includes status.ErrCloseConnection once the response is complete.
func (s *Session) Acknowledged() error {
	if s.step == http.StepRW {
		if err := s.emit(http.Event{Step: http.StepRW}); err != nil {
			return err
		}

		s.step = http.StepSending
	}

	if s.step == http.StepSending {
		if err := s.drain(); err != nil {
			return err
		}
	}

	if s.step == http.StepClose {
		return status.ErrCloseConnection
	}

	return nil
}

// drain writes as much of the queue as the send window allows. Every time the queue becomes
// empty, the handler is asked for more. If it enqueues nothing, the response is complete.
func (s *Session) drain() error {
	for {
		if !s.chunked && s.remaining == 0 && !s.queue.Empty() {
			// everything declared by the Content-Length is already sent
			s.queue.Reset()
			return s.complete(nil)
		}

		if !s.queue.Empty() {
			window := s.conn.SendWindow()
			if s.chunked {
				window -= s.cfg.Send.ChunkOverhead
			}

			if window <= 0 {
				return nil
			}

			if err := s.writePass(window); err != nil {
				s.step = http.StepClose
				return err
			}

			if !s.queue.Empty() {
				return s.conn.Flush()
			}
		}

		s.content++
		err := s.emit(http.Event{Step: http.StepSending})
		if err != nil || s.queue.Empty() {
			return s.complete(err)
		}
	}
}

// writePass writes at most window bytes from the head of the queue. In chunked mode they
// form a single chunk.
func (s *Session) writePass(window int) error {
	pass := min(s.queue.length, window)
	if !s.chunked {
		pass = min(pass, s.remaining)
		s.remaining -= pass
	}

	if s.chunked {
		s.sizeLine = strconv.AppendUint(s.sizeLine[:0], uint64(pass), 16)
		s.sizeLine = append(s.sizeLine, crlf...)
		if err := s.conn.Write(s.sizeLine); err != nil {
			return err
		}
	}

	for pass > 0 {
		chunk := s.queue.Peek()
		n := min(len(chunk), pass)
		if err := s.conn.Write(chunk[:n]); err != nil {
			return err
		}

		s.queue.Advance(n)
		pass -= n
	}

	if s.chunked {
		return s.conn.Write(crlf)
	}

	return nil
}

// complete terminates the response and marks the connection to be closed. Data enqueued by
// a handler that failed is dropped, but otherwise the response is still properly terminated.
func (s *Session) complete(handlerErr error) error {
	if s.chunked && s.queue.Empty() {
		if err := s.conn.Write(chunkedFinalizer); err != nil {
			handlerErr = err
		}
	}

	s.step = http.StepClose
	if err := s.conn.Flush(); err != nil && handlerErr == nil {
		handlerErr = err
	}

	return handlerErr
}
