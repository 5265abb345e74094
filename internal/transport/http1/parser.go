package http1

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/heishamon/webserver/http"
	"github.com/heishamon/webserver/http/method"
	"github.com/heishamon/webserver/http/status"
	"github.com/heishamon/webserver/internal/urlencoded"
	"github.com/indigo-web/utils/uf"
)

// phase is the position within the request while it's still being read.
type phase uint8

const (
	phaseMethod phase = iota
	phaseURI
	phaseQuery
	phaseRequestLine
	phaseHeaders
	phaseBody
	phaseDone
)

const contentLength = "Content-Length"

var crlf = []byte("\r\n")

// Receive feeds the data into the parser. The data is copied into the fixed-size buffer
// piecewise, and every piece is processed as far as possible before the next one is taken,
// so the sequence of events doesn't depend on how the request is fragmented. Once the request
// is read completely, the handler is notified with http.StepSendHeader, and everything else
// received on the connection is ignored.
//
// A returned error means the connection must be closed.
func (s *Session) Receive(data []byte) error {
	if s.phase == phaseDone {
		return nil
	}

	for {
		if s.phase == phaseBody {
			n := s.buff.Fill(data[:min(len(data), s.totallen-s.readlen)])
			s.readlen += n
			data = data[n:]
		} else {
			data = data[s.buff.Fill(data):]
		}

		if err := s.advance(); err != nil {
			s.step = http.StepClose
			return err
		}

		if s.phase == phaseDone {
			return s.presend()
		}

		if s.phase == phaseBody && s.readlen == s.totallen {
			// the rest is beyond the Content-Length, therefore ignored
			data = nil
		}

		if len(data) == 0 {
			return nil
		}

		if s.buff.Full() {
			s.step = http.StepClose
			return status.ErrBadRequest
		}
	}
}

// advance processes the buffered data, phase by phase, until more data is needed.
func (s *Session) advance() error {
	for s.phase != phaseDone {
		var (
			progress bool
			err      error
		)

		switch s.phase {
		case phaseMethod:
			progress, err = s.parseMethod()
		case phaseURI:
			progress, err = s.parseURI()
		case phaseQuery:
			progress, err = s.parseQuery()
		case phaseRequestLine:
			progress = s.skipRequestLine()
		case phaseHeaders:
			progress, err = s.parseHeader()
		case phaseBody:
			progress, err = s.parseBody()
		}

		if err != nil || !progress {
			return err
		}
	}

	return nil
}

func (s *Session) parseMethod() (bool, error) {
	data := uf.B2S(s.buff.Bytes())
	stall := false

	for _, m := range method.List {
		prefix := m.Prefix()

		switch {
		case strings.HasPrefix(data, prefix):
			s.buff.Consume(len(prefix))
			s.method = m
			s.phase = phaseURI

			return true, s.emitHeaderEvent(http.Event{Step: http.StepRequestMethod, Method: m})
		case strings.HasPrefix(prefix, data):
			stall = true
		}
	}

	if stall {
		return false, nil
	}

	return false, status.ErrMethodNotImplemented
}

func (s *Session) parseURI() (bool, error) {
	data := s.buff.Bytes()
	end := bytes.IndexAny(data, "? \r")
	if end == -1 {
		if s.buff.Full() {
			return false, status.ErrURITooLong
		}

		return false, nil
	}

	n := urlencoded.Decode(s.reducer.scratch, data[:end], false)
	event := http.Event{Step: http.StepRequestURI, URI: uf.B2S(s.reducer.scratch[:n])}
	if err := s.emitHeaderEvent(event); err != nil {
		return false, err
	}

	if data[end] == '?' {
		s.buff.Consume(end + 1)
		s.phase = phaseQuery
	} else {
		s.buff.Consume(end)
		s.phase = phaseRequestLine
	}

	return true, nil
}

func (s *Session) parseQuery() (bool, error) {
	data := s.buff.Bytes()
	before := len(data)
	end := bytes.IndexAny(data, " \r")
	final := end != -1
	if !final {
		end = len(data)
	}

	if err := s.reducer.reduce(s.buff, end, final, s.emitArg); err != nil {
		return false, err
	}

	if final {
		s.phase = phaseRequestLine
		return true, nil
	}

	return s.buff.Len() != before, nil
}

// skipRequestLine drops everything up to the end of the request line, protocol included.
func (s *Session) skipRequestLine() bool {
	data := s.buff.Bytes()
	end := bytes.Index(data, crlf)
	if end == -1 {
		if s.buff.Full() {
			// the last byte might be the '\r'
			s.buff.Consume(len(data) - 1)
			return true
		}

		return false
	}

	s.buff.Consume(end + len(crlf))
	s.phase = phaseHeaders

	return true
}

func (s *Session) parseHeader() (bool, error) {
	data := s.buff.Bytes()
	end := bytes.Index(data, crlf)
	switch end {
	case -1:
		if s.buff.Full() {
			return false, status.ErrHeaderFieldsTooLarge
		}

		return false, nil
	case 0:
		s.buff.Consume(len(crlf))
		s.headersCompleted()
		return true, nil
	}

	line := data[:end]
	colon := bytes.IndexByte(line, ':')
	if colon == -1 {
		return false, status.ErrBadRequest
	}

	key := uf.B2S(line[:colon])
	value := uf.B2S(bytes.TrimLeft(line[colon+1:], " "))

	if key == contentLength {
		length, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return false, status.ErrBadContentLength
		}

		s.totallen = int(length)
	}

	s.header = http.Argument{Name: key, Value: value}
	if err := s.emitHeaderEvent(http.Event{Step: http.StepHeader, Arg: &s.header}); err != nil {
		return false, err
	}

	s.buff.Consume(end + len(crlf))

	return true, nil
}

func (s *Session) headersCompleted() {
	if s.method != method.POST {
		s.phase = phaseDone
		return
	}

	// whatever is already buffered belongs to the body
	s.buff.Trunc(s.totallen)
	s.readlen = s.buff.Len()
	s.step = http.StepArgs
	s.phase = phaseBody
}

func (s *Session) parseBody() (bool, error) {
	before := s.buff.Len()
	final := s.readlen == s.totallen

	if err := s.reducer.reduce(s.buff, before, final, s.emitArg); err != nil {
		return false, err
	}

	if !final {
		return s.buff.Len() != before, nil
	}

	if err := s.emit(http.Event{Step: http.StepArgs}); err != nil {
		return false, err
	}

	s.phase = phaseDone

	return true, nil
}

// emitHeaderEvent notifies the handler about a part of the request head, returning
// back to reading it afterwards.
func (s *Session) emitHeaderEvent(event http.Event) error {
	if err := s.emit(event); err != nil {
		return err
	}

	s.step = http.StepReadHeader

	return nil
}

func (s *Session) emitArg(arg *http.Argument) error {
	if s.phase == phaseBody {
		return s.emit(http.Event{Step: http.StepArgs, Arg: arg})
	}

	return s.emitHeaderEvent(http.Event{Step: http.StepArgs, Arg: arg})
}

// presend hands the control over to the handler, which is expected to call Send.
func (s *Session) presend() error {
	if err := s.emit(http.Event{Step: http.StepSendHeader}); err != nil {
		return err
	}

	if s.step != http.StepClose {
		s.step = http.StepRW
	}

	return nil
}
