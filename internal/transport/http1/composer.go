package http1

import (
	"bytes"
	"errors"
	"strconv"

	"github.com/heishamon/webserver/http"
	"github.com/heishamon/webserver/http/mime"
	"github.com/heishamon/webserver/http/status"
)

const (
	protocol         = "HTTP/1.1 "
	server           = "Server: "
	keepAlive        = "Keep-Alive: "
	contentType      = "Content-Type: "
	transferEncoding = "Transfer-Encoding: chunked\r\n"
)

var (
	headerTerminator = []byte("\r\n\r\n")
	chunkedFinalizer = []byte("0\r\n\r\n")

	errHeaderSent = status.NewError(status.InternalServerError, "response header is already sent")
)

// Send composes the response header block and writes it. Before the default header lines are
// rendered, the handler is called with http.StepCreateHeader, so it can append its own ones.
// Zero length means the body is sent using the chunked transfer encoding.
func (s *Session) Send(code status.Code, mimetype mime.MIME, length int) error {
	if s.headerSent {
		return errHeaderSent
	}

	s.chunked = length <= 0
	s.remaining = max(length, 0)

	buff := s.headerBuff
	buff.Clear()
	ok := s.renderStatusLine(code)
	buff.Finish()

	s.step = http.StepCreateHeader
	err := s.handler(s, http.Event{Step: http.StepCreateHeader, Header: s.headerView})
	if err == nil {
		err = s.failed
	}

	switch {
	case err == nil:
		if buff.SegmentLength() > 0 && !bytes.HasSuffix(buff.Bytes(), crlf) {
			ok = ok && buff.Append(crlf)
		}

		ok = ok && s.renderDefaults(mimetype, length)
	case errors.Is(err, http.SkipDefaultHeaders):
		// the handler rendered the whole header block by itself, it must be terminated anyway
		if !bytes.HasSuffix(buff.Bytes(), crlf) {
			ok = ok && buff.Append(crlf)
		}

		if !bytes.HasSuffix(buff.Bytes(), headerTerminator) {
			ok = ok && buff.Append(crlf)
		}
	default:
		s.step = http.StepClose
		return err
	}

	if !ok {
		s.step = http.StepClose
		return status.ErrHeaderFieldsTooLarge
	}

	if err = s.conn.Write(buff.Bytes()); err != nil {
		s.step = http.StepClose
		return err
	}

	s.headerSent = true
	s.step = http.StepRW

	return s.conn.Flush()
}

func (s *Session) renderStatusLine(code status.Code) bool {
	buff := s.headerBuff
	s.sizeLine = strconv.AppendUint(s.sizeLine[:0], uint64(code), 10)

	return buff.AppendString(protocol) &&
		buff.Append(s.sizeLine) &&
		buff.AppendByte(' ') &&
		buff.AppendString(string(status.Text(code))) &&
		buff.Append(crlf)
}

func (s *Session) renderDefaults(mimetype mime.MIME, length int) bool {
	buff := s.headerBuff
	ok := buff.AppendString(server) &&
		buff.AppendString(s.cfg.HTTP.Server) &&
		buff.Append(crlf) &&
		buff.AppendString(keepAlive) &&
		buff.AppendString(s.cfg.HTTP.KeepAlive) &&
		buff.Append(crlf) &&
		buff.AppendString(contentType) &&
		buff.AppendString(mimetype) &&
		buff.Append(crlf)

	if s.chunked {
		ok = ok && buff.AppendString(transferEncoding)
	} else {
		ok = ok && s.renderContentLength(length)
	}

	return ok && buff.Append(crlf)
}

func (s *Session) renderContentLength(length int) bool {
	s.sizeLine = strconv.AppendUint(s.sizeLine[:0], uint64(length), 10)

	return s.headerBuff.AppendString(contentLength) &&
		s.headerBuff.AppendString(": ") &&
		s.headerBuff.Append(s.sizeLine) &&
		s.headerBuff.Append(crlf)
}
