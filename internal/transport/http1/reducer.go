package http1

import (
	"bytes"

	"github.com/heishamon/webserver/http"
	"github.com/heishamon/webserver/http/status"
	"github.com/heishamon/webserver/internal/buffer"
	"github.com/heishamon/webserver/internal/urlencoded"
	"github.com/indigo-web/utils/uf"
)

// reducer extracts name=value tokens from the receive buffer and shifts them out as soon
// as they're complete. Arguments are decoded into scratch, so the buffer itself is never
// modified in place: a value which is flushed in pieces keeps its undecoded name in front.
type reducer struct {
	scratch []byte
	arg     http.Argument
}

func newReducer(size int) reducer {
	return reducer{scratch: make([]byte, size)}
}

// reduce walks the first limit bytes of the buffer. Every complete token is passed to emit
// and consumed. If final is set, whatever remains forms the last token. Otherwise, a full
// buffer holding a single incomplete token gets its value flushed partially.
func (r *reducer) reduce(buff *buffer.Buffer, limit int, final bool, emit func(*http.Argument) error) error {
	for {
		data := buff.Bytes()[:limit]
		end := boundary(data)
		if end == -1 {
			break
		}

		if end > 0 {
			if err := r.emit(data[:end], emit); err != nil {
				return err
			}
		}

		buff.Consume(end + 1)
		limit -= end + 1
	}

	switch {
	case final:
		token := bytes.TrimRight(buff.Bytes()[:limit], "\r\n")
		if len(token) > 0 {
			if err := r.emit(token, emit); err != nil {
				return err
			}
		}

		buff.Consume(limit)
	case buff.Full():
		return r.flush(buff, emit)
	}

	return nil
}

// flush delivers the buffered part of a value, which is too long to fit the buffer at once,
// retaining the name for the next piece. A percent-encoded sequence at the very end is
// retained, too, as it might be incomplete.
func (r *reducer) flush(buff *buffer.Buffer, emit func(*http.Argument) error) error {
	data := buff.Bytes()
	eq := bytes.IndexByte(data, '=')
	if eq == -1 {
		return status.ErrTokenTooLong
	}

	value := data[eq+1:]
	if pending := urlencoded.Pending(value); pending != -1 {
		value = value[:pending]
	}

	if len(value) == 0 {
		return status.ErrTokenTooLong
	}

	if err := r.emitPair(data[:eq], value, false, emit); err != nil {
		return err
	}

	buff.Cut(eq+1, eq+1+len(value))
	return nil
}

func (r *reducer) emit(token []byte, emit func(*http.Argument) error) error {
	eq := bytes.IndexByte(token, '=')
	if eq == -1 {
		return r.emitPair(token, nil, true, emit)
	}

	return r.emitPair(token[:eq], token[eq+1:], false, emit)
}

func (r *reducer) emitPair(name, value []byte, valueless bool, emit func(*http.Argument) error) error {
	n := urlencoded.Decode(r.scratch, name, true)
	v := urlencoded.Decode(r.scratch[n:], value, true)
	r.arg = http.Argument{
		Name:      uf.B2S(r.scratch[:n]),
		Value:     uf.B2S(r.scratch[n : n+v]),
		Valueless: valueless,
	}

	return emit(&r.arg)
}

// boundary returns the length of the first complete token. Tokens are separated by '&'. A space
// separates them, too, but only unless preceded by '\r', as then it belongs to the message
// framing rather than to the arguments.
func boundary(data []byte) int {
	cr := false

	for i, c := range data {
		switch c {
		case '&':
			return i
		case '\r':
			cr = true
		case ' ':
			if !cr {
				return i
			}
		}
	}

	return -1
}
