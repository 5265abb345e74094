package http

import (
	"github.com/heishamon/webserver/http/status"
	"github.com/heishamon/webserver/internal/buffer"
)

// Header is an append-only cursor over the fixed-size header assembly buffer. Everything
// written ends up in the response header block verbatim, right after the status line.
type Header struct {
	buff *buffer.Buffer
}

func NewHeader(buff *buffer.Buffer) *Header {
	return &Header{buff: buff}
}

// Add appends a complete header line.
func (h *Header) Add(key, value string) error {
	if len(key)+len(value)+4 > h.buff.Free() {
		return status.ErrHeaderFieldsTooLarge
	}

	h.buff.AppendString(key)
	h.buff.AppendString(": ")
	h.buff.AppendString(value)
	h.buff.AppendString("\r\n")

	return nil
}

// Write appends raw bytes. Nothing is written if the buffer can't fit them all.
func (h *Header) Write(b []byte) (int, error) {
	if !h.buff.Append(b) {
		return 0, status.ErrHeaderFieldsTooLarge
	}

	return len(b), nil
}

func (h *Header) WriteString(str string) (int, error) {
	if !h.buff.AppendString(str) {
		return 0, status.ErrHeaderFieldsTooLarge
	}

	return len(str), nil
}

// Bytes returns what has been written by the handler so far.
func (h *Header) Bytes() []byte {
	return h.buff.Preview()
}

func (h *Header) Len() int {
	return h.buff.SegmentLength()
}
