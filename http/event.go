package http

import (
	"errors"
	"net"

	"github.com/heishamon/webserver/http/method"
	"github.com/heishamon/webserver/http/mime"
	"github.com/heishamon/webserver/http/status"
)

// Argument is a single query, body or header field. Both strings are views into the
// connection's own memory, so they must not be retained after the handler returns.
type Argument struct {
	Name  string
	Value string
	// Valueless is set for tokens without the '=' sign. Value is empty in this case.
	Valueless bool
}

// Event is what the handler is called with. Which fields are set depends on the step:
//
//   - StepRequestMethod: Method
//   - StepRequestURI: URI
//   - StepHeader: Arg, holding the header name and value
//   - StepArgs: Arg for every query or body argument. A nil Arg is fired exactly once
//     after the last body argument of a POST request
//   - StepSendHeader: nothing. The request is fully read, the handler is expected to
//     call Client.Send
//   - StepCreateHeader: Header
//   - StepRW: nothing. The header block is acknowledged, output may be enqueued
//   - StepSending: nothing. The queue is drained. Enqueue more or return to complete
type Event struct {
	Step   Step
	Method method.Method
	URI    string
	Arg    *Argument
	Header *Header
}

// Handler is invoked for every event of every connection. Returning an error aborts and closes
// the connection. The only exception is SkipDefaultHeaders, returned on StepCreateHeader.
type Handler func(Client, Event) error

// SkipDefaultHeaders is returned by the handler on StepCreateHeader in order to signal that the
// header block is complete. No more header lines are appended, and the block is just
// terminated with an empty line, if not yet.
var SkipDefaultHeaders = errors.New("skip default headers")

// Client is the connection as seen by the handler.
type Client interface {
	// Step returns the step the current event was produced by.
	Step() Step
	Method() method.Method
	Remote() net.Addr
	// Route and SetRoute hold an arbitrary tag, usually the index of the route matched by URI.
	// It's reset to zero for every new connection.
	Route() int
	SetRoute(int)
	// Content returns how many times the send queue has been drained completely.
	Content() int
	// SendStatic enqueues the data without copying it. The data must stay intact until
	// the connection is closed.
	SendStatic(data []byte) error
	// SendOwned enqueues a copy of the data.
	SendOwned(data []byte) error
	// Send writes the status line and the header block. Zero length enables chunked
	// transfer encoding, otherwise exactly length bytes of the enqueued data are
	// transmitted.
	Send(code status.Code, mime mime.MIME, length int) error
}
