package http1

import (
	"net"

	"github.com/heishamon/webserver/config"
	"github.com/heishamon/webserver/http"
	"github.com/heishamon/webserver/http/method"
	"github.com/heishamon/webserver/internal/buffer"
)

// Transport is the connection as seen by a session. Write must not retain the passed slice
// after it returns.
type Transport interface {
	Write(b []byte) error
	Flush() error
	// SendWindow returns how many bytes may be written without blocking.
	SendWindow() int
	RemoteAddr() net.Addr
}

// Session holds the whole per-connection state: the request parser, the response composer
// and the send queue. It implements http.Client, so it's passed to the handler as is.
//
// Session never blocks and is not safe for concurrent use. All the methods must be called
// from the transport's event loop.
type Session struct {
	cfg     *config.Config
	handler http.Handler
	fatal   func(error)
	failed  error
	conn    Transport

	buff    *buffer.Buffer
	reducer reducer
	phase   phase
	step    http.Step
	method  method.Method
	// totallen is the value of the Content-Length header, readlen is how many bytes
	// of the body have been taken off the wire so far.
	totallen, readlen int
	route             int
	content           int
	header            http.Argument

	headerBuff *buffer.Buffer
	headerView *http.Header
	headerSent bool
	queue      queue
	chunked    bool
	// remaining is how many body bytes are left to be sent in the fixed-length mode.
	remaining int
	sizeLine  []byte
}

// NewSession allocates all the buffers the session will ever need. The fatal callback is
// called when the send queue runs out of its limits.
func NewSession(cfg *config.Config, handler http.Handler, fatal func(error)) *Session {
	headerBuff := buffer.New(cfg.HTTP.HeaderBufferSize)

	return &Session{
		cfg:        cfg,
		handler:    handler,
		fatal:      fatal,
		buff:       buffer.New(cfg.HTTP.BufferSize),
		reducer:    newReducer(cfg.HTTP.BufferSize),
		headerBuff: headerBuff,
		headerView: http.NewHeader(headerBuff),
		sizeLine:   make([]byte, 0, 16),
	}
}

// Reset prepares the session to serve a new connection.
func (s *Session) Reset(conn Transport) {
	s.conn = conn
	s.failed = nil
	s.buff.Clear()
	s.phase = phaseMethod
	s.step = http.StepReadHeader
	s.method = method.Unknown
	s.totallen, s.readlen = 0, 0
	s.route, s.content = 0, 0
	s.headerBuff.Clear()
	s.headerSent = false
	s.queue.Reset()
	s.chunked = false
	s.remaining = 0
}

// Release drops everything enqueued and detaches the session from its connection.
func (s *Session) Release() {
	s.queue.Reset()
	s.step = http.StepClose
	s.conn = nil
}

// Outstanding returns the number of enqueued bytes not sent yet.
func (s *Session) Outstanding() int {
	return s.queue.length
}

func (s *Session) Step() http.Step {
	return s.step
}

func (s *Session) Method() method.Method {
	return s.method
}

func (s *Session) Remote() net.Addr {
	if s.conn == nil {
		return nil
	}

	return s.conn.RemoteAddr()
}

func (s *Session) Route() int {
	return s.route
}

func (s *Session) SetRoute(route int) {
	s.route = route
}

func (s *Session) Content() int {
	return s.content
}

// emit marks the step and invokes the handler. Any error makes the connection to be closed,
// as well as a fatal error the handler might have ignored.
func (s *Session) emit(event http.Event) error {
	s.step = event.Step
	err := s.handler(s, event)
	if err == nil {
		err = s.failed
	}

	if err != nil {
		s.step = http.StepClose
		return err
	}

	return nil
}
