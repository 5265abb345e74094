package server

import (
	"time"

	"github.com/heishamon/webserver/internal/transport/http1"
)

// slot is a connection slot. All the memory of a slot is allocated once, when the pool
// is created, and reused by every connection bound to it afterwards.
type slot struct {
	index      int
	meter      meter
	session    *http1.Session
	lastActive time.Time
}

func (s *slot) free() bool {
	return s.meter.Conn == nil
}

func (s *slot) bind(conn Conn, now time.Time) {
	s.meter.Conn = conn
	s.session.Reset(&s.meter)
	s.lastActive = now
}

func (s *slot) unbind() {
	s.session.Release()
	_ = s.meter.Conn.Close()
	s.meter.Conn = nil
}
