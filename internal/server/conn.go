package server

import (
	"net"

	"github.com/prometheus/client_golang/prometheus"
)

// Conn is the transport handle of a single connection. None of the methods may block:
// Write only queues the data, which is transmitted after Flush. The transport reports
// back through Server.OnAcknowledged once flushed data is out.
type Conn interface {
	Write(b []byte) error
	Flush() error
	// SendWindow returns how many bytes can be written right now.
	SendWindow() int
	Close() error
	RemoteAddr() net.Addr
}

// meter counts bytes written through the connection.
type meter struct {
	Conn
	sent prometheus.Counter
}

func (m *meter) Write(b []byte) error {
	if err := m.Conn.Write(b); err != nil {
		return err
	}

	m.sent.Add(float64(len(b)))

	return nil
}
