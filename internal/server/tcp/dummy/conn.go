package dummy

import (
	"net"
)

// Conn is an in-memory connection. Everything written is accumulated in Data and counts as
// outstanding until acknowledged by Ack, which is how the send window is emulated.
type Conn struct {
	Data    []byte
	Flushes int
	Closed  bool
	window  int
	pending int
	addr    net.Addr
}

func NewConn(window int) *Conn {
	return &Conn{
		window: window,
		addr:   &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000},
	}
}

// WithRemote sets the remote address.
func (c *Conn) WithRemote(addr net.Addr) *Conn {
	c.addr = addr
	return c
}

func (c *Conn) Write(b []byte) error {
	if c.Closed {
		return net.ErrClosed
	}

	c.Data = append(c.Data, b...)
	c.pending += len(b)

	return nil
}

func (c *Conn) Flush() error {
	c.Flushes++
	return nil
}

func (c *Conn) SendWindow() int {
	return c.window - c.pending
}

// Pending returns the number of written, but not acknowledged yet bytes.
func (c *Conn) Pending() int {
	return c.pending
}

// Ack acknowledges everything written so far, returning its length.
func (c *Conn) Ack() int {
	n := c.pending
	c.pending = 0
	return n
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.addr
}

func (c *Conn) Close() error {
	c.Closed = true
	return nil
}

// Reset drops the accumulated data.
func (c *Conn) Reset() {
	c.Data = c.Data[:0]
	c.pending = 0
}
