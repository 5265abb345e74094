package tcp

import (
	"bytes"
	"net"

	"github.com/panjf2000/gnet/v2"
)

// client implements server.Conn on top of a gnet connection. Written data is collected
// until Flush, which hands it to the event loop as a single vectored write. Completion of
// the write is reported through onAck.
type client struct {
	conn   gnet.Conn
	window int
	onAck  func(*client)

	pending  [][]byte
	buffered int
	// inflight is the amount of flushed bytes whose write hasn't completed yet.
	inflight int
	closing  bool
}

func newClient(conn gnet.Conn, window int, onAck func(*client)) *client {
	return &client{
		conn:   conn,
		window: window,
		onAck:  onAck,
	}
}

// Write copies the data, as the caller is free to reuse it right after.
func (c *client) Write(b []byte) error {
	if c.closing {
		return net.ErrClosed
	}

	c.pending = append(c.pending, bytes.Clone(b))
	c.buffered += len(b)

	return nil
}

func (c *client) Flush() error {
	if len(c.pending) == 0 {
		return nil
	}

	batch, n := c.pending, c.buffered
	c.pending, c.buffered = nil, 0
	c.inflight += n

	return c.conn.AsyncWritev(batch, func(_ gnet.Conn, err error) error {
		c.inflight -= n
		if c.closing {
			if c.inflight == 0 {
				return c.conn.Close()
			}

			return nil
		}

		if err == nil {
			c.onAck(c)
		}

		return nil
	})
}

// SendWindow accounts for everything not taken by the kernel yet.
func (c *client) SendWindow() int {
	return c.window - c.conn.OutboundBuffered() - c.inflight - c.buffered
}

func (c *client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the connection once all the flushed writes complete.
func (c *client) Close() error {
	if c.closing {
		return nil
	}

	c.closing = true
	c.pending, c.buffered = nil, 0
	if c.inflight > 0 {
		return nil
	}

	return c.conn.Close()
}
