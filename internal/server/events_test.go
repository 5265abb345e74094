package server

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/heishamon/webserver/config"
	"github.com/heishamon/webserver/http"
	"github.com/heishamon/webserver/http/mime"
	"github.com/heishamon/webserver/http/status"
	"github.com/heishamon/webserver/internal/metrics"
	"github.com/heishamon/webserver/internal/server/tcp/dummy"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const request = "GET /ping HTTP/1.1\r\n\r\n"

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time {
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func pong(c http.Client, event http.Event) error {
	switch event.Step {
	case http.StepSendHeader:
		return c.Send(status.OK, mime.Plain, 0)
	case http.StepRW:
		return c.SendStatic([]byte("pong"))
	}

	return nil
}

type env struct {
	srv     *Server
	metrics *metrics.Metrics
	clock   *clock
	fatal   error
}

func newEnv(t *testing.T, cfg *config.Config, handler http.Handler) *env {
	e := &env{
		metrics: metrics.New(),
		clock:   &clock{now: time.Unix(1700000000, 0)},
	}
	e.srv = New(cfg, handler,
		WithLogger(zaptest.NewLogger(t)),
		WithMetrics(e.metrics),
		WithClock(e.clock.Now),
		WithFatal(func(err error) { e.fatal = err }),
	)

	return e
}

func (e *env) connect(t *testing.T, window int) *dummy.Conn {
	conn := dummy.NewConn(window)
	require.NoError(t, e.srv.OnConnect(conn))
	return conn
}

// drive acknowledges all the written data until the connection is closed.
func (e *env) drive(t *testing.T, conn *dummy.Conn) {
	for i := 0; conn.Pending() > 0 && !conn.Closed; i++ {
		require.Less(t, i, 10_000)
		conn.Ack()
		e.srv.OnAcknowledged(conn)
	}
}

func (e *env) closes(reason string) float64 {
	return testutil.ToFloat64(e.metrics.Closes.WithLabelValues(reason))
}

func TestServer_Exchange(t *testing.T) {
	e := newEnv(t, config.Default(), pong)
	conn := e.connect(t, 1460)
	require.Equal(t, 1, e.srv.Live())

	e.srv.OnReceive(conn, []byte(request))
	e.drive(t, conn)

	require.True(t, conn.Closed)
	require.True(t, strings.HasPrefix(string(conn.Data), "HTTP/1.1 200 OK\r\n"))
	require.True(t, strings.HasSuffix(string(conn.Data), "\r\n\r\n4\r\npong\r\n0\r\n\r\n"))
	require.Zero(t, e.srv.Live())
	require.Equal(t, float64(1), e.closes(metrics.ReasonDone))
	require.Equal(t, float64(1), testutil.ToFloat64(e.metrics.Requests.WithLabelValues("GET")))
	require.Equal(t, float64(len(conn.Data)), testutil.ToFloat64(e.metrics.BytesSent))
}

func TestServer_Pool(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.MaxClients = 2
	e := newEnv(t, cfg, pong)

	first, second := e.connect(t, 1460), e.connect(t, 1460)
	third := dummy.NewConn(1460)
	require.ErrorIs(t, e.srv.OnConnect(third), status.ErrPoolExhausted)
	require.Equal(t, float64(1), testutil.ToFloat64(e.metrics.Rejected))
	require.Equal(t, float64(2), testutil.ToFloat64(e.metrics.Live))

	t.Run("refused connection is ignored", func(t *testing.T) {
		e.srv.OnReceive(third, []byte(request))
		e.srv.OnAcknowledged(third)
		require.Empty(t, third.Data)
		require.False(t, third.Closed)
	})

	t.Run("bound connections still work", func(t *testing.T) {
		for _, conn := range []*dummy.Conn{second, first} {
			e.srv.OnReceive(conn, []byte(request))
			e.drive(t, conn)
			require.True(t, conn.Closed)
			require.Contains(t, string(conn.Data), "pong")
		}
	})

	t.Run("freed slot is reused", func(t *testing.T) {
		conn := e.connect(t, 1460)
		e.srv.OnReceive(conn, []byte(request))
		e.drive(t, conn)
		require.Contains(t, string(conn.Data), "pong")
	})
}

func TestServer_Idle(t *testing.T) {
	cfg := config.Default()
	e := newEnv(t, cfg, pong)
	idle, active := e.connect(t, 1460), e.connect(t, 1460)

	e.clock.Advance(cfg.NET.IdleTimeout / 2)
	e.srv.OnReceive(active, []byte("GET /pi"))
	e.clock.Advance(cfg.NET.IdleTimeout / 2)
	e.srv.OnIdle(e.clock.Now())

	require.True(t, idle.Closed)
	require.False(t, active.Closed)
	require.Equal(t, 1, e.srv.Live())
	require.Equal(t, float64(1), e.closes(metrics.ReasonIdle))

	e.srv.OnReceive(active, []byte("ng HTTP/1.1\r\n\r\n"))
	e.drive(t, active)
	require.Contains(t, string(active.Data), "pong")
}

func TestServer_IdleResumesStalledResponse(t *testing.T) {
	cfg := config.Default()
	cfg.NET.SendWindow = 64
	body := strings.Repeat("x", 500)
	e := newEnv(t, cfg, func(c http.Client, event http.Event) error {
		switch event.Step {
		case http.StepSendHeader:
			return c.Send(status.OK, mime.Plain, len(body))
		case http.StepRW:
			return c.SendStatic([]byte(body))
		}

		return nil
	})
	conn := e.connect(t, cfg.NET.SendWindow)
	e.srv.OnReceive(conn, []byte(request))
	conn.Ack()
	e.srv.OnAcknowledged(conn)

	// the window opens, but no acknowledgement is delivered
	written := len(conn.Data)
	conn.Ack()
	e.srv.OnIdle(e.clock.Now())
	require.Greater(t, len(conn.Data), written)

	e.drive(t, conn)
	require.True(t, strings.HasSuffix(string(conn.Data), body))
}

func TestServer_Close(t *testing.T) {
	t.Run("peer", func(t *testing.T) {
		e := newEnv(t, config.Default(), pong)
		conn := e.connect(t, 1460)
		e.srv.OnReceive(conn, []byte("GET / HT"))
		e.srv.OnReceive(conn, nil)
		require.True(t, conn.Closed)
		require.Empty(t, conn.Data)
		require.Equal(t, float64(1), e.closes(metrics.ReasonPeer))
	})

	t.Run("malformed", func(t *testing.T) {
		e := newEnv(t, config.Default(), pong)
		conn := e.connect(t, 1460)
		e.srv.OnReceive(conn, []byte("PUT / HTTP/1.1\r\n\r\n"))
		require.True(t, conn.Closed)
		require.Empty(t, conn.Data)
		require.Equal(t, float64(1), e.closes(metrics.ReasonMalformed))
	})

	t.Run("abort", func(t *testing.T) {
		e := newEnv(t, config.Default(), func(c http.Client, event http.Event) error {
			if event.Step == http.StepRequestURI && event.URI == "/forbidden" {
				return errors.New("go away")
			}

			return pong(c, event)
		})
		conn := e.connect(t, 1460)
		e.srv.OnReceive(conn, []byte("GET /forbidden HTTP/1.1\r\n\r\n"))
		require.True(t, conn.Closed)
		require.Equal(t, float64(1), e.closes(metrics.ReasonAbort))
	})
}

func TestServer_Fatal(t *testing.T) {
	cfg := config.Default()
	cfg.Send.MaxSegments = 1
	e := newEnv(t, cfg, func(c http.Client, event http.Event) error {
		switch event.Step {
		case http.StepSendHeader:
			return c.Send(status.OK, mime.Plain, 0)
		case http.StepRW:
			_ = c.SendStatic([]byte("a"))
			_ = c.SendStatic([]byte("b"))
		}

		return nil
	})
	conn, other := e.connect(t, 1460), e.connect(t, 1460)
	e.srv.OnReceive(conn, []byte(request))
	e.drive(t, conn)

	require.ErrorIs(t, e.fatal, status.ErrOutOfMemory)
	require.ErrorIs(t, e.srv.Err(), status.ErrOutOfMemory)
	require.True(t, conn.Closed)
	require.Equal(t, float64(1), e.closes(metrics.ReasonFatal))

	// every following event is ignored
	e.srv.OnReceive(other, []byte(request))
	require.Empty(t, other.Data)
	require.ErrorIs(t, e.srv.OnConnect(dummy.NewConn(1460)), status.ErrOutOfMemory)
}
