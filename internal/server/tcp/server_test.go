package tcp

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/heishamon/webserver/config"
	"github.com/heishamon/webserver/http"
	"github.com/heishamon/webserver/http/mime"
	"github.com/heishamon/webserver/http/status"
	"github.com/heishamon/webserver/internal/server"
	"github.com/indigo-web/chunkedbody"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const addr = "127.0.0.1:16161"

func TestTCP(t *testing.T) {
	cfg := config.Default()
	cfg.NET.Addr = addr
	cfg.NET.SendWindow = 256
	cfg.NET.PollInterval = 50 * time.Millisecond
	body := strings.Repeat("Hello, world! ", 200)

	events := server.New(cfg, func(c http.Client, event http.Event) error {
		switch event.Step {
		case http.StepSendHeader:
			return c.Send(status.OK, mime.Plain, 0)
		case http.StepRW:
			return c.SendStatic([]byte(body))
		}

		return nil
	})

	logger := zaptest.NewLogger(t)
	srv := NewServer(cfg, events, logger)
	stopped := make(chan error, 1)
	go func() {
		stopped <- srv.Start()
	}()

	var conn net.Conn
	require.Eventually(t, func() bool {
		var err error
		conn, err = net.Dial("tcp", addr)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	_, err := conn.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	// the server closes the connection once the response is complete
	response, err := io.ReadAll(conn)
	require.NoError(t, err)
	head, chunked, found := strings.Cut(string(response), "\r\n\r\n")
	require.True(t, found)
	require.True(t, strings.HasPrefix(head, "HTTP/1.1 200 OK\r\n"))
	require.Contains(t, head, "Transfer-Encoding: chunked")
	require.Equal(t, body, decodeChunked(t, chunked))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	<-stopped
}

func TestStopBeforeBoot(t *testing.T) {
	cfg := config.Default()
	cfg.NET.Addr = "127.0.0.1:16162"
	srv := NewServer(cfg, server.New(cfg, func(http.Client, http.Event) error {
		return nil
	}), zaptest.NewLogger(t))

	early, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, srv.Stop(early), context.DeadlineExceeded)

	stopped := make(chan error, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Stop is waiting for the boot, so it doesn't matter which one goes first
	go func() {
		stopped <- srv.Stop(ctx)
	}()
	go func() {
		_ = srv.Start()
	}()

	require.NoError(t, <-stopped)
}

func decodeChunked(t *testing.T, data string) string {
	parser := chunkedbody.NewParser(chunkedbody.DefaultSettings())
	raw := []byte(data)
	var body []byte

	for len(raw) > 0 {
		chunk, extra, err := parser.Parse(raw, false)
		if err != nil {
			require.EqualError(t, err, io.EOF.Error())
			break
		}

		body = append(body, chunk...)
		raw = extra
	}

	return string(body)
}
