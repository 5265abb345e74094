package tcp

import (
	"context"
	"time"

	"github.com/heishamon/webserver/config"
	"github.com/heishamon/webserver/internal/server"
	"github.com/panjf2000/gnet/v2"
	"go.uber.org/zap"
)

// Server runs the connection events on a single gnet event loop, so the whole engine
// stays single-threaded.
type Server struct {
	gnet.BuiltinEventEngine
	cfg    *config.Config
	events *server.Server
	logger *zap.Logger
	// booted is closed by OnBoot, after engine is set.
	booted chan struct{}
	engine gnet.Engine
}

func NewServer(cfg *config.Config, events *server.Server, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		events: events,
		logger: logger,
		booted: make(chan struct{}),
	}
}

// Start blocks until the engine is stopped. It returns nil if the engine has been shut
// down because of a fatal error, which must be checked separately. A Server can be
// started only once.
func (s *Server) Start() error {
	return gnet.Run(s, "tcp://"+s.cfg.NET.Addr,
		gnet.WithMulticore(false),
		gnet.WithNumEventLoop(1),
		gnet.WithTicker(true),
		gnet.WithTCPNoDelay(gnet.TCPNoDelay),
		gnet.WithLogger(s.logger.Sugar()),
	)
}

// Stop shuts the listener and all the connections down. If the engine hasn't booted yet,
// Stop waits for it until the context is done.
func (s *Server) Stop(ctx context.Context) error {
	select {
	case <-s.booted:
	case <-ctx.Done():
		return ctx.Err()
	}

	return s.engine.Stop(ctx)
}

func (s *Server) OnBoot(eng gnet.Engine) gnet.Action {
	s.engine = eng
	close(s.booted)
	s.logger.Info("listening", zap.String("addr", s.cfg.NET.Addr))
	return gnet.None
}

func (s *Server) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	cl := newClient(c, s.cfg.NET.SendWindow, s.onAck)
	if err := s.events.OnConnect(cl); err != nil {
		// left unbound, the traffic is discarded until the peer gives up
		return nil, gnet.None
	}

	c.SetContext(cl)

	return nil, gnet.None
}

func (s *Server) OnTraffic(c gnet.Conn) gnet.Action {
	data, err := c.Next(-1)
	if err != nil {
		return gnet.Close
	}

	cl, ok := c.Context().(*client)
	if !ok || len(data) == 0 {
		return gnet.None
	}

	s.events.OnReceive(cl, data)

	return gnet.None
}

func (s *Server) OnClose(c gnet.Conn, err error) gnet.Action {
	if cl, ok := c.Context().(*client); ok {
		cl.closing = true
		s.events.OnReceive(cl, nil)
	}

	if err != nil {
		s.logger.Debug("connection closed with error", zap.Error(err))
	}

	return gnet.None
}

func (s *Server) OnTick() (time.Duration, gnet.Action) {
	s.events.OnIdle(time.Now())
	if s.events.Err() != nil {
		return 0, gnet.Shutdown
	}

	return s.cfg.NET.PollInterval, gnet.None
}

func (s *Server) onAck(cl *client) {
	s.events.OnAcknowledged(cl)
}
