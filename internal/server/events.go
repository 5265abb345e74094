package server

import (
	"errors"
	"time"

	"github.com/heishamon/webserver/config"
	"github.com/heishamon/webserver/http"
	"github.com/heishamon/webserver/http/status"
	"github.com/heishamon/webserver/internal/metrics"
	"go.uber.org/zap"
)

// Server adapts transport events to connection slots. The transport must deliver all the
// events from a single goroutine, as neither the server nor the slots are synchronized.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	clock   func() time.Time
	onFatal func(error)
	pool    *pool
	err     error
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithClock replaces the source of time the activity of connections is recorded with.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		s.clock = clock
	}
}

// WithFatal sets the callback invoked once the server runs into an unrecoverable error.
// After that, every event is ignored.
func WithFatal(onFatal func(error)) Option {
	return func(s *Server) {
		s.onFatal = onFatal
	}
}

func New(cfg *config.Config, handler http.Handler, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  zap.NewNop(),
		clock:   time.Now,
		onFatal: func(error) {},
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.metrics == nil {
		s.metrics = metrics.New()
	}

	s.pool = newPool(cfg, s.observe(handler), s.fatal, s.metrics.BytesSent)

	return s
}

// OnConnect binds a new connection to a free slot. If there is none, status.ErrPoolExhausted
// is returned and the connection stays unbound: all of its following events are ignored.
func (s *Server) OnConnect(conn Conn) error {
	if s.err != nil {
		return s.err
	}

	sl, err := s.pool.Acquire(conn, s.clock())
	if err != nil {
		s.metrics.Rejected.Inc()
		s.logger.Warn("connection refused", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
		return err
	}

	s.metrics.Live.Set(float64(s.pool.Live()))
	s.logger.Debug("client connected",
		zap.Stringer("remote", conn.RemoteAddr()),
		zap.Int("slot", sl.index),
	)

	return nil
}

// OnReceive feeds received data into the connection's parser. Nil data means the peer has
// closed the connection.
func (s *Server) OnReceive(conn Conn, data []byte) {
	sl := s.lookup(conn)
	if sl == nil {
		return
	}

	if data == nil {
		s.release(sl, metrics.ReasonPeer, nil)
		return
	}

	sl.lastActive = s.clock()
	if err := sl.session.Receive(data); err != nil {
		s.release(sl, reason(err), err)
	}
}

// OnAcknowledged is called when previously flushed data has been taken by the transport.
func (s *Server) OnAcknowledged(conn Conn) {
	sl := s.lookup(conn)
	if sl == nil {
		return
	}

	sl.lastActive = s.clock()
	s.acknowledged(sl)
}

// OnIdle is called periodically. Connections without any activity for longer than the
// idle timeout are closed without draining their send queues. Responses stalled on
// a send window that has opened since the last acknowledgement are resumed.
func (s *Server) OnIdle(now time.Time) {
	if s.err != nil {
		return
	}

	s.pool.each(func(sl *slot) {
		switch {
		case now.Sub(sl.lastActive) >= s.cfg.NET.IdleTimeout:
			s.release(sl, metrics.ReasonIdle, nil)
		case sl.session.Step() == http.StepSending && sl.meter.SendWindow() > 0:
			s.acknowledged(sl)
		}
	})
}

// Live returns the number of bound connections.
func (s *Server) Live() int {
	return s.pool.Live()
}

// Err returns the fatal error the server has stopped because of, if any.
func (s *Server) Err() error {
	return s.err
}

func (s *Server) lookup(conn Conn) *slot {
	if s.err != nil {
		return nil
	}

	return s.pool.Lookup(conn)
}

func (s *Server) acknowledged(sl *slot) {
	if err := sl.session.Acknowledged(); err != nil {
		s.release(sl, reason(err), err)
	}
}

func (s *Server) release(sl *slot, reason string, err error) {
	remote := sl.meter.RemoteAddr()
	s.pool.Release(sl)
	s.metrics.Closes.WithLabelValues(reason).Inc()
	s.metrics.Live.Set(float64(s.pool.Live()))

	fields := []zap.Field{
		zap.Stringer("remote", remote),
		zap.Int("slot", sl.index),
		zap.String("reason", reason),
	}

	switch reason {
	case metrics.ReasonDone, metrics.ReasonPeer:
		s.logger.Debug("client disconnected", fields...)
	default:
		s.logger.Info("client disconnected", append(fields, zap.Error(err))...)
	}
}

func (s *Server) fatal(err error) {
	if s.err != nil {
		return
	}

	s.err = err
	s.logger.Error("unrecoverable error, halting", zap.Error(err))
	s.onFatal(err)
}

func (s *Server) observe(handler http.Handler) http.Handler {
	return func(c http.Client, event http.Event) error {
		if event.Step == http.StepRequestMethod {
			s.metrics.Requests.WithLabelValues(event.Method.String()).Inc()
		}

		return handler(c, event)
	}
}

func reason(err error) string {
	switch {
	case errors.Is(err, status.ErrCloseConnection):
		return metrics.ReasonDone
	case errors.Is(err, status.ErrOutOfMemory):
		return metrics.ReasonFatal
	}

	var httpErr status.HTTPError
	if errors.As(err, &httpErr) {
		return metrics.ReasonMalformed
	}

	return metrics.ReasonAbort
}
