package webserver

import (
	"context"
	"time"

	"github.com/heishamon/webserver/config"
	"github.com/heishamon/webserver/http"
	"github.com/heishamon/webserver/http/mime"
	"github.com/heishamon/webserver/http/status"
	"github.com/heishamon/webserver/internal/metrics"
	"github.com/heishamon/webserver/internal/server"
	"github.com/heishamon/webserver/internal/server/tcp"
	"github.com/heishamon/webserver/router"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// App wires the engine together: the router, the connection slots and the transport.
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	router  *router.Router
	events  *server.Server
	tcp     *tcp.Server
	hooks   hooks
	started time.Time
}

// New returns a new App instance. The /metrics and /status routes are registered
// by default.
func New(cfg *config.Config, logger *zap.Logger) *App {
	a := &App{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		router:  router.New(),
		started: time.Now(),
	}

	a.events = server.New(cfg, a.router.Handle,
		server.WithLogger(logger),
		server.WithMetrics(a.metrics),
	)
	a.tcp = tcp.NewServer(cfg, a.events, logger)

	// the paths are fresh, so registering can't fail
	_ = a.router.Get("/metrics", router.Metrics(a.metrics))
	_ = a.router.Get("/status", a.status)

	return a
}

// Router returns the router, so the application can register its routes. This must be
// done before Serve is called.
func (a *App) Router() *router.Router {
	return a.router
}

// Metrics returns the registry the engine exports its metrics through.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

// NotifyOnStart calls the callback right before the server starts. However, it isn't strongly
// guaranteed that it'll be able to accept new connections immediately
func (a *App) NotifyOnStart(cb func()) *App {
	a.hooks.OnStart = cb
	return a
}

// NotifyOnStop calls the callback once the server is down and all the connections are closed.
func (a *App) NotifyOnStop(cb func()) *App {
	a.hooks.OnStop = cb
	return a
}

// Serve blocks until the server is stopped. An unrecoverable error the engine has run into,
// like status.ErrOutOfMemory, is returned. The process is expected to exit then.
func (a *App) Serve() error {
	callIfNotNil(a.hooks.OnStart)
	err := a.tcp.Start()
	callIfNotNil(a.hooks.OnStop)

	if fatal := a.events.Err(); fatal != nil {
		return fatal
	}

	return err
}

// Stop closes the listener and all the connections.
func (a *App) Stop(ctx context.Context) error {
	return a.tcp.Stop(ctx)
}

type statusReport struct {
	Uptime      int64 `json:"uptime"`
	Connections int   `json:"connections"`
	MaxClients  int   `json:"max_clients"`
}

// status is called on the event loop, so reading the number of live connections is safe.
func (a *App) status(c http.Client, event http.Event) error {
	switch event.Step {
	case http.StepSendHeader:
		return c.Send(status.OK, mime.JSON, 0)
	case http.StepRW:
		body, err := jsoniter.ConfigFastest.Marshal(statusReport{
			Uptime:      int64(time.Since(a.started).Seconds()),
			Connections: a.events.Live(),
			MaxClients:  a.cfg.HTTP.MaxClients,
		})
		if err != nil {
			return err
		}

		return c.SendOwned(body)
	}

	return nil
}

type hooks struct {
	OnStart, OnStop func()
}

func callIfNotNil(f func()) {
	if f != nil {
		f()
	}
}
