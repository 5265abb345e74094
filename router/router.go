package router

import (
	"fmt"
	"strings"

	"github.com/heishamon/webserver/http"
	"github.com/heishamon/webserver/http/method"
	"github.com/heishamon/webserver/http/status"
)

// notFound is the route every connection starts with, so unmatched requests are
// answered with 404.
const notFound = 0

type entry struct {
	methods    [method.Count + 1]int
	notAllowed int
	allow      string
}

// Router matches the URI of every request against the registered paths and dispatches all
// the following events of the connection to the matched handler. The index of the matched
// handler is stored as the connection's route.
type Router struct {
	handlers []http.Handler
	paths    map[string]*entry
}

func New() *Router {
	return &Router{
		handlers: []http.Handler{Error(status.NotFound)},
		paths:    make(map[string]*entry),
	}
}

// Route registers the handler for the path and the method.
func (r *Router) Route(m method.Method, path string, handler http.Handler) error {
	if m == method.Unknown || m > method.Count {
		return fmt.Errorf("unsupported method: %s", m)
	}

	path = stripTrailingSlash(path)
	e := r.paths[path]
	if e == nil {
		e = new(entry)
		e.notAllowed = r.add(r.methodNotAllowed(e))
		r.paths[path] = e
	}

	if e.methods[m] != notFound {
		return fmt.Errorf("route already registered: %s %s", m, path)
	}

	e.methods[m] = r.add(handler)
	e.allow = allowString(e)

	return nil
}

func (r *Router) Get(path string, handler http.Handler) error {
	return r.Route(method.GET, path, handler)
}

func (r *Router) Post(path string, handler http.Handler) error {
	return r.Route(method.POST, path, handler)
}

// Handle implements http.Handler.
func (r *Router) Handle(c http.Client, event http.Event) error {
	if event.Step == http.StepRequestURI {
		c.SetRoute(r.match(c.Method(), event.URI))
	}

	route := c.Route()
	if route < 0 || route >= len(r.handlers) {
		route = notFound
	}

	return r.handlers[route](c, event)
}

func (r *Router) match(m method.Method, uri string) int {
	e, found := r.paths[stripTrailingSlash(uri)]
	if !found {
		return notFound
	}

	if route := e.methods[m]; route != notFound {
		return route
	}

	return e.notAllowed
}

func (r *Router) add(handler http.Handler) int {
	r.handlers = append(r.handlers, handler)
	return len(r.handlers) - 1
}

func (r *Router) methodNotAllowed(e *entry) http.Handler {
	respond := Error(status.MethodNotAllowed)

	return func(c http.Client, event http.Event) error {
		if event.Step == http.StepCreateHeader {
			return event.Header.Add("Allow", e.allow)
		}

		return respond(c, event)
	}
}

func allowString(e *entry) string {
	var allowed []string
	for m, route := range e.methods {
		if route != notFound {
			allowed = append(allowed, method.Method(m).String())
		}
	}

	return strings.Join(allowed, ",")
}

func stripTrailingSlash(path string) string {
	if len(path) > 1 && path[len(path)-1] == '/' {
		return path[:len(path)-1]
	}

	return path
}
