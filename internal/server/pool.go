package server

import (
	"time"

	"github.com/heishamon/webserver/config"
	"github.com/heishamon/webserver/http"
	"github.com/heishamon/webserver/http/status"
	"github.com/heishamon/webserver/internal/transport/http1"
	"github.com/prometheus/client_golang/prometheus"
)

// pool is a fixed array of connection slots. Its size is the upper bound of simultaneously
// served connections.
type pool struct {
	slots []slot
	live  int
}

func newPool(cfg *config.Config, handler http.Handler, fatal func(error), sent prometheus.Counter) *pool {
	slots := make([]slot, cfg.HTTP.MaxClients)
	for i := range slots {
		slots[i].index = i
		slots[i].session = http1.NewSession(cfg, handler, fatal)
		slots[i].meter.sent = sent
	}

	return &pool{slots: slots}
}

// Acquire binds the connection to the first free slot.
func (p *pool) Acquire(conn Conn, now time.Time) (*slot, error) {
	for i := range p.slots {
		if sl := &p.slots[i]; sl.free() {
			sl.bind(conn, now)
			p.live++
			return sl, nil
		}
	}

	return nil, status.ErrPoolExhausted
}

// Release closes the connection and frees its slot. Releasing a free slot is a no-op.
func (p *pool) Release(sl *slot) {
	if sl.free() {
		return
	}

	sl.unbind()
	p.live--
}

// Lookup returns the slot the connection is bound to, or nil.
func (p *pool) Lookup(conn Conn) *slot {
	for i := range p.slots {
		if sl := &p.slots[i]; !sl.free() && sl.meter.Conn == conn {
			return sl
		}
	}

	return nil
}

func (p *pool) Live() int {
	return p.live
}

// each calls fn for every bound slot. fn is allowed to release the slot.
func (p *pool) each(fn func(*slot)) {
	for i := range p.slots {
		if sl := &p.slots[i]; !sl.free() {
			fn(sl)
		}
	}
}
