package s0

import (
	"context"
	"strconv"
	"time"

	"github.com/heishamon/webserver/http"
	"github.com/heishamon/webserver/http/mime"
	"github.com/heishamon/webserver/http/status"
	"github.com/indigo-web/utils/strcomp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Reading is a snapshot of a single port. Numbers are rendered as strings, this is what
// the existing dashboards expect.
type Reading struct {
	Port              int    `json:"S0 port,string"`
	Watt              uint32 `json:"Watt,string"`
	WatthourText      string `json:"Watthour"`
	WatthourTotalText string `json:"WatthourTotal"`
	PulseQuality      uint32 `json:"Pulse Quality,string"`

	Watthour      float64 `json:"-"`
	WatthourTotal float64 `json:"-"`
}

// Snapshot returns the current readings of all the ports.
func (m *Meter) Snapshot() []Reading {
	m.mu.Lock()
	defer m.mu.Unlock()

	readings := make([]Reading, len(m.ports))
	for i, p := range m.ports {
		ppkwh := float64(p.settings.PPKWh)
		r := Reading{
			Port:          i + 1,
			Watt:          p.watt,
			Watthour:      float64(p.pulses) * 1000 / ppkwh,
			WatthourTotal: float64(p.pulsesTotal) * 1000 / ppkwh,
			PulseQuality:  100 * (p.good + 1) / (p.good + p.bad + 1),
		}
		r.WatthourText = strconv.FormatFloat(r.Watthour, 'f', 2, 64)
		r.WatthourTotalText = strconv.FormatFloat(r.WatthourTotal, 'f', 2, 64)
		readings[i] = r
	}

	return readings
}

// JSON renders the snapshot as a JSON array.
func (m *Meter) JSON() ([]byte, error) {
	return json.Marshal(m.Snapshot())
}

// Table renders the snapshot as HTML table rows: port, watt, watthour, total watthour
// and pulse quality.
func (m *Meter) Table() []byte {
	const cell = "</td><td>"

	readings := m.Snapshot()
	buff := make([]byte, 0, len(readings)*tableRowSize)
	for _, r := range readings {
		buff = append(buff, "<tr><td>"...)
		buff = strconv.AppendInt(buff, int64(r.Port), 10)
		buff = append(buff, cell...)
		buff = strconv.AppendUint(buff, uint64(r.Watt), 10)
		buff = append(buff, cell...)
		buff = append(buff, r.WatthourText...)
		buff = append(buff, cell...)
		buff = append(buff, r.WatthourTotalText...)
		buff = append(buff, cell...)
		buff = strconv.AppendUint(buff, uint64(r.PulseQuality), 10)
		buff = append(buff, "% </td></tr>"...)
	}

	return buff
}

// tableRowSize fits a row with all the numbers being 10 digits long.
const tableRowSize = 128

// JSONHandler serves the snapshot as JSON. The body is rendered once the header block is
// out, so it's sent chunked.
func (m *Meter) JSONHandler() http.Handler {
	return func(c http.Client, event http.Event) error {
		switch event.Step {
		case http.StepSendHeader:
			return c.Send(status.OK, mime.JSON, 0)
		case http.StepRW:
			body, err := m.JSON()
			if err != nil {
				return err
			}

			return c.SendOwned(body)
		}

		return nil
	}
}

// TableHandler serves the snapshot as HTML table rows.
func (m *Meter) TableHandler() http.Handler {
	return func(c http.Client, event http.Event) error {
		switch event.Step {
		case http.StepSendHeader:
			return c.Send(status.OK, mime.HTML, 0)
		case http.StepRW:
			return c.SendOwned(m.Table())
		}

		return nil
	}
}

var accepted = []byte("ok")

// EdgeHandler injects level changes from the request arguments, e.g. low=1&high=1. It's
// meant for boards where the pins are sampled by another process.
func (m *Meter) EdgeHandler(now func() time.Time) http.Handler {
	return func(c http.Client, event http.Event) error {
		switch event.Step {
		case http.StepArgs:
			if event.Arg == nil {
				return nil
			}

			var high bool
			switch {
			case strcomp.EqualFold(event.Arg.Name, "low"):
			case strcomp.EqualFold(event.Arg.Name, "high"):
				high = true
			default:
				return nil
			}

			portNum, err := strconv.Atoi(event.Arg.Value)
			if err != nil {
				return status.ErrBadParams
			}

			m.Edge(portNum, high, now())
		case http.StepSendHeader:
			return c.Send(status.OK, mime.Plain, len(accepted))
		case http.StepRW:
			return c.SendStatic(accepted)
		}

		return nil
	}
}

// Run calls Tick every interval until the context is done. Publishing errors are logged
// and don't stop the loop.
func (m *Meter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := m.Tick(now); err != nil {
				m.logger.Warn("s0 report failed", zap.Error(err))
			}
		}
	}
}
