package router

import (
	"bytes"
	"strconv"

	"github.com/heishamon/webserver/http"
	"github.com/heishamon/webserver/http/mime"
	"github.com/heishamon/webserver/http/status"
	"github.com/heishamon/webserver/internal/metrics"
)

// Static responds with the same body every time. The body is never copied.
func Static(code status.Code, mimetype mime.MIME, body []byte) http.Handler {
	return func(c http.Client, event http.Event) error {
		switch event.Step {
		case http.StepSendHeader:
			return c.Send(code, mimetype, len(body))
		case http.StepRW:
			return c.SendStatic(body)
		}

		return nil
	}
}

// Error responds with the code and its status text.
func Error(code status.Code) http.Handler {
	body := strconv.Itoa(int(code)) + " " + string(status.Text(code))
	return Static(code, mime.Plain, []byte(body))
}

// Metrics streams the text exposition, one metric family per drain of the send queue.
func Metrics(m *metrics.Metrics) http.Handler {
	return func(c http.Client, event http.Event) error {
		switch event.Step {
		case http.StepSendHeader:
			return c.Send(status.OK, mime.Prometheus, 0)
		case http.StepRW, http.StepSending:
			var buff bytes.Buffer
			ok, err := m.WriteFamily(&buff, c.Content())
			if err != nil || !ok {
				return err
			}

			return c.SendOwned(buff.Bytes())
		}

		return nil
	}
}
