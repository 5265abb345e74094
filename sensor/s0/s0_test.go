package s0

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/heishamon/webserver/config"
	"github.com/heishamon/webserver/http/status"
	"github.com/heishamon/webserver/internal/server/tcp/dummy"
	"github.com/heishamon/webserver/internal/transport/http1"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type published struct {
	topic, payload string
	retain         bool
}

type recorder struct {
	messages []published
	err      error
}

func (r *recorder) Publish(topic, payload string, retain bool) error {
	r.messages = append(r.messages, published{topic, payload, retain})
	return r.err
}

func (r *recorder) payloads() (payloads []string) {
	for _, msg := range r.messages {
		payloads = append(payloads, msg.topic+"="+msg.payload)
	}

	r.messages = nil

	return payloads
}

var start = time.Unix(1_000_000, 0)

func at(d time.Duration) time.Time {
	return start.Add(d)
}

func getMeter() (*Meter, *recorder) {
	pub := new(recorder)
	return New(config.Default(), pub, zap.NewNop(), start), pub
}

func pulse(m *Meter, port int, from time.Duration, width time.Duration) {
	m.Edge(port, false, at(from))
	m.Edge(port, true, at(from+width))
}

func TestMeter_Pulses(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		m, pub := getMeter()
		pulse(m, 1, time.Second, 50*time.Millisecond)
		require.NoError(t, m.Tick(at(1100*time.Millisecond)))
		pulse(m, 1, 2*time.Second, 50*time.Millisecond)
		require.NoError(t, m.Tick(at(2100*time.Millisecond)))
		require.Empty(t, pub.messages)

		r := m.Snapshot()[0]
		// a pulse per second at 1000 pulses per kWh
		require.Equal(t, uint32(3600), r.Watt)
		require.Equal(t, 2.0, r.Watthour)
		require.Equal(t, uint32(100), r.PulseQuality)
	})

	t.Run("noise", func(t *testing.T) {
		m, _ := getMeter()
		pulse(m, 1, time.Second, 10*time.Millisecond)
		require.NoError(t, m.Tick(at(2*time.Second)))
		pulse(m, 1, 3*time.Second, 300*time.Millisecond)
		require.NoError(t, m.Tick(at(4*time.Second)))

		r := m.Snapshot()[0]
		require.Zero(t, r.Watthour)
		require.Equal(t, uint32(33), r.PulseQuality)
	})

	t.Run("one pulse per tick", func(t *testing.T) {
		m, _ := getMeter()
		pulse(m, 2, time.Second, 30*time.Millisecond)
		pulse(m, 2, time.Second+100*time.Millisecond, 30*time.Millisecond)
		require.NoError(t, m.Tick(at(2*time.Second)))

		r := m.Snapshot()[1]
		require.Equal(t, 1.0, r.Watthour)
		require.Equal(t, uint32(100), r.PulseQuality)
	})

	t.Run("repeated levels", func(t *testing.T) {
		m, _ := getMeter()
		m.Edge(1, false, at(time.Second))
		m.Edge(1, false, at(2*time.Second))
		m.Edge(1, true, at(time.Second+50*time.Millisecond))
		require.NoError(t, m.Tick(at(3*time.Second)))
		require.Equal(t, 1.0, m.Snapshot()[0].Watthour)
	})

	t.Run("unknown port", func(t *testing.T) {
		m, _ := getMeter()
		pulse(m, 3, time.Second, 50*time.Millisecond)
		m.Restore(0, 100)
		require.NoError(t, m.Tick(at(2*time.Second)))
		require.Len(t, m.Snapshot(), 2)
	})
}

func TestMeter_Report(t *testing.T) {
	m, pub := getMeter()
	pulse(m, 1, time.Second, 50*time.Millisecond)
	require.NoError(t, m.Tick(at(1500*time.Millisecond)))
	pulse(m, 1, 2*time.Second, 50*time.Millisecond)
	require.NoError(t, m.Tick(at(3*time.Second)))
	require.NoError(t, m.Tick(at(5*time.Second)))
	require.Empty(t, pub.messages, "reported before the interval passed")

	require.NoError(t, m.Tick(at(6*time.Second)))
	require.Equal(t, []string{
		// no pulses for 4 seconds, so the power can't be higher than 900W
		"panasonic_heat_pump/s0/Watthour/1=2.00",
		"panasonic_heat_pump/s0/WatthourTotal/1=2.00",
		"panasonic_heat_pump/s0/Watt/1=900",
		"panasonic_heat_pump/s0/Watthour/2=0.00",
		"panasonic_heat_pump/s0/WatthourTotal/2=0.00",
		"panasonic_heat_pump/s0/Watt/2=0",
	}, pub.payloads())

	t.Run("pulses are reset", func(t *testing.T) {
		r := m.Snapshot()[0]
		require.Zero(t, r.Watthour)
		require.Equal(t, 2.0, r.WatthourTotal)
	})

	t.Run("retained", func(t *testing.T) {
		pulse(m, 1, 7*time.Second, 50*time.Millisecond)
		require.NoError(t, m.Tick(at(12*time.Second)))
		require.NotEmpty(t, pub.messages)
		for _, msg := range pub.messages {
			require.True(t, msg.retain)
		}
		pub.payloads()
	})

	t.Run("lower power back-off", func(t *testing.T) {
		// port 2 reported zero power, so it's quiet for the lower power interval
		require.NoError(t, m.Tick(at(30*time.Second)))
		for _, msg := range pub.messages {
			require.False(t, strings.HasSuffix(msg.topic, "/2"))
		}
		pub.payloads()

		// unless a pulse comes
		pulse(m, 2, 40*time.Second, 50*time.Millisecond)
		require.NoError(t, m.Tick(at(41*time.Second)))
		require.Contains(t, pub.payloads(), "panasonic_heat_pump/s0/Watthour/2=1.00")
	})
}

func TestMeter_ShortPulses(t *testing.T) {
	getShortMeter := func(ppkwh uint32) *Meter {
		cfg := config.Default()
		for i := range cfg.S0.Ports {
			cfg.S0.Ports[i].PPKWh = ppkwh
			cfg.S0.Ports[i].MinimalPulseWidth = 200 * time.Microsecond
		}

		return New(cfg, new(recorder), zap.NewNop(), start)
	}

	twoPulses := func(m *Meter) Reading {
		pulse(m, 1, time.Second, 300*time.Microsecond)
		require.NoError(t, m.Tick(at(time.Second+400*time.Microsecond)))
		pulse(m, 1, time.Second+500*time.Microsecond, 300*time.Microsecond)
		require.NoError(t, m.Tick(at(time.Second+900*time.Microsecond)))

		return m.Snapshot()[0]
	}

	t.Run("sub-millisecond interval", func(t *testing.T) {
		r := twoPulses(getShortMeter(1000))
		require.Equal(t, 2.0, r.Watthour)
		require.Equal(t, uint32(7_200_000), r.Watt)
	})

	t.Run("clamped", func(t *testing.T) {
		r := twoPulses(getShortMeter(1))
		require.Equal(t, uint32(math.MaxUint32), r.Watt)
	})
}

func TestMeter_PublishError(t *testing.T) {
	m, pub := getMeter()
	pub.err = errors.New("broker is gone")
	require.ErrorIs(t, m.Tick(at(6*time.Second)), pub.err)
}

func TestMeter_Restore(t *testing.T) {
	m, _ := getMeter()
	m.Restore(1, 1500)
	m.Restore(1, 100)
	m.Restore(2, 12.5)

	readings := m.Snapshot()
	require.Equal(t, 1500.0, readings[0].WatthourTotal)
	require.Equal(t, 12.0, readings[1].WatthourTotal)
}

func TestMeter_Render(t *testing.T) {
	m, _ := getMeter()
	m.Restore(2, 3)
	pulse(m, 1, time.Second, 50*time.Millisecond)
	require.NoError(t, m.Tick(at(2*time.Second)))

	t.Run("json", func(t *testing.T) {
		data, err := m.JSON()
		require.NoError(t, err)
		require.JSONEq(t, `[
			{"S0 port": "1", "Watt": "0", "Watthour": "1.00", "WatthourTotal": "0.00", "Pulse Quality": "100"},
			{"S0 port": "2", "Watt": "0", "Watthour": "0.00", "WatthourTotal": "3.00", "Pulse Quality": "100"}
		]`, string(data))
	})

	t.Run("table", func(t *testing.T) {
		require.Equal(t,
			"<tr><td>1</td><td>0</td><td>1.00</td><td>0.00</td><td>100% </td></tr>"+
				"<tr><td>2</td><td>0</td><td>0.00</td><td>3.00</td><td>100% </td></tr>",
			string(m.Table()),
		)
	})

	t.Run("handler", func(t *testing.T) {
		cfg := config.Default()
		conn := dummy.NewConn(cfg.NET.SendWindow)
		session := http1.NewSession(cfg, m.JSONHandler(), func(error) {})
		session.Reset(conn)
		require.NoError(t, session.Receive([]byte("GET /json HTTP/1.1\r\n\r\n")))
		conn.Ack()
		require.ErrorIs(t, session.Acknowledged(), status.ErrCloseConnection)

		response := string(conn.Data)
		require.Contains(t, response, "Content-Type: application/json\r\n")
		require.Contains(t, response, `"WatthourTotal":"3.00"`)
	})
}

func TestMeter_EdgeHandler(t *testing.T) {
	post := func(t *testing.T, m *Meter, body string, now time.Time) (string, error) {
		cfg := config.Default()
		conn := dummy.NewConn(cfg.NET.SendWindow)
		handler := m.EdgeHandler(func() time.Time { return now })
		session := http1.NewSession(cfg, handler, func(error) {})
		session.Reset(conn)
		raw := "POST /s0/edge HTTP/1.1\r\nContent-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body
		if err := session.Receive([]byte(raw)); err != nil {
			return string(conn.Data), err
		}

		conn.Ack()
		return string(conn.Data), session.Acknowledged()
	}

	t.Run("pulse", func(t *testing.T) {
		m, _ := getMeter()
		response, err := post(t, m, "low=1", at(time.Second))
		require.ErrorIs(t, err, status.ErrCloseConnection)
		require.True(t, strings.HasSuffix(response, "\r\n\r\nok"), response)

		_, err = post(t, m, "HIGH=1", at(time.Second+50*time.Millisecond))
		require.ErrorIs(t, err, status.ErrCloseConnection)
		require.NoError(t, m.Tick(at(2*time.Second)))
		require.Equal(t, "1.00", m.Snapshot()[0].WatthourText)
	})

	t.Run("bad port", func(t *testing.T) {
		m, _ := getMeter()
		_, err := post(t, m, "low=x", at(time.Second))
		require.ErrorIs(t, err, status.ErrBadParams)
	})
}
