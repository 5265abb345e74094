package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

const namespace = "heishamon"

// Close reasons, used as the "reason" label value.
const (
	ReasonDone      = "done"
	ReasonPeer      = "peer"
	ReasonIdle      = "idle"
	ReasonMalformed = "malformed"
	ReasonAbort     = "abort"
	ReasonFatal     = "fatal"
)

// Metrics is the set of the engine counters. Every instance owns its registry, so
// multiple servers (and tests) don't collide on the default one.
type Metrics struct {
	Registry  *prometheus.Registry
	Live      prometheus.Gauge
	Rejected  prometheus.Counter
	Requests  *prometheus.CounterVec
	Closes    *prometheus.CounterVec
	BytesSent prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		Live: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_connections_live",
			Help:      "Number of bound connection slots",
		}),
		Rejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_connections_rejected_total",
			Help:      "Connections refused because every slot was busy",
		}),
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of parsed request lines",
		}, []string{"method"}),
		Closes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_connections_closed_total",
			Help:      "Closed connections by the reason",
		}, []string{"reason"}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_sent_bytes_total",
			Help:      "Bytes handed over to the transport",
		}),
	}
}

// Collect registers additional collectors in the same registry, so they're exported
// along with the engine ones.
func (m *Metrics) Collect(cs ...prometheus.Collector) {
	m.Registry.MustRegister(cs...)
}

// WriteText renders all the gathered metric families in the text exposition format.
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.Registry.Gather()
	if err != nil {
		return err
	}

	for _, family := range families {
		if _, err = expfmt.MetricFamilyToText(w, family); err != nil {
			return err
		}
	}

	return nil
}

// WriteFamily renders only the i-th gathered metric family, so the exposition can be
// streamed piece by piece. It returns false once i is past the last family.
func (m *Metrics) WriteFamily(w io.Writer, i int) (bool, error) {
	families, err := m.Registry.Gather()
	if err != nil {
		return false, err
	}

	if i >= len(families) {
		return false, nil
	}

	_, err = expfmt.MetricFamilyToText(w, families[i])
	return true, err
}
