// Package s0 counts pulses of S0 electricity meters and converts them into power and
// energy readings, which are published periodically and served over HTTP.
package s0

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/heishamon/webserver/config"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Publisher delivers readings to the outside world.
type Publisher interface {
	Publish(topic, payload string, retain bool) error
}

type port struct {
	settings config.S0Port
	// high is left before low by a reset, so the next pulse must start with a falling edge
	low, high  time.Time
	level      bool
	lastPulse  time.Time
	nextReport time.Time
	watt       uint32
	// pulses is the number of pulses since the last report
	pulses      uint32
	pulsesTotal uint32
	good, bad   uint32
}

type message struct {
	topic, payload string
}

// Meter tracks the state of all the S0 ports. Edges are recorded from any goroutine,
// the rest of the processing is done by Tick.
type Meter struct {
	mu        sync.Mutex
	ports     []port
	minReport time.Duration
	baseTopic string
	publisher Publisher
	logger    *zap.Logger

	pulses *prometheus.CounterVec
	watts  *prometheus.GaugeVec
}

func New(cfg *config.Config, publisher Publisher, logger *zap.Logger, now time.Time) *Meter {
	ports := make([]port, len(cfg.S0.Ports))
	for i, settings := range cfg.S0.Ports {
		ports[i] = port{
			settings: settings,
			level:    true,
			// the first report comes after the interval, not right at the start
			nextReport: now.Add(cfg.S0.ReportInterval),
		}
	}

	return &Meter{
		ports:     ports,
		minReport: cfg.S0.ReportInterval,
		baseTopic: cfg.MQTT.BaseTopic,
		publisher: publisher,
		logger:    logger,
		pulses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heishamon_s0_pulses_total",
			Help: "Detected S0 pulses by their validity",
		}, []string{"port", "quality"}),
		watts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "heishamon_s0_watts",
			Help: "Last reported power",
		}, []string{"port"}),
	}
}

// Collectors returns the metrics of the meter, which are to be registered.
func (m *Meter) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.pulses, m.watts}
}

// Edge records a level change of the port's input. The input is pulled up, so a pulse
// is a low level between a falling and a rising edge. Repeated levels are ignored.
func (m *Meter) Edge(portNum int, high bool, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.port(portNum)
	if p == nil || p.level == high {
		return
	}

	p.level = high
	if high {
		p.high = at
	} else {
		p.low = at
	}
}

// Restore raises the total counter of the port up to the given energy, usually the last
// known value received back from the broker after a restart.
func (m *Meter) Restore(portNum int, watthour float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.port(portNum)
	if p == nil {
		return
	}

	if total := uint32(watthour * float64(p.settings.PPKWh) / 1000); total > p.pulsesTotal {
		p.pulsesTotal = total
	}
}

// Tick validates the recorded pulses and publishes the readings of the ports whose
// report is due.
func (m *Meter) Tick(now time.Time) error {
	m.mu.Lock()
	var messages []message
	for i := range m.ports {
		m.detect(i, now)
		if now.After(m.ports[i].nextReport) {
			messages = append(messages, m.report(i, now)...)
		}
	}
	m.mu.Unlock()

	for _, msg := range messages {
		if err := m.publisher.Publish(msg.topic, msg.payload, true); err != nil {
			return fmt.Errorf("s0: %w", err)
		}
	}

	return nil
}

func (m *Meter) detect(i int, now time.Time) {
	p := &m.ports[i]
	if !p.high.After(p.low) {
		return
	}

	portLabel := strconv.Itoa(i + 1)
	width := p.high.Sub(p.low)
	minWidth := p.settings.MinimalPulseWidth

	switch {
	case width <= minWidth || width >= 10*minWidth:
		p.bad++
		m.pulses.WithLabelValues(portLabel, "bad").Inc()
		m.logger.Debug("s0 noise detected", zap.Int("port", i+1), zap.Duration("width", width))
	case p.lastPulse.IsZero() || p.low.Sub(p.lastPulse) > minWidth:
		p.good++
		m.pulses.WithLabelValues(portLabel, "good").Inc()
		// the very first pulse can't tell the power, which would be overrated otherwise
		if !p.lastPulse.IsZero() {
			p.watt = watts(p.low.Sub(p.lastPulse), float64(p.settings.PPKWh))
		}

		p.lastPulse = p.low
		p.pulses++
		if p.nextReport.Sub(now) > m.minReport {
			// waiting out the lower power interval, report the change right away
			p.nextReport = time.Time{}
		}
	default:
		p.bad++
		m.pulses.WithLabelValues(portLabel, "bad").Inc()
		m.logger.Debug("s0 pulse too early", zap.Int("port", i+1), zap.Duration("width", width))
	}

	p.high = p.low
}

func (m *Meter) report(i int, now time.Time) []message {
	p := &m.ports[i]
	ppkwh := float64(p.settings.PPKWh)

	maxWatt := uint32(0)
	if !p.lastPulse.IsZero() {
		// the power can't be higher than if a pulse came right now
		maxWatt = watts(now.Sub(p.lastPulse), ppkwh)
	}

	lowest := 3600000 / ppkwh / p.settings.LowerPowerInterval.Seconds()
	if float64(p.watt) < lowest {
		p.nextReport = now.Add(p.settings.LowerPowerInterval)
		if p.watt/2 > maxWatt {
			p.watt = maxWatt / 2
		}
	} else {
		p.nextReport = now.Add(m.minReport)
		p.watt = min(p.watt, maxWatt)
	}

	watthour := float64(p.pulses) * 1000 / ppkwh
	p.pulsesTotal += p.pulses
	p.pulses = 0
	total := float64(p.pulsesTotal) * 1000 / ppkwh

	portLabel := strconv.Itoa(i + 1)
	m.watts.WithLabelValues(portLabel).Set(float64(p.watt))
	m.logger.Info("s0 report",
		zap.Int("port", i+1),
		zap.Float64("watthour", watthour),
		zap.Float64("watthour_total", total),
		zap.Uint32("watt", p.watt),
	)

	return []message{
		{m.topic("Watthour", i), strconv.FormatFloat(watthour, 'f', 2, 64)},
		{m.topic("WatthourTotal", i), strconv.FormatFloat(total, 'f', 2, 64)},
		{m.topic("Watt", i), strconv.FormatUint(uint64(p.watt), 10)},
	}
}

// watts returns the power a single pulse per interval stands for. Intervals shorter than
// a microsecond can't tell anything and give zero.
func watts(interval time.Duration, ppkwh float64) uint32 {
	us := interval.Microseconds()
	if us <= 0 {
		return 0
	}

	return uint32(min(3600000000000/float64(us)/ppkwh, math.MaxUint32))
}

func (m *Meter) topic(metric string, i int) string {
	return m.baseTopic + "/s0/" + metric + "/" + strconv.Itoa(i+1)
}

// port returns the port by its 1-based number.
func (m *Meter) port(num int) *port {
	if num < 1 || num > len(m.ports) {
		return nil
	}

	return &m.ports[num-1]
}

// Discard is the publisher used when there is no broker configured.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(string, string, bool) error {
	return nil
}
