package mqtt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/heishamon/webserver/config"
	"go.uber.org/zap"
)

var ErrTimeout = errors.New("mqtt: timed out")

// Publisher publishes S0 readings to an MQTT broker.
type Publisher struct {
	client  paho.Client
	timeout time.Duration
	logger  *zap.Logger
}

func New(client paho.Client, timeout time.Duration, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:  client,
		timeout: timeout,
		logger:  logger,
	}
}

// Connect connects to the broker. The connection is restored automatically if lost later.
func Connect(cfg config.MQTT, logger *zap.Logger) (*Publisher, error) {
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetConnectTimeout(cfg.Timeout).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(paho.Client) {
			logger.Info("mqtt connected", zap.String("broker", cfg.Broker))
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("mqtt connection lost", zap.Error(err))
		})

	client := paho.NewClient(opts)
	if err := wait(client.Connect(), cfg.Timeout); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, err)
	}

	return New(client, cfg.Timeout, logger), nil
}

func (p *Publisher) Publish(topic, payload string, retain bool) error {
	if err := wait(p.client.Publish(topic, 0, retain, payload), p.timeout); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	return nil
}

// Restorer takes back the last known energy total of a port.
type Restorer interface {
	Restore(port int, watthour float64)
}

// RestoreTotals subscribes to the S0 totals. They are published retained, so the broker
// hands the last known ones back right away, which brings the counters back after
// a restart. Restorer must tolerate being called from another goroutine.
func (p *Publisher) RestoreTotals(baseTopic string, r Restorer) error {
	filter := baseTopic + "/s0/WatthourTotal/+"
	token := p.client.Subscribe(filter, 0, func(_ paho.Client, msg paho.Message) {
		portNum, watthour, err := parseTotal(msg.Topic(), msg.Payload())
		if err != nil {
			p.logger.Warn("ignoring s0 total", zap.String("topic", msg.Topic()), zap.Error(err))
			return
		}

		r.Restore(portNum, watthour)
	})

	if err := wait(token, p.timeout); err != nil {
		return fmt.Errorf("subscribe %s: %w", filter, err)
	}

	return nil
}

// parseTotal takes the port number from the last topic level and the energy from the payload.
func parseTotal(topic string, payload []byte) (int, float64, error) {
	portNum, err := strconv.Atoi(topic[strings.LastIndexByte(topic, '/')+1:])
	if err != nil {
		return 0, 0, err
	}

	watthour, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil {
		return 0, 0, err
	}

	return portNum, watthour, nil
}

// Close disconnects, giving the pending publishes a quarter of a second to complete.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

func wait(token paho.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return ErrTimeout
	}

	return token.Error()
}
