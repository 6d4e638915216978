// Package mqtt publishes samples and operator alerts to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"bioreactor-controller/internal/logger"
	"bioreactor-controller/internal/model"
)

// Config configures the publisher.
type Config struct {
	Broker      string // e.g. tcp://localhost:1883
	ClientID    string
	TopicPrefix string
}

// Publisher sends telemetry without ever blocking the caller on the network.
type Publisher struct {
	client paho.Client
	prefix string

	mu        sync.RWMutex
	connected bool
}

type alertPayload struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// New builds a publisher with auto-reconnect. Call Connect before use.
func New(cfg Config) *Publisher {
	p := &Publisher{prefix: cfg.TopicPrefix}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ paho.Client) {
		p.setConnected(true)
		logger.Info("MQTT connected to %s", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		p.setConnected(false)
		logger.Warn("MQTT connection lost: %v", err)
	})

	p.client = paho.NewClient(opts)
	return p
}

// Connect waits for the first connection or until ctx is done. The client
// keeps retrying in the background either way.
func (p *Publisher) Connect(ctx context.Context) error {
	token := p.client.Connect()
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// Record publishes s to <prefix>/telemetry.
func (p *Publisher) Record(s model.Sample) {
	p.publish("telemetry", s, false)
}

// Alert publishes msg to <prefix>/alerts.
func (p *Publisher) Alert(msg string) {
	p.publish("alerts", alertPayload{Timestamp: time.Now(), Message: msg}, false)
}

// PublishReadings publishes the full readings record, retained, to <prefix>/state.
func (p *Publisher) PublishReadings(r model.Readings) {
	p.publish("state", r, true)
}

// Topic returns the full topic for suffix.
func (p *Publisher) Topic(suffix string) string {
	return p.prefix + "/" + suffix
}

// Close disconnects, waiting briefly for in-flight messages.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
	p.setConnected(false)
	logger.Info("MQTT disconnected.")
}

func (p *Publisher) publish(suffix string, v interface{}, retained bool) {
	if !p.isConnected() {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("MQTT: failed to encode %s payload: %v", suffix, err)
		return
	}
	topic := p.Topic(suffix)
	token := p.client.Publish(topic, 0, retained, data)
	go func() {
		if token.Wait() && token.Error() != nil {
			logger.Warn("MQTT: publish to %s failed: %v", topic, token.Error())
		}
	}()
}

func (p *Publisher) isConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected && p.client.IsConnected()
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}
