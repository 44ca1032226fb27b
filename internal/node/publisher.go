// v2
// internal/node/publisher.go
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"homemon/internal/reading"
)

// Publisher pushes readings to an external sink.
type Publisher interface {
	Publish(ctx context.Context, r reading.Reading) error
	Close()
}

// MQTTPublisher publishes wire-format readings as retained messages, so a
// subscriber that connects late still sees the latest value.
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
	log    *slog.Logger
}

const mqttConnectTimeout = 10 * time.Second

func NewMQTTPublisher(broker, clientID, topic string, log *slog.Logger) (*MQTTPublisher, error) {
	log = log.With("component", "mqtt")
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttConnectTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn("mqtt_connection_lost", slog.Any("err", err))
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			log.Info("mqtt_connected", slog.String("broker", broker))
		})
	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, err)
	}
	return &MQTTPublisher{client: c, topic: topic, log: log}, nil
}

func (p *MQTTPublisher) Publish(ctx context.Context, r reading.Reading) error {
	payload, err := reading.MarshalWire(r)
	if err != nil {
		return err
	}
	token := p.client.Publish(p.topic, 1, true, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt publish: %w", err)
		}
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("mqtt publish not acknowledged"), ctx.Err())
	}
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}

// Dialer opens a publisher connection.
type Dialer func() (Publisher, error)

// RedialPublisher connects lazily. A failed connect is retried on the next
// Publish, so a broker that is down at boot is picked up once it comes up.
type RedialPublisher struct {
	dial Dialer
	log  *slog.Logger

	mu  sync.Mutex
	pub Publisher
}

func NewRedialPublisher(dial Dialer, log *slog.Logger) *RedialPublisher {
	return &RedialPublisher{dial: dial, log: log.With("component", "mqtt")}
}

// Connect dials unless already connected.
func (p *RedialPublisher) Connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectLocked()
}

func (p *RedialPublisher) connectLocked() error {
	if p.pub != nil {
		return nil
	}
	pub, err := p.dial()
	if err != nil {
		return err
	}
	p.pub = pub
	return nil
}

func (p *RedialPublisher) Publish(ctx context.Context, r reading.Reading) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pub == nil {
		if err := p.connectLocked(); err != nil {
			return err
		}
		p.log.Info("mqtt_publisher_connected")
	}
	return p.pub.Publish(ctx, r)
}

func (p *RedialPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pub != nil {
		p.pub.Close()
		p.pub = nil
	}
}
