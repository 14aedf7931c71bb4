package publish

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/paho"
	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/google/uuid"
)

// MQTTPublisher publishes events as retained messages under
// <prefix>/<event>.
type MQTTPublisher struct {
	client *paho.Client
	prefix string
	logger kitlog.Logger
}

// DialMQTT connects to the broker at addr (host:port).
func DialMQTT(ctx context.Context, addr, prefix string, logger kitlog.Logger) (*MQTTPublisher, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial mqtt broker %s: %w", addr, err)
	}

	clientID := "home-env-monitor-" + uuid.NewString()

	client := paho.NewClient(paho.ClientConfig{
		Conn:     conn,
		ClientID: clientID,
		OnClientError: func(err error) {
			level.Error(logger).Log("msg", "mqtt client error", "err", err)
		},
	})

	if _, err := client.Connect(ctx, &paho.Connect{
		ClientID:   clientID,
		CleanStart: true,
		KeepAlive:  30,
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect mqtt broker %s: %w", addr, err)
	}

	return &MQTTPublisher{
		client: client,
		prefix: strings.TrimRight(prefix, "/"),
		logger: kitlog.With(logger, "module", "mqtt"),
	}, nil
}

// Topic returns the topic an event is published on.
func (p *MQTTPublisher) Topic(event string) string {
	if p.prefix == "" {
		return event
	}
	return p.prefix + "/" + event
}

// Publish sends payload as JSON with QoS 1.
func (p *MQTTPublisher) Publish(ctx context.Context, event string, payload any) error {
	b, err := encode(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	if _, err := p.client.Publish(ctx, &paho.Publish{
		Topic:   p.Topic(event),
		QoS:     1,
		Retain:  true,
		Payload: b,
	}); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", event, err)
	}

	level.Debug(p.logger).Log("msg", "published", "topic", p.Topic(event), "bytes", len(b))
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	done := make(chan error, 1)
	go func() { done <- p.client.Disconnect(&paho.Disconnect{ReasonCode: 0}) }()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt disconnect timed out")
	}
}
