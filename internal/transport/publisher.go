package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"campusnav/presence-server/internal/model"
)

// Publisher sends detections from one scanner to the broker. Publishing
// while disconnected fails immediately; the scanner's bounded retry and
// cycle-discard policy handles the rest. Reconnection runs in the
// background indefinitely and never blocks the scan loop.
type Publisher struct {
	client mqtt.Client
	logger *slog.Logger
}

// NewPublisher connects to the broker in the background and returns
// immediately; the first publishes may fail until the connection is up.
func NewPublisher(o Options, logger *slog.Logger) *Publisher {
	opts := newClientOptions(o, logger)
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("mqtt connected", "broker", o.BrokerURL)
	})

	client := mqtt.NewClient(opts)
	client.Connect()

	return &Publisher{client: client, logger: logger}
}

// Publish sends one detection to the scanner's topic at QoS 1.
func (p *Publisher) Publish(ctx context.Context, d model.Detection) error {
	if !p.client.IsConnectionOpen() {
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode detection: %w", err)
	}

	token := p.client.Publish(ScannerTopic(d.ScannerID), QoSAtLeastOnce, false, payload)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return fmt.Errorf("publish timed out")
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
	}

	return nil
}

// Connected reports whether the broker connection is currently open.
func (p *Publisher) Connected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
