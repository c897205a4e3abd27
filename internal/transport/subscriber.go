package transport

import (
	"context"
	"log/slog"
	"sync/atomic"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MessageHandler is invoked for each detection payload received from any
// scanner. Handlers run on paho's delivery goroutines and must not block
// on one another.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Subscriber consumes all scanners' traffic on the wildcard topic. The
// subscription is re-established on every reconnect.
type Subscriber struct {
	client    mqtt.Client
	logger    *slog.Logger
	handler   MessageHandler
	connected atomic.Bool
}

// NewSubscriber builds the backend-side consumer for an external broker.
func NewSubscriber(o Options, logger *slog.Logger, handler MessageHandler) *Subscriber {
	s := &Subscriber{logger: logger, handler: handler}

	opts := newClientOptions(o, logger)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.connected.Store(false)
		logger.Warn("mqtt connection lost", "broker", o.BrokerURL, "error", err)
	})
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		s.connected.Store(true)
		logger.Info("mqtt connected, subscribing", "broker", o.BrokerURL, "topic", WildcardTopic)

		token := client.Subscribe(WildcardTopic, QoSAtLeastOnce, func(_ mqtt.Client, msg mqtt.Message) {
			s.handler(context.Background(), msg.Topic(), msg.Payload())
		})
		if token.WaitTimeout(connectTimeout) && token.Error() != nil {
			logger.Error("mqtt subscribe failed", "topic", WildcardTopic, "error", token.Error())
		}
	})

	s.client = mqtt.NewClient(opts)
	return s
}

// Start begins connecting in the background. Broker unavailability is not
// fatal; the client keeps retrying until Stop is called.
func (s *Subscriber) Start() {
	s.client.Connect()
}

// Connected reports whether the broker connection is currently open.
func (s *Subscriber) Connected() bool {
	return s.connected.Load() && s.client.IsConnectionOpen()
}

// Stop disconnects from the broker.
func (s *Subscriber) Stop() {
	s.client.Disconnect(250)
}
