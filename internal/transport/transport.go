// Package transport carries detections from room scanners to the backend
// over MQTT at QoS 1. Each scanner publishes to its own topic; the backend
// subscribes to the wildcard covering all scanners.
package transport

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	// TopicPrefix roots all scanner detection topics.
	TopicPrefix = "campusnav/scanner/"
	// WildcardTopic matches every scanner's detection topic.
	WildcardTopic = TopicPrefix + "+"

	// QoSAtLeastOnce is the delivery guarantee for detections.
	QoSAtLeastOnce = 1

	connectTimeout       = 10 * time.Second
	publishTimeout       = 5 * time.Second
	maxReconnectInterval = 30 * time.Second
)

// ScannerTopic returns the per-scanner detection topic.
func ScannerTopic(scannerID string) string {
	return TopicPrefix + scannerID
}

// Options configures a connection to the MQTT broker.
type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
}

func newClientOptions(o Options, logger *slog.Logger) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(o.BrokerURL).
		SetClientID(fmt.Sprintf("%s-%s", o.ClientID, uuid.New().String()[:8])).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(maxReconnectInterval).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(true).
		SetOrderMatters(false)

	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	if strings.HasPrefix(o.BrokerURL, "ssl://") || strings.HasPrefix(o.BrokerURL, "tls://") {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "broker", o.BrokerURL, "error", err)
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		logger.Info("mqtt reconnecting", "broker", o.BrokerURL)
	})

	return opts
}
