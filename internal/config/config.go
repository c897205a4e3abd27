package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config lists the tunable parameters for the presence server.
type Config struct {
	HTTPPort        int
	MQTTBrokerURL   string // external broker; empty means embed the broker
	MQTTBindAddress string // bind address for the embedded broker
	MQTTUsername    string
	MQTTPassword    string
	DatabasePath    string
	LogLevel        string
	MDNSEnabled     bool
}

const (
	defaultHTTPPort        = 8080
	defaultMQTTBindAddress = ":1883"
	defaultDatabasePath    = "data/campusnav.db"
	defaultLogLevel        = "info"
)

// Load derives configuration values from the environment, falling back to
// defaults. A .env file in the working directory is read first if present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPPort:        defaultHTTPPort,
		MQTTBindAddress: defaultMQTTBindAddress,
		DatabasePath:    defaultDatabasePath,
		LogLevel:        defaultLogLevel,
		MDNSEnabled:     true,
	}

	if v := os.Getenv("CAMPUSNAV_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid CAMPUSNAV_HTTP_PORT: %w", err)
		}
		cfg.HTTPPort = port
	}

	if v := os.Getenv("CAMPUSNAV_MQTT_BROKER_URL"); v != "" {
		cfg.MQTTBrokerURL = v
	}

	if v := os.Getenv("CAMPUSNAV_MQTT_BIND"); v != "" {
		cfg.MQTTBindAddress = v
	}

	cfg.MQTTUsername = os.Getenv("CAMPUSNAV_MQTT_USERNAME")
	cfg.MQTTPassword = os.Getenv("CAMPUSNAV_MQTT_PASSWORD")

	if v := os.Getenv("CAMPUSNAV_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}

	if v := os.Getenv("CAMPUSNAV_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if v := os.Getenv("CAMPUSNAV_MDNS_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid CAMPUSNAV_MDNS_ENABLED: %w", err)
		}
		cfg.MDNSEnabled = enabled
	}

	return cfg, nil
}
