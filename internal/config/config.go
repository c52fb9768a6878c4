package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

// MemoryBrokerURL selects the in-process bus instead of an MQTT broker.
const MemoryBrokerURL = "memory://"

type Config struct {
	Port                   int           `env:"PORT" envDefault:"8080"`
	DatabaseURL            string        `env:"DATABASE_URL,required"`
	RedisURL               string        `env:"REDIS_URL,required"`
	BotToken               string        `env:"BOT_TOKEN,required"`
	BotUsername            string        `env:"BOT_USERNAME" envDefault:""`
	MQTTBrokerURL          string        `env:"MQTT_BROKER_URL" envDefault:"mqtt://mosquitto:1883"`
	MQTTClientID           string        `env:"MQTT_CLIENT_ID" envDefault:"telegram-bot"`
	BusReconnectInterval   time.Duration `env:"BUS_RECONNECT_INTERVAL" envDefault:"5s"`
	PairingTimeout         time.Duration `env:"PAIRING_TIMEOUT" envDefault:"30s"`
	PairingRateLimitPerMin int           `env:"PAIRING_RATE_LIMIT_PER_MIN" envDefault:"5"`
	SessionTTL             time.Duration `env:"SESSION_TTL" envDefault:"30m"`
	APIToken               string        `env:"API_TOKEN"`
	APIRateLimitPerMin     int           `env:"API_RATE_LIMIT_PER_MIN" envDefault:"60"`
	LogLevel               string        `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// UsesMemoryBus reports whether the bus runs in-process.
func (c *Config) UsesMemoryBus() bool {
	return strings.HasPrefix(c.MQTTBrokerURL, MemoryBrokerURL)
}

func (c *Config) Validate() error {
	if c.BusReconnectInterval <= 0 {
		return fmt.Errorf("BUS_RECONNECT_INTERVAL must be positive")
	}
	if c.PairingTimeout <= 0 {
		return fmt.Errorf("PAIRING_TIMEOUT must be positive")
	}
	if c.PairingTimeout > MaxPairingTimeout {
		return fmt.Errorf("PAIRING_TIMEOUT must not exceed %s", MaxPairingTimeout)
	}
	if c.PairingRateLimitPerMin <= 0 {
		return fmt.Errorf("PAIRING_RATE_LIMIT_PER_MIN must be positive")
	}
	if c.APIRateLimitPerMin <= 0 {
		return fmt.Errorf("API_RATE_LIMIT_PER_MIN must be positive")
	}
	if c.SessionTTL < c.PairingTimeout {
		return fmt.Errorf("SESSION_TTL must be at least PAIRING_TIMEOUT")
	}

	if c.APIToken == "" {
		log.Warn().Msg("API_TOKEN is empty: HTTP device API disabled")
	}
	if c.BotUsername == "" {
		log.Warn().Msg("BOT_USERNAME is empty: QR labels cannot carry a deep link")
	}
	if c.UsesMemoryBus() {
		log.Warn().Msg("MQTT_BROKER_URL selects the in-process bus: no physical device will answer")
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
