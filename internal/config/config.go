// Package config reads the runtime settings of a BusFlow instance from the
// environment, after loading an optional .env file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Config holds the process settings.
type Config struct {
	Port              string
	SimTick           time.Duration
	GPSTimeout        time.Duration // 0 disables the device watchdog
	JWTSecret         string
	JWTExpiry         time.Duration
	MQTTBrokerURL     string // empty disables the MQTT position source
	MQTTTopicPrefix   string
	SeedFile          string // empty uses the built-in demo fleet
	LogLevel          string
	LogFormat         string
	PositionRateLimit int // uploads per driver and minute, 0 disables
}

// Default returns the settings used when no variable is set.
func Default() Config {
	return Config{
		Port:              "8080",
		SimTick:           5 * time.Second,
		GPSTimeout:        15 * time.Second,
		JWTExpiry:         24 * time.Hour,
		MQTTTopicPrefix:   "busflow/devices",
		LogLevel:          "info",
		LogFormat:         "text",
		PositionRateLimit: 120,
	}
}

// Load reads .env when present and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, errors.Wrap(err, "load .env")
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, falling back to Default for unset
// keys.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	c := Default()
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("PORT"); ok {
		c.Port = v
	}
	if v, ok := get("SIM_TICK_SECONDS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, errors.Errorf("SIM_TICK_SECONDS must be a positive integer, got %q", v)
		}
		c.SimTick = time.Duration(n) * time.Second
	}
	if v, ok := get("GPS_TIMEOUT_SECONDS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, errors.Errorf("GPS_TIMEOUT_SECONDS must be a non-negative integer, got %q", v)
		}
		c.GPSTimeout = time.Duration(n) * time.Second
	}
	if v, ok := get("JWT_SECRET"); ok {
		c.JWTSecret = v
	}
	if v, ok := get("JWT_EXPIRY"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, errors.Wrap(err, "JWT_EXPIRY")
		}
		c.JWTExpiry = d
	}
	if v, ok := get("MQTT_BROKER_URL"); ok {
		c.MQTTBrokerURL = v
	}
	if v, ok := get("MQTT_TOPIC_PREFIX"); ok {
		c.MQTTTopicPrefix = strings.TrimSuffix(v, "/")
	}
	if v, ok := get("FLEET_SEED_FILE"); ok {
		c.SeedFile = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := get("LOG_FORMAT"); ok {
		c.LogFormat = strings.ToLower(v)
	}
	if v, ok := get("POSITION_RATE_LIMIT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, errors.Errorf("POSITION_RATE_LIMIT must be a non-negative integer, got %q", v)
		}
		c.PositionRateLimit = n
	}
	return c, nil
}

// ConfigureLogger applies the level and format to l.
func (c Config) ConfigureLogger(l *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return errors.Wrap(err, "LOG_LEVEL")
	}
	l.SetLevel(level)
	if c.LogFormat == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
