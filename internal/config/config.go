/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// RelayDriver selects how channel levels reach the hardware.
type RelayDriver string

const (
	RelayDriverLog  RelayDriver = "log"
	RelayDriverGPIO RelayDriver = "gpio"
	RelayDriverMQTT RelayDriver = "mqtt"
)

// PinNumbering selects how configured channels map to GPIO lines.
type PinNumbering string

const (
	PinNumberingBoard PinNumbering = "board"
	PinNumberingBCM   PinNumbering = "bcm"
)

// DefaultChannels matches the eight-relay board header pins.
const DefaultChannels = "11,12,13,15,16,18,22,24"

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment  string
	HTTPBind     string
	HTTPPort     int
	DBBackend    DatabaseBackend
	DBDSN        string
	TickInterval time.Duration
	MetricsBind  string

	// Relay hardware
	Channels     []int
	PinNumbering PinNumbering
	ActiveHigh   bool // true energizes a valve with a high level; most relay boards are active-low
	RelayDriver  RelayDriver

	// MQTT relay board
	MQTTBroker      string
	MQTTClientID    string
	MQTTTopicPrefix string
	MQTTUsername    string
	MQTTPassword    string

	// API auth
	JWTSigningKey     string
	AdminPasswordHash string
	TokenTTL          time.Duration
	ManualRatePerSec  float64
	ManualRateBurst   int

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	LeaderElectionEnabled bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	InstanceID            string

	// Event fan-out
	NATSURL string

	// Activation history
	HistoryRetention time.Duration
	HistoryPruneCron string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:  getEnvAny([]string{"WATERINGD_ENV"}, "development"),
		HTTPBind:     getEnvAny([]string{"WATERINGD_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:     getEnvIntAny([]string{"WATERINGD_HTTP_PORT"}, 8080),
		DBBackend:    DatabaseBackend(getEnvAny([]string{"WATERINGD_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:        getEnvAny([]string{"WATERINGD_DB_DSN"}, "file:watering_system.db?_foreign_keys=on"),
		TickInterval: time.Duration(getEnvIntAny([]string{"WATERINGD_TICK_MS"}, 1000)) * time.Millisecond,
		MetricsBind:  getEnvAny([]string{"WATERINGD_METRICS_BIND"}, ""),

		PinNumbering: PinNumbering(strings.ToLower(getEnvAny([]string{"WATERINGD_PIN_NUMBERING"}, string(PinNumberingBoard)))),
		ActiveHigh:   getEnvBoolAny([]string{"WATERINGD_ACTIVE_HIGH", "WATERING_WHEN_GPIO_HIGH"}, false),
		RelayDriver:  RelayDriver(strings.ToLower(getEnvAny([]string{"WATERINGD_RELAY_DRIVER"}, string(RelayDriverLog)))),

		MQTTBroker:      getEnvAny([]string{"WATERINGD_MQTT_BROKER"}, ""),
		MQTTClientID:    getEnvAny([]string{"WATERINGD_MQTT_CLIENT_ID"}, "wateringd"),
		MQTTTopicPrefix: strings.TrimSuffix(getEnvAny([]string{"WATERINGD_MQTT_TOPIC_PREFIX"}, "wateringd/relay"), "/"),
		MQTTUsername:    getEnvAny([]string{"WATERINGD_MQTT_USERNAME"}, ""),
		MQTTPassword:    getEnvAny([]string{"WATERINGD_MQTT_PASSWORD"}, ""),

		JWTSigningKey:     getEnvAny([]string{"WATERINGD_JWT_SIGNING_KEY"}, ""),
		AdminPasswordHash: getEnvAny([]string{"WATERINGD_ADMIN_PASSWORD_HASH"}, ""),
		TokenTTL:          time.Duration(getEnvIntAny([]string{"WATERINGD_TOKEN_TTL_HOURS"}, 24*7)) * time.Hour,
		ManualRatePerSec:  getEnvFloatAny([]string{"WATERINGD_MANUAL_RATE_PER_SEC"}, 2),
		ManualRateBurst:   getEnvIntAny([]string{"WATERINGD_MANUAL_RATE_BURST"}, 4),

		TracingEnabled:    getEnvBoolAny([]string{"WATERINGD_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"WATERINGD_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"WATERINGD_TRACING_SAMPLE_RATE"}, 1.0),

		LeaderElectionEnabled: getEnvBoolAny([]string{"WATERINGD_LEADER_ELECTION_ENABLED"}, false),
		RedisAddr:             getEnvAny([]string{"WATERINGD_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:         getEnvAny([]string{"WATERINGD_REDIS_PASSWORD"}, ""),
		RedisDB:               getEnvIntAny([]string{"WATERINGD_REDIS_DB"}, 0),
		InstanceID:            getEnvAny([]string{"WATERINGD_INSTANCE_ID"}, ""),

		NATSURL: getEnvAny([]string{"WATERINGD_NATS_URL"}, ""),

		HistoryRetention: time.Duration(getEnvIntAny([]string{"WATERINGD_HISTORY_RETENTION_DAYS"}, 90)) * 24 * time.Hour,
		HistoryPruneCron: getEnvAny([]string{"WATERINGD_HISTORY_PRUNE_CRON"}, "15 3 * * *"),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("WATERINGD_DB_DSN must be provided")
	}

	if cfg.TickInterval <= 0 {
		return nil, fmt.Errorf("WATERINGD_TICK_MS must be positive")
	}

	channels, err := ParseChannels(getEnvAny([]string{"WATERINGD_CHANNELS", "WATERING_PINLIST"}, DefaultChannels))
	if err != nil {
		return nil, err
	}
	cfg.Channels = channels

	if cfg.PinNumbering != PinNumberingBoard && cfg.PinNumbering != PinNumberingBCM {
		return nil, fmt.Errorf("unsupported pin numbering %q", cfg.PinNumbering)
	}

	switch cfg.RelayDriver {
	case RelayDriverLog, RelayDriverGPIO:
	case RelayDriverMQTT:
		if cfg.MQTTBroker == "" {
			return nil, fmt.Errorf("WATERINGD_MQTT_BROKER is required when the mqtt relay driver is selected")
		}
	default:
		return nil, fmt.Errorf("unsupported relay driver %q", cfg.RelayDriver)
	}

	if strings.EqualFold(cfg.Environment, "production") && cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("WATERINGD_JWT_SIGNING_KEY must be provided in production")
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

// ParseChannels parses a comma separated list of positive, unique channel numbers.
// The result is sorted ascending.
func ParseChannels(raw string) ([]int, error) {
	seen := make(map[int]struct{})
	var channels []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ch, err := strconv.Atoi(part)
		if err != nil || ch <= 0 {
			return nil, fmt.Errorf("invalid channel %q", part)
		}
		if _, dup := seen[ch]; dup {
			return nil, fmt.Errorf("channel %d listed twice", ch)
		}
		seen[ch] = struct{}{}
		channels = append(channels, ch)
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("at least one channel must be configured")
	}
	sort.Ints(channels)
	return channels, nil
}

// AuthEnabled reports whether mutating API routes require a bearer token.
func (c *Config) AuthEnabled() bool {
	return c != nil && c.JWTSigningKey != ""
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"WATERING_WHEN_GPIO_HIGH": "use WATERINGD_ACTIVE_HIGH",
		"WATERING_PINLIST":        "use WATERINGD_CHANNELS",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	sort.Strings(warnings)
	return warnings
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
