// Package config holds the server configuration: flag values with
// environment fallback (SED_* variables), resolved once at startup.
package config

import (
	"fmt"
	"os"
	"strings"
)

// Defaults for the server subcommand flags.
const (
	DefaultBind          = "localhost:8081"
	DefaultBrokers       = "localhost:9092"
	DefaultTopic         = "sed-instance-1"
	DefaultGroup         = "sed"
	DefaultCouchbaseHost = "couchbase.db"
	DefaultLogLevel      = "info"
)

// Config is the resolved server configuration.
type Config struct {
	// Bind is the host:port the WebSocket server listens on.
	Bind string
	// Brokers is the Kafka bootstrap list (comma separated on the flag).
	Brokers []string
	// Topic is the durable event topic.
	Topic string
	// Group is the consumer group name for the dispatch loopback.
	Group string
	// CouchbaseHost is the document store host.
	CouchbaseHost string
	// CouchbaseUser and CouchbasePassword come from the environment only.
	CouchbaseUser     string
	CouchbasePassword string
	// LogLevel is one of debug, info, warn, error.
	LogLevel string
}

// New resolves the configuration from flag values, with SED_* environment
// variables filling any flag left at its default.
func New(bind, brokers, topic, group, couchbaseHost, logLevel string) (*Config, error) {
	cfg := &Config{
		Bind:              fallback(bind, DefaultBind, "SED_BIND"),
		Topic:             fallback(topic, DefaultTopic, "SED_TOPIC"),
		Group:             fallback(group, DefaultGroup, "SED_GROUP"),
		CouchbaseHost:     fallback(couchbaseHost, DefaultCouchbaseHost, "SED_COUCHBASE_HOST"),
		CouchbaseUser:     getEnvOrDefault("SED_COUCHBASE_USER", "connect"),
		CouchbasePassword: getEnvOrDefault("SED_COUCHBASE_PASSWORD", "connect"),
		LogLevel:          fallback(logLevel, DefaultLogLevel, "SED_LOG_LEVEL"),
	}

	brokerList := fallback(brokers, DefaultBrokers, "SED_BROKER")
	for _, broker := range strings.Split(brokerList, ",") {
		broker = strings.TrimSpace(broker)
		if broker != "" {
			cfg.Brokers = append(cfg.Brokers, broker)
		}
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no brokers configured")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log level %q", cfg.LogLevel)
	}

	return cfg, nil
}

// fallback prefers an explicitly set flag, then the environment, then the
// default.
func fallback(flagValue, defaultValue, envKey string) string {
	if flagValue != defaultValue && flagValue != "" {
		return flagValue
	}
	return getEnvOrDefault(envKey, defaultValue)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
