package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDefault(t *testing.T) *Config {
	t.Helper()
	cfg, err := New(DefaultBind, DefaultBrokers, DefaultTopic, DefaultGroup, DefaultCouchbaseHost, DefaultLogLevel)
	require.NoError(t, err)
	return cfg
}

func TestNewUsesDefaults(t *testing.T) {
	cfg := newDefault(t)

	assert.Equal(t, DefaultBind, cfg.Bind)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
	assert.Equal(t, DefaultTopic, cfg.Topic)
	assert.Equal(t, DefaultGroup, cfg.Group)
	assert.Equal(t, DefaultCouchbaseHost, cfg.CouchbaseHost)
	assert.Equal(t, "connect", cfg.CouchbaseUser)
	assert.Equal(t, "connect", cfg.CouchbasePassword)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestNewFlagsWinOverEnvironment(t *testing.T) {
	t.Setenv("SED_BIND", "0.0.0.0:9999")
	t.Setenv("SED_TOPIC", "env-topic")

	cfg, err := New("127.0.0.1:8082", DefaultBrokers, "flag-topic", DefaultGroup, DefaultCouchbaseHost, DefaultLogLevel)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8082", cfg.Bind)
	assert.Equal(t, "flag-topic", cfg.Topic)
}

func TestNewEnvironmentFillsDefaultedFlags(t *testing.T) {
	t.Setenv("SED_BIND", "0.0.0.0:9999")
	t.Setenv("SED_BROKER", "kafka-1:9092, kafka-2:9092")
	t.Setenv("SED_COUCHBASE_USER", "admin")
	t.Setenv("SED_COUCHBASE_PASSWORD", "secret")

	cfg := newDefault(t)

	assert.Equal(t, "0.0.0.0:9999", cfg.Bind)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Brokers)
	assert.Equal(t, "admin", cfg.CouchbaseUser)
	assert.Equal(t, "secret", cfg.CouchbasePassword)
}

func TestNewSplitsBrokerList(t *testing.T) {
	cfg, err := New(DefaultBind, "a:9092,b:9092, c:9092,", DefaultTopic, DefaultGroup, DefaultCouchbaseHost, DefaultLogLevel)
	require.NoError(t, err)
	assert.Equal(t, []string{"a:9092", "b:9092", "c:9092"}, cfg.Brokers)
}

func TestNewRejectsEmptyBrokerList(t *testing.T) {
	_, err := New(DefaultBind, " , ", DefaultTopic, DefaultGroup, DefaultCouchbaseHost, DefaultLogLevel)
	assert.Error(t, err)
}

func TestNewValidatesLogLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		_, err := New(DefaultBind, DefaultBrokers, DefaultTopic, DefaultGroup, DefaultCouchbaseHost, level)
		assert.NoError(t, err, level)
	}

	_, err := New(DefaultBind, DefaultBrokers, DefaultTopic, DefaultGroup, DefaultCouchbaseHost, "verbose")
	assert.Error(t, err)
}
