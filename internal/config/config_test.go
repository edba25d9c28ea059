package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("JWT_SECRET", "test-secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "event-ticketing", cfg.App.Name)
	assert.True(t, cfg.App.IsDevelopment())
	assert.Equal(t, ":8080", cfg.Server.Addr())
	assert.Equal(t, 3*time.Second, cfg.Database.LockTimeout)
	assert.Equal(t, int32(20), cfg.Database.MaxConns)
	assert.True(t, cfg.Database.Migrate)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 100, cfg.Outbox.BatchSize)
	assert.False(t, cfg.OTel.IncludeDBQueryParams)
	assert.Equal(t,
		"host=localhost port=5432 user=postgres password=postgres dbname=eventticketing sslmode=disable",
		cfg.Database.DSN())
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DB_LOCK_TIMEOUT", "750ms")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("OTEL_DB_QUERY_PARAMS", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 750*time.Millisecond, cfg.Database.LockTimeout)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr())
	assert.True(t, cfg.OTel.IncludeDBQueryParams)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("JWT_SECRET=from-file\nAPP_ENVIRONMENT=production\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.JWT.Secret)
	assert.False(t, cfg.App.IsDevelopment())
}

func TestLoad_MissingSecret(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt secret")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: 8080},
			Database: DatabaseConfig{Host: "db", DBName: "x", LockTimeout: time.Second, MaxConns: 4, MinConns: 1},
			JWT:      JWTConfig{Secret: "s"},
			Outbox:   OutboxConfig{BatchSize: 10},
			OTel:     OTelConfig{SampleRatio: 1},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }, errMsg: "server port"},
		{name: "no lock timeout", mutate: func(c *Config) { c.Database.LockTimeout = 0 }, errMsg: "lock timeout"},
		{name: "pool sizes", mutate: func(c *Config) { c.Database.MinConns = 10 }, errMsg: "min conns"},
		{name: "kafka without brokers", mutate: func(c *Config) { c.Kafka.Enabled = true }, errMsg: "kafka brokers"},
		{name: "sample ratio", mutate: func(c *Config) { c.OTel.SampleRatio = 2 }, errMsg: "sample ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
