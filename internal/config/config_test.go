package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultHTTPPort, cfg.Server.HTTPPort)
	assert.Equal(t, "0.01", cfg.Ledger.CommissionRate.String())
	assert.Equal(t, RatesSourceHTTP, cfg.Rates.Source)
	assert.Equal(t, RatesStorePostgres, cfg.Rates.Store)
	assert.Equal(t, "rates", cfg.Redis.KeyPrefix)
	assert.Equal(t, 30*time.Second, cfg.Rates.UpdateInterval)
	assert.Equal(t, 60*time.Second, cfg.Rates.RetryInterval)
	assert.Equal(t, "39.5", cfg.Rates.FallbackUSDUAH.String())
	assert.Equal(t, "68290.25", cfg.Rates.FallbackBTCUSD.String())
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "30000", cfg.Kafka.TransferThreshold.String())
	assert.Equal(t, 2*time.Second, cfg.Kafka.PublishTimeout)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("LEDGER_COMMISSION_RATE", "0.02")
	t.Setenv("RATES_SOURCE", "GRPC")
	t.Setenv("DB_PORT", "not-a-number")
	t.Setenv("FLUSH_INTERVAL", "250ms")
	t.Setenv("RATES_STORE", "redis")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("KAFKA_PUBLISH_TIMEOUT", "750ms")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "0.02", cfg.Ledger.CommissionRate.String())
	assert.Equal(t, RatesSourceGRPC, cfg.Rates.Source)
	assert.Equal(t, DefaultDBPort, cfg.Database.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Kafka.FlushInterval)
	assert.Equal(t, RatesStoreRedis, cfg.Rates.Store)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 750*time.Millisecond, cfg.Kafka.PublishTimeout)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.env")
	require.NoError(t, os.WriteFile(path, []byte("HTTP_PORT=9090\nMONGO_DATABASE=audit_test\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("HTTP_PORT")
		os.Unsetenv("MONGO_DATABASE")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.HTTPPort)
	assert.Equal(t, "audit_test", cfg.MongoDB.Database)

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty http port", func(c *Config) { c.Server.HTTPPort = "" }},
		{"zero commission", func(c *Config) { c.Ledger.CommissionRate = c.Ledger.CommissionRate.Sub(c.Ledger.CommissionRate) }},
		{"no regulator password", func(c *Config) { c.Ledger.RegulatorPassword = "" }},
		{"no store attempts", func(c *Config) { c.Ledger.StoreRetryAttempts = 0 }},
		{"unknown rates source", func(c *Config) { c.Rates.Source = "ftp" }},
		{"unknown rates store", func(c *Config) { c.Rates.Store = "etcd" }},
		{"redis store without addr", func(c *Config) { c.Rates.Store = RatesStoreRedis; c.Redis.Addr = "" }},
		{"no brokers", func(c *Config) { c.Kafka.Brokers = nil }},
		{"bad log level", func(c *Config) { c.Logger.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
