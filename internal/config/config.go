package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Источники курсов
const (
	RatesSourceHTTP = "http"
	RatesSourceGRPC = "grpc"
)

// Хранилища снимков курсов для exchanger
const (
	RatesStorePostgres = "postgres"
	RatesStoreRedis    = "redis"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Ledger    LedgerConfig
	Rates     RatesConfig
	Exchanger ExchangerConfig
	Kafka     KafkaConfig
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	Logger    LoggerConfig
}

// ServerConfig содержит конфигурацию HTTP и gRPC серверов
type ServerConfig struct {
	HTTPPort string
	GinMode  string
	GRPCPort string
}

// DatabaseConfig содержит конфигурацию базы данных
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// LedgerConfig содержит параметры проводок
type LedgerConfig struct {
	CommissionRate      decimal.Decimal
	RegulatorUsername   string
	RegulatorPassword   string
	StoreRetryAttempts  int
	StoreRetryBaseDelay time.Duration
}

// RatesConfig содержит параметры получения курсов
type RatesConfig struct {
	Source          string
	Store           string
	UpdateInterval  time.Duration
	RetryInterval   time.Duration
	HTTPTimeout     time.Duration
	CoinGeckoURL    string
	CoinGeckoProURL string
	CoinGeckoAPIKey string
	USDRatesURL     string
	Retention       int
	FallbackUSDUAH  decimal.Decimal
	FallbackBTCUSD  decimal.Decimal
	FallbackETHUSD  decimal.Decimal
}

// ExchangerConfig содержит конфигурацию gRPC клиента для exchanger
type ExchangerConfig struct {
	Host    string
	Port    string
	Timeout time.Duration
}

// KafkaConfig содержит конфигурацию Kafka для producer и consumer
type KafkaConfig struct {
	Brokers           []string
	Topic             string
	GroupID           string
	TransferThreshold decimal.Decimal
	MinBytes          int
	MaxBytes          int
	MaxWait           time.Duration
	BatchSize         int
	Workers           int
	FlushInterval     time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
	PublishTimeout    time.Duration
}

// MongoDBConfig содержит конфигурацию MongoDB
type MongoDBConfig struct {
	URI         string
	Database    string
	Collection  string
	Timeout     time.Duration
	MaxPoolSize uint64
	MinPoolSize uint64
}

// RedisConfig содержит конфигурацию Redis
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	KeyPrefix   string
	DialTimeout time.Duration
}

// LoggerConfig содержит конфигурацию логгера
type LoggerConfig struct {
	Level string
}

// Load загружает конфигурацию из файла окружения
func Load(configPath string) (*Config, error) {
	// Загрузка переменных окружения из файла
	if configPath != "" {
		if err := godotenv.Load(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	cfg := &Config{}

	// Server
	cfg.Server.HTTPPort = getEnv("HTTP_PORT", DefaultHTTPPort)
	cfg.Server.GinMode = getEnv("GIN_MODE", DefaultGinMode)
	cfg.Server.GRPCPort = getEnv("GRPC_PORT", DefaultGRPCPort)

	// Database
	cfg.Database.Host = getEnv("DB_HOST", DefaultDBHost)
	cfg.Database.Port = getEnvInt("DB_PORT", DefaultDBPort)
	cfg.Database.User = getEnv("DB_USER", DefaultDBUser)
	cfg.Database.Password = getEnv("DB_PASSWORD", DefaultDBPassword)
	cfg.Database.DBName = getEnv("DB_NAME", DefaultDBName)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", DefaultDBSSLMode)
	cfg.Database.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", DefaultDBMaxOpenConns)
	cfg.Database.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", DefaultDBMaxIdleConns)
	cfg.Database.ConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", DefaultDBConnMaxLifetime)

	// Ledger
	cfg.Ledger.CommissionRate = getEnvDecimal("LEDGER_COMMISSION_RATE", DefaultCommissionRate)
	cfg.Ledger.RegulatorUsername = getEnv("REGULATOR_USERNAME", DefaultRegulatorUsername)
	cfg.Ledger.RegulatorPassword = getEnv("REGULATOR_PASSWORD", DefaultRegulatorPassword)
	cfg.Ledger.StoreRetryAttempts = getEnvInt("STORE_RETRY_ATTEMPTS", DefaultStoreRetryAttempts)
	cfg.Ledger.StoreRetryBaseDelay = getEnvDuration("STORE_RETRY_BASE_DELAY", DefaultStoreRetryBaseDelay)

	// Rates
	cfg.Rates.Source = strings.ToLower(getEnv("RATES_SOURCE", DefaultRatesSource))
	cfg.Rates.Store = strings.ToLower(getEnv("RATES_STORE", DefaultRatesStore))
	cfg.Rates.UpdateInterval = getEnvDuration("RATES_UPDATE_INTERVAL", DefaultRatesUpdateInterval)
	cfg.Rates.RetryInterval = getEnvDuration("RATES_RETRY_INTERVAL", DefaultRatesRetryInterval)
	cfg.Rates.HTTPTimeout = getEnvDuration("RATES_HTTP_TIMEOUT", DefaultRatesHTTPTimeout)
	cfg.Rates.CoinGeckoURL = getEnv("COINGECKO_URL", "")
	cfg.Rates.CoinGeckoProURL = getEnv("COINGECKO_PRO_URL", "")
	cfg.Rates.CoinGeckoAPIKey = getEnv("COINGECKO_API_KEY", "")
	cfg.Rates.USDRatesURL = getEnv("USD_RATES_URL", "")
	cfg.Rates.Retention = getEnvInt("RATES_RETENTION", DefaultRatesRetention)
	cfg.Rates.FallbackUSDUAH = getEnvDecimal("RATES_FALLBACK_USD_UAH", DefaultFallbackUSDToUAH)
	cfg.Rates.FallbackBTCUSD = getEnvDecimal("RATES_FALLBACK_BTC_USD", DefaultFallbackBTCToUSD)
	cfg.Rates.FallbackETHUSD = getEnvDecimal("RATES_FALLBACK_ETH_USD", DefaultFallbackETHToUSD)

	// Exchanger gRPC
	cfg.Exchanger.Host = getEnv("EXCHANGER_GRPC_HOST", DefaultExchangerHost)
	cfg.Exchanger.Port = getEnv("EXCHANGER_GRPC_PORT", DefaultExchangerPort)
	cfg.Exchanger.Timeout = getEnvDuration("EXCHANGER_GRPC_TIMEOUT", DefaultExchangerTimeout)

	// Kafka
	cfg.Kafka.Brokers = splitList(getEnv("KAFKA_BROKERS", DefaultKafkaBrokers))
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", DefaultKafkaTopic)
	cfg.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", DefaultKafkaGroupID)
	cfg.Kafka.TransferThreshold = getEnvDecimal("KAFKA_TRANSFER_THRESHOLD", DefaultKafkaTransferThreshold)
	cfg.Kafka.MinBytes = getEnvInt("KAFKA_MIN_BYTES", DefaultKafkaMinBytes)
	cfg.Kafka.MaxBytes = getEnvInt("KAFKA_MAX_BYTES", DefaultKafkaMaxBytes)
	cfg.Kafka.MaxWait = getEnvDuration("KAFKA_MAX_WAIT", DefaultKafkaMaxWait)
	cfg.Kafka.BatchSize = getEnvInt("BATCH_SIZE", DefaultBatchSize)
	cfg.Kafka.Workers = getEnvInt("WORKERS", DefaultWorkers)
	cfg.Kafka.FlushInterval = getEnvDuration("FLUSH_INTERVAL", DefaultFlushInterval)
	cfg.Kafka.RetryAttempts = getEnvInt("RETRY_ATTEMPTS", DefaultRetryAttempts)
	cfg.Kafka.RetryDelay = getEnvDuration("RETRY_DELAY", DefaultRetryDelay)
	cfg.Kafka.PublishTimeout = getEnvDuration("KAFKA_PUBLISH_TIMEOUT", DefaultKafkaPublishTimeout)

	// MongoDB
	cfg.MongoDB.URI = getEnv("MONGO_URI", DefaultMongoURI)
	cfg.MongoDB.Database = getEnv("MONGO_DATABASE", DefaultMongoDatabase)
	cfg.MongoDB.Collection = getEnv("MONGO_COLLECTION", DefaultMongoCollection)
	cfg.MongoDB.Timeout = getEnvDuration("MONGO_TIMEOUT", DefaultMongoTimeout)
	cfg.MongoDB.MaxPoolSize = uint64(getEnvInt("MONGO_MAX_POOL_SIZE", DefaultMongoMaxPoolSize))
	cfg.MongoDB.MinPoolSize = uint64(getEnvInt("MONGO_MIN_POOL_SIZE", DefaultMongoMinPoolSize))

	// Redis
	cfg.Redis.Addr = getEnv("REDIS_ADDR", DefaultRedisAddr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", DefaultRedisDB)
	cfg.Redis.KeyPrefix = getEnv("REDIS_KEY_PREFIX", DefaultRedisKeyPrefix)
	cfg.Redis.DialTimeout = getEnvDuration("REDIS_DIAL_TIMEOUT", DefaultRedisDialTimeout)

	// Logger
	cfg.Logger.Level = getEnv("LOG_LEVEL", DefaultLogLevel)

	return cfg, nil
}

// getEnv получает переменную окружения или возвращает значение по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt получает целочисленную переменную окружения
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration получает переменную окружения типа duration
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvDecimal получает десятичное значение; defaultValue обязан быть корректным числом
func getEnvDecimal(key, defaultValue string) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return decimal.RequireFromString(defaultValue)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	if c.Server.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT is required")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}

	if !c.Ledger.CommissionRate.IsPositive() || c.Ledger.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("LEDGER_COMMISSION_RATE must be in (0, 1), got %s", c.Ledger.CommissionRate)
	}

	if c.Ledger.RegulatorUsername == "" || c.Ledger.RegulatorPassword == "" {
		return fmt.Errorf("REGULATOR_USERNAME and REGULATOR_PASSWORD are required")
	}

	if c.Ledger.StoreRetryAttempts < 1 {
		return fmt.Errorf("STORE_RETRY_ATTEMPTS must be at least 1")
	}

	if c.Rates.Source != RatesSourceHTTP && c.Rates.Source != RatesSourceGRPC {
		return fmt.Errorf("invalid RATES_SOURCE: %s (expected %s or %s)", c.Rates.Source, RatesSourceHTTP, RatesSourceGRPC)
	}

	if c.Rates.Store != RatesStorePostgres && c.Rates.Store != RatesStoreRedis {
		return fmt.Errorf("invalid RATES_STORE: %s (expected %s or %s)", c.Rates.Store, RatesStorePostgres, RatesStoreRedis)
	}

	if c.Rates.Store == RatesStoreRedis && c.Redis.Addr == "" {
		return fmt.Errorf("REDIS_ADDR is required for redis rates store")
	}

	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}

	if _, err := logrus.ParseLevel(c.Logger.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Logger.Level)
	}

	return nil
}
