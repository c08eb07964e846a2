package config

import "time"

// Server defaults
const (
	DefaultHTTPPort = "8080"
	DefaultGinMode  = "release"
	DefaultGRPCPort = "50051"
	DefaultLogLevel = "info"
)

// Database defaults
const (
	DefaultDBHost            = "localhost"
	DefaultDBPort            = 5432
	DefaultDBUser            = "ledger_user"
	DefaultDBPassword        = "ledger_password"
	DefaultDBName            = "ledger_db"
	DefaultDBSSLMode         = "disable"
	DefaultDBMaxOpenConns    = 25
	DefaultDBMaxIdleConns    = 5
	DefaultDBConnMaxLifetime = 5 * time.Minute
)

// Ledger defaults
const (
	DefaultCommissionRate      = "0.01"
	DefaultRegulatorUsername   = "regulator"
	DefaultRegulatorPassword   = "change-me-in-production"
	DefaultStoreRetryAttempts  = 3
	DefaultStoreRetryBaseDelay = 200 * time.Millisecond
)

// Rates defaults
const (
	DefaultRatesSource         = RatesSourceHTTP
	DefaultRatesStore          = RatesStorePostgres
	DefaultRatesUpdateInterval = 30 * time.Second
	DefaultRatesRetryInterval  = 60 * time.Second
	DefaultRatesHTTPTimeout    = 10 * time.Second
	DefaultRatesRetention      = 1000
	DefaultFallbackUSDToUAH    = "39.50"
	DefaultFallbackBTCToUSD    = "68290.25"
	DefaultFallbackETHToUSD    = "3850.75"
)

// Exchanger gRPC defaults
const (
	DefaultExchangerHost    = "localhost"
	DefaultExchangerPort    = "50051"
	DefaultExchangerTimeout = 5 * time.Second
)

// Kafka defaults
const (
	DefaultKafkaBrokers           = "localhost:9092"
	DefaultKafkaTopic             = "large-transfers"
	DefaultKafkaGroupID           = "ledger-notifier-group"
	DefaultKafkaTransferThreshold = "30000"
	DefaultKafkaMinBytes          = 1
	DefaultKafkaMaxBytes          = 10485760 // 10MB
	DefaultKafkaMaxWait           = 500 * time.Millisecond
	DefaultBatchSize              = 100
	DefaultWorkers                = 10
	DefaultFlushInterval          = 5 * time.Second
	DefaultRetryAttempts          = 3
	DefaultRetryDelay             = 1 * time.Second
	DefaultKafkaPublishTimeout    = 2 * time.Second
)

// MongoDB defaults
const (
	DefaultMongoURI         = "mongodb://localhost:27017"
	DefaultMongoDatabase    = "ledger_audit"
	DefaultMongoCollection  = "large_transfers"
	DefaultMongoTimeout     = 10 * time.Second
	DefaultMongoMaxPoolSize = 100
	DefaultMongoMinPoolSize = 10
)

// Redis defaults
const (
	DefaultRedisAddr        = "localhost:6379"
	DefaultRedisDB          = 0
	DefaultRedisKeyPrefix   = "rates"
	DefaultRedisDialTimeout = 5 * time.Second
)
