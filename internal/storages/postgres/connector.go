package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// Config содержит конфигурацию для подключения к PostgreSQL
type Config struct {
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

// PostgresStorage реализует интерфейс Storage для PostgreSQL
type PostgresStorage struct {
	db     *sql.DB
	logger *logrus.Logger
}

// New создает новое подключение к PostgreSQL
func New(cfg *Config, logger *logrus.Logger) (*PostgresStorage, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Successfully connected to PostgreSQL")

	storage := NewWithDB(db, logger)
	if err := storage.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// NewWithDB оборачивает уже открытое подключение без инициализации схемы
func NewWithDB(db *sql.DB, logger *logrus.Logger) *PostgresStorage {
	return &PostgresStorage{db: db, logger: logger}
}

// initSchema создает необходимые таблицы, если они не существуют.
// Журнал операций ссылается на карты с ON DELETE RESTRICT: карту с историей удалить нельзя.
func (s *PostgresStorage) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username VARCHAR(50) UNIQUE NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		is_regulator BOOLEAN NOT NULL DEFAULT FALSE,
		regulator_balance NUMERIC(30, 8) NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		CHECK (regulator_balance >= 0)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_single_regulator ON users(is_regulator) WHERE is_regulator;

	CREATE TABLE IF NOT EXISTS accounts (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		kind VARCHAR(10) NOT NULL,
		number CHAR(16) UNIQUE NOT NULL,
		expiry VARCHAR(5) NOT NULL,
		balance NUMERIC(30, 8) NOT NULL DEFAULT 0,
		btc_balance NUMERIC(30, 8) NOT NULL DEFAULT 0,
		eth_balance NUMERIC(30, 8) NOT NULL DEFAULT 0,
		btc_address VARCHAR(100) UNIQUE,
		eth_address VARCHAR(42) UNIQUE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		CHECK (kind IN ('uah', 'usd', 'crypto')),
		CHECK (balance >= 0 AND btc_balance >= 0 AND eth_balance >= 0)
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id BIGINT PRIMARY KEY,
		from_account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE RESTRICT,
		to_account_id BIGINT REFERENCES accounts(id) ON DELETE RESTRICT,
		beneficiary_user_id BIGINT REFERENCES users(id) ON DELETE RESTRICT,
		from_number VARCHAR(16) NOT NULL,
		to_number VARCHAR(100) NOT NULL DEFAULT '',
		amount NUMERIC(30, 8) NOT NULL,
		currency VARCHAR(3) NOT NULL,
		converted_amount NUMERIC(30, 8) NOT NULL,
		converted_currency VARCHAR(3) NOT NULL,
		kind VARCHAR(20) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'completed',
		description TEXT NOT NULL DEFAULT '',
		wallet VARCHAR(100) NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS exchange_rates (
		id BIGSERIAL PRIMARY KEY,
		usd_to_uah NUMERIC(20, 8) NOT NULL,
		btc_to_usd NUMERIC(20, 8) NOT NULL,
		eth_to_usd NUMERIC(20, 8) NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_user ON accounts(user_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_from ON transactions(from_account_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_to ON transactions(to_account_id);
	CREATE INDEX IF NOT EXISTS idx_exchange_rates_created ON exchange_rates(created_at DESC);
	`

	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Info("Database schema initialized")
	return nil
}

// Close закрывает соединение с базой данных
func (s *PostgresStorage) Close() error {
	if s.db != nil {
		s.logger.Info("Closing database connection")
		return s.db.Close()
	}
	return nil
}

// Ping проверяет соединение с базой данных
func (s *PostgresStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
