package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"card-ledger/internal/api"
	"card-ledger/internal/cache"
	"card-ledger/internal/config"
	"card-ledger/internal/grpc"
	"card-ledger/internal/kafka"
	"card-ledger/internal/ledger"
	"card-ledger/internal/logger"
	"card-ledger/internal/ratefeed"
	"card-ledger/internal/retry"
	"card-ledger/internal/service"
	"card-ledger/internal/storages"
	"card-ledger/internal/storages/postgres"
	"github.com/sirupsen/logrus"
)

// @title Card Ledger API
// @version 1.0
// @description Multi-currency card ledger: transfers, crypto transfers and exchanges with 1% commission
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.email support@example.com

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /

func main() {
	// Парсинг флагов командной строки
	configPath := flag.String("c", "", "Path to config file")
	flag.Parse()

	// Загрузка конфигурации
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logger.Level)
	logger.ForService(log, "ledger").Info("Starting ledger service...")
	log.Infof("Configuration loaded from: %s", *configPath)

	// Подключение к базе данных
	dbConfig := &postgres.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	pgStorage, err := postgres.New(dbConfig, log)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pgStorage.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := pgStorage.Ping(ctx); err != nil {
		cancel()
		log.Fatalf("Database ping failed: %v", err)
	}
	cancel()
	log.Info("Database connection established")

	storePolicy := retry.Policy{
		Attempts:  cfg.Ledger.StoreRetryAttempts,
		BaseDelay: cfg.Ledger.StoreRetryBaseDelay,
		MaxDelay:  retry.DefaultMaxDelay,
	}
	storage := storages.WithRetry(pgStorage, storePolicy, log)

	// Кеш курсов с сохранением снимков в БД
	ratesCache := cache.NewRatesCache(pgStorage, log)
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := ratesCache.Warm(ctx); err != nil {
		log.Warnf("Failed to warm rates cache: %v", err)
	}
	cancel()

	source, closeSource := newRateSource(cfg, log)
	defer closeSource()

	feed := ratefeed.NewFeed(source, ratesCache, pgStorage, feedConfig(cfg), log)

	// Kafka producer событий о крупных операциях
	producer := kafka.NewProducer(&kafka.ProducerConfig{
		Brokers:   cfg.Kafka.Brokers,
		Topic:     cfg.Kafka.Topic,
		Threshold: cfg.Kafka.TransferThreshold,
	}, log)
	defer producer.Close()

	engine := ledger.NewEngine(storage, ratesCache, ledger.Config{
		CommissionRate: cfg.Ledger.CommissionRate,
		Retry:          storePolicy,
		PublishTimeout: cfg.Kafka.PublishTimeout,
	}, log, ledger.WithPublisher(producer))

	ledgerService := service.NewLedgerService(storage, engine, ratesCache, log)

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	if _, err := ledgerService.EnsureRegulator(ctx, cfg.Ledger.RegulatorUsername, cfg.Ledger.RegulatorPassword); err != nil {
		cancel()
		log.Fatalf("Failed to bootstrap regulator: %v", err)
	}
	cancel()
	log.Info("Ledger service initialized")

	router := api.SetupRouter(ledgerService, storage, log, cfg.Server.GinMode)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	feedCtx, stopFeed := context.WithCancel(context.Background())
	feedDone := make(chan struct{})
	go func() {
		defer close(feedDone)
		feed.Run(feedCtx)
	}()

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Infof("HTTP server is listening on port %s", cfg.Server.HTTPPort)
		log.Infof("Swagger documentation available at: http://localhost:%s/swagger/index.html", cfg.Server.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	<-done
	log.Info("Shutting down server...")

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	stopFeed()
	<-feedDone

	log.Info("Server stopped gracefully")
}

// newRateSource выбирает источник курсов: внешние HTTP API или сервис exchanger
func newRateSource(cfg *config.Config, log *logrus.Logger) (ratefeed.Source, func()) {
	if cfg.Rates.Source == config.RatesSourceGRPC {
		client, err := grpc.NewRateClient(cfg.Exchanger.Host, cfg.Exchanger.Port, cfg.Exchanger.Timeout, log)
		if err != nil {
			log.Fatalf("Failed to connect to exchanger service: %v", err)
		}
		return client, func() {
			if err := client.Close(); err != nil {
				log.Warnf("Failed to close exchanger client: %v", err)
			}
		}
	}

	return ratefeed.NewHTTPSource(ratefeed.HTTPSourceConfig{
		CoinGeckoURL:    cfg.Rates.CoinGeckoURL,
		CoinGeckoProURL: cfg.Rates.CoinGeckoProURL,
		CoinGeckoAPIKey: cfg.Rates.CoinGeckoAPIKey,
		USDRatesURL:     cfg.Rates.USDRatesURL,
		Timeout:         cfg.Rates.HTTPTimeout,
	}, log), func() {}
}

func feedConfig(cfg *config.Config) ratefeed.Config {
	fc := ratefeed.DefaultConfig()
	fc.UpdateInterval = cfg.Rates.UpdateInterval
	fc.RetryInterval = cfg.Rates.RetryInterval
	fc.Retention = cfg.Rates.Retention
	fc.Fallback = storages.RateTriple{
		USDToUAH: cfg.Rates.FallbackUSDUAH,
		BTCToUSD: cfg.Rates.FallbackBTCUSD,
		ETHToUSD: cfg.Rates.FallbackETHUSD,
	}
	return fc
}
