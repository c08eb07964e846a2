package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"card-ledger/internal/cache"
	"card-ledger/internal/config"
	"card-ledger/internal/grpc"
	"card-ledger/internal/logger"
	"card-ledger/internal/ratefeed"
	"card-ledger/internal/storages"
	"card-ledger/internal/storages/postgres"
	"card-ledger/internal/storages/redis"
	"github.com/sirupsen/logrus"
	grpcServer "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// snapshotStore хранилище снимков курсов exchanger
type snapshotStore interface {
	storages.SnapshotStore
	Ping(ctx context.Context) error
	Close() error
}

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
	logger.ForService(log, "exchanger").Info("Starting exchanger service...")
	log.Infof("Configuration loaded from: %s", *configPath)

	storage, err := openSnapshotStore(cfg, log)
	if err != nil {
		log.Fatalf("Failed to open %s rates store: %v", cfg.Rates.Store, err)
	}
	defer storage.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := storage.Ping(ctx); err != nil {
		cancel()
		log.Fatalf("Rates store ping failed: %v", err)
	}
	cancel()
	log.Infof("Rates store (%s) connection established", cfg.Rates.Store)

	ratesCache := cache.NewRatesCache(storage, log)
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := ratesCache.Warm(ctx); err != nil {
		log.Warnf("Failed to warm rates cache: %v", err)
	}
	cancel()

	source := ratefeed.NewHTTPSource(ratefeed.HTTPSourceConfig{
		CoinGeckoURL:    cfg.Rates.CoinGeckoURL,
		CoinGeckoProURL: cfg.Rates.CoinGeckoProURL,
		CoinGeckoAPIKey: cfg.Rates.CoinGeckoAPIKey,
		USDRatesURL:     cfg.Rates.USDRatesURL,
		Timeout:         cfg.Rates.HTTPTimeout,
	}, log)

	feedCfg := ratefeed.DefaultConfig()
	feedCfg.UpdateInterval = cfg.Rates.UpdateInterval
	feedCfg.RetryInterval = cfg.Rates.RetryInterval
	feedCfg.Retention = cfg.Rates.Retention
	feedCfg.Fallback = storages.RateTriple{
		USDToUAH: cfg.Rates.FallbackUSDUAH,
		BTCToUSD: cfg.Rates.FallbackBTCUSD,
		ETHToUSD: cfg.Rates.FallbackETHUSD,
	}
	feed := ratefeed.NewFeed(source, ratesCache, storage, feedCfg, log)

	// Создание gRPC сервера
	grpcSrv := grpcServer.NewServer(
		grpcServer.UnaryInterceptor(grpc.LoggingInterceptor(log)),
	)
	grpc.RegisterRateServiceServer(grpcSrv, grpc.NewRateServer(ratesCache, log))

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpc.ServiceName, healthgrpc.HealthCheckResponse_SERVING)
	healthgrpc.RegisterHealthServer(grpcSrv, healthServer)
	reflection.Register(grpcSrv)

	listener, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
	if err != nil {
		log.Fatalf("Failed to create listener: %v", err)
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
		log.Infof("gRPC server is listening on port %s", cfg.Server.GRPCPort)
		if err := grpcSrv.Serve(listener); err != nil {
			log.Fatalf("Failed to serve gRPC: %v", err)
		}
	}()

	<-done
	log.Info("Shutting down server...")

	healthServer.Shutdown()
	grpcSrv.GracefulStop()
	stopFeed()
	<-feedDone

	log.Info("Server stopped gracefully")
}

// openSnapshotStore открывает Postgres или Redis в зависимости от RATES_STORE
func openSnapshotStore(cfg *config.Config, log *logrus.Logger) (snapshotStore, error) {
	if cfg.Rates.Store == config.RatesStoreRedis {
		store, err := redis.New(&redis.Config{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			KeyPrefix:   cfg.Redis.KeyPrefix,
			DialTimeout: cfg.Redis.DialTimeout,
		}, log)
		if err != nil {
			return nil, err
		}
		return store, nil
	}

	store, err := postgres.New(&postgres.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, log)
	if err != nil {
		return nil, err
	}
	return store, nil
}
