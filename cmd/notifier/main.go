package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"card-ledger/internal/config"
	"card-ledger/internal/kafka"
	"card-ledger/internal/logger"
	"card-ledger/internal/storages/mongodb"
	"card-ledger/pkg"
	"github.com/sirupsen/logrus"
)

const (
	statsInterval   = 30 * time.Second
	shutdownTimeout = 30 * time.Second
)

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
	logger.ForService(log, "notifier").Info("Starting notifier service...")
	log.Infof("Configuration loaded from: %s", *configPath)

	// Подключение к MongoDB
	mongoConfig := &mongodb.Config{
		URI:         cfg.MongoDB.URI,
		Database:    cfg.MongoDB.Database,
		Collection:  cfg.MongoDB.Collection,
		Timeout:     cfg.MongoDB.Timeout,
		MaxPoolSize: cfg.MongoDB.MaxPoolSize,
		MinPoolSize: cfg.MongoDB.MinPoolSize,
	}

	storage, err := mongodb.New(mongoConfig, log)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := storage.Close(ctx); err != nil {
			log.Warnf("Failed to close MongoDB connection: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := storage.Ping(ctx); err != nil {
		cancel()
		log.Fatalf("MongoDB ping failed: %v", err)
	}
	cancel()
	log.Info("MongoDB connection established")

	consumer := kafka.NewConsumer(&kafka.Config{
		Brokers:       cfg.Kafka.Brokers,
		Topic:         cfg.Kafka.Topic,
		GroupID:       cfg.Kafka.GroupID,
		MinBytes:      cfg.Kafka.MinBytes,
		MaxBytes:      cfg.Kafka.MaxBytes,
		MaxWait:       cfg.Kafka.MaxWait,
		BatchSize:     cfg.Kafka.BatchSize,
		Workers:       cfg.Kafka.Workers,
		FlushInterval: cfg.Kafka.FlushInterval,
		RetryAttempts: cfg.Kafka.RetryAttempts,
		RetryDelay:    cfg.Kafka.RetryDelay,
	}, storage, log)
	defer consumer.Close()

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	consumerErr := make(chan error, 1)
	go func() {
		consumerErr <- consumer.Start(ctx)
	}()

	go func() {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				printStatistics(log, consumer, storage)
			}
		}
	}()

	log.Info("Service is running. Press Ctrl+C to stop...")

	select {
	case <-sigChan:
		log.Info("Received shutdown signal...")
	case err := <-consumerErr:
		if err != nil {
			log.Errorf("Consumer error: %v", err)
		}
	}

	log.Info("Shutting down service...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	select {
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout exceeded, forcing exit")
	case err := <-consumerErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Errorf("Consumer shutdown error: %v", err)
		}
	}

	printFinalStatistics(log, consumer, storage)

	log.Info("Service stopped gracefully")
}

// printStatistics выводит текущую статистику
func printStatistics(log *logrus.Logger, consumer *kafka.Consumer, storage *mongodb.MongoStorage) {
	stats := consumer.GetStatistics()
	log.Infof("Consumer Statistics: Processed=%d, Failed=%d, Rate=%.2f msg/s, Uptime=%s",
		stats.MessagesProcessed, stats.MessagesFailed, stats.ProcessingRate, pkg.FormatDuration(stats.Uptime))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	storageStats, err := storage.GetStatistics(ctx)
	if err != nil {
		log.Warnf("Failed to get storage statistics: %v", err)
		return
	}

	log.Infof("Storage Statistics: Total=%d, AvgUSD=%.2f, TotalUSD=%.2f",
		storageStats.TotalProcessed, storageStats.AverageUSD, storageStats.TotalUSD)
}

// printFinalStatistics выводит финальную статистику перед завершением
func printFinalStatistics(log *logrus.Logger, consumer *kafka.Consumer, storage *mongodb.MongoStorage) {
	stats := consumer.GetStatistics()

	log.Info("=== Final Statistics ===")
	log.Infof("Total Messages Processed: %d", stats.MessagesProcessed)
	log.Infof("Total Messages Failed: %d", stats.MessagesFailed)
	log.Infof("Average Processing Rate: %.2f msg/s", stats.ProcessingRate)
	log.Infof("Total Uptime: %s", pkg.FormatDuration(stats.Uptime))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	storageStats, err := storage.GetStatistics(ctx)
	if err != nil {
		log.Warnf("Failed to get final storage statistics: %v", err)
		return
	}

	recent, err := storage.GetRecentEvents(ctx, 1)
	if err == nil && len(recent) > 0 {
		log.Infof("Last archived event: %s (%s USD)", recent[0].EventID, recent[0].USDEquivalent)
	}

	log.Infof("Total Transfers in DB: %d", storageStats.TotalProcessed)
	log.Infof("Average Transfer Amount (USD): %.2f", storageStats.AverageUSD)
	log.Infof("Total Amount Processed (USD): %.2f", storageStats.TotalUSD)
	log.Info("========================")
}
