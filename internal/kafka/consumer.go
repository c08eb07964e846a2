package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"card-ledger/internal/retry"
	"card-ledger/internal/storages"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// DefaultFlushInterval период сохранения неполного пакета
const DefaultFlushInterval = 5 * time.Second

// messageReader часть kafka.Reader, нужная consumer'у
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// eventSaver сохраняет пакет событий
type eventSaver interface {
	SaveEventBatch(ctx context.Context, events []storages.TransferEvent) (int, error)
}

// Consumer читает события о крупных операциях и сохраняет их пакетами
type Consumer struct {
	reader        messageReader
	storage       eventSaver
	logger        *logrus.Logger
	batchSize     int
	workers       int
	flushInterval time.Duration
	retryPolicy   retry.Policy
	fetchDelay    time.Duration

	mu                sync.RWMutex
	messagesProcessed int64
	messagesFailed    int64
	startTime         time.Time
}

// Config конфигурация consumer
type Config struct {
	Brokers       []string
	Topic         string
	GroupID       string
	MinBytes      int
	MaxBytes      int
	MaxWait       time.Duration
	BatchSize     int
	Workers       int
	FlushInterval time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// NewConsumer создает новый Kafka consumer
func NewConsumer(cfg *Config, storage eventSaver, logger *logrus.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.MaxWait,
		Logger:      kafka.LoggerFunc(logger.Debugf),
		ErrorLogger: kafka.LoggerFunc(logger.Errorf),
	})

	logger.Infof("Kafka consumer initialized: Topic=%s, GroupID=%s, Brokers=%v",
		cfg.Topic, cfg.GroupID, cfg.Brokers)

	return newConsumer(reader, storage, cfg, logger)
}

func newConsumer(reader messageReader, storage eventSaver, cfg *Config, logger *logrus.Logger) *Consumer {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}

	return &Consumer{
		reader:        reader,
		storage:       storage,
		logger:        logger,
		batchSize:     batchSize,
		workers:       workers,
		flushInterval: flushInterval,
		retryPolicy: retry.Policy{
			Attempts:  cfg.RetryAttempts,
			BaseDelay: cfg.RetryDelay,
			MaxDelay:  cfg.RetryDelay * 4,
		},
		fetchDelay: cfg.RetryDelay,
		startTime:  time.Now(),
	}
}

// Start запускает чтение и воркеры, блокируется до отмены ctx
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Infof("Starting Kafka consumer with %d workers", c.workers)

	messages := make(chan kafka.Message, c.batchSize*2)

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			c.processMessages(ctx, messages, workerID)
		}(i)
	}

	go func() {
		defer close(messages)
		c.readMessages(ctx, messages)
	}()

	wg.Wait()

	c.logger.Info("Kafka consumer stopped")
	return nil
}

func (c *Consumer) readMessages(ctx context.Context, messages chan<- kafka.Message) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Errorf("Failed to fetch message: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.fetchDelay):
			}
			continue
		}

		select {
		case messages <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) processMessages(ctx context.Context, messages <-chan kafka.Message, workerID int) {
	batch := make([]storages.TransferEvent, 0, c.batchSize)
	pending := make([]kafka.Message, 0, c.batchSize)

	flush := func(ctx context.Context) {
		if len(batch) > 0 {
			c.flushBatch(ctx, batch, pending)
			batch = batch[:0]
			pending = pending[:0]
		}
	}

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// ctx уже отменен, остаток сохраняем с отдельным таймаутом
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			flush(shutdownCtx)
			cancel()
			return

		case <-ticker.C:
			flush(ctx)

		case msg, ok := <-messages:
			if !ok {
				flush(ctx)
				return
			}

			event, err := parseMessage(msg)
			if err != nil {
				c.logger.Errorf("Worker %d: Failed to parse message at offset %d: %v", workerID, msg.Offset, err)
				c.incrementFailed(1)
				if err := c.reader.CommitMessages(ctx, msg); err != nil {
					c.logger.Errorf("Worker %d: Failed to commit failed message: %v", workerID, err)
				}
				continue
			}

			batch = append(batch, *event)
			pending = append(pending, msg)
			if len(batch) >= c.batchSize {
				flush(ctx)
			}
		}
	}
}

func parseMessage(msg kafka.Message) (*storages.TransferEvent, error) {
	var event storages.TransferEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if event.EventID == "" {
		return nil, fmt.Errorf("message has no event_id")
	}
	return &event, nil
}

// flushBatch сохраняет пакет с повторами и только после этого коммитит смещения
func (c *Consumer) flushBatch(ctx context.Context, batch []storages.TransferEvent, messages []kafka.Message) {
	start := time.Now()

	policy := c.retryPolicy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.logger.Warnf("Attempt %d/%d: Failed to save batch: %v", attempt, policy.Attempts, err)
	}

	var inserted int
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		var err error
		inserted, err = c.storage.SaveEventBatch(ctx, batch)
		return err
	})
	if err != nil {
		c.logger.Errorf("Failed to save batch of %d events: %v", len(batch), err)
		c.incrementFailed(int64(len(batch)))
		return
	}

	if err := c.reader.CommitMessages(ctx, messages...); err != nil {
		c.logger.Errorf("Failed to commit messages: %v", err)
		return
	}

	c.incrementProcessed(int64(len(batch)))
	c.logger.Infof("Flushed batch: size=%d, new=%d, duration=%v", len(batch), inserted, time.Since(start))
}

func (c *Consumer) incrementProcessed(count int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messagesProcessed += count
}

func (c *Consumer) incrementFailed(count int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messagesFailed += count
}

// Statistics статистика обработки consumer'а
type Statistics struct {
	MessagesProcessed int64
	MessagesFailed    int64
	ProcessingRate    float64
	Uptime            time.Duration
}

// GetStatistics возвращает статистику обработки
func (c *Consumer) GetStatistics() Statistics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	uptime := time.Since(c.startTime)
	return Statistics{
		MessagesProcessed: c.messagesProcessed,
		MessagesFailed:    c.messagesFailed,
		ProcessingRate:    float64(c.messagesProcessed) / uptime.Seconds(),
		Uptime:            uptime,
	}
}

// Close закрывает consumer
func (c *Consumer) Close() error {
	c.logger.Info("Closing Kafka consumer")
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}
