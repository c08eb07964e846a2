package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"card-ledger/internal/storages"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// messageWriter часть kafka.Writer, нужная producer'у
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ProducerConfig конфигурация producer
type ProducerConfig struct {
	Brokers []string
	Topic   string
	// Threshold минимальная сумма операции в USD, о которой отправляется событие
	Threshold decimal.Decimal
}

// Producer отправляет события о крупных операциях
type Producer struct {
	writer    messageWriter
	threshold decimal.Decimal
	logger    *logrus.Logger
}

// NewProducer создает новый Kafka producer
func NewProducer(cfg *ProducerConfig, logger *logrus.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Snappy,
		BatchTimeout: 10 * time.Millisecond,
	}

	logger.Infof("Kafka producer initialized for topic: %s", cfg.Topic)
	return newProducer(writer, cfg.Threshold, logger)
}

func newProducer(writer messageWriter, threshold decimal.Decimal, logger *logrus.Logger) *Producer {
	return &Producer{
		writer:    writer,
		threshold: threshold,
		logger:    logger,
	}
}

// PublishTransfer отправляет событие, если долларовый эквивалент операции
// не меньше порога. Ключ сообщения event_id.
func (p *Producer) PublishTransfer(ctx context.Context, event storages.TransferEvent, usdEquivalent decimal.Decimal) error {
	if usdEquivalent.LessThan(p.threshold) {
		p.logger.Debugf("Transaction %d amount %s USD is below threshold %s, skipping event",
			event.TransactionID, usdEquivalent.StringFixed(2), p.threshold.StringFixed(2))
		return nil
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.EventID),
		Value: value,
		Time:  time.Now(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Errorf("Failed to send event to Kafka: %v", err)
		return fmt.Errorf("failed to send event: %w", err)
	}

	p.logger.Infof("Sent large transfer event: Transaction=%d, User=%d, USD=%s",
		event.TransactionID, event.UserID, event.USDEquivalent)
	return nil
}

// Close закрывает Kafka producer
func (p *Producer) Close() error {
	if p.writer != nil {
		p.logger.Info("Closing Kafka producer")
		return p.writer.Close()
	}
	return nil
}
