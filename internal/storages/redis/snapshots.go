// Package redis хранит снимки курсов в Redis для сервиса exchanger,
// которому не нужна база данных проводок.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"card-ledger/internal/storages"
	goredis "github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const DefaultKeyPrefix = "rates"

// Config содержит конфигурацию Redis
type Config struct {
	Addr        string
	Password    string
	DB          int
	KeyPrefix   string
	DialTimeout time.Duration
}

// SnapshotStore список снимков (новые слева) и счетчик их идентификаторов
type SnapshotStore struct {
	client  *goredis.Client
	listKey string
	seqKey  string
	now     func() time.Time
	logger  *logrus.Logger
}

// New подключается к Redis и проверяет соединение
func New(cfg *Config, logger *logrus.Logger) (*SnapshotStore, error) {
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Infof("Connected to Redis at %s", cfg.Addr)
	return NewWithClient(client, cfg.KeyPrefix, logger), nil
}

// NewWithClient создает хранилище поверх готового клиента
func NewWithClient(client *goredis.Client, keyPrefix string, logger *logrus.Logger) *SnapshotStore {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &SnapshotStore{
		client:  client,
		listKey: keyPrefix + ":snapshots",
		seqKey:  keyPrefix + ":snapshot_seq",
		now:     time.Now,
		logger:  logger,
	}
}

// SaveSnapshot сохраняет новый снимок курсов
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, rates storages.RateTriple) (*storages.RateSnapshot, error) {
	id, err := s.client.Incr(ctx, s.seqKey).Result()
	if err != nil {
		s.logger.Errorf("Failed to allocate snapshot id: %v", err)
		return nil, classify("save snapshot", err)
	}

	snapshot := &storages.RateSnapshot{
		ID:         id,
		RateTriple: rates,
		CreatedAt:  s.now().UTC(),
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if err := s.client.LPush(ctx, s.listKey, string(payload)).Err(); err != nil {
		s.logger.Errorf("Failed to save rate snapshot: %v", err)
		return nil, classify("save snapshot", err)
	}

	s.logger.Debugf("Saved rate snapshot %d to redis", id)
	return snapshot, nil
}

// LatestSnapshot возвращает самый свежий снимок курсов
func (s *SnapshotStore) LatestSnapshot(ctx context.Context) (*storages.RateSnapshot, error) {
	raw, err := s.client.LIndex(ctx, s.listKey, 0).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("rate snapshot: %w", storages.ErrNotFound)
	}
	if err != nil {
		return nil, classify("latest snapshot", err)
	}

	var snapshot storages.RateSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snapshot, nil
}

// PruneSnapshots оставляет keep последних снимков.
// Число удаленных приблизительное при параллельной записи.
func (s *SnapshotStore) PruneSnapshots(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}

	size, err := s.client.LLen(ctx, s.listKey).Result()
	if err != nil {
		return 0, classify("prune snapshots", err)
	}
	if size <= int64(keep) {
		return 0, nil
	}

	if err := s.client.LTrim(ctx, s.listKey, 0, int64(keep-1)).Err(); err != nil {
		return 0, classify("prune snapshots", err)
	}

	deleted := size - int64(keep)
	s.logger.Debugf("Pruned %d rate snapshots", deleted)
	return deleted, nil
}

// Ping проверяет соединение
func (s *SnapshotStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close закрывает соединение
func (s *SnapshotStore) Close() error {
	return s.client.Close()
}

// classify помечает сетевые сбои как временные
func classify(op string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) {
		return &storages.TransientError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
