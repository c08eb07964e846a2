package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"card-ledger/internal/storages"
	"github.com/sirupsen/logrus"
)

// RatesCache хранит последний известный снимок курсов.
// Кеш не ходит за курсами сам: их приносит внешний источник через Record.
// Устаревший снимок продолжает обслуживаться, пока не придет новый.
type RatesCache struct {
	mu      sync.RWMutex
	current *storages.RateSnapshot

	store  storages.SnapshotStore
	logger *logrus.Logger
}

// NewRatesCache создает пустой кеш. store может быть nil, тогда снимки живут только в памяти.
func NewRatesCache(store storages.SnapshotStore, logger *logrus.Logger) *RatesCache {
	return &RatesCache{
		store:  store,
		logger: logger,
	}
}

// Latest возвращает копию текущего снимка
func (c *RatesCache) Latest() (storages.RateSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.current == nil {
		return storages.RateSnapshot{}, false
	}
	return *c.current, true
}

// Record делает набор курсов текущим. Если снимок не удалось сохранить,
// он все равно обслуживается из памяти.
func (c *RatesCache) Record(ctx context.Context, rates storages.RateTriple) (storages.RateSnapshot, error) {
	if err := rates.Validate(); err != nil {
		return storages.RateSnapshot{}, fmt.Errorf("invalid rates: %w", err)
	}

	snapshot := storages.RateSnapshot{RateTriple: rates, CreatedAt: time.Now()}
	if c.store != nil {
		saved, err := c.store.SaveSnapshot(ctx, rates)
		if err != nil {
			c.logger.Warnf("Failed to persist rate snapshot, serving from memory: %v", err)
		} else {
			snapshot = *saved
		}
	}

	c.mu.Lock()
	c.current = &snapshot
	c.mu.Unlock()

	c.logger.Debugf("Rates updated: usd/uah=%s btc/usd=%s eth/usd=%s",
		rates.USDToUAH, rates.BTCToUSD, rates.ETHToUSD)
	return snapshot, nil
}

// Warm загружает последний сохраненный снимок при старте
func (c *RatesCache) Warm(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	snapshot, err := c.store.LatestSnapshot(ctx)
	if errors.Is(err, storages.ErrNotFound) {
		c.logger.Info("No stored rate snapshot, waiting for rate feed")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load rate snapshot: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// снимок от источника мог прийти раньше
	if c.current == nil {
		c.current = snapshot
		c.logger.Infof("Rates cache warmed from snapshot %d (%s)", snapshot.ID, snapshot.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

// Age возвращает возраст текущего снимка
func (c *RatesCache) Age() (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.current == nil {
		return 0, false
	}
	return time.Since(c.current.CreatedAt), true
}

// IsEmpty проверяет, был ли записан хоть один снимок
func (c *RatesCache) IsEmpty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.current == nil
}
