// Package ratefeed периодически получает курсы из внешнего источника и
// записывает их в кеш курсов.
package ratefeed

import (
	"context"
	"time"

	"card-ledger/internal/cache"
	"card-ledger/internal/retry"
	"card-ledger/internal/storages"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	DefaultUpdateInterval = 30 * time.Second
	DefaultRetryInterval  = 60 * time.Second
	DefaultRetention      = 1000
)

// FallbackRates используются, если ни одного снимка еще не было, а источник недоступен
var FallbackRates = storages.RateTriple{
	USDToUAH: decimal.RequireFromString("39.50"),
	BTCToUSD: decimal.RequireFromString("68290.25"),
	ETHToUSD: decimal.RequireFromString("3850.75"),
}

// Source внешний источник курсов
type Source interface {
	FetchRates(ctx context.Context) (storages.RateTriple, error)
}

// Pruner удаляет старые снимки курсов
type Pruner interface {
	PruneSnapshots(ctx context.Context, keep int) (int64, error)
}

// Config настройки цикла обновления
type Config struct {
	UpdateInterval time.Duration
	RetryInterval  time.Duration
	// Retention сколько снимков хранить, 0 отключает очистку
	Retention int
	Fallback  storages.RateTriple
	// Fetch политика повторов одного запроса к источнику
	Fetch retry.Policy
}

// DefaultConfig возвращает настройки по умолчанию: 30s, 60s после ошибки, 3 попытки 1s/2s
func DefaultConfig() Config {
	return Config{
		UpdateInterval: DefaultUpdateInterval,
		RetryInterval:  DefaultRetryInterval,
		Retention:      DefaultRetention,
		Fallback:       FallbackRates,
		Fetch: retry.Policy{
			Attempts:  3,
			BaseDelay: time.Second,
			MaxDelay:  4 * time.Second,
		},
	}
}

// Feed цикл обновления курсов
type Feed struct {
	source Source
	cache  *cache.RatesCache
	pruner Pruner
	cfg    Config
	logger *logrus.Logger
}

// NewFeed создает цикл обновления. pruner может быть nil.
func NewFeed(source Source, ratesCache *cache.RatesCache, pruner Pruner, cfg Config, logger *logrus.Logger) *Feed {
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = DefaultUpdateInterval
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.Fallback.Validate() != nil {
		cfg.Fallback = FallbackRates
	}

	return &Feed{
		source: source,
		cache:  ratesCache,
		pruner: pruner,
		cfg:    cfg,
		logger: logger,
	}
}

// Run обновляет курсы сразу и далее по расписанию, пока не отменен ctx
func (f *Feed) Run(ctx context.Context) {
	f.logger.Infof("Rate feed started (interval %s, retry %s)", f.cfg.UpdateInterval, f.cfg.RetryInterval)

	for {
		next := f.cfg.UpdateInterval
		if err := f.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			next = f.cfg.RetryInterval
		}

		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			f.logger.Info("Rate feed stopped")
			return
		case <-timer.C:
		}
	}
	f.logger.Info("Rate feed stopped")
}

// Refresh выполняет один цикл обновления. При неудаче кеш продолжает отдавать
// последний снимок, а если его нет, в кеш записываются резервные курсы.
func (f *Feed) Refresh(ctx context.Context) error {
	policy := f.cfg.Fetch
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		f.logger.Warnf("Rate fetch attempt %d failed, retrying in %s: %v", attempt, delay, err)
	}

	var rates storages.RateTriple
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		var err error
		rates, err = f.source.FetchRates(ctx)
		return err
	})
	if err != nil {
		f.logger.Errorf("Failed to fetch rates: %v", err)
		f.useFallback(ctx)
		return err
	}

	snapshot, err := f.cache.Record(ctx, rates)
	if err != nil {
		f.logger.Errorf("Rejected rates from source: %v", err)
		f.useFallback(ctx)
		return err
	}
	f.logger.Infof("Rates refreshed: usd/uah=%s btc/usd=%s eth/usd=%s",
		snapshot.USDToUAH, snapshot.BTCToUSD, snapshot.ETHToUSD)

	if f.pruner != nil && f.cfg.Retention > 0 {
		if _, err := f.pruner.PruneSnapshots(ctx, f.cfg.Retention); err != nil {
			f.logger.Warnf("Failed to prune rate snapshots: %v", err)
		}
	}
	return nil
}

func (f *Feed) useFallback(ctx context.Context) {
	if !f.cache.IsEmpty() {
		if age, ok := f.cache.Age(); ok {
			f.logger.Warnf("Serving last known rates (age %s)", age.Round(time.Second))
		}
		return
	}

	if _, err := f.cache.Record(ctx, f.cfg.Fallback); err != nil {
		f.logger.Errorf("Failed to record fallback rates: %v", err)
		return
	}
	f.logger.Warn("No rates available yet, using fallback rates")
}
