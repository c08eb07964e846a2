// Package ledger перемещает средства между картами в разных валютах:
// проверяет запрос, считает конвертацию и комиссию, атомарно меняет балансы
// и записывает операции в журнал.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"card-ledger/internal/retry"
	"card-ledger/internal/storages"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DefaultCommissionRate комиссия 1% от суммы перевода
var DefaultCommissionRate = decimal.RequireFromString("0.01")

// DefaultPublishTimeout ограничение на публикацию одного события
const DefaultPublishTimeout = 2 * time.Second

// RatesProvider источник текущего снимка курсов
type RatesProvider interface {
	Latest() (storages.RateSnapshot, bool)
}

// EventPublisher получает события о зафиксированных операциях
type EventPublisher interface {
	PublishTransfer(ctx context.Context, event storages.TransferEvent, usdEquivalent decimal.Decimal) error
}

// Config настройки движка
type Config struct {
	CommissionRate decimal.Decimal
	// Retry политика повтора единицы работы, откатившейся из-за временного сбоя
	Retry retry.Policy
	// PublishTimeout сколько ответ ждет публикации события после фиксации
	PublishTimeout time.Duration
}

// Engine движок переводов
type Engine struct {
	store          storages.Storage
	rates          RatesProvider
	publisher      EventPublisher
	commissionRate decimal.Decimal
	retryPolicy    retry.Policy
	publishTimeout time.Duration
	logger         *logrus.Logger
}

// Option настраивает движок
type Option func(*Engine)

// WithPublisher подключает публикацию событий после фиксации
func WithPublisher(p EventPublisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// NewEngine создает движок переводов
func NewEngine(store storages.Storage, rates RatesProvider, cfg Config, logger *logrus.Logger, opts ...Option) *Engine {
	if !cfg.CommissionRate.IsPositive() {
		cfg.CommissionRate = DefaultCommissionRate
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}

	e := &Engine{
		store:          store,
		rates:          rates,
		commissionRate: cfg.CommissionRate,
		retryPolicy:    cfg.Retry,
		publishTimeout: cfg.PublishTimeout,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// posting рассчитанный план изменений одной операции
type posting struct {
	source         *storages.Account
	sourceCurrency storages.Currency
	debit          decimal.Decimal
	available      decimal.Decimal

	dest         *storages.Account
	destCurrency storages.Currency
	credit       decimal.Decimal

	regulator       *storages.User
	regulatorCredit decimal.Decimal

	principal  *storages.Transaction
	commission *storages.Transaction

	usdEquivalent decimal.Decimal
	hasUSD        bool
}

// commissionFor комиссия в валюте источника, округленная до ее точности
func (e *Engine) commissionFor(amount decimal.Decimal, currency storages.Currency) decimal.Decimal {
	return currency.Round(amount.Mul(e.commissionRate))
}

// latestRates возвращает текущие курсы или ErrRatesUnavailable
func (e *Engine) latestRates() (storages.RateTriple, error) {
	snapshot, ok := e.rates.Latest()
	if !ok {
		return storages.RateTriple{}, ErrRatesUnavailable
	}
	return snapshot.RateTriple, nil
}

// runUnit выполняет единицу работы. Повторяется только единица, которая
// откатилась из-за временного сбоя. Сбой фиксации не повторяется.
func (e *Engine) runUnit(ctx context.Context, op string, fn func(tx storages.Tx) error) error {
	policy := e.retryPolicy
	policy.Retryable = func(err error) bool {
		return storages.IsTransient(err) && !errors.Is(err, storages.ErrCommit)
	}
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		e.logger.Warnf("%s aborted by transient store failure (attempt %d), retrying in %s: %v", op, attempt, delay, err)
	}

	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		return e.store.RunInTx(ctx, fn)
	})
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, storages.ErrCommit):
		return &StoreError{Op: op, Err: err}
	case storages.IsTransient(err):
		return &StoreError{Op: op, Err: err, Retryable: true}
	}
	return err
}

// lockPair блокирует источник и получателя, dest может отсутствовать
func lockPair(ctx context.Context, tx storages.Tx, sourceID int64, dest *storages.Account) (*storages.Account, *storages.Account, error) {
	ids := []int64{sourceID}
	if dest != nil {
		ids = append(ids, dest.ID)
	}

	locked, err := tx.LockAccounts(ctx, ids...)
	if err != nil {
		if errors.Is(err, storages.ErrNotFound) {
			return nil, nil, &NotFoundError{Entity: "account", Ref: fmt.Sprint(sourceID)}
		}
		return nil, nil, err
	}

	source := locked[sourceID]
	if dest == nil {
		return source, nil, nil
	}
	return source, locked[dest.ID], nil
}

// lockRegulator блокирует регулятора, отсутствие регулятора дает ErrRegulatorMissing
func lockRegulator(ctx context.Context, tx storages.Tx) (*storages.User, error) {
	regulator, err := tx.LockRegulator(ctx)
	if errors.Is(err, storages.ErrNotFound) {
		return nil, ErrRegulatorMissing
	}
	return regulator, err
}

// findDestination ищет карту получателя, nil означает внешнего получателя
func findDestination(ctx context.Context, tx storages.Tx, ref string) (*storages.Account, error) {
	dest, err := tx.FindAccount(ctx, ref)
	if errors.Is(err, storages.ErrNotFound) {
		return nil, nil
	}
	return dest, err
}

// checkFunds проверяет, что баланс источника покрывает списание
func checkFunds(p *posting) error {
	available, err := p.source.BalanceOf(p.sourceCurrency)
	if err != nil {
		return invalid("source", "%v", err)
	}
	if available.LessThan(p.debit) {
		return &InsufficientFundsError{Required: p.debit, Available: available, Currency: p.sourceCurrency}
	}
	p.available = available
	return nil
}

func setAccountBalance(ctx context.Context, tx storages.Tx, account *storages.Account, currency storages.Currency, balance decimal.Decimal) error {
	if account.IsCrypto() {
		return tx.SetCryptoBalance(ctx, account.ID, currency, balance)
	}
	return tx.SetBalance(ctx, account.ID, balance)
}

// apply применяет план: списание, зачисление, комиссия регулятору и две записи журнала
func (e *Engine) apply(ctx context.Context, tx storages.Tx, p *posting) error {
	if err := setAccountBalance(ctx, tx, p.source, p.sourceCurrency, p.available.Sub(p.debit)); err != nil {
		return fmt.Errorf("debit source: %w", err)
	}

	if p.dest != nil {
		current, err := p.dest.BalanceOf(p.destCurrency)
		if err != nil {
			return invalid("destination", "%v", err)
		}
		if err := setAccountBalance(ctx, tx, p.dest, p.destCurrency, current.Add(p.credit)); err != nil {
			return fmt.Errorf("credit destination: %w", err)
		}
	}

	if err := tx.SetRegulatorBalance(ctx, p.regulator.ID, p.regulator.RegulatorBalance.Add(p.regulatorCredit)); err != nil {
		return fmt.Errorf("credit regulator: %w", err)
	}

	p.principal.Status = storages.TransactionStatusCompleted
	if err := tx.AppendTransaction(ctx, p.principal); err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}

	regulatorID := p.regulator.ID
	p.commission = &storages.Transaction{
		FromAccountID:     p.source.ID,
		BeneficiaryUserID: &regulatorID,
		FromNumber:        p.source.Number,
		ToNumber:          storages.RegulatorMarker,
		Amount:            p.debit.Sub(p.principal.Amount),
		Currency:          p.sourceCurrency,
		ConvertedAmount:   p.regulatorCredit,
		ConvertedCurrency: storages.CurrencyBTC,
		Kind:              storages.TransactionKindCommission,
		Status:            storages.TransactionStatusCompleted,
		Description:       fmt.Sprintf("Commission %s for transaction #%d", e.commissionRate.Shift(2).String()+"%", p.principal.ID),
	}
	if err := tx.AppendTransaction(ctx, p.commission); err != nil {
		return fmt.Errorf("append commission: %w", err)
	}
	return nil
}

// published отправляет событие после фиксации, ошибки публикации не влияют на результат
func (e *Engine) published(ctx context.Context, p *posting) {
	if e.publisher == nil || !p.hasUSD {
		return
	}

	event := storages.TransferEvent{
		EventID:       uuid.NewString(),
		TransactionID: p.principal.ID,
		UserID:        p.source.UserID,
		Kind:          p.principal.Kind,
		FromCurrency:  p.principal.Currency,
		ToCurrency:    p.principal.ConvertedCurrency,
		Amount:        p.principal.Amount.String(),
		USDEquivalent: p.usdEquivalent.StringFixed(2),
		Timestamp:     p.principal.CreatedAt,
	}
	// операция уже зафиксирована, отмена запроса не должна обрывать публикацию
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.publishTimeout)
	defer cancel()

	if err := e.publisher.PublishTransfer(ctx, event, p.usdEquivalent); err != nil {
		e.logger.Warnf("Failed to publish event for transaction %d: %v", p.principal.ID, err)
	}
}

// valueInUSD заполняет долларовую оценку операции, если курсы известны
func (e *Engine) valueInUSD(p *posting) {
	rates, err := e.latestRates()
	if err != nil {
		return
	}
	p.usdEquivalent = usdValue(p.principal.Amount, p.sourceCurrency, rates)
	p.hasUSD = true
}
