package retry

import (
	"context"
	"time"
)

const (
	DefaultAttempts  = 3
	DefaultBaseDelay = 200 * time.Millisecond
	DefaultMaxDelay  = 5 * time.Second
)

// Policy политика повторов с экспоненциальной задержкой
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Retryable решает, стоит ли повторять ошибку. nil означает "повторять любую".
	Retryable func(error) bool
	// OnRetry вызывается перед ожиданием очередной попытки
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy возвращает политику по умолчанию: 3 попытки, 200ms, 400ms
func DefaultPolicy() Policy {
	return Policy{
		Attempts:  DefaultAttempts,
		BaseDelay: DefaultBaseDelay,
		MaxDelay:  DefaultMaxDelay,
	}
}

// Backoff возвращает задержку перед попыткой n (с нуля): base * 2^n, не больше max
func Backoff(base, max time.Duration, n int) time.Duration {
	if n < 0 {
		return base
	}
	// 2^30 * base заведомо больше любого разумного max
	if n > 30 {
		return max
	}
	d := base * time.Duration(1<<n)
	if max > 0 && (d > max || d <= 0) {
		return max
	}
	return d
}

// Do выполняет fn с повторами согласно политике
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}

		delay := Backoff(p.BaseDelay, p.MaxDelay, i)
		if p.OnRetry != nil {
			p.OnRetry(i+1, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
