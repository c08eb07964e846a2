package ledger

import (
	"errors"
	"fmt"

	"card-ledger/internal/storages"
	"github.com/shopspring/decimal"
)

var (
	// ErrRegulatorMissing в системе нет пользователя-регулятора
	ErrRegulatorMissing = errors.New("regulator is not configured")
	// ErrRatesUnavailable ни одного снимка курсов еще не было
	ErrRatesUnavailable = errors.New("exchange rates are not available")
	// ErrInvalidAddress адрес не соответствует формату актива
	ErrInvalidAddress = errors.New("invalid crypto address")
	// ErrUnsupportedConversion для пары валют нет правила конвертации
	ErrUnsupportedConversion = errors.New("unsupported currency conversion")
)

// ValidationError некорректные входные данные
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError карта или получатель не найдены
type NotFoundError struct {
	Entity string
	Ref    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.Ref)
}

// InsufficientFundsError на балансе источника недостаточно средств
type InsufficientFundsError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
	Currency  storages.Currency
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %s, available: %s",
		e.Currency.Format(e.Required), e.Currency.Format(e.Available))
}

// StoreError сбой хранилища. Retryable означает, что единица работы
// откатилась и ее можно повторить целиком.
type StoreError struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error during %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsRetryable сообщает, можно ли безопасно повторить операцию
func IsRetryable(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Retryable
}
