package storages

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("not found")
	// ErrConflict нарушено ограничение уникальности
	ErrConflict = errors.New("conflict")
	// ErrHasHistory пользователь не может быть удален, у его карт есть операции
	ErrHasHistory = errors.New("user has transaction history")
	// ErrCommit исход фиксации неизвестен, повторять единицу работы нельзя
	ErrCommit = errors.New("commit failed")
)

// TransientError временный сбой хранилища, операцию можно повторить
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient сообщает, является ли ошибка временным сбоем хранилища
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// AccountReader операции чтения пользователей и карт
type AccountReader interface {
	GetUserByID(ctx context.Context, userID int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetRegulator(ctx context.Context) (*User, error)
	GetAccountByID(ctx context.Context, accountID int64) (*Account, error)
	GetAccountByNumber(ctx context.Context, number string) (*Account, error)
	// FindAccount ищет карту по номеру, BTC или ETH адресу
	FindAccount(ctx context.Context, ref string) (*Account, error)
	GetAccountsByUser(ctx context.Context, userID int64) ([]Account, error)
}

// TransactionReader чтение журнала операций
type TransactionReader interface {
	// ListTransactions возвращает операции, где карта отправитель или получатель,
	// от новых к старым. limit <= 0 означает без ограничения.
	ListTransactions(ctx context.Context, accountIDs []int64, limit int) ([]Transaction, error)
	// GetTransaction возвращает запись журнала по ID
	GetTransaction(ctx context.Context, id int64) (*Transaction, error)
}

// SnapshotStore хранилище снимков курсов
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, rates RateTriple) (*RateSnapshot, error)
	LatestSnapshot(ctx context.Context) (*RateSnapshot, error)
	// PruneSnapshots оставляет keep последних снимков и возвращает число удаленных
	PruneSnapshots(ctx context.Context, keep int) (int64, error)
}

// Storage определяет интерфейс хранилища счетов и журнала операций
type Storage interface {
	AccountReader
	TransactionReader
	SnapshotStore

	// CreateUserWithAccounts атомарно создает пользователя и его карты
	CreateUserWithAccounts(ctx context.Context, user *User, accounts []*Account) error
	// DeleteUser удаляет пользователя каскадно вместе с картами
	DeleteUser(ctx context.Context, userID int64) error

	// RunInTx выполняет fn как единицу работы. Фиксация происходит только
	// если fn вернул nil, в остальных случаях все изменения откатываются.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	Ping(ctx context.Context) error
	Close() error
}

// Tx операции внутри единицы работы. Порядок блокировок всегда:
// карты по возрастанию id, затем регулятор, затем журнал.
type Tx interface {
	FindAccount(ctx context.Context, ref string) (*Account, error)
	// LockAccounts блокирует карты в порядке возрастания id
	LockAccounts(ctx context.Context, ids ...int64) (map[int64]*Account, error)
	LockRegulator(ctx context.Context) (*User, error)

	SetBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error
	SetCryptoBalance(ctx context.Context, accountID int64, asset Currency, balance decimal.Decimal) error
	SetRegulatorBalance(ctx context.Context, userID int64, balance decimal.Decimal) error

	// AppendTransaction добавляет запись в журнал и присваивает ей следующий id
	AppendTransaction(ctx context.Context, t *Transaction) error
}

// EventStore архив событий о крупных операциях
type EventStore interface {
	// SaveEventBatch сохраняет пакет событий. Повторно доставленные события
	// (тот же event_id) пропускаются. Возвращает число новых записей.
	SaveEventBatch(ctx context.Context, events []TransferEvent) (int, error)
	GetEventsByUser(ctx context.Context, userID int64, limit int) ([]TransferEvent, error)
	GetRecentEvents(ctx context.Context, limit int) ([]TransferEvent, error)
	GetStatistics(ctx context.Context) (*EventStatistics, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
