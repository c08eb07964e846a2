package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"card-ledger/internal/ledger"
	"card-ledger/internal/storages"
	"card-ledger/pkg"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrUsernameTaken пользователь с таким именем уже существует
	ErrUsernameTaken = errors.New("username already exists")
	// ErrRegulatorProtected регулятора нельзя удалить
	ErrRegulatorProtected = errors.New("regulator cannot be deleted")
	// ErrUserHasHistory у карт пользователя есть операции
	ErrUserHasHistory = errors.New("user has transaction history and cannot be deleted")
)

// registerAttempts попытки выпустить карты, если сгенерированный номер уже занят
const registerAttempts = 3

// TransferKind вид перевода
type TransferKind string

const (
	TransferKindFiat   TransferKind = "fiat"
	TransferKindCrypto TransferKind = "crypto"
)

// TransferInput параметры перевода
type TransferInput struct {
	FromAccountID int64
	Destination   string
	Amount        decimal.Decimal
	Kind          TransferKind
	CryptoAsset   string
}

// TransferResult результат перевода. Ошибка не пробрасывается наружу,
// а возвращается как success=false и текст ошибки.
type TransferResult struct {
	Success     bool                  `json:"success"`
	Transaction *storages.Transaction `json:"transaction,omitempty"`
	Error       string                `json:"error,omitempty"`

	// Err исходная ошибка для классификации на границе
	Err error `json:"-"`
}

// ExchangeInput параметры обмена
type ExchangeInput struct {
	FromCurrency        string
	ToCurrency          string
	FromAmount          decimal.Decimal
	DestinationAccount  string
	SourceCryptoAccount int64
}

// Option настраивает сервис
type Option func(*LedgerService)

// WithPasswordCost задает стоимость bcrypt
func WithPasswordCost(cost int) Option {
	return func(s *LedgerService) {
		s.passwordCost = cost
	}
}

// LedgerService сервисный слой поверх движка переводов
type LedgerService struct {
	storage      storages.Storage
	engine       *ledger.Engine
	rates        ledger.RatesProvider
	logger       *logrus.Logger
	passwordCost int
}

// NewLedgerService создает новый экземпляр сервиса
func NewLedgerService(
	storage storages.Storage,
	engine *ledger.Engine,
	rates ledger.RatesProvider,
	logger *logrus.Logger,
	opts ...Option,
) *LedgerService {
	s := &LedgerService{
		storage:      storage,
		engine:       engine,
		rates:        rates,
		logger:       logger,
		passwordCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transfer выполняет фиатный или криптовалютный перевод
func (s *LedgerService) Transfer(ctx context.Context, in TransferInput) *TransferResult {
	var (
		tx  *storages.Transaction
		err error
	)

	switch in.Kind {
	case TransferKindFiat, "":
		tx, err = s.engine.TransferSameOrCrossCurrency(ctx, ledger.TransferRequest{
			FromAccountID: in.FromAccountID,
			To:            in.Destination,
			Amount:        in.Amount,
		})
	case TransferKindCrypto:
		asset, parseErr := storages.ParseCryptoAsset(in.CryptoAsset)
		if parseErr != nil {
			err = &ledger.ValidationError{Field: "crypto_asset", Message: parseErr.Error()}
			break
		}
		tx, err = s.engine.TransferCrypto(ctx, ledger.CryptoTransferRequest{
			FromAccountID: in.FromAccountID,
			To:            in.Destination,
			Amount:        in.Amount,
			Asset:         asset,
		})
	default:
		err = &ledger.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown transfer kind %q", in.Kind)}
	}

	if err != nil {
		return &TransferResult{Success: false, Error: err.Error(), Err: err}
	}
	return &TransferResult{Success: true, Transaction: tx}
}

// CreateExchange обменивает криптоактив с крипто-карты на фиат
func (s *LedgerService) CreateExchange(ctx context.Context, in ExchangeInput) (*storages.Transaction, error) {
	from, err := storages.ParseCurrency(in.FromCurrency)
	if err != nil {
		return nil, &ledger.ValidationError{Field: "from_currency", Message: err.Error()}
	}
	to, err := storages.ParseCurrency(in.ToCurrency)
	if err != nil {
		return nil, &ledger.ValidationError{Field: "to_currency", Message: err.Error()}
	}

	return s.engine.CreateExchange(ctx, ledger.ExchangeRequest{
		SourceAccountID:    in.SourceCryptoAccount,
		FromCurrency:       from,
		ToCurrency:         to,
		FromAmount:         in.FromAmount,
		DestinationAccount: in.DestinationAccount,
	})
}

// ListTransactions возвращает операции по картам, от новых к старым
func (s *LedgerService) ListTransactions(ctx context.Context, accountIDs []int64, limit int) ([]storages.Transaction, error) {
	if len(accountIDs) == 0 {
		return nil, &ledger.ValidationError{Field: "account_id", Message: "at least one account id is required"}
	}

	txs, err := s.storage.ListTransactions(ctx, accountIDs, limit)
	if err != nil {
		s.logger.Errorf("Failed to list transactions for accounts %v: %v", accountIDs, err)
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	if txs == nil {
		txs = []storages.Transaction{}
	}
	return txs, nil
}

// GetTransaction возвращает запись журнала по ID
func (s *LedgerService) GetTransaction(ctx context.Context, id int64) (*storages.Transaction, error) {
	if id <= 0 {
		return nil, &ledger.ValidationError{Field: "id", Message: "must be positive"}
	}

	tx, err := s.storage.GetTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, storages.ErrNotFound) {
			return nil, &ledger.NotFoundError{Entity: "transaction", Ref: fmt.Sprint(id)}
		}
		s.logger.Errorf("Failed to get transaction %d: %v", id, err)
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// GetLatestRates возвращает текущий снимок курсов
func (s *LedgerService) GetLatestRates(_ context.Context) (*storages.RateSnapshot, error) {
	snapshot, ok := s.rates.Latest()
	if !ok {
		return nil, ledger.ErrRatesUnavailable
	}
	return &snapshot, nil
}

// RegisterUser создает пользователя и три карты: крипто, USD и UAH
func (s *LedgerService) RegisterUser(ctx context.Context, username, password string) (*storages.User, []storages.Account, error) {
	username = strings.TrimSpace(username)
	if _, err := s.storage.GetUserByUsername(ctx, username); err == nil {
		return nil, nil, ErrUsernameTaken
	} else if !errors.Is(err, storages.ErrNotFound) {
		return nil, nil, fmt.Errorf("failed to check username: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.passwordCost)
	if err != nil {
		s.logger.Errorf("Failed to hash password: %v", err)
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}

	for attempt := 1; ; attempt++ {
		user := &storages.User{Username: username, PasswordHash: string(hash)}
		accounts, err := issueCards(time.Now())
		if err != nil {
			return nil, nil, err
		}

		err = s.storage.CreateUserWithAccounts(ctx, user, accounts)
		if err == nil {
			s.logger.Infof("User registered successfully: %s (id=%d)", username, user.ID)
			result := make([]storages.Account, len(accounts))
			for i, a := range accounts {
				result[i] = *a
			}
			return user, result, nil
		}

		if !errors.Is(err, storages.ErrConflict) {
			return nil, nil, fmt.Errorf("failed to create user: %w", err)
		}
		if _, lookupErr := s.storage.GetUserByUsername(ctx, username); lookupErr == nil {
			return nil, nil, ErrUsernameTaken
		}
		if attempt == registerAttempts {
			return nil, nil, fmt.Errorf("failed to issue unique cards: %w", err)
		}
		s.logger.Warnf("Generated card collided with an existing one, retrying (attempt %d)", attempt)
	}
}

// issueCards выпускает крипто, USD и UAH карты с депозитными адресами
func issueCards(now time.Time) ([]*storages.Account, error) {
	expiry := pkg.CardExpiry(now)

	numbers := make([]string, 0, 3)
	for _, prefix := range []string{pkg.CryptoCardPrefix, pkg.USDCardPrefix, pkg.UAHCardPrefix} {
		number, err := pkg.GenerateCardNumber(prefix)
		if err != nil {
			return nil, err
		}
		numbers = append(numbers, number)
	}

	btcAddress, err := pkg.GenerateBTCAddress()
	if err != nil {
		return nil, err
	}
	ethAddress, err := pkg.GenerateETHAddress()
	if err != nil {
		return nil, err
	}

	return []*storages.Account{
		{Kind: storages.AccountKindCrypto, Number: numbers[0], Expiry: expiry, BTCAddress: btcAddress, ETHAddress: ethAddress},
		{Kind: storages.AccountKindUSD, Number: numbers[1], Expiry: expiry},
		{Kind: storages.AccountKindUAH, Number: numbers[2], Expiry: expiry},
	}, nil
}

// EnsureRegulator возвращает регулятора, создавая его при первом запуске
func (s *LedgerService) EnsureRegulator(ctx context.Context, username, password string) (*storages.User, error) {
	regulator, err := s.storage.GetRegulator(ctx)
	if err == nil {
		return regulator, nil
	}
	if !errors.Is(err, storages.ErrNotFound) {
		return nil, fmt.Errorf("failed to get regulator: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.passwordCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	regulator = &storages.User{
		Username:     username,
		PasswordHash: string(hash),
		IsRegulator:  true,
	}
	if err := s.storage.CreateUserWithAccounts(ctx, regulator, nil); err != nil {
		if errors.Is(err, storages.ErrConflict) {
			// регулятор мог появиться параллельно
			if existing, getErr := s.storage.GetRegulator(ctx); getErr == nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to create regulator: %w", err)
	}

	s.logger.Infof("Regulator %s created", username)
	return regulator, nil
}

// GetUserAccounts возвращает карты пользователя
func (s *LedgerService) GetUserAccounts(ctx context.Context, userID int64) ([]storages.Account, error) {
	if _, err := s.storage.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, storages.ErrNotFound) {
			return nil, &ledger.NotFoundError{Entity: "user", Ref: fmt.Sprint(userID)}
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	accounts, err := s.storage.GetAccountsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get accounts: %w", err)
	}
	return accounts, nil
}

// DeleteUser удаляет пользователя вместе с картами. Регулятор и пользователи
// с историей операций не удаляются.
func (s *LedgerService) DeleteUser(ctx context.Context, userID int64) error {
	user, err := s.storage.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storages.ErrNotFound) {
			return &ledger.NotFoundError{Entity: "user", Ref: fmt.Sprint(userID)}
		}
		return fmt.Errorf("failed to get user: %w", err)
	}
	if user.IsRegulator {
		return ErrRegulatorProtected
	}

	if err := s.storage.DeleteUser(ctx, userID); err != nil {
		switch {
		case errors.Is(err, storages.ErrHasHistory):
			return ErrUserHasHistory
		case errors.Is(err, storages.ErrNotFound):
			return &ledger.NotFoundError{Entity: "user", Ref: fmt.Sprint(userID)}
		}
		return fmt.Errorf("failed to delete user: %w", err)
	}

	s.logger.Infof("User %d deleted", userID)
	return nil
}
