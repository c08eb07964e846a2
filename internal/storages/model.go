package storages

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Currency денежная единица, в которой ведется баланс или сумма операции
type Currency string

const (
	CurrencyUAH Currency = "UAH"
	CurrencyUSD Currency = "USD"
	CurrencyBTC Currency = "BTC"
	CurrencyETH Currency = "ETH"
)

// Precision возвращает количество знаков после запятой для валюты
func (c Currency) Precision() int32 {
	if c.IsCrypto() {
		return 8
	}
	return 2
}

// IsCrypto сообщает, является ли валюта криптоактивом
func (c Currency) IsCrypto() bool {
	return c == CurrencyBTC || c == CurrencyETH
}

// Round округляет сумму до точности валюты
func (c Currency) Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(c.Precision())
}

// Format форматирует сумму с фиксированной точностью и кодом валюты
func (c Currency) Format(amount decimal.Decimal) string {
	return amount.StringFixed(c.Precision()) + " " + string(c)
}

// ParseCurrency разбирает код валюты без учета регистра
func ParseCurrency(s string) (Currency, error) {
	switch c := Currency(strings.ToUpper(strings.TrimSpace(s))); c {
	case CurrencyUAH, CurrencyUSD, CurrencyBTC, CurrencyETH:
		return c, nil
	}
	return "", fmt.Errorf("unsupported currency: %q", s)
}

// ParseCryptoAsset разбирает код криптоактива (btc|eth)
func ParseCryptoAsset(s string) (Currency, error) {
	c, err := ParseCurrency(s)
	if err != nil || !c.IsCrypto() {
		return "", fmt.Errorf("unsupported crypto asset: %q", s)
	}
	return c, nil
}

// AccountKind тип карты. Крипто-карта хранит независимые BTC и ETH балансы
type AccountKind string

const (
	AccountKindUAH    AccountKind = "uah"
	AccountKindUSD    AccountKind = "usd"
	AccountKindCrypto AccountKind = "crypto"
)

// Currency возвращает валюту, в которой карта отправляет переводы.
// Для крипто-карты это BTC.
func (k AccountKind) Currency() Currency {
	switch k {
	case AccountKindUAH:
		return CurrencyUAH
	case AccountKindUSD:
		return CurrencyUSD
	default:
		return CurrencyBTC
	}
}

// ParseAccountKind разбирает тип карты
func ParseAccountKind(s string) (AccountKind, error) {
	switch k := AccountKind(strings.ToLower(strings.TrimSpace(s))); k {
	case AccountKindUAH, AccountKindUSD, AccountKindCrypto:
		return k, nil
	}
	return "", fmt.Errorf("unknown account kind: %q", s)
}

// User пользователь системы. Ровно один пользователь является регулятором
// и накапливает комиссии в BTC.
type User struct {
	ID               int64           `db:"id" json:"id"`
	Username         string          `db:"username" json:"username"`
	PasswordHash     string          `db:"password_hash" json:"-"`
	IsRegulator      bool            `db:"is_regulator" json:"is_regulator"`
	RegulatorBalance decimal.Decimal `db:"regulator_balance" json:"regulator_balance"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// Account карта пользователя
type Account struct {
	ID         int64           `db:"id" json:"id"`
	UserID     int64           `db:"user_id" json:"user_id"`
	Kind       AccountKind     `db:"kind" json:"kind"`
	Number     string          `db:"number" json:"number"`
	Expiry     string          `db:"expiry" json:"expiry"`
	Balance    decimal.Decimal `db:"balance" json:"balance"`
	BTCBalance decimal.Decimal `db:"btc_balance" json:"btc_balance"`
	ETHBalance decimal.Decimal `db:"eth_balance" json:"eth_balance"`
	BTCAddress string          `db:"btc_address" json:"btc_address,omitempty"`
	ETHAddress string          `db:"eth_address" json:"eth_address,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// IsCrypto сообщает, является ли карта криптовалютной
func (a *Account) IsCrypto() bool {
	return a.Kind == AccountKindCrypto
}

// Holds сообщает, может ли карта хранить баланс в указанной валюте
func (a *Account) Holds(c Currency) bool {
	if a.IsCrypto() {
		return c.IsCrypto()
	}
	return a.Kind.Currency() == c
}

// BalanceOf возвращает баланс карты в указанной валюте
func (a *Account) BalanceOf(c Currency) (decimal.Decimal, error) {
	if !a.Holds(c) {
		return decimal.Zero, fmt.Errorf("account %d (%s) holds no %s balance", a.ID, a.Kind, c)
	}
	switch c {
	case CurrencyBTC:
		return a.BTCBalance, nil
	case CurrencyETH:
		return a.ETHBalance, nil
	default:
		return a.Balance, nil
	}
}

// TransactionKind тип записи журнала
type TransactionKind string

const (
	TransactionKindTransfer       TransactionKind = "transfer"
	TransactionKindCryptoTransfer TransactionKind = "crypto_transfer"
	TransactionKindCommission     TransactionKind = "commission"
	TransactionKindExchange       TransactionKind = "exchange"
)

// TransactionStatus статус записи журнала
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// RegulatorMarker записывается в номер получателя комиссионной записи
const RegulatorMarker = "REGULATOR"

// Transaction неизменяемая запись журнала операций
type Transaction struct {
	ID                int64             `db:"id" json:"id"`
	FromAccountID     int64             `db:"from_account_id" json:"from_account_id"`
	ToAccountID       *int64            `db:"to_account_id" json:"to_account_id,omitempty"`
	BeneficiaryUserID *int64            `db:"beneficiary_user_id" json:"beneficiary_user_id,omitempty"`
	FromNumber        string            `db:"from_number" json:"from_number"`
	ToNumber          string            `db:"to_number" json:"to_number,omitempty"`
	Amount            decimal.Decimal   `db:"amount" json:"amount"`
	Currency          Currency          `db:"currency" json:"currency"`
	ConvertedAmount   decimal.Decimal   `db:"converted_amount" json:"converted_amount"`
	ConvertedCurrency Currency          `db:"converted_currency" json:"converted_currency"`
	Kind              TransactionKind   `db:"kind" json:"kind"`
	Status            TransactionStatus `db:"status" json:"status"`
	Description       string            `db:"description" json:"description"`
	Wallet            string            `db:"wallet" json:"wallet,omitempty"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
}

// RateTriple набор курсов, поставляемый источником
type RateTriple struct {
	USDToUAH decimal.Decimal `json:"usd_to_uah"`
	BTCToUSD decimal.Decimal `json:"btc_to_usd"`
	ETHToUSD decimal.Decimal `json:"eth_to_usd"`
}

// Validate проверяет, что все курсы положительные
func (t RateTriple) Validate() error {
	if !t.USDToUAH.IsPositive() || !t.BTCToUSD.IsPositive() || !t.ETHToUSD.IsPositive() {
		return fmt.Errorf("rates must be positive: usd/uah=%s btc/usd=%s eth/usd=%s",
			t.USDToUAH, t.BTCToUSD, t.ETHToUSD)
	}
	return nil
}

// RateSnapshot сохраненный набор курсов с моментом фиксации
type RateSnapshot struct {
	ID int64 `db:"id" json:"id"`
	RateTriple
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// TransferEvent событие о крупной операции для Kafka и архива MongoDB
type TransferEvent struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	EventID       string             `bson:"event_id" json:"event_id"`
	TransactionID int64              `bson:"transaction_id" json:"transaction_id"`
	UserID        int64              `bson:"user_id" json:"user_id"`
	Kind          TransactionKind    `bson:"kind" json:"kind"`
	FromCurrency  Currency           `bson:"from_currency" json:"from_currency"`
	ToCurrency    Currency           `bson:"to_currency" json:"to_currency"`
	Amount        string             `bson:"amount" json:"amount"`
	USDEquivalent string             `bson:"usd_equivalent" json:"usd_equivalent"`
	Timestamp     time.Time          `bson:"timestamp" json:"timestamp"`
	ProcessedAt   time.Time          `bson:"processed_at,omitempty" json:"-"`
}

// EventStatistics статистика архива событий
type EventStatistics struct {
	TotalProcessed  int64     `bson:"total_processed" json:"total_processed"`
	TotalUSD        float64   `bson:"total_usd" json:"total_usd"`
	AverageUSD      float64   `bson:"average_usd" json:"average_usd"`
	LastProcessedAt time.Time `bson:"last_processed_at" json:"last_processed_at"`
	ProcessingRate  float64   `json:"processing_rate"`
}
