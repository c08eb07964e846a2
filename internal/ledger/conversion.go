package ledger

import (
	"fmt"

	"card-ledger/internal/storages"
	"github.com/shopspring/decimal"
)

// hop один шаг конвертации: умножение или деление на курс из снимка
type hop struct {
	rate   func(storages.RateTriple) decimal.Decimal
	divide bool
}

func usdToUah(r storages.RateTriple) decimal.Decimal { return r.USDToUAH }
func btcToUsd(r storages.RateTriple) decimal.Decimal { return r.BTCToUSD }
func ethToUsd(r storages.RateTriple) decimal.Decimal { return r.ETHToUSD }

type currencyPair struct {
	from storages.Currency
	to   storages.Currency
}

// conversions граф конвертации. Пары вне таблицы не конвертируются.
var conversions = map[currencyPair][]hop{
	{storages.CurrencyUSD, storages.CurrencyUAH}: {{rate: usdToUah}},
	{storages.CurrencyUAH, storages.CurrencyUSD}: {{rate: usdToUah, divide: true}},
	{storages.CurrencyBTC, storages.CurrencyUSD}: {{rate: btcToUsd}},
	{storages.CurrencyUSD, storages.CurrencyBTC}: {{rate: btcToUsd, divide: true}},
	{storages.CurrencyBTC, storages.CurrencyUAH}: {{rate: btcToUsd}, {rate: usdToUah}},
	{storages.CurrencyETH, storages.CurrencyUAH}: {{rate: ethToUsd}, {rate: usdToUah}},
	{storages.CurrencyETH, storages.CurrencyUSD}: {{rate: ethToUsd}},
}

// Convert переводит сумму из одной валюты в другую и округляет до точности целевой валюты
func Convert(amount decimal.Decimal, from, to storages.Currency, rates storages.RateTriple) (decimal.Decimal, error) {
	if from == to {
		return to.Round(amount), nil
	}

	hops, ok := conversions[currencyPair{from, to}]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s to %s", ErrUnsupportedConversion, from, to)
	}

	result := amount
	for _, h := range hops {
		if h.divide {
			result = result.Div(h.rate(rates))
		} else {
			result = result.Mul(h.rate(rates))
		}
	}
	return to.Round(result), nil
}

// usdValue оценивает сумму в долларах без округления
func usdValue(amount decimal.Decimal, currency storages.Currency, rates storages.RateTriple) decimal.Decimal {
	switch currency {
	case storages.CurrencyUAH:
		return amount.Div(rates.USDToUAH)
	case storages.CurrencyBTC:
		return amount.Mul(rates.BTCToUSD)
	case storages.CurrencyETH:
		return amount.Mul(rates.ETHToUSD)
	default:
		return amount
	}
}

// btcValue оценивает сумму в BTC через доллар, с точностью BTC
func btcValue(amount decimal.Decimal, currency storages.Currency, rates storages.RateTriple) decimal.Decimal {
	if currency == storages.CurrencyBTC {
		return storages.CurrencyBTC.Round(amount)
	}
	return storages.CurrencyBTC.Round(usdValue(amount, currency, rates).Div(rates.BTCToUSD))
}

// needsRates сообщает, нужны ли курсы, чтобы оценить сумму в BTC
func needsRates(currency storages.Currency) bool {
	return currency != storages.CurrencyBTC
}
