package pkg

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const cardNumberLength = 16

// Префиксы номеров карт по типу
const (
	CryptoCardPrefix = "4111"
	USDCardPrefix    = "4112"
	UAHCardPrefix    = "4113"
)

// CardValidityYears срок действия выпускаемых карт
const CardValidityYears = 3

// NormalizeCardNumber убирает пробелы и дефисы из номера карты
func NormalizeCardNumber(number string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' || r == '\t' {
			return -1
		}
		return r
	}, number)
}

// ValidateCardNumber проверяет, что номер состоит ровно из 16 цифр
func ValidateCardNumber(number string) error {
	if len(number) != cardNumberLength {
		return fmt.Errorf("card number must contain %d digits", cardNumberLength)
	}
	for _, r := range number {
		if r < '0' || r > '9' {
			return fmt.Errorf("card number must contain only digits")
		}
	}
	return nil
}

// MaskCardNumber скрывает середину номера карты: 4112 **** **** 0001
func MaskCardNumber(number string) string {
	if len(number) != cardNumberLength {
		return number
	}
	return number[:4] + " **** **** " + number[12:]
}

// GenerateCardNumber генерирует номер карты с заданным префиксом
func GenerateCardNumber(prefix string) (string, error) {
	width := cardNumberLength - len(prefix)
	if width <= 0 {
		return "", fmt.Errorf("card prefix %q is too long", prefix)
	}

	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(width)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("failed to generate card number: %w", err)
	}
	return fmt.Sprintf("%s%0*d", prefix, width, n.Int64()), nil
}

// CardExpiry возвращает срок действия карты в формате MM/YY
func CardExpiry(issued time.Time) string {
	return issued.AddDate(CardValidityYears, 0, 0).Format("01/06")
}

// ValidateAmount проверяет, что сумма положительная
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

// ValidatePrecision проверяет, что у суммы не больше places знаков после запятой
func ValidatePrecision(amount decimal.Decimal, places int32) error {
	if !amount.Equal(amount.Truncate(places)) {
		return fmt.Errorf("amount %s has more than %d decimal places", amount, places)
	}
	return nil
}

// FormatDuration форматирует duration в удобочитаемый формат
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.2fm", d.Minutes())
	}
	return fmt.Sprintf("%.2fh", d.Hours())
}
