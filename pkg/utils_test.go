package pkg

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCardNumbers(t *testing.T) {
	assert.Equal(t, "4112000000000001", NormalizeCardNumber("4112 0000 0000 0001"))
	assert.Equal(t, "4112000000000001", NormalizeCardNumber("4112-0000-0000-0001"))

	assert.NoError(t, ValidateCardNumber("4112000000000001"))
	assert.Error(t, ValidateCardNumber("411200000000001"))
	assert.Error(t, ValidateCardNumber("4112a00000000001"))

	assert.Equal(t, "4112 **** **** 0001", MaskCardNumber("4112000000000001"))

	for _, prefix := range []string{CryptoCardPrefix, USDCardPrefix, UAHCardPrefix} {
		number, err := GenerateCardNumber(prefix)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(number, prefix))
		assert.NoError(t, ValidateCardNumber(number))
	}
}

func TestCardExpiry(t *testing.T) {
	issued := time.Date(2026, time.October, 16, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "10/29", CardExpiry(issued))
}

func TestAmountValidation(t *testing.T) {
	assert.NoError(t, ValidateAmount(decimal.RequireFromString("0.01")))
	assert.Error(t, ValidateAmount(decimal.Zero))
	assert.Error(t, ValidateAmount(decimal.RequireFromString("-1")))

	assert.NoError(t, ValidatePrecision(decimal.RequireFromString("10.50"), 2))
	assert.NoError(t, ValidatePrecision(decimal.RequireFromString("0.00000001"), 8))
	assert.Error(t, ValidatePrecision(decimal.RequireFromString("10.505"), 2))
}

func TestValidateCryptoAddress(t *testing.T) {
	tests := []struct {
		address string
		asset   string
		valid   bool
	}{
		{"1BoatSLRHtKNngkdXEeobR76b53LETtpyT", "btc", true},
		{"bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", "BTC", true},
		{"1BoatSLRHtKNngkdXEeobR76b53LETtpyX", "btc", false},
		{"abcdefghij", "btc", false},
		{"0x52908400098527886e0f7030069857d2e4169ee7", "eth", true},
		{"0x5290840009852788", "eth", false},
		{"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", "eth", true},
		{"bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", "eth", false},
		{"52908400098527886e0f7030069857d2e4169ee7", "eth", false},
		{"0x52908400098527886e0f7030069857d2e4169ee7", "doge", false},
		{"", "btc", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.valid, ValidateCryptoAddress(tt.address, tt.asset), "%s/%s", tt.asset, tt.address)
	}
}

func TestGenerateAddresses(t *testing.T) {
	for i := 0; i < 20; i++ {
		btc, err := GenerateBTCAddress()
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(btc, "1"), btc)
		assert.True(t, ValidateCryptoAddress(btc, "btc"), btc)

		eth, err := GenerateETHAddress()
		require.NoError(t, err)
		assert.Len(t, eth, 42)
		assert.True(t, ValidateCryptoAddress(eth, "eth"), eth)
	}
}

func TestBase58Encode(t *testing.T) {
	assert.Equal(t, "", base58Encode(nil))
	assert.Equal(t, "11", base58Encode([]byte{0, 0}))
	assert.Equal(t, "2g", base58Encode([]byte("a")))
	assert.Equal(t, "StV1DL6CwTryKyV", base58Encode([]byte("hello world")))
}
