package pkg

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/go-playground/validator/v10"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// p2pkhVersion байт версии для mainnet P2PKH адресов
const p2pkhVersion = 0x00

var validate = validator.New()

// ValidateCryptoAddress проверяет формат адреса для актива btc или eth.
// BTC: base58check (P2PKH, P2SH) или bech32. ETH: 0x и 40 hex символов.
func ValidateCryptoAddress(address, asset string) bool {
	var tag string
	switch strings.ToLower(strings.TrimSpace(asset)) {
	case "btc":
		tag = "required,btc_addr|btc_addr_bech32"
	case "eth":
		tag = "required,eth_addr"
	default:
		return false
	}
	return validate.Var(address, tag) == nil
}

// GenerateBTCAddress генерирует депозитный P2PKH адрес
func GenerateBTCAddress() (string, error) {
	payload := make([]byte, 21)
	payload[0] = p2pkhVersion
	if _, err := rand.Read(payload[1:]); err != nil {
		return "", fmt.Errorf("failed to generate btc address: %w", err)
	}

	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return base58Encode(append(payload, second[:4]...)), nil
}

// GenerateETHAddress генерирует депозитный адрес в нижнем регистре
func GenerateETHAddress() (string, error) {
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate eth address: %w", err)
	}
	return "0x" + hex.EncodeToString(raw), nil
}

func base58Encode(b []byte) string {
	x := new(big.Int).SetBytes(b)
	base := big.NewInt(58)
	mod := new(big.Int)

	out := make([]byte, 0, len(b)*138/100+1)
	for x.Sign() > 0 {
		x.DivMod(x, base, mod)
		out = append(out, base58Alphabet[mod.Int64()])
	}
	// ведущие нулевые байты кодируются символом '1'
	for _, c := range b {
		if c != 0 {
			break
		}
		out = append(out, base58Alphabet[0])
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}
