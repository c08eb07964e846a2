package service

import (
	"context"
	"io"
	"strings"
	"testing"

	"card-ledger/internal/cache"
	"card-ledger/internal/ledger"
	"card-ledger/internal/storages"
	"card-ledger/internal/storages/memory"
	"card-ledger/pkg"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestService(t *testing.T, withRates bool) (*LedgerService, *memory.Storage) {
	t.Helper()
	logger := testLogger()
	store := memory.New()
	rates := cache.NewRatesCache(nil, logger)
	if withRates {
		_, err := rates.Record(context.Background(), storages.RateTriple{
			USDToUAH: decimal.RequireFromString("40.5"),
			BTCToUSD: decimal.RequireFromString("50000"),
			ETHToUSD: decimal.RequireFromString("2500"),
		})
		require.NoError(t, err)
	}

	engine := ledger.NewEngine(store, rates, ledger.Config{}, logger)
	svc := NewLedgerService(store, engine, rates, logger, WithPasswordCost(bcrypt.MinCost))
	return svc, store
}

func seedUser(t *testing.T, store *memory.Storage, username string, accounts ...*storages.Account) {
	t.Helper()
	require.NoError(t, store.CreateUserWithAccounts(context.Background(), &storages.User{Username: username}, accounts))
}

func TestRegisterUser(t *testing.T) {
	svc, store := newTestService(t, true)
	ctx := context.Background()

	user, accounts, err := svc.RegisterUser(ctx, "alice", "s3cret-pass")
	require.NoError(t, err)
	require.Len(t, accounts, 3)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("s3cret-pass")))

	prefixes := map[storages.AccountKind]string{
		storages.AccountKindCrypto: pkg.CryptoCardPrefix,
		storages.AccountKindUSD:    pkg.USDCardPrefix,
		storages.AccountKindUAH:    pkg.UAHCardPrefix,
	}
	for _, a := range accounts {
		assert.Equal(t, user.ID, a.UserID)
		assert.True(t, strings.HasPrefix(a.Number, prefixes[a.Kind]), a.Number)
		assert.True(t, a.Balance.IsZero())
		if a.IsCrypto() {
			assert.True(t, pkg.ValidateCryptoAddress(a.BTCAddress, "btc"))
			assert.True(t, pkg.ValidateCryptoAddress(a.ETHAddress, "eth"))
		}
	}

	stored, err := svc.GetUserAccounts(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	found, err := store.FindAccount(ctx, accounts[0].BTCAddress)
	require.NoError(t, err)
	assert.Equal(t, accounts[0].ID, found.ID)

	_, _, err = svc.RegisterUser(ctx, "alice", "another-pass")
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestEnsureRegulator(t *testing.T) {
	svc, _ := newTestService(t, true)
	ctx := context.Background()

	first, err := svc.EnsureRegulator(ctx, "regulator", "pass")
	require.NoError(t, err)
	assert.True(t, first.IsRegulator)

	second, err := svc.EnsureRegulator(ctx, "other", "pass")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "regulator", second.Username)
}

func TestTransfer(t *testing.T) {
	svc, store := newTestService(t, true)
	ctx := context.Background()
	_, err := svc.EnsureRegulator(ctx, "regulator", "pass")
	require.NoError(t, err)

	usd := &storages.Account{Kind: storages.AccountKindUSD, Number: "4112000000000001", Expiry: "10/29", Balance: decimal.NewFromInt(100)}
	crypto := &storages.Account{Kind: storages.AccountKindCrypto, Number: "4111000000000001", Expiry: "10/29", BTCBalance: decimal.RequireFromString("0.0005")}
	seedUser(t, store, "alice", usd, crypto)
	uah := &storages.Account{Kind: storages.AccountKindUAH, Number: "4113000000000002", Expiry: "10/29"}
	bobCrypto := &storages.Account{Kind: storages.AccountKindCrypto, Number: "4111000000000002", Expiry: "10/29"}
	seedUser(t, store, "bob", uah, bobCrypto)

	t.Run("fiat", func(t *testing.T) {
		result := svc.Transfer(ctx, TransferInput{
			FromAccountID: usd.ID,
			Destination:   uah.Number,
			Amount:        decimal.NewFromInt(50),
			Kind:          TransferKindFiat,
		})
		require.True(t, result.Success, result.Error)
		require.NotNil(t, result.Transaction)
		assert.True(t, decimal.RequireFromString("2025").Equal(result.Transaction.ConvertedAmount))
	})

	t.Run("insufficient funds is reported in result", func(t *testing.T) {
		result := svc.Transfer(ctx, TransferInput{
			FromAccountID: crypto.ID,
			Destination:   bobCrypto.Number,
			Amount:        decimal.RequireFromString("0.001"),
			Kind:          TransferKindCrypto,
			CryptoAsset:   "btc",
		})
		assert.False(t, result.Success)
		assert.Nil(t, result.Transaction)
		assert.Contains(t, result.Error, "available: 0.00050000 BTC")
		var funds *ledger.InsufficientFundsError
		assert.ErrorAs(t, result.Err, &funds)
	})

	t.Run("unknown asset", func(t *testing.T) {
		result := svc.Transfer(ctx, TransferInput{
			FromAccountID: crypto.ID,
			Destination:   bobCrypto.Number,
			Amount:        decimal.RequireFromString("0.0001"),
			Kind:          TransferKindCrypto,
			CryptoAsset:   "doge",
		})
		assert.False(t, result.Success)
		var ve *ledger.ValidationError
		assert.ErrorAs(t, result.Err, &ve)
	})

	t.Run("unknown kind", func(t *testing.T) {
		result := svc.Transfer(ctx, TransferInput{FromAccountID: usd.ID, Destination: uah.Number, Amount: decimal.NewFromInt(1), Kind: "wire"})
		assert.False(t, result.Success)
		var ve *ledger.ValidationError
		assert.ErrorAs(t, result.Err, &ve)
	})

	txs, err := svc.ListTransactions(ctx, []int64{usd.ID}, 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, storages.TransactionKindCommission, txs[0].Kind)
	assert.Equal(t, storages.TransactionKindTransfer, txs[1].Kind)

	limited, err := svc.ListTransactions(ctx, []int64{usd.ID, uah.ID}, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = svc.ListTransactions(ctx, nil, 0)
	var ve *ledger.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestGetTransaction(t *testing.T) {
	svc, store := newTestService(t, true)
	ctx := context.Background()
	_, err := svc.EnsureRegulator(ctx, "regulator", "pass")
	require.NoError(t, err)

	usd := &storages.Account{Kind: storages.AccountKindUSD, Number: "4112000000000001", Expiry: "10/29", Balance: decimal.NewFromInt(100)}
	seedUser(t, store, "alice", usd)
	uah := &storages.Account{Kind: storages.AccountKindUAH, Number: "4113000000000002", Expiry: "10/29"}
	seedUser(t, store, "bob", uah)

	result := svc.Transfer(ctx, TransferInput{FromAccountID: usd.ID, Destination: uah.Number, Amount: decimal.NewFromInt(50)})
	require.True(t, result.Success, result.Error)

	tx, err := svc.GetTransaction(ctx, result.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, storages.TransactionStatusCompleted, tx.Status)
	assert.Equal(t, storages.TransactionKindTransfer, tx.Kind)
	assert.True(t, decimal.NewFromInt(50).Equal(tx.Amount))
	assert.True(t, decimal.RequireFromString("2025").Equal(tx.ConvertedAmount))

	_, err = svc.GetTransaction(ctx, 999)
	var nf *ledger.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "transaction", nf.Entity)

	_, err = svc.GetTransaction(ctx, 0)
	var ve *ledger.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestCreateExchange(t *testing.T) {
	svc, store := newTestService(t, true)
	ctx := context.Background()
	_, err := svc.EnsureRegulator(ctx, "regulator", "pass")
	require.NoError(t, err)

	crypto := &storages.Account{Kind: storages.AccountKindCrypto, Number: "4111000000000001", Expiry: "10/29", BTCBalance: decimal.NewFromInt(1)}
	usd := &storages.Account{Kind: storages.AccountKindUSD, Number: "4112000000000001", Expiry: "10/29"}
	seedUser(t, store, "alice", crypto, usd)

	tx, err := svc.CreateExchange(ctx, ExchangeInput{
		FromCurrency:        "btc",
		ToCurrency:          "usd",
		FromAmount:          decimal.RequireFromString("0.1"),
		DestinationAccount:  usd.Number,
		SourceCryptoAccount: crypto.ID,
	})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(5000).Equal(tx.ConvertedAmount))

	_, err = svc.CreateExchange(ctx, ExchangeInput{FromCurrency: "xrp", ToCurrency: "usd", FromAmount: decimal.NewFromInt(1), DestinationAccount: usd.Number, SourceCryptoAccount: crypto.ID})
	var ve *ledger.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestGetLatestRates(t *testing.T) {
	svc, _ := newTestService(t, false)
	_, err := svc.GetLatestRates(context.Background())
	assert.ErrorIs(t, err, ledger.ErrRatesUnavailable)

	svc, _ = newTestService(t, true)
	snapshot, err := svc.GetLatestRates(context.Background())
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("40.5").Equal(snapshot.USDToUAH))
}

func TestDeleteUser(t *testing.T) {
	svc, store := newTestService(t, true)
	ctx := context.Background()

	regulator, err := svc.EnsureRegulator(ctx, "regulator", "pass")
	require.NoError(t, err)
	assert.ErrorIs(t, svc.DeleteUser(ctx, regulator.ID), ErrRegulatorProtected)

	usd := &storages.Account{Kind: storages.AccountKindUSD, Number: "4112000000000001", Expiry: "10/29", Balance: decimal.NewFromInt(100)}
	seedUser(t, store, "alice", usd)
	uah := &storages.Account{Kind: storages.AccountKindUAH, Number: "4113000000000002", Expiry: "10/29"}
	seedUser(t, store, "bob", uah)

	result := svc.Transfer(ctx, TransferInput{FromAccountID: usd.ID, Destination: uah.Number, Amount: decimal.NewFromInt(10), Kind: TransferKindFiat})
	require.True(t, result.Success, result.Error)

	assert.ErrorIs(t, svc.DeleteUser(ctx, usd.UserID), ErrUserHasHistory)

	fresh, _, err := svc.RegisterUser(ctx, "carol", "pass")
	require.NoError(t, err)
	require.NoError(t, svc.DeleteUser(ctx, fresh.ID))

	var nf *ledger.NotFoundError
	assert.ErrorAs(t, svc.DeleteUser(ctx, fresh.ID), &nf)
	_, err = svc.GetUserAccounts(ctx, fresh.ID)
	assert.ErrorAs(t, err, &nf)
}
