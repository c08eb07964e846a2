package postgres

import (
	"context"
	"errors"
	"io"
	"regexp"
	"testing"
	"time"

	"card-ledger/internal/storages"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var accountRowColumns = []string{
	"id", "user_id", "kind", "number", "expiry", "balance", "btc_balance", "eth_balance",
	"btc_address", "eth_address", "created_at",
}

func newTestStorage(t *testing.T) (*PostgresStorage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewWithDB(db, logger), mock
}

func TestRunInTx_CommitsTransfer(t *testing.T) {
	s, mock := newTestStorage(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows(accountRowColumns).
			AddRow(2, 1, "usd", "4112000000000001", "10/29", "100.00", "0", "0", nil, nil, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(accountRowColumns).
			AddRow(5, 3, "uah", "4113000000000002", "10/29", "0", "0", "0", nil, nil, now))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET balance = $1 WHERE id = $2")).
		WithArgs(sqlmock.AnyArg(), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1)")).
		WithArgs(transactionLogLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(id), 0) + 1 FROM transactions")).
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(8))
	mock.ExpectQuery("INSERT INTO transactions").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(id), 0) + 1 FROM transactions")).
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(9))
	mock.ExpectQuery("INSERT INTO transactions").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectCommit()

	var principal, commission storages.Transaction
	err := s.RunInTx(context.Background(), func(tx storages.Tx) error {
		locked, err := tx.LockAccounts(context.Background(), 5, 2, 5)
		if err != nil {
			return err
		}
		assert.Len(t, locked, 2)
		assert.True(t, decimal.RequireFromString("100").Equal(locked[2].Balance))
		assert.Empty(t, locked[2].BTCAddress)

		if err := tx.SetBalance(context.Background(), 2, decimal.RequireFromString("49.50")); err != nil {
			return err
		}
		if err := tx.AppendTransaction(context.Background(), &principal); err != nil {
			return err
		}
		return tx.AppendTransaction(context.Background(), &commission)
	})

	require.NoError(t, err)
	assert.Equal(t, int64(8), principal.ID)
	assert.Equal(t, int64(9), commission.ID)
	assert.Equal(t, storages.TransactionStatusCompleted, principal.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTx_RollsBackOnError(t *testing.T) {
	s, mock := newTestStorage(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET balance = $1 WHERE id = $2")).
		WithArgs(sqlmock.AnyArg(), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := s.RunInTx(context.Background(), func(tx storages.Tx) error {
		if err := tx.SetBalance(context.Background(), 1, decimal.Zero); err != nil {
			return err
		}
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTx_CommitFailure(t *testing.T) {
	s, mock := newTestStorage(t)

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("connection reset"))

	err := s.RunInTx(context.Background(), func(storages.Tx) error { return nil })

	assert.ErrorIs(t, err, storages.ErrCommit)
	assert.False(t, storages.IsTransient(err))
}

func TestLockAccounts_NotFound(t *testing.T) {
	s, mock := newTestStorage(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(accountRowColumns))
	mock.ExpectRollback()

	err := s.RunInTx(context.Background(), func(tx storages.Tx) error {
		_, err := tx.LockAccounts(context.Background(), 42)
		return err
	})

	assert.ErrorIs(t, err, storages.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetCryptoBalance(t *testing.T) {
	s, mock := newTestStorage(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET eth_balance = $1 WHERE id = $2 AND kind = 'crypto'")).
		WithArgs(sqlmock.AnyArg(), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.RunInTx(context.Background(), func(tx storages.Tx) error {
		return tx.SetCryptoBalance(context.Background(), 3, storages.CurrencyETH, decimal.RequireFromString("0.5"))
	})

	assert.ErrorIs(t, err, storages.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		conflict  bool
	}{
		{"serialization failure", &pq.Error{Code: "40001"}, true, false},
		{"deadlock", &pq.Error{Code: "40P01"}, true, false},
		{"connection failure", &pq.Error{Code: "08006"}, true, false},
		{"unique violation", &pq.Error{Code: "23505"}, false, true},
		{"check violation", &pq.Error{Code: "23514"}, false, false},
		{"plain error", errors.New("syntax"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("op", tt.err)
			assert.Equal(t, tt.transient, storages.IsTransient(err))
			assert.Equal(t, tt.conflict, errors.Is(err, storages.ErrConflict))
		})
	}
}

func TestListTransactions(t *testing.T) {
	s, mock := newTestStorage(t)
	now := time.Now()

	columns := []string{
		"id", "from_account_id", "to_account_id", "beneficiary_user_id", "from_number", "to_number",
		"amount", "currency", "converted_amount", "converted_currency", "kind", "status", "description", "wallet", "created_at",
	}
	mock.ExpectQuery(regexp.QuoteMeta("WHERE from_account_id = ANY($1) OR to_account_id = ANY($1) ORDER BY id DESC LIMIT $2")).
		WithArgs(sqlmock.AnyArg(), 10).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(2, 1, nil, 7, "4112000000000001", storages.RegulatorMarker, "0.50", "USD", "0.00000732", "BTC",
				"commission", "completed", "Commission", "", now).
			AddRow(1, 1, 2, nil, "4112000000000001", "4113000000000002", "50.00", "USD", "2025.00", "UAH",
				"transfer", "completed", "Transfer", "", now))

	txs, err := s.ListTransactions(context.Background(), []int64{1}, 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)

	assert.Equal(t, int64(2), txs[0].ID)
	assert.Nil(t, txs[0].ToAccountID)
	require.NotNil(t, txs[0].BeneficiaryUserID)
	assert.Equal(t, int64(7), *txs[0].BeneficiaryUserID)
	assert.Equal(t, storages.TransactionKindCommission, txs[0].Kind)

	require.NotNil(t, txs[1].ToAccountID)
	assert.Equal(t, int64(2), *txs[1].ToAccountID)
	assert.True(t, decimal.RequireFromString("2025").Equal(txs[1].ConvertedAmount))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListTransactions_NoAccounts(t *testing.T) {
	s, mock := newTestStorage(t)

	txs, err := s.ListTransactions(context.Background(), nil, 0)
	assert.NoError(t, err)
	assert.Empty(t, txs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTransaction(t *testing.T) {
	columns := []string{
		"id", "from_account_id", "to_account_id", "beneficiary_user_id", "from_number", "to_number",
		"amount", "currency", "converted_amount", "converted_currency", "kind", "status", "description", "wallet", "created_at",
	}

	t.Run("found", func(t *testing.T) {
		s, mock := newTestStorage(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM transactions WHERE id = $1")).
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow(5, 1, 2, nil, "4112000000000001", "4113000000000002", "50.00", "USD", "2025.00", "UAH",
					"transfer", "completed", "Transfer", "", time.Now()))

		tx, err := s.GetTransaction(context.Background(), 5)
		require.NoError(t, err)
		assert.Equal(t, int64(5), tx.ID)
		assert.Equal(t, storages.TransactionStatusCompleted, tx.Status)
		assert.True(t, decimal.RequireFromString("2025").Equal(tx.ConvertedAmount))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		s, mock := newTestStorage(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM transactions WHERE id = $1")).
			WithArgs(int64(6)).
			WillReturnRows(sqlmock.NewRows(columns))

		_, err := s.GetTransaction(context.Background(), 6)
		assert.ErrorIs(t, err, storages.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDeleteUser(t *testing.T) {
	t.Run("refuses user with history", func(t *testing.T) {
		s, mock := newTestStorage(t)
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(int64(4)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		err := s.DeleteUser(context.Background(), 4)
		assert.ErrorIs(t, err, storages.ErrHasHistory)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deletes user without history", func(t *testing.T) {
		s, mock := newTestStorage(t)
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(int64(4)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE id = $1")).
			WithArgs(int64(4)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, s.DeleteUser(context.Background(), 4))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown user", func(t *testing.T) {
		s, mock := newTestStorage(t)
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(int64(4)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE id = $1")).
			WithArgs(int64(4)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, s.DeleteUser(context.Background(), 4), storages.ErrNotFound)
	})
}

func TestCreateUserWithAccounts(t *testing.T) {
	s, mock := newTestStorage(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO users").
		WithArgs("alice", "hash", false, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(11, now))
	mock.ExpectQuery("INSERT INTO accounts").
		WithArgs(int64(11), sqlmock.AnyArg(), "4111000000000001", "10/29",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "1BoatSLRHtKNngkdXEeobR76b53LETtpyT", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(21, now))
	mock.ExpectQuery("INSERT INTO accounts").
		WithArgs(int64(11), sqlmock.AnyArg(), "4112000000000001", "10/29",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), nil, nil).
		WillReturnError(&pq.Error{Code: "23505", Detail: "Key (number) already exists"})
	mock.ExpectRollback()

	user := &storages.User{Username: "alice", PasswordHash: "hash"}
	accounts := []*storages.Account{
		{Kind: storages.AccountKindCrypto, Number: "4111000000000001", Expiry: "10/29",
			BTCAddress: "1BoatSLRHtKNngkdXEeobR76b53LETtpyT", ETHAddress: "0x52908400098527886e0f7030069857d2e4169ee7"},
		{Kind: storages.AccountKindUSD, Number: "4112000000000001", Expiry: "10/29"},
	}

	err := s.CreateUserWithAccounts(context.Background(), user, accounts)
	assert.ErrorIs(t, err, storages.ErrConflict)
	assert.Equal(t, int64(21), accounts[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshots(t *testing.T) {
	s, mock := newTestStorage(t)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO exchange_rates").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(3, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM exchange_rates ORDER BY id DESC LIMIT 1")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "usd_to_uah", "btc_to_usd", "eth_to_usd", "created_at"}).
			AddRow(3, "40.5", "68290.25", "3850.75", now))
	mock.ExpectExec("DELETE FROM exchange_rates").
		WithArgs(2).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rates := storages.RateTriple{
		USDToUAH: decimal.RequireFromString("40.5"),
		BTCToUSD: decimal.RequireFromString("68290.25"),
		ETHToUSD: decimal.RequireFromString("3850.75"),
	}
	saved, err := s.SaveSnapshot(context.Background(), rates)
	require.NoError(t, err)
	assert.Equal(t, int64(3), saved.ID)

	latest, err := s.LatestSnapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, rates.USDToUAH.Equal(latest.USDToUAH))
	assert.True(t, rates.ETHToUSD.Equal(latest.ETHToUSD))

	deleted, err := s.PruneSnapshots(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	deleted, err = s.PruneSnapshots(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
