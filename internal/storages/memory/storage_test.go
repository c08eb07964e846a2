package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"card-ledger/internal/storages"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s *Storage, username string, number string, balance string) *storages.Account {
	t.Helper()
	account := &storages.Account{
		Kind:    storages.AccountKindUSD,
		Number:  number,
		Expiry:  "10/29",
		Balance: decimal.RequireFromString(balance),
	}
	require.NoError(t, s.CreateUserWithAccounts(context.Background(), &storages.User{Username: username}, []*storages.Account{account}))
	return account
}

func TestCreateUserWithAccounts_Conflicts(t *testing.T) {
	s := New()
	ctx := context.Background()

	seed(t, s, "alice", "4112000000000001", "0")

	err := s.CreateUserWithAccounts(ctx, &storages.User{Username: "alice"}, nil)
	assert.ErrorIs(t, err, storages.ErrConflict)

	err = s.CreateUserWithAccounts(ctx, &storages.User{Username: "bob"}, []*storages.Account{
		{Kind: storages.AccountKindUAH, Number: "4112000000000001"},
	})
	assert.ErrorIs(t, err, storages.ErrConflict)

	require.NoError(t, s.CreateUserWithAccounts(ctx, &storages.User{Username: "reg", IsRegulator: true}, nil))
	err = s.CreateUserWithAccounts(ctx, &storages.User{Username: "reg2", IsRegulator: true}, nil)
	assert.ErrorIs(t, err, storages.ErrConflict)

	_, err = s.GetUserByUsername(ctx, "bob")
	assert.ErrorIs(t, err, storages.ErrNotFound)
}

func TestRunInTx_CommitAndRollback(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := seed(t, s, "alice", "4112000000000001", "100")

	err := s.RunInTx(ctx, func(tx storages.Tx) error {
		if _, err := tx.LockAccounts(ctx, a.ID); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, a.ID, decimal.RequireFromString("40")); err != nil {
			return err
		}

		// изменения не видны снаружи до фиксации
		outside, err := s.GetAccountByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, "100", outside.Balance.String())

		return errors.New("abort")
	})
	require.Error(t, err)

	got, err := s.GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "100", got.Balance.String())

	err = s.RunInTx(ctx, func(tx storages.Tx) error {
		if _, err := tx.LockAccounts(ctx, a.ID); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, a.ID, decimal.RequireFromString("40")); err != nil {
			return err
		}
		return tx.AppendTransaction(ctx, &storages.Transaction{FromAccountID: a.ID, Kind: storages.TransactionKindTransfer})
	})
	require.NoError(t, err)

	got, err = s.GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "40", got.Balance.String())

	txs, err := s.ListTransactions(ctx, []int64{a.ID}, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, int64(1), txs[0].ID)
	assert.Equal(t, storages.TransactionStatusCompleted, txs[0].Status)
}

func TestRunInTx_RejectsUnlockedAndNegativeWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := seed(t, s, "alice", "4112000000000001", "10")

	err := s.RunInTx(ctx, func(tx storages.Tx) error {
		return tx.SetBalance(ctx, a.ID, decimal.Zero)
	})
	assert.Error(t, err)

	err = s.RunInTx(ctx, func(tx storages.Tx) error {
		if _, err := tx.LockAccounts(ctx, a.ID); err != nil {
			return err
		}
		return tx.SetBalance(ctx, a.ID, decimal.RequireFromString("-0.01"))
	})
	assert.Error(t, err)

	err = s.RunInTx(ctx, func(tx storages.Tx) error {
		_, err := tx.LockRegulator(ctx)
		return err
	})
	assert.ErrorIs(t, err, storages.ErrNotFound)
}

func TestRunInTx_FaultHook(t *testing.T) {
	injected := errors.New("disk full")
	s := New(WithFaultHook(func(op string) error {
		if op == "append_transaction" {
			return injected
		}
		return nil
	}))
	ctx := context.Background()
	a := seed(t, s, "alice", "4112000000000001", "10")

	err := s.RunInTx(ctx, func(tx storages.Tx) error {
		if _, err := tx.LockAccounts(ctx, a.ID); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, a.ID, decimal.Zero); err != nil {
			return err
		}
		return tx.AppendTransaction(ctx, &storages.Transaction{FromAccountID: a.ID})
	})
	assert.ErrorIs(t, err, injected)

	got, err := s.GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "10", got.Balance.String())
}

func TestAppendTransaction_GapFreeUnderConcurrency(t *testing.T) {
	s := New()
	ctx := context.Background()

	const workers = 20
	accounts := make([]*storages.Account, workers)
	for i := range accounts {
		accounts[i] = seed(t, s, fmt.Sprintf("user%d", i), fmt.Sprintf("4112%012d", i), "1")
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(a *storages.Account) {
			defer wg.Done()
			_ = s.RunInTx(ctx, func(tx storages.Tx) error {
				if err := tx.AppendTransaction(ctx, &storages.Transaction{FromAccountID: a.ID}); err != nil {
					return err
				}
				return tx.AppendTransaction(ctx, &storages.Transaction{FromAccountID: a.ID})
			})
		}(accounts[i])
	}
	wg.Wait()

	ids := make([]int64, 0, 2*workers)
	for _, a := range accounts {
		txs, err := s.ListTransactions(ctx, []int64{a.ID}, 0)
		require.NoError(t, err)
		require.Len(t, txs, 2)
		assert.Equal(t, txs[0].ID, txs[1].ID+1, "records of one unit of work are adjacent")
		for _, tx := range txs {
			ids = append(ids, tx.ID)
		}
	}

	seen := make(map[int64]bool)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	for id := int64(1); id <= 2*workers; id++ {
		assert.True(t, seen[id], "missing id %d", id)
	}
}

func TestDeleteUser(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := seed(t, s, "alice", "4112000000000001", "10")
	b := seed(t, s, "bob", "4112000000000002", "10")

	require.NoError(t, s.RunInTx(ctx, func(tx storages.Tx) error {
		return tx.AppendTransaction(ctx, &storages.Transaction{FromAccountID: a.ID})
	}))

	assert.ErrorIs(t, s.DeleteUser(ctx, a.UserID), storages.ErrHasHistory)
	require.NoError(t, s.DeleteUser(ctx, b.UserID))
	assert.ErrorIs(t, s.DeleteUser(ctx, b.UserID), storages.ErrNotFound)

	_, err := s.GetAccountByID(ctx, b.ID)
	assert.ErrorIs(t, err, storages.ErrNotFound)
}

func TestDeleteUser_WaitsForInFlightTransfer(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := seed(t, s, "alice", "4112000000000001", "10")

	deleted := make(chan error, 1)
	err := s.RunInTx(ctx, func(tx storages.Tx) error {
		if _, err := tx.LockAccounts(ctx, a.ID); err != nil {
			return err
		}
		go func() { deleted <- s.DeleteUser(ctx, a.UserID) }()

		select {
		case err := <-deleted:
			return fmt.Errorf("delete finished while account was locked: %v", err)
		case <-time.After(50 * time.Millisecond):
		}
		return tx.SetBalance(ctx, a.ID, decimal.RequireFromString("25"))
	})
	require.NoError(t, err)

	select {
	case err := <-deleted:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("delete did not finish after commit")
	}

	_, err = s.GetAccountByID(ctx, a.ID)
	assert.ErrorIs(t, err, storages.ErrNotFound)
	accounts, err := s.GetAccountsByUser(ctx, a.UserID)
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestCommit_SkipsDeletedAccount(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := seed(t, s, "alice", "4112000000000001", "10")

	tx := &memTx{s: s, accounts: make(map[int64]*storages.Account)}
	_, err := tx.LockAccounts(ctx, a.ID)
	require.NoError(t, err)
	require.NoError(t, tx.SetBalance(ctx, a.ID, decimal.RequireFromString("5")))
	tx.release()

	require.NoError(t, s.DeleteUser(ctx, a.UserID))
	tx.commit()

	_, err = s.GetAccountByID(ctx, a.ID)
	assert.ErrorIs(t, err, storages.ErrNotFound)
}

func TestGetTransaction(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := seed(t, s, "alice", "4112000000000001", "10")

	require.NoError(t, s.RunInTx(ctx, func(tx storages.Tx) error {
		for i := 0; i < 3; i++ {
			rec := &storages.Transaction{FromAccountID: a.ID, Kind: storages.TransactionKindTransfer, Amount: decimal.NewFromInt(int64(i + 1))}
			if err := tx.AppendTransaction(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	}))

	rec, err := s.GetTransaction(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.ID)
	assert.True(t, decimal.NewFromInt(2).Equal(rec.Amount))

	_, err = s.GetTransaction(ctx, 4)
	assert.ErrorIs(t, err, storages.ErrNotFound)
	_, err = s.GetTransaction(ctx, 0)
	assert.ErrorIs(t, err, storages.ErrNotFound)
}

func TestSnapshots(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.LatestSnapshot(ctx)
	assert.ErrorIs(t, err, storages.ErrNotFound)

	for _, rate := range []string{"39", "40", "41"} {
		_, err := s.SaveSnapshot(ctx, storages.RateTriple{
			USDToUAH: decimal.RequireFromString(rate),
			BTCToUSD: decimal.NewFromInt(60000),
			ETHToUSD: decimal.NewFromInt(3000),
		})
		require.NoError(t, err)
	}

	deleted, err := s.PruneSnapshots(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	latest, err := s.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "41", latest.USDToUAH.String())
	assert.Equal(t, int64(3), latest.ID)
}

func TestFindAccount(t *testing.T) {
	s := New()
	ctx := context.Background()

	crypto := &storages.Account{
		Kind:       storages.AccountKindCrypto,
		Number:     "4111000000000001",
		BTCAddress: "1BoatSLRHtKNngkdXEeobR76b53LETtpyT",
		ETHAddress: "0x52908400098527886e0f7030069857d2e4169ee7",
	}
	require.NoError(t, s.CreateUserWithAccounts(ctx, &storages.User{Username: "alice"}, []*storages.Account{crypto}))

	for _, ref := range []string{crypto.Number, crypto.BTCAddress, crypto.ETHAddress} {
		got, err := s.FindAccount(ctx, ref)
		require.NoError(t, err, ref)
		assert.Equal(t, crypto.ID, got.ID)
	}

	_, err := s.FindAccount(ctx, "unknown")
	assert.ErrorIs(t, err, storages.ErrNotFound)
}
