package storages

import (
	"context"
	"time"

	"card-ledger/internal/retry"
	"github.com/sirupsen/logrus"
)

// retryingStorage повторяет операции чтения при временных сбоях.
// Изменяющие операции и единицы работы передаются без повторов.
type retryingStorage struct {
	Storage
	policy retry.Policy
	logger *logrus.Logger
}

// WithRetry оборачивает хранилище политикой повторов для операций чтения
func WithRetry(s Storage, policy retry.Policy, logger *logrus.Logger) Storage {
	if policy.Retryable == nil {
		policy.Retryable = IsTransient
	}
	return &retryingStorage{Storage: s, policy: policy, logger: logger}
}

func (r *retryingStorage) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	p := r.policy
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		r.logger.Warnf("%s failed (attempt %d/%d), retrying in %s: %v", op, attempt, p.Attempts, delay, err)
	}
	return retry.Do(ctx, p, fn)
}

func (r *retryingStorage) GetUserByID(ctx context.Context, userID int64) (user *User, err error) {
	err = r.do(ctx, "get user by id", func(ctx context.Context) error {
		user, err = r.Storage.GetUserByID(ctx, userID)
		return err
	})
	return user, err
}

func (r *retryingStorage) GetUserByUsername(ctx context.Context, username string) (user *User, err error) {
	err = r.do(ctx, "get user by username", func(ctx context.Context) error {
		user, err = r.Storage.GetUserByUsername(ctx, username)
		return err
	})
	return user, err
}

func (r *retryingStorage) GetRegulator(ctx context.Context) (user *User, err error) {
	err = r.do(ctx, "get regulator", func(ctx context.Context) error {
		user, err = r.Storage.GetRegulator(ctx)
		return err
	})
	return user, err
}

func (r *retryingStorage) GetAccountByID(ctx context.Context, accountID int64) (account *Account, err error) {
	err = r.do(ctx, "get account by id", func(ctx context.Context) error {
		account, err = r.Storage.GetAccountByID(ctx, accountID)
		return err
	})
	return account, err
}

func (r *retryingStorage) GetAccountByNumber(ctx context.Context, number string) (account *Account, err error) {
	err = r.do(ctx, "get account by number", func(ctx context.Context) error {
		account, err = r.Storage.GetAccountByNumber(ctx, number)
		return err
	})
	return account, err
}

func (r *retryingStorage) FindAccount(ctx context.Context, ref string) (account *Account, err error) {
	err = r.do(ctx, "find account", func(ctx context.Context) error {
		account, err = r.Storage.FindAccount(ctx, ref)
		return err
	})
	return account, err
}

func (r *retryingStorage) GetAccountsByUser(ctx context.Context, userID int64) (accounts []Account, err error) {
	err = r.do(ctx, "get accounts by user", func(ctx context.Context) error {
		accounts, err = r.Storage.GetAccountsByUser(ctx, userID)
		return err
	})
	return accounts, err
}

func (r *retryingStorage) ListTransactions(ctx context.Context, accountIDs []int64, limit int) (txs []Transaction, err error) {
	err = r.do(ctx, "list transactions", func(ctx context.Context) error {
		txs, err = r.Storage.ListTransactions(ctx, accountIDs, limit)
		return err
	})
	return txs, err
}

func (r *retryingStorage) GetTransaction(ctx context.Context, id int64) (tx *Transaction, err error) {
	err = r.do(ctx, "get transaction", func(ctx context.Context) error {
		tx, err = r.Storage.GetTransaction(ctx, id)
		return err
	})
	return tx, err
}

func (r *retryingStorage) LatestSnapshot(ctx context.Context) (snapshot *RateSnapshot, err error) {
	err = r.do(ctx, "latest snapshot", func(ctx context.Context) error {
		snapshot, err = r.Storage.LatestSnapshot(ctx)
		return err
	})
	return snapshot, err
}

func (r *retryingStorage) PruneSnapshots(ctx context.Context, keep int) (n int64, err error) {
	err = r.do(ctx, "prune snapshots", func(ctx context.Context) error {
		n, err = r.Storage.PruneSnapshots(ctx, keep)
		return err
	})
	return n, err
}
